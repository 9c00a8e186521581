package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"gymops/internal/attendance"
	"gymops/internal/metrics"
	"gymops/internal/queue"
)

// CommitHandler applies the follow-up of a committed attendance record.
type CommitHandler interface {
	HandleCommitted(ctx context.Context, ev attendance.CommittedEvent) error
}

// Pinger checks an upstream dependency.
type Pinger interface {
	Health(ctx context.Context) error
}

// Worker drains the event queue.
type Worker struct {
	Queue   queue.Queue
	Handler CommitHandler
	Log     *slog.Logger
	// Face, when set, is pinged every HealthEvery.
	Face        Pinger
	HealthEvery time.Duration
}

// Run consumes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.Log == nil {
		w.Log = slog.Default()
	}
	messages, err := w.Queue.Consume(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for msg := range messages {
			w.handle(ctx, msg)
		}
		return nil
	})
	if w.Face != nil && w.HealthEvery > 0 {
		g.Go(func() error {
			w.watchFace(ctx)
			return nil
		})
	}
	w.Log.Info("worker started, waiting for messages")
	err = g.Wait()
	w.Log.Info("worker stopped")
	return err
}

func (w *Worker) handle(ctx context.Context, msg queue.Message) {
	if msg.Type != queue.TypeAttendanceCommitted {
		metrics.QueueMessages.WithLabelValues(msg.Type, "skipped").Inc()
		w.Log.Debug("skipping message", "type", msg.Type)
		return
	}
	var ev attendance.CommittedEvent
	if err := msg.Decode(&ev); err != nil {
		metrics.QueueMessages.WithLabelValues(msg.Type, "malformed").Inc()
		w.Log.Error("malformed message", "type", msg.Type, "err", err)
		return
	}
	if err := w.Handler.HandleCommitted(ctx, ev); err != nil {
		metrics.QueueMessages.WithLabelValues(msg.Type, "failed").Inc()
		w.Log.Error("handle committed record failed", "record_id", ev.Record.ID, "err", err)
		return
	}
	metrics.QueueMessages.WithLabelValues(msg.Type, "ok").Inc()
}

func (w *Worker) watchFace(ctx context.Context) {
	t := time.NewTicker(w.HealthEvery)
	defer t.Stop()
	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			err := w.Face.Health(ctx)
			switch {
			case err != nil && healthy:
				w.Log.Warn("face service not available", "err", err)
			case err == nil && !healthy:
				w.Log.Info("face service connected")
			}
			healthy = err == nil
		}
	}
}
