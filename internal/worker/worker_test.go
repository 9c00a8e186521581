package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gymops/internal/attendance"
	"gymops/internal/queue"
)

type recordingHandler struct {
	mu   sync.Mutex
	seen []attendance.CommittedEvent
	fail bool
	done chan struct{}
}

func (h *recordingHandler) HandleCommitted(_ context.Context, ev attendance.CommittedEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, ev)
	if len(h.seen) == 2 {
		close(h.done)
	}
	if h.fail {
		return errors.New("boom")
	}
	return nil
}

func TestWorkerHandlesCommittedMessages(t *testing.T) {
	q := queue.NewInMemory(8)
	h := &recordingHandler{done: make(chan struct{}), fail: true}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctx2 := context.Background()
	class := "c-1"
	first, _ := queue.NewJSON(queue.TypeAttendanceCommitted, attendance.CommittedEvent{
		Record: attendance.Record{ID: "r-1", MemberID: "m-1", LogType: attendance.Login, AttendedType: attendance.AttendedCombative, ClassID: &class},
		Day:    "2026-03-14",
	})
	second, _ := queue.NewJSON(queue.TypeAttendanceCommitted, attendance.CommittedEvent{Record: attendance.Record{ID: "r-2"}})
	_ = q.Publish(ctx2, queue.Message{Type: "other", Body: []byte("x")})
	_ = q.Publish(ctx2, queue.Message{Type: queue.TypeAttendanceCommitted, Body: []byte("{not json")})
	_ = q.Publish(ctx2, first)
	_ = q.Publish(ctx2, second)

	w := &Worker{Queue: q, Handler: h}
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not process messages")
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatal(err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.seen) != 2 || h.seen[0].Record.ID != "r-1" || *h.seen[0].Record.ClassID != "c-1" {
		t.Fatalf("unexpected events %+v", h.seen)
	}
}

type countingPinger struct {
	mu    sync.Mutex
	calls int
}

func (p *countingPinger) Health(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return errors.New("down")
}

func TestWorkerPingsFace(t *testing.T) {
	p := &countingPinger{}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	w := &Worker{Queue: queue.NewInMemory(1), Handler: &recordingHandler{done: make(chan struct{})}, Face: p, HealthEvery: 10 * time.Millisecond}
	if err := w.Run(ctx); err != nil {
		t.Fatal(err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == 0 {
		t.Fatal("face service was never pinged")
	}
}
