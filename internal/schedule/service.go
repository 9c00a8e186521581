package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"gymops/internal/lock"
	"gymops/internal/metrics"
)

var (
	// ErrInvalidTransition is returned for status changes other than scheduled -> cancelled|completed.
	ErrInvalidTransition = errors.New("schedule: invalid status transition")
	// ErrTrainerRequired is returned when a candidate names no trainer.
	ErrTrainerRequired = errors.New("schedule: trainer id required")
)

// Store is the persistence side of bookings.
type Store interface {
	ListDay(ctx context.Context, trainerID, date string) ([]Booking, error)
	Get(ctx context.Context, id string) (Booking, error)
	Create(ctx context.Context, b Booking, check func(existing []Booking) error) (Booking, error)
	UpdateStatus(ctx context.Context, id string, from, to Status) (bool, error)
}

// Service books trainer sessions without ever committing an overlap.
type Service struct {
	store   Store
	locker  lock.Locker
	log     *slog.Logger
	retries uint64
}

// NewService creates a booking service.
func NewService(store Store, locker lock.Locker, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, locker: locker, log: log, retries: 3}
}

// Check runs the conflict guard against the current bookings without writing.
func (s *Service) Check(ctx context.Context, c Candidate) (ConflictResult, error) {
	if c.TrainerID == "" {
		return ConflictResult{}, ErrTrainerRequired
	}
	if _, _, err := c.Range(); err != nil {
		metrics.BookingChecks.WithLabelValues("invalid").Inc()
		return ConflictResult{}, err
	}
	existing, err := s.store.ListDay(ctx, c.TrainerID, c.Date)
	if err != nil {
		return ConflictResult{}, fmt.Errorf("list bookings: %w", err)
	}
	res, err := CheckConflict(c, existing)
	if err != nil {
		return ConflictResult{}, err
	}
	observe(res)
	return res, nil
}

// Book commits c as a scheduled booking, or returns a *ConflictError naming
// the booking it overlaps. The check and the insert run under one lock per
// trainer and date.
func (s *Service) Book(ctx context.Context, c Candidate) (Booking, error) {
	if c.TrainerID == "" {
		return Booking{}, ErrTrainerRequired
	}
	start, end, err := c.Range()
	if err != nil {
		metrics.BookingChecks.WithLabelValues("invalid").Inc()
		return Booking{}, err
	}

	unlock, err := s.locker.Lock(ctx, dayKey(c.TrainerID, c.Date))
	if err != nil {
		return Booking{}, fmt.Errorf("lock trainer day: %w", err)
	}
	defer unlock()

	b := Booking{
		TrainerID: c.TrainerID,
		MemberID:  c.MemberID,
		ClassName: c.ClassName,
		Date:      c.Date,
		Start:     start,
		End:       end,
		Status:    StatusScheduled,
	}

	var created Booking
	backoff := retry.WithMaxRetries(s.retries, retry.NewExponential(20*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		b.ID = uuid.NewString()
		out, err := s.store.Create(ctx, b, func(existing []Booking) error {
			res, err := CheckConflict(c, existing)
			if err != nil {
				return err
			}
			observe(res)
			if !res.Accepted {
				return &ConflictError{Existing: *res.Conflicting}
			}
			return nil
		})
		if errors.Is(err, ErrOverlapRace) {
			s.log.Warn("overlap constraint fired after check, retrying", "trainer_id", c.TrainerID, "date", c.Date)
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		created = out
		return nil
	})
	if err != nil {
		return Booking{}, err
	}
	s.log.Info("booking created", "id", created.ID, "trainer_id", created.TrainerID,
		"date", created.Date, "start", created.Start.String(), "end", created.End.String())
	return created, nil
}

// Get returns one booking by id.
func (s *Service) Get(ctx context.Context, id string) (Booking, error) {
	return s.store.Get(ctx, id)
}

// Cancel moves a scheduled booking to cancelled.
func (s *Service) Cancel(ctx context.Context, id string) (Booking, error) {
	return s.transition(ctx, id, StatusCancelled)
}

// Complete moves a scheduled booking to completed.
func (s *Service) Complete(ctx context.Context, id string) (Booking, error) {
	return s.transition(ctx, id, StatusCompleted)
}

func (s *Service) transition(ctx context.Context, id string, to Status) (Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return Booking{}, err
	}
	if b.Status != StatusScheduled {
		return Booking{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, to)
	}
	ok, err := s.store.UpdateStatus(ctx, id, StatusScheduled, to)
	if err != nil {
		return Booking{}, err
	}
	if !ok {
		return Booking{}, fmt.Errorf("%w: booking %s changed concurrently", ErrInvalidTransition, id)
	}
	b.Status = to
	s.log.Info("booking status changed", "id", id, "status", to)
	return b, nil
}

// ListDay returns the trainer's active bookings for a date.
func (s *Service) ListDay(ctx context.Context, trainerID, date string) ([]Booking, error) {
	if trainerID == "" {
		return nil, ErrTrainerRequired
	}
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return nil, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidRange, date)
	}
	return s.store.ListDay(ctx, trainerID, date)
}

func observe(res ConflictResult) {
	if res.Accepted {
		metrics.BookingChecks.WithLabelValues("accepted").Inc()
		return
	}
	metrics.BookingChecks.WithLabelValues("rejected").Inc()
}
