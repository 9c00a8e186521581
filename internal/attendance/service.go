package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"gymops/internal/faceclient"
	"gymops/internal/live"
	"gymops/internal/lock"
	"gymops/internal/metrics"
	"gymops/internal/queue"
)

// ErrStale is returned by a Store when the member's history changed between
// the read and the conditional append.
var ErrStale = errors.New("attendance: history changed during commit")

// Store persists attendance records.
type Store interface {
	LastRecord(ctx context.Context, memberID string) (*Record, error)
	RecordsBetween(ctx context.Context, memberID string, from, to time.Time) ([]Record, error)
	// AppendRecord inserts rec only if the member's latest record still has id prevID
	// (nil for none); otherwise it returns ErrStale.
	AppendRecord(ctx context.Context, rec Record, prevID *string) error
	DayRecords(ctx context.Context, from, to time.Time) ([]Record, error)
}

// Directory answers member questions owned by the membership side of the system.
type Directory interface {
	MemberByFace(ctx context.Context, faceID string) (string, error)
	Subject(ctx context.Context, memberID string, from, to, now time.Time) (Subject, error)
	MarkEnrollmentAttended(ctx context.Context, memberID, classID string, from, to, at time.Time) (int64, error)
}

// Identifier resolves images to enrolled faces.
type Identifier interface {
	Identify(ctx context.Context, imageURL string) (*faceclient.Match, error)
	Verify(ctx context.Context, faceID, imageURL string) (bool, error)
}

// Publisher is the outbound side of the work queue.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Broadcaster pushes events to live dashboards.
type Broadcaster interface {
	Broadcast(ev live.Event)
}

// Event is one recognized presence at the kiosk.
type Event struct {
	MemberID string
	Choice   *Choice
}

// CommittedEvent is the queue payload published after a commit.
type CommittedEvent struct {
	Record Record `json:"record"`
	Day    string `json:"day"`
}

// Options carries the optional collaborators of the service.
type Options struct {
	Location   *time.Location
	Publisher  Publisher
	Live       Broadcaster
	Face       Identifier
	Logger     *slog.Logger
	Clock      func() time.Time
	MaxRetries uint64
}

// Service coordinates attendance decisions with storage.
type Service struct {
	engine  *Engine
	store   Store
	dir     Directory
	locker  lock.Locker
	pub     Publisher
	live    Broadcaster
	face    Identifier
	loc     *time.Location
	now     func() time.Time
	log     *slog.Logger
	retries uint64
}

// NewService wires the engine to its collaborators.
func NewService(engine *Engine, store Store, dir Directory, locker lock.Locker, opts Options) *Service {
	s := &Service{
		engine:  engine,
		store:   store,
		dir:     dir,
		locker:  locker,
		pub:     opts.Publisher,
		live:    opts.Live,
		face:    opts.Face,
		loc:     opts.Location,
		now:     opts.Clock,
		log:     opts.Logger,
		retries: opts.MaxRetries,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.retries == 0 {
		s.retries = 3
	}
	return s
}

// Identify resolves a kiosk event to a member id. Either faceID or imageURL must be set;
// when both are, the image is verified against the claimed face.
func (s *Service) Identify(ctx context.Context, faceID, imageURL string) (string, error) {
	switch {
	case faceID == "" && imageURL == "":
		return "", ErrMemberRequired
	case faceID == "":
		if s.face == nil {
			return "", ErrNoMatch
		}
		m, err := s.face.Identify(ctx, imageURL)
		if errors.Is(err, faceclient.ErrNoMatch) {
			return "", ErrNoMatch
		}
		if err != nil {
			return "", fmt.Errorf("identify face: %w", err)
		}
		faceID = m.FaceID
	case imageURL != "" && s.face != nil:
		ok, err := s.face.Verify(ctx, faceID, imageURL)
		if err != nil {
			return "", fmt.Errorf("verify face: %w", err)
		}
		if !ok {
			return "", ErrNoMatch
		}
	}
	return s.dir.MemberByFace(ctx, faceID)
}

// Log decides and, on Commit, persists one attendance event. Read, decide and
// write run inside the member's critical section.
func (s *Service) Log(ctx context.Context, ev Event) (Decision, error) {
	if ev.MemberID == "" {
		return nil, ErrMemberRequired
	}
	unlock, err := s.locker.Lock(ctx, "attendance:"+ev.MemberID)
	if err != nil {
		return nil, fmt.Errorf("lock member %s: %w", ev.MemberID, err)
	}
	defer unlock()

	var dec Decision
	var name string
	attempt := 0
	backoff := retry.WithMaxRetries(s.retries, retry.NewExponential(20*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if attempt > 0 {
			metrics.AttendanceCommitRetries.Inc()
		}
		attempt++
		d, n, err := s.decideAndCommit(ctx, ev)
		if errors.Is(err, ErrStale) {
			s.log.Info("attendance history changed, retrying", "member_id", ev.MemberID, "attempt", attempt)
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		dec, name = d, n
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.AttendanceDecisions.WithLabelValues(dec.Kind()).Inc()
	if c, ok := dec.(Commit); ok {
		c.Record.MemberName = name
		dec = c
		s.afterCommit(ctx, c)
	}
	return dec, nil
}

func (s *Service) decideAndCommit(ctx context.Context, ev Event) (Decision, string, error) {
	now := s.now().In(s.loc)
	from, to := DayBounds(now)

	last, err := s.store.LastRecord(ctx, ev.MemberID)
	if err != nil {
		return nil, "", fmt.Errorf("last record: %w", err)
	}
	today, err := s.store.RecordsBetween(ctx, ev.MemberID, from, to)
	if err != nil {
		return nil, "", fmt.Errorf("today's records: %w", err)
	}
	subj, err := s.dir.Subject(ctx, ev.MemberID, from, to, now)
	if err != nil {
		return nil, "", fmt.Errorf("member subject: %w", err)
	}

	dec, err := s.engine.Decide(Input{
		MemberID: ev.MemberID,
		Now:      now,
		Last:     last,
		Today:    today,
		Plan:     subj.Plan,
		Sessions: subj.Sessions,
		Choice:   ev.Choice,
	})
	if err != nil {
		return nil, "", err
	}

	if c, ok := dec.(Commit); ok {
		var prevID *string
		if last != nil {
			prevID = &last.ID
		}
		if err := s.store.AppendRecord(ctx, c.Record, prevID); err != nil {
			return nil, "", err
		}
	}
	return dec, subj.Name, nil
}

func (s *Service) afterCommit(ctx context.Context, c Commit) {
	rec := c.Record
	if c.Anomaly {
		metrics.AttendanceAnomalies.Inc()
	}
	s.log.Info("attendance committed",
		"member_id", rec.MemberID, "log_type", rec.LogType, "attended_type", rec.AttendedType, "anomaly", c.Anomaly)

	if s.pub != nil {
		msg, err := queue.NewJSON(queue.TypeAttendanceCommitted, CommittedEvent{
			Record: rec,
			Day:    rec.Timestamp.In(s.loc).Format(time.DateOnly),
		})
		if err == nil {
			err = s.pub.Publish(ctx, msg)
		}
		if err != nil {
			s.log.Error("queue publish failed", "record_id", rec.ID, "err", err)
		}
	}
	if s.live != nil {
		s.live.Broadcast(live.Event{Event: "ATTENDANCE_LOGGED", Data: rec})
	}
}

// HandleCommitted applies the follow-up of a committed record: a class-linked
// login marks the member's enrollment for that class as attended.
func (s *Service) HandleCommitted(ctx context.Context, ev CommittedEvent) error {
	rec := ev.Record
	if rec.LogType != Login || !rec.AttendedType.ClassLinked() || rec.ClassID == nil {
		return nil
	}
	from, to := DayBounds(rec.Timestamp.In(s.loc))
	n, err := s.dir.MarkEnrollmentAttended(ctx, rec.MemberID, *rec.ClassID, from, to, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("mark enrollment attended: %w", err)
	}
	s.log.Info("enrollment marked attended", "member_id", rec.MemberID, "class_id", *rec.ClassID, "rows", n)
	return nil
}

// DayRecords returns every record of the calendar day containing day.
func (s *Service) DayRecords(ctx context.Context, day time.Time) ([]Record, error) {
	from, to := DayBounds(day.In(s.loc))
	return s.store.DayRecords(ctx, from, to)
}

// MaxHistoryDays bounds the calendar days one MemberHistory call may cover.
const MaxHistoryDays = 93

// MemberHistory returns a member's records on the calendar days first
// through last, both inclusive and taken in the service timezone.
func (s *Service) MemberHistory(ctx context.Context, memberID string, first, last time.Time) ([]Record, error) {
	if memberID == "" {
		return nil, ErrMemberRequired
	}
	from, _ := DayBounds(first.In(s.loc))
	lastDay, to := DayBounds(last.In(s.loc))
	if lastDay.Before(from) {
		return nil, fmt.Errorf("%w: %s is before %s", ErrInvalidPeriod,
			lastDay.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	if to.After(from.AddDate(0, 0, MaxHistoryDays)) {
		return nil, fmt.Errorf("%w: more than %d days", ErrInvalidPeriod, MaxHistoryDays)
	}
	return s.store.RecordsBetween(ctx, memberID, from, to)
}

// Today summarizes the current day for the front desk.
func (s *Service) Today(ctx context.Context) (Summary, error) {
	now := s.now().In(s.loc)
	records, err := s.DayRecords(ctx, now)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(records, now), nil
}

// Location is the timezone calendar days are computed in.
func (s *Service) Location() *time.Location { return s.loc }

// DayBounds returns [midnight, next midnight) of t's calendar day in t's location.
func DayBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return from, from.AddDate(0, 0, 1)
}
