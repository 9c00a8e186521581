package attendance

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Policy holds the tunable thresholds of the engine.
type Policy struct {
	// DedupWindow absorbs repeated recognitions of the same face.
	DedupWindow time.Duration
	// MinVisit is the shortest stay after which a recognition logs the member out.
	MinVisit time.Duration
	// SessionLead is how early before its start a class session becomes eligible.
	SessionLead time.Duration
}

// DefaultPolicy mirrors the thresholds the front desk kiosks were built around.
func DefaultPolicy() Policy {
	return Policy{
		DedupWindow: 5 * time.Second,
		MinVisit:    30 * time.Minute,
		SessionLead: 30 * time.Minute,
	}
}

// Input is a snapshot of everything the engine needs for one event.
type Input struct {
	MemberID string
	Now      time.Time
	// Last is the most recent record for the member on any day.
	Last *Record
	// Today holds the member's records for the calendar day of Now, earliest first.
	Today    []Record
	Plan     Plan
	Sessions []Session
	// Choice is set on the re-invocation after a RequiresSelection.
	Choice *Choice
}

// Engine decides what an attendance event means. It keeps no state
// between calls and performs no I/O.
type Engine struct {
	policy Policy
	log    *slog.Logger
	newID  func() string
}

// NewEngine creates an engine; zero policy fields fall back to DefaultPolicy.
func NewEngine(policy Policy, log *slog.Logger) *Engine {
	def := DefaultPolicy()
	if policy.DedupWindow <= 0 {
		policy.DedupWindow = def.DedupWindow
	}
	if policy.MinVisit < 0 {
		policy.MinVisit = def.MinVisit
	}
	if policy.SessionLead < 0 {
		policy.SessionLead = 0
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{policy: policy, log: log, newID: uuid.NewString}
}

// Policy returns the thresholds in effect.
func (e *Engine) Policy() Policy { return e.policy }

// Decide returns the decision for one recognized identity at in.Now.
func (e *Engine) Decide(in Input) (Decision, error) {
	if in.MemberID == "" {
		return nil, ErrMemberRequired
	}
	if in.Choice != nil && !in.Choice.Type.Valid() {
		return nil, ErrInvalidChoice
	}

	if last := in.Last; last != nil && last.MemberID == in.MemberID {
		if in.Now.Sub(last.Timestamp) < e.policy.DedupWindow {
			return NoOp{Last: *last}, nil
		}
	}

	state, open, err := Replay(in.Today)
	anomaly := false
	var herr *HistoryError
	if errors.As(err, &herr) && herr.Index == len(in.Today)-1 {
		// Only the newest record can be freshly out of line; an older break
		// was already resynchronized past by the records after it.
		e.log.Warn("anomalous attendance history, resynchronizing",
			"member_id", in.MemberID, "records", len(in.Today), "err", err)
		anomaly = true
	}

	if state == InsideGym {
		elapsed := in.Now.Sub(open.Timestamp)
		if elapsed < e.policy.MinVisit {
			return AlreadyLoggedIn{Since: open.Timestamp, Elapsed: elapsed}, nil
		}
		return Commit{Record: e.record(in, Logout, open.AttendedType, open.ClassID), Anomaly: anomaly}, nil
	}

	eligible := e.eligibleSessions(in.Sessions, in.Now)
	if in.Choice == nil && in.Plan.Monthly && in.Plan.Combative && len(eligible) > 0 {
		ids := make([]string, 0, len(eligible))
		for _, s := range eligible {
			ids = append(ids, s.ClassID)
		}
		return RequiresSelection{
			Options:  []AttendedType{AttendedGym, AttendedCombative, AttendedBoth},
			Sessions: ids,
		}, nil
	}

	typ, classID := e.resolveType(in, eligible)
	return Commit{Record: e.record(in, Login, typ, classID), Anomaly: anomaly}, nil
}

func (e *Engine) resolveType(in Input, eligible []Session) (AttendedType, *string) {
	if c := in.Choice; c != nil {
		if !c.Type.ClassLinked() {
			return c.Type, nil
		}
		if c.ClassID != "" {
			id := c.ClassID
			return c.Type, &id
		}
		if len(eligible) > 0 {
			id := eligible[0].ClassID
			return c.Type, &id
		}
		return c.Type, nil
	}
	if in.Plan.Combative && len(eligible) > 0 {
		id := eligible[0].ClassID
		return AttendedCombative, &id
	}
	return AttendedGym, nil
}

// eligibleSessions keeps the sessions whose window, widened by SessionLead, contains now.
func (e *Engine) eligibleSessions(sessions []Session, now time.Time) []Session {
	var out []Session
	for _, s := range sessions {
		if !now.Before(s.Start.Add(-e.policy.SessionLead)) && now.Before(s.End) {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) record(in Input, t LogType, typ AttendedType, classID *string) Record {
	return Record{
		ID:           e.newID(),
		MemberID:     in.MemberID,
		LogType:      t,
		Timestamp:    in.Now,
		AttendedType: typ,
		ClassID:      classID,
	}
}
