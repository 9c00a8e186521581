package attendance

import (
	"fmt"
	"time"
)

// State is where a member is relative to the gym floor.
type State int

const (
	OutsideGym State = iota
	InsideGym
)

func (s State) String() string {
	if s == InsideGym {
		return "inside"
	}
	return "outside"
}

// Next returns the log type a commit from this state produces.
func (s State) Next() LogType {
	if s == InsideGym {
		return Logout
	}
	return Login
}

// Apply moves the state machine by one record.
func (s State) Apply(t LogType) (State, error) {
	switch {
	case s == OutsideGym && t == Login:
		return InsideGym, nil
	case s == InsideGym && t == Logout:
		return OutsideGym, nil
	}
	return s, fmt.Errorf("unexpected %s while %s", t, s)
}

// HistoryError reports the last record at which a day's history broke the
// login/logout alternation or went backwards in time.
type HistoryError struct {
	Index int
	ID    string
	Err   error
}

func (e *HistoryError) Error() string {
	return fmt.Sprintf("record %d (%s): %v", e.Index, e.ID, e.Err)
}

func (e *HistoryError) Unwrap() error { return e.Err }

// restart is the state implied by a record alone, used to resume the machine
// at a record that does not follow from the previous ones.
func restart(t LogType) State {
	if t == Login {
		return InsideGym
	}
	return OutsideGym
}

// Replay folds a day's records (earliest first) into the current state and
// the login that is still open, if any. A record that breaks alternation or
// ordering restarts the machine from that record, so a later login or logout
// still lines up; the last such record is reported as a *HistoryError next
// to the resumed state.
func Replay(records []Record) (State, *Record, error) {
	state := OutsideGym
	var open *Record
	var prev time.Time
	var herr *HistoryError
	for i := range records {
		rec := records[i]
		next, err := state.Apply(rec.LogType)
		if err == nil && i > 0 && rec.Timestamp.Before(prev) {
			err = fmt.Errorf("%s at %s is before the previous record", rec.LogType, rec.Timestamp.Format(time.RFC3339))
		}
		if err != nil {
			herr = &HistoryError{Index: i, ID: rec.ID, Err: err}
			next = restart(rec.LogType)
		}
		prev = rec.Timestamp
		state = next
		if state == InsideGym {
			open = &records[i]
		} else {
			open = nil
		}
	}
	if herr != nil {
		return state, open, herr
	}
	return state, open, nil
}

// Summary is the day view shown on the front desk dashboard.
type Summary struct {
	TotalCheckins  int       `json:"total_checkins"`
	CurrentlyIn    int       `json:"currently_in_gym"`
	LastCheckin    *Record   `json:"last_checkin,omitempty"`
	RecentActivity []Record  `json:"recent_activity"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// Summarize builds a Summary from all records of one day, earliest first.
// The member state is tracked per member with the same state machine the
// engine uses; a member whose history is broken counts by their last record.
func Summarize(records []Record, now time.Time) Summary {
	sum := Summary{GeneratedAt: now, RecentActivity: []Record{}}
	states := make(map[string]State)
	for i := range records {
		rec := records[i]
		if rec.LogType == Login {
			sum.TotalCheckins++
			sum.LastCheckin = &records[i]
		}
		next, err := states[rec.MemberID].Apply(rec.LogType)
		if err != nil {
			next = restart(rec.LogType)
		}
		states[rec.MemberID] = next
	}
	for _, st := range states {
		if st == InsideGym {
			sum.CurrentlyIn++
		}
	}
	for i := len(records) - 1; i >= 0 && len(sum.RecentActivity) < 10; i-- {
		sum.RecentActivity = append(sum.RecentActivity, records[i])
	}
	return sum
}
