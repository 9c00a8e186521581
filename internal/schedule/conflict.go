package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRange is returned for malformed times or an empty or inverted range.
var ErrInvalidRange = errors.New("schedule: invalid time range")

// Clock is a wall-clock time of day in minutes since midnight.
type Clock int

// ParseClock accepts "H:MM" or "HH:MM" with hours 0-23.
func ParseClock(s string) (Clock, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) < 1 || len(hh) > 2 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: %q is not HH:MM", ErrInvalidRange, s)
	}
	h, ok := digits(hh)
	if !ok || h > 23 {
		return 0, fmt.Errorf("%w: bad hour in %q", ErrInvalidRange, s)
	}
	m, ok := digits(mm)
	if !ok || m > 59 {
		return 0, fmt.Errorf("%w: bad minute in %q", ErrInvalidRange, s)
	}
	return Clock(h*60 + m), nil
}

// digits parses an unsigned run of ASCII digits; signs and spaces are rejected.
func digits(s string) (int, bool) {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// String formats the clock as zero-padded HH:MM.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// MarshalText lets clocks travel as "HH:MM" in JSON.
func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses "HH:MM".
func (c *Clock) UnmarshalText(b []byte) error {
	v, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Booking is one scheduled trainer session.
type Booking struct {
	ID        string    `json:"id" db:"id"`
	TrainerID string    `json:"trainer_id" db:"trainer_id"`
	MemberID  *string   `json:"member_id,omitempty" db:"member_id"`
	ClassName string    `json:"class_name" db:"class_name"`
	Date      string    `json:"date" db:"booking_date"`
	Start     Clock     `json:"start_time" db:"start_minute"`
	End       Clock     `json:"end_time" db:"end_minute"`
	Status    Status    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Candidate is a proposed booking that has not been written yet.
type Candidate struct {
	TrainerID string
	MemberID  *string
	ClassName string
	Date      string
	StartTime string
	EndTime   string
}

// Range validates the candidate's date and times and returns them as clocks.
func (c Candidate) Range() (Clock, Clock, error) {
	if _, err := time.Parse(time.DateOnly, c.Date); err != nil {
		return 0, 0, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidRange, c.Date)
	}
	start, err := ParseClock(c.StartTime)
	if err != nil {
		return 0, 0, err
	}
	end, err := ParseClock(c.EndTime)
	if err != nil {
		return 0, 0, err
	}
	if start >= end {
		return 0, 0, fmt.Errorf("%w: start %s is not before end %s", ErrInvalidRange, start, end)
	}
	return start, end, nil
}

// ConflictResult is Accepted, or rejected because of Conflicting.
type ConflictResult struct {
	Accepted    bool     `json:"accepted"`
	Conflicting *Booking `json:"conflicting,omitempty"`
}

// Overlaps reports whether half-open ranges [s1,e1) and [s2,e2) intersect.
// Ranges that only touch at an endpoint do not overlap.
func Overlaps(s1, e1, s2, e2 Clock) bool {
	return s1 < e2 && s2 < e1
}

// CheckConflict validates the candidate and scans existing bookings for the
// same trainer and date, reporting the first one it overlaps. Scoping the
// existing set to trainer and date is the caller's job; cancelled entries
// are skipped.
func CheckConflict(c Candidate, existing []Booking) (ConflictResult, error) {
	start, end, err := c.Range()
	if err != nil {
		return ConflictResult{}, err
	}
	for i := range existing {
		b := existing[i]
		if b.Status == StatusCancelled {
			continue
		}
		if Overlaps(start, end, b.Start, b.End) {
			return ConflictResult{Conflicting: &b}, nil
		}
	}
	return ConflictResult{Accepted: true}, nil
}

// ConflictError reports the booking a candidate collided with.
type ConflictError struct {
	Existing Booking
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("trainer already has a session %s-%s on %s", e.Existing.Start, e.Existing.End, e.Existing.Date)
}
