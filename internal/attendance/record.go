package attendance

import (
	"errors"
	"time"
)

// LogType is the direction of an attendance record.
type LogType string

const (
	Login  LogType = "login"
	Logout LogType = "logout"
)

// AttendedType says what the member came for.
type AttendedType string

const (
	AttendedGym       AttendedType = "gym"
	AttendedCombative AttendedType = "combative"
	AttendedBoth      AttendedType = "both"
)

// Valid reports whether t is one of the known attended types.
func (t AttendedType) Valid() bool {
	switch t {
	case AttendedGym, AttendedCombative, AttendedBoth:
		return true
	}
	return false
}

// ClassLinked reports whether the type is tied to a class session.
func (t AttendedType) ClassLinked() bool {
	return t == AttendedCombative || t == AttendedBoth
}

var (
	// ErrInvalidChoice is returned when a disambiguation answer names an unknown type.
	ErrInvalidChoice = errors.New("attendance: invalid attended type")
	// ErrNoMatch means the face could not be resolved to a member.
	ErrNoMatch = errors.New("attendance: member not found")
	// ErrMemberRequired is returned when an event carries no identity.
	ErrMemberRequired = errors.New("attendance: member id required")
	// ErrInvalidPeriod is returned for a history query that ends before it
	// starts or spans more than MaxHistoryDays.
	ErrInvalidPeriod = errors.New("attendance: invalid history period")
)

// Record is a single committed attendance log entry. Records are append-only.
type Record struct {
	ID           string       `json:"id"`
	MemberID     string       `json:"member_id"`
	MemberName   string       `json:"member_name,omitempty"`
	LogType      LogType      `json:"log_type"`
	Timestamp    time.Time    `json:"timestamp"`
	AttendedType AttendedType `json:"attended_type"`
	ClassID      *string      `json:"class_id,omitempty"`
}

// Plan holds the membership capabilities active at the time of the event.
type Plan struct {
	Monthly   bool `json:"monthly"`
	Combative bool `json:"combative"`
}

// Session is an enrolled, not yet attended class session for the day.
type Session struct {
	ClassID string    `json:"class_id"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// Choice is the member's answer to a RequiresSelection decision.
type Choice struct {
	Type    AttendedType
	ClassID string
}

// Subject is everything the directory knows about a member for one day.
type Subject struct {
	MemberID string
	Name     string
	Plan     Plan
	Sessions []Session
}
