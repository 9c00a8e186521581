package attendance

import "time"

// Decision is the outcome of one attendance event. The set of
// implementations is closed: Commit, RequiresSelection, AlreadyLoggedIn, NoOp.
type Decision interface {
	Kind() string
	isDecision()
}

// Commit carries the record the caller must persist.
type Commit struct {
	Record Record
	// Anomaly is set when the newest record of the supplied history broke
	// the login/logout alternation and the engine resumed from it.
	Anomaly bool
}

// RequiresSelection asks the member to choose what they are attending.
type RequiresSelection struct {
	Options  []AttendedType
	Sessions []string
}

// AlreadyLoggedIn is returned when a logout is attempted too soon after login.
type AlreadyLoggedIn struct {
	Since   time.Time
	Elapsed time.Duration
}

// NoOp marks a repeated recognition of the same presence event.
type NoOp struct {
	Last Record
}

func (Commit) Kind() string            { return "commit" }
func (RequiresSelection) Kind() string { return "requires_selection" }
func (AlreadyLoggedIn) Kind() string   { return "already_logged_in" }
func (NoOp) Kind() string              { return "noop" }

func (Commit) isDecision()            {}
func (RequiresSelection) isDecision() {}
func (AlreadyLoggedIn) isDecision()   {}
func (NoOp) isDecision()              {}
