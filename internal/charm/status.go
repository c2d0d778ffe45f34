package charm

import "github.com/omnivector-solutions/charm-apptainer/internal/hooktools"

// Status is the unit workload status a handler asks for.
type Status struct {
	Kind    hooktools.StatusKind
	Message string
}

// Waiting is shown while the workload is being changed.
func Waiting(msg string) Status { return Status{Kind: hooktools.StatusWaiting, Message: msg} }

// Active reports a workload in its requested state.
func Active(msg string) Status { return Status{Kind: hooktools.StatusActive, Message: msg} }

// Blocked asks the operator to step in.
func Blocked(msg string) Status { return Status{Kind: hooktools.StatusBlocked, Message: msg} }

// IsZero reports whether no status was requested.
func (s Status) IsZero() bool { return s.Kind == "" }

func (s Status) String() string {
	if s.Message == "" {
		return string(s.Kind)
	}
	return string(s.Kind) + ": " + s.Message
}

// Result is what a handler hands back to the dispatcher.
type Result struct {
	Status Status
	// Defer asks for the event to be re-run on the next dispatch.
	Defer bool
}
