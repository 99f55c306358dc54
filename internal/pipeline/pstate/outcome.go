// Package pstate holds the Pipeline Engine's runtime-facing types: the node
// status/outcome contract handlers return, and the flat runtime context
// store nodes read and write through. These are distinct from
// internal/pipeline/graph's static Graph/Node/Edge data model — pstate
// describes what happens while the graph runs, not the graph itself.
// Grounded on original_source forge-attractor/src/runtime.rs.
package pstate

// Status is the per-node execution result a handler reports back to the
// runner, driving both retry decisions and edge selection.
type Status int

const (
	Success Status = iota
	PartialSuccess
	Retry
	Fail
)

// String renders a Status using the same lower_snake_case tokens the
// condition language and checkpoint file use.
func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case PartialSuccess:
		return "partial_success"
	case Retry:
		return "retry"
	case Fail:
		return "fail"
	}
	return "unknown"
}

// IsSuccessLike reports whether s counts as forward progress for join
// policies that only care about success vs. failure.
func (s Status) IsSuccessLike() bool { return s == Success || s == PartialSuccess }

// ParseStatus parses the lower_snake_case tokens written by String, used
// when reading a checkpoint file or a parallel fan-in candidate back in.
func ParseStatus(raw string) (Status, bool) {
	switch raw {
	case "success":
		return Success, true
	case "partial_success":
		return PartialSuccess, true
	case "retry":
		return Retry, true
	case "fail":
		return Fail, true
	}
	return Fail, false
}

// Outcome is what a node handler returns after executing: the aggregate
// status, free-form notes, context writes to merge in, and the two signals
// the edge selector's steps 2/3 consult (spec.md §4.11.2).
type Outcome struct {
	Status           Status
	Notes            string
	ContextUpdates   map[string]any
	PreferredLabel   string
	SuggestedNextIDs []string
}

// SuccessOutcome is the zero-friction success result most handlers return.
func SuccessOutcome() Outcome { return Outcome{Status: Success} }

// FailureOutcome builds a Fail outcome carrying a human-readable reason.
func FailureOutcome(reason string) Outcome {
	return Outcome{Status: Fail, Notes: reason}
}
