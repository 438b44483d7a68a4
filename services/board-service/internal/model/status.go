package model

import "fmt"

// Status is the closed set of appointment states. Unknown strings are
// rejected at the deserialization boundary, never deep in business logic.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusReady      Status = "ready"
	StatusCompleted  Status = "completed"
	StatusNoShow     Status = "no_show"
	StatusCanceled   Status = "canceled"
)

var allStatuses = map[Status]struct{}{
	StatusScheduled:  {},
	StatusInProgress: {},
	StatusReady:      {},
	StatusCompleted:  {},
	StatusNoShow:     {},
	StatusCanceled:   {},
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := allStatuses[st]; !ok {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

func (s Status) String() string { return string(s) }

// Terminal reports whether no transitions originate from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusNoShow, StatusCanceled:
		return true
	}
	return false
}

// BoardStatuses returns the fixed board column set, in display order.
// Canceled appointments are not shown on the board.
func BoardStatuses() []Status {
	return []Status{StatusScheduled, StatusInProgress, StatusReady, StatusCompleted, StatusNoShow}
}
