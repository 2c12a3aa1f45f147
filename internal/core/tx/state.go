package tx

import "fmt"

// State is the transaction lifecycle state. Terminal states are sticky:
// no transition ever leaves COMMITTED or ABORTED.
type State int

const (
	StateInProgress State = iota
	StateCommitted
	StateAborted
)

// IsComplete reports whether the state is terminal.
func (s State) IsComplete() bool {
	return s == StateCommitted || s == StateAborted
}

func (s State) String() string {
	switch s {
	case StateInProgress:
		return "IN_PROGRESS"
	case StateCommitted:
		return "COMMITTED"
	case StateAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
