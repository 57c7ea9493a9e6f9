package syncqueue

import "fmt"

// Status is the sync lifecycle state of a captured artifact.
type Status string

const (
	// StatusPending means the artifact awaits a delivery attempt.
	StatusPending Status = "pending"
	// StatusSyncing means a delivery attempt is in flight.
	StatusSyncing Status = "syncing"
	// StatusSynced means the server accepted the artifact. Terminal.
	StatusSynced Status = "synced"
	// StatusFailed means retries are exhausted or the server rejected
	// the artifact. Terminal until explicit resubmission.
	StatusFailed Status = "failed"
)

// validTransitions is the closed transition table. pending → syncing →
// pending is the transient inconclusive-attempt loop; failed → pending
// happens only on explicit resubmission; synced never goes backward.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusSyncing},
	StatusSyncing: {StatusSynced, StatusFailed, StatusPending},
	StatusFailed:  {StatusPending},
	StatusSynced:  {},
}

// canTransition reports whether from → to is allowed.
func canTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition wraps a rejected status change.
type ErrInvalidTransition struct {
	ID   string
	From Status
	To   Status
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid status transition for %s: %s -> %s", e.ID, e.From, e.To)
}
