package lead

import "fmt"

// InvalidTransitionError reports an event that is not legal from the lead's
// current stage. It is always surfaced to the caller, never absorbed.
type InvalidTransitionError struct {
	LeadID string
	Stage  Stage
	Event  Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("lead: cannot apply %s to lead %s in stage %s", e.Event, e.LeadID, e.Stage)
}

// NotFoundError reports a lead id that does not exist in the store. Mutating
// operations return it; lookups return a nil lead instead.
type NotFoundError struct {
	LeadID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("lead: not found: %s", e.LeadID)
}
