package lead

// Stage enumerates the fixed pipeline positions a lead can occupy.
type Stage string

const (
	StageNew           Stage = "NEW"
	StageRequestSent   Stage = "REQUEST_SENT"
	StageConnected     Stage = "CONNECTED"
	StageActiveConvo   Stage = "ACTIVE_CONVO"
	StageMeetingBooked Stage = "MEETING_BOOKED"
	StageNurture       Stage = "NURTURE"
	StageLost          Stage = "LOST"
)

// AllStages lists every stage in pipeline order. Used for zero-filled stage
// counts and for stage parsing.
var AllStages = []Stage{
	StageNew,
	StageRequestSent,
	StageConnected,
	StageActiveConvo,
	StageMeetingBooked,
	StageNurture,
	StageLost,
}

// Event enumerates the input signals that may move a lead between stages.
type Event string

const (
	EventScraped               Event = "SCRAPED"
	EventConnectionRequestSent Event = "CONNECTION_REQUEST_SENT"
	EventConnectionAccepted    Event = "CONNECTION_ACCEPTED"
	EventDMSent                Event = "DM_SENT"
	EventDMReplyReceived       Event = "DM_REPLY_RECEIVED"
	EventMeetingScheduled      Event = "MEETING_SCHEDULED"
	EventSetNurture            Event = "SET_NURTURE"
	EventMarkLost              Event = "MARK_LOST"
)

// AllEvents lists every event in declaration order.
var AllEvents = []Event{
	EventScraped,
	EventConnectionRequestSent,
	EventConnectionAccepted,
	EventDMSent,
	EventDMReplyReceived,
	EventMeetingScheduled,
	EventSetNurture,
	EventMarkLost,
}

// transitions is the authoritative (stage, event) -> next stage table. A pair
// absent from the table is an illegal transition; legality is decided here
// and nowhere else.
var transitions = map[Stage]map[Event]Stage{
	StageNew: {
		EventScraped:               StageNew, // re-scraping keeps NEW
		EventConnectionRequestSent: StageRequestSent,
		EventSetNurture:            StageNurture,
		EventMarkLost:              StageLost,
	},
	StageRequestSent: {
		EventConnectionRequestSent: StageRequestSent, // repeat send is a no-op
		EventConnectionAccepted:    StageConnected,
		EventSetNurture:            StageNurture,
		EventMarkLost:              StageLost,
	},
	StageConnected: {
		EventDMSent:           StageActiveConvo,
		EventMeetingScheduled: StageMeetingBooked,
		EventSetNurture:       StageNurture,
		EventMarkLost:         StageLost,
	},
	StageActiveConvo: {
		EventDMSent:           StageActiveConvo,
		EventDMReplyReceived:  StageActiveConvo,
		EventMeetingScheduled: StageMeetingBooked,
		EventSetNurture:       StageNurture,
		EventMarkLost:         StageLost,
	},
	StageMeetingBooked: {
		EventMeetingScheduled: StageMeetingBooked, // reschedule
		EventDMSent:           StageMeetingBooked,
		EventDMReplyReceived:  StageMeetingBooked,
		EventSetNurture:       StageNurture,
		EventMarkLost:         StageLost,
	},
	StageNurture: {
		EventSetNurture:       StageNurture,
		EventDMSent:           StageActiveConvo, // revival
		EventMeetingScheduled: StageMeetingBooked,
		EventMarkLost:         StageLost,
	},
	// LOST is terminal; only re-marking it lost is accepted.
	StageLost: {
		EventMarkLost: StageLost,
	},
}

// ApplyTransition resolves the next stage for an event applied to a lead in
// the given stage. It returns an *InvalidTransitionError naming the lead,
// stage and event when the pair is not in the table.
func ApplyTransition(leadID string, current Stage, event Event) (Stage, error) {
	next, ok := transitions[current][event]
	if !ok {
		return "", &InvalidTransitionError{LeadID: leadID, Stage: current, Event: event}
	}
	return next, nil
}

// IsValidTransition reports whether the event is legal from the stage.
func IsValidTransition(current Stage, event Event) bool {
	_, ok := transitions[current][event]
	return ok
}

// NextStage resolves the transition without constructing an error. The
// second return value is false when the transition is illegal.
func NextStage(current Stage, event Event) (Stage, bool) {
	next, ok := transitions[current][event]
	return next, ok
}

// ValidEvents returns the events accepted from the given stage in
// declaration order. Callers filter out internal events such as SCRAPED
// themselves.
func ValidEvents(stage Stage) []Event {
	accepted := transitions[stage]
	events := make([]Event, 0, len(accepted))
	for _, event := range AllEvents {
		if _, ok := accepted[event]; ok {
			events = append(events, event)
		}
	}
	return events
}

// ParseStage validates a raw stage value.
func ParseStage(raw string) (Stage, bool) {
	for _, stage := range AllStages {
		if string(stage) == raw {
			return stage, true
		}
	}
	return "", false
}

// ParseEvent validates a raw event value.
func ParseEvent(raw string) (Event, bool) {
	for _, event := range AllEvents {
		if string(event) == raw {
			return event, true
		}
	}
	return "", false
}
