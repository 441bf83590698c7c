package verify

// EventType distinguishes the output events a session turn can produce.
type EventType string

const (
	// EventTurn carries a complete role-tagged transcript message.
	EventTurn EventType = "turn"
	// EventDelta carries one incremental answer fragment.
	EventDelta EventType = "delta"
	// EventReport carries the location of the written Q&A report.
	EventReport EventType = "report"
)

// Event is one output of the session state machine, relayed by the driver
// to the reviewer's display.
type Event struct {
	Type    EventType `json:"type"`
	Role    string    `json:"role,omitempty"`
	Content string    `json:"content,omitempty"`
	Path    string    `json:"path,omitempty"`
}

// EmitFunc receives session output events as they occur. It must not call
// back into the session.
type EmitFunc func(Event)
