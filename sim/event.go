package sim

// VTimeInSec defines the time in the simulated space in the unit of second
type VTimeInSec float64

// An Event is something going to happen in the future.
type Event interface {
	// Return the time that the event should happen
	Time() VTimeInSec

	// Returns the handler that can should handle the event
	Handler() Handler

	// IsSecondary tells if the event is a secondary event. Secondary event are
	// handled after all same-time primary events are handled.
	IsSecondary() bool
}

// EventBase provides the basic fields and getters for other events
type EventBase struct {
	time      VTimeInSec
	handler   Handler
	secondary bool
}

// NewEventBase creates a new EventBase
func NewEventBase(t VTimeInSec, handler Handler) *EventBase {
	e := new(EventBase)
	e.time = t
	e.handler = handler
	e.secondary = false

	return e
}

// MakeEventBase creates an EventBase value. It is convenient for events that
// embed EventBase by value.
func MakeEventBase(t VTimeInSec, handler Handler) EventBase {
	return EventBase{time: t, handler: handler}
}

// Time return the time that the event is going to happen
func (e EventBase) Time() VTimeInSec {
	return e.time
}

// Handler returns the handler to handle the event.
func (e EventBase) Handler() Handler {
	return e.handler
}

// IsSecondary returns true if the event is a secondary event.
func (e EventBase) IsSecondary() bool {
	return e.secondary
}

// AsSecondary marks the event as a secondary event.
func (e *EventBase) AsSecondary() {
	e.secondary = true
}

// A Handler defines a domain for the events.
//
// One event is always constraint to one Handler, which means the event can
// only be scheduled by one handler and can only directly modify that handler.
type Handler interface {
	Handle(e Event) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(e Event) error

// Handle calls f(e).
func (f HandlerFunc) Handle(e Event) error {
	return f(e)
}
