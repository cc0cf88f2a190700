package lazyload

import "time"

// EventKind names a loader transition.
type EventKind string

const (
	EventEnqueued   EventKind = "enqueued"
	EventCacheHit   EventKind = "cache_hit"
	EventReplaced   EventKind = "replaced"
	EventPromoted   EventKind = "promoted"
	EventDispatched EventKind = "dispatched"
	EventLoaded     EventKind = "loaded"
	EventErrored    EventKind = "errored"
	EventCanceled   EventKind = "canceled"
)

// Event describes one transition. Active and Queued are sampled right after
// the transition.
type Event struct {
	Kind      EventKind
	TicketID  string
	ElementID string
	URL       string
	Priority  Priority
	Active    int
	Queued    int
	Bytes     int
	Duration  time.Duration
	Err       error
	Time      time.Time
}

// Listener receives loader events. HandleEvent is called outside the loader
// lock and may run concurrently from several goroutines.
type Listener interface {
	HandleEvent(ev Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev Event)

func (f ListenerFunc) HandleEvent(ev Event) { f(ev) }
