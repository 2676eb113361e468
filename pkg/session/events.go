package session

import "sync"

// EventKind names the observable events a Session emits, per the event
// surface in spec §2: "connecting -> progress* -> started -> (newDTMF*)
// -> ended" for success, "connecting? -> progress* -> failed" otherwise.
type EventKind string

const (
	EventNewSession EventKind = "newRTCSession"
	EventConnecting EventKind = "connecting"
	EventProgress   EventKind = "progress"
	EventStarted    EventKind = "started"
	EventNewDTMF    EventKind = "newDTMF"
	EventEnded      EventKind = "ended"
	EventFailed     EventKind = "failed"
)

// Originator distinguishes who caused a terminal or progress event:
// the local session logic, or the remote peer via a SIP message.
type Originator string

const (
	OriginatorLocal  Originator = "local"
	OriginatorRemote Originator = "remote"
	OriginatorSystem Originator = "system"
)

// Event is the structured payload delivered to observers. Not every
// field applies to every EventKind; zero values are left unset.
type Event struct {
	Kind       EventKind
	Originator Originator
	Cause      Cause
	Response   IncomingMessage
	Request    IncomingMessage
	Tone       rune
}

// Handler receives events for a single Session. Handlers run on the
// session's own event-loop goroutine and must not block or call back
// into the session synchronously (re-entrancy is undefined).
type Handler func(Event)

// observerRegistry is a typed replacement for the teacher corpus's
// inherited-mixin style of event emission: one handler slice per kind,
// guarded by a mutex only because registration can race session
// construction; emission itself always happens from the event loop.
type observerRegistry struct {
	mu       sync.Mutex
	handlers map[EventKind][]Handler
}

func newObserverRegistry() *observerRegistry {
	return &observerRegistry{handlers: make(map[EventKind][]Handler)}
}

func (r *observerRegistry) on(kind EventKind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = append(r.handlers[kind], h)
}

func (r *observerRegistry) emit(ev Event) {
	r.mu.Lock()
	hs := append([]Handler(nil), r.handlers[ev.Kind]...)
	r.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}
