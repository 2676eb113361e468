// Package session implements the INVITE-based RTC session core: a
// per-call state machine that drives a single dialog from connect or
// inbound INVITE through to termination, coordinating a signaling
// collaborator and a media collaborator behind the interfaces in
// signaling.go and media.go.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
)

// Direction is fixed at construction: UAC sessions originate a
// connect(), UAS sessions originate from an inbound INVITE.
type Direction int

const (
	DirectionOutgoing Direction = iota
	DirectionIncoming
)

// Registry is the user-agent session table the session registers
// itself into and removes itself from, per invariant 4. It is a weak
// back-reference, not ownership (spec §5 "Resource ownership").
type Registry interface {
	Register(s *Session)
	Deregister(id string)
}

type noopRegistry struct{}

func (noopRegistry) Register(*Session)    {}
func (noopRegistry) Deregister(string)    {}

// Config bundles the collaborators and tunables a Session needs at
// construction. DialogFactory and MediaFactory are required; Logger,
// Metrics, and Registry default to no-ops when left nil.
type Config struct {
	DialogFactory   DialogFactory
	MediaFactory    MediaFactory
	Registry        Registry
	Logger          *Logger
	Metrics         *Metrics
	NoAnswerTimeout time.Duration
}

// Session is the root entity of spec §3. All unexported state is only
// ever touched from the goroutine draining events — see runLoop.
type Session struct {
	id        string
	direction Direction
	callID    string
	localTag  string
	remoteTag string

	fsm       *fsm.FSM
	observers *observerRegistry
	logger    *Logger
	metrics   *Metrics
	registry  Registry

	dialogFactory DialogFactory
	mediaFactory  MediaFactory
	media         MediaHandler

	confirmedDialog DialogHandle
	earlyDialogs    map[string]DialogHandle

	clientTx RequestSender // the initial INVITE's request sender, UAC only
	uasInvite IncomingMessage
	uasReplier Replier
	cachedAnswerBody []byte // last 200 body, for invite2xxTimer retransmission

	isCanceled     bool
	cancelReason   string
	received100    bool
	failedEmitted  bool
	endedEmitted   bool
	deferredBye    bool

	startTime time.Time
	endTime   time.Time

	noAnswerTimeout time.Duration
	timers          *timerSet
	dtmf            *dtmfScheduler

	userData   map[string]any
	userDataMu sync.Mutex

	events chan func()
	closed chan struct{}
	once   sync.Once
}

// NewSession constructs a Session in status NULL. direction must match
// how the caller intends to use it: Connect for outgoing, InitIncoming
// for incoming.
func NewSession(direction Direction, cfg Config) *Session {
	if cfg.Registry == nil {
		cfg.Registry = noopRegistry{}
	}
	if cfg.Logger == nil {
		cfg.Logger = NopLogger()
	}
	if cfg.NoAnswerTimeout == 0 {
		cfg.NoAnswerTimeout = 180 * time.Second
	}

	s := &Session{
		id:              uuid.NewString(),
		direction:       direction,
		observers:       newObserverRegistry(),
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		registry:        cfg.Registry,
		dialogFactory:   cfg.DialogFactory,
		mediaFactory:    cfg.MediaFactory,
		earlyDialogs:    make(map[string]DialogHandle),
		noAnswerTimeout: cfg.NoAnswerTimeout,
		userData:        make(map[string]any),
		events:          make(chan func()),
		closed:          make(chan struct{}),
	}
	s.logger = s.logger.WithSession(s.id)
	s.fsm = newStatusFSM(s)
	s.timers = newTimerSet(s)
	s.dtmf = newDTMFScheduler(s)
	go s.runLoop()
	return s
}

// runLoop is the session's single logical event loop (spec §5): every
// state-mutating operation below submits a closure here instead of
// touching fields directly from the caller's goroutine.
func (s *Session) runLoop() {
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.closed:
			// Drain any already-queued closures so senders blocked on
			// submit (below) do not leak, then exit.
			for {
				select {
				case fn := <-s.events:
					fn()
				default:
					return
				}
			}
		}
	}
}

// submit runs fn on the event loop and waits for it to finish. Safe to
// call concurrently; calls after Close returns ErrAlreadyClosed without
// running fn, honoring invariant 1 ("no operation may mutate state"
// after TERMINATED's close has completed).
func (s *Session) submit(fn func()) error {
	done := make(chan struct{})
	select {
	case s.events <- func() { fn(); close(done) }:
		<-done
		return nil
	case <-s.closed:
		return ErrAlreadyClosed
	}
}

// submitResult is submit's counterpart for operations that return an
// error from inside the closure.
func (s *Session) submitResult(fn func() error) error {
	var result error
	err := s.submit(func() { result = fn() })
	if err != nil {
		return err
	}
	return result
}

// notify is used for fire-and-forget deliveries (inbound SIP messages,
// timer fires) that must preserve arrival order but whose caller does
// not need to block on completion.
func (s *Session) notify(fn func()) {
	select {
	case s.events <- fn:
	case <-s.closed:
	}
}

// guardTerminated is the single re-check helper spec §5 requires every
// asynchronous continuation to call before mutating state.
func (s *Session) guardTerminated() bool {
	return s.status() == StatusTerminated
}

// ID returns the session id: a UUID until a dialog exists, then the
// dialog-id composite, per SPEC_FULL.md §4.
func (s *Session) ID() string {
	var id string
	if err := s.submit(func() { id = s.id }); err != nil {
		// The loop is closed and s.id no longer changes.
		return s.id
	}
	return id
}

func (s *Session) Status() Status {
	var st Status
	if err := s.submit(func() { st = s.status() }); err != nil {
		// submit only fails once close() has run, i.e. after TERMINATED.
		return StatusTerminated
	}
	return st
}

func (s *Session) Direction() Direction {
	return s.direction
}

func (s *Session) StartTime() time.Time {
	var t time.Time
	_ = s.submit(func() { t = s.startTime })
	return t
}

func (s *Session) EndTime() time.Time {
	var t time.Time
	_ = s.submit(func() { t = s.endTime })
	return t
}

func (s *Session) LocalStreams() []Stream {
	var out []Stream
	_ = s.submit(func() {
		if s.media != nil {
			out = s.media.LocalStreams()
		}
	})
	return out
}

func (s *Session) RemoteStreams() []Stream {
	var out []Stream
	_ = s.submit(func() {
		if s.media != nil {
			out = s.media.RemoteStreams()
		}
	})
	return out
}

// On registers an event handler for kind. Handlers run on the session's
// event-loop goroutine; see events.go.
func (s *Session) On(kind EventKind, h Handler) {
	s.observers.on(kind, h)
}

func (s *Session) UserData(key string) (any, bool) {
	s.userDataMu.Lock()
	defer s.userDataMu.Unlock()
	v, ok := s.userData[key]
	return v, ok
}

func (s *Session) SetUserData(key string, value any) {
	s.userDataMu.Lock()
	defer s.userDataMu.Unlock()
	s.userData[key] = value
}

// onStatusChanged is the FSM's "after_event" callback. It exists so
// logging/metrics/timestamp bookkeeping happens in exactly one place
// regardless of which transition fired.
func (s *Session) onStatusChanged(from, to Status) {
	s.logger.Debug("status transition", String("from", string(from)), String("to", string(to)))
	if (to == StatusConfirmed || to == StatusWaitingForAck) && s.startTime.IsZero() {
		s.startTime = time.Now()
	}
}

// setDialogID composes the dialog-id per spec §3 once tags are known
// and re-registers the session under its final id. The extra
// Register call (beyond the one InitIncoming/Connect already make) is
// what lets a Registry implementation that indexes by Session.ID()
// notice the id changed and re-key, since this is the only point in a
// session's life where s.id mutates after registration.
func (s *Session) setDialogID(callID, localTag, remoteTag string) {
	s.callID, s.localTag, s.remoteTag = callID, localTag, remoteTag
	s.id = callID + localTag + remoteTag
	s.logger = s.logger.WithSession(s.id)
	s.registry.Register(s)
}

// emit delivers ev to observers and applies invariant 6 (failed/ended
// at most once, mutually exclusive) before handing off.
func (s *Session) emit(ev Event) {
	switch ev.Kind {
	case EventFailed:
		if s.endedEmitted || s.failedEmitted {
			return
		}
		s.failedEmitted = true
	case EventEnded:
		if s.endedEmitted || s.failedEmitted {
			return
		}
		s.endedEmitted = true
	}
	s.observers.emit(ev)
}

// Connect is the UAC entry point (spec §4.1 connect). target is an
// opaque destination string interpreted by the signaling collaborator
// (e.g. a SIP URI); the session itself never parses it.
func (s *Session) Connect(ctx context.Context, target string, newRequest func(target string, headers map[string]string, body []byte) (RequestSender, IncomingMessage, error), opts ...ConnectOption) error {
	if s.direction != DirectionOutgoing {
		return fmt.Errorf("%w: Connect is UAC-only", ErrNotSupported)
	}
	cfg, err := newConnectConfig(opts)
	if err != nil {
		return err
	}
	if target == "" {
		return fmt.Errorf("%w: empty target", ErrInvalidArgument)
	}
	if s.mediaFactory == nil {
		return fmt.Errorf("%w: no media factory configured", ErrNotSupported)
	}

	return s.submitResult(func() error {
		if s.status() != StatusNull {
			return fmt.Errorf("%w: Connect requires status NULL, have %s", ErrInvalidState, s.status())
		}

		media, err := s.mediaFactory.NewMediaHandler(cfg.dtlsConstraints)
		if err != nil {
			return fmt.Errorf("%w: media unavailable: %v", ErrNotSupported, err)
		}
		s.media = media
		s.registry.Register(s)
		s.metrics.registered()
		s.emit(Event{Kind: EventNewSession, Originator: OriginatorLocal})

		if s.isCanceled {
			// terminate() was called pre-connect: the INVITE never goes
			// on the wire at all (spec §4.1 terminate table, NULL row).
			s.close()
			return nil
		}

		headers := map[string]string{"Content-Type": "application/sdp"}
		if cfg.anonymous {
			headers["Privacy"] = "id"
			headers["P-Preferred-Identity"] = "sip:anonymous@anonymous.invalid"
		}
		for k, v := range cfg.extraHeaders {
			headers[k] = v
		}

		var stream Stream
		if cfg.mediaStream != nil {
			stream = cfg.mediaStream
		} else {
			stream, err = media.GetUserMedia(ctx, cfg.mediaConstraints)
			if err != nil {
				s.emit(Event{Kind: EventFailed, Originator: OriginatorLocal, Cause: CauseUserDeniedMediaAccess})
				return newSessionError(s.id, CauseUserDeniedMediaAccess, err)
			}
		}
		if err := media.AddStream(stream); err != nil {
			s.emit(Event{Kind: EventFailed, Originator: OriginatorLocal, Cause: CauseWebrtcError})
			return newSessionError(s.id, CauseWebrtcError, err)
		}

		offer, err := media.CreateOffer(ctx)
		if err != nil {
			s.emit(Event{Kind: EventFailed, Originator: OriginatorLocal, Cause: CauseWebrtcError})
			return newSessionError(s.id, CauseWebrtcError, err)
		}
		sender, req, err := newRequest(target, headers, offer)
		if err != nil {
			s.emit(Event{Kind: EventFailed, Originator: OriginatorLocal, Cause: CauseConnectionError})
			return newSessionError(s.id, CauseConnectionError, err)
		}
		s.clientTx = sender
		s.uasInvite = req
		if err := s.transition(evConnect); err != nil {
			return err
		}
		s.emit(Event{Kind: EventConnecting, Originator: OriginatorLocal})

		if err := sender.Send(ctx); err != nil {
			s.emit(Event{Kind: EventFailed, Originator: OriginatorLocal, Cause: CauseConnectionError})
			return newSessionError(s.id, CauseConnectionError, err)
		}
		go s.pumpResponses(ctx, sender)
		return nil
	})
}

// Answer is the UAS accept entry point (spec §4.1 answer). It requires
// the session to be DirectionIncoming and status WAITING_FOR_ANSWER.
func (s *Session) Answer(ctx context.Context, opts ...AnswerOption) error {
	if s.direction != DirectionIncoming {
		return fmt.Errorf("%w: Answer is UAS-only", ErrNotSupported)
	}
	cfg, err := newAnswerConfig(opts)
	if err != nil {
		return err
	}

	return s.submitResult(func() error {
		if s.status() != StatusWaitingForAnswer {
			return fmt.Errorf("%w: Answer requires WAITING_FOR_ANSWER, have %s", ErrInvalidState, s.status())
		}
		if err := s.transition(evAnswer); err != nil {
			return err
		}

		// Promote the early dialog created in InitIncoming to confirmed
		// (invariant 2): no second dialog is minted here.
		dlg, ok := s.promoteEarlyDialog()
		if !ok {
			_ = s.uasReplier.Reply(500, "Server Internal Error", nil, nil)
			s.failWithCause(CauseDialogError)
			return newSessionError(s.id, CauseDialogError, fmt.Errorf("no early dialog to promote"))
		}
		s.confirmedDialog = dlg
		s.timers.cancelUserNoAnswer()

		headers := map[string]string{"Content-Type": "application/sdp"}
		for k, v := range cfg.extraHeaders {
			headers[k] = v
		}

		var stream Stream
		if cfg.mediaStream != nil {
			stream = cfg.mediaStream
		} else {
			stream, err = s.media.GetUserMedia(ctx, cfg.mediaConstraints)
			if err != nil {
				_ = s.uasReplier.Reply(480, "Temporarily Unavailable", nil, nil)
				s.failWithCause(CauseUserDeniedMediaAccess)
				return newSessionError(s.id, CauseUserDeniedMediaAccess, err)
			}
		}
		if err := s.media.AddStream(stream); err != nil {
			_ = s.uasReplier.Reply(480, "Temporarily Unavailable", nil, nil)
			s.failWithCause(CauseWebrtcError)
			return newSessionError(s.id, CauseWebrtcError, err)
		}
		s.emit(Event{Kind: EventConnecting, Originator: OriginatorLocal})

		answer, err := s.media.CreateAnswer(ctx)
		if err != nil {
			_ = s.uasReplier.Reply(480, "Temporarily Unavailable", nil, nil)
			s.failWithCause(CauseWebrtcError)
			return newSessionError(s.id, CauseWebrtcError, err)
		}
		s.cachedAnswerBody = answer

		if err := s.uasReplier.Reply(200, "OK", headers, answer); err != nil {
			s.failWithCause(CauseConnectionError)
			return newSessionError(s.id, CauseConnectionError, err)
		}

		if err := s.transition(ev2xxSent); err != nil {
			return err
		}
		s.timers.armInvite2xxRetransmit()
		s.timers.armAckTimer()
		s.metrics.started()
		s.emit(Event{Kind: EventStarted, Originator: OriginatorLocal})
		return nil
	})
}

// pumpResponses feeds every response the signaling collaborator hands
// back for the initial INVITE into receiveResponse, preserving arrival
// order (spec §5 "Messages delivered to the session are processed in
// the order received").
func (s *Session) pumpResponses(ctx context.Context, sender RequestSender) {
	for resp := range sender.Responses() {
		r := resp
		s.notify(func() { s.receiveResponse(ctx, r) })
	}
}
