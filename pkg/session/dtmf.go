package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dtmfScheduler is C5: it queues and paces DTMF tones at per-session
// cadence (spec §4.5). In-band DTMF transport is explicitly out of
// scope (spec §1); this type only decides when a tone event fires, not
// how it reaches the wire.
type dtmfScheduler struct {
	s        *Session
	queue    []rune
	inFlight bool
	cfg      dtmfConfig
	pending  timerHandle
	after    afterFunc
}

func newDTMFScheduler(s *Session) *dtmfScheduler {
	return &dtmfScheduler{s: s, after: realAfterFunc}
}

const dtmfAlphabet = "0123456789ABCD#*,"

func validateTones(tones string) error {
	if tones == "" {
		return fmt.Errorf("%w: empty DTMF tones", ErrInvalidArgument)
	}
	for _, r := range strings.ToUpper(tones) {
		if !strings.ContainsRune(dtmfAlphabet, r) {
			return fmt.Errorf("%w: invalid DTMF tone %q", ErrInvalidArgument, r)
		}
	}
	return nil
}

// SendDTMF queues tones for transmission (spec §4.5 sendDTMF).
func (s *Session) SendDTMF(tones string, opts ...DTMFOption) error {
	if err := validateTones(tones); err != nil {
		return err
	}
	cfg, err := newDTMFConfig(opts)
	if err != nil {
		return err
	}
	return s.submitResult(func() error {
		switch s.status() {
		case StatusConfirmed, StatusWaitingForAck:
		default:
			return fmt.Errorf("%w: sendDTMF requires CONFIRMED or WAITING_FOR_ACK", ErrInvalidState)
		}
		s.dtmf.enqueue(strings.ToUpper(tones), cfg)
		return nil
	})
}

// enqueue appends tones to the queue; per spec §4.5 "Queue semantics",
// a burst already in flight just grows, otherwise a fresh schedule
// starts with a 0 ms initial delay.
func (ds *dtmfScheduler) enqueue(tones string, cfg dtmfConfig) {
	ds.cfg = cfg
	ds.queue = append(ds.queue, []rune(tones)...)
	if !ds.inFlight {
		ds.inFlight = true
		ds.scheduleNext(0)
	}
}

func (ds *dtmfScheduler) scheduleNext(d time.Duration) {
	ds.pending = ds.after(d, func() {
		ds.s.notify(ds.fire)
	})
}

// fire sends (emits) the next queued tone, or advances past a comma
// pause, or idles the scheduler when the queue drains.
func (ds *dtmfScheduler) fire() {
	s := ds.s
	if s.guardTerminated() {
		ds.clear()
		return
	}
	switch s.status() {
	case StatusConfirmed, StatusWaitingForAck:
	default:
		ds.clear()
		return
	}

	if len(ds.queue) == 0 {
		ds.inFlight = false
		return
	}

	tone := ds.queue[0]
	ds.queue = ds.queue[1:]

	if tone == ',' {
		ds.scheduleNext(dtmfCommaPause)
		return
	}

	s.emit(Event{Kind: EventNewDTMF, Originator: OriginatorLocal, Tone: tone})
	s.metrics.dtmfSent()
	ds.scheduleNext(ds.cfg.duration + ds.cfg.interToneGap)
}

// clear drops the queue and stops any pending tone. close() (spec §4.5
// "Termination... clears the queue") calls it, and so does fire when a
// tone comes due after the session has left CONFIRMED/WAITING_FOR_ACK.
func (ds *dtmfScheduler) clear() {
	if ds.pending != nil {
		ds.pending.Stop()
		ds.pending = nil
	}
	ds.queue = nil
	ds.inFlight = false
}

// receiveDTMFRelay parses an inbound INFO application/dtmf-relay body
// ("Signal=<digit>\r\nDuration=<ms>") and emits newDTMF for it, per the
// Open-Question resolution in SPEC_FULL.md §5.9.
func (s *Session) receiveDTMFRelay(req IncomingMessage) {
	signal, _ := parseDTMFRelayBody(req.Body())
	if signal == 0 {
		return
	}
	s.emit(Event{Kind: EventNewDTMF, Originator: OriginatorRemote, Tone: signal, Request: req})
}

func parseDTMFRelayBody(body []byte) (rune, time.Duration) {
	var signal rune
	var duration time.Duration
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(strings.ToLower(line), "signal="):
			v := strings.TrimSpace(line[len("signal="):])
			if v != "" {
				signal = []rune(strings.ToUpper(v))[0]
			}
		case strings.HasPrefix(strings.ToLower(line), "duration="):
			v := strings.TrimSpace(line[len("duration="):])
			if ms, err := strconv.Atoi(v); err == nil {
				duration = time.Duration(ms) * time.Millisecond
			}
		}
	}
	return signal, duration
}
