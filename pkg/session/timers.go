package session

import (
	"context"
	"time"
)

// RFC 3261 transport timers, carried over from the teacher's
// timeout_manager.go constants (TimerT1, TimerT2, TimerH = 64*T1).
const (
	T1     = 500 * time.Millisecond
	T2     = 4 * time.Second
	TimerH = 64 * T1
)

// timerHandle abstracts a single pending timer so tests can inject a
// fake clock without this package depending on a specific scheduler
// library — grounded on the shape of the teacher's TimeoutHandle, but
// reduced to the one operation this core needs.
type timerHandle interface {
	Stop()
}

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() { r.t.Stop() }

// afterFunc is the clock seam: schedule fn to run after d, returning a
// handle that can cancel it. Overridable in tests (see manualClock in
// session_test.go) so the timer matrix in spec §8 scenario 4 never sleeps in wall-clock
// time.
type afterFunc func(d time.Duration, fn func()) timerHandle

func realAfterFunc(d time.Duration, fn func()) timerHandle {
	return realTimer{t: time.AfterFunc(d, fn)}
}

// timerSet owns the four named timers of spec §3/§4.4, all session-
// scoped, single-shot (a retransmission timer re-arms itself
// explicitly rather than repeating).
type timerSet struct {
	s *Session

	after afterFunc

	invite2xx         timerHandle
	invite2xxInterval time.Duration

	ack timerHandle

	userNoAnswer timerHandle

	expires timerHandle
}

func newTimerSet(s *Session) *timerSet {
	return &timerSet{s: s, after: realAfterFunc}
}

// armInvite2xxRetransmit starts the UAS 2xx retransmission timer at T1
// (spec §4.4). This is an application-level retransmission because the
// INVITE server transaction is destroyed on the first 2xx per RFC 3261
// §13.3.1.4, so nothing below this package retransmits for us.
func (ts *timerSet) armInvite2xxRetransmit() {
	ts.invite2xxInterval = T1
	ts.scheduleInvite2xx(ts.invite2xxInterval)
}

func (ts *timerSet) scheduleInvite2xx(d time.Duration) {
	ts.invite2xx = ts.after(d, func() {
		ts.s.notify(ts.s.onInvite2xxFire)
	})
}

func (ts *timerSet) cancelInvite2xxRetransmit() {
	if ts.invite2xx != nil {
		ts.invite2xx.Stop()
		ts.invite2xx = nil
	}
}

func (ts *timerSet) armAckTimer() {
	ts.ack = ts.after(TimerH, func() {
		ts.s.notify(ts.s.onAckTimerFire)
	})
}

func (ts *timerSet) cancelAckTimer() {
	if ts.ack != nil {
		ts.ack.Stop()
		ts.ack = nil
	}
}

func (ts *timerSet) armUserNoAnswer(d time.Duration) {
	ts.userNoAnswer = ts.after(d, func() {
		ts.s.notify(ts.s.onUserNoAnswerFire)
	})
}

func (ts *timerSet) cancelUserNoAnswer() {
	if ts.userNoAnswer != nil {
		ts.userNoAnswer.Stop()
		ts.userNoAnswer = nil
	}
}

func (ts *timerSet) armExpires(d time.Duration) {
	ts.expires = ts.after(d, func() {
		ts.s.notify(ts.s.onExpiresFire)
	})
}

func (ts *timerSet) cancelExpires() {
	if ts.expires != nil {
		ts.expires.Stop()
		ts.expires = nil
	}
}

// cancelAll clears every timer, enforcing invariant 3 ("every timer is
// cleared on every path into TERMINATED"). Called from close().
func (ts *timerSet) cancelAll() {
	ts.cancelInvite2xxRetransmit()
	ts.cancelAckTimer()
	ts.cancelUserNoAnswer()
	ts.cancelExpires()
}

// onInvite2xxFire implements the retransmission semantics of spec
// §4.4: re-reply 200 with the cached body, reschedule at
// min(2*previous, T2), stop once no longer WAITING_FOR_ACK.
func (s *Session) onInvite2xxFire() {
	if s.guardTerminated() {
		return
	}
	if s.status() != StatusWaitingForAck {
		return
	}
	s.metrics.timerFired("invite2xx")
	if s.uasReplier != nil {
		_ = s.uasReplier.Reply(200, "OK", map[string]string{"Content-Type": "application/sdp"}, s.cachedAnswerBody)
	}
	next := s.timers.invite2xxInterval * 2
	if next > T2 {
		next = T2
	}
	s.timers.invite2xxInterval = next
	s.timers.scheduleInvite2xx(next)
}

// onAckTimerFire implements spec §4.4 ackTimer: if still
// WAITING_FOR_ACK, cancel the retransmission timer, send BYE, and
// report ended(remote, NO_ACK).
func (s *Session) onAckTimerFire() {
	if s.guardTerminated() {
		return
	}
	if s.status() != StatusWaitingForAck {
		return
	}
	s.metrics.timerFired("ack")
	s.timers.cancelInvite2xxRetransmit()
	if s.confirmedDialog != nil {
		_ = s.confirmedDialog.SendRequest(context.Background(), "BYE", nil, nil)
	}
	s.endTime = time.Now()
	s.close()
	s.metrics.ended(s.endTime.Sub(s.startTime).Seconds())
	s.emit(Event{Kind: EventEnded, Originator: OriginatorRemote, Cause: CauseNoAck})
}

// onUserNoAnswerFire implements spec §4.4 userNoAnswerTimer.
func (s *Session) onUserNoAnswerFire() {
	if s.guardTerminated() {
		return
	}
	if s.status() != StatusWaitingForAnswer {
		return
	}
	s.metrics.timerFired("userNoAnswer")
	if s.uasReplier != nil {
		_ = s.uasReplier.Reply(408, "Request Timeout", nil, nil)
	}
	s.failWithCause(CauseNoAnswer)
}

// onExpiresFire implements spec §4.4 expiresTimer.
func (s *Session) onExpiresFire() {
	if s.guardTerminated() {
		return
	}
	if s.status() != StatusWaitingForAnswer {
		return
	}
	s.metrics.timerFired("expires")
	if s.uasReplier != nil {
		_ = s.uasReplier.Reply(487, "Request Terminated", nil, nil)
	}
	s.failWithCause(CauseExpires)
}
