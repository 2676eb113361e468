package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualClock lets tests fire timers deterministically instead of
// sleeping, per SPEC_FULL.md §11 ("injectable clock... so tests do not
// sleep in wall-clock time").
type manualClock struct {
	mu      sync.Mutex
	pending []*manualTimer
}

type manualTimer struct {
	fn       func()
	stopped  bool
	duration time.Duration
}

func (t *manualTimer) Stop() { t.stopped = true }

func (c *manualClock) after(d time.Duration, fn func()) timerHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{fn: fn, duration: d}
	c.pending = append(c.pending, t)
	return t
}

// fireAll advances the clock to the next due timer: it finds the
// shortest-duration pending, not-yet-stopped timer, removes it, and
// runs its callback. Any timer the callback re-arms is scheduled fresh
// and is not a candidate until a later fireAll call — this approximates
// real timer ordering well enough for the invite2xx-vs-ackTimer race
// without needing a full virtual clock.
func (c *manualClock) fireAll() {
	c.mu.Lock()
	idx := -1
	for i, t := range c.pending {
		if t.stopped {
			continue
		}
		if idx == -1 || t.duration < c.pending[idx].duration {
			idx = i
		}
	}
	var next *manualTimer
	if idx != -1 {
		next = c.pending[idx]
		c.pending = append(c.pending[:idx], c.pending[idx+1:]...)
	}
	c.mu.Unlock()
	if next != nil {
		next.fn()
	}
}

// fireNext fires the next due timer on clock and then waits until the
// session's event loop has run the work that timer handed it via
// notify, so the timer's effects are visible when fireNext returns.
func fireNext(s *Session, clock *manualClock) {
	clock.fireAll()
	_ = s.submit(func() {})
}

func newEventRecorder(s *Session) *[]Event {
	var mu sync.Mutex
	got := []Event{}
	for _, kind := range []EventKind{
		EventNewSession, EventConnecting, EventProgress, EventStarted,
		EventNewDTMF, EventEnded, EventFailed,
	} {
		k := kind
		s.On(k, func(ev Event) {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
		})
	}
	return &got
}

func newTestUACSession(t *testing.T) (*Session, *fakeDialogFactory, *fakeMedia, *fakeRegistry) {
	t.Helper()
	factory := &fakeDialogFactory{}
	media := &fakeMedia{}
	reg := newFakeRegistry()
	s := NewSession(DirectionOutgoing, Config{
		DialogFactory: factory,
		MediaFactory:  &fakeMediaFactory{media: media},
		Registry:      reg,
		Logger:        NopLogger(),
	})
	return s, factory, media, reg
}

func TestUACHappyPath(t *testing.T) {
	s, _, media, reg := newTestUACSession(t)
	events := newEventRecorder(s)

	sender := newFakeSender()
	var sentBody []byte
	err := s.Connect(context.Background(), "sip:bob@example.com",
		func(target string, headers map[string]string, body []byte) (RequestSender, IncomingMessage, error) {
			sentBody = body
			return sender, &fakeMessage{method: "INVITE", callID: "call1", fromTag: "fromtag"}, nil
		})
	require.NoError(t, err)
	assert.NotEmpty(t, sentBody)
	assert.Equal(t, StatusInviteSent, s.Status())
	assert.True(t, reg.isRegistered(s.ID()))

	sender.inject(&fakeMessage{statusCode: 100, callID: "call1", fromTag: "fromtag"})
	sender.inject(&fakeMessage{statusCode: 180, callID: "call1", fromTag: "fromtag", toTag: "totag",
		headers: map[string]string{"Contact": "<sip:bob@1.2.3.4>"}})

	require.Eventually(t, func() bool { return s.Status() == Status1xxReceived }, time.Second, time.Millisecond)

	sender.inject(&fakeMessage{statusCode: 200, callID: "call1", fromTag: "fromtag", toTag: "totag",
		body: []byte("v=0\r\n"), contentType: "application/sdp"})

	require.Eventually(t, func() bool { return s.Status() == StatusConfirmed }, time.Second, time.Millisecond)

	assert.NotEmpty(t, s.RemoteStreams())
	assert.False(t, s.StartTime().IsZero())

	kinds := eventKinds(*events)
	assert.Contains(t, kinds, EventNewSession)
	assert.Contains(t, kinds, EventProgress)
	assert.Contains(t, kinds, EventStarted)
	_ = media
}

func TestUACCancelBeforeAnswer(t *testing.T) {
	s, _, _, _ := newTestUACSession(t)
	events := newEventRecorder(s)

	sender := newFakeSender()
	err := s.Connect(context.Background(), "sip:bob@example.com",
		func(target string, headers map[string]string, body []byte) (RequestSender, IncomingMessage, error) {
			return sender, &fakeMessage{method: "INVITE", callID: "call2", fromTag: "fromtag"}, nil
		})
	require.NoError(t, err)

	sender.inject(&fakeMessage{statusCode: 180, callID: "call2", fromTag: "fromtag", toTag: "totag"})
	require.Eventually(t, func() bool { return s.Status() == Status1xxReceived }, time.Second, time.Millisecond)

	require.NoError(t, s.Terminate(context.Background()))
	assert.True(t, sender.wasCanceled())

	sender.inject(&fakeMessage{statusCode: 487, callID: "call2", fromTag: "fromtag", toTag: "totag"})
	require.Eventually(t, func() bool { return s.Status() == StatusTerminated }, time.Second, time.Millisecond)

	kinds := eventKinds(*events)
	assert.Contains(t, kinds, EventFailed)
	assert.NotContains(t, kinds, EventStarted)
}

func TestForked2xxTerminatesThrowawayDialog(t *testing.T) {
	s, factory, _, _ := newTestUACSession(t)
	events := newEventRecorder(s)

	sender := newFakeSender()
	require.NoError(t, s.Connect(context.Background(), "sip:bob@example.com",
		func(target string, headers map[string]string, body []byte) (RequestSender, IncomingMessage, error) {
			return sender, &fakeMessage{method: "INVITE", callID: "call3", fromTag: "fromtag"}, nil
		}))

	sender.inject(&fakeMessage{statusCode: 200, callID: "call3", fromTag: "fromtag", toTag: "branchA",
		body: []byte("v=0\r\n"), contentType: "application/sdp"})
	require.Eventually(t, func() bool { return s.Status() == StatusConfirmed }, time.Second, time.Millisecond)

	sender.inject(&fakeMessage{statusCode: 200, callID: "call3", fromTag: "fromtag", toTag: "branchB",
		body: []byte("v=0\r\n"), contentType: "application/sdp"})
	require.Eventually(t, func() bool { return len(factory.created) == 2 }, time.Second, time.Millisecond)

	throwaway := factory.created[1]
	require.Eventually(t, func() bool {
		methods := throwaway.sentMethods()
		return len(methods) == 2 && methods[0] == "ACK" && methods[1] == "BYE"
	}, time.Second, time.Millisecond)

	startedCount := 0
	for _, ev := range *events {
		if ev.Kind == EventStarted {
			startedCount++
		}
	}
	assert.Equal(t, 1, startedCount)
}

func TestDTMFQueueOrderAndClamping(t *testing.T) {
	s, _, _, _ := confirmedUACSession(t)
	clock := &manualClock{}
	s.dtmf.after = clock.after

	events := newEventRecorder(s)

	require.NoError(t, s.SendDTMF("1", WithDTMFDuration(1*time.Millisecond)))

	// duration clamps up to DTMFMinDuration since 1ms is below MIN.
	require.NoError(t, s.submit(func() {
		assert.Equal(t, DTMFMinDuration, s.dtmf.cfg.duration)
	}))

	require.NoError(t, s.SendDTMF("2"))

	for i := 0; i < 2; i++ {
		fireNext(s, clock)
	}

	var tones []rune
	for _, ev := range *events {
		if ev.Kind == EventNewDTMF {
			tones = append(tones, ev.Tone)
		}
	}
	assert.Equal(t, []rune{'1', '2'}, tones)
}

func TestDTMFCommaPauseEmitsNoEvent(t *testing.T) {
	s, _, _, _ := confirmedUACSession(t)
	clock := &manualClock{}
	s.dtmf.after = clock.after
	events := newEventRecorder(s)

	require.NoError(t, s.SendDTMF("1,2"))
	fireNext(s, clock) // sends '1'
	fireNext(s, clock) // consumes ','
	fireNext(s, clock) // sends '2'

	var tones []rune
	for _, ev := range *events {
		if ev.Kind == EventNewDTMF {
			tones = append(tones, ev.Tone)
		}
	}
	assert.Equal(t, []rune{'1', '2'}, tones)
}

func TestDeferredByeOnAck(t *testing.T) {
	s, factory, media, reg := newTestUASSession(t)
	events := newEventRecorder(s)

	replier := &fakeReplier{}
	req := &fakeMessage{method: "INVITE", callID: "call4", fromTag: "peer-from",
		contentType: "application/sdp", body: []byte("v=0\r\n")}
	require.NoError(t, s.InitIncoming(context.Background(), req, replier, nil))
	require.NoError(t, s.Answer(context.Background()))
	require.Equal(t, StatusWaitingForAck, s.Status())

	require.NoError(t, s.Terminate(context.Background()))
	require.Equal(t, StatusWaitingForAck, s.Status(), "terminate must not send BYE yet")

	dlg := factory.created[0]
	assert.Empty(t, dlg.sentMethods())

	s.notify(func() {
		s.receiveRequest(context.Background(), &fakeMessage{method: "ACK", callID: "call4"}, replier)
	})
	require.Eventually(t, func() bool { return s.Status() == StatusTerminated }, time.Second, time.Millisecond)

	assert.Equal(t, []string{"BYE"}, dlg.sentMethods())
	assert.False(t, reg.isRegistered(s.ID()))
	assert.True(t, media.closed)

	endedCount := 0
	for _, ev := range *events {
		if ev.Kind == EventEnded {
			endedCount++
		}
	}
	assert.Equal(t, 1, endedCount)
}

func TestUASNoAnswerTimeout(t *testing.T) {
	s, _, _, _ := newTestUASSession(t)
	clock := &manualClock{}
	s.timers.after = clock.after

	replier := &fakeReplier{}
	req := &fakeMessage{method: "INVITE", callID: "call5", fromTag: "peer-from",
		contentType: "application/sdp", body: []byte("v=0\r\n")}
	require.NoError(t, s.InitIncoming(context.Background(), req, replier, nil))
	require.Equal(t, StatusWaitingForAnswer, s.Status())

	clock.fireAll()
	require.Eventually(t, func() bool { return s.Status() == StatusTerminated }, time.Second, time.Millisecond)

	last, ok := replier.last()
	require.True(t, ok)
	assert.Equal(t, 408, last.code)
}

func TestInviteRetransmissionBacksOffAndStopsAtAck(t *testing.T) {
	s, _, _, _ := newTestUASSession(t)
	clock := &manualClock{}
	s.timers.after = clock.after

	replier := &fakeReplier{}
	req := &fakeMessage{method: "INVITE", callID: "call6", fromTag: "peer-from",
		contentType: "application/sdp", body: []byte("v=0\r\n")}
	require.NoError(t, s.InitIncoming(context.Background(), req, replier, nil))
	require.NoError(t, s.Answer(context.Background()))

	repliesBefore := replier.count()
	fireNext(s, clock) // T1 retransmit
	fireNext(s, clock) // 2*T1 retransmit
	assert.Equal(t, repliesBefore+2, replier.count())

	s.notify(func() {
		s.receiveRequest(context.Background(), &fakeMessage{method: "ACK", callID: "call6"}, replier)
	})
	require.Eventually(t, func() bool { return s.Status() == StatusConfirmed }, time.Second, time.Millisecond)

	stable := replier.count()
	fireNext(s, clock) // any still-pending retransmit must no-op post-ACK
	assert.Equal(t, stable, replier.count())
}

func newTestUASSession(t *testing.T) (*Session, *fakeDialogFactory, *fakeMedia, *fakeRegistry) {
	t.Helper()
	factory := &fakeDialogFactory{}
	media := &fakeMedia{}
	reg := newFakeRegistry()
	s := NewSession(DirectionIncoming, Config{
		DialogFactory:   factory,
		MediaFactory:    &fakeMediaFactory{media: media},
		Registry:        reg,
		Logger:          NopLogger(),
		NoAnswerTimeout: time.Hour,
	})
	return s, factory, media, reg
}

func confirmedUACSession(t *testing.T) (*Session, *fakeDialogFactory, *fakeMedia, *fakeRegistry) {
	t.Helper()
	s, factory, media, reg := newTestUACSession(t)
	sender := newFakeSender()
	require.NoError(t, s.Connect(context.Background(), "sip:bob@example.com",
		func(target string, headers map[string]string, body []byte) (RequestSender, IncomingMessage, error) {
			return sender, &fakeMessage{method: "INVITE", callID: "confirmed-call", fromTag: "fromtag"}, nil
		}))
	sender.inject(&fakeMessage{statusCode: 200, callID: "confirmed-call", fromTag: "fromtag", toTag: "totag",
		body: []byte("v=0\r\n"), contentType: "application/sdp"})
	require.Eventually(t, func() bool { return s.Status() == StatusConfirmed }, time.Second, time.Millisecond)
	return s, factory, media, reg
}

func eventKinds(events []Event) []EventKind {
	kinds := make([]EventKind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}
