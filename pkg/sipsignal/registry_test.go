package sipsignal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipcore/rtcsession/pkg/session"
)

// stubMessage is a minimal session.IncomingMessage, grounded in
// fakeMessage from pkg/session's own tests — sipsignal keeps its own
// copy since that type is unexported across the package boundary.
type stubMessage struct {
	method     string
	statusCode int
	callID     string
	fromTag    string
	toTag      string
	body       []byte
}

func (m *stubMessage) Method() string                  { return m.method }
func (m *stubMessage) StatusCode() int                 { return m.statusCode }
func (m *stubMessage) CallID() string                  { return m.callID }
func (m *stubMessage) FromTag() string                 { return m.fromTag }
func (m *stubMessage) ToTag() string                   { return m.toTag }
func (m *stubMessage) Body() []byte                    { return m.body }
func (m *stubMessage) ContentType() string             { return "" }
func (m *stubMessage) GetHeader(string) (string, bool) { return "", false }
func (m *stubMessage) HasHeader(string) bool           { return false }

// stubSender is a session.RequestSender double that lets the test
// inject responses, mirroring pkg/session's fakeSender.
type stubSender struct {
	responses chan session.IncomingMessage
}

func newStubSender() *stubSender {
	return &stubSender{responses: make(chan session.IncomingMessage, 4)}
}

func (s *stubSender) Send(ctx context.Context) error            { return nil }
func (s *stubSender) Cancel(reason string) error                { return nil }
func (s *stubSender) Responses() <-chan session.IncomingMessage { return s.responses }
func (s *stubSender) inject(msg session.IncomingMessage)        { s.responses <- msg }

// stubDialog and stubDialogFactory hand out a dialog per call, enough
// to let a UAC session reach StatusConfirmed.
type stubDialog struct{ id string }

func (d *stubDialog) ID() string       { return d.id }
func (d *stubDialog) Terminate() error { return nil }
func (d *stubDialog) SendRequest(context.Context, string, []byte, map[string]string) error {
	return nil
}

type stubDialogFactory struct{}

func (stubDialogFactory) NewDialog(msg session.IncomingMessage, role session.DialogRole) (session.DialogHandle, error) {
	return &stubDialog{id: msg.CallID() + msg.FromTag() + msg.ToTag()}, nil
}

// stubStream and stubMedia are the trivial MediaHandler this test needs
// to get a session through CreateOffer/OnMessage without a real engine.
type stubStream struct{ id string }

func (s *stubStream) ID() string { return s.id }

type stubMedia struct{}

func (stubMedia) GetUserMedia(context.Context, session.MediaConstraints) (session.Stream, error) {
	return &stubStream{id: "local"}, nil
}
func (stubMedia) AddStream(session.Stream) error                           { return nil }
func (stubMedia) CreateOffer(context.Context) ([]byte, error)              { return []byte("v=0\r\n"), nil }
func (stubMedia) CreateAnswer(context.Context) ([]byte, error)             { return []byte("v=0\r\n"), nil }
func (stubMedia) OnMessage(context.Context, session.SDPKind, []byte) error { return nil }
func (stubMedia) Close() error                                             { return nil }
func (stubMedia) LocalStreams() []session.Stream                           { return nil }
func (stubMedia) RemoteStreams() []session.Stream                          { return []session.Stream{&stubStream{id: "remote"}} }

type stubMediaFactory struct{}

func (stubMediaFactory) NewMediaHandler(session.DTLSConstraints) (session.MediaHandler, error) {
	return stubMedia{}, nil
}

// TestSessionRegistryReKeysOnDialogEstablished drives a real UAC session
// through put -> Connect -> a 2xx response, the exact sequence that
// used to leak: put indexes the session's pre-dialog UUID, the 2xx
// handler then mutates Session.ID() to the dialog composite, and
// Deregister is only ever called with that later id. Before Register
// re-keyed idToCallID on the id change, this Deregister could never
// find the Call-ID and byCallID/idToCallID entries leaked forever.
func TestSessionRegistryReKeysOnDialogEstablished(t *testing.T) {
	reg := newSessionRegistry()
	sess := session.NewSession(session.DirectionOutgoing, session.Config{
		DialogFactory: stubDialogFactory{},
		MediaFactory:  stubMediaFactory{},
		Registry:      reg,
		Logger:        session.NopLogger(),
	})

	const callID = "leak-call-id"
	reg.put(callID, sess)

	preDialogID := sess.ID()
	if _, ok := reg.lookup(callID); !assert.True(t, ok, "session should be indexed under the call-id right after put") {
		return
	}

	sender := newStubSender()
	err := sess.Connect(context.Background(), "sip:bob@example.com",
		func(target string, headers map[string]string, body []byte) (session.RequestSender, session.IncomingMessage, error) {
			return sender, &stubMessage{method: "INVITE", callID: callID, fromTag: "fromtag"}, nil
		})
	require.NoError(t, err)

	sender.inject(&stubMessage{statusCode: 200, callID: callID, fromTag: "fromtag", toTag: "totag",
		body: []byte("v=0\r\n")})
	require.Eventually(t, func() bool { return sess.Status() == session.StatusConfirmed }, time.Second, time.Millisecond)

	finalID := sess.ID()
	require.NotEqual(t, preDialogID, finalID, "setDialogID should have mutated Session.ID() once the dialog was confirmed")

	require.NoError(t, sess.Terminate(context.Background()))
	require.Eventually(t, func() bool { return sess.Status() == session.StatusTerminated }, time.Second, time.Millisecond)

	_, ok := reg.lookup(callID)
	assert.False(t, ok, "byCallID entry must be gone once the session terminates, regardless of which id it was last registered under")
}
