package session

import (
	"context"
	"sync"
)

// fakeMessage is a minimal IncomingMessage for tests, grounded in the
// shape the teacher's dialog.go consumes from sipgo requests/responses.
type fakeMessage struct {
	method      string
	statusCode  int
	callID      string
	fromTag     string
	toTag       string
	body        []byte
	contentType string
	headers     map[string]string
}

func (m *fakeMessage) Method() string     { return m.method }
func (m *fakeMessage) StatusCode() int     { return m.statusCode }
func (m *fakeMessage) CallID() string      { return m.callID }
func (m *fakeMessage) FromTag() string     { return m.fromTag }
func (m *fakeMessage) ToTag() string       { return m.toTag }
func (m *fakeMessage) Body() []byte        { return m.body }
func (m *fakeMessage) ContentType() string { return m.contentType }
func (m *fakeMessage) GetHeader(name string) (string, bool) {
	v, ok := m.headers[name]
	return v, ok
}
func (m *fakeMessage) HasHeader(name string) bool {
	_, ok := m.headers[name]
	return ok
}

// fakeReplier records every reply issued against an incoming request.
type fakeReplier struct {
	mu      sync.Mutex
	replies []fakeReply
}

type fakeReply struct {
	code    int
	phrase  string
	headers map[string]string
	body    []byte
}

func (r *fakeReplier) Reply(code int, phrase string, headers map[string]string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, fakeReply{code, phrase, headers, body})
	return nil
}

func (r *fakeReplier) last() (fakeReply, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.replies) == 0 {
		return fakeReply{}, false
	}
	return r.replies[len(r.replies)-1], true
}

func (r *fakeReplier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.replies)
}

// fakeSender is a RequestSender test double that lets the test inject
// responses and observe Cancel/Send calls.
type fakeSender struct {
	mu        sync.Mutex
	sent      bool
	canceled  bool
	cancelMsg string
	responses chan IncomingMessage
}

func newFakeSender() *fakeSender {
	return &fakeSender{responses: make(chan IncomingMessage, 8)}
}

func (f *fakeSender) Send(ctx context.Context) error {
	f.mu.Lock()
	f.sent = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) Cancel(reason string) error {
	f.mu.Lock()
	f.canceled = true
	f.cancelMsg = reason
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) Responses() <-chan IncomingMessage {
	return f.responses
}

func (f *fakeSender) inject(msg IncomingMessage) {
	f.responses <- msg
}

func (f *fakeSender) close() {
	close(f.responses)
}

func (f *fakeSender) wasCanceled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canceled
}

// fakeDialog is a DialogHandle test double recording every in-dialog
// request sent on it.
type fakeDialog struct {
	id string

	mu          sync.Mutex
	requests    []string
	terminated  bool
}

func (d *fakeDialog) ID() string { return d.id }

func (d *fakeDialog) Terminate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.terminated = true
	return nil
}

func (d *fakeDialog) SendRequest(ctx context.Context, method string, body []byte, headers map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, method)
	return nil
}

func (d *fakeDialog) sentMethods() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.requests...)
}

// fakeDialogFactory hands out a fresh fakeDialog per call, keyed by the
// message's composite id so repeated lookups for the same message (e.g.
// a 2xx retransmission) would collide deliberately if ever exercised.
type fakeDialogFactory struct {
	mu      sync.Mutex
	created []*fakeDialog
	fail    bool
}

func (f *fakeDialogFactory) NewDialog(msg IncomingMessage, role DialogRole) (DialogHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errFakeDialogFailure
	}
	d := &fakeDialog{id: msg.CallID() + msg.FromTag() + msg.ToTag()}
	f.created = append(f.created, d)
	return d, nil
}

var errFakeDialogFailure = &fakeErr{"dialog factory failure"}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

// fakeStream is the trivial Stream implementation.
type fakeStream struct{ id string }

func (s *fakeStream) ID() string { return s.id }

// fakeMedia is a MediaHandler test double. CreateOffer/CreateAnswer
// return fixed bodies; OnMessage adds one remote stream per call and can
// be told to fail for negative-path tests.
type fakeMedia struct {
	mu            sync.Mutex
	closed        bool
	offerErr      error
	answerErr     error
	onMessageErr  error
	localStreams  []Stream
	remoteStreams []Stream
}

func (m *fakeMedia) GetUserMedia(ctx context.Context, c MediaConstraints) (Stream, error) {
	return &fakeStream{id: "local-stream"}, nil
}

func (m *fakeMedia) AddStream(stream Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localStreams = append(m.localStreams, stream)
	return nil
}

func (m *fakeMedia) CreateOffer(ctx context.Context) ([]byte, error) {
	if m.offerErr != nil {
		return nil, m.offerErr
	}
	return []byte("v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\n"), nil
}

func (m *fakeMedia) CreateAnswer(ctx context.Context) ([]byte, error) {
	if m.answerErr != nil {
		return nil, m.answerErr
	}
	return []byte("v=0\r\no=- 2 1 IN IP4 127.0.0.1\r\n"), nil
}

func (m *fakeMedia) OnMessage(ctx context.Context, kind SDPKind, sdp []byte) error {
	if m.onMessageErr != nil {
		return m.onMessageErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remoteStreams = append(m.remoteStreams, &fakeStream{id: "remote-stream"})
	return nil
}

func (m *fakeMedia) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *fakeMedia) LocalStreams() []Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localStreams
}

func (m *fakeMedia) RemoteStreams() []Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteStreams
}

type fakeMediaFactory struct {
	media *fakeMedia
}

func (f *fakeMediaFactory) NewMediaHandler(d DTLSConstraints) (MediaHandler, error) {
	return f.media, nil
}

// fakeRegistry records register/deregister calls.
type fakeRegistry struct {
	mu         sync.Mutex
	registered map[string]bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{registered: map[string]bool{}}
}

func (r *fakeRegistry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered[s.id] = true
}

func (r *fakeRegistry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.registered, id)
}

func (r *fakeRegistry) isRegistered(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered[id]
}
