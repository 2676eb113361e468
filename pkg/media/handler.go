package media

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/sipcore/rtcsession/pkg/session"
)

// defaultPayloadTypes is the codec preference order offered on every
// CreateOffer/CreateAnswer, narrowed from the teacher's media_builder
// default format list down to the two ubiquitous narrowband codecs.
var defaultPayloadTypes = []uint8{0, 8}

// handler implements session.MediaHandler over one local UDP RTP
// socket and (once the remote SDP is known) one remote send target,
// generalized from media_builder.Builder's offer/answer lifecycle but
// built directly on pion/sdp and pion/rtp rather than the teacher's
// own SDP string templating.
type handler struct {
	mu          sync.Mutex
	constraints session.DTLSConstraints
	localIP     string

	local  *rtpStream
	remote *rtpStream

	remoteNegotiated bool
	dtls             *dtlsSession

	closed bool
}

// mediaFactory implements session.MediaFactory, constructing one
// handler per session the way the teacher's BuilderManager.CreateBuilder
// constructs one Builder per call.
type mediaFactory struct {
	localIP string
}

// NewMediaFactory returns a session.MediaFactory bound to localIP, the
// address advertised in every SDP this process originates.
func NewMediaFactory(localIP string) session.MediaFactory {
	if localIP == "" {
		localIP = "127.0.0.1"
	}
	return &mediaFactory{localIP: localIP}
}

func (f *mediaFactory) NewMediaHandler(constraints session.DTLSConstraints) (session.MediaHandler, error) {
	return &handler{constraints: constraints, localIP: f.localIP}, nil
}

func (h *handler) GetUserMedia(ctx context.Context, constraints session.MediaConstraints) (session.Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.local != nil {
		return h.local, nil
	}
	stream, err := newLocalStream(defaultPayloadTypes[0])
	if err != nil {
		return nil, err
	}
	h.local = stream
	return stream, nil
}

// AddStream makes stream the handler's one local stream. Any *rtpStream
// is accepted and replaces the current one; it need not be the stream
// GetUserMedia returned.
func (h *handler) AddStream(stream session.Stream) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := stream.(*rtpStream)
	if !ok {
		return fmt.Errorf("media: AddStream: unexpected stream type %T", stream)
	}
	h.local = s
	return nil
}

func (h *handler) CreateOffer(ctx context.Context) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.local == nil {
		return nil, fmt.Errorf("media: CreateOffer: no local stream, call GetUserMedia first")
	}
	sd := buildSessionDescription(sdpParams{
		localIP:      h.localIP,
		localPort:    h.local.localPort(),
		payloadTypes: defaultPayloadTypes,
		direction:    "sendrecv",
	})
	return sd.Marshal()
}

func (h *handler) CreateAnswer(ctx context.Context) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.local == nil {
		return nil, fmt.Errorf("media: CreateAnswer: no local stream, call GetUserMedia first")
	}
	if !h.remoteNegotiated {
		return nil, fmt.Errorf("media: CreateAnswer: no remote offer received yet")
	}
	payloadTypes := defaultPayloadTypes
	if h.remote != nil {
		payloadTypes = []uint8{h.remote.payloadType}
	}
	sd := buildSessionDescription(sdpParams{
		localIP:      h.localIP,
		localPort:    h.local.localPort(),
		payloadTypes: payloadTypes,
		direction:    "sendrecv",
	})
	return sd.Marshal()
}

// OnMessage parses the remote SDP (offer or answer), wires the local
// socket's remote send target, and — when the handler was constructed
// with a DTLS fingerprint constraint — starts the DTLS-SRTP keying
// handshake in the background. Fingerprint attributes in the remote
// SDP are not read. The handshake's outcome is not awaited here: the spec's
// offer/answer exchange completes on the SIP signaling timeline, DTLS
// keying rides alongside it rather than blocking it, matching how the
// teacher's DTLSTransport.connect runs independently of SDP exchange.
func (h *handler) OnMessage(ctx context.Context, kind session.SDPKind, body []byte) error {
	sd, err := parseSessionDescription(body)
	if err != nil {
		return err
	}
	negotiated, err := negotiateRemote(sd)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.remote == nil {
		h.remote = newRemoteStream(negotiated.payloadType, negotiated.addr)
	} else {
		h.remote.payloadType = negotiated.payloadType
		h.remote.setRemoteAddr(negotiated.addr)
	}
	if h.local != nil {
		h.local.setRemoteAddr(negotiated.addr)
	}
	h.remoteNegotiated = true
	isClient := kind == session.SDPAnswer
	constraints := h.constraints
	addr := negotiated.addr
	h.mu.Unlock()

	if constraints.Fingerprint != "" {
		go h.startDTLS(addr, constraints, isClient)
	}
	return nil
}

func (h *handler) startDTLS(addr *net.UDPAddr, constraints session.DTLSConstraints, isClient bool) {
	sess, err := dialDTLS(context.Background(), addr, constraints, isClient)
	if err != nil {
		return
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sess.Close()
		return
	}
	h.dtls = sess
	h.mu.Unlock()
}

func (h *handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.dtls != nil {
		h.dtls.Close()
	}
	if h.local != nil {
		return h.local.close()
	}
	return nil
}

func (h *handler) LocalStreams() []session.Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.local == nil {
		return nil
	}
	return []session.Stream{h.local}
}

func (h *handler) RemoteStreams() []session.Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.remote == nil {
		return nil
	}
	return []session.Stream{h.remote}
}
