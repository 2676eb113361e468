package session

import "context"

// SDPKind distinguishes an offer from an answer when feeding SDP into
// the media handler, per spec §6 onMessage(kind in {offer, answer}).
type SDPKind int

const (
	SDPOffer SDPKind = iota
	SDPAnswer
)

// MediaConstraints mirrors getUserMedia's constraints object, defaulted
// to {audio:true, video:true} per spec §6.
type MediaConstraints struct {
	Audio bool
	Video bool
}

// DTLSConstraints carries optional DTLS/SRTP fingerprint constraints
// the media handler is constructed with (spec §6: "A MediaHandler
// constructed per session with optional DTLS/SRTP constraints").
type DTLSConstraints struct {
	Fingerprint    string
	FingerprintAlg string
}

// Stream is an opaque local or remote media endpoint handed back to
// callers via LocalStreams/RemoteStreams; the session never inspects
// its contents, only counts and forwards it.
type Stream interface {
	ID() string
}

// MediaHandler is the abstract offer/answer and stream-attachment
// interface the core speaks to; the concrete media engine lives outside
// this package (see spec §1 Out-of-scope, and the media package in this
// repo which implements it).
type MediaHandler interface {
	GetUserMedia(ctx context.Context, constraints MediaConstraints) (Stream, error)
	AddStream(stream Stream) error
	CreateOffer(ctx context.Context) ([]byte, error)
	CreateAnswer(ctx context.Context) ([]byte, error)
	OnMessage(ctx context.Context, kind SDPKind, sdp []byte) error
	Close() error
	LocalStreams() []Stream
	RemoteStreams() []Stream
}

// MediaFactory constructs a MediaHandler per session, mirroring the
// teacher's media_builder.BuilderManager.CreateBuilder shape.
type MediaFactory interface {
	NewMediaHandler(constraints DTLSConstraints) (MediaHandler, error)
}
