// Package media is the concrete media collaborator: SDP offer/answer
// construction over github.com/pion/sdp/v3, local/remote stream
// descriptors over github.com/pion/rtp, and DTLS-SRTP keying over
// github.com/pion/dtls/v2, generalized from the teacher's
// pkg/media_builder and pkg/rtp down to what session.MediaHandler
// needs — not the full jitter-buffered RTP/RTCP engine in pkg/media.
package media

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// rtpStream is one local or remote RTP endpoint: address, payload
// type, and (for local streams) the UDP socket packets go out on.
// Generalized from the address/codec bookkeeping in the teacher's
// media.Session (pkg/media/interface.go) down to the session.Stream
// contract — no jitter buffer, no RTCP statistics.
type rtpStream struct {
	id          string
	payloadType uint8
	ssrc        uint32
	createdAt   time.Time

	conn *net.UDPConn // non-nil only for local streams
	addr *net.UDPAddr // remote send target, set once negotiation completes

	mu  sync.Mutex
	seq uint16
}

func newLocalStream(payloadType uint8) (*rtpStream, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("media: open RTP socket: %w", err)
	}
	return &rtpStream{
		id:          randomID(),
		payloadType: payloadType,
		ssrc:        randomSSRC(),
		createdAt:   time.Now(),
		conn:        conn,
	}, nil
}

func newRemoteStream(payloadType uint8, addr *net.UDPAddr) *rtpStream {
	return &rtpStream{
		id:          randomID(),
		payloadType: payloadType,
		createdAt:   time.Now(),
		addr:        addr,
	}
}

func (s *rtpStream) ID() string { return s.id }

func (s *rtpStream) localPort() int {
	if s.conn == nil {
		return 0
	}
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

func (s *rtpStream) setRemoteAddr(addr *net.UDPAddr) {
	s.mu.Lock()
	s.addr = addr
	s.mu.Unlock()
}

// writeSample builds one RTP packet and writes it to the stream's
// remote address, the same Marshal-then-write-to-socket shape as the
// teacher's DTLSTransport.Send in transport_dtls.go, minus the DTLS
// wrapping — that lives in dtls.go's dtlsSession instead.
func (s *rtpStream) writeSample(payload []byte, marker bool) error {
	if s.conn == nil {
		return fmt.Errorf("media: stream %s has no local socket", s.id)
	}
	s.mu.Lock()
	addr := s.addr
	seq := s.seq
	s.seq++
	s.mu.Unlock()
	if addr == nil {
		return fmt.Errorf("media: stream %s has no remote address yet", s.id)
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    s.payloadType,
			SequenceNumber: seq,
			Timestamp:      uint32(time.Since(s.createdAt).Milliseconds()) * 8,
			SSRC:           s.ssrc,
			Marker:         marker,
		},
		Payload: payload,
	}
	data, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("media: marshal RTP packet: %w", err)
	}
	_, err = s.conn.WriteToUDP(data, addr)
	return err
}

func (s *rtpStream) close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// randomID and randomSSRC fall back to the teacher's own
// crypto/rand-plus-hex generation in id_generator.go's generateCallID/
// generateTag, rather than pulling in google/uuid a second time for a
// value that is never parsed back out of a header.
func randomID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func randomSSRC() uint32 {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return binary.BigEndian.Uint32(b)
}
