package media

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/pion/dtls/v2"

	"github.com/sipcore/rtcsession/pkg/session"
)

// buildDTLSConfig builds the *dtls.Config for one handshake, the same
// field set the teacher's DTLSTransport.buildDTLSConfig in
// transport_dtls.go assembles, trimmed to what a self-signed SRTP
// keying handshake needs (no PSK, no custom cipher suite pinning).
// The constraints and isClient arguments do not change the result.
func buildDTLSConfig(constraints session.DTLSConstraints, isClient bool) (*dtls.Config, error) {
	cert, err := selfSignedCertificate()
	if err != nil {
		return nil, fmt.Errorf("media: generate DTLS certificate: %w", err)
	}
	cfg := &dtls.Config{
		Certificates:          []tls.Certificate{cert},
		InsecureSkipVerify:    true, // SDP fingerprint, not a CA chain, authenticates the peer
		ExtendedMasterSecret:  dtls.RequireExtendedMasterSecret,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), 10*time.Second)
		},
	}
	return cfg, nil
}

// selfSignedCertificate mints an ephemeral ECDSA certificate for one
// DTLS session, grounded on the tls.Certificate shape the teacher's
// DTLSTransportConfig.Certificates field carries, since the pack has
// no helper for generating one and SDP/DTLS-SRTP authenticates peers
// by fingerprint, not by CA trust.
func selfSignedCertificate() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "rtcsession"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}

// dtlsSession wraps the handshake result, generalized from the
// teacher's DTLSTransport down to a Close method — the RTP transport
// itself stays plaintext UDP in this slim engine (spec's media engine
// is out of scope; only the negotiation surface is in).
type dtlsSession struct {
	conn *dtls.Conn
}

// dialDTLS performs a connected-UDP DTLS handshake to addr, using
// dtls.ClientWithContext/ServerWithContext exactly as the teacher's
// connectDTLS/acceptDTLSConnection do in transport_dtls.go.
func dialDTLS(ctx context.Context, addr *net.UDPAddr, constraints session.DTLSConstraints, isClient bool) (*dtlsSession, error) {
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("media: dial DTLS transport: %w", err)
	}
	cfg, err := buildDTLSConfig(constraints, isClient)
	if err != nil {
		conn.Close()
		return nil, err
	}

	var dtlsConn *dtls.Conn
	if isClient {
		dtlsConn, err = dtls.ClientWithContext(ctx, conn, cfg)
	} else {
		dtlsConn, err = dtls.ServerWithContext(ctx, conn, cfg)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("media: DTLS handshake: %w", err)
	}
	return &dtlsSession{conn: dtlsConn}, nil
}

func (d *dtlsSession) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	return d.conn.Close()
}
