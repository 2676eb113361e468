package media

import (
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSessionDescriptionHasAudioAndDTMF(t *testing.T) {
	sd := buildSessionDescription(sdpParams{
		localIP:      "203.0.113.5",
		localPort:    40000,
		payloadTypes: []uint8{0, 8},
		direction:    "sendrecv",
	})

	require.Len(t, sd.MediaDescriptions, 1)
	m := sd.MediaDescriptions[0]
	assert.Equal(t, "audio", m.MediaName.Media)
	assert.Equal(t, 40000, m.MediaName.Port.Value)
	assert.Contains(t, m.MediaName.Formats, "0")
	assert.Contains(t, m.MediaName.Formats, "8")
	assert.Contains(t, m.MediaName.Formats, "101")

	var sawDTMF bool
	for _, attr := range m.Attributes {
		if attr.Key == "rtpmap" && attr.Value == "101 telephone-event/8000" {
			sawDTMF = true
		}
	}
	assert.True(t, sawDTMF, "expected a telephone-event rtpmap attribute")
}

func TestBuildParseNegotiateRoundTrip(t *testing.T) {
	sd := buildSessionDescription(sdpParams{
		localIP:      "198.51.100.9",
		localPort:    30000,
		payloadTypes: []uint8{0},
		direction:    "sendrecv",
	})
	raw, err := sd.Marshal()
	require.NoError(t, err)

	parsed, err := parseSessionDescription(raw)
	require.NoError(t, err)

	negotiated, err := negotiateRemote(parsed)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.9", negotiated.addr.IP.String())
	assert.Equal(t, 30000, negotiated.addr.Port)
	assert.Equal(t, uint8(0), negotiated.payloadType)
	assert.True(t, negotiated.hasDTMF)
	assert.Equal(t, uint8(dtmfPayloadType), negotiated.dtmfPT)
}

func TestNegotiateRemoteRejectsEmptySDP(t *testing.T) {
	_, err := negotiateRemote(&sdp.SessionDescription{})
	assert.Error(t, err)
}

func TestParseSessionDescriptionInvalid(t *testing.T) {
	_, err := parseSessionDescription([]byte("not sdp"))
	assert.Error(t, err)
}
