package media

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
)

// codecNames mirrors the static payload type table the teacher builds
// SDP offers from in media_builder/utils.go's GenerateSDPOffer.
var codecNames = map[uint8]string{
	0: "PCMU/8000",
	3: "GSM/8000",
	8: "PCMA/8000",
	9: "G722/8000",
}

const (
	dtmfPayloadType = 101
	defaultPtime    = 20
)

// sdpParams is the session-local input to buildSessionDescription,
// generalized from the teacher's SDPParams in media_builder/utils.go
// down to what one audio m= line needs.
type sdpParams struct {
	localIP      string
	localPort    int
	payloadTypes []uint8
	direction    string
}

// buildSessionDescription assembles an offer or answer SDP, the same
// field-by-field construction as the teacher's GenerateSDPOffer, with
// a telephone-event line always present so DTMF relay (spec's in-band
// DTMF carried over RTP) has a payload type to ride.
func buildSessionDescription(params sdpParams) *sdp.SessionDescription {
	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      uint64(time.Now().UnixNano()),
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: params.localIP,
		},
		SessionName: sdp.SessionName("rtcsession"),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: params.localIP},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
	}

	formats := make([]string, 0, len(params.payloadTypes)+1)
	for _, pt := range params.payloadTypes {
		formats = append(formats, strconv.Itoa(int(pt)))
	}
	formats = append(formats, strconv.Itoa(dtmfPayloadType))

	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: params.localPort},
			Protos:  []string{"RTP", "AVP"},
			Formats: formats,
		},
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: params.localIP},
		},
	}

	for _, pt := range params.payloadTypes {
		if name, ok := codecNames[pt]; ok {
			media.Attributes = append(media.Attributes, sdp.Attribute{Key: "rtpmap", Value: fmt.Sprintf("%d %s", pt, name)})
		}
	}
	media.Attributes = append(media.Attributes,
		sdp.Attribute{Key: "rtpmap", Value: fmt.Sprintf("%d telephone-event/8000", dtmfPayloadType)},
		sdp.Attribute{Key: "fmtp", Value: fmt.Sprintf("%d 0-15", dtmfPayloadType)},
		sdp.Attribute{Key: "ptime", Value: strconv.Itoa(defaultPtime)},
	)

	direction := params.direction
	if direction == "" {
		direction = "sendrecv"
	}
	media.Attributes = append(media.Attributes, sdp.Attribute{Key: direction})

	sd.MediaDescriptions = []*sdp.MediaDescription{media}
	return sd
}

// negotiatedRemote is what the far end's SDP resolves to: the address
// to send RTP to and the payload type it selected, generalized from
// the teacher's ParseAnswerResult in media_builder/utils.go.
type negotiatedRemote struct {
	addr        *net.UDPAddr
	payloadType uint8
	dtmfPT      uint8
	hasDTMF     bool
}

func parseSessionDescription(body []byte) (*sdp.SessionDescription, error) {
	sd := &sdp.SessionDescription{}
	if err := sd.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("media: parse SDP: %w", err)
	}
	return sd, nil
}

func negotiateRemote(sd *sdp.SessionDescription) (negotiatedRemote, error) {
	var result negotiatedRemote
	if len(sd.MediaDescriptions) == 0 {
		return result, fmt.Errorf("media: SDP has no media descriptions")
	}
	m := sd.MediaDescriptions[0]

	ip := ""
	if m.ConnectionInformation != nil && m.ConnectionInformation.Address != nil {
		ip = m.ConnectionInformation.Address.Address
	} else if sd.ConnectionInformation != nil && sd.ConnectionInformation.Address != nil {
		ip = sd.ConnectionInformation.Address.Address
	} else {
		ip = sd.Origin.UnicastAddress
	}
	if ip == "" {
		return result, fmt.Errorf("media: no connection address in SDP")
	}

	result.addr = &net.UDPAddr{IP: net.ParseIP(ip), Port: m.MediaName.Port.Value}
	if result.addr.IP == nil {
		return result, fmt.Errorf("media: invalid connection address %q", ip)
	}

	if len(m.MediaName.Formats) > 0 {
		if pt, err := strconv.Atoi(m.MediaName.Formats[0]); err == nil {
			result.payloadType = uint8(pt)
		}
	}

	for _, attr := range m.Attributes {
		if attr.Key == "rtpmap" && strings.Contains(attr.Value, "telephone-event") {
			result.hasDTMF = true
			if parts := strings.Fields(attr.Value); len(parts) > 0 {
				if pt, err := strconv.Atoi(parts[0]); err == nil {
					result.dtmfPT = uint8(pt)
				}
			}
		}
	}
	return result, nil
}
