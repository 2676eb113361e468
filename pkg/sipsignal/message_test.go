package sipsignal

import (
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagFromHeader(t *testing.T) {
	cases := []struct {
		name  string
		value string
		want  string
	}{
		{"tag present", `"Alice" <sip:alice@example.com>;tag=abc123`, "abc123"},
		{"tag with trailing param", `<sip:bob@example.com>;tag=xyz;other=1`, "xyz"},
		{"no tag", `<sip:carol@example.com>`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := sip.NewHeader("From", tc.value)
			assert.Equal(t, tc.want, tagFromHeader(h))
		})
	}
}

func TestTagFromHeaderNil(t *testing.T) {
	assert.Equal(t, "", tagFromHeader(nil))
}

func TestMessageFromRequest(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, sip.Uri{User: "bob", Host: "example.com"})
	req.AppendHeader(sip.NewHeader("Call-ID", "call-1"))
	req.AppendHeader(sip.NewHeader("From", `<sip:alice@example.com>;tag=fromtag`))
	req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	req.SetBody([]byte("v=0\r\n"))

	m := fromRequest(req)
	require.NotNil(t, m)
	assert.Equal(t, "INVITE", m.Method())
	assert.Equal(t, 0, m.StatusCode())
	assert.Equal(t, "call-1", m.CallID())
	assert.Equal(t, "fromtag", m.FromTag())
	assert.Equal(t, "application/sdp", m.ContentType())
	assert.Equal(t, []byte("v=0\r\n"), m.Body())
	assert.True(t, m.HasHeader("Call-ID"))
	assert.False(t, m.HasHeader("Record-Route"))
}

func TestMessageFromResponse(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, sip.Uri{User: "bob", Host: "example.com"})
	resp := sip.NewResponseFromRequest(req, 200, "OK", nil)
	resp.AppendHeader(sip.NewHeader("To", `<sip:bob@example.com>;tag=totag`))

	m := fromResponse(resp)
	assert.Equal(t, "", m.Method())
	assert.Equal(t, 200, m.StatusCode())
	assert.Equal(t, "totag", m.ToTag())
}
