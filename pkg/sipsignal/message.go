// Package sipsignal is the concrete signaling collaborator: it adapts
// github.com/emiago/sipgo to the session package's IncomingMessage,
// Replier, RequestSender, ServerTransactionHandle, DialogHandle, and
// DialogFactory interfaces, generalized from the teacher's
// pkg/dialog/{dialog,uasuac,manager}.go.
package sipsignal

import (
	"strings"

	"github.com/emiago/sipgo/sip"

	"github.com/sipcore/rtcsession/pkg/session"
)

// message wraps either a *sip.Request or a *sip.Response to satisfy
// session.IncomingMessage, mirroring the teacher's dialog.go, which
// reads both shapes through ad-hoc helper functions rather than a
// shared interface — this type makes that interface explicit.
type message struct {
	req  *sip.Request
	resp *sip.Response
}

func fromRequest(req *sip.Request) session.IncomingMessage {
	return &message{req: req}
}

func fromResponse(resp *sip.Response) session.IncomingMessage {
	return &message{resp: resp}
}

func (m *message) Method() string {
	if m.req != nil {
		return m.req.Method.String()
	}
	return ""
}

func (m *message) StatusCode() int {
	if m.resp != nil {
		return int(m.resp.StatusCode)
	}
	return 0
}

func (m *message) CallID() string {
	h := m.header("Call-ID")
	if h == nil {
		return ""
	}
	return h.Value()
}

func (m *message) FromTag() string {
	return tagFromHeader(m.header("From"))
}

func (m *message) ToTag() string {
	return tagFromHeader(m.header("To"))
}

func (m *message) Body() []byte {
	if m.req != nil {
		return m.req.Body()
	}
	return m.resp.Body()
}

func (m *message) ContentType() string {
	v, _ := m.GetHeader("Content-Type")
	return v
}

func (m *message) GetHeader(name string) (string, bool) {
	h := m.header(name)
	if h == nil {
		return "", false
	}
	return h.Value(), true
}

func (m *message) HasHeader(name string) bool {
	return m.header(name) != nil
}

func (m *message) header(name string) sip.Header {
	if m.req != nil {
		return m.req.GetHeader(name)
	}
	return m.resp.GetHeader(name)
}

// tagFromHeader extracts the "tag=" parameter from a From/To header
// value, the same parsing the teacher's extractURIFromHeaderValue
// performs inline in dialog.go, pulled out here since session-level
// code only ever needs the tag, not the full URI.
func tagFromHeader(h sip.Header) string {
	if h == nil {
		return ""
	}
	v := h.Value()
	idx := strings.Index(v, "tag=")
	if idx == -1 {
		return ""
	}
	rest := v[idx+len("tag="):]
	end := strings.IndexAny(rest, ";, \t")
	if end == -1 {
		return rest
	}
	return rest[:end]
}
