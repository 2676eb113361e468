package sipsignal

import (
	"github.com/emiago/sipgo/sip"
)

// replier answers a *sip.Request on its server transaction, satisfying
// session.Replier. Grounded on the teacher's repeated
// "sip.NewResponseFromRequest(req, code, reason, body); tx.Respond(resp)"
// pattern across handlers.go's handleInvite/handleBye/handleCancel.
type replier struct {
	req *sip.Request
	tx  sip.ServerTransaction
}

func newReplier(req *sip.Request, tx sip.ServerTransaction) *replier {
	return &replier{req: req, tx: tx}
}

func (r *replier) Reply(code int, phrase string, headers map[string]string, body []byte) error {
	resp := sip.NewResponseFromRequest(r.req, code, phrase, body)
	_, hasContentType := headers["Content-Type"]
	for name, value := range headers {
		resp.AppendHeader(sip.NewHeader(name, value))
	}
	if body != nil && !hasContentType {
		resp.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	}
	return r.tx.Respond(resp)
}
