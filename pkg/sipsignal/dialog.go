package sipsignal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/sipcore/rtcsession/pkg/session"
)

// dialog is a SIP dialog's worth of addressing state: Call-ID, tags,
// remote target, route set, and a local CSeq counter, generalized from
// the teacher's Dialog struct in pkg/dialog/dialog.go down to just what
// an in-dialog request (ACK/BYE/INFO) needs to be built and sent.
type dialog struct {
	client *sipgo.Client
	contact sip.ContactHeader

	id string

	mu           sync.Mutex
	callID       string
	localTag     string
	remoteTag    string
	remoteTarget sip.Uri
	routeSet     []sip.RouteHeader
	localSeq     uint32

	terminated atomic.Bool
}

// dialogFactory adapts session.DialogFactory to sipgo, generalized from
// the teacher's UASUAC.CreateDialog in uasuac.go. It type-asserts the
// IncomingMessage back to this package's concrete *message, since every
// message the session package ever hands back originated from this
// package's fromRequest/fromResponse.
type dialogFactory struct {
	client  *sipgo.Client
	contact sip.ContactHeader
}

func newDialogFactory(client *sipgo.Client, contact sip.ContactHeader) *dialogFactory {
	return &dialogFactory{client: client, contact: contact}
}

func (f *dialogFactory) NewDialog(msg session.IncomingMessage, role session.DialogRole) (session.DialogHandle, error) {
	m, ok := msg.(*message)
	if !ok {
		return nil, fmt.Errorf("sipsignal: NewDialog given a foreign IncomingMessage")
	}

	d := &dialog{
		client:  f.client,
		contact: f.contact,
		id:      uuid.NewString(),
	}

	switch {
	case m.req != nil:
		// UAS: the dialog-defining message is the initial INVITE.
		// Local tag is ours to mint; remote tag is the INVITE's
		// From tag.
		d.callID = m.CallID()
		d.localTag = newTag()
		d.remoteTag = m.FromTag()
		if err := d.setRemoteTargetFromContact(m.req.Contact()); err != nil {
			return nil, err
		}
		d.routeSet = reverseRoutes(m.req.GetHeaders("Record-Route"))
	case m.resp != nil:
		// UAC: the dialog-defining message is a 1xx/2xx response to
		// our own INVITE. Local tag is the From tag we already sent.
		d.callID = m.CallID()
		if from := m.resp.From(); from != nil {
			d.localTag = from.Params["tag"]
		}
		d.remoteTag = m.ToTag()
		if err := d.setRemoteTargetFromContact(m.resp.Contact()); err != nil {
			return nil, err
		}
		d.routeSet = reverseRoutes(m.resp.GetHeaders("Record-Route"))
	default:
		return nil, fmt.Errorf("sipsignal: NewDialog given an empty message")
	}

	return d, nil
}

func (d *dialog) setRemoteTargetFromContact(h *sip.ContactHeader) error {
	if h == nil {
		return fmt.Errorf("sipsignal: message has no Contact header")
	}
	d.remoteTarget = h.Address
	return nil
}

// reverseRoutes builds a dialog's route set from a message's
// Record-Route headers, reversed per RFC 3261 §12.1.2 so the route set
// is in the order this side must visit it on in-dialog requests.
func reverseRoutes(rr []sip.Header) []sip.RouteHeader {
	routes := make([]sip.RouteHeader, 0, len(rr))
	for i := len(rr) - 1; i >= 0; i-- {
		h, ok := rr[i].(*sip.RecordRouteHeader)
		if !ok {
			continue
		}
		routes = append(routes, sip.RouteHeader{Address: h.Address})
	}
	return routes
}

func (d *dialog) ID() string { return d.id }

// Terminate marks the dialog as no longer usable. It never touches the
// wire — BYE, when one is owed, is sent explicitly via SendRequest by
// the caller (terminate.go); this mirrors the teacher's dialog FSM
// "terminated" event being a pure local bookkeeping step.
func (d *dialog) Terminate() error {
	d.terminated.Store(true)
	return nil
}

// SendRequest builds and sends an in-dialog request (ACK, BYE, INFO),
// generalized from the teacher's buildACK in dialog_internal.go and the
// BYE construction in dialog.go's Terminate, down to one method
// parameterized by method name.
func (d *dialog) SendRequest(ctx context.Context, method string, body []byte, headers map[string]string) error {
	if d.terminated.Load() {
		return session.ErrAlreadyClosed
	}

	d.mu.Lock()
	d.localSeq++
	seq := d.localSeq
	callID := d.callID
	localTag := d.localTag
	remoteTag := d.remoteTag
	target := d.remoteTarget
	routes := d.routeSet
	d.mu.Unlock()

	req := sip.NewRequest(sip.RequestMethod(strings.ToUpper(method)), target)
	req.AppendHeader(sip.NewHeader("Call-ID", callID))
	req.AppendHeader(&sip.FromHeader{
		Address: d.contact.Address,
		Params:  sip.HeaderParams{"tag": localTag},
	})
	req.AppendHeader(&sip.ToHeader{
		Address: target,
		Params:  sip.HeaderParams{"tag": remoteTag},
	})
	req.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: sip.RequestMethod(strings.ToUpper(method))})
	req.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
	req.AppendHeader(&d.contact)
	for _, route := range routes {
		r := route
		req.AppendHeader(&r)
	}
	for name, value := range headers {
		req.AppendHeader(sip.NewHeader(name, value))
	}
	if body != nil {
		req.SetBody(body)
	}

	if strings.EqualFold(method, "ACK") {
		// ACK for a 2xx gets no client transaction of its own, per
		// RFC 3261 §13.2.2.4; sipgo's WriteRequest sends it
		// statelessly, the same writeMsg path the teacher's UACUAS
		// uses in uacuas.go.
		return d.client.WriteRequest(req, sipgo.ClientRequestAddVia)
	}

	resp, err := d.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("sipsignal: send %s: %w", method, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sipsignal: %s rejected: %d %s", method, resp.StatusCode, resp.Reason)
	}
	return nil
}
