package sipsignal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/sipcore/rtcsession/pkg/session"
)

// UA is the top-level signaling endpoint, generalized from the
// teacher's UASUAC in uasuac.go down to exactly what the session
// package's collaborator interfaces need: a sipgo UA/Client/Server
// trio, a dialog factory, and a Call-ID-keyed table routing in-dialog
// requests to the *session.Session that owns them.
type UA struct {
	ua     *sipgo.UserAgent
	client *sipgo.Client
	server *sipgo.Server

	contact       sip.ContactHeader
	dialogFactory *dialogFactory
	registry      *sessionRegistry

	mediaFactory    session.MediaFactory
	logger          *session.Logger
	metrics         *session.Metrics
	noAnswerTimeout time.Duration

	onIncoming func(*session.Session)
}

// Config bundles the knobs NewUA needs, mirroring the teacher's
// UASUACOption list down to the pieces this core's ambient stack uses.
type Config struct {
	Hostname        string
	ContactHost     string
	ContactPort     int
	MediaFactory    session.MediaFactory
	Logger          *session.Logger
	Metrics         *session.Metrics
	NoAnswerTimeout time.Duration
	// OnIncoming is invoked (off the session's event loop, so it may
	// call Answer/Terminate itself) whenever a fresh INVITE creates a
	// new incoming Session.
	OnIncoming func(*session.Session)
}

func NewUA(cfg Config) (*UA, error) {
	ua, err := sipgo.NewUA(sipgo.WithUserAgentHostname(cfg.Hostname))
	if err != nil {
		return nil, fmt.Errorf("sipsignal: new user agent: %w", err)
	}
	client, err := sipgo.NewClient(ua, sipgo.WithClientHostname(cfg.Hostname))
	if err != nil {
		return nil, fmt.Errorf("sipsignal: new client: %w", err)
	}
	server, err := sipgo.NewServer(ua)
	if err != nil {
		return nil, fmt.Errorf("sipsignal: new server: %w", err)
	}

	contact := sip.ContactHeader{
		Address: sip.Uri{Host: cfg.ContactHost, Port: cfg.ContactPort},
	}

	u := &UA{
		ua:              ua,
		client:          client,
		server:          server,
		contact:         contact,
		dialogFactory:   newDialogFactory(client, contact),
		registry:        newSessionRegistry(),
		mediaFactory:    cfg.MediaFactory,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		noAnswerTimeout: cfg.NoAnswerTimeout,
		onIncoming:      cfg.OnIncoming,
	}
	u.registerHandlers()
	return u, nil
}

func (u *UA) registerHandlers() {
	u.server.OnInvite(u.onInvite)
	u.server.OnAck(u.onAck)
	u.server.OnBye(u.onBye)
	u.server.OnCancel(u.onCancel)
	u.server.OnInfo(u.onInfo)
}

// ListenAndServe starts the SIP server, matching the teacher's
// UASUAC.Listen.
func (u *UA) ListenAndServe(ctx context.Context, network, listenAddr string) error {
	return u.server.ListenAndServe(ctx, network, listenAddr)
}

func (u *UA) sessionConfig() session.Config {
	return session.Config{
		DialogFactory:   u.dialogFactory,
		MediaFactory:    u.mediaFactory,
		Registry:        u.registry,
		Logger:          u.logger,
		Metrics:         u.metrics,
		NoAnswerTimeout: u.noAnswerTimeout,
	}
}

// PlaceCall starts a fresh outgoing Session, generalized from the
// teacher's UASUAC.CreateDialog down to handing off to session.Connect
// instead of building the dialog itself.
func (u *UA) PlaceCall(ctx context.Context, target string, opts ...session.ConnectOption) (*session.Session, error) {
	var targetURI sip.Uri
	if err := sip.ParseUri(target, &targetURI); err != nil {
		return nil, fmt.Errorf("sipsignal: parse target: %w", err)
	}

	sess := session.NewSession(session.DirectionOutgoing, u.sessionConfig())
	callID := uuid.NewString()
	u.registry.put(callID, sess)

	newRequest := func(target string, headers map[string]string, body []byte) (session.RequestSender, session.IncomingMessage, error) {
		req := sip.NewRequest(sip.INVITE, targetURI)
		req.AppendHeader(sip.NewHeader("Call-ID", callID))
		req.AppendHeader(&sip.FromHeader{
			Address: u.contact.Address,
			Params:  sip.HeaderParams{"tag": newTag()},
		})
		req.AppendHeader(&sip.ToHeader{Address: targetURI})
		req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
		req.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
		req.AppendHeader(&u.contact)
		for name, value := range headers {
			req.AppendHeader(sip.NewHeader(name, value))
		}
		req.SetBody(body)
		return newSender(u.client, req), fromRequest(req), nil
	}

	if err := sess.Connect(ctx, target, newRequest, opts...); err != nil {
		u.registry.Deregister(sess.ID())
		return nil, err
	}
	return sess, nil
}

func (u *UA) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	if sess, ok := u.registry.lookup(callID); ok {
		sess.HandleRequest(context.Background(), fromRequest(req), newReplier(req, tx))
		return
	}

	sess := session.NewSession(session.DirectionIncoming, u.sessionConfig())
	u.registry.put(callID, sess)

	if err := sess.InitIncoming(context.Background(), fromRequest(req), newReplier(req, tx), newServerTransaction(tx)); err != nil {
		u.registry.Deregister(sess.ID())
		return
	}
	if u.onIncoming != nil {
		u.onIncoming(sess)
	}
}

func (u *UA) onAck(req *sip.Request, tx sip.ServerTransaction) {
	u.dispatchInDialog(req, tx)
}

func (u *UA) onBye(req *sip.Request, tx sip.ServerTransaction) {
	u.dispatchInDialog(req, tx)
}

func (u *UA) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	u.dispatchInDialog(req, tx)
}

func (u *UA) onInfo(req *sip.Request, tx sip.ServerTransaction) {
	u.dispatchInDialog(req, tx)
}

func (u *UA) dispatchInDialog(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	sess, ok := u.registry.lookup(callID)
	if !ok {
		_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCallTransactionDoesNotExists, "no such call", nil))
		return
	}
	sess.HandleRequest(context.Background(), fromRequest(req), newReplier(req, tx))
}

// sessionRegistry implements session.Registry while also indexing
// sessions by Call-ID for request routing, since Session only exposes
// its opaque ID() to the Registry interface. Session.ID() mutates once
// (from a bare UUID to the call-ID/tag dialog composite, in
// session.go's setDialogID) after put has already indexed the session
// under its pre-mutation id, so idToCallID has to be kept in sync with
// whatever id is current, not just the one seen at put time — lastID
// tracks that and Register, called again by setDialogID whenever the
// id changes, is where the re-keying happens.
type sessionRegistry struct {
	mu         sync.Mutex
	byCallID   map[string]*session.Session
	idToCallID map[string]string
	lastID     map[*session.Session]string
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{
		byCallID:   make(map[string]*session.Session),
		idToCallID: make(map[string]string),
		lastID:     make(map[*session.Session]string),
	}
}

func (r *sessionRegistry) put(callID string, s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byCallID[callID] = s
	r.idToCallID[s.ID()] = callID
	r.lastID[s] = s.ID()
}

func (r *sessionRegistry) lookup(callID string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byCallID[callID]
	return s, ok
}

// Register re-keys idToCallID when s.ID() no longer matches the id it
// was last indexed under. put calls establish the initial id; every
// later call (from setDialogID) moves the index entry to the new id so
// Deregister, which always receives the session's current id, can
// still find the Call-ID to clean up.
func (r *sessionRegistry) Register(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := s.ID()
	old, tracked := r.lastID[s]
	if !tracked || old == id {
		r.lastID[s] = id
		return
	}
	if callID, ok := r.idToCallID[old]; ok {
		delete(r.idToCallID, old)
		r.idToCallID[id] = callID
	}
	r.lastID[s] = id
}

func (r *sessionRegistry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	callID, ok := r.idToCallID[id]
	if !ok {
		return
	}
	if s, ok := r.byCallID[callID]; ok {
		delete(r.lastID, s)
	}
	delete(r.byCallID, callID)
	delete(r.idToCallID, id)
}
