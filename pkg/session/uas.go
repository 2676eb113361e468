package session

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// InitIncoming is C3's entry point for a fresh inbound INVITE (spec
// §4.3 init_incoming). replier answers the INVITE's transaction
// directly; ctx bounds the media negotiation.
func (s *Session) InitIncoming(ctx context.Context, req IncomingMessage, replier Replier, serverTx ServerTransactionHandle) error {
	if s.direction != DirectionIncoming {
		return ErrNotSupported
	}

	return s.submitResult(func() error {
		if s.status() != StatusNull {
			return ErrInvalidState
		}
		if req.ContentType() != "application/sdp" || len(req.Body()) == 0 {
			_ = replier.Reply(415, "Unsupported Media Type", nil, nil)
			return nil
		}

		s.uasInvite = req
		s.uasReplier = replier
		toTag := newTag()
		s.setDialogID(req.CallID(), toTag, req.FromTag())

		s.registry.Register(s)
		s.metrics.registered()
		if err := s.transition(evInviteReceived); err != nil {
			return err
		}

		early, err := s.dialogFactory.NewDialog(req, RoleUAS)
		if err != nil {
			_ = replier.Reply(500, "Server Internal Error", nil, nil)
			s.failWithCause(CauseDialogError)
			return nil
		}
		s.earlyDialogs[early.ID()] = early

		if s.mediaFactory == nil {
			_ = replier.Reply(488, "Not Acceptable Here", nil, nil)
			s.failWithCause(CauseBadMediaDescription)
			return nil
		}
		media, err := s.mediaFactory.NewMediaHandler(DTLSConstraints{})
		if err != nil {
			_ = replier.Reply(488, "Not Acceptable Here", nil, nil)
			s.failWithCause(CauseBadMediaDescription)
			return nil
		}
		s.media = media

		if err := media.OnMessage(ctx, SDPOffer, req.Body()); err != nil {
			_ = replier.Reply(488, "Not Acceptable Here", nil, nil)
			s.failWithCause(CauseBadMediaDescription)
			return nil
		}

		if err := replier.Reply(180, "Ringing", map[string]string{}, nil); err != nil {
			s.failWithCause(CauseConnectionError)
			return nil
		}

		if err := s.transition(evOfferAccepted); err != nil {
			return err
		}
		s.timers.armUserNoAnswer(s.noAnswerTimeout)
		if v, ok := req.GetHeader("Expires"); ok {
			if secs, perr := strconv.Atoi(strings.TrimSpace(v)); perr == nil && secs > 0 {
				s.timers.armExpires(time.Duration(secs) * time.Second)
			}
		}
		if serverTx != nil {
			serverTx.OnStateChange(func(state TransactionState) {
				if state == TransactionTerminated {
					s.notify(func() { s.onInviteTransactionTerminated() })
				}
			})
		}
		s.emit(Event{Kind: EventNewSession, Originator: OriginatorRemote, Request: req})
		return nil
	})
}

// HandleRequest is the signaling collaborator's entry point for every
// in-dialog request and CANCEL once the session exists (everything
// after InitIncoming), dispatched onto the event loop via s.notify.
func (s *Session) HandleRequest(ctx context.Context, req IncomingMessage, replier Replier) {
	s.notify(func() { s.receiveRequest(ctx, req, replier) })
}

// receiveRequest is C3's in-dialog and CANCEL dispatch table (spec
// §4.3). Always invoked via s.notify so it runs on the event loop.
func (s *Session) receiveRequest(ctx context.Context, req IncomingMessage, replier Replier) {
	if s.guardTerminated() {
		return
	}

	switch req.Method() {
	case "CANCEL":
		if s.status() != StatusWaitingForAnswer {
			return // too late, ignored per the gate in §4.3
		}
		if err := s.transition(evCancel); err != nil {
			return
		}
		_ = s.uasReplier.Reply(487, "Request Terminated", nil, nil)
		_ = replier.Reply(200, "OK", nil, nil)
		s.failWithCause(CauseCanceled)

	case "ACK":
		if s.status() != StatusWaitingForAck {
			return
		}
		s.timers.cancelAckTimer()
		s.timers.cancelInvite2xxRetransmit()
		_ = s.transition(evAckReceived)
		if s.deferredBye {
			s.runDeferredBye(ctx)
		}

	case "BYE":
		if s.status() != StatusConfirmed {
			return
		}
		_ = replier.Reply(200, "OK", nil, nil)
		s.endTime = time.Now()
		s.close()
		s.metrics.ended(s.endTime.Sub(s.startTime).Seconds())
		s.emit(Event{Kind: EventEnded, Originator: OriginatorRemote, Cause: CauseBye, Request: req})

	case "INVITE":
		if s.status() != StatusConfirmed {
			return
		}
		s.logger.Info("re-INVITE received, renegotiation not supported", String("call_id", req.CallID()))
		_ = replier.Reply(488, "Not Acceptable Here", nil, nil)

	case "INFO":
		if s.status() != StatusConfirmed && s.status() != StatusWaitingForAck {
			return
		}
		if isDTMFRelay(req.ContentType()) {
			_ = replier.Reply(200, "OK", nil, nil)
			s.receiveDTMFRelay(req)
			return
		}
		_ = replier.Reply(200, "OK", nil, nil)
	}
}

// promoteEarlyDialog picks the (sole, on this core's UAS path) early
// dialog and removes it from the early-dialog table, per invariant 2.
func (s *Session) promoteEarlyDialog() (DialogHandle, bool) {
	for id, dlg := range s.earlyDialogs {
		delete(s.earlyDialogs, id)
		return dlg, true
	}
	return nil, false
}

func isDTMFRelay(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/dtmf-relay")
}

// onInviteTransactionTerminated is the second of the two deferred-BYE
// triggers (spec §4.1): the INVITE server transaction reached
// TERMINATED while the session was still WAITING_FOR_ACK waiting on the
// user's terminate().
func (s *Session) onInviteTransactionTerminated() {
	if s.guardTerminated() {
		return
	}
	if s.status() == StatusWaitingForAck && s.deferredBye {
		s.runDeferredBye(context.Background())
	}
}
