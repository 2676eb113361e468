package session

import (
	"context"
	"fmt"
)

// receiveResponse is C2's entry point: dispatch for a response to the
// initial INVITE, per spec §4.2. Always called on the event loop (via
// pumpResponses -> s.notify), so no locking is needed here.
func (s *Session) receiveResponse(ctx context.Context, resp IncomingMessage) {
	if s.guardTerminated() {
		return
	}

	code := resp.StatusCode()

	// Rule 1: 2xx retransmission / forked 2xx, evaluated before the
	// status gate below because it applies even once CONFIRMED.
	if s.confirmedDialog != nil && code >= 200 && code < 300 {
		if resp.CallID() == s.callID && resp.ToTag() == s.remoteTag {
			s.ackDialog(ctx, s.confirmedDialog)
			return
		}
		s.acceptAndTerminate(ctx, resp, CauseInternalError)
		return
	}

	if s.status() != StatusInviteSent && s.status() != Status1xxReceived {
		return
	}

	// Rule 3: cancel race.
	if s.isCanceled {
		switch {
		case code >= 100 && code < 200:
			if s.clientTx != nil {
				_ = s.clientTx.Cancel(s.cancelReason)
			}
		case code >= 200 && code < 300:
			s.acceptAndTerminate(ctx, resp, CauseCanceled)
		}
		return
	}

	switch {
	case code == 100:
		s.received100 = true

	case code >= 101 && code < 200:
		if resp.ToTag() == "" {
			return
		}
		if _, ok := resp.GetHeader("Contact"); ok {
			s.updateEarlyDialog(ctx, resp)
		}
		if err := s.transition(ev1xx); err != nil {
			s.logger.Warn("1xx transition rejected", Err(err))
			return
		}
		s.emit(Event{Kind: EventProgress, Originator: OriginatorRemote, Response: resp})

	case code >= 200 && code < 300:
		s.handleFinal2xx(ctx, resp)

	default: // 3xx-6xx
		cause := causeForStatus(code)
		s.failWithCause(cause)
	}
}

// handleFinal2xx promotes the matching early dialog (or creates a
// fresh one) to confirmed, feeds the SDP answer to the media handler,
// and ACKs on acceptance.
func (s *Session) handleFinal2xx(ctx context.Context, resp IncomingMessage) {
	if len(resp.Body()) == 0 {
		s.acceptAndTerminate(ctx, resp, CauseBadMediaDescription)
		return
	}

	earlyID := resp.CallID() + resp.FromTag() + resp.ToTag()
	dlg, ok := s.earlyDialogs[earlyID]
	if ok {
		delete(s.earlyDialogs, earlyID)
	} else {
		var err error
		dlg, err = s.dialogFactory.NewDialog(resp, RoleUAC)
		if err != nil {
			s.failWithCause(CauseDialogError)
			return
		}
	}
	s.confirmedDialog = dlg
	s.setDialogID(resp.CallID(), resp.FromTag(), resp.ToTag())
	s.clearEarlyDialogsExcept("")

	if err := s.media.OnMessage(ctx, SDPAnswer, resp.Body()); err != nil {
		// The call never started: drop the dialog so acceptAndTerminate
		// treats this as the primary attempt and fails the session.
		s.confirmedDialog = nil
		_ = dlg.Terminate()
		s.acceptAndTerminate(ctx, resp, CauseBadMediaDescription)
		return
	}

	if err := s.transition(ev2xx); err != nil {
		s.logger.Warn("2xx transition rejected", Err(err))
		return
	}
	s.ackDialog(ctx, dlg)
	s.metrics.started()
	s.emit(Event{Kind: EventStarted, Originator: OriginatorRemote, Response: resp})
}

// ackDialog sends ACK on dlg, swallowing transport errors the way the
// teacher's handleClientTransaction treats post-2xx delivery faults:
// by the time ACK is due the call has already started (or, for a
// throwaway dialog, is already being discarded).
func (s *Session) ackDialog(ctx context.Context, dlg DialogHandle) {
	if err := dlg.SendRequest(ctx, "ACK", nil, nil); err != nil {
		s.logger.Warn("ACK send failed", Err(err))
	}
}

// acceptAndTerminate is the Open-Question resolution for forked 2xx
// (SPEC_FULL.md §5.8) and the general "reject media after a dialog has
// been created" path of spec §4.2: ACK then in-dialog BYE carrying a
// Reason header.
func (s *Session) acceptAndTerminate(ctx context.Context, resp IncomingMessage, cause Cause) {
	dlg, err := s.dialogFactory.NewDialog(resp, RoleUAC)
	if err != nil {
		// Nothing to ACK/BYE; the primary session is unaffected either way.
		return
	}
	s.ackDialog(ctx, dlg)

	code, phrase, ok := cause.Reason()
	headers := map[string]string{}
	if ok {
		headers["Reason"] = fmt.Sprintf(`SIP ;cause=%d; text="%s"`, code, phrase)
	}
	if err := dlg.SendRequest(ctx, "BYE", nil, headers); err != nil {
		// Forked-branch errors are deliberately swallowed, spec §7.
		s.logger.Debug("throwaway BYE send failed", Err(err))
	}

	if s.confirmedDialog == nil || dlg.ID() != s.confirmedDialog.ID() {
		// This was a throwaway dialog (forked 2xx, or a primary 2xx we
		// just rejected on media grounds) — only fail the session when
		// it was actually the primary attempt.
		if s.confirmedDialog == nil {
			s.failWithCause(cause)
		}
	}
}

func (s *Session) updateEarlyDialog(ctx context.Context, resp IncomingMessage) {
	id := resp.CallID() + resp.FromTag() + resp.ToTag()
	if _, exists := s.earlyDialogs[id]; exists {
		return
	}
	dlg, err := s.dialogFactory.NewDialog(resp, RoleUAC)
	if err != nil {
		s.logger.Debug("early dialog creation failed", Err(err))
		return
	}
	s.earlyDialogs[id] = dlg
}

func (s *Session) clearEarlyDialogsExcept(keepID string) {
	for id, dlg := range s.earlyDialogs {
		if id == keepID {
			continue
		}
		_ = dlg.Terminate()
		delete(s.earlyDialogs, id)
	}
}

// failWithCause is the shared pre-confirmation failure path: emit
// failed and run close(). Used by both UAC and UAS handlers.
func (s *Session) failWithCause(cause Cause) {
	s.close()
	s.metrics.failed(cause)
	s.emit(Event{Kind: EventFailed, Originator: OriginatorRemote, Cause: cause})
}

func causeForStatus(code int) Cause {
	switch {
	case code == 486 || code == 600:
		return CauseBusy
	case code == 480 || code == 404 || code == 410:
		return CauseUnavailable
	case code == 487:
		return CauseCanceled
	case code == 408:
		return CauseRequestTimeout
	case code >= 300 && code < 400:
		return CauseUnavailable
	case code >= 400 && code < 500:
		return CauseRejected
	default:
		return CauseInternalError
	}
}
