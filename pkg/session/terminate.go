package session

import (
	"context"
	"fmt"
	"time"
)

// Terminate is the sole user-initiated cancellation entry point (spec
// §4.1 terminate, §5 "Cancellation semantics"). Behavior is role- and
// state-dependent per the table in §4.1.
func (s *Session) Terminate(ctx context.Context, opts ...TerminateOption) error {
	cfg, err := newTerminateConfig(opts)
	if err != nil {
		return err
	}

	return s.submitResult(func() error {
		status := s.status()

		if status == StatusTerminated {
			return ErrInvalidState
		}

		switch {
		case status == StatusNull && s.direction == DirectionOutgoing:
			s.isCanceled = true
			s.cancelReason = cfg.reasonPhrase
			return nil

		case status == StatusInviteSent && s.direction == DirectionOutgoing:
			if s.received100 && s.clientTx != nil {
				return s.clientTx.Cancel(cfg.reasonPhrase)
			}
			s.isCanceled = true
			s.cancelReason = cfg.reasonPhrase
			return nil

		case status == Status1xxReceived && s.direction == DirectionOutgoing:
			if s.clientTx == nil {
				return fmt.Errorf("%w: no client transaction to cancel", ErrInvalidState)
			}
			return s.clientTx.Cancel(cfg.reasonPhrase)

		case (status == StatusWaitingForAnswer || status == StatusAnswered) && s.direction == DirectionIncoming:
			code := cfg.statusCode
			if code == 0 {
				code = 480
			}
			if code < 300 || code >= 700 {
				return fmt.Errorf("%w: UAS reject status_code %d out of [300,700)", ErrInvalidArgument, code)
			}
			phrase := cfg.reasonPhrase
			if phrase == "" {
				phrase = "Temporarily Unavailable"
			}
			if s.uasReplier != nil {
				_ = s.uasReplier.Reply(code, phrase, cfg.extraHeaders, cfg.body)
			}
			s.failWithCause(CauseRejected)
			return nil

		case status == StatusWaitingForAck && s.direction == DirectionIncoming:
			// Deferred BYE: RFC 3261 §15 forbids a BYE on an unacknowledged
			// 2xx. Install both one-shot triggers (ACK received, in uas.go's
			// receiveRequest; INVITE server transaction terminated, in
			// uas.go's onInviteTransactionTerminated) and report ended(local)
			// now while the dialog stays alive under the hood.
			s.deferredBye = true
			s.registry.Register(s)
			if s.endTime.IsZero() {
				s.endTime = time.Now()
			}
			s.emit(Event{Kind: EventEnded, Originator: OriginatorLocal})
			return nil

		case status == StatusWaitingForAck || status == StatusConfirmed:
			if s.confirmedDialog != nil {
				headers := map[string]string{}
				for k, v := range cfg.extraHeaders {
					headers[k] = v
				}
				if cfg.cause != "" {
					if code, phrase, ok := cfg.cause.Reason(); ok {
						headers["Reason"] = fmt.Sprintf(`SIP ;cause=%d; text="%s"`, code, phrase)
					}
				}
				_ = s.confirmedDialog.SendRequest(ctx, "BYE", cfg.body, headers)
			}
			if s.endTime.IsZero() {
				s.endTime = time.Now()
			}
			s.close()
			s.metrics.ended(s.endTime.Sub(s.startTime).Seconds())
			s.emit(Event{Kind: EventEnded, Originator: OriginatorLocal})
			return nil

		default:
			return ErrInvalidState
		}
	})
}

// runDeferredBye fires whichever of the two deferred-BYE triggers wins
// first; the loser is a no-op because status is already TERMINATED or
// the dialog is already gone by the time it checks in.
func (s *Session) runDeferredBye(ctx context.Context) {
	if s.confirmedDialog == nil {
		return
	}
	dlg := s.confirmedDialog
	s.deferredBye = false
	_ = dlg.SendRequest(ctx, "BYE", nil, nil)
	s.close()
}
