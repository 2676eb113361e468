package session

import (
	"errors"
	"fmt"
)

// Cause classifies why a session ended or failed, mirroring the cause
// constants a signaling collaborator would otherwise hand-roll per call.
type Cause string

const (
	CauseUserDeniedMediaAccess Cause = "USER_DENIED_MEDIA_ACCESS"
	CauseRejected              Cause = "REJECTED"
	CauseCanceled              Cause = "CANCELED"

	CauseBusy                  Cause = "BUSY"
	CauseUnavailable           Cause = "UNAVAILABLE"
	CauseBye                   Cause = "BYE"
	CauseNoAnswer              Cause = "NO_ANSWER"
	CauseExpires               Cause = "EXPIRES"
	CauseNoAck                 Cause = "NO_ACK"
	CauseBadMediaDescription   Cause = "BAD_MEDIA_DESCRIPTION"

	CauseConnectionError Cause = "CONNECTION_ERROR"
	CauseRequestTimeout  Cause = "REQUEST_TIMEOUT"
	CauseWebrtcError     Cause = "WEBRTC_ERROR"
	CauseDialogError     Cause = "DIALOG_ERROR"
	CauseInternalError   Cause = "INTERNAL_ERROR"
)

// Reason returns the SIP final-response code and phrase conventionally
// associated with a cause, for use in outbound Reason headers and
// accept-and-terminate flows. Not every cause maps to a wire response;
// ok is false for causes that never produce one directly (e.g. BYE).
func (c Cause) Reason() (code int, phrase string, ok bool) {
	switch c {
	case CauseRejected:
		return 603, "Decline", true
	case CauseCanceled:
		return 487, "Request Terminated", true
	case CauseBusy:
		return 486, "Busy Here", true
	case CauseUnavailable:
		return 480, "Temporarily Unavailable", true
	case CauseNoAnswer:
		return 408, "Request Timeout", true
	case CauseExpires:
		return 487, "Request Terminated", true
	case CauseBadMediaDescription:
		return 488, "Not Acceptable Here", true
	case CauseRequestTimeout:
		return 408, "Request Timeout", true
	case CauseInternalError:
		return 500, "Server Internal Error", true
	default:
		return 0, "", false
	}
}

// ErrorCategory buckets a SessionError for logging/metrics without
// exposing the full cause taxonomy to callers that only care about
// broad severity.
type ErrorCategory string

const (
	CategoryUser     ErrorCategory = "user"
	CategoryProtocol ErrorCategory = "protocol"
	CategorySystem   ErrorCategory = "system"
)

func (c Cause) Category() ErrorCategory {
	switch c {
	case CauseUserDeniedMediaAccess, CauseRejected, CauseCanceled:
		return CategoryUser
	case CauseBusy, CauseUnavailable, CauseBye, CauseNoAnswer, CauseExpires, CauseNoAck, CauseBadMediaDescription:
		return CategoryProtocol
	default:
		return CategorySystem
	}
}

// SessionError is the only error type that crosses a Session's public
// boundary for protocol/system faults. Programmer errors use the plain
// sentinel errors below instead.
type SessionError struct {
	Cause     Cause
	SessionID string
	Retryable bool
	Cause_    error // wrapped underlying error, if any
}

func (e *SessionError) Error() string {
	if e.Cause_ != nil {
		return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Cause, e.Cause_)
	}
	return fmt.Sprintf("session %s: %s", e.SessionID, e.Cause)
}

func (e *SessionError) Unwrap() error {
	return e.Cause_
}

func newSessionError(sessionID string, cause Cause, wrapped error) *SessionError {
	retryable := cause.Category() == CategorySystem
	return &SessionError{Cause: cause, SessionID: sessionID, Retryable: retryable, Cause_: wrapped}
}

// Programmer errors: raised synchronously, never transition session state.
var (
	ErrInvalidState     = errors.New("session: invalid state for operation")
	ErrInvalidArgument  = errors.New("session: invalid argument")
	ErrNotSupported     = errors.New("session: operation not supported")
	ErrAlreadyClosed    = errors.New("session: already terminated")
)
