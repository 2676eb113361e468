package session

import "context"

// TransactionState mirrors the terminal states a server transaction
// reports, generalized from the teacher's tx.go TxState enum down to
// the single transition this core cares about.
type TransactionState int

const (
	TransactionProceeding TransactionState = iota
	TransactionTerminated
)

// IncomingMessage is the view a Session has of an inbound SIP request
// or response, provided by the signaling collaborator (sipsignal in
// this repo, but the session package only depends on this interface —
// see spec §6 "Signaling collaborator (provided)").
type IncomingMessage interface {
	Method() string
	StatusCode() int
	CallID() string
	FromTag() string
	ToTag() string
	Body() []byte
	ContentType() string
	GetHeader(name string) (string, bool)
	HasHeader(name string) bool
}

// Replier lets the session answer an IncomingMessage that is a request.
type Replier interface {
	Reply(code int, phrase string, headers map[string]string, body []byte) error
}

// RequestSender is the outgoing-request half of the collaborator: build
// once, send, optionally cancel, and drain responses as they arrive.
type RequestSender interface {
	Send(ctx context.Context) error
	Cancel(reason string) error
	Responses() <-chan IncomingMessage
}

// ServerTransactionHandle lets the session observe the terminal state
// of the INVITE server transaction, needed for the deferred-BYE trigger
// in §4.1 ("on the INVITE server transaction reaching TERMINATED").
type ServerTransactionHandle interface {
	OnStateChange(func(state TransactionState))
}

// DialogRole distinguishes which side of the dialog this session plays,
// independent of which side sent the initial INVITE (relevant for
// forked-2xx throwaway dialogs, which are always UAC-role).
type DialogRole int

const (
	RoleUAC DialogRole = iota
	RoleUAS
)

// DialogHandle is a confirmed or early dialog as seen by the session.
type DialogHandle interface {
	ID() string
	Terminate() error
	SendRequest(ctx context.Context, method string, body []byte, headers map[string]string) error
}

// DialogFactory constructs dialogs on demand — from a fresh INVITE
// (UAS), from a provisional/final response (UAC), or as a throwaway
// dialog for a forked 2xx that must be politely ACKed and BYE'd.
type DialogFactory interface {
	NewDialog(msg IncomingMessage, role DialogRole) (DialogHandle, error)
}
