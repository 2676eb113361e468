package sipsignal

import (
	"github.com/emiago/sipgo/sip"

	"github.com/sipcore/rtcsession/pkg/session"
)

// serverTransaction adapts a sip.ServerTransaction's Done() channel to
// session.ServerTransactionHandle's OnStateChange callback, the piece
// the deferred-BYE trigger in session/uas.go needs to learn when the
// INVITE server transaction is gone for good.
type serverTransaction struct {
	tx sip.ServerTransaction
}

func newServerTransaction(tx sip.ServerTransaction) *serverTransaction {
	return &serverTransaction{tx: tx}
}

func (t *serverTransaction) OnStateChange(fn func(state session.TransactionState)) {
	go func() {
		<-t.tx.Done()
		fn(session.TransactionTerminated)
	}()
}
