package sipsignal

import (
	"context"
	"fmt"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/sipcore/rtcsession/pkg/session"
)

// sender adapts a *sip.Request plus the sipgo client to
// session.RequestSender, generalized from the teacher's
// UASUAC.CreateDialog + handleClientTransaction in uasuac.go, split so
// the session package only ever sees Send/Cancel/Responses.
type sender struct {
	client *sipgo.Client
	req    *sip.Request

	tx        sip.ClientTransaction
	responses chan session.IncomingMessage
}

func newSender(client *sipgo.Client, req *sip.Request) *sender {
	return &sender{client: client, req: req, responses: make(chan session.IncomingMessage, 4)}
}

func (s *sender) Send(ctx context.Context) error {
	tx, err := s.client.TransactionRequest(ctx, s.req)
	if err != nil {
		return fmt.Errorf("sipsignal: send INVITE: %w", err)
	}
	s.tx = tx
	go s.pump()
	return nil
}

// pump relays every response off the sipgo transaction into the
// session-facing channel, closing it once the transaction reaches a
// final response or errors out — mirroring handleClientTransaction's
// loop-until-final-response-or-Err in uasuac.go.
func (s *sender) pump() {
	defer close(s.responses)
	for resp := range s.tx.Responses() {
		s.responses <- fromResponse(resp)
		if resp.StatusCode >= 200 {
			return
		}
	}
}

// Cancel fires CANCEL on the pending client transaction, the same
// tx.Cancel() call the teacher's error_handling_test.go exercises
// directly against sip.ClientTransaction.
func (s *sender) Cancel(reason string) error {
	if s.tx == nil {
		return fmt.Errorf("sipsignal: cancel before send")
	}
	return s.tx.Cancel()
}

func (s *sender) Responses() <-chan session.IncomingMessage {
	return s.responses
}
