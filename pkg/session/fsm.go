package session

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
)

// Status is the session's state, per the transition table in spec §3.
// Modeled as a string so it plugs directly into looplab/fsm, the same
// library the teacher wires its dialog state machine with in
// pkg/dialog/dialog.go.
type Status string

const (
	StatusNull              Status = "NULL"
	StatusInviteSent        Status = "INVITE_SENT"
	Status1xxReceived       Status = "1XX_RECEIVED"
	StatusInviteReceived    Status = "INVITE_RECEIVED"
	StatusWaitingForAnswer  Status = "WAITING_FOR_ANSWER"
	StatusAnswered          Status = "ANSWERED"
	StatusWaitingForAck     Status = "WAITING_FOR_ACK"
	StatusConfirmed         Status = "CONFIRMED"
	StatusCanceled          Status = "CANCELED"
	StatusTerminated        Status = "TERMINATED"
)

const (
	evConnect        = "connect"
	evInviteReceived = "invite_received"
	evOfferAccepted  = "offer_accepted"
	ev1xx            = "1xx"
	ev2xx            = "2xx"
	evAnswer         = "answer"
	ev2xxSent        = "2xx_sent"
	evAckReceived    = "ack_received"
	evCancel         = "cancel"
	evTerminate      = "terminate"
)

// newStatusFSM builds the looplab/fsm instance backing a Session,
// generalizing dialog.go's fsm.NewFSM("none", fsm.Events{...},
// fsm.Callbacks{"after_event": ...}) pattern from a dialog's three
// states to the session's full status table.
func newStatusFSM(s *Session) *fsm.FSM {
	return fsm.NewFSM(
		string(StatusNull),
		fsm.Events{
			{Name: evConnect, Src: []string{string(StatusNull)}, Dst: string(StatusInviteSent)},
			{Name: evInviteReceived, Src: []string{string(StatusNull)}, Dst: string(StatusInviteReceived)},
			{Name: evOfferAccepted, Src: []string{string(StatusInviteReceived)}, Dst: string(StatusWaitingForAnswer)},
			{Name: ev1xx, Src: []string{string(StatusInviteSent)}, Dst: string(Status1xxReceived)},
			{Name: ev2xx, Src: []string{string(StatusInviteSent), string(Status1xxReceived)}, Dst: string(StatusConfirmed)},
			{Name: evAnswer, Src: []string{string(StatusWaitingForAnswer)}, Dst: string(StatusAnswered)},
			{Name: ev2xxSent, Src: []string{string(StatusAnswered)}, Dst: string(StatusWaitingForAck)},
			{Name: evAckReceived, Src: []string{string(StatusWaitingForAck)}, Dst: string(StatusConfirmed)},
			{Name: evCancel, Src: []string{string(StatusWaitingForAnswer)}, Dst: string(StatusCanceled)},
			{
				Name: evTerminate,
				Src: []string{
					string(StatusNull), string(StatusInviteSent), string(Status1xxReceived),
					string(StatusInviteReceived), string(StatusWaitingForAnswer), string(StatusAnswered),
					string(StatusWaitingForAck), string(StatusConfirmed), string(StatusCanceled),
				},
				Dst: string(StatusTerminated),
			},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				s.onStatusChanged(Status(e.Src), Status(e.Dst))
			},
		},
	)
}

// status returns the session's current status. Safe to call from the
// event-loop goroutine only, like every other unexported accessor in
// this package.
func (s *Session) status() Status {
	return Status(s.fsm.Current())
}

// transition fires ev on the underlying FSM and translates fsm's
// InvalidEventError into the package's own ErrInvalidState, so callers
// never need to import looplab/fsm themselves.
func (s *Session) transition(ev string) error {
	if err := s.fsm.Event(context.Background(), ev); err != nil {
		if _, ok := err.(fsm.InvalidEventError); ok {
			return fmt.Errorf("%w: cannot %s from %s", ErrInvalidState, ev, s.fsm.Current())
		}
		if _, ok := err.(fsm.NoTransitionError); ok {
			return nil
		}
		return err
	}
	return nil
}
