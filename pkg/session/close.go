package session

// close is the idempotent shutdown of spec §4.6. It always runs on the
// event loop; ended(...)/failed(...) call it before emitting so no
// observer can re-enter the session after notification (guaranteed by
// invariant 1 plus the order here).
func (s *Session) close() {
	if s.status() == StatusTerminated {
		return
	}

	if s.media != nil {
		_ = s.media.Close()
	}
	s.timers.cancelAll()
	s.dtmf.clear()

	if s.confirmedDialog != nil {
		_ = s.confirmedDialog.Terminate()
		s.confirmedDialog = nil
	}
	s.clearEarlyDialogsExcept("")

	_ = s.transition(evTerminate)
	s.registry.Deregister(s.id)

	// Stop the event loop: every future submit()/notify() observes
	// s.closed and returns ErrAlreadyClosed (or drops silently) instead
	// of mutating a terminated session, which is how invariant 1 is
	// enforced structurally rather than by a guard at every call site.
	s.once.Do(func() { close(s.closed) })
}

// Close is the public idempotent shutdown, for callers that want to
// force termination without going through terminate()/Terminate (e.g.
// the owning user agent tearing everything down on exit).
func (s *Session) Close() error {
	return s.submit(func() { s.close() })
}
