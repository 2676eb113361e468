package sipsignal

import "github.com/google/uuid"

// newTag mints a dialog tag the same way session.newTag does: the
// first 8 characters of a fresh UUID, short enough to keep headers
// readable while still being collision-free in practice.
func newTag() string {
	return uuid.NewString()[:8]
}
