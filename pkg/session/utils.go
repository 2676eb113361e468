package session

import "github.com/google/uuid"

// newTag mints a local dialog tag, generalized from the teacher's
// generateTag in pkg/dialog/dialog.go (there a random hex string; here
// a UUID segment, since google/uuid is already a direct dependency via
// sipgo and needs no extra randomness plumbing).
func newTag() string {
	return uuid.NewString()[:8]
}
