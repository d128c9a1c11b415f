package ban

import "github.com/whisper/relay/internal/apperr"

// Authorizer gates moderator actions by username allow-list.
type Authorizer struct {
	moderators map[string]struct{}
}

// NewAuthorizer builds an Authorizer from the allow-list. Empty names are
// ignored.
func NewAuthorizer(moderators []string) *Authorizer {
	a := &Authorizer{moderators: make(map[string]struct{}, len(moderators))}
	for _, m := range moderators {
		if m != "" {
			a.moderators[m] = struct{}{}
		}
	}
	return a
}

// IsModerator reports whether username is on the allow-list.
func (a *Authorizer) IsModerator(username string) bool {
	_, ok := a.moderators[username]
	return ok
}

// Require returns apperr.ErrNotModerator unless username is on the list.
func (a *Authorizer) Require(username string) error {
	if username == "" || !a.IsModerator(username) {
		return apperr.ErrNotModerator
	}
	return nil
}
