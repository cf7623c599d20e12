package services

import "github.com/abrezinsky/chanpoll/internal/models"

// IdentityKey returns the canonical key used to deduplicate one vote per
// person: the account name when the transport has resolved one, otherwise
// the nickname.
func IdentityKey(s models.Sender) string {
	if s.Account != "" {
		return s.Account
	}
	return s.Nickname
}

// VoterRoll maps identity keys to the choice key each identity cast for
// one session. Like Ballot it is owned by a single session goroutine.
type VoterRoll struct {
	entries map[string]string
}

// NewVoterRoll creates an empty VoterRoll
func NewVoterRoll() *VoterRoll {
	return &VoterRoll{entries: make(map[string]string)}
}

// HasVoted reports whether the identity already cast a counted vote
func (r *VoterRoll) HasVoted(key string) bool {
	_, ok := r.entries[key]
	return ok
}

// Record notes that the identity cast the given choice
func (r *VoterRoll) Record(key, choiceKey string) {
	r.entries[key] = choiceKey
}

// Migrate re-keys an entry from oldKey to newKey, preserving the cast
// choice. Used when a voter renames or logs into an account mid-session.
// No-op if oldKey has no entry.
func (r *VoterRoll) Migrate(oldKey, newKey string) {
	choice, ok := r.entries[oldKey]
	if !ok {
		return
	}
	delete(r.entries, oldKey)
	r.entries[newKey] = choice
}

// Forget drops the identity's entry and returns the choice it had cast,
// so the caller can uncount it.
func (r *VoterRoll) Forget(key string) (string, bool) {
	choice, ok := r.entries[key]
	if !ok {
		return "", false
	}
	delete(r.entries, key)
	return choice, true
}

// Count returns the number of identities with a counted vote
func (r *VoterRoll) Count() int {
	return len(r.entries)
}
