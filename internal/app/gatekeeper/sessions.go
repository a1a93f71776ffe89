// internal/app/gatekeeper/sessions.go
package gatekeeper

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrAlreadyWaiting is returned when a user already has an outstanding
// email prompt. Allowing a second concurrent flow for the same user would
// make the next inbound message ambiguous, so the later flow aborts.
var ErrAlreadyWaiting = errors.New("user already has an email prompt outstanding")

// waitSlot is the ephemeral state of one email prompt: which chat's join
// flow owns it and the channel the user's next message is delivered on.
type waitSlot struct {
	token  string
	chatID int64
	ch     chan string
}

// sessionRegistry tracks outstanding email prompts, at most one per user.
type sessionRegistry struct {
	mu     sync.Mutex
	byUser map[int64]*waitSlot
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{byUser: make(map[int64]*waitSlot)}
}

// acquire registers a wait slot for (chatID, userID). The buffer of one
// lets a reply that lands between attempts carry over to the next read.
func (r *sessionRegistry) acquire(chatID, userID int64) (*waitSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUser[userID]; ok {
		return nil, ErrAlreadyWaiting
	}
	s := &waitSlot{
		token:  uuid.NewString(),
		chatID: chatID,
		ch:     make(chan string, 1),
	}
	r.byUser[userID] = s
	return s, nil
}

// release removes the slot if it still belongs to the finishing flow.
func (r *sessionRegistry) release(userID int64, s *waitSlot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byUser[userID]; ok && cur.token == s.token {
		delete(r.byUser, userID)
	}
}

// deliver hands an inbound message to the user's outstanding slot.
// Messages from users with no slot, and messages beyond the one the slot
// can hold, are dropped; it reports whether the message was consumed.
func (r *sessionRegistry) deliver(userID int64, text string) bool {
	r.mu.Lock()
	s, ok := r.byUser[userID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case s.ch <- text:
		return true
	default:
		return false
	}
}
