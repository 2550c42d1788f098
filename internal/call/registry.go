package call

import "sync"

// Registry tracks live sessions and enforces the one-live-call-per-user
// invariant. Slot acquisition is a per-user compare-and-swap on the slots
// map; there is no registry-wide lock, so unrelated calls never contend.
type Registry struct {
	slots    sync.Map // userID -> *Session
	sessions sync.Map // sessionID -> *Session
}

// NewRegistry constructs an empty session registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Lookup returns the live session with the given id.
func (r *Registry) Lookup(sessionID string) (*Session, bool) {
	v, ok := r.sessions.Load(sessionID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// ForUser returns the live session the user participates in, if any.
func (r *Registry) ForUser(userID string) (*Session, bool) {
	v, ok := r.slots.Load(userID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// acquire reserves both participant slots for the session. When either slot
// is taken it rolls back any reservation it made and returns the occupying
// session with ErrBusy; two concurrent initiates naming the same user cannot
// both succeed.
func (r *Registry) acquire(s *Session) (*Session, error) {
	if occupant, loaded := r.slots.LoadOrStore(s.CallerID, s); loaded {
		return occupant.(*Session), ErrBusy
	}
	if occupant, loaded := r.slots.LoadOrStore(s.ReceiverID, s); loaded {
		r.slots.CompareAndDelete(s.CallerID, s)
		return occupant.(*Session), ErrBusy
	}
	r.sessions.Store(s.ID, s)
	return s, nil
}

// release frees the session's slots. CompareAndDelete guarantees a slot is
// only freed by the session that owns it, never by a stale terminal one.
func (r *Registry) release(s *Session) {
	r.slots.CompareAndDelete(s.CallerID, s)
	r.slots.CompareAndDelete(s.ReceiverID, s)
	r.sessions.Delete(s.ID)
}
