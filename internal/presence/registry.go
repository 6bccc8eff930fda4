// Package presence tracks which users are connected, which conversation each
// connection is looking at, and announces online/offline transitions.
package presence

import (
	"sort"
	"sync"

	"github.com/Joginder1706/backend-socket/internal/chat"
)

// entry is the registry's view of one identified connection.
type entry struct {
	connID string
	user   chat.UserID
	focus  chat.UserID // counterpart being viewed, 0 for none
	seq    uint64      // when focus was last changed
}

// Registry maps live connections to their owning users and focus. Only
// identified connections are held; unidentified ones never appear in
// presence queries. Lookups return snapshots.
type Registry struct {
	mu        sync.RWMutex
	conns     map[string]*entry
	byUser    map[chat.UserID]map[string]*entry
	announced map[chat.UserID]bool // userOnline sent for the current online period
	seq       uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:     make(map[string]*entry),
		byUser:    make(map[chat.UserID]map[string]*entry),
		announced: make(map[chat.UserID]bool),
	}
}

// Register binds connID to userID. It is a no-op returning false when userID
// is zero, connID is empty, or the connection is already registered (the
// identity is set once). first reports whether this is the user's only live
// connection.
func (r *Registry) Register(connID string, userID chat.UserID) (ok, first bool) {
	if connID == "" || userID == 0 {
		return false, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[connID]; exists {
		return false, false
	}

	e := &entry{connID: connID, user: userID}
	r.conns[connID] = e

	group, ok := r.byUser[userID]
	if !ok {
		group = make(map[string]*entry)
		r.byUser[userID] = group
	}
	group[connID] = e
	return true, len(group) == 1
}

// SetFocus records that the connection owned by owner is viewing the
// conversation with counterpart. Calls for connections not registered to
// owner are ignored and return false.
func (r *Registry) SetFocus(connID string, owner, counterpart chat.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok || e.user != owner {
		return false
	}
	r.seq++
	e.focus = counterpart
	e.seq = r.seq
	return true
}

// ClearFocus resets the connection's focus to none.
func (r *Registry) ClearFocus(connID string, owner chat.UserID) bool {
	return r.SetFocus(connID, owner, 0)
}

// FocusOf returns the counterpart owner most recently focused on across all
// of owner's connections, or 0 if none or owner is unknown.
func (r *Registry) FocusOf(owner chat.UserID) chat.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *entry
	for _, e := range r.byUser[owner] {
		if latest == nil || e.seq > latest.seq {
			latest = e
		}
	}
	if latest == nil {
		return 0
	}
	return latest.focus
}

// IsFocusedOn reports whether any of owner's connections is focused on
// counterpart.
func (r *Registry) IsFocusedOn(owner, counterpart chat.UserID) bool {
	if counterpart == 0 {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.byUser[owner] {
		if e.focus == counterpart {
			return true
		}
	}
	return false
}

// FindByUser returns the ids of all live connections owned by userID, sorted.
func (r *Registry) FindByUser(userID chat.UserID) []string {
	r.mu.RLock()
	group := r.byUser[userID]
	ids := make([]string, 0, len(group))
	for id := range group {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// UserOf returns the user a connection is registered to.
func (r *Registry) UserOf(connID string) (chat.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[connID]
	if !ok {
		return 0, false
	}
	return e.user, true
}

// IsOnline reports whether userID has at least one live connection.
func (r *Registry) IsOnline(userID chat.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// OnlineUsers returns the distinct users with at least one live connection,
// sorted ascending.
func (r *Registry) OnlineUsers() []chat.UserID {
	r.mu.RLock()
	users := make([]chat.UserID, 0, len(r.byUser))
	for u := range r.byUser {
		users = append(users, u)
	}
	r.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// MarkAnnounced records that userID's online transition has been broadcast.
// It returns true only for the first call while the user stays online, and
// false when the user is not online at all.
func (r *Registry) MarkAnnounced(userID chat.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.byUser[userID]) == 0 || r.announced[userID] {
		return false
	}
	r.announced[userID] = true
	return true
}

// Unregister removes a connection. offline reports whether it was the user's
// last live connection. Unknown connections return (0, false).
func (r *Registry) Unregister(connID string) (userID chat.UserID, offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return 0, false
	}
	delete(r.conns, connID)

	group := r.byUser[e.user]
	delete(group, connID)
	if len(group) == 0 {
		delete(r.byUser, e.user)
		delete(r.announced, e.user)
		return e.user, true
	}
	return e.user, false
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
