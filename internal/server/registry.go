package server

import (
	"log/slog"
	"sync"

	herrors "github.com/zhubert/hopper/internal/errors"
	"github.com/zhubert/hopper/internal/logger"
	"github.com/zhubert/hopper/internal/state"
)

// Registry records which connection owns which session. A connection owns at
// most one session; a session may be owned by several connections and only
// goes inactive when the last of them lets go.
//
// Registry.mu is always taken before the sessions collection lock.
type Registry struct {
	mu       sync.Mutex
	sessions *state.Sessions
	owners   map[string]string // connID -> sessionID
	log      *slog.Logger
}

// NewRegistry creates an empty registry over sessions.
func NewRegistry(sessions *state.Sessions) *Registry {
	return &Registry{
		sessions: sessions,
		owners:   make(map[string]string),
		log:      logger.ComponentLogger("registry"),
	}
}

// Attach binds connID to sessionID, marks the session active and records
// windowRef when given. A previous binding of connID to another session is
// released first. changed reports whether anything persisted changed.
func (r *Registry) Attach(connID, sessionID string, windowRef *string) (sess state.Session, changed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, changed, err = r.sessions.SetActive(sessionID, true, windowRef)
	if err != nil {
		return state.Session{}, false, err
	}

	prev, had := r.owners[connID]
	r.owners[connID] = sessionID
	if had && prev != sessionID {
		released, err := r.releaseLocked(prev)
		if err != nil {
			r.log.Error("failed to release previous session", "connID", connID, "sessionID", prev, "error", err)
		}
		changed = changed || released
	}

	r.log.Info("attached", "connID", connID, "sessionID", sessionID)
	return sess, changed, nil
}

// Detach drops whatever connID owns. It is idempotent: a connection that owns
// nothing, or was already detached, is a no-op.
func (r *Registry) Detach(connID string) (sessionID string, changed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID, ok := r.owners[connID]
	if !ok {
		return "", false, nil
	}
	delete(r.owners, connID)

	changed, err = r.releaseLocked(sessionID)
	if err != nil {
		return sessionID, false, err
	}
	r.log.Info("detached", "connID", connID, "sessionID", sessionID, "changed", changed)
	return sessionID, changed, nil
}

// Archive removes the session from the active set and forgets every owner
// of it, so no later disconnect tries to touch it.
func (r *Registry) Archive(sessionID string) (state.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.sessions.Delete(sessionID)
	if err != nil {
		return state.Session{}, err
	}
	for connID, owned := range r.owners {
		if owned == sessionID {
			delete(r.owners, connID)
		}
	}
	return sess, nil
}

// Owner returns the session connID owns, if any.
func (r *Registry) Owner(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessionID, ok := r.owners[connID]
	return sessionID, ok
}

// Len returns the number of connections that own a session.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owners)
}

// releaseLocked marks sessionID inactive unless another connection still
// owns it. Caller holds r.mu.
func (r *Registry) releaseLocked(sessionID string) (bool, error) {
	for _, owned := range r.owners {
		if owned == sessionID {
			return false, nil
		}
	}
	_, changed, err := r.sessions.SetActive(sessionID, false, nil)
	if herrors.Is(err, herrors.KindNotFound) {
		return false, nil
	}
	return changed, err
}
