package state

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	herrors "github.com/zhubert/hopper/internal/errors"
	"github.com/zhubert/hopper/internal/jsonl"
	"github.com/zhubert/hopper/internal/logger"
)

// Sessions is the durable session collection.
type Sessions struct {
	c       collection[Session]
	seq     *Sequence
	archive *jsonl.File[Session]
	now     func() time.Time
	log     *slog.Logger
}

// SessionsOption configures OpenSessions.
type SessionsOption func(*Sessions)

// WithArchive appends every archived session to file.
func WithArchive(file *jsonl.File[Session]) SessionsOption {
	return func(s *Sessions) {
		s.archive = file
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) SessionsOption {
	return func(s *Sessions) {
		s.now = now
	}
}

// OpenSessions loads the collection from file. A corrupt file or a record
// with an unknown stage fails with KindCorruptState.
func OpenSessions(file *jsonl.File[Session], seq *Sequence, opts ...SessionsOption) (*Sessions, error) {
	s := &Sessions{
		c:   collection[Session]{file: file, id: func(s *Session) string { return s.ID }},
		seq: seq,
		now: time.Now,
		log: logger.ComponentLogger("sessions"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.c.load(); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(s.c.items))
	for _, sess := range s.c.items {
		if !sess.Stage.Valid() {
			return nil, herrors.E(herrors.Op("state.OpenSessions"), herrors.KindCorruptState,
				fmt.Sprintf("session %s in %s has invalid stage %q", sess.ID, file.Path(), sess.Stage))
		}
		if seen[sess.ID] {
			return nil, herrors.E(herrors.Op("state.OpenSessions"), herrors.KindCorruptState,
				fmt.Sprintf("duplicate session id %s in %s", sess.ID, file.Path()))
		}
		seen[sess.ID] = true
	}
	seq.Observe(SessionPrefix, s.c.ids()...)

	if s.archive != nil {
		archived, err := s.archive.Load()
		if err != nil {
			return nil, err
		}
		for _, sess := range archived {
			seq.Observe(SessionPrefix, sess.ID)
		}
	}

	s.log.Debug("sessions loaded", "count", len(s.c.items), "path", file.Path())
	return s, nil
}

// Create adds a session with a fresh id, state "new" and active=false.
func (s *Sessions) Create(req NewSession) (Session, error) {
	op := herrors.Op("state.Sessions.Create")
	if strings.TrimSpace(req.Project) == "" {
		return Session{}, herrors.MissingField(op, "project")
	}
	stage := req.Stage
	if stage == "" {
		stage = StageOre
	}
	if !stage.Valid() {
		return Session{}, herrors.BadRequest(op, fmt.Sprintf("invalid stage %q", stage))
	}
	st := req.State
	if st == "" {
		st = DefaultState
	}

	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	id, err := s.seq.Next(SessionPrefix)
	if err != nil {
		return Session{}, herrors.E(op, err)
	}
	now := s.now()
	sess := Session{
		ID:        id,
		Project:   req.Project,
		Scope:     req.Scope,
		Stage:     stage,
		State:     st,
		CreatedAt: now,
		UpdatedAt: now,
	}
	next := append(slices.Clone(s.c.items), sess)
	if err := s.c.commitLocked(next); err != nil {
		return Session{}, herrors.E(op, err)
	}
	s.log.Info("session created", "sessionID", id, "project", req.Project)
	return sess, nil
}

// Get returns the session with id.
func (s *Sessions) Get(id string) (Session, error) {
	sess, ok := s.c.get(id)
	if !ok {
		return Session{}, herrors.SessionNotFound(id)
	}
	return sess, nil
}

// List returns all sessions in creation order.
func (s *Sessions) List() []Session {
	return s.c.list()
}

// Update applies u to the session with id and returns the result.
func (s *Sessions) Update(id string, u SessionUpdate) (Session, error) {
	if u.Stage != nil && !u.Stage.Valid() {
		return Session{}, herrors.BadRequest(herrors.Op("state.Sessions.Update"), fmt.Sprintf("invalid stage %q", *u.Stage))
	}
	sess, _, err := s.mutate(id, func(sess *Session) bool {
		apply(sess, u)
		return true
	})
	return sess, err
}

// SetActive sets the active flag and, when windowRef is non-nil, the window
// reference. changed is false when the session already had those values
// and nothing was written.
func (s *Sessions) SetActive(id string, active bool, windowRef *string) (sess Session, changed bool, err error) {
	return s.mutate(id, func(sess *Session) bool {
		if sess.Active == active && (windowRef == nil || sess.Window() == *windowRef) {
			return false
		}
		sess.Active = active
		if windowRef != nil {
			ref := *windowRef
			sess.WindowRef = &ref
		}
		return true
	})
}

// mutate runs fn against a copy of the session and commits the copy when fn
// reports a change.
func (s *Sessions) mutate(id string, fn func(*Session) bool) (Session, bool, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	i := s.c.indexLocked(id)
	if i < 0 {
		return Session{}, false, herrors.SessionNotFound(id)
	}
	next := slices.Clone(s.c.items)
	if !fn(&next[i]) {
		return next[i], false, nil
	}
	next[i].UpdatedAt = s.now()
	if err := s.c.commitLocked(next); err != nil {
		return Session{}, false, herrors.E(herrors.Op("state.Sessions.Update"), err)
	}
	return next[i], true, nil
}

func apply(sess *Session, u SessionUpdate) {
	if u.Stage != nil {
		sess.Stage = *u.Stage
	}
	if u.State != nil {
		sess.State = *u.State
	}
	if u.Status != nil {
		sess.Status = *u.Status
	}
	if u.Scope != nil {
		sess.Scope = *u.Scope
	}
	if u.Active != nil {
		sess.Active = *u.Active
	}
	if u.WindowRef != nil {
		ref := *u.WindowRef
		sess.WindowRef = &ref
	}
	if u.ClearWindow {
		sess.WindowRef = nil
	}
}

// Delete archives the session: it is removed from the collection, its
// window reference is cleared, and, when an archive file is configured,
// the final record is appended there.
func (s *Sessions) Delete(id string) (Session, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	i := s.c.indexLocked(id)
	if i < 0 {
		return Session{}, herrors.SessionNotFound(id)
	}
	removed := s.c.items[i]
	next := slices.Delete(slices.Clone(s.c.items), i, i+1)
	if err := s.c.commitLocked(next); err != nil {
		return Session{}, herrors.E(herrors.Op("state.Sessions.Delete"), err)
	}

	removed.Active = false
	removed.WindowRef = nil
	removed.UpdatedAt = s.now()
	if s.archive != nil {
		if err := s.archive.Append(removed); err != nil {
			// History is best effort once the active file is rewritten.
			s.log.Warn("failed to append archive history", "sessionID", id, "error", err)
		}
	}
	s.log.Info("session archived", "sessionID", id)
	return removed, nil
}

// ResetActive clears the active flag on every session in one save. The
// server calls it at startup, when no connection can own a session.
func (s *Sessions) ResetActive() (int, error) {
	return s.rewrite(func(sess *Session) bool {
		if !sess.Active {
			return false
		}
		sess.Active = false
		return true
	})
}

// ClearWindows drops window references for which gone reports true.
func (s *Sessions) ClearWindows(gone func(ref string) bool) (int, error) {
	return s.rewrite(func(sess *Session) bool {
		if sess.WindowRef == nil || !gone(*sess.WindowRef) {
			return false
		}
		sess.WindowRef = nil
		return true
	})
}

// rewrite applies fn to every session and saves once if any changed.
func (s *Sessions) rewrite(fn func(*Session) bool) (int, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	next := slices.Clone(s.c.items)
	changed := 0
	now := s.now()
	for i := range next {
		if fn(&next[i]) {
			next[i].UpdatedAt = now
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	if err := s.c.commitLocked(next); err != nil {
		return 0, herrors.E(herrors.Op("state.Sessions.rewrite"), err)
	}
	return changed, nil
}
