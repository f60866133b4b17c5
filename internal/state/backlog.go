package state

import (
	"log/slog"
	"slices"
	"strings"
	"time"

	herrors "github.com/zhubert/hopper/internal/errors"
	"github.com/zhubert/hopper/internal/jsonl"
	"github.com/zhubert/hopper/internal/logger"
)

// Backlog is the durable backlog collection.
type Backlog struct {
	c   collection[BacklogItem]
	seq *Sequence
	now func() time.Time
	log *slog.Logger
}

// OpenBacklog loads the backlog from file.
func OpenBacklog(file *jsonl.File[BacklogItem], seq *Sequence) (*Backlog, error) {
	b := &Backlog{
		c:   collection[BacklogItem]{file: file, id: func(item *BacklogItem) string { return item.ID }},
		seq: seq,
		now: time.Now,
		log: logger.ComponentLogger("backlog"),
	}
	if err := b.c.load(); err != nil {
		return nil, err
	}
	seq.Observe(BacklogPrefix, b.c.ids()...)
	return b, nil
}

// Create queues a new backlog item.
func (b *Backlog) Create(req NewBacklogItem) (BacklogItem, error) {
	op := herrors.Op("state.Backlog.Create")
	if strings.TrimSpace(req.Project) == "" {
		return BacklogItem{}, herrors.MissingField(op, "project")
	}
	if strings.TrimSpace(req.Description) == "" {
		return BacklogItem{}, herrors.MissingField(op, "description")
	}

	b.c.mu.Lock()
	defer b.c.mu.Unlock()

	id, err := b.seq.Next(BacklogPrefix)
	if err != nil {
		return BacklogItem{}, herrors.E(op, err)
	}
	item := BacklogItem{
		ID:          id,
		Project:     req.Project,
		Description: req.Description,
		SessionID:   req.SessionID,
		CreatedAt:   b.now(),
	}
	if err := b.c.commitLocked(append(slices.Clone(b.c.items), item)); err != nil {
		return BacklogItem{}, herrors.E(op, err)
	}
	b.log.Info("backlog item added", "itemID", id, "project", req.Project)
	return item, nil
}

// Get returns the item with id.
func (b *Backlog) Get(id string) (BacklogItem, error) {
	item, ok := b.c.get(id)
	if !ok {
		return BacklogItem{}, herrors.BacklogNotFound(id)
	}
	return item, nil
}

// List returns all items in creation order.
func (b *Backlog) List() []BacklogItem {
	return b.c.list()
}

// Update overwrites the fields set in u.
func (b *Backlog) Update(id string, u BacklogUpdate) (BacklogItem, error) {
	op := herrors.Op("state.Backlog.Update")
	if u.Project != nil && strings.TrimSpace(*u.Project) == "" {
		return BacklogItem{}, herrors.BadRequest(op, "project must not be empty")
	}
	if u.Description != nil && strings.TrimSpace(*u.Description) == "" {
		return BacklogItem{}, herrors.BadRequest(op, "description must not be empty")
	}

	b.c.mu.Lock()
	defer b.c.mu.Unlock()

	i := b.c.indexLocked(id)
	if i < 0 {
		return BacklogItem{}, herrors.BacklogNotFound(id)
	}
	next := slices.Clone(b.c.items)
	if u.Project != nil {
		next[i].Project = *u.Project
	}
	if u.Description != nil {
		next[i].Description = *u.Description
	}
	if err := b.c.commitLocked(next); err != nil {
		return BacklogItem{}, herrors.E(op, err)
	}
	return next[i], nil
}

// Delete removes the item with id.
func (b *Backlog) Delete(id string) (BacklogItem, error) {
	b.c.mu.Lock()
	defer b.c.mu.Unlock()

	i := b.c.indexLocked(id)
	if i < 0 {
		return BacklogItem{}, herrors.BacklogNotFound(id)
	}
	removed := b.c.items[i]
	if err := b.c.commitLocked(slices.Delete(slices.Clone(b.c.items), i, i+1)); err != nil {
		return BacklogItem{}, herrors.E(herrors.Op("state.Backlog.Delete"), err)
	}
	b.log.Info("backlog item removed", "itemID", id)
	return removed, nil
}
