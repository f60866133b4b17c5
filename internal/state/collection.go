package state

import (
	"slices"
	"sync"

	"github.com/zhubert/hopper/internal/jsonl"
)

// collection is an ordered, persisted list of records keyed by id.
// Methods ending in Locked expect mu to be held.
type collection[T any] struct {
	mu    sync.Mutex
	file  *jsonl.File[T]
	items []T
	id    func(*T) string
}

func (c *collection[T]) load() error {
	items, err := c.file.Load()
	if err != nil {
		return err
	}
	c.items = items
	return nil
}

func (c *collection[T]) indexLocked(id string) int {
	for i := range c.items {
		if c.id(&c.items[i]) == id {
			return i
		}
	}
	return -1
}

// commitLocked saves next and, only if that succeeds, makes it current.
func (c *collection[T]) commitLocked(next []T) error {
	if err := c.file.Save(next); err != nil {
		return err
	}
	c.items = next
	return nil
}

func (c *collection[T]) list() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.items)
}

func (c *collection[T]) get(id string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexLocked(id); i >= 0 {
		return c.items[i], true
	}
	var zero T
	return zero, false
}

func (c *collection[T]) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.items))
	for i := range c.items {
		out[i] = c.id(&c.items[i])
	}
	return out
}
