package state

import (
	"strconv"
	"strings"
	"sync"

	"github.com/zhubert/hopper/internal/jsonl"
)

// Id prefixes
const (
	SessionPrefix = "s"
	BacklogPrefix = "b"
)

// Sequence hands out never-reused ids per prefix and persists the counters.
type Sequence struct {
	mu       sync.Mutex
	path     string
	counters map[string]int
}

// OpenSequence loads the counters stored at path. A missing file starts
// every counter at zero.
func OpenSequence(path string) (*Sequence, error) {
	counters := map[string]int{}
	if _, err := jsonl.ReadJSON(path, &counters); err != nil {
		return nil, err
	}
	if counters == nil {
		counters = map[string]int{}
	}
	return &Sequence{path: path, counters: counters}, nil
}

// Next reserves the next id for prefix. The counter is saved before the id
// is returned; on a failed save the counter is left unchanged.
func (s *Sequence) Next(prefix string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.counters[prefix] + 1
	next := make(map[string]int, len(s.counters))
	for k, v := range s.counters {
		next[k] = v
	}
	next[prefix] = n
	if err := jsonl.WriteJSON(s.path, next); err != nil {
		return "", err
	}
	s.counters = next
	return prefix + strconv.Itoa(n), nil
}

// Observe raises the prefix counter to cover ids already in use, so a lost
// or stale ids file cannot cause reuse.
func (s *Sequence) Observe(prefix string, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if n, ok := parseID(prefix, id); ok && n > s.counters[prefix] {
			s.counters[prefix] = n
		}
	}
}

// Current returns the last id number issued for prefix.
func (s *Sequence) Current(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[prefix]
}

func parseID(prefix, id string) (int, bool) {
	digits, ok := strings.CutPrefix(id, prefix)
	if !ok || digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
