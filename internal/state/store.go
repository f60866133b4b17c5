package state

import (
	"github.com/zhubert/hopper/internal/jsonl"
	"github.com/zhubert/hopper/internal/paths"
)

// Store bundles both collections of one data directory.
type Store struct {
	Sessions *Sessions
	Backlog  *Backlog
}

// Open loads sessions, backlog and the id sequence from layout. With
// archiveHistory set, archived sessions are appended to archived.jsonl.
func Open(layout paths.Layout, archiveHistory bool, opts ...SessionsOption) (*Store, error) {
	seq, err := OpenSequence(layout.IDs())
	if err != nil {
		return nil, err
	}
	if archiveHistory {
		opts = append([]SessionsOption{WithArchive(jsonl.New[Session](layout.Archived()))}, opts...)
	}
	sessions, err := OpenSessions(jsonl.New[Session](layout.Sessions()), seq, opts...)
	if err != nil {
		return nil, err
	}
	backlog, err := OpenBacklog(jsonl.New[BacklogItem](layout.Backlog()), seq)
	if err != nil {
		return nil, err
	}
	return &Store{Sessions: sessions, Backlog: backlog}, nil
}
