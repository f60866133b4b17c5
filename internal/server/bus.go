package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/zhubert/hopper/internal/logger"
)

// Bus fans state out to every registered connection.
type Bus struct {
	// publishMu serializes publishes so all clients observe the same order.
	publishMu sync.Mutex

	mu    sync.RWMutex
	conns map[string]*conn

	snapshot func() StateChanged
	log      *slog.Logger
}

// NewBus creates a bus that broadcasts whatever snapshot returns.
func NewBus(snapshot func() StateChanged) *Bus {
	return &Bus{
		conns:    make(map[string]*conn),
		snapshot: snapshot,
		log:      logger.ComponentLogger("bus"),
	}
}

func (b *Bus) register(c *conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[c.id] = c
}

func (b *Bus) unregister(c *conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, c.id)
}

// Len returns the number of registered connections.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}

// Publish broadcasts a fresh state snapshot and returns how many connections
// it was queued for.
func (b *Bus) Publish() int {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	msg := b.snapshot()
	msg.Type = TypeStateChanged
	msg.TS = nowMillis()
	return b.broadcastLocked(msg)
}

// Notify broadcasts an arbitrary message in publish order.
func (b *Bus) Notify(msg any) int {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()
	return b.broadcastLocked(msg)
}

func (b *Bus) broadcastLocked(msg any) int {
	line, err := encodeLine(msg)
	if err != nil {
		b.log.Error("failed to marshal broadcast", "error", err)
		return 0
	}

	delivered := 0
	for _, c := range b.targets() {
		if c.send(line) {
			delivered++
		}
	}
	b.log.Debug("broadcast", "delivered", delivered)
	return delivered
}

// targets copies the connection set so sends happen outside mu.
func (b *Bus) targets() []*conn {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*conn, 0, len(b.conns))
	for _, c := range b.conns {
		out = append(out, c)
	}
	return out
}

func encodeLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
