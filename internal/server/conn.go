package server

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhubert/hopper/internal/logger"
)

// conn is one accepted client. The reader side lives in Server.handleConnection;
// writeLoop owns every write to nc.
type conn struct {
	id           string
	nc           net.Conn
	out          chan []byte
	done         chan struct{} // closed once the connection is torn down
	draining     chan struct{} // closed to ask writeLoop to flush and exit
	closeOnce    sync.Once
	drainOnce    sync.Once
	writeTimeout time.Duration
	log          *slog.Logger
}

func newConn(nc net.Conn, queue int, writeTimeout time.Duration) *conn {
	id := uuid.New().String()
	return &conn{
		id:           id,
		nc:           nc,
		out:          make(chan []byte, queue),
		done:         make(chan struct{}),
		draining:     make(chan struct{}),
		writeTimeout: writeTimeout,
		log:          logger.WithConn(id),
	}
}

// send enqueues one encoded line without blocking. A full queue means the
// client is not keeping up; it is disconnected and send reports false.
func (c *conn) send(line []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- line:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn("outbound queue full, disconnecting slow client", "queue", cap(c.out))
		c.close()
		return false
	}
}

// writeLoop drains the outbound queue until the connection closes.
func (c *conn) writeLoop() {
	for {
		select {
		case line := <-c.out:
			if !c.write(line) {
				return
			}
		case <-c.draining:
			c.flush()
			c.close()
			return
		case <-c.done:
			return
		}
	}
}

// flush writes whatever is already queued.
func (c *conn) flush() {
	for {
		select {
		case line := <-c.out:
			if !c.write(line) {
				return
			}
		default:
			return
		}
	}
}

func (c *conn) write(line []byte) bool {
	c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if _, err := c.nc.Write(line); err != nil {
		c.log.Debug("write error, closing connection", "error", err)
		c.close()
		return false
	}
	return true
}

// drain asks the writer to flush the queue and then close the connection.
func (c *conn) drain() {
	c.drainOnce.Do(func() { close(c.draining) })
}

// close tears the socket down. Safe to call from any goroutine, any number of times.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.nc.Close()
	})
}

// closed reports whether close has run.
func (c *conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
