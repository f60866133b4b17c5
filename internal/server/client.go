package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	herrors "github.com/zhubert/hopper/internal/errors"
	"github.com/zhubert/hopper/internal/logger"
	"github.com/zhubert/hopper/internal/state"
)

// ErrClosed is returned for requests on a client whose connection is gone.
var ErrClosed = errors.New("connection to hopper server closed")

// Client is a connection to the hopper server. One goroutine reads every
// line; responses are handed to the pending Do call and notifications to
// Events. Requests are serialized.
type Client struct {
	socketPath string
	conn       net.Conn

	reqMu     sync.Mutex // one request in flight at a time
	responses chan Message
	events    chan Message
	done      chan struct{}
	closeOnce sync.Once
	nextID    atomic.Int64

	errMu sync.Mutex
	err   error

	log *slog.Logger
}

// Dial connects to the server listening on socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, DialTimeout)
	if err != nil {
		return nil, herrors.E(herrors.Op("server.Dial"), herrors.KindIO,
			fmt.Sprintf("hopper server not reachable at %s", socketPath), err)
	}
	c := &Client{
		socketPath: socketPath,
		conn:       conn,
		responses:  make(chan Message, 16),
		events:     make(chan Message, 64),
		done:       make(chan struct{}),
		log:        logger.ComponentLogger("client"),
	}
	go c.readLoop()
	return c, nil
}

// Events delivers state_changed and server_stopping messages. When the
// consumer falls behind, the oldest undelivered event is discarded; each
// state_changed carries the full state, so only the latest matters.
func (c *Client) Events() <-chan Message {
	return c.events
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close closes the connection.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	return nil
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		c.conn.Close()
		close(c.done)
	})
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxMessageSize)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			c.log.Warn("discarding undecodable message", "error", err)
			continue
		}
		switch msg.Type {
		case TypeResponse:
			select {
			case c.responses <- msg:
			default:
				c.log.Warn("discarding unexpected response", "requestID", msg.RequestID)
			}
		default:
			c.pushEvent(msg)
		}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
}

func (c *Client) pushEvent(msg Message) {
	select {
	case c.events <- msg:
		return
	default:
	}
	select {
	case <-c.events:
	default:
	}
	select {
	case c.events <- msg:
	default:
	}
}

// Do sends req and waits for its response. A response carrying an error
// is returned as a structured error whose kind matches the wire kind.
func (c *Client) Do(ctx context.Context, req Request) (Message, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	// Responses to abandoned requests may still be queued.
	for drained := false; !drained; {
		select {
		case <-c.responses:
		default:
			drained = true
		}
	}

	req.RequestID = strconv.FormatInt(c.nextID.Add(1), 10)
	line, err := encodeLine(req)
	if err != nil {
		return Message{}, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
	} else {
		c.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := c.conn.Write(line); err != nil {
		return Message{}, fmt.Errorf("write %s request: %w", req.Type, err)
	}

	for {
		select {
		case msg := <-c.responses:
			if msg.RequestID != req.RequestID {
				c.log.Debug("discarding stale response", "requestID", msg.RequestID)
				continue
			}
			return outcome(msg)
		case <-c.done:
			// The read loop queues a response before it closes done.
			for {
				select {
				case msg := <-c.responses:
					if msg.RequestID == req.RequestID {
						return outcome(msg)
					}
				default:
					return Message{}, c.Err()
				}
			}
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

func outcome(msg Message) (Message, error) {
	if msg.OK {
		return msg, nil
	}
	if msg.Error == nil {
		return msg, herrors.E(herrors.Op("server.Client"), "request failed without error detail")
	}
	return msg, msg.Error.Err()
}

// call runs req and decodes the result into out.
func (c *Client) call(ctx context.Context, req Request, out any) error {
	msg, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(msg.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", req.Type, err)
	}
	return nil
}

// Ping checks the server is alive.
func (c *Client) Ping(ctx context.Context) (PongResult, error) {
	var res PongResult
	err := c.call(ctx, Request{Type: TypePing}, &res)
	return res, err
}

// ListSessions returns all sessions.
func (c *Client) ListSessions(ctx context.Context) ([]state.Session, error) {
	var res SessionsResult
	err := c.call(ctx, Request{Type: TypeListSessions}, &res)
	return res.Sessions, err
}

// ListBacklog returns all backlog items.
func (c *Client) ListBacklog(ctx context.Context) ([]state.BacklogItem, error) {
	var res BacklogResult
	err := c.call(ctx, Request{Type: TypeListBacklog}, &res)
	return res.Backlog, err
}

// GetSession returns one session.
func (c *Client) GetSession(ctx context.Context, id string) (state.Session, error) {
	var res SessionResult
	err := c.call(ctx, Request{Type: TypeGetSession, SessionID: id}, &res)
	return res.Session, err
}

// CreateSession creates a session.
func (c *Client) CreateSession(ctx context.Context, ns state.NewSession) (state.Session, error) {
	req := Request{Type: TypeCreateSession, Project: &ns.Project}
	if ns.Scope != "" {
		req.Scope = &ns.Scope
	}
	if ns.Stage != "" {
		stage := string(ns.Stage)
		req.Stage = &stage
	}
	if ns.State != "" {
		req.State = &ns.State
	}
	var res SessionResult
	err := c.call(ctx, req, &res)
	return res.Session, err
}

// UpdateSession applies u to session id.
func (c *Client) UpdateSession(ctx context.Context, id string, u state.SessionUpdate) (state.Session, error) {
	req := Request{
		Type:      TypeUpdateSession,
		SessionID: id,
		State:     u.State,
		Status:    u.Status,
		Scope:     u.Scope,
		Active:    u.Active,
	}
	if u.Stage != nil {
		stage := string(*u.Stage)
		req.Stage = &stage
	}
	switch {
	case u.ClearWindow:
		req.WindowRef = json.RawMessage("null")
	case u.WindowRef != nil:
		raw, err := json.Marshal(*u.WindowRef)
		if err != nil {
			return state.Session{}, err
		}
		req.WindowRef = raw
	}
	var res SessionResult
	err := c.call(ctx, req, &res)
	return res.Session, err
}

// ArchiveSession removes session id from the active set.
func (c *Client) ArchiveSession(ctx context.Context, id string) (state.Session, error) {
	var res SessionResult
	err := c.call(ctx, Request{Type: TypeArchiveSession, SessionID: id}, &res)
	return res.Session, err
}

// CreateBacklog queues a backlog item.
func (c *Client) CreateBacklog(ctx context.Context, nb state.NewBacklogItem) (state.BacklogItem, error) {
	req := Request{
		Type:        TypeCreateBacklog,
		Project:     &nb.Project,
		Description: &nb.Description,
		SessionID:   nb.SessionID,
	}
	var res ItemResult
	err := c.call(ctx, req, &res)
	return res.Item, err
}

// UpdateBacklog edits backlog item id.
func (c *Client) UpdateBacklog(ctx context.Context, id string, u state.BacklogUpdate) (state.BacklogItem, error) {
	req := Request{Type: TypeUpdateBacklog, ItemID: id, Project: u.Project, Description: u.Description}
	var res ItemResult
	err := c.call(ctx, req, &res)
	return res.Item, err
}

// RemoveBacklog deletes backlog item id.
func (c *Client) RemoveBacklog(ctx context.Context, id string) (state.BacklogItem, error) {
	var res ItemResult
	err := c.call(ctx, Request{Type: TypeRemoveBacklog, ItemID: id}, &res)
	return res.Item, err
}

// Attach claims session id for this connection. An empty windowRef leaves
// the stored reference untouched.
func (c *Client) Attach(ctx context.Context, id, windowRef string) (state.Session, error) {
	req := Request{Type: TypeAttach, SessionID: id}
	if windowRef != "" {
		raw, err := json.Marshal(windowRef)
		if err != nil {
			return state.Session{}, err
		}
		req.WindowRef = raw
	}
	var res SessionResult
	err := c.call(ctx, req, &res)
	return res.Session, err
}

// Detach releases whatever session this connection owns.
func (c *Client) Detach(ctx context.Context) (string, error) {
	var res DetachResult
	err := c.call(ctx, Request{Type: TypeDetach}, &res)
	return res.SessionID, err
}

// Shutdown asks the server to stop.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.call(ctx, Request{Type: TypeShutdown}, nil)
}
