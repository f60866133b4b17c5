package server

import (
	"encoding/json"
	"time"

	herrors "github.com/zhubert/hopper/internal/errors"
	"github.com/zhubert/hopper/internal/state"
)

// Socket communication constants
const (
	// MaxMessageSize bounds one newline-terminated message.
	MaxMessageSize = 1 << 20

	// DialTimeout bounds connecting to the server socket.
	DialTimeout = 2 * time.Second

	// DrainTimeout bounds flushing queued messages to a client at shutdown.
	DrainTimeout = 2 * time.Second
)

// MessageType identifies the type of socket message
type MessageType string

// Request types
const (
	TypePing           MessageType = "ping"
	TypeListSessions   MessageType = "list_sessions"
	TypeListBacklog    MessageType = "list_backlog"
	TypeGetSession     MessageType = "get_session"
	TypeCreateSession  MessageType = "create_session"
	TypeUpdateSession  MessageType = "update_session"
	TypeArchiveSession MessageType = "archive_session"
	TypeCreateBacklog  MessageType = "create_backlog"
	TypeUpdateBacklog  MessageType = "update_backlog"
	TypeRemoveBacklog  MessageType = "remove_backlog"
	TypeAttach         MessageType = "attach"
	TypeDetach         MessageType = "detach"
	TypeShutdown       MessageType = "shutdown"
)

// Server-to-client types
const (
	TypeResponse       MessageType = "response"
	TypeStateChanged   MessageType = "state_changed"
	TypeServerStopping MessageType = "server_stopping"
)

// Request is a client request. Which fields matter depends on Type.
type Request struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`

	SessionID   string  `json:"session_id,omitempty"`
	ItemID      string  `json:"item_id,omitempty"`
	Project     *string `json:"project,omitempty"`
	Scope       *string `json:"scope,omitempty"`
	Description *string `json:"description,omitempty"`
	Stage       *string `json:"stage,omitempty"`
	State       *string `json:"state,omitempty"`
	Status      *string `json:"status,omitempty"`
	Active      *bool   `json:"active,omitempty"`

	// WindowRef is a string to set the reference or JSON null to clear it.
	WindowRef json.RawMessage `json:"window_ref,omitempty"`
}

// ErrorPayload is the error half of a failed response.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Err converts the payload back into a structured error.
func (e *ErrorPayload) Err() error {
	return herrors.E(herrors.Op("server.Response"), herrors.KindFromWireName(e.Kind), e.Message)
}

// errorPayload maps err onto the wire taxonomy.
func errorPayload(err error) *ErrorPayload {
	return &ErrorPayload{Kind: herrors.GetKind(err).WireName(), Message: err.Error()}
}

// Response answers exactly one request.
type Response struct {
	Type      MessageType   `json:"type"`
	RequestID string        `json:"request_id,omitempty"`
	OK        bool          `json:"ok"`
	Result    any           `json:"result,omitempty"`
	Error     *ErrorPayload `json:"error,omitempty"`
}

// StateChanged is broadcast after every mutation.
type StateChanged struct {
	Type     MessageType         `json:"type"`
	Sessions []state.Session     `json:"sessions"`
	Backlog  []state.BacklogItem `json:"backlog"`
	TS       int64               `json:"ts"`
}

// ServerStopping is broadcast once when the server begins shutting down.
type ServerStopping struct {
	Type MessageType `json:"type"`
	TS   int64       `json:"ts"`
}

// Message is the client-side decoding of any server-to-client line.
type Message struct {
	Type      MessageType         `json:"type"`
	RequestID string              `json:"request_id,omitempty"`
	OK        bool                `json:"ok"`
	Result    json.RawMessage     `json:"result,omitempty"`
	Error     *ErrorPayload       `json:"error,omitempty"`
	Sessions  []state.Session     `json:"sessions,omitempty"`
	Backlog   []state.BacklogItem `json:"backlog,omitempty"`
	TS        int64               `json:"ts,omitempty"`
}

// Result payloads

type PongResult struct {
	Pong bool  `json:"pong"`
	TS   int64 `json:"ts"`
}

type SessionsResult struct {
	Sessions []state.Session `json:"sessions"`
}

type BacklogResult struct {
	Backlog []state.BacklogItem `json:"backlog"`
}

type SessionResult struct {
	Session state.Session `json:"session"`
}

type ItemResult struct {
	Item state.BacklogItem `json:"item"`
}

type DetachResult struct {
	SessionID string `json:"session_id,omitempty"`
}

type ShutdownResult struct {
	Stopping bool `json:"stopping"`
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
