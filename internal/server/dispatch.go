package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	herrors "github.com/zhubert/hopper/internal/errors"
	"github.com/zhubert/hopper/internal/logger"
	"github.com/zhubert/hopper/internal/state"
)

// handlerFunc serves one request kind. mutated reports whether state changed
// and a broadcast must follow.
type handlerFunc func(connID string, req *Request) (result any, mutated bool, err error)

// Dispatcher decodes request lines and routes them to the store.
type Dispatcher struct {
	store      *state.Store
	registry   *Registry
	bus        *Bus
	onShutdown func()
	handlers   map[MessageType]handlerFunc
	log        *slog.Logger
}

// NewDispatcher wires handlers for every request kind. onShutdown runs when
// a client asks the server to stop; it must not block.
func NewDispatcher(store *state.Store, registry *Registry, bus *Bus, onShutdown func()) *Dispatcher {
	d := &Dispatcher{
		store:      store,
		registry:   registry,
		bus:        bus,
		onShutdown: onShutdown,
		log:        logger.ComponentLogger("dispatch"),
	}
	d.handlers = map[MessageType]handlerFunc{
		TypePing:           d.ping,
		TypeListSessions:   d.listSessions,
		TypeListBacklog:    d.listBacklog,
		TypeGetSession:     d.getSession,
		TypeCreateSession:  d.createSession,
		TypeUpdateSession:  d.updateSession,
		TypeArchiveSession: d.archiveSession,
		TypeCreateBacklog:  d.createBacklog,
		TypeUpdateBacklog:  d.updateBacklog,
		TypeRemoveBacklog:  d.removeBacklog,
		TypeAttach:         d.attach,
		TypeDetach:         d.detach,
		TypeShutdown:       d.shutdown,
	}
	return d
}

// snapshot returns the full state as broadcast after mutations.
func snapshot(store *state.Store) StateChanged {
	return StateChanged{
		Type:     TypeStateChanged,
		Sessions: nonNil(store.Sessions.List()),
		Backlog:  nonNil(store.Backlog.List()),
		TS:       nowMillis(),
	}
}

// Handle serves one raw request line from connID and returns the encoded
// response. When the request changed state, the broadcast is queued before
// Handle returns, so the requester sees state_changed ahead of its response.
func (d *Dispatcher) Handle(connID string, line []byte) []byte {
	resp := d.handle(connID, line)
	out, err := encodeLine(resp)
	if err != nil {
		d.log.Error("failed to marshal response", "type", resp.Type, "error", err)
		out, _ = encodeLine(Response{
			Type:      TypeResponse,
			RequestID: resp.RequestID,
			Error:     errorPayload(herrors.E(herrors.Op("server.Dispatch"), err)),
		})
	}
	return out
}

func (d *Dispatcher) handle(connID string, line []byte) Response {
	var env struct {
		Type      MessageType `json:"type"`
		RequestID string      `json:"request_id"`
	}
	if err := json.Unmarshal(line, &env); err != nil {
		return failure("", herrors.BadRequest(herrors.Op("server.Dispatch"), fmt.Sprintf("invalid JSON: %v", err)))
	}
	if env.Type == "" {
		return failure(env.RequestID, herrors.MissingField(herrors.Op("server.Dispatch"), "type"))
	}

	h, ok := d.handlers[env.Type]
	if !ok {
		d.log.Warn("unknown message type", "connID", connID, "type", env.Type)
		return failure(env.RequestID, herrors.UnknownMessageType(string(env.Type)))
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return failure(env.RequestID, herrors.BadRequest(herrors.Op("server.Dispatch"), fmt.Sprintf("invalid %s request: %v", env.Type, err)))
	}

	result, mutated, err := h(connID, &req)
	if mutated {
		d.bus.Publish()
	}
	if err != nil {
		d.log.Debug("request failed", "connID", connID, "type", req.Type, "error", err)
		return failure(req.RequestID, err)
	}
	d.log.Debug("request served", "connID", connID, "type", req.Type, "mutated", mutated)
	return Response{Type: TypeResponse, RequestID: req.RequestID, OK: true, Result: result}
}

// Reject encodes the failure response for a message that could not be
// dispatched at all.
func (d *Dispatcher) Reject(err error) []byte {
	out, encErr := encodeLine(failure("", err))
	if encErr != nil {
		d.log.Error("failed to marshal rejection", "error", encErr)
	}
	return out
}

func failure(requestID string, err error) Response {
	return Response{Type: TypeResponse, RequestID: requestID, Error: errorPayload(err)}
}

// Handlers

func (d *Dispatcher) ping(string, *Request) (any, bool, error) {
	return PongResult{Pong: true, TS: nowMillis()}, false, nil
}

func (d *Dispatcher) listSessions(string, *Request) (any, bool, error) {
	return SessionsResult{Sessions: nonNil(d.store.Sessions.List())}, false, nil
}

func (d *Dispatcher) listBacklog(string, *Request) (any, bool, error) {
	return BacklogResult{Backlog: nonNil(d.store.Backlog.List())}, false, nil
}

func (d *Dispatcher) getSession(_ string, req *Request) (any, bool, error) {
	if req.SessionID == "" {
		return nil, false, herrors.MissingField(herrors.Op("server.getSession"), "session_id")
	}
	sess, err := d.store.Sessions.Get(req.SessionID)
	if err != nil {
		return nil, false, err
	}
	return SessionResult{Session: sess}, false, nil
}

func (d *Dispatcher) createSession(_ string, req *Request) (any, bool, error) {
	op := herrors.Op("server.createSession")
	if req.Project == nil || strings.TrimSpace(*req.Project) == "" {
		return nil, false, herrors.MissingField(op, "project")
	}
	ns := state.NewSession{Project: *req.Project, Scope: deref(req.Scope), State: deref(req.State)}
	if req.Stage != nil {
		stage, err := state.ParseStage(*req.Stage)
		if err != nil {
			return nil, false, herrors.E(op, err)
		}
		ns.Stage = stage
	}
	sess, err := d.store.Sessions.Create(ns)
	if err != nil {
		return nil, false, err
	}
	return SessionResult{Session: sess}, true, nil
}

func (d *Dispatcher) updateSession(_ string, req *Request) (any, bool, error) {
	op := herrors.Op("server.updateSession")
	if req.SessionID == "" {
		return nil, false, herrors.MissingField(op, "session_id")
	}
	u, err := req.sessionUpdate(op)
	if err != nil {
		return nil, false, err
	}
	if u.Empty() {
		return nil, false, herrors.BadRequest(op, "no fields to update")
	}
	sess, err := d.store.Sessions.Update(req.SessionID, u)
	if err != nil {
		return nil, false, err
	}
	return SessionResult{Session: sess}, true, nil
}

func (d *Dispatcher) archiveSession(_ string, req *Request) (any, bool, error) {
	if req.SessionID == "" {
		return nil, false, herrors.MissingField(herrors.Op("server.archiveSession"), "session_id")
	}
	sess, err := d.registry.Archive(req.SessionID)
	if err != nil {
		return nil, false, err
	}
	return SessionResult{Session: sess}, true, nil
}

func (d *Dispatcher) createBacklog(_ string, req *Request) (any, bool, error) {
	op := herrors.Op("server.createBacklog")
	if req.Project == nil || strings.TrimSpace(*req.Project) == "" {
		return nil, false, herrors.MissingField(op, "project")
	}
	if req.Description == nil || strings.TrimSpace(*req.Description) == "" {
		return nil, false, herrors.MissingField(op, "description")
	}
	item, err := d.store.Backlog.Create(state.NewBacklogItem{
		Project:     *req.Project,
		Description: *req.Description,
		SessionID:   req.SessionID,
	})
	if err != nil {
		return nil, false, err
	}
	return ItemResult{Item: item}, true, nil
}

func (d *Dispatcher) updateBacklog(_ string, req *Request) (any, bool, error) {
	op := herrors.Op("server.updateBacklog")
	if req.ItemID == "" {
		return nil, false, herrors.MissingField(op, "item_id")
	}
	if req.Project == nil && req.Description == nil {
		return nil, false, herrors.BadRequest(op, "no fields to update")
	}
	item, err := d.store.Backlog.Update(req.ItemID, state.BacklogUpdate{
		Project:     req.Project,
		Description: req.Description,
	})
	if err != nil {
		return nil, false, err
	}
	return ItemResult{Item: item}, true, nil
}

func (d *Dispatcher) removeBacklog(_ string, req *Request) (any, bool, error) {
	if req.ItemID == "" {
		return nil, false, herrors.MissingField(herrors.Op("server.removeBacklog"), "item_id")
	}
	item, err := d.store.Backlog.Delete(req.ItemID)
	if err != nil {
		return nil, false, err
	}
	return ItemResult{Item: item}, true, nil
}

func (d *Dispatcher) attach(connID string, req *Request) (any, bool, error) {
	op := herrors.Op("server.attach")
	if req.SessionID == "" {
		return nil, false, herrors.MissingField(op, "session_id")
	}
	ref, _, err := req.windowRef(op)
	if err != nil {
		return nil, false, err
	}
	sess, changed, err := d.registry.Attach(connID, req.SessionID, ref)
	if err != nil {
		return nil, false, err
	}
	return SessionResult{Session: sess}, changed, nil
}

func (d *Dispatcher) detach(connID string, _ *Request) (any, bool, error) {
	sessionID, changed, err := d.registry.Detach(connID)
	if err != nil {
		return nil, false, err
	}
	return DetachResult{SessionID: sessionID}, changed, nil
}

func (d *Dispatcher) shutdown(connID string, _ *Request) (any, bool, error) {
	d.log.Info("shutdown requested", "connID", connID)
	if d.onShutdown != nil {
		d.onShutdown()
	}
	return ShutdownResult{Stopping: true}, false, nil
}

// sessionUpdate converts the optional request fields into a state update.
func (r *Request) sessionUpdate(op herrors.Op) (state.SessionUpdate, error) {
	u := state.SessionUpdate{
		State:  r.State,
		Status: r.Status,
		Scope:  r.Scope,
		Active: r.Active,
	}
	if r.Stage != nil {
		stage, err := state.ParseStage(*r.Stage)
		if err != nil {
			return u, herrors.E(op, err)
		}
		u.Stage = &stage
	}
	ref, unset, err := r.windowRef(op)
	if err != nil {
		return u, err
	}
	u.WindowRef = ref
	u.ClearWindow = unset
	return u, nil
}

// windowRef interprets the raw window_ref field: absent leaves it alone,
// null clears it and a string sets it.
func (r *Request) windowRef(op herrors.Op) (ref *string, unset bool, err error) {
	raw := strings.TrimSpace(string(r.WindowRef))
	switch raw {
	case "":
		return nil, false, nil
	case "null":
		return nil, true, nil
	}
	var s string
	if err := json.Unmarshal(r.WindowRef, &s); err != nil {
		return nil, false, herrors.BadRequest(op, "window_ref must be a string or null")
	}
	return &s, false, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
