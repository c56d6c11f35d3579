package relay

import (
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dungeon-relay/internal/session"
)

// HandlerFunc handles one inbound message for a connection. A returned
// *Error is reported to the connection; any other error is logged and
// reported as an internal error.
type HandlerFunc func(conn session.ConnID, data json.RawMessage) error

// Router dispatches inbound frames to handlers keyed by message type.
type Router struct {
	state    *State
	logger   *zap.Logger
	handlers map[string]HandlerFunc
}

// NewRouter creates a Router over state with the standard message table.
//
// Precondition: state and logger must be non-nil.
func NewRouter(state *State, logger *zap.Logger) *Router {
	r := &Router{state: state, logger: logger}
	r.handlers = map[string]HandlerFunc{
		MsgCreateRoom:   r.handleCreateRoom,
		MsgJoinRoom:     r.handleJoinRoom,
		MsgLeaveRoom:    r.handleLeaveRoom,
		MsgPlayerUpdate: r.handlePlayerUpdate,
		MsgGameEvent:    r.handleGameEvent,
		MsgGetRoomList:  r.handleGetRoomList,
		MsgStartGame:    r.handleStartGame,
	}
	return r
}

// Dispatch handles one raw inbound frame to completion. It never panics on
// client input and never closes the connection.
func (r *Router) Dispatch(conn session.ConnID, frame []byte) {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		r.reject(conn, "", err)
		return
	}
	h, ok := r.handlers[env.Type]
	if !ok {
		r.logger.Debug("ignoring unknown message type",
			zap.String("conn", string(conn)),
			zap.String("type", env.Type),
		)
		return
	}
	if err := h(conn, env.Data); err != nil {
		r.reject(conn, env.Type, err)
	}
}

func (r *Router) reject(conn session.ConnID, msgType string, err error) {
	fields := []zap.Field{
		zap.String("conn", string(conn)),
		zap.String("type", msgType),
		zap.Error(err),
	}
	var relayErr *Error
	if !errors.As(err, &relayErr) {
		r.logger.Error("handling message", fields...)
		r.state.Reply(conn, MsgError, "Internal error")
		return
	}
	if relayErr.Kind == KindMalformedMessage {
		r.logger.Warn("dropping malformed message", fields...)
	} else {
		r.logger.Debug("request rejected", append(fields, zap.Stringer("kind", relayErr.Kind))...)
	}
	r.state.Reply(conn, MsgError, relayErr.Msg)
}

func (r *Router) handleCreateRoom(conn session.ConnID, data json.RawMessage) error {
	var req createRoomRequest
	if err := decodeStrict(data, &req); err != nil {
		return err
	}
	return r.state.CreateRoom(conn, req)
}

func (r *Router) handleJoinRoom(conn session.ConnID, data json.RawMessage) error {
	var req joinRoomRequest
	if err := decodeStrict(data, &req); err != nil {
		return err
	}
	return r.state.JoinRoom(conn, req)
}

func (r *Router) handleLeaveRoom(conn session.ConnID, data json.RawMessage) error {
	var req leaveRoomRequest
	if err := decodeStrict(data, &req); err != nil {
		return err
	}
	return r.state.LeaveRoom(conn, req)
}

func (r *Router) handlePlayerUpdate(conn session.ConnID, data json.RawMessage) error {
	var req playerUpdateRequest
	if err := decodeStrict(data, &req); err != nil {
		return err
	}
	return r.state.UpdatePlayer(conn, req)
}

func (r *Router) handleGameEvent(conn session.ConnID, data json.RawMessage) error {
	return r.state.RelayGameEvent(conn, data)
}

func (r *Router) handleGetRoomList(conn session.ConnID, _ json.RawMessage) error {
	r.state.SendRoomList(conn)
	return nil
}

func (r *Router) handleStartGame(conn session.ConnID, data json.RawMessage) error {
	var req startGameRequest
	if err := decodeStrict(data, &req); err != nil {
		return err
	}
	return r.state.StartGame(conn, req)
}
