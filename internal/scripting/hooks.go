package scripting

import (
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"

	"github.com/cory-johannsen/dungeon-relay/internal/relay"
)

// Hook names looked up in the loaded scripts.
const (
	HookStartingLevel = "starting_level"
	HookRoomCreated   = "on_room_created"
	HookGameStarted   = "on_game_started"
	HookGameEvent     = "on_game_event"
	HookRoomClosed    = "on_room_closed"
)

var (
	_ relay.LevelSource = (*RoomHooks)(nil)
	_ relay.Observer    = (*RoomHooks)(nil)
)

// RoomHooks exposes the Manager to the relay as a level source and a room
// observer. Levels default to base; a starting_level hook returning a number
// overrides the starting level.
type RoomHooks struct {
	mgr  *Manager
	base relay.LevelSource
}

// NewRoomHooks wraps mgr.
//
// Precondition: mgr and base must be non-nil.
func NewRoomHooks(mgr *Manager, base relay.LevelSource) *RoomHooks {
	return &RoomHooks{mgr: mgr, base: base}
}

// StartingLevel calls starting_level(room_id, room_name, game_mode, default_level).
func (h *RoomHooks) StartingLevel(roomID, roomName string, mode relay.GameMode) int {
	def := h.base.StartingLevel(roomID, roomName, mode)
	ret := h.mgr.call(HookStartingLevel, func(*lua.LState) []lua.LValue {
		return []lua.LValue{lua.LString(roomID), lua.LString(roomName), lua.LString(mode), lua.LNumber(def)}
	})
	n, ok := ret.(lua.LNumber)
	if !ok || math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
		return def
	}
	return int(n)
}

// ClampLevel defers to the base source.
func (h *RoomHooks) ClampLevel(level int) int {
	return h.base.ClampLevel(level)
}

// RoomCreated calls on_room_created(room).
func (h *RoomHooks) RoomCreated(room relay.RoomSummary) {
	h.mgr.call(HookRoomCreated, func(L *lua.LState) []lua.LValue {
		return []lua.LValue{roomTable(L, room)}
	})
}

// GameStarted calls on_game_started(room).
func (h *RoomHooks) GameStarted(room relay.RoomSummary) {
	h.mgr.call(HookGameStarted, func(L *lua.LState) []lua.LValue {
		return []lua.LValue{roomTable(L, room)}
	})
}

// GameEvent calls on_game_event(room_id, event).
func (h *RoomHooks) GameEvent(roomID string, ev relay.GameEvent) {
	h.mgr.call(HookGameEvent, func(L *lua.LState) []lua.LValue {
		t := L.NewTable()
		t.RawSetString("type", lua.LString(ev.Type))
		t.RawSetString("player_id", lua.LString(ev.PlayerID))
		t.RawSetString("timestamp", lua.LNumber(ev.Timestamp))
		data := L.NewTable()
		for k, v := range ev.Data {
			data.RawSetString(k, toLua(L, v))
		}
		t.RawSetString("data", data)
		return []lua.LValue{lua.LString(roomID), t}
	})
}

// RoomClosed calls on_room_closed(room_id).
func (h *RoomHooks) RoomClosed(roomID string) {
	h.mgr.call(HookRoomClosed, func(*lua.LState) []lua.LValue {
		return []lua.LValue{lua.LString(roomID)}
	})
}

func roomTable(L *lua.LState, room relay.RoomSummary) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("id", lua.LString(room.ID))
	t.RawSetString("name", lua.LString(room.Name))
	t.RawSetString("game_mode", lua.LString(room.GameMode))
	t.RawSetString("max_players", lua.LNumber(room.MaxPlayers))
	t.RawSetString("level", lua.LNumber(room.Level))
	t.RawSetString("host_id", lua.LString(room.HostID))
	t.RawSetString("is_active", lua.LBool(room.IsActive))
	players := L.NewTable()
	for _, p := range room.Players {
		players.Append(lua.LString(p.ID))
	}
	t.RawSetString("players", players)
	return t
}

// toLua converts a decoded JSON value into a Lua value.
func toLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case float64:
		return lua.LNumber(x)
	case string:
		return lua.LString(x)
	case []any:
		t := L.NewTable()
		for _, e := range x {
			t.Append(toLua(L, e))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, e := range x {
			t.RawSetString(k, toLua(L, e))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(x))
	}
}
