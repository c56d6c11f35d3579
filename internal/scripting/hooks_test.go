package scripting_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/dungeon-relay/internal/config"
	"github.com/cory-johannsen/dungeon-relay/internal/content"
	"github.com/cory-johannsen/dungeon-relay/internal/relay"
	"github.com/cory-johannsen/dungeon-relay/internal/scripting"
	"github.com/cory-johannsen/dungeon-relay/internal/session"
)

const roomHooksLua = `
calls = {}

function starting_level(room_id, room_name, game_mode, default_level)
	if game_mode == "competitive" then
		return default_level + 2
	end
	if room_name == "broken" then
		return "not a number"
	end
	return nil
end

function on_room_created(room)
	table.insert(calls, "created:" .. room.id .. ":" .. room.host_id .. ":" .. #room.players)
end

function on_game_started(room)
	table.insert(calls, "started:" .. room.id .. ":" .. tostring(room.is_active))
end

function on_game_event(room_id, event)
	table.insert(calls, "event:" .. room_id .. ":" .. event.type .. ":" .. tostring(event.data.level))
end

function on_room_closed(room_id)
	table.insert(calls, "closed:" .. room_id)
end

function recorded()
	return table.concat(calls, ",")
end
`

func newRoomHooks(t *testing.T) (*scripting.Manager, *scripting.RoomHooks) {
	t.Helper()
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Load(writeTempLua(t, "rooms.lua", roomHooksLua), 0))
	return mgr, scripting.NewRoomHooks(mgr, content.Default())
}

func recorded(t *testing.T, mgr *scripting.Manager) string {
	t.Helper()
	ret, err := mgr.CallHook("recorded")
	require.NoError(t, err)
	return ret.String()
}

func TestRoomHooks_StartingLevelOverride(t *testing.T) {
	_, hooks := newRoomHooks(t)
	assert.Equal(t, 3, hooks.StartingLevel("r1", "Crypt", relay.ModeCompetitive))
	assert.Equal(t, 1, hooks.StartingLevel("r1", "Crypt", relay.ModeCooperative), "nil keeps the default")
	assert.Equal(t, 1, hooks.StartingLevel("r1", "broken", relay.ModeCooperative), "non-numbers keep the default")
	assert.Equal(t, 1, hooks.ClampLevel(-3))
}

func TestRoomHooks_WithoutScriptsUseBase(t *testing.T) {
	mgr := scripting.NewManager(zap.NewNop())
	hooks := scripting.NewRoomHooks(mgr, content.Default())
	assert.Equal(t, 1, hooks.StartingLevel("r1", "Crypt", relay.ModeCompetitive))
	hooks.RoomCreated(relay.RoomSummary{ID: "r1"})
	hooks.RoomClosed("r1")
}

func TestRoomHooks_ObserveRelayLifecycle(t *testing.T) {
	mgr, hooks := newRoomHooks(t)
	logger := zap.NewNop()
	rooms := config.RoomsConfig{DefaultMaxPlayers: 4, MinMaxPlayers: 2, MaxPlayersCap: 16, EventHistory: 10}
	state := relay.NewState(rooms, session.NewRegistry(16), logger,
		relay.WithLevels(hooks), relay.WithObserver(hooks))
	router := relay.NewRouter(state, logger)
	conn := state.Connect("test")

	dispatch := func(msgType string, data any) {
		frame, err := relay.Encode(msgType, data)
		require.NoError(t, err)
		router.Dispatch(conn.ID, frame)
	}

	dispatch(relay.MsgCreateRoom, map[string]any{
		"room":   map[string]any{"id": "r1", "name": "Arena", "gameMode": "competitive"},
		"player": map[string]any{"id": "p1", "name": "Ann"},
	})
	room, ok := state.Room("r1")
	require.True(t, ok)
	assert.Equal(t, 3, room.Level)

	dispatch(relay.MsgStartGame, map[string]any{"roomId": "r1"})
	dispatch(relay.MsgGameEvent, map[string]any{"type": "level_complete", "playerId": "p1", "data": map[string]any{"level": 4}})
	state.Disconnect(conn.ID)

	assert.Equal(t, "created:r1:p1:1,started:r1:true,event:r1:level_complete:4,closed:r1", recorded(t, mgr))
}

func TestShippedRoomScripts(t *testing.T) {
	mgr, _ := newTestManager(t)
	cat, err := content.LoadFromFile("../../content/levels.yaml")
	require.NoError(t, err)
	mgr.MaxLevel = cat.MaxLevel
	mgr.LevelName = func(n int) (string, bool) {
		l, ok := cat.Level(n)
		return l.Name, ok
	}
	require.NoError(t, mgr.Load("../../content/scripts", 0))
	hooks := scripting.NewRoomHooks(mgr, cat)

	assert.Equal(t, 3, hooks.StartingLevel("r1", "Gauntlet of Bones", relay.ModeCompetitive))
	assert.Equal(t, 1, hooks.StartingLevel("r1", "Gauntlet of Bones", relay.ModeCooperative))
	assert.Equal(t, 1, hooks.StartingLevel("r1", "Crypt", relay.ModeCompetitive))
	hooks.GameEvent("r1", relay.GameEvent{Type: relay.EventLevelComplete, Data: map[string]any{"level": float64(10)}})
}
