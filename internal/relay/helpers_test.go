package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/dungeon-relay/internal/config"
	"github.com/cory-johannsen/dungeon-relay/internal/session"
)

func testRoomsConfig() config.RoomsConfig {
	return config.RoomsConfig{
		DefaultMaxPlayers: 4,
		MinMaxPlayers:     1,
		MaxPlayersCap:     16,
		EventHistory:      100,
	}
}

type harness struct {
	t      testing.TB
	state  *State
	router *Router
}

func newHarness(t testing.TB, opts ...Option) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	state := NewState(testRoomsConfig(), session.NewRegistry(256), logger, opts...)
	return &harness{t: t, state: state, router: NewRouter(state, logger)}
}

func (h *harness) connect() *session.Conn {
	return h.state.Connect("127.0.0.1:0")
}

func (h *harness) send(c *session.Conn, msgType string, data any) {
	h.t.Helper()
	frame, err := Encode(msgType, data)
	require.NoError(h.t, err)
	h.router.Dispatch(c.ID, frame)
}

// drain returns every frame currently queued for c.
func (h *harness) drain(c *session.Conn) []Envelope {
	h.t.Helper()
	var out []Envelope
	for {
		select {
		case frame, ok := <-c.Outbox().Frames():
			if !ok {
				return out
			}
			var env Envelope
			require.NoError(h.t, json.Unmarshal(frame, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func ofType(envs []Envelope, msgType string) []Envelope {
	var out []Envelope
	for _, e := range envs {
		if e.Type == msgType {
			out = append(out, e)
		}
	}
	return out
}

func playerJSON(id, name string) map[string]any {
	return map[string]any{"id": id, "name": name, "x": 0, "y": 0}
}

func (h *harness) createRoom(c *session.Conn, roomID string, maxPlayers int, mode GameMode, playerID string) {
	h.t.Helper()
	h.send(c, MsgCreateRoom, map[string]any{
		"room": map[string]any{
			"id":         roomID,
			"name":       "Room " + roomID,
			"maxPlayers": maxPlayers,
			"gameMode":   mode,
		},
		"player": playerJSON(playerID, "Player "+playerID),
	})
}

func (h *harness) joinRoom(c *session.Conn, roomID, playerID string) {
	h.t.Helper()
	h.send(c, MsgJoinRoom, map[string]any{
		"roomId": roomID,
		"player": playerJSON(playerID, "Player "+playerID),
	})
}

func decodeData[T any](t testing.TB, env Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

// checkInvariants asserts the structural invariants of s.
func checkInvariants(t require.TestingT, s *State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inRooms := 0
	for _, id := range s.rooms.order {
		room := s.rooms.rooms[id]
		require.NotNil(t, room, "ordered room %s missing from map", id)
		require.NotEmpty(t, room.Players, "room %s is empty", id)
		require.LessOrEqual(t, len(room.Players), room.MaxPlayers, "room %s over capacity", id)
		require.True(t, room.HasPlayer(room.HostID), "room %s host %s not a member", id, room.HostID)
		for _, p := range room.Players {
			inRooms++
			rec, ok := s.players.Get(p.ID)
			require.True(t, ok, "room %s member %s has no directory record", id, p.ID)
			require.Equal(t, *rec, p, "room copy of %s out of sync", p.ID)
			c, ok := s.registry.ConnForPlayer(p.ID)
			require.True(t, ok, "member %s has no connection", p.ID)
			_, roomID, _ := s.registry.Lookup(c.ID)
			require.Equal(t, id, roomID)
		}
	}
	require.Equal(t, len(s.rooms.order), len(s.rooms.rooms))
	for id, p := range s.players.players {
		_, ok := s.registry.ConnForPlayer(id)
		require.True(t, ok, "player %s has no connection", id)
		if p.RoomID == "" {
			continue
		}
		room, ok := s.rooms.Get(p.RoomID)
		require.True(t, ok, "player %s points at missing room %s", id, p.RoomID)
		require.True(t, room.HasPlayer(id))
	}
	inDirectoryRooms := 0
	for _, p := range s.players.players {
		if p.RoomID != "" {
			inDirectoryRooms++
		}
	}
	require.Equal(t, inRooms, inDirectoryRooms)
}
