package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Inbound message types.
const (
	MsgCreateRoom   = "create_room"
	MsgJoinRoom     = "join_room"
	MsgLeaveRoom    = "leave_room"
	MsgPlayerUpdate = "player_update"
	MsgGameEvent    = "game_event"
	MsgGetRoomList  = "get_room_list"
	MsgStartGame    = "start_game"
)

// Outbound message types. MsgPlayerUpdate and MsgGameEvent are used in both directions.
const (
	MsgRoomJoined   = "room_joined"
	MsgPlayerJoined = "player_joined"
	MsgPlayerLeft   = "player_left"
	MsgRoomList     = "room_list"
	MsgGameStarted  = "game_started"
	MsgHostChanged  = "host_changed"
	MsgError        = "error"
)

// Envelope is the JSON frame exchanged in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Encode builds an outbound frame.
func Encode(msgType string, data any) ([]byte, error) {
	b, err := json.Marshal(outbound{Type: msgType, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", msgType, err)
	}
	return b, nil
}

// DecodeEnvelope parses a raw inbound frame.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, malformedf("invalid JSON envelope")
	}
	if env.Type == "" {
		return Envelope{}, malformedf("missing message type")
	}
	return env, nil
}

// Inbound payloads.

type roomRequest struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	MaxPlayers int      `json:"maxPlayers"`
	GameMode   GameMode `json:"gameMode"`
}

type createRoomRequest struct {
	Room   *roomRequest    `json:"room"`
	Player json.RawMessage `json:"player"`
}

type joinRoomRequest struct {
	RoomID string          `json:"roomId"`
	Player json.RawMessage `json:"player"`
}

type leaveRoomRequest struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
}

type playerUpdateRequest struct {
	PlayerID string        `json:"playerId"`
	Updates  *PlayerUpdate `json:"updates"`
}

type startGameRequest struct {
	RoomID string `json:"roomId"`
}

// Outbound payloads.

type roomJoinedPayload struct {
	Room    RoomSummary `json:"room"`
	Players []Player    `json:"players"`
}

type playerUpdatePayload struct {
	PlayerID string       `json:"playerId"`
	Updates  PlayerUpdate `json:"updates"`
}

type gameStartedPayload struct {
	Room RoomSummary `json:"room"`
}

type hostChangedPayload struct {
	RoomID string `json:"roomId"`
	HostID string `json:"hostId"`
}

// decodeStrict unmarshals data into v, treating an absent or null payload as malformed.
func decodeStrict(data json.RawMessage, v any) error {
	if isNull(data) {
		return malformedf("missing payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return malformedf("%v", err)
	}
	return nil
}

// decodePlayer reads a player payload over the defaults for absent fields.
func decodePlayer(data json.RawMessage) (Player, error) {
	if isNull(data) {
		return Player{}, malformedf("missing player")
	}
	p := NewPlayer("")
	if err := json.Unmarshal(data, &p); err != nil {
		return Player{}, malformedf("invalid player: %v", err)
	}
	if p.ID == "" {
		return Player{}, malformedf("player id is required")
	}
	if p.Direction == "" {
		p.Direction = DirectionIdle
	}
	if !p.Direction.Valid() {
		return Player{}, malformedf("unknown direction %q", p.Direction)
	}
	p.RoomID = ""
	return p, nil
}

// decodeGameEvent reads an arbitrary event object, extracting the fields the
// relay tracks. A non-object data value is kept under "value".
func decodeGameEvent(data json.RawMessage, nowMillis int64) (GameEvent, error) {
	if isNull(data) {
		return GameEvent{}, malformedf("missing event")
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return GameEvent{}, malformedf("event must be a JSON object")
	}
	ev := GameEvent{Timestamp: nowMillis}
	ev.Type, _ = raw["type"].(string)
	if ev.Type == "" {
		return GameEvent{}, malformedf("event type is required")
	}
	ev.PlayerID, _ = raw["playerId"].(string)
	switch d := raw["data"].(type) {
	case map[string]any:
		ev.Data = d
	case nil:
		ev.Data = map[string]any{}
	default:
		ev.Data = map[string]any{"value": d}
	}
	if ts, ok := raw["timestamp"].(float64); ok && ts > 0 {
		ev.Timestamp = int64(ts)
	}
	return ev, nil
}

func isNull(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
