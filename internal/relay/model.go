// Package relay holds the authoritative in-memory state of the dungeon relay:
// rooms, players, and the routing and fanout of client messages between them.
package relay

import (
	"time"
)

// Direction is the facing/animation direction a client reports for its player.
type Direction string

const (
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
	DirectionIdle  Direction = "idle"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	switch d {
	case DirectionLeft, DirectionRight, DirectionUp, DirectionDown, DirectionIdle:
		return true
	}
	return false
}

// GameMode decides whether health and score are shared across a room.
type GameMode string

const (
	ModeCooperative GameMode = "cooperative"
	ModeCompetitive GameMode = "competitive"
)

// Valid reports whether m is a known game mode.
func (m GameMode) Valid() bool {
	return m == ModeCooperative || m == ModeCompetitive
}

// DefaultHealth is assigned to a player whose payload omits health.
const DefaultHealth = 100

// Player is the transient state a client reports for its avatar.
// Positions and stats are client-authoritative.
type Player struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Health      float64   `json:"health"`
	Score       float64   `json:"score"`
	IsAttacking bool      `json:"isAttacking"`
	IsHurting   bool      `json:"isHurting"`
	IsDying     bool      `json:"isDying"`
	Direction   Direction `json:"direction"`
	Color       string    `json:"color"`
	RoomID      string    `json:"roomId,omitempty"`
}

// NewPlayer returns a Player carrying the defaults for absent fields.
func NewPlayer(id string) Player {
	return Player{ID: id, Health: DefaultHealth, Direction: DirectionIdle}
}

// PlayerUpdate is a partial player record. Nil fields are left untouched by
// Apply and omitted when the update is re-broadcast.
type PlayerUpdate struct {
	Name        *string    `json:"name,omitempty"`
	X           *float64   `json:"x,omitempty"`
	Y           *float64   `json:"y,omitempty"`
	Health      *float64   `json:"health,omitempty"`
	Score       *float64   `json:"score,omitempty"`
	IsAttacking *bool      `json:"isAttacking,omitempty"`
	IsHurting   *bool      `json:"isHurting,omitempty"`
	IsDying     *bool      `json:"isDying,omitempty"`
	Direction   *Direction `json:"direction,omitempty"`
	Color       *string    `json:"color,omitempty"`
}

// IsEmpty reports whether the update carries no known field.
func (u PlayerUpdate) IsEmpty() bool {
	return u.Name == nil && u.X == nil && u.Y == nil && u.Health == nil &&
		u.Score == nil && u.IsAttacking == nil && u.IsHurting == nil &&
		u.IsDying == nil && u.Direction == nil && u.Color == nil
}

// Validate rejects values no client can legitimately send.
func (u PlayerUpdate) Validate() error {
	if u.Direction != nil && !u.Direction.Valid() {
		return malformedf("unknown direction %q", *u.Direction)
	}
	return nil
}

// Apply merges the set fields into p, last writer wins per field.
func (u PlayerUpdate) Apply(p *Player) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.X != nil {
		p.X = *u.X
	}
	if u.Y != nil {
		p.Y = *u.Y
	}
	if u.Health != nil {
		p.Health = *u.Health
	}
	if u.Score != nil {
		p.Score = *u.Score
	}
	if u.IsAttacking != nil {
		p.IsAttacking = *u.IsAttacking
	}
	if u.IsHurting != nil {
		p.IsHurting = *u.IsHurting
	}
	if u.IsDying != nil {
		p.IsDying = *u.IsDying
	}
	if u.Direction != nil {
		p.Direction = *u.Direction
	}
	if u.Color != nil {
		p.Color = *u.Color
	}
}

// Room is a bounded group of players sharing one game session and one
// broadcast scope. Players holds copies of the directory records and is kept
// in sync explicitly.
type Room struct {
	ID         string
	Name       string
	Players    []Player
	MaxPlayers int
	GameMode   GameMode
	IsActive   bool
	Level      int
	HostID     string
	CreatedAt  time.Time

	history *EventHistory
}

// RoomSummary is the wire and admin view of a room.
type RoomSummary struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Players    []Player `json:"players"`
	MaxPlayers int      `json:"maxPlayers"`
	GameMode   GameMode `json:"gameMode"`
	IsActive   bool     `json:"isActive"`
	Level      int      `json:"level"`
	HostID     string   `json:"hostId"`
}

// Summary returns a copy of the room safe to use after the relay lock is released.
func (r *Room) Summary() RoomSummary {
	players := make([]Player, len(r.Players))
	copy(players, r.Players)
	return RoomSummary{
		ID:         r.ID,
		Name:       r.Name,
		Players:    players,
		MaxPlayers: r.MaxPlayers,
		GameMode:   r.GameMode,
		IsActive:   r.IsActive,
		Level:      r.Level,
		HostID:     r.HostID,
	}
}

// IsFull reports whether the room is at capacity.
func (r *Room) IsFull() bool {
	return len(r.Players) >= r.MaxPlayers
}

func (r *Room) indexOf(playerID string) int {
	for i := range r.Players {
		if r.Players[i].ID == playerID {
			return i
		}
	}
	return -1
}

// HasPlayer reports whether playerID is a member.
func (r *Room) HasPlayer(playerID string) bool {
	return r.indexOf(playerID) >= 0
}

// addPlayer appends p.
//
// Precondition: p.ID is not already a member.
// Postcondition: Returns ErrRoomFull without mutating when at capacity.
func (r *Room) addPlayer(p Player) error {
	if r.IsFull() {
		return ErrRoomFull
	}
	p.RoomID = r.ID
	r.Players = append(r.Players, p)
	return nil
}

// removePlayer deletes playerID preserving the order of the rest.
func (r *Room) removePlayer(playerID string) bool {
	i := r.indexOf(playerID)
	if i < 0 {
		return false
	}
	r.Players = append(r.Players[:i], r.Players[i+1:]...)
	return true
}

// syncPlayer overwrites the room copy of p.
func (r *Room) syncPlayer(p Player) {
	if i := r.indexOf(p.ID); i >= 0 {
		p.RoomID = r.ID
		r.Players[i] = p
	}
}

// RoomDetail is a summary plus the room's recent game events.
type RoomDetail struct {
	RoomSummary
	CreatedAt time.Time
	Events    []GameEvent
}

// GameEvent is one discrete event a client reported for its room.
type GameEvent struct {
	Type      string         `json:"type"`
	PlayerID  string         `json:"playerId"`
	Data      map[string]any `json:"data"`
	Timestamp int64          `json:"timestamp"`
}

// Game event types the relay inspects. Every other type is relayed untouched.
const (
	EventLevelComplete = "level_complete"
	EventGameOver      = "game_over"
)
