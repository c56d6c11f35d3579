package relay

import (
	"go.uber.org/zap"

	"github.com/cory-johannsen/dungeon-relay/internal/session"
)

// Fanout delivers encoded frames to connections. Delivery is at-most-once:
// a frame that cannot be queued is dropped with a warning.
//
// Callers hold the State lock, so frames from one sender reach every
// recipient's FIFO outbox in send order.
type Fanout struct {
	registry *session.Registry
	rooms    *RoomStore
	logger   *zap.Logger
}

// NewFanout creates a Fanout over the given registry and room store.
func NewFanout(registry *session.Registry, rooms *RoomStore, logger *zap.Logger) *Fanout {
	return &Fanout{registry: registry, rooms: rooms, logger: logger}
}

// ToConnection sends one message to a single connection.
func (f *Fanout) ToConnection(id session.ConnID, msgType string, data any) {
	c, ok := f.registry.Get(id)
	if !ok {
		return
	}
	frame, err := Encode(msgType, data)
	if err != nil {
		f.logger.Error("encoding frame", zap.String("type", msgType), zap.Error(err))
		return
	}
	f.push(c, msgType, frame)
}

// ToRoomExcludingSender sends one message to every member of roomID except
// the player bound to sender.
func (f *Fanout) ToRoomExcludingSender(roomID string, sender session.ConnID, msgType string, data any) {
	f.toRoom(roomID, sender, msgType, data)
}

// ToRoomIncludingSender sends one message to every member of roomID.
func (f *Fanout) ToRoomIncludingSender(roomID string, msgType string, data any) {
	f.toRoom(roomID, "", msgType, data)
}

func (f *Fanout) toRoom(roomID string, exclude session.ConnID, msgType string, data any) {
	room, ok := f.rooms.Get(roomID)
	if !ok {
		return
	}
	frame, err := Encode(msgType, data)
	if err != nil {
		f.logger.Error("encoding frame", zap.String("type", msgType), zap.Error(err))
		return
	}
	for _, p := range room.Players {
		c, ok := f.registry.ConnForPlayer(p.ID)
		if !ok || c.ID == exclude {
			continue
		}
		f.push(c, msgType, frame)
	}
}

func (f *Fanout) push(c *session.Conn, msgType string, frame []byte) {
	if err := c.Send(frame); err != nil {
		f.logger.Warn("dropping outbound frame",
			zap.String("conn", string(c.ID)),
			zap.String("type", msgType),
			zap.Error(err),
		)
	}
}
