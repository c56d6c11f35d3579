package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConnID is the server-assigned participant identity of one transport
// connection. It is never reused.
type ConnID string

// Conn is one registered transport connection.
type Conn struct {
	ID          ConnID
	Remote      string
	ConnectedAt time.Time
	outbox      *Outbox
}

// Outbox returns the connection's outbound queue.
func (c *Conn) Outbox() *Outbox {
	return c.outbox
}

// Send queues an encoded frame for the connection.
func (c *Conn) Send(frame []byte) error {
	return c.outbox.Push(frame)
}

// binding is the connection's current player and room, both possibly empty.
type binding struct {
	playerID string
	roomID   string
}

// Registry tracks all live connections plus the authoritative
// connection → player and connection → room tables.
// All methods are safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	outboxSize int
	conns      map[ConnID]*Conn
	bindings   map[ConnID]*binding
	byPlayer   map[string]ConnID
	newID      func() ConnID
	now        func() time.Time
}

// NewRegistry creates an empty Registry whose connections get outboxes of outboxSize.
func NewRegistry(outboxSize int) *Registry {
	return &Registry{
		outboxSize: outboxSize,
		conns:      make(map[ConnID]*Conn),
		bindings:   make(map[ConnID]*binding),
		byPlayer:   make(map[string]ConnID),
		newID:      func() ConnID { return ConnID(uuid.NewString()) },
		now:        time.Now,
	}
}

// Register assigns a fresh identity and outbox to a new connection.
//
// Postcondition: Returns a Conn whose ID is not held by any other live connection.
func (r *Registry) Register(remote string) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for _, taken := r.conns[id]; taken; _, taken = r.conns[id] {
		id = r.newID()
	}
	c := &Conn{
		ID:          id,
		Remote:      remote,
		ConnectedAt: r.now(),
		outbox:      NewOutbox(id, r.outboxSize),
	}
	r.conns[id] = c
	r.bindings[id] = &binding{}
	return c
}

// Unregister removes the connection and its bindings and closes its outbox.
//
// Postcondition: Returns the removed Conn and true, or nil and false if id was unknown.
func (r *Registry) Unregister(id ConnID) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	if b := r.bindings[id]; b != nil && b.playerID != "" && r.byPlayer[b.playerID] == id {
		delete(r.byPlayer, b.playerID)
	}
	delete(r.bindings, id)
	delete(r.conns, id)
	c.outbox.Close()
	return c, true
}

// Get returns the live connection with the given id.
func (r *Registry) Get(id ConnID) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// BindPlayer associates playerID with the connection, replacing any previous
// player of that connection.
//
// Precondition: playerID must be non-empty and not bound to another live connection.
// Postcondition: Returns false if id is not a live connection.
func (r *Registry) BindPlayer(id ConnID, playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[id]
	if !ok {
		return false
	}
	if b.playerID != "" && r.byPlayer[b.playerID] == id {
		delete(r.byPlayer, b.playerID)
	}
	b.playerID = playerID
	r.byPlayer[playerID] = id
	return true
}

// SetRoom records the room the connection's player occupies. An empty roomID
// clears it.
func (r *Registry) SetRoom(id ConnID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[id]
	if !ok {
		return false
	}
	b.roomID = roomID
	return true
}

// Unbind clears the connection's player and room while keeping it registered.
func (r *Registry) Unbind(id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[id]
	if !ok {
		return
	}
	if b.playerID != "" && r.byPlayer[b.playerID] == id {
		delete(r.byPlayer, b.playerID)
	}
	b.playerID = ""
	b.roomID = ""
}

// Lookup returns the player and room bound to the connection; either may be empty.
func (r *Registry) Lookup(id ConnID) (playerID, roomID string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bindings[id]
	if !ok {
		return "", "", false
	}
	return b.playerID, b.roomID, true
}

// ConnForPlayer returns the live connection bound to playerID.
func (r *Registry) ConnForPlayer(playerID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byPlayer[playerID]
	if !ok {
		return nil, false
	}
	c, ok := r.conns[id]
	return c, ok
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
