package relay

// RoomStore owns every live room, keyed by id and listed in creation order.
// It is not safe for concurrent use; State serializes access.
type RoomStore struct {
	rooms map[string]*Room
	order []string
}

// NewRoomStore creates an empty RoomStore.
func NewRoomStore() *RoomStore {
	return &RoomStore{rooms: make(map[string]*Room)}
}

// Insert adds a new room.
//
// Precondition: room has at least one player.
// Postcondition: Returns ErrRoomExists if the id is taken.
func (s *RoomStore) Insert(room *Room) error {
	if _, exists := s.rooms[room.ID]; exists {
		return ErrRoomExists
	}
	s.rooms[room.ID] = room
	s.order = append(s.order, room.ID)
	return nil
}

// Get returns the room with the given id.
func (s *RoomStore) Get(id string) (*Room, bool) {
	r, ok := s.rooms[id]
	return r, ok
}

// Delete removes the room; unknown ids are ignored.
func (s *RoomStore) Delete(id string) {
	if _, ok := s.rooms[id]; !ok {
		return
	}
	delete(s.rooms, id)
	for i, rid := range s.order {
		if rid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// List returns summaries of all rooms in creation order.
func (s *RoomStore) List() []RoomSummary {
	out := make([]RoomSummary, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.rooms[id].Summary())
	}
	return out
}

// Len returns the number of rooms.
func (s *RoomStore) Len() int {
	return len(s.rooms)
}

// ActiveCount returns the number of rooms whose game has started.
func (s *RoomStore) ActiveCount() int {
	n := 0
	for _, r := range s.rooms {
		if r.IsActive {
			n++
		}
	}
	return n
}
