package relay

// Directory owns every established player record, keyed by player id.
// It is not safe for concurrent use; State serializes access.
type Directory struct {
	players map[string]*Player
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{players: make(map[string]*Player)}
}

// Put stores p, replacing any record with the same id.
func (d *Directory) Put(p Player) *Player {
	rec := p
	d.players[p.ID] = &rec
	return &rec
}

// Get returns the record for id.
func (d *Directory) Get(id string) (*Player, bool) {
	p, ok := d.players[id]
	return p, ok
}

// Upsert merges u into the record for id.
//
// Postcondition: Returns the updated record, or false if id is unknown.
func (d *Directory) Upsert(id string, u PlayerUpdate) (*Player, bool) {
	p, ok := d.players[id]
	if !ok {
		return nil, false
	}
	u.Apply(p)
	return p, true
}

// Delete removes the record; unknown ids are ignored.
func (d *Directory) Delete(id string) {
	delete(d.players, id)
}

// Len returns the number of player records.
func (d *Directory) Len() int {
	return len(d.players)
}
