package relay

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dungeon-relay/internal/config"
	"github.com/cory-johannsen/dungeon-relay/internal/session"
)

// LevelSource supplies the dungeon level a room starts at and bounds level changes.
type LevelSource interface {
	StartingLevel(roomID, roomName string, mode GameMode) int
	ClampLevel(level int) int
}

type firstLevel struct{}

func (firstLevel) StartingLevel(string, string, GameMode) int { return 1 }

func (firstLevel) ClampLevel(level int) int { return max(level, 1) }

// Observer is notified of room lifecycle changes. Calls are made while the
// relay lock is held, in the order the changes happen; implementations must
// not block and must not call back into State.
type Observer interface {
	RoomCreated(room RoomSummary)
	GameStarted(room RoomSummary)
	GameEvent(roomID string, ev GameEvent)
	RoomClosed(roomID string)
}

// Option configures a State.
type Option func(*State)

// WithLevels sets the level source used for new rooms and level_complete events.
func WithLevels(src LevelSource) Option {
	return func(s *State) { s.levels = src }
}

// WithObserver adds an observer. Observers are notified in registration order.
func WithObserver(o Observer) Option {
	return func(s *State) { s.observers = append(s.observers, o) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

// Stats is a point-in-time count of relay state.
type Stats struct {
	Connections int
	Players     int
	Rooms       int
	ActiveRooms int
}

// State is the relay's authoritative room and player state. Every mutation of
// the RoomStore and Directory, and every fanout, happens under mu.
type State struct {
	mu        sync.Mutex
	cfg       config.RoomsConfig
	logger    *zap.Logger
	registry  *session.Registry
	rooms     *RoomStore
	players   *Directory
	fanout    *Fanout
	levels    LevelSource
	observers []Observer
	now       func() time.Time
}

// NewState creates an empty relay state over registry.
//
// Precondition: cfg must satisfy config validation; registry and logger must be non-nil.
func NewState(cfg config.RoomsConfig, registry *session.Registry, logger *zap.Logger, opts ...Option) *State {
	rooms := NewRoomStore()
	s := &State{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		rooms:    rooms,
		players:  NewDirectory(),
		fanout:   NewFanout(registry, rooms, logger),
		levels:   firstLevel{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect registers a new transport connection.
func (s *State) Connect(remote string) *session.Conn {
	c := s.registry.Register(remote)
	s.logger.Debug("connection opened", zap.String("conn", string(c.ID)), zap.String("remote", remote))
	return c
}

// Disconnect runs the cleanup cascade for id and unregisters it. Calling it
// again, or for an unknown id, is a no-op.
func (s *State) Disconnect(id session.ConnID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.detach(id)
	if c, ok := s.registry.Unregister(id); ok {
		s.logger.Debug("connection closed",
			zap.String("conn", string(id)),
			zap.Duration("elapsed", s.now().Sub(c.ConnectedAt)),
		)
	}
}

// Reply sends one message to a single connection.
func (s *State) Reply(conn session.ConnID, msgType string, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fanout.ToConnection(conn, msgType, data)
}

// CreateRoom creates a room with the sender's player as its host and only member.
//
// Postcondition: On success the sender receives room_joined. On error no state changes.
func (s *State) CreateRoom(conn session.ConnID, req createRoomRequest) error {
	if req.Room == nil {
		return malformedf("missing room")
	}
	if req.Room.ID == "" {
		return malformedf("room id is required")
	}
	mode := req.Room.GameMode
	if mode == "" {
		mode = ModeCooperative
	}
	if !mode.Valid() {
		return malformedf("unknown game mode %q", mode)
	}
	if isNull(req.Player) {
		return ErrNoPlayer
	}
	player, err := decodePlayer(req.Player)
	if err != nil {
		return err
	}
	name := req.Room.Name
	if name == "" {
		name = req.Room.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.live(conn, MsgCreateRoom) {
		return nil
	}
	if _, exists := s.rooms.Get(req.Room.ID); exists {
		return ErrRoomExists
	}
	s.claim(conn, player.ID)

	room := &Room{
		ID:         req.Room.ID,
		Name:       name,
		MaxPlayers: s.clampMaxPlayers(req.Room.MaxPlayers),
		GameMode:   mode,
		Level:      s.levels.ClampLevel(s.levels.StartingLevel(req.Room.ID, name, mode)),
		HostID:     player.ID,
		CreatedAt:  s.now(),
		history:    NewEventHistory(s.cfg.EventHistory),
	}
	player.RoomID = room.ID
	room.Players = []Player{player}
	if err := s.rooms.Insert(room); err != nil {
		return err
	}
	s.players.Put(player)
	s.registry.BindPlayer(conn, player.ID)
	s.registry.SetRoom(conn, room.ID)

	summary := room.Summary()
	s.fanout.ToConnection(conn, MsgRoomJoined, roomJoinedPayload{Room: summary, Players: summary.Players})
	for _, o := range s.observers {
		o.RoomCreated(summary)
	}
	s.logger.Info("room created",
		zap.String("room", room.ID),
		zap.String("name", room.Name),
		zap.String("host", player.ID),
		zap.String("mode", string(mode)),
		zap.Int("max_players", room.MaxPlayers),
		zap.Int("level", room.Level),
	)
	return nil
}

// JoinRoom adds the sender's player to an existing room.
//
// Postcondition: On success existing members receive player_joined and the
// sender receives room_joined. On error no state changes.
func (s *State) JoinRoom(conn session.ConnID, req joinRoomRequest) error {
	if req.RoomID == "" {
		return malformedf("roomId is required")
	}
	if isNull(req.Player) {
		return ErrNoPlayer
	}
	player, err := decodePlayer(req.Player)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.live(conn, MsgJoinRoom) {
		return nil
	}
	room, ok := s.rooms.Get(req.RoomID)
	if !ok {
		return ErrRoomNotFound
	}
	if room.HasPlayer(player.ID) {
		s.resume(conn, room, player.ID)
		return nil
	}
	if room.IsFull() {
		return ErrRoomFull
	}

	s.claim(conn, player.ID)
	// Releasing the sender's previous player can empty and close this room.
	if room, ok = s.rooms.Get(req.RoomID); !ok {
		return ErrRoomNotFound
	}
	if err := room.addPlayer(player); err != nil {
		return err
	}
	player.RoomID = room.ID
	s.players.Put(player)
	s.registry.BindPlayer(conn, player.ID)
	s.registry.SetRoom(conn, room.ID)

	s.fanout.ToRoomExcludingSender(room.ID, conn, MsgPlayerJoined, player)
	summary := room.Summary()
	s.fanout.ToConnection(conn, MsgRoomJoined, roomJoinedPayload{Room: summary, Players: summary.Players})
	s.logger.Info("player joined room",
		zap.String("room", room.ID),
		zap.String("player", player.ID),
		zap.Int("players", len(room.Players)),
	)
	return nil
}

// live reports whether conn is still registered. A handler that loses the
// race with Disconnect for its own connection must not touch state.
// Caller holds s.mu.
func (s *State) live(conn session.ConnID, msgType string) bool {
	if _, ok := s.registry.Get(conn); ok {
		return true
	}
	s.logger.Debug("dropping message from closed connection",
		zap.String("conn", string(conn)),
		zap.String("type", msgType),
	)
	return false
}

// levelFromJSON converts a client-supplied level to int, saturating at the
// int32 range so out-of-range and fractional values stay well defined.
func levelFromJSON(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Max(math.MinInt32, math.Min(v, math.MaxInt32)))
}

// resume rebinds a player that is already a member of room to conn, taking
// it over from its previous connection if needed. Membership is unchanged so
// nothing is broadcast; only the sender gets a fresh snapshot.
func (s *State) resume(conn session.ConnID, room *Room, playerID string) {
	owner, bound := s.registry.ConnForPlayer(playerID)
	if !bound || owner.ID != conn {
		s.detach(conn)
		if bound {
			s.registry.Unbind(owner.ID)
			owner.Outbox().Close()
			s.logger.Info("player resumed on new connection",
				zap.String("player", playerID),
				zap.String("old_conn", string(owner.ID)),
				zap.String("conn", string(conn)),
			)
		}
		s.registry.BindPlayer(conn, playerID)
		s.registry.SetRoom(conn, room.ID)
	}
	summary := room.Summary()
	s.fanout.ToConnection(conn, MsgRoomJoined, roomJoinedPayload{Room: summary, Players: summary.Players})
}

// LeaveRoom removes the sender's player from its room and destroys the
// player record. Requests naming a room or player the sender is not bound
// to are ignored.
func (s *State) LeaveRoom(conn session.ConnID, req leaveRoomRequest) error {
	if req.RoomID == "" || req.PlayerID == "" {
		return malformedf("roomId and playerId are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	playerID, roomID, _ := s.registry.Lookup(conn)
	if playerID != req.PlayerID || roomID != req.RoomID {
		s.logger.Debug("ignoring leave_room for unbound player",
			zap.String("conn", string(conn)),
			zap.String("room", req.RoomID),
			zap.String("player", req.PlayerID),
		)
		return nil
	}
	s.detach(conn)
	return nil
}

// UpdatePlayer merges a partial update into the sender's player and
// broadcasts the delta to the rest of its room.
func (s *State) UpdatePlayer(conn session.ConnID, req playerUpdateRequest) error {
	if req.PlayerID == "" {
		return malformedf("playerId is required")
	}
	if req.Updates == nil {
		return malformedf("updates are required")
	}
	if err := req.Updates.Validate(); err != nil {
		return err
	}
	upd := *req.Updates

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.live(conn, MsgPlayerUpdate) {
		return nil
	}
	playerID, roomID, _ := s.registry.Lookup(conn)
	if playerID == "" {
		return ErrNoPlayer
	}
	if playerID != req.PlayerID {
		return unauthorizedf("Cannot update another player")
	}
	if upd.IsEmpty() {
		return nil
	}
	rec, ok := s.players.Upsert(playerID, upd)
	if !ok {
		return ErrNoPlayer
	}
	room, ok := s.rooms.Get(roomID)
	if !ok {
		s.logger.Debug("player_update outside a room", zap.String("player", playerID))
		return nil
	}
	room.syncPlayer(*rec)
	s.fanout.ToRoomExcludingSender(room.ID, conn, MsgPlayerUpdate, playerUpdatePayload{PlayerID: playerID, Updates: upd})
	if room.GameMode == ModeCooperative && upd.Health != nil {
		s.shareHealth(room, playerID, *upd.Health)
	}
	return nil
}

// shareHealth sets every other member of a cooperative room to health and
// tells the whole room about each member that changed.
func (s *State) shareHealth(room *Room, sourceID string, health float64) {
	for i := range room.Players {
		p := &room.Players[i]
		if p.ID == sourceID || p.Health == health {
			continue
		}
		p.Health = health
		if rec, ok := s.players.Get(p.ID); ok {
			rec.Health = health
		}
		h := health
		s.fanout.ToRoomIncludingSender(room.ID, MsgPlayerUpdate, playerUpdatePayload{
			PlayerID: p.ID,
			Updates:  PlayerUpdate{Health: &h},
		})
	}
}

// RelayGameEvent records a game event in the sender's room history and
// re-broadcasts the original payload to the whole room, sender included.
func (s *State) RelayGameEvent(conn session.ConnID, data json.RawMessage) error {
	ev, err := decodeGameEvent(data, s.now().UnixMilli())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.live(conn, MsgGameEvent) {
		return nil
	}
	playerID, roomID, _ := s.registry.Lookup(conn)
	if playerID == "" {
		return ErrNoPlayer
	}
	room, ok := s.rooms.Get(roomID)
	if !ok {
		s.logger.Debug("game_event outside a room", zap.String("player", playerID), zap.String("type", ev.Type))
		return nil
	}
	if ev.PlayerID == "" {
		ev.PlayerID = playerID
	}

	switch ev.Type {
	case EventLevelComplete:
		if lvl, ok := ev.Data["level"].(float64); ok {
			room.Level = s.levels.ClampLevel(levelFromJSON(lvl))
		}
	case EventGameOver:
		room.IsActive = false
	}
	room.history.Add(ev)

	s.fanout.ToRoomIncludingSender(room.ID, MsgGameEvent, data)
	for _, o := range s.observers {
		o.GameEvent(room.ID, ev)
	}
	return nil
}

// SendRoomList replies to conn with every room summary.
func (s *State) SendRoomList(conn session.ConnID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fanout.ToConnection(conn, MsgRoomList, s.rooms.List())
}

// ListRooms returns every room summary in creation order.
func (s *State) ListRooms() []RoomSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms.List()
}

// StartGame marks the room active when the sender's player is its host.
//
// Postcondition: Every member, host included, receives game_started. Starting
// an already active room is a no-op.
func (s *State) StartGame(conn session.ConnID, req startGameRequest) error {
	if req.RoomID == "" {
		return malformedf("roomId is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.live(conn, MsgStartGame) {
		return nil
	}
	room, ok := s.rooms.Get(req.RoomID)
	if !ok {
		return ErrRoomNotFound
	}
	playerID, _, _ := s.registry.Lookup(conn)
	if playerID == "" || playerID != room.HostID {
		return ErrUnauthorized
	}
	if room.IsActive {
		return nil
	}
	room.IsActive = true

	summary := room.Summary()
	s.fanout.ToRoomIncludingSender(room.ID, MsgGameStarted, gameStartedPayload{Room: summary})
	for _, o := range s.observers {
		o.GameStarted(summary)
	}
	s.logger.Info("game started", zap.String("room", room.ID), zap.Int("players", len(room.Players)))
	return nil
}

// Kick detaches playerID through the cleanup path and closes its connection.
//
// Postcondition: Returns false if no live connection holds playerID.
func (s *State) Kick(playerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.registry.ConnForPlayer(playerID)
	if !ok {
		return false
	}
	s.detach(c.ID)
	c.Outbox().Close()
	s.logger.Info("player kicked", zap.String("player", playerID), zap.String("conn", string(c.ID)))
	return true
}

// Room returns the room's summary and recent events.
func (s *State) Room(id string) (RoomDetail, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms.Get(id)
	if !ok {
		return RoomDetail{}, false
	}
	return RoomDetail{
		RoomSummary: room.Summary(),
		CreatedAt:   room.CreatedAt,
		Events:      room.history.Events(),
	}, true
}

// Stats returns current counts.
func (s *State) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Connections: s.registry.Count(),
		Players:     s.players.Len(),
		Rooms:       s.rooms.Len(),
		ActiveRooms: s.rooms.ActiveCount(),
	}
}

// claim releases whatever conn currently holds and takes playerID away from
// any other live connection.
func (s *State) claim(conn session.ConnID, playerID string) {
	s.detach(conn)
	other, ok := s.registry.ConnForPlayer(playerID)
	if !ok || other.ID == conn {
		return
	}
	s.logger.Info("player taken over by new connection",
		zap.String("player", playerID),
		zap.String("old_conn", string(other.ID)),
		zap.String("conn", string(conn)),
	)
	s.detach(other.ID)
	other.Outbox().Close()
}

// detach is the single cleanup path: it removes the connection's player from
// its room and destroys the player record. Unbound connections are a no-op.
//
// Precondition: s.mu is held.
func (s *State) detach(conn session.ConnID) {
	playerID, roomID, ok := s.registry.Lookup(conn)
	if !ok || playerID == "" {
		return
	}
	if roomID != "" {
		s.removeFromRoom(roomID, playerID)
	}
	s.players.Delete(playerID)
	s.registry.Unbind(conn)
}

func (s *State) removeFromRoom(roomID, playerID string) {
	room, ok := s.rooms.Get(roomID)
	if !ok || !room.removePlayer(playerID) {
		return
	}
	if len(room.Players) == 0 {
		s.rooms.Delete(roomID)
		for _, o := range s.observers {
			o.RoomClosed(roomID)
		}
		s.logger.Info("room closed", zap.String("room", roomID))
		return
	}

	s.fanout.ToRoomIncludingSender(roomID, MsgPlayerLeft, playerID)
	if room.HostID == playerID {
		room.HostID = room.Players[0].ID
		s.fanout.ToRoomIncludingSender(roomID, MsgHostChanged, hostChangedPayload{RoomID: roomID, HostID: room.HostID})
		s.logger.Info("host changed", zap.String("room", roomID), zap.String("host", room.HostID))
	}
	s.logger.Info("player left room",
		zap.String("room", roomID),
		zap.String("player", playerID),
		zap.Int("players", len(room.Players)),
	)
}

func (s *State) clampMaxPlayers(n int) int {
	if n <= 0 {
		n = s.cfg.DefaultMaxPlayers
	}
	return min(max(n, s.cfg.MinMaxPlayers), s.cfg.MaxPlayersCap)
}
