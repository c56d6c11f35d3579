// Package archive records room lifecycle and game events to durable storage.
// Records are written asynchronously and never read back into live state.
package archive

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/dungeon-relay/internal/relay"
	"github.com/cory-johannsen/dungeon-relay/internal/server"
)

// DefaultQueueSize is the recorder's buffer when none is configured.
const DefaultQueueSize = 1024

// writeTimeout bounds a single store call.
const writeTimeout = 5 * time.Second

// Match is one lifetime of a room, from creation to close. A room id reused
// after its room closed starts a new match.
type Match struct {
	ID            uuid.UUID
	RoomID        string
	RoomName      string
	GameMode      string
	MaxPlayers    int
	HostID        string
	StartingLevel int
	CreatedAt     time.Time
}

// MatchEvent is a relayed game event belonging to a match.
type MatchEvent struct {
	MatchID    uuid.UUID
	Type       string
	PlayerID   string
	Data       json.RawMessage
	OccurredAt time.Time
}

// Store persists matches. Implementations need not be safe for concurrent use;
// the Recorder calls them from a single goroutine.
type Store interface {
	CreateMatch(ctx context.Context, m Match) error
	MarkStarted(ctx context.Context, matchID uuid.UUID, at time.Time) error
	AppendEvent(ctx context.Context, ev MatchEvent) error
	CloseMatch(ctx context.Context, matchID uuid.UUID, at time.Time) error
}

type recordKind int

const (
	recordCreated recordKind = iota
	recordStarted
	recordEvent
	recordClosed
)

type record struct {
	kind   recordKind
	roomID string
	room   relay.RoomSummary
	event  relay.GameEvent
	at     time.Time
}

var _ relay.Observer = (*Recorder)(nil)

// Recorder is a relay.Observer that queues records and writes them to a
// Store from its own goroutine. A full queue drops the record.
type Recorder struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	closed bool
	queue  chan record

	matches map[string]uuid.UUID // owned by Run
	newID   func() uuid.UUID

	dropped atomic.Int64
	done    chan struct{}
}

// NewRecorder creates a Recorder writing to store.
//
// Precondition: store and logger must be non-nil; queueSize <= 0 selects
// DefaultQueueSize.
func NewRecorder(store Store, queueSize int, logger *zap.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Recorder{
		store:   store,
		logger:  logger,
		now:     time.Now,
		queue:   make(chan record, queueSize),
		matches: make(map[string]uuid.UUID),
		newID:   uuid.New,
		done:    make(chan struct{}),
	}
}

// RoomCreated queues a new match for room.
func (r *Recorder) RoomCreated(room relay.RoomSummary) {
	r.enqueue(record{kind: recordCreated, roomID: room.ID, room: room})
}

// GameStarted queues the match start.
func (r *Recorder) GameStarted(room relay.RoomSummary) {
	r.enqueue(record{kind: recordStarted, roomID: room.ID})
}

// GameEvent queues a relayed game event.
func (r *Recorder) GameEvent(roomID string, ev relay.GameEvent) {
	r.enqueue(record{kind: recordEvent, roomID: roomID, event: ev})
}

// RoomClosed queues the match close.
func (r *Recorder) RoomClosed(roomID string) {
	r.enqueue(record{kind: recordClosed, roomID: roomID})
}

// Dropped returns how many records were discarded because the queue was full
// or the recorder had stopped.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) enqueue(rec record) {
	rec.at = r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.dropped.Add(1)
		r.logger.Warn("archive queue full, dropping record",
			zap.String("room", rec.roomID),
			zap.Int("queue_size", cap(r.queue)),
		)
	}
}

// Run writes queued records until Close is called and the queue is drained,
// or ctx is cancelled.
//
// Precondition: Run must be called at most once.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case rec, ok := <-r.queue:
			if !ok {
				return
			}
			r.write(ctx, rec)
		case <-ctx.Done():
			return
		}
	}
}

// Close stops accepting records and waits for Run to drain the queue.
//
// Precondition: Run must have been started.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}

// Service adapts the Recorder to the server lifecycle.
func (r *Recorder) Service() server.Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &server.FuncService{
		StartFn: func() error {
			r.Run(ctx)
			return nil
		},
		StopFn: func() {
			r.Close()
			cancel()
		},
	}
}

func (r *Recorder) write(ctx context.Context, rec record) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	var err error
	switch rec.kind {
	case recordCreated:
		id := r.newID()
		r.matches[rec.roomID] = id
		err = r.store.CreateMatch(ctx, Match{
			ID:            id,
			RoomID:        rec.room.ID,
			RoomName:      rec.room.Name,
			GameMode:      string(rec.room.GameMode),
			MaxPlayers:    rec.room.MaxPlayers,
			HostID:        rec.room.HostID,
			StartingLevel: rec.room.Level,
			CreatedAt:     rec.at,
		})
	case recordStarted:
		if id, ok := r.match(rec); ok {
			err = r.store.MarkStarted(ctx, id, rec.at)
		}
	case recordEvent:
		id, ok := r.match(rec)
		if !ok {
			return
		}
		data := json.RawMessage(`{}`)
		if len(rec.event.Data) > 0 {
			if data, err = json.Marshal(rec.event.Data); err != nil {
				break
			}
		}
		occurred := rec.at
		if rec.event.Timestamp > 0 {
			occurred = time.UnixMilli(rec.event.Timestamp)
		}
		err = r.store.AppendEvent(ctx, MatchEvent{
			MatchID:    id,
			Type:       rec.event.Type,
			PlayerID:   rec.event.PlayerID,
			Data:       data,
			OccurredAt: occurred,
		})
	case recordClosed:
		if id, ok := r.match(rec); ok {
			delete(r.matches, rec.roomID)
			err = r.store.CloseMatch(ctx, id, rec.at)
		}
	}
	if err != nil {
		r.logger.Warn("archive write failed", zap.String("room", rec.roomID), zap.Error(err))
	}
}

// match returns the open match for rec's room. Rooms created before the
// recorder started, or whose creation was dropped, have none.
func (r *Recorder) match(rec record) (uuid.UUID, bool) {
	id, ok := r.matches[rec.roomID]
	if !ok {
		r.logger.Debug("no open match for room", zap.String("room", rec.roomID))
	}
	return id, ok
}
