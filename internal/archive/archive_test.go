package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cory-johannsen/dungeon-relay/internal/relay"
)

type fakeStore struct {
	mu      sync.Mutex
	calls   []string
	matches map[uuid.UUID]Match
	events  []MatchEvent
	failOn  string
}

func newFakeStore() *fakeStore {
	return &fakeStore{matches: make(map[uuid.UUID]Match)}
}

func (f *fakeStore) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.failOn != "" && strings.HasPrefix(call, f.failOn) {
		return errors.New("database unavailable")
	}
	return nil
}

func (f *fakeStore) CreateMatch(_ context.Context, m Match) error {
	f.mu.Lock()
	f.matches[m.ID] = m
	f.mu.Unlock()
	return f.record("create:" + m.RoomID)
}

func (f *fakeStore) MarkStarted(_ context.Context, id uuid.UUID, _ time.Time) error {
	return f.record("start:" + f.roomOf(id))
}

func (f *fakeStore) AppendEvent(_ context.Context, ev MatchEvent) error {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	return f.record("event:" + f.roomOf(ev.MatchID) + ":" + ev.Type)
}

func (f *fakeStore) CloseMatch(_ context.Context, id uuid.UUID, _ time.Time) error {
	return f.record("close:" + f.roomOf(id))
}

func (f *fakeStore) roomOf(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.matches[id].RoomID
}

func (f *fakeStore) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func startRecorder(t *testing.T, store Store, logger *zap.Logger) *Recorder {
	t.Helper()
	rec := NewRecorder(store, 16, logger)
	go rec.Run(context.Background())
	return rec
}

func TestRecorder_WritesLifecycleInOrder(t *testing.T) {
	store := newFakeStore()
	rec := startRecorder(t, store, zaptest.NewLogger(t))

	room := relay.RoomSummary{ID: "r1", Name: "Crypt", GameMode: relay.ModeCooperative, MaxPlayers: 4, HostID: "p1", Level: 2}
	rec.RoomCreated(room)
	rec.GameStarted(room)
	rec.GameEvent("r1", relay.GameEvent{Type: "coin_collected", PlayerID: "p1", Data: map[string]any{"value": float64(5)}, Timestamp: 1_700_000_000_000})
	rec.GameEvent("r1", relay.GameEvent{Type: "ping", PlayerID: "p1"})
	rec.RoomClosed("r1")
	rec.Close()

	assert.Equal(t, []string{"create:r1", "start:r1", "event:r1:coin_collected", "event:r1:ping", "close:r1"}, store.Calls())
	require.Len(t, store.events, 2)
	assert.JSONEq(t, `{"value":5}`, string(store.events[0].Data))
	assert.Equal(t, time.UnixMilli(1_700_000_000_000), store.events[0].OccurredAt)
	assert.JSONEq(t, `{}`, string(store.events[1].Data))

	for _, m := range store.matches {
		assert.Equal(t, "Crypt", m.RoomName)
		assert.Equal(t, "cooperative", m.GameMode)
		assert.Equal(t, 2, m.StartingLevel)
	}
	assert.Zero(t, rec.Dropped())
}

func TestRecorder_ReusedRoomIDStartsNewMatch(t *testing.T) {
	store := newFakeStore()
	rec := startRecorder(t, store, zaptest.NewLogger(t))

	rec.RoomCreated(relay.RoomSummary{ID: "r1"})
	rec.RoomClosed("r1")
	rec.RoomCreated(relay.RoomSummary{ID: "r1"})
	rec.Close()

	assert.Len(t, store.matches, 2)
}

func TestRecorder_SkipsRoomsWithoutOpenMatch(t *testing.T) {
	store := newFakeStore()
	core, logs := observer.New(zap.DebugLevel)
	rec := startRecorder(t, store, zap.New(core))

	rec.GameStarted(relay.RoomSummary{ID: "ghost"})
	rec.GameEvent("ghost", relay.GameEvent{Type: "x"})
	rec.RoomClosed("ghost")
	rec.Close()

	assert.Empty(t, store.Calls())
	assert.Equal(t, 3, logs.FilterMessage("no open match for room").Len())
}

func TestRecorder_DropsWhenQueueFull(t *testing.T) {
	store := newFakeStore()
	core, logs := observer.New(zap.DebugLevel)
	rec := NewRecorder(store, 2, zap.New(core))

	for i := range 5 {
		rec.RoomCreated(relay.RoomSummary{ID: fmt.Sprintf("r%d", i)})
	}
	assert.EqualValues(t, 3, rec.Dropped())
	assert.Equal(t, 3, logs.FilterMessage("archive queue full, dropping record").Len())

	go rec.Run(context.Background())
	rec.Close()
	assert.Equal(t, []string{"create:r0", "create:r1"}, store.Calls())

	rec.RoomClosed("r0")
	assert.EqualValues(t, 4, rec.Dropped(), "records after Close are dropped")
}

func TestRecorder_StoreErrorsAreLogged(t *testing.T) {
	store := newFakeStore()
	store.failOn = "start"
	core, logs := observer.New(zap.DebugLevel)
	rec := startRecorder(t, store, zap.New(core))

	rec.RoomCreated(relay.RoomSummary{ID: "r1"})
	rec.GameStarted(relay.RoomSummary{ID: "r1"})
	rec.RoomClosed("r1")
	rec.Close()

	warns := logs.FilterMessage("archive write failed").All()
	require.Len(t, warns, 1)
	assert.Equal(t, "r1", warns[0].ContextMap()["room"])
	assert.Equal(t, []string{"create:r1", "start:r1", "close:r1"}, store.Calls())
}

func TestRecorder_ObservesRelayState(t *testing.T) {
	store := newFakeStore()
	rec := startRecorder(t, store, zaptest.NewLogger(t))
	obs := relay.Observer(rec)

	obs.RoomCreated(relay.RoomSummary{ID: "r1"})
	obs.RoomClosed("r1")
	rec.Close()
	assert.Equal(t, []string{"create:r1", "close:r1"}, store.Calls())
}

func TestRecorder_Service(t *testing.T) {
	store := newFakeStore()
	rec := NewRecorder(store, 0, zaptest.NewLogger(t))
	svc := rec.Service()

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Start() }()

	rec.RoomCreated(relay.RoomSummary{ID: "r1"})
	svc.Stop()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	assert.Equal(t, []string{"create:r1"}, store.Calls())
}
