package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/cory-johannsen/dungeon-relay/internal/observability"
	"github.com/cory-johannsen/dungeon-relay/internal/relay"
	"github.com/cory-johannsen/dungeon-relay/internal/storage/postgres"
)

// historyLimit caps RoomHistory results.
const historyLimit = 20

// MatchHistory reads archived matches.
type MatchHistory interface {
	RecentMatches(ctx context.Context, roomID string, limit int) ([]postgres.MatchSummary, error)
}

// Option configures a Server.
type Option func(*Server)

// WithLevelNames resolves level numbers to catalog names in GetRoom.
func WithLevelNames(fn func(level int) (string, bool)) Option {
	return func(s *Server) { s.levelName = fn }
}

// WithHistory enables RoomHistory.
func WithHistory(h MatchHistory) Option {
	return func(s *Server) { s.history = h }
}

var _ RelayAdminServer = (*Server)(nil)

// Server implements RelayAdminServer over a relay.State.
type Server struct {
	state     *relay.State
	levelName func(level int) (string, bool)
	history   MatchHistory
	logger    *zap.Logger
}

// NewServer creates an admin Server for state.
//
// Precondition: state and logger must be non-nil.
func NewServer(state *relay.State, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{state: state, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewGRPCServer returns a grpc.Server with s registered behind bearer token
// authentication and call logging.
//
// Precondition: tokenHash must be a bcrypt hash.
func NewGRPCServer(s *Server, tokenHash string, logger *zap.Logger) *grpc.Server {
	g := grpc.NewServer(grpc.ChainUnaryInterceptor(
		observability.UnaryServerLogger(logger),
		TokenAuth(tokenHash),
	))
	RegisterRelayAdminServer(g, s)
	return g
}

// ListRooms returns every room summary.
func (s *Server) ListRooms(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	rooms := s.state.ListRooms()
	items := make([]any, 0, len(rooms))
	for _, r := range rooms {
		v, err := toValue(r)
		if err != nil {
			return nil, s.internal("encoding room", err)
		}
		items = append(items, v)
	}
	return structpb.NewList(items)
}

// GetRoom returns the room's summary, creation time, level name, and event history.
func (s *Server) GetRoom(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	id := req.GetValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "room id is required")
	}
	detail, ok := s.state.Room(id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "room %q not found", id)
	}

	fields, err := toValue(detail.RoomSummary)
	if err != nil {
		return nil, s.internal("encoding room", err)
	}
	m := fields.(map[string]any)
	m["createdAt"] = detail.CreatedAt.UTC().Format(time.RFC3339Nano)
	if s.levelName != nil {
		if name, ok := s.levelName(detail.Level); ok {
			m["levelName"] = name
		}
	}
	events, err := toValue(detail.Events)
	if err != nil {
		return nil, s.internal("encoding events", err)
	}
	m["events"] = events
	return structpb.NewStruct(m)
}

// KickPlayer disconnects the player holding req's id.
func (s *Server) KickPlayer(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	id := req.GetValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "player id is required")
	}
	kicked := s.state.Kick(id)
	s.logger.Info("admin kick", zap.String("player", id), zap.Bool("kicked", kicked))
	return wrapperspb.Bool(kicked), nil
}

// Stats returns relay counters.
func (s *Server) Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	st := s.state.Stats()
	return structpb.NewStruct(map[string]any{
		"connections": st.Connections,
		"players":     st.Players,
		"rooms":       st.Rooms,
		"activeRooms": st.ActiveRooms,
	})
}

// RoomHistory returns archived matches for a room id.
func (s *Server) RoomHistory(ctx context.Context, req *wrapperspb.StringValue) (*structpb.ListValue, error) {
	if s.history == nil {
		return nil, status.Error(codes.Unimplemented, "match archive is disabled")
	}
	id := req.GetValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "room id is required")
	}
	matches, err := s.history.RecentMatches(ctx, id, historyLimit)
	if err != nil {
		return nil, s.internal("reading match history", err)
	}
	items := make([]any, 0, len(matches))
	for _, m := range matches {
		entry := map[string]any{
			"matchId":       m.ID.String(),
			"roomName":      m.RoomName,
			"gameMode":      m.GameMode,
			"maxPlayers":    m.MaxPlayers,
			"hostId":        m.HostID,
			"startingLevel": m.StartingLevel,
			"createdAt":     m.CreatedAt.UTC().Format(time.RFC3339Nano),
			"eventCount":    m.EventCount,
		}
		if m.StartedAt != nil {
			entry["startedAt"] = m.StartedAt.UTC().Format(time.RFC3339Nano)
		}
		if m.ClosedAt != nil {
			entry["closedAt"] = m.ClosedAt.UTC().Format(time.RFC3339Nano)
		}
		items = append(items, entry)
	}
	return structpb.NewList(items)
}

func (s *Server) internal(what string, err error) error {
	s.logger.Error("admin: "+what, zap.Error(err))
	return status.Errorf(codes.Internal, "%s: %v", what, err)
}

// toValue converts v to the generic form structpb accepts by way of its JSON encoding.
func toValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling %T: %w", v, err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshaling %T: %w", v, err)
	}
	return out, nil
}
