package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/dungeon-relay/internal/archive"
)

// ErrMatchNotFound is returned when an update targets an unknown match.
var ErrMatchNotFound = errors.New("match not found")

var _ archive.Store = (*ArchiveRepository)(nil)

// ArchiveRepository writes matches and their game events.
type ArchiveRepository struct {
	db *pgxpool.Pool
}

// NewArchiveRepository creates an ArchiveRepository backed by db.
//
// Precondition: db must be a valid, open connection pool with migrations applied.
func NewArchiveRepository(db *pgxpool.Pool) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

// CreateMatch inserts m.
func (r *ArchiveRepository) CreateMatch(ctx context.Context, m archive.Match) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO matches (id, room_id, room_name, game_mode, max_players, host_id, starting_level, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.RoomID, m.RoomName, m.GameMode, m.MaxPlayers, m.HostID, m.StartingLevel, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting match %s: %w", m.ID, err)
	}
	return nil
}

// MarkStarted records when the match's game started. Only the first start is kept.
func (r *ArchiveRepository) MarkStarted(ctx context.Context, matchID uuid.UUID, at time.Time) error {
	return r.update(ctx, matchID,
		`UPDATE matches SET started_at = COALESCE(started_at, $2) WHERE id = $1`, at)
}

// CloseMatch records when the match's room closed.
func (r *ArchiveRepository) CloseMatch(ctx context.Context, matchID uuid.UUID, at time.Time) error {
	return r.update(ctx, matchID,
		`UPDATE matches SET closed_at = $2 WHERE id = $1`, at)
}

func (r *ArchiveRepository) update(ctx context.Context, matchID uuid.UUID, sql string, at time.Time) error {
	tag, err := r.db.Exec(ctx, sql, matchID, at)
	if err != nil {
		return fmt.Errorf("updating match %s: %w", matchID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating match %s: %w", matchID, ErrMatchNotFound)
	}
	return nil
}

// AppendEvent inserts ev.
func (r *ArchiveRepository) AppendEvent(ctx context.Context, ev archive.MatchEvent) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO match_events (match_id, event_type, player_id, data, occurred_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		ev.MatchID, ev.Type, ev.PlayerID, string(ev.Data), ev.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("inserting event for match %s: %w", ev.MatchID, err)
	}
	return nil
}

// MatchSummary is a stored match with its event count.
type MatchSummary struct {
	archive.Match
	StartedAt  *time.Time
	ClosedAt   *time.Time
	EventCount int
}

// RecentMatches returns up to limit matches for roomID, newest first.
//
// Precondition: limit > 0.
func (r *ArchiveRepository) RecentMatches(ctx context.Context, roomID string, limit int) ([]MatchSummary, error) {
	rows, err := r.db.Query(ctx,
		`SELECT m.id, m.room_id, m.room_name, m.game_mode, m.max_players, m.host_id,
		        m.starting_level, m.created_at, m.started_at, m.closed_at,
		        (SELECT COUNT(*) FROM match_events e WHERE e.match_id = m.id)
		 FROM matches m
		 WHERE m.room_id = $1
		 ORDER BY m.created_at DESC
		 LIMIT $2`,
		roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying matches for room %s: %w", roomID, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (MatchSummary, error) {
		var s MatchSummary
		err := row.Scan(&s.ID, &s.RoomID, &s.RoomName, &s.GameMode, &s.MaxPlayers, &s.HostID,
			&s.StartingLevel, &s.CreatedAt, &s.StartedAt, &s.ClosedAt, &s.EventCount)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning matches for room %s: %w", roomID, err)
	}
	return out, nil
}
