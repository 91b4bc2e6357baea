package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/torchlit/gametable/internal/interaction/domain"
	"github.com/torchlit/gametable/internal/interaction/storage"
)

const sessionColumns = `
	id,
	name,
	campaign_id,
	creator_id,
	dm_id,
	status,
	live_room_id,
	session_label,
	initiative_order_json,
	current_initiative_index,
	round_number,
	turn_number,
	turn_time_limit_seconds,
	current_turn_deadline,
	chat_enabled,
	allow_private_chat,
	snapshot_json,
	snapshot_at,
	last_activity,
	created_at,
	updated_at`

// PutSession persists a session aggregate, replacing any existing row.
func (s *Store) PutSession(ctx context.Context, session domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return putSessionExec(ctx, s.sqlDB, session)
}

func putSessionExec(ctx context.Context, db execer, session domain.Session) error {
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	orderJSON, err := encodeJSON(session.InitiativeOrder)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
INSERT INTO interaction_sessions (`+sessionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	campaign_id = excluded.campaign_id,
	creator_id = excluded.creator_id,
	dm_id = excluded.dm_id,
	status = excluded.status,
	live_room_id = excluded.live_room_id,
	session_label = excluded.session_label,
	initiative_order_json = excluded.initiative_order_json,
	current_initiative_index = excluded.current_initiative_index,
	round_number = excluded.round_number,
	turn_number = excluded.turn_number,
	turn_time_limit_seconds = excluded.turn_time_limit_seconds,
	current_turn_deadline = excluded.current_turn_deadline,
	chat_enabled = excluded.chat_enabled,
	allow_private_chat = excluded.allow_private_chat,
	snapshot_json = excluded.snapshot_json,
	snapshot_at = excluded.snapshot_at,
	last_activity = excluded.last_activity,
	updated_at = excluded.updated_at
`,
		session.ID,
		session.Name,
		session.CampaignID,
		session.CreatorID,
		session.DMID,
		string(session.Status),
		session.LiveRoomID,
		session.SessionLabel,
		orderJSON,
		session.CurrentInitiativeIndex,
		session.RoundNumber,
		session.TurnNumber,
		session.TurnTimeLimitSeconds,
		toNullMillis(session.CurrentTurnDeadline),
		session.ChatEnabled,
		session.AllowPrivateChat,
		session.SnapshotJSON,
		toMillis(session.SnapshotAt),
		toMillis(session.LastActivity),
		toMillis(session.CreatedAt),
		toMillis(session.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// GetSession returns one session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Session{}, fmt.Errorf("storage is not configured")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Session{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT`+sessionColumns+`
FROM interaction_sessions
WHERE id = ?
`, id)
	session, err := scanSession(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, storage.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// ListSessions returns all sessions, most recently active first.
func (s *Store) ListSessions(ctx context.Context) ([]domain.Session, error) {
	return s.listSessions(ctx, `
SELECT`+sessionColumns+`
FROM interaction_sessions
ORDER BY last_activity DESC, id ASC
`)
}

// ListSessionsByStatus returns sessions in one lifecycle state, most
// recently active first.
func (s *Store) ListSessionsByStatus(ctx context.Context, status domain.Status) ([]domain.Session, error) {
	return s.listSessions(ctx, `
SELECT`+sessionColumns+`
FROM interaction_sessions
WHERE status = ?
ORDER BY last_activity DESC, id ASC
`, string(status))
}

func (s *Store) listSessions(ctx context.Context, query string, args ...any) ([]domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		session, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

func scanSession(scan func(...any) error) (domain.Session, error) {
	var (
		session      domain.Session
		status       string
		orderJSON    string
		deadline     sql.NullInt64
		snapshotAt   int64
		lastActivity int64
		createdAt    int64
		updatedAt    int64
	)
	if err := scan(
		&session.ID,
		&session.Name,
		&session.CampaignID,
		&session.CreatorID,
		&session.DMID,
		&status,
		&session.LiveRoomID,
		&session.SessionLabel,
		&orderJSON,
		&session.CurrentInitiativeIndex,
		&session.RoundNumber,
		&session.TurnNumber,
		&session.TurnTimeLimitSeconds,
		&deadline,
		&session.ChatEnabled,
		&session.AllowPrivateChat,
		&session.SnapshotJSON,
		&snapshotAt,
		&lastActivity,
		&createdAt,
		&updatedAt,
	); err != nil {
		return domain.Session{}, err
	}

	order, err := decodeOrder(orderJSON)
	if err != nil {
		return domain.Session{}, err
	}
	session.Status = domain.Status(status)
	session.InitiativeOrder = order
	session.CurrentTurnDeadline = fromNullMillis(deadline)
	session.SnapshotAt = fromMillis(snapshotAt)
	session.LastActivity = fromMillis(lastActivity)
	session.CreatedAt = fromMillis(createdAt)
	session.UpdatedAt = fromMillis(updatedAt)
	return session, nil
}
