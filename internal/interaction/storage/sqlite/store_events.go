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

const eventColumns = `
	session_id,
	seq,
	id,
	type,
	timestamp,
	actor_type,
	actor_id,
	entity_id,
	session_label,
	payload_json,
	superseded_at`

// AppendEvent assigns the next per-session seq and persists the event.
func (s *Store) AppendEvent(ctx context.Context, event domain.Event) (domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return domain.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Event{}, fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, fmt.Errorf("start append transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	appended, err := appendEventExec(ctx, tx, event)
	if err != nil {
		return domain.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Event{}, fmt.Errorf("commit append transaction: %w", err)
	}
	return appended, nil
}

// appendEventExec writes one journal entry with the next seq. Callers must
// hold a transaction: the MAX(seq)+1 read and the insert race otherwise.
func appendEventExec(ctx context.Context, db execer, event domain.Event) (domain.Event, error) {
	if strings.TrimSpace(event.SessionID) == "" {
		return domain.Event{}, fmt.Errorf("event session id is required")
	}
	if strings.TrimSpace(event.ID) == "" {
		return domain.Event{}, fmt.Errorf("event id is required")
	}

	row := db.QueryRowContext(ctx, `
SELECT COALESCE(MAX(seq), 0) + 1
FROM interaction_events
WHERE session_id = ?
`, event.SessionID)
	if err := row.Scan(&event.Seq); err != nil {
		return domain.Event{}, fmt.Errorf("next event seq: %w", err)
	}

	_, err := db.ExecContext(ctx, `
INSERT INTO interaction_events (`+eventColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		event.SessionID,
		event.Seq,
		event.ID,
		string(event.Type),
		toMillis(event.Timestamp),
		string(event.ActorType),
		event.ActorID,
		event.EntityID,
		event.SessionLabel,
		event.PayloadJSON,
		toNullMillis(event.SupersededAt),
	)
	if err != nil {
		return domain.Event{}, fmt.Errorf("append event: %w", err)
	}
	return event, nil
}

// ListEvents returns events after afterSeq in seq order. Zero or negative
// limit means no limit.
func (s *Store) ListEvents(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	query := `
SELECT` + eventColumns + `
FROM interaction_events
WHERE session_id = ? AND seq > ?
ORDER BY seq ASC
`
	args := []any{sessionID, afterSeq}
	if limit > 0 {
		query += "LIMIT ?\n"
		args = append(args, limit)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		event, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// FindLatestEvent returns the newest non-superseded event of one type within
// a session label.
func (s *Store) FindLatestEvent(ctx context.Context, sessionID, sessionLabel string, eventType domain.EventType) (domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return domain.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Event{}, fmt.Errorf("storage is not configured")
	}

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Event{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT`+eventColumns+`
FROM interaction_events
WHERE session_id = ? AND session_label = ? AND type = ? AND superseded_at IS NULL
ORDER BY seq DESC
LIMIT 1
`, sessionID, strings.TrimSpace(sessionLabel), string(eventType))
	event, err := scanEvent(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Event{}, storage.ErrNotFound
		}
		return domain.Event{}, fmt.Errorf("find latest event: %w", err)
	}
	return event, nil
}

// LastEventSeq returns the highest seq assigned for a session.
func (s *Store) LastEventSeq(ctx context.Context, sessionID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return 0, fmt.Errorf("session id is required")
	}

	var seq int64
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT COALESCE(MAX(seq), 0)
FROM interaction_events
WHERE session_id = ?
`, sessionID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("last event seq: %w", err)
	}
	return seq, nil
}

func scanEvent(scan func(...any) error) (domain.Event, error) {
	var (
		event        domain.Event
		eventType    string
		timestamp    int64
		actorType    string
		supersededAt sql.NullInt64
	)
	if err := scan(
		&event.SessionID,
		&event.Seq,
		&event.ID,
		&eventType,
		&timestamp,
		&actorType,
		&event.ActorID,
		&event.EntityID,
		&event.SessionLabel,
		&event.PayloadJSON,
		&supersededAt,
	); err != nil {
		return domain.Event{}, err
	}
	event.Type = domain.EventType(eventType)
	event.Timestamp = fromMillis(timestamp)
	event.ActorType = domain.ActorType(actorType)
	event.SupersededAt = fromNullMillis(supersededAt)
	return event, nil
}
