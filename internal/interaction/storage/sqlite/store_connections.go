package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/torchlit/gametable/internal/interaction/storage"
)

// PutConnection persists one live connection record, replacing any existing
// row with the same ID.
func (s *Store) PutConnection(ctx context.Context, record storage.ConnectionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return putConnectionExec(ctx, s.sqlDB, record)
}

func putConnectionExec(ctx context.Context, db execer, record storage.ConnectionRecord) error {
	if strings.TrimSpace(record.ID) == "" || strings.TrimSpace(record.SessionID) == "" {
		return fmt.Errorf("connection id and session id are required")
	}

	_, err := db.ExecContext(ctx, `
INSERT INTO interaction_connections (
	id,
	session_id,
	user_id,
	entity_id,
	connected_at,
	last_seen
)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	session_id = excluded.session_id,
	user_id = excluded.user_id,
	entity_id = excluded.entity_id,
	last_seen = excluded.last_seen
`,
		record.ID,
		record.SessionID,
		record.UserID,
		record.EntityID,
		toMillis(record.ConnectedAt),
		toMillis(record.LastSeen),
	)
	if err != nil {
		return fmt.Errorf("put connection: %w", err)
	}
	return nil
}

// DeleteConnection removes one connection record. Deleting a missing record
// is not an error.
func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return deleteConnectionExec(ctx, s.sqlDB, id)
}

func deleteConnectionExec(ctx context.Context, db execer, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("connection id is required")
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM interaction_connections WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return nil
}

// ListConnections returns a session's live connections in connect order.
func (s *Store) ListConnections(ctx context.Context, sessionID string) ([]storage.ConnectionRecord, error) {
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

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT
	id,
	session_id,
	user_id,
	entity_id,
	connected_at,
	last_seen
FROM interaction_connections
WHERE session_id = ?
ORDER BY connected_at ASC, id ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var records []storage.ConnectionRecord
	for rows.Next() {
		var (
			record      storage.ConnectionRecord
			connectedAt int64
			lastSeen    int64
		)
		if err := rows.Scan(
			&record.ID,
			&record.SessionID,
			&record.UserID,
			&record.EntityID,
			&connectedAt,
			&lastSeen,
		); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		record.ConnectedAt = fromMillis(connectedAt)
		record.LastSeen = fromMillis(lastSeen)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}
	return records, nil
}
