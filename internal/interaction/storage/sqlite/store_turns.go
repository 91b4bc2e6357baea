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

const turnColumns = `
	id,
	session_id,
	turn_number,
	round_number,
	entity_id,
	entity_type,
	user_id,
	outcome,
	actions_json,
	closed_event_seq,
	started_at,
	ended_at,
	superseded_at`

// PutTurnRecord persists one closed turn record. A non-superseded record
// with the same turn number already present fails with ErrConflict.
func (s *Store) PutTurnRecord(ctx context.Context, record domain.TurnRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return putTurnRecordExec(ctx, s.sqlDB, record)
}

func putTurnRecordExec(ctx context.Context, db execer, record domain.TurnRecord) error {
	if strings.TrimSpace(record.ID) == "" || strings.TrimSpace(record.SessionID) == "" {
		return fmt.Errorf("turn record id and session id are required")
	}

	_, err := db.ExecContext(ctx, `
INSERT INTO interaction_turns (`+turnColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		record.ID,
		record.SessionID,
		record.TurnNumber,
		record.RoundNumber,
		record.EntityID,
		string(record.EntityType),
		record.UserID,
		string(record.Outcome),
		record.ActionsJSON,
		record.ClosedEventSeq,
		toMillis(record.StartedAt),
		toMillis(record.EndedAt),
		toNullMillis(record.SupersededAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("put turn record: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}

// GetTurnRecord returns the non-superseded record for one turn number.
func (s *Store) GetTurnRecord(ctx context.Context, sessionID string, turnNumber int) (domain.TurnRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.TurnRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.TurnRecord{}, fmt.Errorf("storage is not configured")
	}

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.TurnRecord{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT`+turnColumns+`
FROM interaction_turns
WHERE session_id = ? AND turn_number = ? AND superseded_at IS NULL
`, sessionID, turnNumber)
	record, err := scanTurnRecord(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TurnRecord{}, storage.ErrNotFound
		}
		return domain.TurnRecord{}, fmt.Errorf("get turn record: %w", err)
	}
	return record, nil
}

// ListTurnRecords returns a session's turn records in turn order. Superseded
// records are excluded unless includeSuperseded is set.
func (s *Store) ListTurnRecords(ctx context.Context, sessionID string, includeSuperseded bool) ([]domain.TurnRecord, error) {
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
SELECT` + turnColumns + `
FROM interaction_turns
WHERE session_id = ?
`
	if !includeSuperseded {
		query += "AND superseded_at IS NULL\n"
	}
	query += "ORDER BY turn_number ASC, ended_at ASC\n"

	rows, err := s.sqlDB.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turn records: %w", err)
	}
	defer rows.Close()

	var records []domain.TurnRecord
	for rows.Next() {
		record, err := scanTurnRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan turn record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn records: %w", err)
	}
	return records, nil
}

func scanTurnRecord(scan func(...any) error) (domain.TurnRecord, error) {
	var (
		record       domain.TurnRecord
		entityType   string
		outcome      string
		startedAt    int64
		endedAt      int64
		supersededAt sql.NullInt64
	)
	if err := scan(
		&record.ID,
		&record.SessionID,
		&record.TurnNumber,
		&record.RoundNumber,
		&record.EntityID,
		&entityType,
		&record.UserID,
		&outcome,
		&record.ActionsJSON,
		&record.ClosedEventSeq,
		&startedAt,
		&endedAt,
		&supersededAt,
	); err != nil {
		return domain.TurnRecord{}, err
	}
	record.EntityType = domain.EntityType(entityType)
	record.Outcome = domain.TurnOutcome(outcome)
	record.StartedAt = fromMillis(startedAt)
	record.EndedAt = fromMillis(endedAt)
	record.SupersededAt = fromNullMillis(supersededAt)
	return record, nil
}
