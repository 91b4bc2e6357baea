package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/torchlit/gametable/internal/interaction/storage"
)

// ApplyBatch runs every operation in one transaction. Operations apply in
// order; any failure rolls the whole batch back. The returned seq is the
// highest journal seq assigned during the batch, zero when no events were
// appended.
func (s *Store) ApplyBatch(ctx context.Context, ops []storage.Operation) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if len(ops) == 0 {
		return 0, fmt.Errorf("batch is empty")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("start batch transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var lastSeq int64
	for i, op := range ops {
		switch {
		case op.PutSession != nil:
			if err := putSessionExec(ctx, tx, *op.PutSession); err != nil {
				return 0, fmt.Errorf("batch op %d: %w", i, err)
			}

		case op.AppendEvent != nil:
			appended, err := appendEventExec(ctx, tx, *op.AppendEvent)
			if err != nil {
				return 0, fmt.Errorf("batch op %d: %w", i, err)
			}
			lastSeq = appended.Seq

		case op.PutTurnRecord != nil:
			record := *op.PutTurnRecord
			if record.ClosedEventSeq == 0 {
				record.ClosedEventSeq = lastSeq
			}
			if err := putTurnRecordExec(ctx, tx, record); err != nil {
				return 0, fmt.Errorf("batch op %d: %w", i, err)
			}

		case op.PutParticipant != nil:
			if err := putParticipantExec(ctx, tx, *op.PutParticipant); err != nil {
				return 0, fmt.Errorf("batch op %d: %w", i, err)
			}

		case op.PutConnection != nil:
			if err := putConnectionExec(ctx, tx, *op.PutConnection); err != nil {
				return 0, fmt.Errorf("batch op %d: %w", i, err)
			}

		case op.DeleteConnection != nil:
			if err := deleteConnectionExec(ctx, tx, op.DeleteConnection.ID); err != nil {
				return 0, fmt.Errorf("batch op %d: %w", i, err)
			}

		case op.ClearParticipants != nil:
			sessionID := strings.TrimSpace(op.ClearParticipants.SessionID)
			if sessionID == "" {
				return 0, fmt.Errorf("batch op %d: session id is required", i)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM interaction_participants WHERE session_id = ?`, sessionID); err != nil {
				return 0, fmt.Errorf("batch op %d: clear participants: %w", i, err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM interaction_connections WHERE session_id = ?`, sessionID); err != nil {
				return 0, fmt.Errorf("batch op %d: clear connections: %w", i, err)
			}

		case op.SupersedeAfter != nil:
			if err := supersedeAfterExec(ctx, tx, *op.SupersedeAfter); err != nil {
				return 0, fmt.Errorf("batch op %d: %w", i, err)
			}

		default:
			return 0, fmt.Errorf("batch op %d: no operation set", i)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch transaction: %w", err)
	}
	return lastSeq, nil
}

func supersedeAfterExec(ctx context.Context, db execer, op storage.SupersedeAfter) error {
	sessionID := strings.TrimSpace(op.SessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	at := toMillis(op.At)

	if _, err := db.ExecContext(ctx, `
UPDATE interaction_turns
SET superseded_at = ?
WHERE session_id = ? AND turn_number >= ? AND superseded_at IS NULL
`, at, sessionID, op.FromTurnNumber); err != nil {
		return fmt.Errorf("supersede turn records: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
UPDATE interaction_events
SET superseded_at = ?
WHERE session_id = ? AND seq > ? AND superseded_at IS NULL
`, at, sessionID, op.FromEventSeq); err != nil {
		return fmt.Errorf("supersede events: %w", err)
	}
	return nil
}
