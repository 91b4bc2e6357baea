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

const participantColumns = `
	session_id,
	entity_id,
	entity_type,
	user_id,
	display_name,
	current_hp,
	max_hp,
	pos_x,
	pos_y,
	conditions_json,
	inventory_json,
	actions_json,
	turn_status,
	connected,
	last_seen,
	joined_at,
	updated_at`

// PutParticipant persists combat state for one entity, replacing any
// existing row.
func (s *Store) PutParticipant(ctx context.Context, participant domain.Participant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return putParticipantExec(ctx, s.sqlDB, participant)
}

func putParticipantExec(ctx context.Context, db execer, participant domain.Participant) error {
	if strings.TrimSpace(participant.SessionID) == "" || strings.TrimSpace(participant.EntityID) == "" {
		return fmt.Errorf("participant session id and entity id are required")
	}
	conditionsJSON, err := encodeJSON(participant.Conditions)
	if err != nil {
		return err
	}
	actionsJSON, err := encodeJSON(participant.AvailableActions)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
INSERT INTO interaction_participants (`+participantColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id, entity_id) DO UPDATE SET
	entity_type = excluded.entity_type,
	user_id = excluded.user_id,
	display_name = excluded.display_name,
	current_hp = excluded.current_hp,
	max_hp = excluded.max_hp,
	pos_x = excluded.pos_x,
	pos_y = excluded.pos_y,
	conditions_json = excluded.conditions_json,
	inventory_json = excluded.inventory_json,
	actions_json = excluded.actions_json,
	turn_status = excluded.turn_status,
	connected = excluded.connected,
	last_seen = excluded.last_seen,
	updated_at = excluded.updated_at
`,
		participant.SessionID,
		participant.EntityID,
		string(participant.EntityType),
		participant.UserID,
		participant.DisplayName,
		participant.CurrentHP,
		participant.MaxHP,
		participant.Position.X,
		participant.Position.Y,
		conditionsJSON,
		[]byte(participant.InventoryJSON),
		actionsJSON,
		string(participant.TurnStatus),
		participant.Connected,
		toMillis(participant.LastSeen),
		toMillis(participant.JoinedAt),
		toMillis(participant.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put participant: %w", err)
	}
	return nil
}

// GetParticipant returns one entity's combat state.
func (s *Store) GetParticipant(ctx context.Context, sessionID, entityID string) (domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return domain.Participant{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Participant{}, fmt.Errorf("storage is not configured")
	}

	sessionID = strings.TrimSpace(sessionID)
	entityID = strings.TrimSpace(entityID)
	if sessionID == "" || entityID == "" {
		return domain.Participant{}, fmt.Errorf("session id and entity id are required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT`+participantColumns+`
FROM interaction_participants
WHERE session_id = ? AND entity_id = ?
`, sessionID, entityID)
	participant, err := scanParticipant(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Participant{}, storage.ErrNotFound
		}
		return domain.Participant{}, fmt.Errorf("get participant: %w", err)
	}
	return participant, nil
}

// ListParticipants returns a session's participants in join order.
func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
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
SELECT`+participantColumns+`
FROM interaction_participants
WHERE session_id = ?
ORDER BY joined_at ASC, entity_id ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var participants []domain.Participant
	for rows.Next() {
		participant, err := scanParticipant(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, participant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return participants, nil
}

func scanParticipant(scan func(...any) error) (domain.Participant, error) {
	var (
		participant    domain.Participant
		entityType     string
		conditionsJSON string
		inventory      []byte
		actionsJSON    string
		turnStatus     string
		lastSeen       int64
		joinedAt       int64
		updatedAt      int64
	)
	if err := scan(
		&participant.SessionID,
		&participant.EntityID,
		&entityType,
		&participant.UserID,
		&participant.DisplayName,
		&participant.CurrentHP,
		&participant.MaxHP,
		&participant.Position.X,
		&participant.Position.Y,
		&conditionsJSON,
		&inventory,
		&actionsJSON,
		&turnStatus,
		&participant.Connected,
		&lastSeen,
		&joinedAt,
		&updatedAt,
	); err != nil {
		return domain.Participant{}, err
	}

	conditions, err := decodeStrings(conditionsJSON)
	if err != nil {
		return domain.Participant{}, err
	}
	actions, err := decodeCapabilities(actionsJSON)
	if err != nil {
		return domain.Participant{}, err
	}
	participant.EntityType = domain.EntityType(entityType)
	participant.Conditions = conditions
	participant.InventoryJSON = inventory
	participant.AvailableActions = actions
	participant.TurnStatus = domain.TurnStatus(turnStatus)
	participant.LastSeen = fromMillis(lastSeen)
	participant.JoinedAt = fromMillis(joinedAt)
	participant.UpdatedAt = fromMillis(updatedAt)
	return participant, nil
}
