package domain

import (
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/torchlit/gametable/internal/platform/errors"
)

// Event payloads are versioned JSON documents. Every payload carries a
// schema_version field so the journal stays readable after the shape
// evolves; readers reject versions they do not know.

// PayloadVersion is the schema version written by this build.
const PayloadVersion = 1

// InitializedPayload accompanies interaction.initialized.
type InitializedPayload struct {
	SchemaVersion        int               `json:"schema_version"`
	RoomID               string            `json:"room_id"`
	InitiativeOrder      []InitiativeEntry `json:"initiative_order"`
	TurnTimeLimitSeconds int               `json:"turn_time_limit_seconds,omitempty"`
	ChatEnabled          bool              `json:"chat_enabled"`
	AllowPrivateChat     bool              `json:"allow_private_chat"`
}

// StatusChangedPayload accompanies the lifecycle events: paused, resumed,
// completed, and status_changed.
type StatusChangedPayload struct {
	SchemaVersion int    `json:"schema_version"`
	From          Status `json:"from"`
	To            Status `json:"to"`
	Reason        string `json:"reason,omitempty"`
}

// TurnClosedPayload accompanies turn.taken, turn.skipped, and
// turn.timed_out.
type TurnClosedPayload struct {
	SchemaVersion int              `json:"schema_version"`
	TurnNumber    int              `json:"turn_number"`
	RoundNumber   int              `json:"round_number"`
	EntityID      string           `json:"entity_id"`
	EntityType    EntityType       `json:"entity_type"`
	Actions       []DeclaredAction `json:"actions,omitempty"`
	// NextEntityID is the entity the pointer advanced to, empty when the
	// session has no live order.
	NextEntityID string `json:"next_entity_id,omitempty"`
	NewRound     bool   `json:"new_round,omitempty"`
}

// RollbackPayload accompanies turn.rolled_back.
type RollbackPayload struct {
	SchemaVersion    int    `json:"schema_version"`
	TargetTurnNumber int    `json:"target_turn_number"`
	SupersededTurns  int    `json:"superseded_turns"`
	SupersededEvents int    `json:"superseded_events"`
	Reason           string `json:"reason,omitempty"`
}

// InitiativeUpdatedPayload accompanies initiative.updated.
type InitiativeUpdatedPayload struct {
	SchemaVersion  int               `json:"schema_version"`
	Order          []InitiativeEntry `json:"order"`
	ActiveEntityID string            `json:"active_entity_id,omitempty"`
}

// ParticipantPayload accompanies participant.joined, participant.left, and
// participant.updated.
type ParticipantPayload struct {
	SchemaVersion int        `json:"schema_version"`
	EntityID      string     `json:"entity_id"`
	EntityType    EntityType `json:"entity_type"`
	UserID        string     `json:"user_id,omitempty"`
	DisplayName   string     `json:"display_name,omitempty"`
	CurrentHP     int        `json:"current_hp"`
	MaxHP         int        `json:"max_hp"`
	Position      Position   `json:"position"`
	Conditions    []string   `json:"conditions,omitempty"`
}

// SnapshotDocument is the durable recovery state stored on the session. It
// is rewritten on every batch commit so a restarted process can rebuild the
// live room from the latest committed state.
type SnapshotDocument struct {
	SchemaVersion int `json:"schema_version"`

	SessionID    string    `json:"session_id"`
	SessionLabel string    `json:"session_label,omitempty"`
	Status       Status    `json:"status"`
	TakenAt      time.Time `json:"taken_at"`

	InitiativeOrder        []InitiativeEntry `json:"initiative_order,omitempty"`
	CurrentInitiativeIndex int               `json:"current_initiative_index"`
	RoundNumber            int               `json:"round_number"`
	TurnNumber             int               `json:"turn_number"`

	Participants []Participant `json:"participants,omitempty"`

	// LastEventSeq is the journal position the snapshot reflects.
	LastEventSeq int64 `json:"last_event_seq"`
}

// EncodePayload marshals a payload document after stamping the current
// schema version. It accepts any of the payload struct pointers above.
func EncodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case *InitializedPayload:
		p.SchemaVersion = PayloadVersion
	case *StatusChangedPayload:
		p.SchemaVersion = PayloadVersion
	case *TurnClosedPayload:
		p.SchemaVersion = PayloadVersion
	case *RollbackPayload:
		p.SchemaVersion = PayloadVersion
	case *InitiativeUpdatedPayload:
		p.SchemaVersion = PayloadVersion
	case *ParticipantPayload:
		p.SchemaVersion = PayloadVersion
	case *SnapshotDocument:
		p.SchemaVersion = PayloadVersion
	default:
		return nil, fmt.Errorf("unsupported payload type %T", payload)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// DecodePayload unmarshals a payload document into out, rejecting documents
// whose schema version this build does not understand.
func DecodePayload(data []byte, out any) error {
	var header struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return apperrors.Wrap(apperrors.CodeEventInvalidPayload, "payload is not valid json", err)
	}
	if header.SchemaVersion < 1 || header.SchemaVersion > PayloadVersion {
		return apperrors.WithMetadata(apperrors.CodeEventInvalidPayload,
			"payload schema version is not supported",
			map[string]string{"schema_version": fmt.Sprintf("%d", header.SchemaVersion)})
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.Wrap(apperrors.CodeEventInvalidPayload, "payload does not match the expected shape", err)
	}
	return nil
}
