package domain

import (
	"strconv"
	"strings"
	"time"

	apperrors "github.com/torchlit/gametable/internal/platform/errors"
	"github.com/torchlit/gametable/internal/platform/id"
)

// TurnOutcome describes how a turn record was closed.
type TurnOutcome string

const (
	// TurnCompleted means the acting participant declared actions and ended
	// the turn itself.
	TurnCompleted TurnOutcome = "completed"
	// TurnSkipped means the DM or the acting participant passed the turn
	// without acting.
	TurnSkipped TurnOutcome = "skipped"
	// TurnTimedOut means the turn deadline lapsed and the system closed the
	// turn.
	TurnTimedOut TurnOutcome = "timed_out"
)

// IsValid reports whether the outcome is a known terminal turn state.
func (o TurnOutcome) IsValid() bool {
	switch o {
	case TurnCompleted, TurnSkipped, TurnTimedOut:
		return true
	default:
		return false
	}
}

// TurnRecord is the durable record of one closed turn. Records are immutable
// once written; rollback stamps SupersededAt instead of deleting, so turn
// numbers stay dense within the non-superseded set.
type TurnRecord struct {
	ID        string
	SessionID string

	EntityID   string
	EntityType EntityType
	// UserID is the account that closed the turn, empty for system timeouts.
	UserID string

	TurnNumber  int
	RoundNumber int
	Outcome     TurnOutcome

	// ActionsJSON holds the declared actions for the turn, encoded as a
	// DeclaredAction list. Empty for skipped and timed-out turns.
	ActionsJSON []byte

	// ClosedEventSeq is the journal seq of the event that closed this turn.
	// Rollback supersedes everything after the prior turn's closing event.
	// Assigned by the store when the record and its event commit together.
	ClosedEventSeq int64

	StartedAt time.Time
	EndedAt   time.Time

	// SupersededAt is set when a rollback invalidates this record.
	SupersededAt *time.Time
}

// Superseded reports whether a rollback has invalidated this record.
func (r TurnRecord) Superseded() bool {
	return r.SupersededAt != nil
}

// NewTurnRecordInput carries the fields the turn engine supplies when closing
// a turn. ID generation and timestamps come from the caller's injected
// helpers.
type NewTurnRecordInput struct {
	SessionID   string
	EntityID    string
	EntityType  EntityType
	UserID      string
	TurnNumber  int
	RoundNumber int
	Outcome     TurnOutcome
	ActionsJSON []byte
	StartedAt   time.Time
}

// NewTurnRecord validates and builds a closed turn record.
func NewTurnRecord(input NewTurnRecordInput, now func() time.Time, idGenerator func() (string, error)) (TurnRecord, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	input.SessionID = strings.TrimSpace(input.SessionID)
	if input.SessionID == "" {
		return TurnRecord{}, apperrors.New(apperrors.CodeSessionEmptyID, "session id is required")
	}
	input.EntityID = strings.TrimSpace(input.EntityID)
	if input.EntityID == "" {
		return TurnRecord{}, apperrors.New(apperrors.CodeParticipantEmptyEntity, "turn record entity id is required")
	}
	if !input.EntityType.IsValid() {
		return TurnRecord{}, apperrors.WithMetadata(apperrors.CodeParticipantInvalidType,
			"turn record entity type is invalid",
			map[string]string{"entity_type": string(input.EntityType)})
	}
	if input.TurnNumber < 1 {
		return TurnRecord{}, apperrors.WithMetadata(apperrors.CodeTurnRecordInvalidNumber,
			"turn number must be positive",
			map[string]string{"turn": strconv.Itoa(input.TurnNumber)})
	}
	if input.RoundNumber < 1 {
		return TurnRecord{}, apperrors.WithMetadata(apperrors.CodeTurnRecordInvalidNumber,
			"round number must be positive",
			map[string]string{"round": strconv.Itoa(input.RoundNumber)})
	}
	if !input.Outcome.IsValid() {
		return TurnRecord{}, apperrors.WithMetadata(apperrors.CodeTurnRecordInvalidNumber,
			"turn outcome is invalid",
			map[string]string{"outcome": string(input.Outcome)})
	}

	recordID, err := idGenerator()
	if err != nil {
		return TurnRecord{}, err
	}

	endedAt := now().UTC()
	startedAt := input.StartedAt.UTC()
	if startedAt.IsZero() || startedAt.After(endedAt) {
		startedAt = endedAt
	}

	return TurnRecord{
		ID:          recordID,
		SessionID:   input.SessionID,
		EntityID:    input.EntityID,
		EntityType:  input.EntityType,
		UserID:      strings.TrimSpace(input.UserID),
		TurnNumber:  input.TurnNumber,
		RoundNumber: input.RoundNumber,
		Outcome:     input.Outcome,
		ActionsJSON: input.ActionsJSON,
		StartedAt:   startedAt,
		EndedAt:     endedAt,
	}, nil
}
