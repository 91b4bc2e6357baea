package domain

import (
	"strings"
	"time"

	apperrors "github.com/torchlit/gametable/internal/platform/errors"
	"github.com/torchlit/gametable/internal/platform/id"
)

// EventType identifies one kind of session journal entry. The set is closed;
// unknown types are rejected at append time.
type EventType string

const (
	EventInteractionInitialized   EventType = "interaction.initialized"
	EventInteractionPaused        EventType = "interaction.paused"
	EventInteractionResumed       EventType = "interaction.resumed"
	EventInteractionCompleted     EventType = "interaction.completed"
	EventInteractionStatusChanged EventType = "interaction.status_changed"

	EventTurnTaken      EventType = "turn.taken"
	EventTurnSkipped    EventType = "turn.skipped"
	EventTurnTimedOut   EventType = "turn.timed_out"
	EventTurnRolledBack EventType = "turn.rolled_back"

	EventInitiativeUpdated EventType = "initiative.updated"

	EventParticipantJoined  EventType = "participant.joined"
	EventParticipantLeft    EventType = "participant.left"
	EventParticipantUpdated EventType = "participant.updated"
)

// IsValid reports whether the event type belongs to the closed set.
func (t EventType) IsValid() bool {
	switch t {
	case EventInteractionInitialized, EventInteractionPaused, EventInteractionResumed,
		EventInteractionCompleted, EventInteractionStatusChanged,
		EventTurnTaken, EventTurnSkipped, EventTurnTimedOut, EventTurnRolledBack,
		EventInitiativeUpdated,
		EventParticipantJoined, EventParticipantLeft, EventParticipantUpdated:
		return true
	default:
		return false
	}
}

// ActorType identifies who caused an event.
type ActorType string

const (
	// ActorSystem marks events the engine emits on its own, e.g. timeouts.
	ActorSystem ActorType = "system"
	// ActorPlayer marks events caused by a participant's controller.
	ActorPlayer ActorType = "player"
	// ActorDM marks events caused by the DM of record.
	ActorDM ActorType = "dm"
)

// IsValid reports whether the actor type is known.
func (t ActorType) IsValid() bool {
	switch t {
	case ActorSystem, ActorPlayer, ActorDM:
		return true
	default:
		return false
	}
}

// Event is one immutable entry in a session's journal. Seq is assigned by
// the store at append time and is strictly increasing per session; events
// are never mutated after the fact except for the SupersededAt rollback
// stamp.
type Event struct {
	ID        string
	SessionID string
	// Seq orders events within a session. Zero until the store assigns it.
	Seq int64

	Type      EventType
	Timestamp time.Time

	ActorType ActorType
	// ActorID is the user behind the event, empty for system events.
	ActorID string
	// EntityID is the combatant the event concerns, when there is one.
	EntityID string

	// SessionLabel groups entries from one live-room incarnation so a
	// recovered session's journal reads as distinct runs.
	SessionLabel string

	PayloadJSON []byte

	// SupersededAt is set when a rollback invalidates this entry.
	SupersededAt *time.Time
}

// Superseded reports whether a rollback has invalidated this event.
func (e Event) Superseded() bool {
	return e.SupersededAt != nil
}

// NewEventInput carries the caller-supplied fields for a journal entry.
type NewEventInput struct {
	SessionID    string
	Type         EventType
	ActorType    ActorType
	ActorID      string
	EntityID     string
	SessionLabel string
	PayloadJSON  []byte
}

// NewEvent validates and builds a journal entry. Seq stays zero until the
// store assigns it inside the append transaction.
func NewEvent(input NewEventInput, now func() time.Time, idGenerator func() (string, error)) (Event, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	input.SessionID = strings.TrimSpace(input.SessionID)
	if input.SessionID == "" {
		return Event{}, apperrors.New(apperrors.CodeSessionEmptyID, "session id is required")
	}
	if !input.Type.IsValid() {
		return Event{}, apperrors.WithMetadata(apperrors.CodeEventInvalidType,
			"event type is not recognized",
			map[string]string{"type": string(input.Type)})
	}
	if !input.ActorType.IsValid() {
		return Event{}, apperrors.WithMetadata(apperrors.CodeEventInvalidType,
			"event actor type is not recognized",
			map[string]string{"actor_type": string(input.ActorType)})
	}

	eventID, err := idGenerator()
	if err != nil {
		return Event{}, err
	}

	return Event{
		ID:           eventID,
		SessionID:    input.SessionID,
		Type:         input.Type,
		Timestamp:    now().UTC(),
		ActorType:    input.ActorType,
		ActorID:      strings.TrimSpace(input.ActorID),
		EntityID:     strings.TrimSpace(input.EntityID),
		SessionLabel: strings.TrimSpace(input.SessionLabel),
		PayloadJSON:  input.PayloadJSON,
	}, nil
}
