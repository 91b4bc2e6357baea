package domain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/torchlit/gametable/internal/platform/errors"
)

// TurnStatus marks whether a participant currently holds the turn.
type TurnStatus string

const (
	// TurnStatusActive means the initiative pointer rests on this entity.
	TurnStatusActive TurnStatus = "active"
	// TurnStatusWaiting means the entity is in the order but not acting.
	TurnStatusWaiting TurnStatus = "waiting"
)

// Position is a grid location on the encounter map.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ActionCapability describes one action an entity could take and whether it
// is currently usable. Unavailable capabilities list the unmet requirements
// so clients can explain the greyed-out option.
type ActionCapability struct {
	Name              string   `json:"name"`
	Available         bool     `json:"available"`
	UnmetRequirements []string `json:"unmet_requirements,omitempty"`
}

// DeclaredAction is one action a participant declares when taking a turn.
type DeclaredAction struct {
	Name           string `json:"name"`
	TargetEntityID string `json:"target_entity_id,omitempty"`
	// Detail carries action-specific data the engine does not interpret,
	// e.g. a spell slot level or a weapon id.
	Detail map[string]string `json:"detail,omitempty"`
}

// Participant tracks the live combat state of one entity in a session. This
// state is scoped to the encounter and independent of any persistent
// character sheet.
type Participant struct {
	SessionID  string     `json:"session_id"`
	EntityID   string     `json:"entity_id"`
	EntityType EntityType `json:"entity_type"`
	// UserID is the controlling account, empty for DM-run entities.
	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`

	CurrentHP int `json:"current_hp"`
	MaxHP     int `json:"max_hp"`

	Position   Position `json:"position"`
	Conditions []string `json:"conditions,omitempty"`

	// InventoryJSON is an opaque inventory view supplied by the caller.
	InventoryJSON json.RawMessage `json:"inventory,omitempty"`

	// AvailableActions is the capability list used to validate declared
	// actions. Refreshed by state updates as the encounter evolves.
	AvailableActions []ActionCapability `json:"available_actions,omitempty"`

	TurnStatus TurnStatus `json:"turn_status"`

	Connected bool      `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`

	JoinedAt  time.Time `json:"joined_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JoinParticipantInput carries the fields needed to admit an entity into a
// live session.
type JoinParticipantInput struct {
	SessionID        string
	EntityID         string
	EntityType       EntityType
	UserID           string
	DisplayName      string
	CurrentHP        int
	MaxHP            int
	Position         Position
	Conditions       []string
	InventoryJSON    []byte
	AvailableActions []ActionCapability
}

// JoinParticipant validates and builds the initial combat state for an
// entity entering the encounter.
func JoinParticipant(input JoinParticipantInput, now func() time.Time) (Participant, error) {
	if now == nil {
		now = time.Now
	}

	input.SessionID = strings.TrimSpace(input.SessionID)
	if input.SessionID == "" {
		return Participant{}, apperrors.New(apperrors.CodeSessionEmptyID, "session id is required")
	}
	input.EntityID = strings.TrimSpace(input.EntityID)
	if input.EntityID == "" {
		return Participant{}, apperrors.New(apperrors.CodeParticipantEmptyEntity, "participant entity id is required")
	}
	if !input.EntityType.IsValid() {
		return Participant{}, apperrors.WithMetadata(apperrors.CodeParticipantInvalidType,
			"participant entity type is invalid",
			map[string]string{"entity_type": string(input.EntityType)})
	}
	if input.MaxHP < 0 || input.CurrentHP < 0 || input.CurrentHP > input.MaxHP {
		return Participant{}, apperrors.WithMetadata(apperrors.CodeParticipantInvalidHP,
			"participant hit points are out of range",
			map[string]string{
				"current_hp": strconv.Itoa(input.CurrentHP),
				"max_hp":     strconv.Itoa(input.MaxHP),
			})
	}

	joinedAt := now().UTC()
	return Participant{
		SessionID:        input.SessionID,
		EntityID:         input.EntityID,
		EntityType:       input.EntityType,
		UserID:           strings.TrimSpace(input.UserID),
		DisplayName:      strings.TrimSpace(input.DisplayName),
		CurrentHP:        input.CurrentHP,
		MaxHP:            input.MaxHP,
		Position:         input.Position,
		Conditions:       normalizeConditions(input.Conditions),
		InventoryJSON:    input.InventoryJSON,
		AvailableActions: input.AvailableActions,
		TurnStatus:       TurnStatusWaiting,
		Connected:        true,
		LastSeen:         joinedAt,
		JoinedAt:         joinedAt,
		UpdatedAt:        joinedAt,
	}, nil
}

// StateUpdate is a partial update to a participant's combat state. Nil
// pointer fields leave the current value unchanged; a non-nil empty slice
// clears the corresponding list.
type StateUpdate struct {
	CurrentHP        *int
	MaxHP            *int
	Position         *Position
	Conditions       *[]string
	InventoryJSON    []byte
	AvailableActions *[]ActionCapability
}

// ApplyState merges a partial state update into the participant.
func (p Participant) ApplyState(update StateUpdate, now time.Time) (Participant, error) {
	if update.CurrentHP != nil {
		p.CurrentHP = *update.CurrentHP
	}
	if update.MaxHP != nil {
		p.MaxHP = *update.MaxHP
	}
	if p.MaxHP < 0 || p.CurrentHP < 0 || p.CurrentHP > p.MaxHP {
		return Participant{}, apperrors.WithMetadata(apperrors.CodeParticipantInvalidHP,
			"participant hit points are out of range",
			map[string]string{
				"current_hp": strconv.Itoa(p.CurrentHP),
				"max_hp":     strconv.Itoa(p.MaxHP),
			})
	}
	if update.Position != nil {
		p.Position = *update.Position
	}
	if update.Conditions != nil {
		p.Conditions = normalizeConditions(*update.Conditions)
	}
	if update.InventoryJSON != nil {
		p.InventoryJSON = update.InventoryJSON
	}
	if update.AvailableActions != nil {
		p.AvailableActions = *update.AvailableActions
	}
	p.UpdatedAt = now.UTC()
	return p, nil
}

// ValidateDeclaredActions checks each declared action against the
// participant's capability list. Declaring an unknown or unavailable action
// fails with the unmet requirements in the error metadata.
func (p Participant) ValidateDeclaredActions(actions []DeclaredAction) error {
	for _, action := range actions {
		name := strings.TrimSpace(action.Name)
		if name == "" {
			return apperrors.New(apperrors.CodeActionUnavailable, "declared action name is required")
		}
		capability, ok := p.findCapability(name)
		if !ok {
			return apperrors.WithMetadata(apperrors.CodeActionUnavailable,
				"declared action is not in the capability list",
				map[string]string{"action": name})
		}
		if !capability.Available {
			metadata := map[string]string{"action": name}
			if len(capability.UnmetRequirements) > 0 {
				metadata["unmet_requirements"] = strings.Join(capability.UnmetRequirements, ", ")
			}
			return apperrors.WithMetadata(apperrors.CodeActionUnavailable,
				"declared action is currently unavailable", metadata)
		}
	}
	return nil
}

func (p Participant) findCapability(name string) (ActionCapability, bool) {
	for _, capability := range p.AvailableActions {
		if capability.Name == name {
			return capability, true
		}
	}
	return ActionCapability{}, false
}

// WithPresence records a connect or disconnect without touching combat
// state. Disconnection does not remove the participant from the encounter.
func (p Participant) WithPresence(connected bool, now time.Time) Participant {
	now = now.UTC()
	p.Connected = connected
	p.LastSeen = now
	p.UpdatedAt = now
	return p
}

// WithTurnStatus marks whether the initiative pointer rests on this entity.
func (p Participant) WithTurnStatus(status TurnStatus, now time.Time) Participant {
	p.TurnStatus = status
	p.UpdatedAt = now.UTC()
	return p
}

func normalizeConditions(conditions []string) []string {
	if conditions == nil {
		return nil
	}
	out := make([]string, 0, len(conditions))
	seen := make(map[string]struct{}, len(conditions))
	for _, condition := range conditions {
		condition = strings.TrimSpace(strings.ToLower(condition))
		if condition == "" {
			continue
		}
		if _, dup := seen[condition]; dup {
			continue
		}
		seen[condition] = struct{}{}
		out = append(out, condition)
	}
	return out
}
