package domain

import (
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/torchlit/gametable/internal/platform/errors"
)

// EntityType identifies the kind of combatant occupying an initiative slot.
type EntityType string

const (
	// EntityTypeCharacter is a player character.
	EntityTypeCharacter EntityType = "character"
	// EntityTypeNPC is a non-player character.
	EntityTypeNPC EntityType = "npc"
	// EntityTypeMonster is an adversary.
	EntityTypeMonster EntityType = "monster"
)

// IsValid reports whether the entity type is supported.
func (t EntityType) IsValid() bool {
	switch t {
	case EntityTypeCharacter, EntityTypeNPC, EntityTypeMonster:
		return true
	default:
		return false
	}
}

// InitiativeEntry is one slot in the turn order.
type InitiativeEntry struct {
	EntityID          string     `json:"entity_id"`
	EntityType        EntityType `json:"entity_type"`
	InitiativeRoll    int        `json:"initiative_roll"`
	DexterityModifier int        `json:"dexterity_modifier"`
}

// NormalizeOrder validates and orders initiative entries: roll descending,
// ties broken by dexterity modifier descending, stable otherwise. The
// resulting sequence is fixed for the lifetime of the live session; play
// never re-sorts it.
func NormalizeOrder(entries []InitiativeEntry) ([]InitiativeEntry, error) {
	if len(entries) == 0 {
		return nil, apperrors.New(apperrors.CodeInitiativeOrderEmpty, "initiative order must not be empty")
	}

	normalized := make([]InitiativeEntry, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		entry.EntityID = strings.TrimSpace(entry.EntityID)
		if entry.EntityID == "" {
			return nil, apperrors.New(apperrors.CodeInitiativeEntryInvalid, "initiative entry entity id is required")
		}
		if !entry.EntityType.IsValid() {
			return nil, apperrors.WithMetadata(apperrors.CodeInitiativeEntryInvalid,
				"initiative entry entity type is invalid",
				map[string]string{"entity_id": entry.EntityID})
		}
		if _, dup := seen[entry.EntityID]; dup {
			return nil, apperrors.WithMetadata(apperrors.CodeInitiativeEntryInvalid,
				"initiative entry entity id is duplicated",
				map[string]string{"entity_id": entry.EntityID})
		}
		seen[entry.EntityID] = struct{}{}
		normalized = append(normalized, entry)
	}

	sort.SliceStable(normalized, func(i, j int) bool {
		if normalized[i].InitiativeRoll != normalized[j].InitiativeRoll {
			return normalized[i].InitiativeRoll > normalized[j].InitiativeRoll
		}
		return normalized[i].DexterityModifier > normalized[j].DexterityModifier
	})
	return normalized, nil
}

// Advance moves the turn pointer to the next initiative slot. A wrap from
// the last slot back to the first increments the round. The new turn
// deadline is armed from the session's turn time limit.
func (s Session) Advance(now time.Time) (Session, bool) {
	if len(s.InitiativeOrder) == 0 {
		return s, false
	}
	now = now.UTC()
	wrapped := false
	s.CurrentInitiativeIndex++
	if s.CurrentInitiativeIndex >= len(s.InitiativeOrder) {
		s.CurrentInitiativeIndex = 0
		s.RoundNumber++
		wrapped = true
	}
	s.TurnNumber++
	s.CurrentTurnDeadline = deadlineAfter(now, s.TurnTimeLimitSeconds)
	s.LastActivity = now
	s.UpdatedAt = now
	return s, wrapped
}

// WithInitiativeOrder replaces the turn order outright, e.g. for a
// late-joining combatant. The currently active entity keeps its active slot
// by being re-located in the new order; if it is no longer present the
// pointer hands off to the start of the round.
func (s Session) WithInitiativeOrder(newOrder []InitiativeEntry, now time.Time) (Session, error) {
	normalized, err := NormalizeOrder(newOrder)
	if err != nil {
		return Session{}, err
	}

	activeID := ""
	if active, ok := s.ActiveEntry(); ok {
		activeID = active.EntityID
	}

	now = now.UTC()
	s.InitiativeOrder = normalized
	s.CurrentInitiativeIndex = 0
	for i, entry := range normalized {
		if entry.EntityID == activeID {
			s.CurrentInitiativeIndex = i
			break
		}
	}
	s.LastActivity = now
	s.UpdatedAt = now
	return s, nil
}

// RollbackPointer restores the turn pointer and round counter to the values
// recorded by the turn immediately preceding targetTurnNumber. prior is the
// turn record for targetTurnNumber-1, or nil when rolling back to the very
// first turn of the session.
func (s Session) RollbackPointer(targetTurnNumber int, prior *TurnRecord, now time.Time) (Session, error) {
	if targetTurnNumber < 1 {
		return Session{}, apperrors.New(apperrors.CodeRollbackTargetInvalid, "rollback target turn must be positive")
	}
	if targetTurnNumber > s.TurnNumber+1 {
		return Session{}, apperrors.WithMetadata(apperrors.CodeRollbackTargetInvalid,
			"rollback target turn is in the future",
			map[string]string{"turn": strconv.Itoa(targetTurnNumber)})
	}

	now = now.UTC()
	if prior == nil {
		// Rolling back to turn 1 restores session-start pointer state.
		s.CurrentInitiativeIndex = 0
		s.RoundNumber = 1
		s.TurnNumber = 0
	} else {
		idx := s.indexOfEntity(prior.EntityID)
		if idx < 0 {
			return Session{}, apperrors.WithMetadata(apperrors.CodeRollbackTargetNotFound,
				"prior turn entity is no longer in the initiative order",
				map[string]string{"entity_id": prior.EntityID})
		}
		// The prior turn closed with the pointer on the slot after it.
		next := idx + 1
		round := prior.RoundNumber
		if next >= len(s.InitiativeOrder) {
			next = 0
			round++
		}
		s.CurrentInitiativeIndex = next
		s.RoundNumber = round
		s.TurnNumber = prior.TurnNumber
	}
	s.CurrentTurnDeadline = deadlineAfter(now, s.TurnTimeLimitSeconds)
	s.LastActivity = now
	s.UpdatedAt = now
	return s, nil
}

func (s Session) indexOfEntity(entityID string) int {
	for i, entry := range s.InitiativeOrder {
		if entry.EntityID == entityID {
			return i
		}
	}
	return -1
}
