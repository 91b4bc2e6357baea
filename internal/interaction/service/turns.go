package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/torchlit/gametable/internal/interaction/domain"
	"github.com/torchlit/gametable/internal/interaction/identity"
	"github.com/torchlit/gametable/internal/interaction/storage"
	apperrors "github.com/torchlit/gametable/internal/platform/errors"
)

// TakeTurnInput declares the acting entity's actions for its turn.
type TakeTurnInput struct {
	SessionID string
	EntityID  string
	Actions   []domain.DeclaredAction
}

// TakeTurn closes the active turn with declared actions and advances the
// pointer. Only the entity the pointer rests on may act, and only its
// controller or the DM may act for it.
func (s *Service) TakeTurn(ctx context.Context, principal identity.Principal, input TakeTurnInput) (domain.Session, error) {
	if err := s.ready(); err != nil {
		return domain.Session{}, err
	}
	ctx, span := s.tracer.Start(ctx, "interaction.TakeTurn")
	defer span.End()

	unlock := s.lockSession(input.SessionID)
	defer unlock()

	session, active, err := s.requireActiveTurn(ctx, input.SessionID, input.EntityID)
	if err != nil {
		return domain.Session{}, err
	}
	participant, err := s.loadParticipant(ctx, session.ID, active.EntityID)
	if err != nil {
		return domain.Session{}, err
	}
	if !identity.CanActFor(principal, session, participant) {
		return domain.Session{}, apperrors.WithMetadata(apperrors.CodePermissionDenied,
			"caller does not control the acting entity",
			map[string]string{"entity_id": active.EntityID})
	}
	if err := participant.ValidateDeclaredActions(input.Actions); err != nil {
		return domain.Session{}, err
	}

	return s.closeActiveTurn(ctx, session, active, closeTurn{
		outcome:   domain.TurnCompleted,
		actions:   input.Actions,
		eventType: domain.EventTurnTaken,
		actorType: actorFor(principal, session),
		actorID:   principal.UserID,
		userID:    principal.UserID,
	})
}

// SkipTurn closes the active turn without actions. The DM, the controller
// of the active entity, or any caller once the turn deadline lapsed may
// skip. A skip after the deadline closes the turn as timed out.
func (s *Service) SkipTurn(ctx context.Context, principal identity.Principal, sessionID string) (domain.Session, error) {
	if err := s.ready(); err != nil {
		return domain.Session{}, err
	}
	ctx, span := s.tracer.Start(ctx, "interaction.SkipTurn")
	defer span.End()

	unlock := s.lockSession(sessionID)
	defer unlock()

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	active, err := s.activeEntry(session)
	if err != nil {
		return domain.Session{}, err
	}

	expired := session.TurnExpired(s.nowUTC())
	if !expired {
		participant, err := s.loadParticipant(ctx, session.ID, active.EntityID)
		if err != nil {
			return domain.Session{}, err
		}
		if !identity.CanActFor(principal, session, participant) {
			return domain.Session{}, apperrors.WithMetadata(apperrors.CodePermissionDenied,
				"caller may not skip this turn",
				map[string]string{"entity_id": active.EntityID})
		}
	}

	turn := closeTurn{
		outcome:   domain.TurnSkipped,
		eventType: domain.EventTurnSkipped,
		actorType: actorFor(principal, session),
		actorID:   principal.UserID,
		userID:    principal.UserID,
	}
	if expired {
		// A lapsed deadline closes the turn as a timeout no matter who
		// noticed first, same as the sweep.
		turn.outcome = domain.TurnTimedOut
		turn.eventType = domain.EventTurnTimedOut
		turn.actorType = domain.ActorSystem
		turn.userID = ""
		if participant, err := s.loadParticipant(ctx, session.ID, active.EntityID); err == nil {
			turn.userID = participant.UserID
		}
	}
	return s.closeActiveTurn(ctx, session, active, turn)
}

// AdvanceTurn is the DM forcing the pointer forward. The active turn closes
// as skipped.
func (s *Service) AdvanceTurn(ctx context.Context, principal identity.Principal, sessionID string) (domain.Session, error) {
	if err := s.ready(); err != nil {
		return domain.Session{}, err
	}
	ctx, span := s.tracer.Start(ctx, "interaction.AdvanceTurn")
	defer span.End()

	unlock := s.lockSession(sessionID)
	defer unlock()

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if err := identity.RequireDM(principal, session); err != nil {
		return domain.Session{}, err
	}
	active, err := s.activeEntry(session)
	if err != nil {
		return domain.Session{}, err
	}

	return s.closeActiveTurn(ctx, session, active, closeTurn{
		outcome:   domain.TurnSkipped,
		eventType: domain.EventTurnSkipped,
		actorType: domain.ActorDM,
		actorID:   principal.UserID,
		userID:    principal.UserID,
	})
}

// RollbackInput targets a previously closed turn for re-derivation.
type RollbackInput struct {
	SessionID        string
	TargetTurnNumber int
	Reason           string
}

// RollbackTurn restores the pointer to the state preceding the target turn
// and tombstones every trailing turn record and journal entry. Nothing is
// deleted; superseded rows keep the audit trail.
func (s *Service) RollbackTurn(ctx context.Context, principal identity.Principal, input RollbackInput) (domain.Session, error) {
	if err := s.ready(); err != nil {
		return domain.Session{}, err
	}
	ctx, span := s.tracer.Start(ctx, "interaction.RollbackTurn")
	defer span.End()

	unlock := s.lockSession(input.SessionID)
	defer unlock()

	session, err := s.loadSession(ctx, input.SessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if err := identity.RequireDM(principal, session); err != nil {
		return domain.Session{}, err
	}
	if session.Status != domain.StatusLive && session.Status != domain.StatusPaused {
		return domain.Session{}, apperrors.WithMetadata(apperrors.CodeSessionNotLive,
			"rollback requires a live or paused session",
			map[string]string{"status": string(session.Status)})
	}

	var prior *domain.TurnRecord
	var fromSeq int64
	if input.TargetTurnNumber > 1 {
		record, err := s.store.GetTurnRecord(ctx, session.ID, input.TargetTurnNumber-1)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return domain.Session{}, apperrors.WithMetadata(apperrors.CodeRollbackTargetNotFound,
					"no turn record precedes the rollback target",
					map[string]string{"turn": strconv.Itoa(input.TargetTurnNumber)})
			}
			return domain.Session{}, err
		}
		prior = &record
		fromSeq = record.ClosedEventSeq
	} else {
		// Rolling back to the first turn keeps only the journal up to the
		// initialized entry of this live run.
		initialized, err := s.store.FindLatestEvent(ctx, session.ID, session.SessionLabel, domain.EventInteractionInitialized)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return domain.Session{}, apperrors.New(apperrors.CodeRollbackTargetInvalid,
					"session has no initialized journal entry to roll back to")
			}
			return domain.Session{}, err
		}
		fromSeq = initialized.Seq
	}

	supersededTurns := session.TurnNumber - input.TargetTurnNumber + 1
	if supersededTurns < 0 {
		supersededTurns = 0
	}
	lastSeq, err := s.store.LastEventSeq(ctx, session.ID)
	if err != nil {
		return domain.Session{}, err
	}

	session, err = session.RollbackPointer(input.TargetTurnNumber, prior, s.nowUTC())
	if err != nil {
		return domain.Session{}, err
	}

	payload, err := domain.EncodePayload(&domain.RollbackPayload{
		TargetTurnNumber: input.TargetTurnNumber,
		SupersededTurns:  supersededTurns,
		SupersededEvents: int(lastSeq - fromSeq),
		Reason:           input.Reason,
	})
	if err != nil {
		return domain.Session{}, err
	}
	event, err := s.newEvent(session, domain.EventTurnRolledBack, domain.ActorDM, principal.UserID, "", payload)
	if err != nil {
		return domain.Session{}, err
	}

	participants, err := s.store.ListParticipants(ctx, session.ID)
	if err != nil {
		return domain.Session{}, err
	}
	participants, participantOps := s.markTurnStatuses(session, participants)

	session, err = snapshotWith(session, participants, lastSeq+1, s.nowUTC())
	if err != nil {
		return domain.Session{}, err
	}

	// The rollback event is appended after the supersede stamp so it
	// survives its own tombstone sweep.
	ops := []storage.Operation{
		{SupersedeAfter: &storage.SupersedeAfter{
			SessionID:      session.ID,
			FromTurnNumber: input.TargetTurnNumber,
			FromEventSeq:   fromSeq,
			At:             s.nowUTC(),
		}},
		{AppendEvent: &event},
	}
	ops = append(ops, participantOps...)
	ops = append(ops, storage.Operation{PutSession: &session})

	if _, err := s.store.ApplyBatch(ctx, ops); err != nil {
		return domain.Session{}, err
	}
	s.notifier.SessionChanged(session.ID, event)
	return session, nil
}

// UpdateInitiative replaces the turn order mid-encounter, e.g. for a
// late-joining combatant. DM only.
func (s *Service) UpdateInitiative(ctx context.Context, principal identity.Principal, sessionID string, order []domain.InitiativeEntry) (domain.Session, error) {
	if err := s.ready(); err != nil {
		return domain.Session{}, err
	}
	ctx, span := s.tracer.Start(ctx, "interaction.UpdateInitiative")
	defer span.End()

	unlock := s.lockSession(sessionID)
	defer unlock()

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if err := identity.RequireDM(principal, session); err != nil {
		return domain.Session{}, err
	}
	if session.Status != domain.StatusLive && session.Status != domain.StatusPaused {
		return domain.Session{}, apperrors.WithMetadata(apperrors.CodeSessionNotLive,
			"initiative can only change on a live or paused session",
			map[string]string{"status": string(session.Status)})
	}

	session, err = session.WithInitiativeOrder(order, s.nowUTC())
	if err != nil {
		return domain.Session{}, err
	}

	activeID := ""
	if active, ok := session.ActiveEntry(); ok {
		activeID = active.EntityID
	}
	payload, err := domain.EncodePayload(&domain.InitiativeUpdatedPayload{
		Order:          session.InitiativeOrder,
		ActiveEntityID: activeID,
	})
	if err != nil {
		return domain.Session{}, err
	}
	event, err := s.newEvent(session, domain.EventInitiativeUpdated, domain.ActorDM, principal.UserID, "", payload)
	if err != nil {
		return domain.Session{}, err
	}

	participants, err := s.store.ListParticipants(ctx, session.ID)
	if err != nil {
		return domain.Session{}, err
	}
	participants, participantOps := s.markTurnStatuses(session, participants)

	lastSeq, err := s.store.LastEventSeq(ctx, session.ID)
	if err != nil {
		return domain.Session{}, err
	}
	session, err = snapshotWith(session, participants, lastSeq+1, s.nowUTC())
	if err != nil {
		return domain.Session{}, err
	}

	ops := []storage.Operation{{AppendEvent: &event}}
	ops = append(ops, participantOps...)
	ops = append(ops, storage.Operation{PutSession: &session})

	if _, err := s.store.ApplyBatch(ctx, ops); err != nil {
		return domain.Session{}, err
	}
	s.notifier.SessionChanged(session.ID, event)
	return session, nil
}

// closeTurn carries how the active turn should be closed.
type closeTurn struct {
	outcome   domain.TurnOutcome
	actions   []domain.DeclaredAction
	eventType domain.EventType
	actorType domain.ActorType
	actorID   string
	userID    string
}

// closeActiveTurn writes the turn record, journals the closing event,
// advances the pointer, refreshes participant turn statuses, and snapshots.
// Callers hold the session lock and have validated authorization.
func (s *Service) closeActiveTurn(ctx context.Context, session domain.Session, active domain.InitiativeEntry, turn closeTurn) (domain.Session, error) {
	var actionsJSON []byte
	if len(turn.actions) > 0 {
		encoded, err := json.Marshal(turn.actions)
		if err != nil {
			return domain.Session{}, fmt.Errorf("encode declared actions: %w", err)
		}
		actionsJSON = encoded
	}

	record, err := domain.NewTurnRecord(domain.NewTurnRecordInput{
		SessionID:   session.ID,
		EntityID:    active.EntityID,
		EntityType:  active.EntityType,
		UserID:      turn.userID,
		TurnNumber:  session.TurnNumber + 1,
		RoundNumber: session.RoundNumber,
		Outcome:     turn.outcome,
		ActionsJSON: actionsJSON,
		StartedAt:   session.LastActivity,
	}, s.clock, s.newID)
	if err != nil {
		return domain.Session{}, err
	}

	session, wrapped := session.Advance(s.nowUTC())
	nextID := ""
	if next, ok := session.ActiveEntry(); ok {
		nextID = next.EntityID
	}

	payload, err := domain.EncodePayload(&domain.TurnClosedPayload{
		TurnNumber:   record.TurnNumber,
		RoundNumber:  record.RoundNumber,
		EntityID:     record.EntityID,
		EntityType:   record.EntityType,
		Actions:      turn.actions,
		NextEntityID: nextID,
		NewRound:     wrapped,
	})
	if err != nil {
		return domain.Session{}, err
	}
	event, err := s.newEvent(session, turn.eventType, turn.actorType, turn.actorID, record.EntityID, payload)
	if err != nil {
		return domain.Session{}, err
	}

	participants, err := s.store.ListParticipants(ctx, session.ID)
	if err != nil {
		return domain.Session{}, err
	}
	participants, participantOps := s.markTurnStatuses(session, participants)

	lastSeq, err := s.store.LastEventSeq(ctx, session.ID)
	if err != nil {
		return domain.Session{}, err
	}
	session, err = snapshotWith(session, participants, lastSeq+1, s.nowUTC())
	if err != nil {
		return domain.Session{}, err
	}

	ops := []storage.Operation{
		{AppendEvent: &event},
		{PutTurnRecord: &record},
	}
	ops = append(ops, participantOps...)
	ops = append(ops, storage.Operation{PutSession: &session})

	if _, err := s.store.ApplyBatch(ctx, ops); err != nil {
		return domain.Session{}, err
	}
	s.notifier.SessionChanged(session.ID, event)
	return session, nil
}

// requireActiveTurn validates the session is live and the entity holds the
// turn.
func (s *Service) requireActiveTurn(ctx context.Context, sessionID, entityID string) (domain.Session, domain.InitiativeEntry, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, domain.InitiativeEntry{}, err
	}
	active, err := s.activeEntry(session)
	if err != nil {
		return domain.Session{}, domain.InitiativeEntry{}, err
	}
	if active.EntityID != entityID {
		return domain.Session{}, domain.InitiativeEntry{}, apperrors.WithMetadata(apperrors.CodeTurnNotYours,
			"it is not this entity's turn",
			map[string]string{"entity_id": entityID, "active_entity_id": active.EntityID})
	}
	return session, active, nil
}

// activeEntry validates the session is live and resolves the pointer.
func (s *Service) activeEntry(session domain.Session) (domain.InitiativeEntry, error) {
	if session.Status != domain.StatusLive {
		return domain.InitiativeEntry{}, apperrors.WithMetadata(apperrors.CodeSessionNotLive,
			"session is not live",
			map[string]string{"status": string(session.Status)})
	}
	active, ok := session.ActiveEntry()
	if !ok {
		return domain.InitiativeEntry{}, apperrors.New(apperrors.CodeInitiativeOrderEmpty,
			"session has no initiative order")
	}
	return active, nil
}

// markTurnStatuses aligns participant turn statuses with the pointer and
// returns put operations for the rows that changed.
func (s *Service) markTurnStatuses(session domain.Session, participants []domain.Participant) ([]domain.Participant, []storage.Operation) {
	activeID := ""
	if active, ok := session.ActiveEntry(); ok && session.Status == domain.StatusLive {
		activeID = active.EntityID
	}

	var ops []storage.Operation
	for i := range participants {
		want := domain.TurnStatusWaiting
		if participants[i].EntityID == activeID {
			want = domain.TurnStatusActive
		}
		if participants[i].TurnStatus == want {
			continue
		}
		participants[i] = participants[i].WithTurnStatus(want, s.nowUTC())
		updated := participants[i]
		ops = append(ops, storage.Operation{PutParticipant: &updated})
	}
	return participants, ops
}

func actorFor(principal identity.Principal, session domain.Session) domain.ActorType {
	if principal.UserID != "" && principal.UserID == session.DMID {
		return domain.ActorDM
	}
	if principal.UserID != "" {
		return domain.ActorPlayer
	}
	return domain.ActorSystem
}
