package service

import (
	"context"
	"errors"

	"github.com/torchlit/gametable/internal/interaction/domain"
	"github.com/torchlit/gametable/internal/interaction/identity"
	"github.com/torchlit/gametable/internal/interaction/storage"
	apperrors "github.com/torchlit/gametable/internal/platform/errors"
)

// JoinInput admits an entity into a live session.
type JoinInput struct {
	SessionID string
	// Grant is the signed session grant. Required when the service has a
	// grant verifier configured; ignored otherwise.
	Grant string
	// ConnectionID registers a live socket alongside the participant.
	// Optional; empty means state-only join.
	ConnectionID string

	EntityID         string
	EntityType       domain.EntityType
	DisplayName      string
	CurrentHP        int
	MaxHP            int
	Position         domain.Position
	Conditions       []string
	InventoryJSON    []byte
	AvailableActions []domain.ActionCapability
}

// Join admits an entity into a live or paused session and journals
// participant.joined. Re-joining an existing entity reconnects it without
// resetting combat state.
func (s *Service) Join(ctx context.Context, principal identity.Principal, input JoinInput) (domain.Participant, error) {
	if err := s.ready(); err != nil {
		return domain.Participant{}, err
	}
	ctx, span := s.tracer.Start(ctx, "interaction.Join")
	defer span.End()

	unlock := s.lockSession(input.SessionID)
	defer unlock()

	session, err := s.loadSession(ctx, input.SessionID)
	if err != nil {
		return domain.Participant{}, err
	}
	if session.Status != domain.StatusLive && session.Status != domain.StatusPaused {
		return domain.Participant{}, apperrors.WithMetadata(apperrors.CodeSessionNotLive,
			"session is not accepting participants",
			map[string]string{"status": string(session.Status)})
	}

	if s.grants != nil {
		claims, err := identity.ValidateSessionGrant(input.Grant, identity.GrantExpectation{
			SessionID: session.ID,
			UserID:    principal.UserID,
		}, *s.grants)
		if err != nil {
			return domain.Participant{}, err
		}
		if claims.EntityID != "" && claims.EntityID != input.EntityID {
			return domain.Participant{}, apperrors.WithMetadata(apperrors.CodeGrantMismatch,
				"session grant entity mismatch",
				map[string]string{"Field": "entity_id"})
		}
	}

	participant, err := s.store.GetParticipant(ctx, session.ID, input.EntityID)
	switch {
	case err == nil:
		// Reconnect: combat state survives across connections.
		participant = participant.WithPresence(true, s.nowUTC())
	case !errors.Is(err, storage.ErrNotFound):
		return domain.Participant{}, err
	default:
		participant, err = domain.JoinParticipant(domain.JoinParticipantInput{
			SessionID:        session.ID,
			EntityID:         input.EntityID,
			EntityType:       input.EntityType,
			UserID:           principal.UserID,
			DisplayName:      input.DisplayName,
			CurrentHP:        input.CurrentHP,
			MaxHP:            input.MaxHP,
			Position:         input.Position,
			Conditions:       input.Conditions,
			InventoryJSON:    input.InventoryJSON,
			AvailableActions: input.AvailableActions,
		}, s.clock)
		if err != nil {
			return domain.Participant{}, err
		}
	}
	if active, ok := session.ActiveEntry(); ok && session.Status == domain.StatusLive && active.EntityID == participant.EntityID {
		participant = participant.WithTurnStatus(domain.TurnStatusActive, s.nowUTC())
	}

	payload, err := domain.EncodePayload(&domain.ParticipantPayload{
		EntityID:    participant.EntityID,
		EntityType:  participant.EntityType,
		UserID:      participant.UserID,
		DisplayName: participant.DisplayName,
		CurrentHP:   participant.CurrentHP,
		MaxHP:       participant.MaxHP,
		Position:    participant.Position,
		Conditions:  participant.Conditions,
	})
	if err != nil {
		return domain.Participant{}, err
	}
	event, err := s.newEvent(session, domain.EventParticipantJoined, actorFor(principal, session), principal.UserID, participant.EntityID, payload)
	if err != nil {
		return domain.Participant{}, err
	}

	ops := []storage.Operation{
		{AppendEvent: &event},
		{PutParticipant: &participant},
	}
	if input.ConnectionID != "" {
		connection := storage.ConnectionRecord{
			ID:          input.ConnectionID,
			SessionID:   session.ID,
			UserID:      principal.UserID,
			EntityID:    participant.EntityID,
			ConnectedAt: s.nowUTC(),
			LastSeen:    s.nowUTC(),
		}
		ops = append(ops, storage.Operation{PutConnection: &connection})
	}

	session.LastActivity = s.nowUTC()
	session.UpdatedAt = session.LastActivity
	session, ops, err = s.appendSnapshotOp(ctx, session, participant, ops)
	if err != nil {
		return domain.Participant{}, err
	}

	if _, err := s.store.ApplyBatch(ctx, ops); err != nil {
		return domain.Participant{}, err
	}
	s.notifier.SessionChanged(session.ID, event)
	return participant, nil
}

// Leave marks an entity disconnected and journals participant.left. Combat
// state is retained; the entity keeps its initiative slot and its turns can
// still be skipped or timed out.
func (s *Service) Leave(ctx context.Context, principal identity.Principal, sessionID, entityID, connectionID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	ctx, span := s.tracer.Start(ctx, "interaction.Leave")
	defer span.End()

	unlock := s.lockSession(sessionID)
	defer unlock()

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	participant, err := s.loadParticipant(ctx, sessionID, entityID)
	if err != nil {
		return err
	}
	if !identity.CanActFor(principal, session, participant) {
		return apperrors.WithMetadata(apperrors.CodePermissionDenied,
			"caller does not control the leaving entity",
			map[string]string{"entity_id": entityID})
	}

	participant = participant.WithPresence(false, s.nowUTC())

	payload, err := domain.EncodePayload(&domain.ParticipantPayload{
		EntityID:   participant.EntityID,
		EntityType: participant.EntityType,
		UserID:     participant.UserID,
		CurrentHP:  participant.CurrentHP,
		MaxHP:      participant.MaxHP,
		Position:   participant.Position,
	})
	if err != nil {
		return err
	}
	event, err := s.newEvent(session, domain.EventParticipantLeft, actorFor(principal, session), principal.UserID, entityID, payload)
	if err != nil {
		return err
	}

	ops := []storage.Operation{
		{AppendEvent: &event},
		{PutParticipant: &participant},
	}
	if connectionID != "" {
		ops = append(ops, storage.Operation{DeleteConnection: &storage.DeleteConnection{ID: connectionID}})
	}

	session.LastActivity = s.nowUTC()
	session.UpdatedAt = session.LastActivity
	session, ops, err = s.appendSnapshotOp(ctx, session, participant, ops)
	if err != nil {
		return err
	}

	if _, err := s.store.ApplyBatch(ctx, ops); err != nil {
		return err
	}
	s.notifier.SessionChanged(session.ID, event)
	return nil
}

// UpdateStateInput is a partial combat-state change for one entity.
type UpdateStateInput struct {
	SessionID string
	EntityID  string
	Update    domain.StateUpdate
}

// UpdateParticipantState merges a partial state update and journals
// participant.updated. The controller or the DM may update.
func (s *Service) UpdateParticipantState(ctx context.Context, principal identity.Principal, input UpdateStateInput) (domain.Participant, error) {
	if err := s.ready(); err != nil {
		return domain.Participant{}, err
	}
	ctx, span := s.tracer.Start(ctx, "interaction.UpdateParticipantState")
	defer span.End()

	unlock := s.lockSession(input.SessionID)
	defer unlock()

	session, err := s.loadSession(ctx, input.SessionID)
	if err != nil {
		return domain.Participant{}, err
	}
	if session.Status != domain.StatusLive {
		return domain.Participant{}, apperrors.WithMetadata(apperrors.CodeSessionNotLive,
			"session is not live",
			map[string]string{"status": string(session.Status)})
	}
	participant, err := s.loadParticipant(ctx, input.SessionID, input.EntityID)
	if err != nil {
		return domain.Participant{}, err
	}
	if !identity.CanActFor(principal, session, participant) {
		return domain.Participant{}, apperrors.WithMetadata(apperrors.CodePermissionDenied,
			"caller does not control the entity",
			map[string]string{"entity_id": input.EntityID})
	}

	participant, err = participant.ApplyState(input.Update, s.nowUTC())
	if err != nil {
		return domain.Participant{}, err
	}

	payload, err := domain.EncodePayload(&domain.ParticipantPayload{
		EntityID:   participant.EntityID,
		EntityType: participant.EntityType,
		UserID:     participant.UserID,
		CurrentHP:  participant.CurrentHP,
		MaxHP:      participant.MaxHP,
		Position:   participant.Position,
		Conditions: participant.Conditions,
	})
	if err != nil {
		return domain.Participant{}, err
	}
	event, err := s.newEvent(session, domain.EventParticipantUpdated, actorFor(principal, session), principal.UserID, input.EntityID, payload)
	if err != nil {
		return domain.Participant{}, err
	}

	ops := []storage.Operation{
		{AppendEvent: &event},
		{PutParticipant: &participant},
	}
	session.LastActivity = s.nowUTC()
	session.UpdatedAt = session.LastActivity
	session, ops, err = s.appendSnapshotOp(ctx, session, participant, ops)
	if err != nil {
		return domain.Participant{}, err
	}

	if _, err := s.store.ApplyBatch(ctx, ops); err != nil {
		return domain.Participant{}, err
	}
	s.notifier.SessionChanged(session.ID, event)
	return participant, nil
}

// appendSnapshotOp rebuilds the snapshot with one participant's pending
// write folded in and appends the session put to the batch.
func (s *Service) appendSnapshotOp(ctx context.Context, session domain.Session, pending domain.Participant, ops []storage.Operation) (domain.Session, []storage.Operation, error) {
	participants, err := s.store.ListParticipants(ctx, session.ID)
	if err != nil {
		return domain.Session{}, nil, err
	}
	found := false
	for i := range participants {
		if participants[i].EntityID == pending.EntityID {
			participants[i] = pending
			found = true
			break
		}
	}
	if !found {
		participants = append(participants, pending)
	}

	lastSeq, err := s.store.LastEventSeq(ctx, session.ID)
	if err != nil {
		return domain.Session{}, nil, err
	}
	session, err = snapshotWith(session, participants, lastSeq+1, s.nowUTC())
	if err != nil {
		return domain.Session{}, nil, err
	}
	ops = append(ops, storage.Operation{PutSession: &session})
	return session, ops, nil
}
