package service

import (
	"context"

	"github.com/torchlit/gametable/internal/interaction/domain"
	"github.com/torchlit/gametable/internal/interaction/identity"
	"github.com/torchlit/gametable/internal/interaction/storage"
	apperrors "github.com/torchlit/gametable/internal/platform/errors"
)

// CreateSession defines a new idle session owned by the DM of record.
func (s *Service) CreateSession(ctx context.Context, input domain.CreateSessionInput) (domain.Session, error) {
	if err := s.ready(); err != nil {
		return domain.Session{}, err
	}
	ctx, span := s.tracer.Start(ctx, "interaction.CreateSession")
	defer span.End()

	session, err := domain.CreateSession(input, s.clock, s.newID)
	if err != nil {
		return domain.Session{}, err
	}
	if err := s.store.PutSession(ctx, session); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

// InitializeInput configures a session going live.
type InitializeInput struct {
	SessionID       string
	InitiativeOrder []domain.InitiativeEntry
	Options         domain.InitializeOptions
}

// Initialize transitions an idle session to live. It mints a live room
// handle and a fresh session label, fixes the initiative order, seeds the
// recovery snapshot, and journals interaction.initialized.
func (s *Service) Initialize(ctx context.Context, principal identity.Principal, input InitializeInput) (domain.Session, error) {
	if err := s.ready(); err != nil {
		return domain.Session{}, err
	}
	ctx, span := s.tracer.Start(ctx, "interaction.Initialize")
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

	roomID, err := s.newID()
	if err != nil {
		return domain.Session{}, err
	}
	label, err := s.newID()
	if err != nil {
		return domain.Session{}, err
	}

	session, err = session.Initialize(roomID, label, input.InitiativeOrder, nil, input.Options, s.nowUTC())
	if err != nil {
		return domain.Session{}, err
	}

	payload, err := domain.EncodePayload(&domain.InitializedPayload{
		RoomID:               session.LiveRoomID,
		InitiativeOrder:      session.InitiativeOrder,
		TurnTimeLimitSeconds: session.TurnTimeLimitSeconds,
		ChatEnabled:          session.ChatEnabled,
		AllowPrivateChat:     session.AllowPrivateChat,
	})
	if err != nil {
		return domain.Session{}, err
	}
	event, err := s.newEvent(session, domain.EventInteractionInitialized, domain.ActorDM, principal.UserID, "", payload)
	if err != nil {
		return domain.Session{}, err
	}

	lastSeq, err := s.store.LastEventSeq(ctx, session.ID)
	if err != nil {
		return domain.Session{}, err
	}
	session, err = s.snapshotSession(ctx, session, lastSeq+1)
	if err != nil {
		return domain.Session{}, err
	}

	if _, err := s.store.ApplyBatch(ctx, []storage.Operation{
		{AppendEvent: &event},
		{PutSession: &session},
	}); err != nil {
		return domain.Session{}, err
	}
	s.notifier.SessionChanged(session.ID, event)
	return session, nil
}

// Pause suspends a live session.
func (s *Service) Pause(ctx context.Context, principal identity.Principal, sessionID, reason string) (domain.Session, error) {
	return s.transition(ctx, principal, sessionID, reason, "interaction.Pause",
		domain.EventInteractionPaused,
		func(session domain.Session) (domain.Session, error) {
			return session.Pause(s.nowUTC())
		})
}

// Resume returns a paused session to live.
func (s *Service) Resume(ctx context.Context, principal identity.Principal, sessionID, reason string) (domain.Session, error) {
	return s.transition(ctx, principal, sessionID, reason, "interaction.Resume",
		domain.EventInteractionResumed,
		func(session domain.Session) (domain.Session, error) {
			return session.Resume(s.nowUTC())
		})
}

// Finalize completes a session: records the final snapshot, journals
// interaction.completed, and clears live combat state. Irreversible.
func (s *Service) Finalize(ctx context.Context, principal identity.Principal, sessionID, reason string) (domain.Session, error) {
	if err := s.ready(); err != nil {
		return domain.Session{}, err
	}
	ctx, span := s.tracer.Start(ctx, "interaction.Finalize")
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

	from := session.Status
	session, err = session.Finalize(nil, s.nowUTC())
	if err != nil {
		return domain.Session{}, err
	}

	payload, err := domain.EncodePayload(&domain.StatusChangedPayload{
		From:   from,
		To:     session.Status,
		Reason: reason,
	})
	if err != nil {
		return domain.Session{}, err
	}
	event, err := s.newEvent(session, domain.EventInteractionCompleted, domain.ActorDM, principal.UserID, "", payload)
	if err != nil {
		return domain.Session{}, err
	}

	// The final snapshot keeps the last combat state even though the live
	// participant rows are cleared below.
	lastSeq, err := s.store.LastEventSeq(ctx, session.ID)
	if err != nil {
		return domain.Session{}, err
	}
	session, err = s.snapshotSession(ctx, session, lastSeq+1)
	if err != nil {
		return domain.Session{}, err
	}

	if _, err := s.store.ApplyBatch(ctx, []storage.Operation{
		{AppendEvent: &event},
		{PutSession: &session},
		{ClearParticipants: &storage.ClearParticipants{SessionID: session.ID}},
	}); err != nil {
		return domain.Session{}, err
	}
	s.notifier.SessionChanged(session.ID, event)
	return session, nil
}

// UpdateStatus applies a general lifecycle transition and journals
// interaction.status_changed. Pause, Resume, and Finalize are the preferred
// entry points; UpdateStatus covers DM tooling that drives the raw table.
func (s *Service) UpdateStatus(ctx context.Context, principal identity.Principal, sessionID string, next domain.Status, reason string) (domain.Session, error) {
	return s.transition(ctx, principal, sessionID, reason, "interaction.UpdateStatus",
		domain.EventInteractionStatusChanged,
		func(session domain.Session) (domain.Session, error) {
			return session.WithStatus(next, s.nowUTC())
		})
}

func (s *Service) transition(ctx context.Context, principal identity.Principal, sessionID, reason, spanName string, eventType domain.EventType, apply func(domain.Session) (domain.Session, error)) (domain.Session, error) {
	if err := s.ready(); err != nil {
		return domain.Session{}, err
	}
	ctx, span := s.tracer.Start(ctx, spanName)
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

	from := session.Status
	session, err = apply(session)
	if err != nil {
		return domain.Session{}, err
	}
	if from == session.Status {
		return domain.Session{}, apperrors.New(apperrors.CodeSessionInvalidTransition, "session status did not change")
	}

	payload, err := domain.EncodePayload(&domain.StatusChangedPayload{
		From:   from,
		To:     session.Status,
		Reason: reason,
	})
	if err != nil {
		return domain.Session{}, err
	}
	event, err := s.newEvent(session, eventType, domain.ActorDM, principal.UserID, "", payload)
	if err != nil {
		return domain.Session{}, err
	}

	lastSeq, err := s.store.LastEventSeq(ctx, session.ID)
	if err != nil {
		return domain.Session{}, err
	}
	session, err = s.snapshotSession(ctx, session, lastSeq+1)
	if err != nil {
		return domain.Session{}, err
	}

	if _, err := s.store.ApplyBatch(ctx, []storage.Operation{
		{AppendEvent: &event},
		{PutSession: &session},
	}); err != nil {
		return domain.Session{}, err
	}
	s.notifier.SessionChanged(session.ID, event)
	return session, nil
}
