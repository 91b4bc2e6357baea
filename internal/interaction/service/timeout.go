package service

import (
	"context"
	"log"

	"github.com/torchlit/gametable/internal/interaction/domain"
)

// SweepExpiredTurns closes the active turn of every live session whose turn
// deadline lapsed. Each closure journals turn.timed_out as a system action.
// Returns the number of turns closed. Intended to run on a ticker; a session
// whose turn closed between listing and locking is simply skipped.
func (s *Service) SweepExpiredTurns(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	ctx, span := s.tracer.Start(ctx, "interaction.SweepExpiredTurns")
	defer span.End()

	sessions, err := s.store.ListSessionsByStatus(ctx, domain.StatusLive)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, candidate := range sessions {
		if !candidate.TurnExpired(s.nowUTC()) {
			continue
		}
		timedOut, err := s.timeoutTurn(ctx, candidate.ID)
		if err != nil {
			log.Printf("turn sweep failed session=%s error=%v", candidate.ID, err)
			continue
		}
		if timedOut {
			closed++
		}
	}
	return closed, nil
}

func (s *Service) timeoutTurn(ctx context.Context, sessionID string) (bool, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()

	// Reload under the lock; the turn may have closed since listing.
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if session.Status != domain.StatusLive || !session.TurnExpired(s.nowUTC()) {
		return false, nil
	}
	active, err := s.activeEntry(session)
	if err != nil {
		return false, err
	}

	userID := ""
	if participant, err := s.loadParticipant(ctx, session.ID, active.EntityID); err == nil {
		userID = participant.UserID
	}

	if _, err := s.closeActiveTurn(ctx, session, active, closeTurn{
		outcome:   domain.TurnTimedOut,
		eventType: domain.EventTurnTimedOut,
		actorType: domain.ActorSystem,
		userID:    userID,
	}); err != nil {
		return false, err
	}
	return true, nil
}
