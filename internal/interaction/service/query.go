package service

import (
	"context"

	"github.com/torchlit/gametable/internal/interaction/domain"
)

// LiveState is the full read model for one session: the aggregate, everyone
// at the table, the trailing journal, and the surviving turn history.
type LiveState struct {
	Session      domain.Session       `json:"session"`
	Participants []domain.Participant `json:"participants"`
	Events       []domain.Event       `json:"events"`
	TurnRecords  []domain.TurnRecord  `json:"turn_records"`
}

// recentEventLimit bounds the journal tail returned by GetLiveState. Clients
// needing more page through ListEvents.
const recentEventLimit = 100

// GetLiveState returns the current state of one session. Reads are not
// serialized against writers; a concurrent mutation may land between the
// component reads, so clients treat the event tail as advisory.
func (s *Service) GetLiveState(ctx context.Context, sessionID string) (LiveState, error) {
	if err := s.ready(); err != nil {
		return LiveState{}, err
	}
	ctx, span := s.tracer.Start(ctx, "interaction.GetLiveState")
	defer span.End()

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return LiveState{}, err
	}
	participants, err := s.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return LiveState{}, err
	}
	records, err := s.store.ListTurnRecords(ctx, sessionID, false)
	if err != nil {
		return LiveState{}, err
	}

	afterSeq := int64(0)
	lastSeq, err := s.store.LastEventSeq(ctx, sessionID)
	if err != nil {
		return LiveState{}, err
	}
	if lastSeq > recentEventLimit {
		afterSeq = lastSeq - recentEventLimit
	}
	events, err := s.store.ListEvents(ctx, sessionID, afterSeq, recentEventLimit)
	if err != nil {
		return LiveState{}, err
	}
	// Rolled-back journal entries stay in storage for audit but are not
	// part of the live read model.
	live := events[:0]
	for _, event := range events {
		if event.SupersededAt != nil {
			continue
		}
		live = append(live, event)
	}
	events = live

	return LiveState{
		Session:      session,
		Participants: participants,
		Events:       events,
		TurnRecords:  records,
	}, nil
}

// SessionSummary is the list-view projection of one session.
type SessionSummary struct {
	SessionID        string        `json:"session_id"`
	Name             string        `json:"name"`
	DMID             string        `json:"dm_id"`
	Status           domain.Status `json:"status"`
	ParticipantCount int           `json:"participant_count"`
	ActiveEntityID   string        `json:"active_entity_id,omitempty"`
	RoundNumber      int           `json:"round_number"`
	TurnNumber       int           `json:"turn_number"`
	LastActivity     int64         `json:"last_activity"`
}

// ListSessionsWithLiveStatus returns summaries for every session, optionally
// filtered to one lifecycle state. Pass an empty status for all sessions.
func (s *Service) ListSessionsWithLiveStatus(ctx context.Context, status domain.Status) ([]SessionSummary, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	ctx, span := s.tracer.Start(ctx, "interaction.ListSessionsWithLiveStatus")
	defer span.End()

	var (
		sessions []domain.Session
		err      error
	)
	if status == "" {
		sessions, err = s.store.ListSessions(ctx)
	} else {
		sessions, err = s.store.ListSessionsByStatus(ctx, status)
	}
	if err != nil {
		return nil, err
	}

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summary := SessionSummary{
			SessionID:    session.ID,
			Name:         session.Name,
			DMID:         session.DMID,
			Status:       session.Status,
			RoundNumber:  session.RoundNumber,
			TurnNumber:   session.TurnNumber,
			LastActivity: session.LastActivity.UnixMilli(),
		}
		if active, ok := session.ActiveEntry(); ok && session.Status == domain.StatusLive {
			summary.ActiveEntityID = active.EntityID
		}
		participants, err := s.store.ListParticipants(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		summary.ParticipantCount = len(participants)
		summaries = append(summaries, summary)
	}
	return summaries, nil
}
