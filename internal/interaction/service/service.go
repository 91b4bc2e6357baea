// Package service orchestrates live interaction sessions: lifecycle, the
// turn engine, presence, and the atomic batch gateway. All mutations for a
// session are serialized under a per-session lock and committed in one
// storage transaction.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/torchlit/gametable/internal/interaction/domain"
	"github.com/torchlit/gametable/internal/interaction/identity"
	"github.com/torchlit/gametable/internal/interaction/storage"
	apperrors "github.com/torchlit/gametable/internal/platform/errors"
	"github.com/torchlit/gametable/internal/platform/id"
)

// Notifier receives a push after each committed mutation so live clients can
// refresh. Implementations must not block.
type Notifier interface {
	SessionChanged(sessionID string, event domain.Event)
}

type noopNotifier struct{}

func (noopNotifier) SessionChanged(string, domain.Event) {}

// Service orchestrates interaction session use-cases.
type Service struct {
	store    storage.Store
	clock    func() time.Time
	newID    func() (string, error)
	notifier Notifier
	tracer   trace.Tracer

	// grants is optional; when set, Join validates session grants.
	grants *identity.GrantConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService constructs the interaction engine use-cases.
func NewService(store storage.Store, clock func() time.Time, newID func() (string, error), notifier Notifier) *Service {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Service{
		store:    store,
		clock:    clock,
		newID:    newID,
		notifier: notifier,
		tracer:   otel.Tracer("interaction"),
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetGrantConfig enables session grant validation on Join.
func (s *Service) SetGrantConfig(cfg identity.GrantConfig) {
	s.grants = &cfg
}

func (s *Service) nowUTC() time.Time {
	return s.clock().UTC()
}

// lockSession serializes mutations for one session. Sessions are fully
// independent; the map lock is held only to fetch the per-session mutex.
func (s *Service) lockSession(sessionID string) func() {
	s.mu.Lock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (s *Service) ready() error {
	if s == nil || s.store == nil {
		return errors.New("interaction store is not configured")
	}
	return nil
}

// loadSession maps missing sessions to the domain error surface.
func (s *Service) loadSession(ctx context.Context, sessionID string) (domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Session{}, apperrors.WithMetadata(apperrors.CodeNotFound,
				"session not found",
				map[string]string{"session_id": sessionID})
		}
		return domain.Session{}, err
	}
	return session, nil
}

func (s *Service) loadParticipant(ctx context.Context, sessionID, entityID string) (domain.Participant, error) {
	participant, err := s.store.GetParticipant(ctx, sessionID, entityID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Participant{}, apperrors.WithMetadata(apperrors.CodeParticipantUnknown,
				"participant not found",
				map[string]string{"entity_id": entityID})
		}
		return domain.Participant{}, err
	}
	return participant, nil
}

// newEvent builds a journal entry stamped with the session's current label.
func (s *Service) newEvent(session domain.Session, eventType domain.EventType, actorType domain.ActorType, actorID, entityID string, payload []byte) (domain.Event, error) {
	return domain.NewEvent(domain.NewEventInput{
		SessionID:    session.ID,
		Type:         eventType,
		ActorType:    actorType,
		ActorID:      actorID,
		EntityID:     entityID,
		SessionLabel: session.SessionLabel,
		PayloadJSON:  payload,
	}, s.clock, s.newID)
}

// snapshotSession rebuilds the durable recovery document and stamps it on
// the session. lastSeq is the journal position the snapshot will reflect
// after the enclosing batch commits; callers predict it under the session
// lock.
func (s *Service) snapshotSession(ctx context.Context, session domain.Session, lastSeq int64) (domain.Session, error) {
	participants, err := s.store.ListParticipants(ctx, session.ID)
	if err != nil {
		return domain.Session{}, err
	}
	return snapshotWith(session, participants, lastSeq, s.nowUTC())
}

func snapshotWith(session domain.Session, participants []domain.Participant, lastSeq int64, now time.Time) (domain.Session, error) {
	doc := domain.SnapshotDocument{
		SessionID:              session.ID,
		SessionLabel:           session.SessionLabel,
		Status:                 session.Status,
		TakenAt:                now,
		InitiativeOrder:        session.InitiativeOrder,
		CurrentInitiativeIndex: session.CurrentInitiativeIndex,
		RoundNumber:            session.RoundNumber,
		TurnNumber:             session.TurnNumber,
		Participants:           participants,
		LastEventSeq:           lastSeq,
	}
	encoded, err := domain.EncodePayload(&doc)
	if err != nil {
		return domain.Session{}, err
	}
	session.SnapshotJSON = encoded
	session.SnapshotAt = now
	return session, nil
}

// RestoreSnapshot decodes a session's durable recovery document. Recovery
// rebuilds the live room from the snapshot without replaying the journal.
func (s *Service) RestoreSnapshot(ctx context.Context, sessionID string) (domain.SnapshotDocument, error) {
	if err := s.ready(); err != nil {
		return domain.SnapshotDocument{}, err
	}
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return domain.SnapshotDocument{}, err
	}
	if len(session.SnapshotJSON) == 0 {
		return domain.SnapshotDocument{}, apperrors.WithMetadata(apperrors.CodeNotFound,
			"session has no snapshot",
			map[string]string{"session_id": sessionID})
	}
	var doc domain.SnapshotDocument
	if err := domain.DecodePayload(session.SnapshotJSON, &doc); err != nil {
		return domain.SnapshotDocument{}, err
	}
	return doc, nil
}
