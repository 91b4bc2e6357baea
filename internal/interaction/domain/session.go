package domain

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/torchlit/gametable/internal/platform/errors"
	"github.com/torchlit/gametable/internal/platform/id"
)

// Status describes the lifecycle state of an interaction session.
type Status string

const (
	// StatusIdle indicates the session is defined but not running.
	StatusIdle Status = "idle"
	// StatusLive indicates the session is running and accepting turns.
	StatusLive Status = "live"
	// StatusPaused indicates the session is suspended by the DM.
	StatusPaused Status = "paused"
	// StatusCompleted indicates the session has ended. Terminal.
	StatusCompleted Status = "completed"
)

// IsValid reports whether the status is a known lifecycle state.
func (s Status) IsValid() bool {
	switch s {
	case StatusIdle, StatusLive, StatusPaused, StatusCompleted:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the lifecycle allows moving to next.
// No transition skips a state and completed is terminal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusIdle:
		return next == StatusLive
	case StatusLive:
		return next == StatusPaused || next == StatusCompleted
	case StatusPaused:
		return next == StatusLive || next == StatusCompleted
	default:
		return false
	}
}

// Session represents one live or historical encounter.
type Session struct {
	ID         string
	Name       string
	CampaignID string // optional campaign reference
	CreatorID  string
	DMID       string

	Status       Status
	LiveRoomID   string // present only while live
	SessionLabel string // groups log entries from one live-room incarnation

	InitiativeOrder        []InitiativeEntry
	CurrentInitiativeIndex int
	RoundNumber            int
	// TurnNumber counts closed turns across the session lifetime. The next
	// turn record is numbered TurnNumber+1.
	TurnNumber int

	TurnTimeLimitSeconds int
	CurrentTurnDeadline  *time.Time

	ChatEnabled      bool
	AllowPrivateChat bool

	SnapshotJSON []byte
	SnapshotAt   time.Time

	LastActivity time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateSessionInput describes the metadata needed to create a session.
type CreateSessionInput struct {
	Name       string
	CampaignID string
	CreatorID  string
	DMID       string
}

// CreateSession creates a new idle session with a generated ID and timestamps.
func CreateSession(input CreateSessionInput, now func() time.Time, idGenerator func() (string, error)) (Session, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	input.Name = strings.TrimSpace(input.Name)
	input.CampaignID = strings.TrimSpace(input.CampaignID)
	input.CreatorID = strings.TrimSpace(input.CreatorID)
	input.DMID = strings.TrimSpace(input.DMID)
	if input.DMID == "" {
		return Session{}, apperrors.New(apperrors.CodeSessionEmptyDM, "dm id is required")
	}
	if input.CreatorID == "" {
		input.CreatorID = input.DMID
	}

	sessionID, err := idGenerator()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}

	createdAt := now().UTC()
	return Session{
		ID:           sessionID,
		Name:         input.Name,
		CampaignID:   input.CampaignID,
		CreatorID:    input.CreatorID,
		DMID:         input.DMID,
		Status:       StatusIdle,
		LastActivity: createdAt,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}, nil
}

// InitializeOptions carries session policy set when a session goes live.
type InitializeOptions struct {
	TurnTimeLimitSeconds int
	ChatEnabled          bool
	AllowPrivateChat     bool
}

// Initialize transitions an idle session to live. It assigns the live room
// handle, fixes the initiative order, resets the pointer and round counters,
// seeds the snapshot, and arms the first turn deadline.
func (s Session) Initialize(roomID, sessionLabel string, order []InitiativeEntry, snapshotJSON []byte, opts InitializeOptions, now time.Time) (Session, error) {
	if s.Status != StatusIdle {
		return Session{}, apperrors.WithMetadata(apperrors.CodeSessionInvalidState,
			"session can only be initialized from idle",
			map[string]string{"status": string(s.Status)})
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return Session{}, apperrors.New(apperrors.CodeSessionEmptyID, "live room id is required")
	}
	normalized, err := NormalizeOrder(order)
	if err != nil {
		return Session{}, err
	}
	if opts.TurnTimeLimitSeconds < 0 {
		opts.TurnTimeLimitSeconds = 0
	}

	now = now.UTC()
	s.Status = StatusLive
	s.LiveRoomID = roomID
	s.SessionLabel = strings.TrimSpace(sessionLabel)
	s.InitiativeOrder = normalized
	s.CurrentInitiativeIndex = 0
	s.RoundNumber = 1
	s.TurnNumber = 0
	s.TurnTimeLimitSeconds = opts.TurnTimeLimitSeconds
	s.CurrentTurnDeadline = deadlineAfter(now, opts.TurnTimeLimitSeconds)
	s.ChatEnabled = opts.ChatEnabled
	s.AllowPrivateChat = opts.AllowPrivateChat
	s.SnapshotJSON = snapshotJSON
	s.SnapshotAt = now
	s.LastActivity = now
	s.UpdatedAt = now
	return s, nil
}

// Pause suspends a live session. Pausing a session that is not live fails,
// which also guards against double-pause.
func (s Session) Pause(now time.Time) (Session, error) {
	if s.Status != StatusLive {
		return Session{}, apperrors.WithMetadata(apperrors.CodeSessionInvalidState,
			"only a live session can be paused",
			map[string]string{"status": string(s.Status)})
	}
	now = now.UTC()
	s.Status = StatusPaused
	s.LastActivity = now
	s.UpdatedAt = now
	return s, nil
}

// Resume returns a paused session to live and re-arms the turn deadline for
// the active participant.
func (s Session) Resume(now time.Time) (Session, error) {
	if s.Status != StatusPaused {
		return Session{}, apperrors.WithMetadata(apperrors.CodeSessionInvalidState,
			"only a paused session can be resumed",
			map[string]string{"status": string(s.Status)})
	}
	now = now.UTC()
	s.Status = StatusLive
	s.CurrentTurnDeadline = deadlineAfter(now, s.TurnTimeLimitSeconds)
	s.LastActivity = now
	s.UpdatedAt = now
	return s, nil
}

// Finalize transitions a live or paused session to completed, clears the
// live room handle and turn deadline, and records the final snapshot.
// Irreversible.
func (s Session) Finalize(finalSnapshotJSON []byte, now time.Time) (Session, error) {
	if s.Status != StatusLive && s.Status != StatusPaused {
		return Session{}, apperrors.WithMetadata(apperrors.CodeSessionInvalidState,
			"only a live or paused session can be finalized",
			map[string]string{"status": string(s.Status)})
	}
	now = now.UTC()
	s.Status = StatusCompleted
	s.LiveRoomID = ""
	s.CurrentTurnDeadline = nil
	if len(finalSnapshotJSON) > 0 {
		s.SnapshotJSON = finalSnapshotJSON
		s.SnapshotAt = now
	}
	s.LastActivity = now
	s.UpdatedAt = now
	return s, nil
}

// WithStatus applies a general-purpose status change, enforcing the
// lifecycle transition table. Used outside live play; the turn engine
// refuses work unless the session is live.
func (s Session) WithStatus(next Status, now time.Time) (Session, error) {
	if !next.IsValid() {
		return Session{}, apperrors.New(apperrors.CodeSessionInvalidState, "unknown session status")
	}
	if !s.Status.CanTransitionTo(next) {
		return Session{}, apperrors.WithMetadata(apperrors.CodeSessionInvalidTransition,
			"session status transition is not allowed",
			map[string]string{"from": string(s.Status), "to": string(next)})
	}
	now = now.UTC()
	s.Status = next
	if next == StatusCompleted {
		s.LiveRoomID = ""
		s.CurrentTurnDeadline = nil
	}
	s.LastActivity = now
	s.UpdatedAt = now
	return s, nil
}

// ActiveEntry returns the initiative entry the turn pointer resolves to.
func (s Session) ActiveEntry() (InitiativeEntry, bool) {
	if s.CurrentInitiativeIndex < 0 || s.CurrentInitiativeIndex >= len(s.InitiativeOrder) {
		return InitiativeEntry{}, false
	}
	return s.InitiativeOrder[s.CurrentInitiativeIndex], true
}

// TurnExpired reports whether the active turn deadline has lapsed. A lapsed
// deadline is not an error; it authorizes any caller to skip the turn on
// behalf of the system.
func (s Session) TurnExpired(now time.Time) bool {
	if s.Status != StatusLive || s.CurrentTurnDeadline == nil {
		return false
	}
	return now.UTC().After(*s.CurrentTurnDeadline)
}

// deadlineAfter computes the absolute turn deadline, or nil when the session
// has no turn time limit.
func deadlineAfter(now time.Time, limitSeconds int) *time.Time {
	if limitSeconds <= 0 {
		return nil
	}
	deadline := now.UTC().Add(time.Duration(limitSeconds) * time.Second)
	return &deadline
}
