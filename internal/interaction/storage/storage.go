// Package storage defines the persistence contracts for the interaction
// engine. Implementations live in subpackages; the engine depends only on
// these interfaces.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/torchlit/gametable/internal/interaction/domain"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrConflict indicates a write lost to a conflicting record.
var ErrConflict = errors.New("record conflict")

// ConnectionRecord tracks one live socket attached to a session. Connections
// are presence only; combat state lives on the participant.
type ConnectionRecord struct {
	ID        string
	SessionID string
	UserID    string
	// EntityID is the combatant this connection controls, empty for
	// spectators and the DM screen.
	EntityID    string
	ConnectedAt time.Time
	LastSeen    time.Time
}

// SessionStore persists session aggregates.
type SessionStore interface {
	PutSession(ctx context.Context, session domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, error)
	// ListSessions returns all sessions ordered by last activity, newest
	// first.
	ListSessions(ctx context.Context) ([]domain.Session, error)
	// ListSessionsByStatus filters to one lifecycle state.
	ListSessionsByStatus(ctx context.Context, status domain.Status) ([]domain.Session, error)
}

// ParticipantStore persists per-session combat state.
type ParticipantStore interface {
	PutParticipant(ctx context.Context, participant domain.Participant) error
	GetParticipant(ctx context.Context, sessionID, entityID string) (domain.Participant, error)
	// ListParticipants returns a session's participants ordered by join
	// time.
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
}

// EventStore persists the append-only session journal.
type EventStore interface {
	// AppendEvent assigns the next per-session seq and persists the event,
	// returning it with the seq filled in.
	AppendEvent(ctx context.Context, event domain.Event) (domain.Event, error)
	// ListEvents returns events with seq greater than afterSeq in seq
	// order. A limit of zero or less means no limit. Superseded events are
	// included; callers filter when replaying.
	ListEvents(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]domain.Event, error)
	// FindLatestEvent returns the newest non-superseded event of the given
	// type within one session label.
	FindLatestEvent(ctx context.Context, sessionID, sessionLabel string, eventType domain.EventType) (domain.Event, error)
	// LastEventSeq returns the highest seq assigned for a session, zero
	// when the journal is empty.
	LastEventSeq(ctx context.Context, sessionID string) (int64, error)
}

// TurnStore persists closed turn records.
type TurnStore interface {
	PutTurnRecord(ctx context.Context, record domain.TurnRecord) error
	// GetTurnRecord returns the non-superseded record for one turn number.
	GetTurnRecord(ctx context.Context, sessionID string, turnNumber int) (domain.TurnRecord, error)
	// ListTurnRecords returns records in turn order, excluding superseded
	// records unless includeSuperseded is set.
	ListTurnRecords(ctx context.Context, sessionID string, includeSuperseded bool) ([]domain.TurnRecord, error)
}

// ConnectionStore persists live connection presence.
type ConnectionStore interface {
	PutConnection(ctx context.Context, record ConnectionRecord) error
	DeleteConnection(ctx context.Context, id string) error
	ListConnections(ctx context.Context, sessionID string) ([]ConnectionRecord, error)
}

// SupersedeAfter stamps rollback tombstones: every non-superseded turn
// record with TurnNumber >= FromTurnNumber and every non-superseded event
// with seq > FromEventSeq gets SupersededAt set to At. Nothing is deleted.
type SupersedeAfter struct {
	SessionID      string
	FromTurnNumber int
	FromEventSeq   int64
	At             time.Time
}

// ClearParticipants removes all combat state for a completed session.
type ClearParticipants struct {
	SessionID string
}

// DeleteConnection removes one connection record.
type DeleteConnection struct {
	ID string
}

// Operation is one element of an atomic batch. Exactly one field is set.
type Operation struct {
	PutSession        *domain.Session
	AppendEvent       *domain.Event
	PutTurnRecord     *domain.TurnRecord
	PutParticipant    *domain.Participant
	PutConnection     *ConnectionRecord
	DeleteConnection  *DeleteConnection
	ClearParticipants *ClearParticipants
	SupersedeAfter    *SupersedeAfter
}

// BatchStore applies a group of operations in one transaction. Either every
// operation commits or none do.
//
// Operations apply in order. Appended events receive their seq inside the
// transaction; a turn record with a zero ClosedEventSeq is stamped with the
// seq of the most recent event appended earlier in the same batch. ApplyBatch
// returns the highest seq it assigned, or zero when the batch appended no
// events.
type BatchStore interface {
	ApplyBatch(ctx context.Context, ops []Operation) (int64, error)
}

// Store is the full persistence surface the engine runs against.
type Store interface {
	SessionStore
	ParticipantStore
	EventStore
	TurnStore
	ConnectionStore
	BatchStore
}
