package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/torchlit/gametable/internal/interaction/domain"
	"github.com/torchlit/gametable/internal/interaction/storage"
)

var storeTime = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "interaction.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func storeSession(id string) domain.Session {
	deadline := storeTime.Add(90 * time.Second)
	return domain.Session{
		ID:         id,
		Name:       "Goblin Ambush",
		CampaignID: "campaign-1",
		CreatorID:  "dm-1",
		DMID:       "dm-1",
		Status:     domain.StatusLive,
		LiveRoomID: "room-1",
		SessionLabel: "run-1",
		InitiativeOrder: []domain.InitiativeEntry{
			{EntityID: "rogue", EntityType: domain.EntityTypeCharacter, InitiativeRoll: 18, DexterityModifier: 4},
			{EntityID: "goblin", EntityType: domain.EntityTypeMonster, InitiativeRoll: 15},
		},
		CurrentInitiativeIndex: 1,
		RoundNumber:            2,
		TurnNumber:             3,
		TurnTimeLimitSeconds:   90,
		CurrentTurnDeadline:    &deadline,
		ChatEnabled:            true,
		SnapshotJSON:           []byte(`{"schema_version":1}`),
		SnapshotAt:             storeTime,
		LastActivity:           storeTime,
		CreatedAt:              storeTime,
		UpdatedAt:              storeTime,
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStoreDBNilSafe(t *testing.T) {
	var store *Store
	if store.DB() != nil {
		t.Fatal("expected nil DB for nil store")
	}
}

func TestPutGetSessionRoundTrip(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	input := storeSession("session-1")
	if err := store.PutSession(ctx, input); err != nil {
		t.Fatalf("put session: %v", err)
	}

	got, err := store.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != domain.StatusLive || got.SessionLabel != "run-1" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if len(got.InitiativeOrder) != 2 || got.InitiativeOrder[0].EntityID != "rogue" {
		t.Fatalf("initiative order not preserved: %+v", got.InitiativeOrder)
	}
	if got.CurrentTurnDeadline == nil || !got.CurrentTurnDeadline.Equal(*input.CurrentTurnDeadline) {
		t.Fatalf("deadline = %v, want %v", got.CurrentTurnDeadline, input.CurrentTurnDeadline)
	}
	if !got.CreatedAt.Equal(storeTime) {
		t.Fatalf("created at = %v, want %v", got.CreatedAt, storeTime)
	}
}

func TestPutSessionUpsert(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	session := storeSession("session-1")
	if err := store.PutSession(ctx, session); err != nil {
		t.Fatalf("put session: %v", err)
	}

	session.Status = domain.StatusPaused
	session.CurrentTurnDeadline = nil
	if err := store.PutSession(ctx, session); err != nil {
		t.Fatalf("update session: %v", err)
	}

	got, err := store.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != domain.StatusPaused {
		t.Fatalf("status = %q, want paused", got.Status)
	}
	if got.CurrentTurnDeadline != nil {
		t.Fatal("deadline should be cleared on update")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	store := openTempStore(t)

	_, err := store.GetSession(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestListSessionsByStatus(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	live := storeSession("session-live")
	idle := storeSession("session-idle")
	idle.Status = domain.StatusIdle
	idle.LastActivity = storeTime.Add(time.Hour)
	for _, session := range []domain.Session{live, idle} {
		if err := store.PutSession(ctx, session); err != nil {
			t.Fatalf("put session: %v", err)
		}
	}

	all, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(all) != 2 || all[0].ID != "session-idle" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	liveOnly, err := store.ListSessionsByStatus(ctx, domain.StatusLive)
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(liveOnly) != 1 || liveOnly[0].ID != "session-live" {
		t.Fatalf("unexpected filter result: %+v", liveOnly)
	}
}

func TestPutGetParticipantRoundTrip(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	input := domain.Participant{
		SessionID:   "session-1",
		EntityID:    "rogue",
		EntityType:  domain.EntityTypeCharacter,
		UserID:      "user-1",
		DisplayName: "Vex",
		CurrentHP:   24,
		MaxHP:       30,
		Position:    domain.Position{X: 3, Y: 7},
		Conditions:  []string{"poisoned"},
		InventoryJSON: []byte(`{"items":["dagger"]}`),
		AvailableActions: []domain.ActionCapability{
			{Name: "attack", Available: true},
			{Name: "fireball", Available: false, UnmetRequirements: []string{"no spell slots"}},
		},
		TurnStatus: domain.TurnStatusActive,
		Connected:  true,
		LastSeen:   storeTime,
		JoinedAt:   storeTime,
		UpdatedAt:  storeTime,
	}
	if err := store.PutParticipant(ctx, input); err != nil {
		t.Fatalf("put participant: %v", err)
	}

	got, err := store.GetParticipant(ctx, "session-1", "rogue")
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if got.CurrentHP != 24 || got.Position.X != 3 || got.TurnStatus != domain.TurnStatusActive {
		t.Fatalf("unexpected participant: %+v", got)
	}
	if len(got.Conditions) != 1 || got.Conditions[0] != "poisoned" {
		t.Fatalf("conditions not preserved: %+v", got.Conditions)
	}
	if len(got.AvailableActions) != 2 || got.AvailableActions[1].UnmetRequirements[0] != "no spell slots" {
		t.Fatalf("capabilities not preserved: %+v", got.AvailableActions)
	}
	if string(got.InventoryJSON) != `{"items":["dagger"]}` {
		t.Fatalf("inventory not preserved: %s", got.InventoryJSON)
	}
}

func TestGetParticipantNotFound(t *testing.T) {
	store := openTempStore(t)

	_, err := store.GetParticipant(context.Background(), "session-1", "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestListParticipantsJoinOrder(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	for i, entity := range []string{"rogue", "goblin", "cleric"} {
		participant := domain.Participant{
			SessionID:  "session-1",
			EntityID:   entity,
			EntityType: domain.EntityTypeCharacter,
			TurnStatus: domain.TurnStatusWaiting,
			LastSeen:   storeTime,
			JoinedAt:   storeTime.Add(time.Duration(i) * time.Minute),
			UpdatedAt:  storeTime,
		}
		if err := store.PutParticipant(ctx, participant); err != nil {
			t.Fatalf("put participant: %v", err)
		}
	}

	got, err := store.ListParticipants(ctx, "session-1")
	if err != nil {
		t.Fatalf("list participants: %v", err)
	}
	if len(got) != 3 || got[0].EntityID != "rogue" || got[2].EntityID != "cleric" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestAppendEventAssignsSeq(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	for i, id := range []string{"event-1", "event-2", "event-3"} {
		event := domain.Event{
			ID:        id,
			SessionID: "session-1",
			Type:      domain.EventTurnTaken,
			Timestamp: storeTime,
			ActorType: domain.ActorPlayer,
		}
		appended, err := store.AppendEvent(ctx, event)
		if err != nil {
			t.Fatalf("append event: %v", err)
		}
		if appended.Seq != int64(i+1) {
			t.Fatalf("seq = %d, want %d", appended.Seq, i+1)
		}
	}

	// Seq counters are per session.
	other, err := store.AppendEvent(ctx, domain.Event{
		ID:        "event-other",
		SessionID: "session-2",
		Type:      domain.EventTurnTaken,
		Timestamp: storeTime,
		ActorType: domain.ActorPlayer,
	})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	if other.Seq != 1 {
		t.Fatalf("other session seq = %d, want 1", other.Seq)
	}
}

func TestListEventsAfterSeq(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	for _, id := range []string{"event-1", "event-2", "event-3"} {
		if _, err := store.AppendEvent(ctx, domain.Event{
			ID:        id,
			SessionID: "session-1",
			Type:      domain.EventTurnTaken,
			Timestamp: storeTime,
			ActorType: domain.ActorPlayer,
		}); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	events, err := store.ListEvents(ctx, "session-1", 1, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 || events[0].Seq != 2 || events[1].Seq != 3 {
		t.Fatalf("unexpected events: %+v", events)
	}

	limited, err := store.ListEvents(ctx, "session-1", 0, 1)
	if err != nil {
		t.Fatalf("list events limited: %v", err)
	}
	if len(limited) != 1 || limited[0].Seq != 1 {
		t.Fatalf("unexpected limited events: %+v", limited)
	}
}

func TestFindLatestEvent(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	entries := []struct {
		id    string
		label string
		typ   domain.EventType
	}{
		{"event-1", "run-1", domain.EventInteractionInitialized},
		{"event-2", "run-1", domain.EventTurnTaken},
		{"event-3", "run-2", domain.EventInteractionInitialized},
	}
	for _, entry := range entries {
		if _, err := store.AppendEvent(ctx, domain.Event{
			ID:           entry.id,
			SessionID:    "session-1",
			Type:         entry.typ,
			Timestamp:    storeTime,
			ActorType:    domain.ActorDM,
			SessionLabel: entry.label,
		}); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	got, err := store.FindLatestEvent(ctx, "session-1", "run-2", domain.EventInteractionInitialized)
	if err != nil {
		t.Fatalf("find latest event: %v", err)
	}
	if got.ID != "event-3" {
		t.Fatalf("event = %q, want event-3", got.ID)
	}

	_, err = store.FindLatestEvent(ctx, "session-1", "run-9", domain.EventInteractionInitialized)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestPutTurnRecordConflict(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	record := domain.TurnRecord{
		ID:          "turn-1",
		SessionID:   "session-1",
		TurnNumber:  1,
		RoundNumber: 1,
		EntityID:    "rogue",
		EntityType:  domain.EntityTypeCharacter,
		Outcome:     domain.TurnCompleted,
		StartedAt:   storeTime,
		EndedAt:     storeTime,
	}
	if err := store.PutTurnRecord(ctx, record); err != nil {
		t.Fatalf("put turn record: %v", err)
	}

	dup := record
	dup.ID = "turn-1b"
	if err := store.PutTurnRecord(ctx, dup); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict for duplicate active turn number", err)
	}

	// A superseded record with the same turn number is allowed.
	superseded := record
	superseded.ID = "turn-1c"
	superseded.SupersededAt = &storeTime
	if err := store.PutTurnRecord(ctx, superseded); err != nil {
		t.Fatalf("put superseded record: %v", err)
	}
}

func TestListTurnRecordsFiltersSuperseded(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	active := domain.TurnRecord{
		ID: "turn-1", SessionID: "session-1", TurnNumber: 1, RoundNumber: 1,
		EntityID: "rogue", EntityType: domain.EntityTypeCharacter,
		Outcome: domain.TurnCompleted, StartedAt: storeTime, EndedAt: storeTime,
	}
	tombstoned := domain.TurnRecord{
		ID: "turn-2", SessionID: "session-1", TurnNumber: 2, RoundNumber: 1,
		EntityID: "goblin", EntityType: domain.EntityTypeMonster,
		Outcome: domain.TurnSkipped, StartedAt: storeTime, EndedAt: storeTime,
		SupersededAt: &storeTime,
	}
	for _, record := range []domain.TurnRecord{active, tombstoned} {
		if err := store.PutTurnRecord(ctx, record); err != nil {
			t.Fatalf("put turn record: %v", err)
		}
	}

	visible, err := store.ListTurnRecords(ctx, "session-1", false)
	if err != nil {
		t.Fatalf("list turn records: %v", err)
	}
	if len(visible) != 1 || visible[0].ID != "turn-1" {
		t.Fatalf("unexpected visible records: %+v", visible)
	}

	all, err := store.ListTurnRecords(ctx, "session-1", true)
	if err != nil {
		t.Fatalf("list all turn records: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %+v", all)
	}

	got, err := store.GetTurnRecord(ctx, "session-1", 1)
	if err != nil {
		t.Fatalf("get turn record: %v", err)
	}
	if got.Outcome != domain.TurnCompleted {
		t.Fatalf("outcome = %q, want completed", got.Outcome)
	}
	if _, err := store.GetTurnRecord(ctx, "session-1", 2); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("superseded record error = %v, want ErrNotFound", err)
	}
}

func TestConnectionLifecycle(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	record := storage.ConnectionRecord{
		ID:          "conn-1",
		SessionID:   "session-1",
		UserID:      "user-1",
		EntityID:    "rogue",
		ConnectedAt: storeTime,
		LastSeen:    storeTime,
	}
	if err := store.PutConnection(ctx, record); err != nil {
		t.Fatalf("put connection: %v", err)
	}

	listed, err := store.ListConnections(ctx, "session-1")
	if err != nil {
		t.Fatalf("list connections: %v", err)
	}
	if len(listed) != 1 || listed[0].UserID != "user-1" {
		t.Fatalf("unexpected connections: %+v", listed)
	}

	if err := store.DeleteConnection(ctx, "conn-1"); err != nil {
		t.Fatalf("delete connection: %v", err)
	}
	listed, err = store.ListConnections(ctx, "session-1")
	if err != nil {
		t.Fatalf("list connections: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected no connections, got %+v", listed)
	}

	// Deleting a missing connection is not an error.
	if err := store.DeleteConnection(ctx, "conn-1"); err != nil {
		t.Fatalf("delete missing connection: %v", err)
	}
}
