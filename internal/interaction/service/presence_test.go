package service

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/torchlit/gametable/internal/interaction/domain"
	"github.com/torchlit/gametable/internal/interaction/identity"
	apperrors "github.com/torchlit/gametable/internal/platform/errors"
)

func TestJoin_RegistersParticipantAndConnection(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx := context.Background()
	session := startEncounter(t, fix, domain.InitializeOptions{})

	participant, err := fix.service.Join(ctx, identity.Principal{UserID: "user-bard"}, JoinInput{
		SessionID:    session.ID,
		ConnectionID: "conn-bard-1",
		EntityID:     "bard",
		EntityType:   domain.EntityTypeCharacter,
		DisplayName:  "Dandelion",
		CurrentHP:    8,
		MaxHP:        8,
		Conditions:   []string{"Inspired", "inspired"},
	})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if participant.TurnStatus != domain.TurnStatusWaiting {
		t.Errorf("turn status = %q, want waiting", participant.TurnStatus)
	}
	if len(participant.Conditions) != 1 || participant.Conditions[0] != "inspired" {
		t.Errorf("conditions = %v, want deduplicated lowercase", participant.Conditions)
	}

	connections, err := fix.store.ListConnections(ctx, session.ID)
	if err != nil {
		t.Fatalf("ListConnections: %v", err)
	}
	if len(connections) != 1 || connections[0].ID != "conn-bard-1" {
		t.Fatalf("connections = %v, want conn-bard-1", connections)
	}

	events, err := fix.store.ListEvents(ctx, session.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	last := events[len(events)-1]
	if last.Type != domain.EventParticipantJoined || last.EntityID != "bard" {
		t.Errorf("last event = %s/%s, want participant.joined for bard", last.Type, last.EntityID)
	}
}

func TestJoin_ActiveEntityGetsActiveStatus(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx := context.Background()
	session := startEncounter(t, fix, domain.InitializeOptions{})

	// The rogue holds the first turn; leaving and rejoining must restore
	// the active marker.
	if err := fix.service.Leave(ctx, identity.Principal{UserID: "user-rogue"}, session.ID, "rogue", ""); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	participant, err := fix.service.Join(ctx, identity.Principal{UserID: "user-rogue"}, JoinInput{
		SessionID:  session.ID,
		EntityID:   "rogue",
		EntityType: domain.EntityTypeCharacter,
	})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if participant.TurnStatus != domain.TurnStatusActive {
		t.Errorf("turn status = %q, want active", participant.TurnStatus)
	}
	if !participant.Connected {
		t.Error("expected participant reconnected")
	}
}

func TestJoin_ReconnectKeepsCombatState(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx := context.Background()
	session := startEncounter(t, fix, domain.InitializeOptions{})

	hp := 3
	if _, err := fix.service.UpdateParticipantState(ctx, identity.Principal{UserID: "user-cleric"}, UpdateStateInput{
		SessionID: session.ID,
		EntityID:  "cleric",
		Update:    domain.StateUpdate{CurrentHP: &hp},
	}); err != nil {
		t.Fatalf("UpdateParticipantState: %v", err)
	}
	if err := fix.service.Leave(ctx, identity.Principal{UserID: "user-cleric"}, session.ID, "cleric", ""); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	// Rejoin advertises full health; the stored state wins.
	participant, err := fix.service.Join(ctx, identity.Principal{UserID: "user-cleric"}, JoinInput{
		SessionID:  session.ID,
		EntityID:   "cleric",
		EntityType: domain.EntityTypeCharacter,
		CurrentHP:  10,
		MaxHP:      10,
	})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if participant.CurrentHP != 3 {
		t.Errorf("hp = %d, want 3 preserved across reconnect", participant.CurrentHP)
	}
}

func TestJoin_RejectsIdleSession(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx := context.Background()

	session, err := fix.service.CreateSession(ctx, domain.CreateSessionInput{Name: "Not Yet", DMID: "dm-1"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	_, err = fix.service.Join(ctx, identity.Principal{UserID: "user-rogue"}, JoinInput{
		SessionID:  session.ID,
		EntityID:   "rogue",
		EntityType: domain.EntityTypeCharacter,
	})
	if !apperrors.IsCode(err, apperrors.CodeSessionNotLive) {
		t.Fatalf("error = %v, want CodeSessionNotLive", err)
	}
}

func TestLeave_RetainsInitiativeSlot(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx := context.Background()
	session := startEncounter(t, fix, domain.InitializeOptions{})

	if err := fix.service.Leave(ctx, identity.Principal{UserID: "user-rogue"}, session.ID, "rogue", ""); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	participant, err := fix.store.GetParticipant(ctx, session.ID, "rogue")
	if err != nil {
		t.Fatalf("GetParticipant: %v", err)
	}
	if participant.Connected {
		t.Error("expected participant disconnected")
	}

	// The disconnected rogue still holds the turn; the DM skips it.
	session, err = fix.service.SkipTurn(ctx, dmPrincipal, session.ID)
	if err != nil {
		t.Fatalf("SkipTurn: %v", err)
	}
	if session.TurnNumber != 1 {
		t.Errorf("turn = %d, want 1", session.TurnNumber)
	}
}

func TestLeave_RejectsOtherPlayers(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx := context.Background()
	session := startEncounter(t, fix, domain.InitializeOptions{})

	err := fix.service.Leave(ctx, identity.Principal{UserID: "user-cleric"}, session.ID, "rogue", "")
	if !apperrors.IsCode(err, apperrors.CodePermissionDenied) {
		t.Fatalf("error = %v, want CodePermissionDenied", err)
	}
}

func TestUpdateParticipantState_PartialMerge(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx := context.Background()
	session := startEncounter(t, fix, domain.InitializeOptions{})

	hp := 6
	position := domain.Position{X: 3, Y: 7}
	participant, err := fix.service.UpdateParticipantState(ctx, identity.Principal{UserID: "user-rogue"}, UpdateStateInput{
		SessionID: session.ID,
		EntityID:  "rogue",
		Update: domain.StateUpdate{
			CurrentHP: &hp,
			Position:  &position,
		},
	})
	if err != nil {
		t.Fatalf("UpdateParticipantState: %v", err)
	}
	if participant.CurrentHP != 6 || participant.MaxHP != 10 {
		t.Errorf("hp = %d/%d, want 6/10", participant.CurrentHP, participant.MaxHP)
	}
	if participant.Position != position {
		t.Errorf("position = %v, want %v", participant.Position, position)
	}
	// Untouched fields survive.
	if len(participant.AvailableActions) != 2 {
		t.Errorf("capabilities = %d, want 2 untouched", len(participant.AvailableActions))
	}

	events, err := fix.store.ListEvents(ctx, session.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if events[len(events)-1].Type != domain.EventParticipantUpdated {
		t.Errorf("last event = %s, want participant.updated", events[len(events)-1].Type)
	}
}

func TestUpdateParticipantState_DMMayActForAnyone(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx := context.Background()
	session := startEncounter(t, fix, domain.InitializeOptions{})

	hp := 1
	if _, err := fix.service.UpdateParticipantState(ctx, dmPrincipal, UpdateStateInput{
		SessionID: session.ID,
		EntityID:  "rogue",
		Update:    domain.StateUpdate{CurrentHP: &hp},
	}); err != nil {
		t.Fatalf("UpdateParticipantState as dm: %v", err)
	}

	_, err := fix.service.UpdateParticipantState(ctx, identity.Principal{UserID: "user-cleric"}, UpdateStateInput{
		SessionID: session.ID,
		EntityID:  "rogue",
		Update:    domain.StateUpdate{CurrentHP: &hp},
	})
	if !apperrors.IsCode(err, apperrors.CodePermissionDenied) {
		t.Fatalf("error = %v, want CodePermissionDenied", err)
	}
}

func TestUpdateParticipantState_RejectsInvalidHP(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx := context.Background()
	session := startEncounter(t, fix, domain.InitializeOptions{})

	hp := 99
	_, err := fix.service.UpdateParticipantState(ctx, identity.Principal{UserID: "user-rogue"}, UpdateStateInput{
		SessionID: session.ID,
		EntityID:  "rogue",
		Update:    domain.StateUpdate{CurrentHP: &hp},
	})
	if !apperrors.IsCode(err, apperrors.CodeParticipantInvalidHP) {
		t.Fatalf("error = %v, want CodeParticipantInvalidHP", err)
	}
}

func TestJoin_WithGrantValidation(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx := context.Background()
	session := startEncounter(t, fix, domain.InitializeOptions{})

	public, private, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	cfg := identity.GrantConfig{
		Issuer:   "gametable-test",
		Audience: "interaction",
		Key:      public,
		Now:      fix.clock.Now,
	}
	fix.service.SetGrantConfig(cfg)

	grant, err := identity.IssueSessionGrant(private, cfg, identity.GrantClaims{
		JWTID:     "grant-1",
		SessionID: session.ID,
		UserID:    "user-bard",
		EntityID:  "bard",
	}, time.Hour)
	if err != nil {
		t.Fatalf("IssueSessionGrant: %v", err)
	}

	if _, err := fix.service.Join(ctx, identity.Principal{UserID: "user-bard"}, JoinInput{
		SessionID:  session.ID,
		Grant:      grant,
		EntityID:   "bard",
		EntityType: domain.EntityTypeCharacter,
		CurrentHP:  8,
		MaxHP:      8,
	}); err != nil {
		t.Fatalf("Join with grant: %v", err)
	}

	// The same grant does not admit a different entity.
	_, err = fix.service.Join(ctx, identity.Principal{UserID: "user-bard"}, JoinInput{
		SessionID:  session.ID,
		Grant:      grant,
		EntityID:   "imp",
		EntityType: domain.EntityTypeMonster,
	})
	if !apperrors.IsCode(err, apperrors.CodeGrantMismatch) {
		t.Fatalf("error = %v, want CodeGrantMismatch", err)
	}

	// Missing grant is rejected outright.
	_, err = fix.service.Join(ctx, identity.Principal{UserID: "user-bard"}, JoinInput{
		SessionID:  session.ID,
		EntityID:   "bard",
		EntityType: domain.EntityTypeCharacter,
	})
	if !apperrors.IsCode(err, apperrors.CodeGrantInvalid) {
		t.Fatalf("error = %v, want CodeGrantInvalid", err)
	}
}
