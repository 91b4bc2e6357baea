package service

import (
	"context"
	"strconv"

	"github.com/torchlit/gametable/internal/interaction/identity"
	"github.com/torchlit/gametable/internal/interaction/storage"
	apperrors "github.com/torchlit/gametable/internal/platform/errors"
)

// BatchMutate applies a group of mutations for one session in a single
// transaction. Every operation must target sessionID; the whole batch is
// rejected before any write when one does not. DM only.
//
// This is the raw gateway for DM tooling and imports. The typed use-cases
// remain the preferred surface; BatchMutate skips their per-operation
// validation beyond session scoping and event typing.
func (s *Service) BatchMutate(ctx context.Context, principal identity.Principal, sessionID string, ops []storage.Operation) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	ctx, span := s.tracer.Start(ctx, "interaction.BatchMutate")
	defer span.End()

	if len(ops) == 0 {
		return 0, apperrors.New(apperrors.CodeBatchEmpty, "batch has no operations")
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if err := identity.RequireDM(principal, session); err != nil {
		return 0, err
	}

	for i, op := range ops {
		if err := validateOperation(op, sessionID); err != nil {
			return 0, apperrors.Wrap(apperrors.CodeBatchValidation,
				"batch operation "+strconv.Itoa(i)+" rejected", err)
		}
	}

	lastSeq, err := s.store.ApplyBatch(ctx, ops)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeBatchValidation, "batch apply failed", err)
	}
	return lastSeq, nil
}

func validateOperation(op storage.Operation, sessionID string) error {
	set := 0
	scoped := ""
	switch {
	case op.PutSession != nil:
		set++
		scoped = op.PutSession.ID
	case op.AppendEvent != nil:
		set++
		scoped = op.AppendEvent.SessionID
		if !op.AppendEvent.Type.IsValid() {
			return apperrors.WithMetadata(apperrors.CodeEventInvalidType,
				"unknown event type",
				map[string]string{"type": string(op.AppendEvent.Type)})
		}
	case op.PutTurnRecord != nil:
		set++
		scoped = op.PutTurnRecord.SessionID
	case op.PutParticipant != nil:
		set++
		scoped = op.PutParticipant.SessionID
	case op.PutConnection != nil:
		set++
		scoped = op.PutConnection.SessionID
	case op.DeleteConnection != nil:
		set++
		// Connection ids are globally unique; scoping is checked by the
		// store when the row exists.
		scoped = sessionID
	case op.ClearParticipants != nil:
		set++
		scoped = op.ClearParticipants.SessionID
	case op.SupersedeAfter != nil:
		set++
		scoped = op.SupersedeAfter.SessionID
	}
	if set != 1 {
		return apperrors.New(apperrors.CodeBatchValidation, "operation must set exactly one field")
	}
	if scoped != sessionID {
		return apperrors.WithMetadata(apperrors.CodeBatchValidation,
			"operation targets a different session",
			map[string]string{"session_id": scoped})
	}
	return nil
}
