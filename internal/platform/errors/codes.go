// Package errors provides structured error handling for the interaction engine.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Session lifecycle errors
	CodeSessionInvalidState      Code = "SESSION_INVALID_STATE"
	CodeSessionNotLive           Code = "SESSION_NOT_LIVE"
	CodeSessionEmptyID           Code = "SESSION_EMPTY_ID"
	CodeSessionEmptyDM           Code = "SESSION_EMPTY_DM"
	CodeSessionInvalidTransition Code = "SESSION_INVALID_STATUS_TRANSITION"

	// Turn engine errors
	CodeTurnNotYours            Code = "TURN_NOT_YOURS"
	CodeActionUnavailable       Code = "ACTION_UNAVAILABLE"
	CodeInitiativeOrderEmpty    Code = "INITIATIVE_ORDER_EMPTY"
	CodeInitiativeEntryInvalid  Code = "INITIATIVE_ENTRY_INVALID"
	CodeRollbackTargetInvalid   Code = "ROLLBACK_TARGET_INVALID"
	CodeRollbackTargetNotFound  Code = "ROLLBACK_TARGET_NOT_FOUND"
	CodeTurnRecordInvalidNumber Code = "TURN_RECORD_INVALID_NUMBER"

	// Participant errors
	CodeParticipantUnknown     Code = "PARTICIPANT_UNKNOWN"
	CodeParticipantEmptyEntity Code = "PARTICIPANT_EMPTY_ENTITY_ID"
	CodeParticipantInvalidType Code = "PARTICIPANT_INVALID_ENTITY_TYPE"
	CodeParticipantInvalidHP   Code = "PARTICIPANT_INVALID_HP"
	CodeConnectionEmptyID      Code = "CONNECTION_EMPTY_ID"

	// Authorization errors
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeGrantInvalid     Code = "GRANT_INVALID"
	CodeGrantExpired     Code = "GRANT_EXPIRED"
	CodeGrantMismatch    Code = "GRANT_MISMATCH"

	// Event log errors
	CodeEventInvalidType    Code = "EVENT_INVALID_TYPE"
	CodeEventInvalidPayload Code = "EVENT_INVALID_PAYLOAD"

	// Batch gateway errors
	CodeBatchValidation Code = "BATCH_VALIDATION_FAILED"
	CodeBatchEmpty      Code = "BATCH_EMPTY"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
	CodeConflict Code = "CONFLICT"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeSessionEmptyID,
		CodeSessionEmptyDM,
		CodeActionUnavailable,
		CodeInitiativeOrderEmpty,
		CodeInitiativeEntryInvalid,
		CodeRollbackTargetInvalid,
		CodeTurnRecordInvalidNumber,
		CodeParticipantEmptyEntity,
		CodeParticipantInvalidType,
		CodeParticipantInvalidHP,
		CodeConnectionEmptyID,
		CodeEventInvalidType,
		CodeEventInvalidPayload,
		CodeBatchEmpty:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeSessionInvalidState,
		CodeSessionNotLive,
		CodeSessionInvalidTransition,
		CodeTurnNotYours,
		CodeBatchValidation,
		CodeConflict:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeParticipantUnknown,
		CodeRollbackTargetNotFound:
		return codes.NotFound

	// PermissionDenied - caller lacks the DM-of-record privilege
	case CodePermissionDenied:
		return codes.PermissionDenied

	// Unauthenticated - join grant problems
	case CodeGrantInvalid,
		CodeGrantExpired,
		CodeGrantMismatch:
		return codes.Unauthenticated

	default:
		return codes.Internal
	}
}
