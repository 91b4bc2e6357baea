// Package identity defines who is acting on a session and what they are
// allowed to touch.
package identity

import (
	"strings"

	"github.com/torchlit/gametable/internal/interaction/domain"
	apperrors "github.com/torchlit/gametable/internal/platform/errors"
)

// Principal is the authenticated caller of an operation.
type Principal struct {
	UserID string
	// GameMaster is set when the caller authenticated with DM privileges.
	// DM-of-record checks still compare against the session's DMID.
	GameMaster bool
}

// IsZero reports whether the principal carries no identity.
func (p Principal) IsZero() bool {
	return strings.TrimSpace(p.UserID) == ""
}

// RequireDM verifies the principal is the DM of record for the session.
func RequireDM(principal Principal, session domain.Session) error {
	if principal.IsZero() {
		return apperrors.New(apperrors.CodePermissionDenied, "caller identity is required")
	}
	if principal.UserID != session.DMID {
		return apperrors.WithMetadata(apperrors.CodePermissionDenied,
			"caller is not the dm of record",
			map[string]string{"user_id": principal.UserID})
	}
	return nil
}

// CanActFor reports whether the principal may act on behalf of a
// participant. The DM of record acts for any entity; players act only for
// entities they control.
func CanActFor(principal Principal, session domain.Session, participant domain.Participant) bool {
	if principal.IsZero() {
		return false
	}
	if principal.UserID == session.DMID {
		return true
	}
	return participant.UserID != "" && participant.UserID == principal.UserID
}
