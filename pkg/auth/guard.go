package auth

import "github.com/google/uuid"

// Decision is the outcome of an authorization check
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow returns a positive decision
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a negative decision with a reason for the audit trail
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// CanRevokeAllTokens reports whether the principal may revoke every token of
// the given owner. Self-service only: bulk revocation never crosses owners.
func CanRevokeAllTokens(principal *Principal, ownerID uuid.UUID) Decision {
	if principal == nil {
		return Deny("no principal")
	}
	if principal.IdentityID != ownerID {
		return Deny("cannot revoke tokens of another identity")
	}
	return Allow()
}

// CanListSessions reports whether the principal may enumerate the given
// owner's live sessions
func CanListSessions(principal *Principal, ownerID uuid.UUID) Decision {
	if principal == nil {
		return Deny("no principal")
	}
	if principal.IdentityID != ownerID {
		return Deny("cannot list sessions of another identity")
	}
	return Allow()
}
