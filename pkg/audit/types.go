package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	EventTypeAuthLogin            EventType = "auth.login"
	EventTypeAuthLoginFailed      EventType = "auth.login_failed"
	EventTypeAuthAccountLocked    EventType = "auth.account_locked"
	EventTypeAuthLogout           EventType = "auth.logout"
	EventTypeTokenIssue           EventType = "token.issue"
	EventTypeTokenRevoke          EventType = "token.revoke"
	EventTypeTokenRevokeAll       EventType = "token.revoke_all"
	EventTypeTokenValidateFail    EventType = "token.validate_fail"
	EventTypeTokenRecordCorrupted EventType = "token.record_corrupted"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being accessed
type ResourceType string

const (
	ResourceTypeIdentity ResourceType = "identity"
	ResourceTypeToken    ResourceType = "token"
	ResourceTypeSession  ResourceType = "session"
)

// Event represents a single audit log entry. The authentication core emits
// these; persistence and retention belong to the configured sink.
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information. IdentityID is empty when the actor is unknown,
	// e.g. a failed login for an unrecognized identifier.
	IdentityID string `json:"identity_id,omitempty"`

	// Resource information
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// Additional details. Reason carries the machine-readable failure code;
	// it never contains secrets or raw tokens.
	Reason   string                 `json:"reason,omitempty"`
	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return &event, err
}
