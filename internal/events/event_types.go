package events

import (
	"time"

	"github.com/spec-kit/auth-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventUserRegistered  EventType = "user_registered"
	EventUserLoggedIn    EventType = "user_logged_in"
	EventSessionRevoked  EventType = "session_revoked"
	EventPasswordChanged EventType = "password_changed"
	EventAccountDeleted  EventType = "account_deleted"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Subject   string      `json:"subject"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// UserRegisteredPayload payload.
type UserRegisteredPayload struct {
	Username string      `json:"username"`
	Email    string      `json:"email"`
	Role     domain.Role `json:"role"`
}

// UserLoggedInPayload payload.
type UserLoggedInPayload struct {
	Username string `json:"username"`
}

// SessionRevokedPayload payload.
type SessionRevokedPayload struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// PasswordChangedPayload payload.
type PasswordChangedPayload struct {
	Username string `json:"username"`
}
