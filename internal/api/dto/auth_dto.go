package dto

import "time"

// RegisterRequest payload for new accounts. Any role supplied by the client
// is ignored.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

// LoginRequest payload for login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RefreshRequest payload for refresh-token rotation.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// SessionResponse is returned by login and refresh.
type SessionResponse struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RegisterResponse confirms a new account.
type RegisterResponse struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// PasswordResetRequest starts a reset flow.
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// PasswordResetConfirm completes a reset flow.
type PasswordResetConfirm struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}
