package dto

// ChangePasswordRequest payload for authenticated password change.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// UpdateProfileRequest payload for username updates.
type UpdateProfileRequest struct {
	Username string `json:"username"`
}

// ProfileResponse describes the authenticated account.
type ProfileResponse struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}
