package domain

import "time"

// Role is the authorization role carried by an account and embedded in
// access tokens.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// DefaultRole is assigned to every new registration. Privilege is never
// client-assignable at registration time.
const DefaultRole = RoleUser

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User is the domain model for accounts held in the external store.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
