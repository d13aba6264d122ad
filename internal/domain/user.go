package domain

import "time"

// Role represents the authorization level of an account.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User is the domain model for registered accounts. PasswordHash always
// holds a bcrypt hash, never the plaintext.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
