package domain

import "time"

// User is an account that owns watch progress records and playback
// sessions. Every authenticated API surface is scoped to one user.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
