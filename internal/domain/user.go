package domain

import "time"

// User is a registered account identified by a unique username.
// Users are immutable after registration; there is no profile editing.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
