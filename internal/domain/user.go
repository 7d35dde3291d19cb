package domain

import "time"

// User is an operator allowed to submit and manage download jobs.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
