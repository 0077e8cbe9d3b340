// Package models defines server-side data models persisted in the database.
package models

import "time"

// User is a vault account. Admins review access requests and receive OTPs.
type User struct {
	ID           string
	Email        string
	UserName     string
	PasswordHash string
	IsAdmin      bool
	IsActive     bool
	CreatedAt    time.Time
}

// Principal is the authenticated caller of a core operation.
type Principal struct {
	UserID  string
	IsAdmin bool
}
