package models

import "time"

// RefreshToken is a server-stored, single-use token exchanged for a new
// access/refresh pair.
type RefreshToken struct {
	UserID    string
	Token     string
	Expires   time.Time
	CreatedAt time.Time
}
