// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered account. Accounts are created only through
// the invitation flow: an administrator invites an email address, and the
// holder of the invitation token sets a password on registration.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // bcrypt hash, never serialized
	IsActive     bool       `json:"isActive"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
}
