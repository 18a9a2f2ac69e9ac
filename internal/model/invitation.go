package model

import "time"

// Invitation is a single-use registration token bound to an email address.
// Registration consumes it; a used invitation can never be redeemed again.
type Invitation struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"createdAt"`
}
