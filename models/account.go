package models

import "time"

// Account is the identity record held by the remote identity service.
type Account struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	Name              string    `json:"name"`
	EmailVerification bool      `json:"emailVerification"`
	CreatedAt         time.Time `json:"createdAt,omitempty"`
}

// Session is one authenticated session. Secret is replayed on the session
// header for subsequent requests and must never be logged.
type Session struct {
	ID     string    `json:"id"`
	UserID string    `json:"userId"`
	Secret string    `json:"-"`
	Expire time.Time `json:"expire,omitempty"`
}
