package service

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type tokenClaims struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

// tokenExpired decodes the API token without verifying its signature (the
// backend signs and verifies; we only need the expiry) and reports whether it
// is past, with a small skew allowance so a token about to die is not sent.
func tokenExpired(token string) bool {
	claims := &tokenClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil || claims.ExpiresAt == nil {
		return true
	}
	return time.Now().Add(10 * time.Second).After(claims.ExpiresAt.Time)
}
