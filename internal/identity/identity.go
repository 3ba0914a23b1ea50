// Package identity verifies bearer tokens presented by chat callers.
package identity

import (
	"context"
	"errors"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims is the verified caller identity attached to a request.
type Claims struct {
	Subject string
	Email   string
	Issuer  string
}

// Verifier checks a raw bearer token. Implementations return ErrInvalidToken
// or ErrExpiredToken (possibly wrapped) on rejection.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// Reject is used when no verifier is configured: any presented token fails.
type Reject struct{}

func (Reject) Verify(context.Context, string) (*Claims, error) {
	return nil, ErrInvalidToken
}
