// Package credential validates the shape and freshness of the bearer token
// the sync daemon presents to the realtime channel. Signature verification
// is the server's job; this gate only refuses tokens that cannot possibly
// work, so a revoked-at-rest token never opens a channel.
package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformedCredential = errors.New("malformed credential")
	ErrMissingSubject      = errors.New("credential missing subject")
	ErrExpiredCredential   = errors.New("expired credential")
)

// Claims is the subset of token claims the daemon cares about.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Parse decodes the token without verifying its signature and checks that
// it names a subject and has not expired as of now.
func Parse(raw string, now time.Time) (Claims, error) {
	registered := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, &registered); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}
	if registered.Subject == "" {
		return Claims{}, ErrMissingSubject
	}
	if registered.ExpiresAt == nil || !registered.ExpiresAt.After(now) {
		return Claims{}, ErrExpiredCredential
	}
	return Claims{Subject: registered.Subject, ExpiresAt: registered.ExpiresAt.Time}, nil
}

// Validator adapts Parse to the coordinator's CredentialValidator contract.
type Validator struct{}

// NewValidator returns a stateless Validator.
func NewValidator() Validator {
	return Validator{}
}

// Validate reports whether the credential is usable at the given instant.
func (Validator) Validate(raw string, now time.Time) error {
	_, err := Parse(raw, now)
	return err
}
