package credential

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(test *testing.T, subject string, expiresAt time.Time) string {
	test.Helper()
	claims := jwt.RegisteredClaims{Subject: subject}
	if !expiresAt.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		test.Fatalf("sign token: %v", err)
	}
	return token
}

func TestParseAcceptsFreshToken(test *testing.T) {
	test.Parallel()
	now := time.Now()
	raw := signedToken(test, "user-1", now.Add(time.Hour))
	claims, err := Parse(raw, now)
	if err != nil {
		test.Fatalf("parse: %v", err)
	}
	if claims.Subject != "user-1" {
		test.Fatalf("unexpected subject %q", claims.Subject)
	}
}

func TestParseRejectsGarbage(test *testing.T) {
	test.Parallel()
	if _, err := Parse("not-a-token", time.Now()); !errors.Is(err, ErrMalformedCredential) {
		test.Fatalf("expected ErrMalformedCredential, got %v", err)
	}
}

func TestParseRejectsMissingSubject(test *testing.T) {
	test.Parallel()
	now := time.Now()
	raw := signedToken(test, "", now.Add(time.Hour))
	if _, err := Parse(raw, now); !errors.Is(err, ErrMissingSubject) {
		test.Fatalf("expected ErrMissingSubject, got %v", err)
	}
}

func TestParseRejectsExpiredToken(test *testing.T) {
	test.Parallel()
	now := time.Now()
	raw := signedToken(test, "user-1", now.Add(-time.Minute))
	if _, err := Parse(raw, now); !errors.Is(err, ErrExpiredCredential) {
		test.Fatalf("expected ErrExpiredCredential, got %v", err)
	}
}

func TestParseRejectsTokenWithoutExpiry(test *testing.T) {
	test.Parallel()
	raw := signedToken(test, "user-1", time.Time{})
	if _, err := Parse(raw, time.Now()); !errors.Is(err, ErrExpiredCredential) {
		test.Fatalf("expected ErrExpiredCredential, got %v", err)
	}
}

func TestValidatorAdaptsParse(test *testing.T) {
	test.Parallel()
	now := time.Now()
	validator := NewValidator()
	if err := validator.Validate(signedToken(test, "user-1", now.Add(time.Hour)), now); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if err := validator.Validate("junk", now); err == nil {
		test.Fatalf("expected validation failure")
	}
}
