package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoExpiry is returned by JWTExpiry when the token carries no exp claim.
var ErrNoExpiry = errors.New("token has no exp claim")

// JWTExpiry reads the exp claim of a JWT without verifying its signature. It
// is only used to learn lifetimes the provider did not state explicitly; the
// server remains the authority on whether a token is accepted.
func JWTExpiry(raw string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, fmt.Errorf("token is not a JWT: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, ErrNoExpiry
	}
	return exp.Time, nil
}
