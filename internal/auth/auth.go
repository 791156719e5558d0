// Package auth issues and verifies the bearer tokens clients present on
// the realtime handshake and the HTTP API.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rohitpatil2845/BAATKANE/internal/apperr"
)

// Claims is the token payload. UserID is carried as "userId".
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Authenticator signs and verifies HS256 tokens with a shared secret.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// New returns an Authenticator. ttl is the lifetime of issued tokens.
func New(secret string, ttl time.Duration) *Authenticator {
	return &Authenticator{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for userID that expires after the configured TTL.
func (a *Authenticator) Issue(userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, apperr.Invalid("user id is required")
	}
	now := a.now()
	exp := now.Add(a.ttl)
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm and expiry and returns the user ID.
// Every failure is an authentication error.
func (a *Authenticator) Verify(token string) (string, error) {
	if token == "" {
		return "", apperr.Unauthenticated("Authentication required")
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", apperr.Wrap(apperr.Authentication, "Token has expired", err)
	case err != nil:
		return "", apperr.Wrap(apperr.Authentication, "Invalid token", err)
	case claims.UserID == "":
		return "", apperr.Unauthenticated("Invalid token claims")
	}
	return claims.UserID, nil
}

// TokenFromRequest extracts a bearer token from the Authorization header,
// falling back to the "token" query parameter used by browser websockets.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
