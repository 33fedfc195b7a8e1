// Package identity resolves the viewer behind a request.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Viewer is the authenticated person looking at a thread.
type Viewer struct {
	ID uint
}

type viewerKey struct{}

// WithViewer returns a context carrying v.
func WithViewer(ctx context.Context, v Viewer) context.Context {
	return context.WithValue(ctx, viewerKey{}, v)
}

// FromContext returns the viewer stored in ctx, if any.
func FromContext(ctx context.Context) (Viewer, bool) {
	v, ok := ctx.Value(viewerKey{}).(Viewer)
	return v, ok
}

// ContextResolver resolves the current viewer from the request context.
type ContextResolver struct{}

// CurrentViewer implements the identity port.
func (ContextResolver) CurrentViewer(ctx context.Context) (Viewer, bool) {
	return FromContext(ctx)
}

var (
	// ErrInvalidToken is returned for tokens that fail signature or expiry checks.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrInvalidSubject is returned when the sub claim is missing or not a viewer ID.
	ErrInvalidSubject = errors.New("invalid token subject")
)

// ParseToken validates an HS256 token and returns the viewer named by its
// "sub" claim.
func ParseToken(secret, raw string) (Viewer, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return Viewer{}, ErrInvalidToken
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return Viewer{}, ErrInvalidSubject
	}

	id, err := strconv.ParseUint(sub, 10, 32)
	if err != nil || id == 0 {
		return Viewer{}, ErrInvalidSubject
	}

	return Viewer{ID: uint(id)}, nil
}

// IssueToken signs a token for viewerID valid for ttl.
func IssueToken(secret string, viewerID uint, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(viewerID), 10),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
