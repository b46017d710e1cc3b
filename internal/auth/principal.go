package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrUnauthenticated = errors.New("no session or customer token")

// Principal identifies the caller: an authenticated customer (UserID set)
// or a guest known only by an opaque session id.
type Principal struct {
	UserID    *uuid.UUID
	SessionID string
}

func (p Principal) Authenticated() bool {
	return p.UserID != nil
}

// Guest builds a guest principal for the given session id.
func Guest(sessionID string) Principal {
	return Principal{SessionID: sessionID}
}

type sessionClaims struct {
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Authority resolves principals from requests. Token issuance lives with the
// account system; this side only verifies.
type Authority struct {
	signingKey []byte
}

func NewAuthority(signingKey string) *Authority {
	return &Authority{signingKey: []byte(signingKey)}
}

// FromRequest resolves the request's principal. A bearer token wins over the
// session header; a request carrying neither is unauthenticated.
func (a *Authority) FromRequest(r *http.Request) (Principal, error) {
	if raw, ok := bearerToken(r); ok {
		return a.fromToken(raw)
	}
	if sid := r.Header.Get("X-Session-ID"); sid != "" {
		return Guest(sid), nil
	}
	return Principal{}, ErrUnauthenticated
}

func (a *Authority) fromToken(raw string) (Principal, error) {
	if len(a.signingKey) == 0 {
		return Principal{}, errors.New("customer tokens are not configured")
	}

	var claims sessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Principal{}, fmt.Errorf("parse customer token: %w", err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Principal{}, fmt.Errorf("invalid subject in customer token: %w", err)
	}

	return Principal{UserID: &userID, SessionID: claims.SessionID}, nil
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
