package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const sessionIssuer = "comments-service"

// DefaultSessionTTL is the lifetime of an issued moderator session.
const DefaultSessionTTL = 2 * time.Hour

// SessionClaims are the JWT claims of a moderator session token. The token
// id travels as the registered "jti" claim.
type SessionClaims struct {
	AdminID     string `json:"adminId"`
	DisplayName string `json:"displayName"`
	jwt.RegisteredClaims
}

// Session is a freshly issued session token.
type Session struct {
	Token       string    `json:"token"`
	TokenID     string    `json:"tokenId"`
	ExpiresAt   time.Time `json:"expiresAt"`
	AdminID     string    `json:"adminId"`
	DisplayName string    `json:"displayName"`
}

// SessionManager signs and verifies HS256 session tokens.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionManager creates a manager. A non-positive ttl uses DefaultSessionTTL.
func NewSessionManager(secret string, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a session token for the given moderator.
func (m *SessionManager) Issue(adminID, displayName string) (*Session, error) {
	now := m.now().UTC()
	expiresAt := now.Add(m.ttl)
	claims := &SessionClaims{
		AdminID:     adminID,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   adminID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    sessionIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	return &Session{
		Token:       signed,
		TokenID:     claims.ID,
		ExpiresAt:   expiresAt.Truncate(time.Second),
		AdminID:     adminID,
		DisplayName: displayName,
	}, nil
}

// Validate parses a session token and returns its claims.
func (m *SessionManager) Validate(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithTimeFunc(m.now),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid session token claims")
	}
	if claims.AdminID == "" || claims.ID == "" {
		return nil, errors.New("session token is missing identity claims")
	}

	return claims, nil
}
