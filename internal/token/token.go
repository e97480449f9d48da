// Copyright 2026 The SecureDocs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package token issues and verifies the HS256 access and refresh
// tokens used for primary authentication.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/securedocs/securedocs/internal/authz"
)

// Domain errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrWrongKind    = errors.New("wrong token kind")
)

// Token kinds
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// Claims carries the authenticated identity inside a signed token.
type Claims struct {
	Role authz.Role `json:"role"`
	Kind string     `json:"kind"`
	jwt.RegisteredClaims
}

// Manager signs and parses tokens with a shared HMAC secret.
type Manager struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewManager creates a token manager.
func NewManager(secret, issuer string, accessTTL, refreshTTL time.Duration) *Manager {
	return &Manager{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// IssueAccess creates a short-lived access token for the user.
func (m *Manager) IssueAccess(userID string, role authz.Role) (string, error) {
	return m.issue(userID, role, KindAccess, m.accessTTL)
}

// IssueRefresh creates a long-lived refresh token for the user.
func (m *Manager) IssueRefresh(userID string, role authz.Role) (string, error) {
	return m.issue(userID, role, KindRefresh, m.refreshTTL)
}

func (m *Manager) issue(userID string, role authz.Role, kind string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseAccess verifies a token and requires it to be an access token.
func (m *Manager) ParseAccess(tokenString string) (*Claims, error) {
	return m.parse(tokenString, KindAccess)
}

// ParseRefresh verifies a token and requires it to be a refresh token.
func (m *Manager) ParseRefresh(tokenString string) (*Claims, error) {
	return m.parse(tokenString, KindRefresh)
}

func (m *Manager) parse(tokenString, kind string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Kind != kind {
		return nil, ErrWrongKind
	}
	return claims, nil
}
