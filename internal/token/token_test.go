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

package token

import (
	"testing"
	"time"

	"github.com/securedocs/securedocs/internal/authz"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// TestPurpose: Validates the round trip of issuing and parsing access and refresh tokens.
// Scope: Unit Test
// Security: Primary authentication token integrity
// Expected: Parsed claims carry the subject, role, and kind they were issued with.
// Test Case ID: TOK-01
func TestToken_Manager_RoundTrip(t *testing.T) {
	m := NewManager(testSecret, "securedocs", 15*time.Minute, 24*time.Hour)

	access, err := m.IssueAccess("user-1", authz.RoleSupervisor)
	if err != nil {
		t.Fatalf("issue access failed: %v", err)
	}

	claims, err := m.ParseAccess(access)
	if err != nil {
		t.Fatalf("parse access failed: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("expected subject user-1, got %s", claims.Subject)
	}
	if claims.Role != authz.RoleSupervisor {
		t.Errorf("expected supervisor role, got %s", claims.Role)
	}

	refresh, err := m.IssueRefresh("user-1", authz.RoleSupervisor)
	if err != nil {
		t.Fatalf("issue refresh failed: %v", err)
	}
	if _, err := m.ParseRefresh(refresh); err != nil {
		t.Errorf("parse refresh failed: %v", err)
	}
}

// TestPurpose: Validates that a refresh token cannot be used where an access token is required, and vice versa.
// Scope: Unit Test
// Security: Token kind confusion
// Expected: ErrWrongKind for crossed kinds.
// Test Case ID: TOK-02
func TestToken_Manager_KindConfusion(t *testing.T) {
	m := NewManager(testSecret, "securedocs", 15*time.Minute, 24*time.Hour)

	access, _ := m.IssueAccess("user-1", authz.RoleStandard)
	refresh, _ := m.IssueRefresh("user-1", authz.RoleStandard)

	if _, err := m.ParseAccess(refresh); err != ErrWrongKind {
		t.Errorf("expected ErrWrongKind for refresh-as-access, got %v", err)
	}
	if _, err := m.ParseRefresh(access); err != ErrWrongKind {
		t.Errorf("expected ErrWrongKind for access-as-refresh, got %v", err)
	}
}

// TestPurpose: Validates rejection of expired, tampered, and foreign-issuer tokens.
// Scope: Unit Test
// Security: Token forgery and replay bounds
// Expected: ErrInvalidToken in each case.
// Test Case ID: TOK-03
func TestToken_Manager_Rejection(t *testing.T) {
	m := NewManager(testSecret, "securedocs", 15*time.Minute, 24*time.Hour)

	// Expired
	expired := NewManager(testSecret, "securedocs", -1*time.Minute, 24*time.Hour)
	tok, _ := expired.IssueAccess("user-1", authz.RoleStandard)
	if _, err := m.ParseAccess(tok); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}

	// Signed with a different secret
	other := NewManager("ffffffffffffffffffffffffffffffff", "securedocs", 15*time.Minute, 24*time.Hour)
	tok, _ = other.IssueAccess("user-1", authz.RoleStandard)
	if _, err := m.ParseAccess(tok); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for foreign signature, got %v", err)
	}

	// Different issuer
	foreign := NewManager(testSecret, "someone-else", 15*time.Minute, 24*time.Hour)
	tok, _ = foreign.IssueAccess("user-1", authz.RoleStandard)
	if _, err := m.ParseAccess(tok); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for foreign issuer, got %v", err)
	}

	// Garbage
	if _, err := m.ParseAccess("not.a.token"); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for garbage, got %v", err)
	}
}
