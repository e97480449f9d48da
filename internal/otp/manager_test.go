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

package otp

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/securedocs/securedocs/internal/audit"
	"github.com/securedocs/securedocs/internal/authz"
	"github.com/securedocs/securedocs/internal/identity"
)

// fixedClock returns a settable instant for deterministic code checks.
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

// mockUserRepository is an in-memory identity.UserRepository restricted
// to the operations the manager touches.
type mockUserRepository struct {
	users map[string]*identity.User
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{users: make(map[string]*identity.User)}
}

func (m *mockUserRepository) Create(ctx context.Context, user *identity.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepository) AddCredentials(ctx context.Context, c *identity.Credentials) error {
	return nil
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string) (*identity.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return u, nil
}

func (m *mockUserRepository) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (m *mockUserRepository) Update(ctx context.Context, user *identity.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepository) UpdateLockout(ctx context.Context, userID string, failedAttempts int, locked bool) error {
	return nil
}

func (m *mockUserRepository) RecordFailedAttempt(ctx context.Context, userID string, maxAttempts int) (int, bool, error) {
	u, ok := m.users[userID]
	if !ok {
		return 0, false, identity.ErrUserNotFound
	}
	u.FailedAttempts++
	if u.FailedAttempts >= maxAttempts {
		u.Locked = true
	}
	return u.FailedAttempts, u.Locked, nil
}

func (m *mockUserRepository) UpdateSecondFactor(ctx context.Context, userID string, sf identity.SecondFactor) error {
	u, ok := m.users[userID]
	if !ok {
		return identity.ErrUserNotFound
	}
	u.SecondFactor = sf
	return nil
}

func (m *mockUserRepository) UpdateLastAccess(ctx context.Context, userID string, at time.Time) error {
	return nil
}

func (m *mockUserRepository) List(ctx context.Context) ([]*identity.User, error) {
	return nil, nil
}

func (m *mockUserRepository) Delete(ctx context.Context, id string) error {
	delete(m.users, id)
	return nil
}

func (m *mockUserRepository) GetCredentials(ctx context.Context, userID string) (*identity.Credentials, error) {
	return nil, identity.ErrUserNotFound
}

func (m *mockUserRepository) UpdatePassword(ctx context.Context, userID string, passwordHash string) error {
	return nil
}

func newTestUser(repo *mockUserRepository) *identity.User {
	u := &identity.User{
		ID:     "user-1",
		Email:  "otp@example.com",
		Role:   authz.RoleStandard,
		Active: true,
	}
	repo.users[u.ID] = u
	return u
}

// TestPurpose: Validates the full enrollment lifecycle from not-configured through provisioning and activation to routine verification.
// Scope: Unit Test
// Security: Step-up authentication enrollment
// Expected: Provision yields a secret, a valid first code activates, and later valid codes verify.
// Test Case ID: OTP-01
func TestOtp_Manager_Lifecycle(t *testing.T) {
	repo := newMockUserRepository()
	user := newTestUser(repo)
	clock := &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(repo, audit.NewSlogLogger(), clock, "SecureDocs")

	ctx := context.Background()

	// Verification before any setup reports not configured
	if err := m.VerifyCode(ctx, user.ID, "123456"); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	enrollment, err := m.BeginProvisioning(ctx, user.ID)
	if err != nil {
		t.Fatalf("provisioning failed: %v", err)
	}
	if enrollment.Secret == "" || enrollment.URL == "" {
		t.Fatal("expected non-empty secret and URL")
	}
	if user.SecondFactor.State() != identity.SecondFactorPendingActivation {
		t.Fatalf("expected pending state, got %s", user.SecondFactor.State())
	}

	// Verification while pending still reports not configured
	if err := m.VerifyCode(ctx, user.ID, "123456"); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured while pending, got %v", err)
	}

	code, err := totp.GenerateCode(enrollment.Secret, clock.now)
	if err != nil {
		t.Fatalf("failed to generate code: %v", err)
	}

	if err := m.ConfirmActivation(ctx, user.ID, code); err != nil {
		t.Fatalf("activation failed: %v", err)
	}
	if user.SecondFactor.State() != identity.SecondFactorActive {
		t.Fatalf("expected active state, got %s", user.SecondFactor.State())
	}

	// A later code verifies
	clock.now = clock.now.Add(5 * time.Minute)
	code, err = totp.GenerateCode(enrollment.Secret, clock.now)
	if err != nil {
		t.Fatalf("failed to generate code: %v", err)
	}
	if err := m.VerifyCode(ctx, user.ID, code); err != nil {
		t.Errorf("expected verify success, got %v", err)
	}
	if user.SecondFactor.LastVerifiedAt == nil || !user.SecondFactor.LastVerifiedAt.Equal(clock.now) {
		t.Error("expected LastVerifiedAt to record the verification time")
	}
}

// TestPurpose: Validates that codes from the adjacent 30-second steps are accepted while codes two steps away are rejected.
// Scope: Unit Test
// Security: Clock-drift tolerance bounds
// Expected: Codes at -30s and +30s pass, codes at -60s and +60s fail.
// Test Case ID: OTP-02
func TestOtp_Manager_VerifyCode_SkewWindow(t *testing.T) {
	repo := newMockUserRepository()
	user := newTestUser(repo)
	clock := &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 15, 0, time.UTC)}
	m := NewManager(repo, audit.NewSlogLogger(), clock, "SecureDocs")

	ctx := context.Background()

	enrollment, err := m.BeginProvisioning(ctx, user.ID)
	if err != nil {
		t.Fatalf("provisioning failed: %v", err)
	}
	code, _ := totp.GenerateCode(enrollment.Secret, clock.now)
	if err := m.ConfirmActivation(ctx, user.ID, code); err != nil {
		t.Fatalf("activation failed: %v", err)
	}

	cases := []struct {
		name   string
		offset time.Duration
		wantOK bool
	}{
		{"previous step", -30 * time.Second, true},
		{"current step", 0, true},
		{"next step", 30 * time.Second, true},
		{"two steps behind", -60 * time.Second, false},
		{"two steps ahead", 60 * time.Second, false},
	}

	for _, tc := range cases {
		code, err := totp.GenerateCode(enrollment.Secret, clock.now.Add(tc.offset))
		if err != nil {
			t.Fatalf("%s: failed to generate code: %v", tc.name, err)
		}
		err = m.VerifyCode(ctx, user.ID, code)
		if tc.wantOK && err != nil {
			t.Errorf("%s: expected acceptance, got %v", tc.name, err)
		}
		if !tc.wantOK && err != ErrCodeMismatch {
			t.Errorf("%s: expected ErrCodeMismatch, got %v", tc.name, err)
		}
	}
}

// TestPurpose: Validates the cheap code-shape check that runs before any cryptographic comparison.
// Scope: Unit Test
// Security: Input validation
// Expected: Anything that is not exactly six ASCII digits is rejected with ErrBadCodeFormat.
// Test Case ID: OTP-03
func TestOtp_Manager_CodeShape(t *testing.T) {
	repo := newMockUserRepository()
	user := newTestUser(repo)
	clock := &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(repo, audit.NewSlogLogger(), clock, "SecureDocs")

	ctx := context.Background()

	enrollment, _ := m.BeginProvisioning(ctx, user.ID)
	code, _ := totp.GenerateCode(enrollment.Secret, clock.now)
	if err := m.ConfirmActivation(ctx, user.ID, code); err != nil {
		t.Fatalf("activation failed: %v", err)
	}

	bad := []string{"", "12345", "1234567", "12345a", "12 456", "１２３４５６", "-12345"}
	for _, code := range bad {
		if err := m.VerifyCode(ctx, user.ID, code); err != ErrBadCodeFormat {
			t.Errorf("code %q: expected ErrBadCodeFormat, got %v", code, err)
		}
	}
}

// TestPurpose: Validates that re-provisioning before activation replaces the pending secret, invalidating codes from the earlier one.
// Scope: Unit Test
// Security: Enrollment integrity
// Expected: A code derived from the first secret fails activation after a second provisioning.
// Test Case ID: OTP-04
func TestOtp_Manager_ReprovisionInvalidatesPendingSecret(t *testing.T) {
	repo := newMockUserRepository()
	user := newTestUser(repo)
	clock := &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(repo, audit.NewSlogLogger(), clock, "SecureDocs")

	ctx := context.Background()

	first, err := m.BeginProvisioning(ctx, user.ID)
	if err != nil {
		t.Fatalf("first provisioning failed: %v", err)
	}
	second, err := m.BeginProvisioning(ctx, user.ID)
	if err != nil {
		t.Fatalf("second provisioning failed: %v", err)
	}
	if first.Secret == second.Secret {
		t.Fatal("expected a fresh secret on re-provisioning")
	}

	staleCode, _ := totp.GenerateCode(first.Secret, clock.now)
	if err := m.ConfirmActivation(ctx, user.ID, staleCode); err != ErrCodeMismatch {
		t.Errorf("expected ErrCodeMismatch for stale secret code, got %v", err)
	}

	freshCode, _ := totp.GenerateCode(second.Secret, clock.now)
	if err := m.ConfirmActivation(ctx, user.ID, freshCode); err != nil {
		t.Errorf("expected activation with fresh secret, got %v", err)
	}
}

// TestPurpose: Validates activation preconditions and reset semantics across the state machine.
// Scope: Unit Test
// Security: Step-up authentication state machine
// Expected: Activation without setup fails, provisioning over an active enrollment fails, and reset returns any state to not-configured.
// Test Case ID: OTP-05
func TestOtp_Manager_StateTransitions(t *testing.T) {
	repo := newMockUserRepository()
	user := newTestUser(repo)
	clock := &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(repo, audit.NewSlogLogger(), clock, "SecureDocs")

	ctx := context.Background()

	if err := m.ConfirmActivation(ctx, user.ID, "123456"); err != ErrNoPendingSetup {
		t.Fatalf("expected ErrNoPendingSetup, got %v", err)
	}

	enrollment, _ := m.BeginProvisioning(ctx, user.ID)
	code, _ := totp.GenerateCode(enrollment.Secret, clock.now)
	if err := m.ConfirmActivation(ctx, user.ID, code); err != nil {
		t.Fatalf("activation failed: %v", err)
	}

	if _, err := m.BeginProvisioning(ctx, user.ID); err != ErrAlreadyActive {
		t.Errorf("expected ErrAlreadyActive, got %v", err)
	}
	if err := m.ConfirmActivation(ctx, user.ID, code); err != ErrAlreadyActive {
		t.Errorf("expected ErrAlreadyActive on re-activation, got %v", err)
	}

	if err := m.Reset(ctx, "admin-1", user.ID); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if user.SecondFactor.State() != identity.SecondFactorNotConfigured {
		t.Errorf("expected not-configured after reset, got %s", user.SecondFactor.State())
	}

	// Provisioning works again after reset
	if _, err := m.BeginProvisioning(ctx, user.ID); err != nil {
		t.Errorf("expected provisioning after reset, got %v", err)
	}
}
