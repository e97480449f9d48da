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

// Package otp manages the TOTP second-factor lifecycle: provisioning a
// secret, confirming activation with a first valid code, ongoing code
// verification, and resetting an enrollment.
package otp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/securedocs/securedocs/internal/audit"
	"github.com/securedocs/securedocs/internal/identity"
)

// Domain errors
var (
	ErrNotConfigured  = errors.New("second factor is not configured")
	ErrNoPendingSetup = errors.New("no pending second-factor setup")
	ErrAlreadyActive  = errors.New("second factor is already active")
	ErrBadCodeFormat  = errors.New("code must be exactly six digits")
	ErrCodeMismatch   = errors.New("code does not match")
)

const (
	codeDigits = 6
	period     = 30
	// skew of 1 accepts the previous and next 30-second step,
	// tolerating moderate clock drift on the authenticator device.
	skew       = 1
	secretSize = 20
)

// Clock supplies the current time. Injectable for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// Enrollment is the result of provisioning: the shared secret and the
// otpauth:// URL an authenticator app can import.
type Enrollment struct {
	Secret string
	URL    string
}

// Manager drives the second-factor lifecycle for users.
type Manager struct {
	users       identity.UserRepository
	auditLogger audit.Logger
	clock       Clock
	issuer      string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a lifecycle manager. A nil clock falls back to the
// system clock.
func NewManager(users identity.UserRepository, auditLogger audit.Logger, clock Clock, issuer string) *Manager {
	if clock == nil {
		clock = SystemClock()
	}
	if strings.TrimSpace(issuer) == "" {
		issuer = "SecureDocs"
	}
	return &Manager{
		users:       users,
		auditLogger: auditLogger,
		clock:       clock,
		issuer:      issuer,
		locks:       make(map[string]*sync.Mutex),
	}
}

// userLock returns the per-user mutex, creating it on first use. All
// lifecycle transitions for one user serialize on it so that a
// concurrent provision and verify can never interleave reads and
// writes of the enrollment record.
func (m *Manager) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

// BeginProvisioning generates a fresh secret for the user and stores it
// in the pending state. Calling it again before activation replaces the
// previous pending secret, invalidating any codes derived from it. An
// already-active enrollment must be reset first.
func (m *Manager) BeginProvisioning(ctx context.Context, userID string) (*Enrollment, error) {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.SecondFactor.State() == identity.SecondFactorActive {
		return nil, ErrAlreadyActive
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: user.Email,
		Period:      period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
		SecretSize:  secretSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}

	sf := identity.SecondFactor{Secret: key.Secret(), Enabled: false}
	if err := m.users.UpdateSecondFactor(ctx, user.ID, sf); err != nil {
		return nil, fmt.Errorf("failed to store pending secret: %w", err)
	}

	m.auditLogger.Log(ctx, audit.Event{
		Type:    audit.TypeOtpProvisioned,
		ActorID: user.ID,
	})

	return &Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// ConfirmActivation proves possession of the pending secret. A valid
// code flips the enrollment to active; anything else leaves it pending.
func (m *Manager) ConfirmActivation(ctx context.Context, userID, code string) error {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	switch user.SecondFactor.State() {
	case identity.SecondFactorNotConfigured:
		return ErrNoPendingSetup
	case identity.SecondFactorActive:
		return ErrAlreadyActive
	}

	if !validCodeShape(code) {
		return ErrBadCodeFormat
	}

	ok, err := m.validate(code, user.SecondFactor.Secret)
	if err != nil {
		return fmt.Errorf("failed to validate code: %w", err)
	}
	if !ok {
		m.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeOtpVerifyFailed,
			ActorID:  user.ID,
			Metadata: map[string]any{audit.AttrReason: "activation_mismatch"},
		})
		return ErrCodeMismatch
	}

	now := m.clock.Now()
	sf := identity.SecondFactor{
		Secret:         user.SecondFactor.Secret,
		Enabled:        true,
		LastVerifiedAt: &now,
	}
	if err := m.users.UpdateSecondFactor(ctx, user.ID, sf); err != nil {
		return fmt.Errorf("failed to activate second factor: %w", err)
	}

	m.auditLogger.Log(ctx, audit.Event{
		Type:    audit.TypeOtpActivated,
		ActorID: user.ID,
	})

	return nil
}

// VerifyCode checks a code against an active enrollment.
func (m *Manager) VerifyCode(ctx context.Context, userID, code string) error {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if user.SecondFactor.State() != identity.SecondFactorActive {
		return ErrNotConfigured
	}

	if !validCodeShape(code) {
		return ErrBadCodeFormat
	}

	ok, err := m.validate(code, user.SecondFactor.Secret)
	if err != nil {
		return fmt.Errorf("failed to validate code: %w", err)
	}
	if !ok {
		m.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeOtpVerifyFailed,
			ActorID:  user.ID,
			Metadata: map[string]any{audit.AttrReason: "code_mismatch"},
		})
		return ErrCodeMismatch
	}

	now := m.clock.Now()
	sf := user.SecondFactor
	sf.LastVerifiedAt = &now
	if err := m.users.UpdateSecondFactor(ctx, user.ID, sf); err != nil {
		return fmt.Errorf("failed to record verification: %w", err)
	}

	return nil
}

// Reset wipes the enrollment from any state. The user returns to
// not-configured and must provision again to use a second factor.
func (m *Manager) Reset(ctx context.Context, actorID, userID string) error {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := m.users.UpdateSecondFactor(ctx, user.ID, identity.SecondFactor{}); err != nil {
		return fmt.Errorf("failed to reset second factor: %w", err)
	}

	m.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeOtpReset,
		ActorID:  actorID,
		Resource: user.ID,
	})

	return nil
}

func (m *Manager) validate(code, secret string) (bool, error) {
	return totp.ValidateCustom(code, secret, m.clock.Now(), totp.ValidateOpts{
		Period:    period,
		Skew:      skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// validCodeShape reports whether code is exactly six ASCII digits. The
// cheap shape check runs before any cryptographic comparison so junk
// input never reaches the TOTP library.
func validCodeShape(code string) bool {
	if len(code) != codeDigits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
