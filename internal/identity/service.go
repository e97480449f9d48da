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

package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/securedocs/securedocs/internal/audit"
	"github.com/securedocs/securedocs/internal/authz"
	"github.com/securedocs/securedocs/internal/id"
	"github.com/securedocs/securedocs/internal/observability/metrics"
	"golang.org/x/crypto/argon2"
)

// PasswordHasher handles password hashing using Argon2id
type PasswordHasher struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLength  uint32
	keyLength   uint32
}

// NewPasswordHasher creates a new password hasher with Argon2id
func NewPasswordHasher(memory, iterations uint32, parallelism uint8, saltLength, keyLength uint32) *PasswordHasher {
	return &PasswordHasher{
		memory:      memory,
		iterations:  iterations,
		parallelism: parallelism,
		saltLength:  saltLength,
		keyLength:   keyLength,
	}
}

// Hash hashes a password using Argon2id
func (h *PasswordHasher) Hash(password string) (string, error) {
	// Generate random salt
	salt := make([]byte, h.saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	// Hash password
	hash := argon2.IDKey(
		[]byte(password),
		salt,
		h.iterations,
		h.memory,
		h.parallelism,
		h.keyLength,
	)

	// Encode as: $argon2id$v=19$m=memory,t=iterations,p=parallelism$salt$hash
	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.memory,
		h.iterations,
		h.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)

	return encoded, nil
}

// Verify verifies a password against a hash
func (h *PasswordHasher) Verify(password, encodedHash string) (bool, error) {
	// Parse the encoded hash format: $argon2id$v=19$m=65536,t=3,p=4$salt$hash
	sections := strings.Split(strings.TrimPrefix(encodedHash, "$"), "$")

	// Expected 5 sections: ["argon2id", "v=19", "m=65536,t=3,p=4", "salt", "hash"]
	if len(sections) != 5 || sections[0] != "argon2id" {
		return false, fmt.Errorf("invalid hash format: got %d sections", len(sections))
	}

	// Parse version
	var version int
	if _, err := fmt.Sscanf(sections[1], "v=%d", &version); err != nil {
		return false, fmt.Errorf("invalid version: %w", err)
	}

	// Parse parameters
	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(sections[2], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, fmt.Errorf("invalid parameters: %w", err)
	}

	// Decode salt and hash
	salt, err := base64.RawStdEncoding.DecodeString(sections[3])
	if err != nil {
		return false, fmt.Errorf("failed to decode salt: %w", err)
	}

	expectedHash, err := base64.RawStdEncoding.DecodeString(sections[4])
	if err != nil {
		return false, fmt.Errorf("failed to decode hash: %w", err)
	}

	// Hash the password with the same parameters
	actualHash := argon2.IDKey(
		[]byte(password),
		salt,
		iterations,
		memory,
		parallelism,
		uint32(len(expectedHash)),
	)

	// Compare hashes using constant-time comparison
	if len(actualHash) != len(expectedHash) {
		return false, nil
	}

	var diff byte
	for i := range actualHash {
		diff |= actualHash[i] ^ expectedHash[i]
	}

	return diff == 0, nil
}

// Service provides identity-related business logic
type Service struct {
	repo               UserRepository
	hasher             *PasswordHasher
	auditLogger        audit.Logger
	lockoutMaxAttempts int
	metrics            *metrics.EnforcementMetrics
}

// NewService creates a new identity service. m may be nil.
func NewService(
	repo UserRepository,
	hasher *PasswordHasher,
	auditLogger audit.Logger,
	lockoutMaxAttempts int,
	m *metrics.EnforcementMetrics,
) *Service {
	return &Service{
		repo:               repo,
		hasher:             hasher,
		auditLogger:        auditLogger,
		lockoutMaxAttempts: lockoutMaxAttempts,
		metrics:            m,
	}
}

// Register creates a new user with credentials
func (s *Service) Register(ctx context.Context, email, fullName, password string, role authz.Role) (*User, error) {
	// Validate email
	if !isValidEmail(email) {
		return nil, ErrInvalidEmail
	}

	// Validate password strength
	if !isStrongPassword(password) {
		return nil, ErrWeakPassword
	}

	if !role.Valid() {
		return nil, fmt.Errorf("unknown role: %s", role)
	}

	// Check if user already exists
	existing, err := s.repo.GetByEmail(ctx, email)
	if err == nil && existing != nil {
		return nil, ErrUserAlreadyExists
	}

	user := &User{
		ID:       id.NewUUIDv7(),
		Email:    email,
		FullName: fullName,
		Role:     role,
		Active:   true,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.repo.AddCredentials(ctx, &Credentials{
		UserID:       user.ID,
		PasswordHash: passwordHash,
	}); err != nil {
		return nil, fmt.Errorf("failed to add credentials: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:    audit.TypeUserCreated,
		ActorID: user.ID,
		Metadata: map[string]any{
			audit.AttrEmail: email,
		},
	})

	return user, nil
}

// Authenticate authenticates a user with email and password.
//
// The lockout check happens before any password verification so that
// a locked account cannot exercise the hasher at all. Each failed
// verification increments the counter; reaching the maximum flips the
// locked flag, and only an explicit Unlock clears either.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		// Audit failed attempt (unknown user)
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			Resource: email,
			Metadata: map[string]any{audit.AttrReason: "user_not_found"},
		})
		return nil, ErrInvalidCredentials
	}

	if !user.Active {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  user.ID,
			Resource: "login",
			Metadata: map[string]any{audit.AttrReason: "account_inactive"},
		})
		return nil, ErrAccountInactive
	}

	// Fail closed: locked accounts never reach password verification
	if user.Locked {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  user.ID,
			Resource: "login",
			Metadata: map[string]any{audit.AttrReason: "locked_out"},
		})
		return nil, ErrAccountLocked
	}

	// Get credentials
	credentials, err := s.repo.GetCredentials(ctx, user.ID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	// Verify password
	valid, err := s.hasher.Verify(password, credentials.PasswordHash)
	if err != nil || !valid {
		// The increment is atomic in the repository so concurrent
		// failures each count; a snapshot-based read-modify-write
		// here would lose attempts under contention.
		newAttempts, locked, uerr := s.repo.RecordFailedAttempt(ctx, user.ID, s.lockoutMaxAttempts)
		if uerr != nil {
			return nil, fmt.Errorf("failed to record failed attempt: %w", uerr)
		}

		// Exactly one racer observes the crossing count.
		if locked && newAttempts == s.lockoutMaxAttempts {
			s.auditLogger.Log(ctx, audit.Event{
				Type:     audit.TypeUserLocked,
				ActorID:  user.ID,
				Resource: "login",
				Metadata: map[string]any{audit.AttrAttempts: newAttempts},
			})
			s.metrics.RecordLockout(ctx)
		}

		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  user.ID,
			Resource: "login",
			Metadata: map[string]any{
				audit.AttrReason:   "invalid_password",
				audit.AttrAttempts: newAttempts,
			},
		})

		if locked {
			return nil, ErrAccountLocked
		}
		return nil, ErrInvalidCredentials
	}

	// Reset failed attempts on success
	if user.FailedAttempts > 0 {
		if err := s.repo.UpdateLockout(ctx, user.ID, 0, false); err != nil {
			return nil, fmt.Errorf("failed to reset attempt counter: %w", err)
		}
		user.FailedAttempts = 0
	}

	now := time.Now()
	_ = s.repo.UpdateLastAccess(ctx, user.ID, now)
	user.LastAccessAt = &now

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeLoginSuccess,
		ActorID:  user.ID,
		Resource: "login",
	})

	return user, nil
}

// Unlock clears an account's lockout state. It resets the counter and
// the locked flag unconditionally, so it also works as a counter reset
// on accounts that failed a few times without reaching the threshold.
func (s *Service) Unlock(ctx context.Context, actorID, userID string) error {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}

	if err := s.repo.UpdateLockout(ctx, user.ID, 0, false); err != nil {
		return fmt.Errorf("failed to unlock account: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserUnlocked,
		ActorID:  actorID,
		Resource: user.ID,
	})

	return nil
}

// GetByEmail retrieves a user by email
func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// GetUser retrieves a user by ID
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ListUsers returns all users
func (s *Service) ListUsers(ctx context.Context) ([]*User, error) {
	return s.repo.List(ctx)
}

// SetActive activates or deactivates a user account
func (s *Service) SetActive(ctx context.Context, userID string, active bool) error {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}

	user.Active = active
	return s.repo.Update(ctx, user)
}

// ChangePassword changes user password
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	// Get credentials
	credentials, err := s.repo.GetCredentials(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}

	// Verify old password
	valid, err := s.hasher.Verify(oldPassword, credentials.PasswordHash)
	if err != nil || !valid {
		return ErrInvalidCredentials
	}

	// Validate new password
	if !isStrongPassword(newPassword) {
		return ErrWeakPassword
	}

	// Hash new password
	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.repo.UpdatePassword(ctx, userID, newHash); err != nil {
		return err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:    audit.TypePasswordChanged,
		ActorID: userID,
	})

	return nil
}

// Helper functions
func isValidEmail(email string) bool {
	// Basic email validation
	at := strings.IndexByte(email, '@')
	return len(email) > 3 && len(email) < 255 && at > 0 && at < len(email)-1
}

func isStrongPassword(password string) bool {
	// Password must be at least 8 characters
	return len(password) >= 8
}
