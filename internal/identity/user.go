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
	"errors"
	"time"

	"github.com/securedocs/securedocs/internal/authz"
)

// Domain errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password does not meet security requirements")
	ErrAccountLocked      = errors.New("account is locked")
	ErrAccountInactive    = errors.New("account is inactive")
)

// SecondFactorState describes where a user's TOTP enrollment stands.
type SecondFactorState string

const (
	// SecondFactorNotConfigured means no secret has ever been provisioned,
	// or a reset wiped the previous enrollment.
	SecondFactorNotConfigured SecondFactorState = "not_configured"

	// SecondFactorPendingActivation means a secret exists but the user has
	// not yet proven possession of it with a valid code.
	SecondFactorPendingActivation SecondFactorState = "pending_activation"

	// SecondFactorActive means the enrollment is confirmed and codes are
	// required wherever policy demands a second factor.
	SecondFactorActive SecondFactorState = "active"
)

// SecondFactor holds a user's TOTP enrollment record.
type SecondFactor struct {
	Secret         string
	Enabled        bool
	LastVerifiedAt *time.Time
}

// State derives the enrollment state from the stored record.
func (sf SecondFactor) State() SecondFactorState {
	switch {
	case sf.Secret == "":
		return SecondFactorNotConfigured
	case !sf.Enabled:
		return SecondFactorPendingActivation
	default:
		return SecondFactorActive
	}
}

// User represents a user identity in the system
type User struct {
	ID             string
	Email          string
	FullName       string
	Role           authz.Role
	Active         bool
	Locked         bool
	FailedAttempts int
	SecondFactor   SecondFactor
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessAt   *time.Time
	DeletedAt      *time.Time
}

// Principal returns the authorization view of this user.
func (u *User) Principal() authz.Principal {
	return authz.Principal{ID: u.ID, Role: u.Role}
}

// Credentials represents user authentication credentials
type Credentials struct {
	UserID       string
	PasswordHash string
	UpdatedAt    time.Time
}

// UserRepository defines the interface for user persistence
type UserRepository interface {
	// Create creates a new user
	Create(ctx context.Context, user *User) error

	// AddCredentials adds credentials for a user
	AddCredentials(ctx context.Context, credentials *Credentials) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id string) (*User, error)

	// GetByEmail retrieves a user by email
	GetByEmail(ctx context.Context, email string) (*User, error)

	// Update updates user information
	Update(ctx context.Context, user *User) error

	// UpdateLockout updates the failed-attempt counter and locked flag
	UpdateLockout(ctx context.Context, userID string, failedAttempts int, locked bool) error

	// RecordFailedAttempt atomically increments the failed-attempt
	// counter, locking the account when the new count reaches
	// maxAttempts. It returns the new count and the locked flag.
	// Concurrent callers must each observe a distinct count.
	RecordFailedAttempt(ctx context.Context, userID string, maxAttempts int) (int, bool, error)

	// UpdateSecondFactor replaces the user's TOTP enrollment record
	UpdateSecondFactor(ctx context.Context, userID string, sf SecondFactor) error

	// UpdateLastAccess records the time of the user's latest authentication
	UpdateLastAccess(ctx context.Context, userID string, at time.Time) error

	// List returns all non-deleted users
	List(ctx context.Context) ([]*User, error)

	// Delete soft-deletes a user
	Delete(ctx context.Context, id string) error

	// GetCredentials retrieves user credentials
	GetCredentials(ctx context.Context, userID string) (*Credentials, error)

	// UpdatePassword updates user password
	UpdatePassword(ctx context.Context, userID string, passwordHash string) error
}
