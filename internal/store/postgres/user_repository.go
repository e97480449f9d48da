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

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/securedocs/securedocs/internal/identity"
)

// UserRepository implements identity.UserRepository
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, full_name, role, active, locked, failed_attempts,
	otp_secret, otp_enabled, otp_verified_at,
	created_at, updated_at, last_access_at, deleted_at`

func scanUser(row pgx.Row) (*identity.User, error) {
	var user identity.User
	var otpVerifiedAt, lastAccessAt, deletedAt sql.NullTime

	err := row.Scan(
		&user.ID, &user.Email, &user.FullName, &user.Role,
		&user.Active, &user.Locked, &user.FailedAttempts,
		&user.SecondFactor.Secret, &user.SecondFactor.Enabled, &otpVerifiedAt,
		&user.CreatedAt, &user.UpdatedAt, &lastAccessAt, &deletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if otpVerifiedAt.Valid {
		user.SecondFactor.LastVerifiedAt = &otpVerifiedAt.Time
	}
	if lastAccessAt.Valid {
		user.LastAccessAt = &lastAccessAt.Time
	}
	if deletedAt.Valid {
		user.DeletedAt = &deletedAt.Time
	}

	return &user, nil
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *identity.User) error {
	now := time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO users (
			id, email, full_name, role, active, locked, failed_attempts,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		user.ID, user.Email, user.FullName, user.Role,
		user.Active, user.Locked, user.FailedAttempts,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	user.CreatedAt = now
	user.UpdatedAt = now

	return nil
}

// AddCredentials adds credentials for a user
func (r *UserRepository) AddCredentials(ctx context.Context, credentials *identity.Credentials) error {
	now := time.Now()

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO credentials (user_id, password_hash, updated_at)
		VALUES ($1, $2, $3)
	`, credentials.UserID, credentials.PasswordHash, now)
	if err != nil {
		return fmt.Errorf("failed to insert credentials: %w", err)
	}

	credentials.UpdatedAt = now

	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*identity.User, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	return scanUser(row)
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1 AND deleted_at IS NULL
	`, email)
	return scanUser(row)
}

// Update updates user information
func (r *UserRepository) Update(ctx context.Context, user *identity.User) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE users SET
			email = $2,
			full_name = $3,
			role = $4,
			active = $5,
			updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`,
		user.ID, user.Email, user.FullName, user.Role, user.Active,
	)

	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	if result.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}

	return nil
}

// UpdateLockout updates the failed-attempt counter and locked flag
func (r *UserRepository) UpdateLockout(ctx context.Context, userID string, failedAttempts int, locked bool) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE users
		SET failed_attempts = $1, locked = $2, updated_at = NOW()
		WHERE id = $3
	`, failedAttempts, locked, userID)
	if err != nil {
		return fmt.Errorf("failed to update user lockout status: %w", err)
	}
	return nil
}

// RecordFailedAttempt increments the failed-attempt counter in a
// single statement. The row update serializes concurrent failures, so
// every caller observes a distinct count and the lock engages at
// exactly maxAttempts.
func (r *UserRepository) RecordFailedAttempt(ctx context.Context, userID string, maxAttempts int) (int, bool, error) {
	var attempts int
	var locked bool
	err := r.db.pool.QueryRow(ctx, `
		UPDATE users
		SET failed_attempts = failed_attempts + 1,
		    locked = locked OR failed_attempts + 1 >= $1,
		    updated_at = NOW()
		WHERE id = $2 AND deleted_at IS NULL
		RETURNING failed_attempts, locked
	`, maxAttempts, userID).Scan(&attempts, &locked)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, identity.ErrUserNotFound
		}
		return 0, false, fmt.Errorf("failed to record failed attempt: %w", err)
	}
	return attempts, locked, nil
}

// UpdateSecondFactor replaces the user's TOTP enrollment record
func (r *UserRepository) UpdateSecondFactor(ctx context.Context, userID string, sf identity.SecondFactor) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE users
		SET otp_secret = $1, otp_enabled = $2, otp_verified_at = $3, updated_at = NOW()
		WHERE id = $4 AND deleted_at IS NULL
	`, sf.Secret, sf.Enabled, sf.LastVerifiedAt, userID)
	if err != nil {
		return fmt.Errorf("failed to update second factor: %w", err)
	}

	if result.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}

	return nil
}

// UpdateLastAccess records the time of the user's latest authentication
func (r *UserRepository) UpdateLastAccess(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE users SET last_access_at = $2 WHERE id = $1
	`, userID, at)
	if err != nil {
		return fmt.Errorf("failed to update last access: %w", err)
	}
	return nil
}

// List returns all non-deleted users
func (r *UserRepository) List(ctx context.Context) ([]*identity.User, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE deleted_at IS NULL
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*identity.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// Delete soft-deletes a user
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE users SET deleted_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, time.Now())

	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	if result.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}

	return nil
}

// GetCredentials retrieves user credentials
func (r *UserRepository) GetCredentials(ctx context.Context, userID string) (*identity.Credentials, error) {
	var creds identity.Credentials

	err := r.db.pool.QueryRow(ctx, `
		SELECT user_id, password_hash, updated_at
		FROM credentials
		WHERE user_id = $1
	`, userID).Scan(&creds.UserID, &creds.PasswordHash, &creds.UpdatedAt)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}

	return &creds, nil
}

// UpdatePassword updates user password
func (r *UserRepository) UpdatePassword(ctx context.Context, userID string, passwordHash string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE credentials SET password_hash = $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, passwordHash)

	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	if result.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}

	return nil
}
