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
	"fmt"
	"os"

	"github.com/securedocs/securedocs/internal/audit"
	"github.com/securedocs/securedocs/internal/authz"
)

const (
	EnvBootstrapAdminEmail    = "SD_BOOTSTRAP_ADMIN_EMAIL"
	EnvBootstrapAdminPassword = "SD_BOOTSTRAP_ADMIN_PASSWORD"
	EnvBootstrapAdminName     = "SD_BOOTSTRAP_ADMIN_NAME"
)

// BootstrapService creates the initial administrator account
type BootstrapService struct {
	identityService *Service
	auditLogger     audit.Logger
}

// NewBootstrapService creates a new bootstrap service
func NewBootstrapService(identityService *Service, auditLogger audit.Logger) *BootstrapService {
	return &BootstrapService{
		identityService: identityService,
		auditLogger:     auditLogger,
	}
}

// Bootstrap checks for bootstrap configuration and executes it if necessary.
// It is idempotent: if the configured email already exists, nothing happens.
func (s *BootstrapService) Bootstrap(ctx context.Context) error {
	email := os.Getenv(EnvBootstrapAdminEmail)
	password := os.Getenv(EnvBootstrapAdminPassword)
	name := os.Getenv(EnvBootstrapAdminName)

	if email == "" {
		return nil
	}
	if password == "" {
		return fmt.Errorf("%s is set but %s is empty", EnvBootstrapAdminEmail, EnvBootstrapAdminPassword)
	}
	if name == "" {
		name = "Administrator"
	}

	user, err := s.identityService.Register(ctx, email, name, password, authz.RoleAdmin)
	if err != nil {
		if errors.Is(err, ErrUserAlreadyExists) {
			// Already bootstrapped, skip silently
			return nil
		}
		return fmt.Errorf("failed to bootstrap admin account: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeAdminBootstrap,
		ActorID:  audit.ActorSystemBootstrap,
		Resource: user.ID,
		Metadata: map[string]any{
			audit.AttrEmail: email,
		},
	})

	return nil
}
