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

package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Event types
const (
	TypeLoginSuccess       = "login_success"
	TypeLoginFailed        = "login_failed"
	TypeUserCreated        = "user_created"
	TypeUserLocked         = "user_locked"
	TypeUserUnlocked       = "user_unlocked"
	TypePasswordChanged    = "password_changed"
	TypeOtpProvisioned     = "otp_provisioned"
	TypeOtpActivated       = "otp_activated"
	TypeOtpVerifyFailed    = "otp_verify_failed"
	TypeOtpReset           = "otp_reset"
	TypeDocumentCreated    = "document_created"
	TypeDocumentViewed     = "document_viewed"
	TypeDocumentUpdated    = "document_updated"
	TypeDocumentDeleted    = "document_deleted"
	TypeDocumentDownloaded = "document_downloaded"
	TypeAccessDenied       = "access_denied"
	TypeAdminBootstrap     = "admin_bootstrap"
)

// Common metadata keys
const (
	AttrReason         = "reason"
	AttrAttempts       = "attempts"
	AttrEmail          = "email"
	AttrAction         = "action"
	AttrClassification = "classification"
	AttrOutcome        = "outcome"
)

// ActorSystemBootstrap identifies events raised by the bootstrap
// process rather than by a request principal.
const ActorSystemBootstrap = "system:bootstrap"

// Event represents an auditable action
type Event struct {
	Type      string
	ActorID   string
	Resource  string
	Metadata  map[string]any
	Timestamp time.Time
	IPAddress string
	UserAgent string
}

// Logger defines the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event Event)
}

// SlogLogger implements Logger using slog
type SlogLogger struct{}

// NewSlogLogger creates a new audit logger
func NewSlogLogger() *SlogLogger {
	return &SlogLogger{}
}

// Log records an audit event
func (l *SlogLogger) Log(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []any{
		slog.String("audit_type", event.Type),
		slog.String("actor_id", event.ActorID),
		slog.String("resource", event.Resource),
		slog.Time("timestamp", event.Timestamp),
	}

	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}

	// Flatten metadata, redacting anything secret-shaped.
	if len(event.Metadata) > 0 {
		group := []any{}
		for k, v := range event.Metadata {
			if isSecret(k) {
				v = "[REDACTED]"
			}
			group = append(group, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", group...))
	}

	slog.InfoContext(ctx, "AUDIT_EVENT", append(attrs, slog.String("component", "audit"))...)
}

// isSecret checks if a key likely contains a secret. Matching is by
// substring so composed keys like password_hash are caught too.
func isSecret(key string) bool {
	lower := strings.ToLower(key)
	markers := []string{"password", "secret", "token", "key", "hash", "credential", "authorization", "otp"}
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
