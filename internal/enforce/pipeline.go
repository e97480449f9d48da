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

// Package enforce runs the ordered access decision for every protected
// document operation: principal checks, resource lifecycle, static
// permission, and the step-up second factor where policy requires one.
package enforce

import (
	"context"
	"errors"
	"fmt"

	"github.com/securedocs/securedocs/internal/audit"
	"github.com/securedocs/securedocs/internal/authz"
	"github.com/securedocs/securedocs/internal/document"
	"github.com/securedocs/securedocs/internal/identity"
	"github.com/securedocs/securedocs/internal/observability/metrics"
	"github.com/securedocs/securedocs/internal/otp"
)

// Pipeline evaluates access decisions. A non-nil error from Enforce
// means a collaborator failed transiently; the caller must treat it as
// a retryable failure, never as an allow.
type Pipeline struct {
	users       identity.UserRepository
	docs        document.Repository
	otpManager  *otp.Manager
	auditLogger audit.Logger
	metrics     *metrics.EnforcementMetrics
}

// NewPipeline creates an enforcement pipeline. metrics may be nil.
func NewPipeline(
	users identity.UserRepository,
	docs document.Repository,
	otpManager *otp.Manager,
	auditLogger audit.Logger,
	m *metrics.EnforcementMetrics,
) *Pipeline {
	return &Pipeline{
		users:       users,
		docs:        docs,
		otpManager:  otpManager,
		auditLogger: auditLogger,
		metrics:     m,
	}
}

// Enforce runs the decision steps in order and short-circuits at the
// first failing one:
//
//  1. resolve the principal; unknown IDs are unauthenticated
//  2. reject inactive and locked accounts
//  3. load the document; missing is not-found, any non-active
//     lifecycle state is gone
//  4. evaluate the static permission rules
//  5. consult the second-factor policy and, when a factor is required,
//     demand an active enrollment and a valid code
func (p *Pipeline) Enforce(ctx context.Context, principalID, documentID string, action authz.Action, otpCode string) (Outcome, error) {
	out, err := p.enforce(ctx, principalID, documentID, action, otpCode)
	if err != nil {
		return Outcome{}, err
	}
	p.record(ctx, principalID, documentID, action, out)
	return out, nil
}

func (p *Pipeline) enforce(ctx context.Context, principalID, documentID string, action authz.Action, otpCode string) (Outcome, error) {
	if principalID == "" {
		return denied(ReasonUnauthenticated), nil
	}

	user, err := p.users.GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return denied(ReasonUnauthenticated), nil
		}
		return Outcome{}, fmt.Errorf("failed to resolve principal: %w", err)
	}

	if !user.Active {
		return denied(ReasonAccountInactive), nil
	}
	if user.Locked {
		return denied(ReasonAccountLocked), nil
	}

	doc, err := p.docs.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, document.ErrDocumentNotFound) {
			return unavailable(ReasonNotFound), nil
		}
		return Outcome{}, fmt.Errorf("failed to load document: %w", err)
	}
	// Any non-active lifecycle state (archived or deleted) makes the
	// document unavailable.
	if doc.State != document.StateActive {
		return unavailable(ReasonGone), nil
	}

	if !authz.CanPerform(user.Principal(), doc.Resource(), action) {
		return denied(ReasonInsufficientPermission), nil
	}

	if !authz.RequiresSecondFactor(action, doc.Classification, user.Role) {
		return proceed(user, doc), nil
	}

	if user.SecondFactor.State() != identity.SecondFactorActive {
		return challenge(ReasonOtpNotConfigured), nil
	}
	if otpCode == "" {
		return challenge(ReasonOtpCodeMissing), nil
	}

	switch err := p.otpManager.VerifyCode(ctx, user.ID, otpCode); {
	case err == nil:
		return proceed(user, doc), nil
	case errors.Is(err, otp.ErrBadCodeFormat):
		return otpInvalid(ReasonOtpBadFormat), nil
	case errors.Is(err, otp.ErrCodeMismatch):
		return otpInvalid(ReasonOtpMismatch), nil
	case errors.Is(err, otp.ErrNotConfigured):
		// Enrollment was reset between the state check and the verify
		return challenge(ReasonOtpNotConfigured), nil
	default:
		return Outcome{}, fmt.Errorf("failed to verify code: %w", err)
	}
}

func (p *Pipeline) record(ctx context.Context, principalID, documentID string, action authz.Action, out Outcome) {
	p.metrics.RecordDecision(ctx, string(out.Decision), string(out.Reason))

	switch out.Decision {
	case DecisionDenied:
		p.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeAccessDenied,
			ActorID:  principalID,
			Resource: documentID,
			Metadata: map[string]any{
				audit.AttrAction:  string(action),
				audit.AttrOutcome: string(out.Reason),
			},
		})
	case DecisionOtpInvalid:
		p.metrics.RecordOtpVerification(ctx, false)
	case DecisionProceed:
		if out.User != nil && authz.RequiresSecondFactor(action, out.Document.Classification, out.User.Role) {
			p.metrics.RecordOtpVerification(ctx, true)
		}
	}
}
