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

package enforce

import (
	"github.com/securedocs/securedocs/internal/document"
	"github.com/securedocs/securedocs/internal/identity"
)

// Decision is the top-level category of an enforcement outcome.
type Decision string

const (
	DecisionProceed              Decision = "proceed"
	DecisionDenied               Decision = "denied"
	DecisionResourceUnavailable  Decision = "resource_unavailable"
	DecisionOtpChallengeRequired Decision = "otp_challenge_required"
	DecisionOtpInvalid           Decision = "otp_invalid"
)

// Reason qualifies a non-proceed decision.
type Reason string

const (
	ReasonUnauthenticated        Reason = "unauthenticated"
	ReasonAccountInactive        Reason = "account_inactive"
	ReasonAccountLocked          Reason = "account_locked"
	ReasonInsufficientPermission Reason = "insufficient_permission"

	ReasonNotFound Reason = "not_found"
	ReasonGone     Reason = "gone"

	ReasonOtpNotConfigured Reason = "otp_not_configured"
	ReasonOtpCodeMissing   Reason = "otp_code_missing"

	ReasonOtpBadFormat Reason = "otp_bad_format"
	ReasonOtpMismatch  Reason = "otp_mismatch"
)

// Outcome is the result of one enforcement pass. On Proceed it carries
// the resolved principal and document so the caller does not load them
// again.
type Outcome struct {
	Decision Decision
	Reason   Reason

	User     *identity.User
	Document *document.Document
}

// Allowed reports whether the operation may go ahead.
func (o Outcome) Allowed() bool {
	return o.Decision == DecisionProceed
}

func proceed(u *identity.User, d *document.Document) Outcome {
	return Outcome{Decision: DecisionProceed, User: u, Document: d}
}

func denied(r Reason) Outcome {
	return Outcome{Decision: DecisionDenied, Reason: r}
}

func unavailable(r Reason) Outcome {
	return Outcome{Decision: DecisionResourceUnavailable, Reason: r}
}

func challenge(r Reason) Outcome {
	return Outcome{Decision: DecisionOtpChallengeRequired, Reason: r}
}

func otpInvalid(r Reason) Outcome {
	return Outcome{Decision: DecisionOtpInvalid, Reason: r}
}
