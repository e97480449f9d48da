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

// Package authz holds the pure access-policy core: role and
// classification models, the permission evaluator, and the second-factor
// policy matrix. Nothing in this package performs I/O or mutates state,
// so every function is safe for unrestricted concurrent use.
package authz

// CanPerform decides whether the principal may perform action on the
// resource. Rules are evaluated in precedence order; the first match
// wins. An unknown action or role falls through to deny.
func CanPerform(p Principal, r Resource, action Action) bool {
	if !action.Valid() {
		return false
	}

	// Admins may do anything.
	if p.Role == RoleAdmin {
		return true
	}

	// Owners have full control over their own documents.
	if r.OwnerID != "" && r.OwnerID == p.ID {
		return true
	}

	// Public documents are readable by everyone.
	if r.Classification == ClassificationPublic && (action == ActionView || action == ActionDownload) {
		return true
	}

	// Supervisors may view, edit, and download restricted documents
	// belonging to others. They may never delete them, and secret
	// documents stay owner/admin only.
	if p.Role.AtLeast(RoleSupervisor) && r.Classification == ClassificationRestricted {
		switch action {
		case ActionView, ActionEdit, ActionDownload:
			return true
		}
	}

	return false
}

// RequiresSecondFactor reports whether the combination of action,
// document classification, and principal role demands a verified TOTP
// code on top of primary authentication.
//
// Classification drives the baseline: secret documents always demand a
// second factor, destructive actions demand one at every tier, and
// trusted roles shed the requirement only where the action is neither
// destructive nor the classification maximal. An unmapped combination
// resolves to "not required", matching the deployed policy table.
func RequiresSecondFactor(action Action, c Classification, role Role) bool {
	switch c {
	case ClassificationSecret:
		switch action {
		case ActionView, ActionDelete, ActionDownload:
			return true
		}
	case ClassificationRestricted:
		switch action {
		case ActionDelete:
			return true
		case ActionDownload:
			return role == RoleStandard
		}
	case ClassificationPublic:
		if action == ActionDelete {
			return role != RoleAdmin
		}
	}
	return false
}
