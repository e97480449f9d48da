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

package authz

// Role is the privilege tier of a principal. Roles form a total order:
// admin > supervisor > standard.
type Role string

const (
	RoleStandard   Role = "standard"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

// roleRank maps roles onto their position in the privilege order.
// Unknown roles rank below standard.
var roleRank = map[Role]int{
	RoleStandard:   1,
	RoleSupervisor: 2,
	RoleAdmin:      3,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r carries at least the privilege of other.
func (r Role) AtLeast(other Role) bool {
	return roleRank[r] >= roleRank[other]
}

// Classification is the sensitivity tier of a document.
// The lattice is ordered: public < restricted < secret.
type Classification string

const (
	ClassificationPublic     Classification = "public"
	ClassificationRestricted Classification = "restricted"
	ClassificationSecret     Classification = "secret"
)

var classificationRank = map[Classification]int{
	ClassificationPublic:     1,
	ClassificationRestricted: 2,
	ClassificationSecret:     3,
}

// Valid reports whether c is a known classification.
func (c Classification) Valid() bool {
	_, ok := classificationRank[c]
	return ok
}

// AtMost reports whether c sits at or below other in the lattice.
func (c Classification) AtMost(other Classification) bool {
	return classificationRank[c] <= classificationRank[other]
}

// Action is an operation attempted against a document. Callers must pass
// an explicit action; the evaluator never infers one from transport
// details.
type Action string

const (
	ActionView     Action = "view"
	ActionEdit     Action = "edit"
	ActionDelete   Action = "delete"
	ActionDownload Action = "download"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionView, ActionEdit, ActionDelete, ActionDownload:
		return true
	}
	return false
}

// Principal is the minimal view of a user that policy evaluation needs.
type Principal struct {
	ID   string
	Role Role
}

// Resource is the minimal view of a document that policy evaluation needs.
type Resource struct {
	OwnerID        string
	Classification Classification
}
