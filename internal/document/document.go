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

package document

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/securedocs/securedocs/internal/authz"
)

// Domain errors
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentGone     = errors.New("document has been deleted")
	ErrForbidden        = errors.New("operation not permitted")
	ErrInvalidDocument  = errors.New("invalid document")
)

// State is the document lifecycle state.
type State string

const (
	StateActive   State = "active"
	StateArchived State = "archived"
	StateDeleted  State = "deleted"
)

// FileInfo holds metadata about the stored blob.
type FileInfo struct {
	OriginalName string
	StoredName   string
	Extension    string
	Size         int64
	ContentType  string
}

// Document represents a stored document and its metadata.
type Document struct {
	ID             string
	OwnerID        string
	Title          string
	Description    string
	Classification authz.Classification
	Category       string
	Tags           []string
	File           FileInfo
	State          State
	ViewCount      int64
	DownloadCount  int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessAt   *time.Time
	DeletedAt      *time.Time
}

// Resource returns the authorization view of this document.
func (d *Document) Resource() authz.Resource {
	return authz.Resource{OwnerID: d.OwnerID, Classification: d.Classification}
}

// Repository defines the interface for document persistence
type Repository interface {
	// Create stores a new document
	Create(ctx context.Context, doc *Document) error

	// GetByID retrieves a document by ID, including soft-deleted ones
	GetByID(ctx context.Context, id string) (*Document, error)

	// List returns documents matching the filter
	List(ctx context.Context, filter ListFilter) ([]*Document, error)

	// Update updates document metadata
	Update(ctx context.Context, doc *Document) error

	// SetState changes the lifecycle state
	SetState(ctx context.Context, id string, state State, at time.Time) error

	// IncrementViewCount bumps the view counter and last access time
	IncrementViewCount(ctx context.Context, id string, at time.Time) error

	// IncrementDownloadCount bumps the download counter and last access time
	IncrementDownloadCount(ctx context.Context, id string, at time.Time) error
}

// ListFilter narrows a listing. Zero values mean no constraint, except
// Visibility which is always applied.
type ListFilter struct {
	Visibility Visibility
	Category   string
	State      State
	// Search matches the title and description case-insensitively, or
	// a tag exactly.
	Search         string
	Classification authz.Classification
}

// Matches reports whether a document satisfies the non-visibility
// constraints of the filter. SQL-backed repositories filter in the
// query; in-memory ones use this.
func (f ListFilter) Matches(d *Document) bool {
	if f.State != "" && d.State != f.State {
		return false
	}
	if f.Category != "" && d.Category != f.Category {
		return false
	}
	if f.Classification != "" && d.Classification != f.Classification {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if strings.Contains(strings.ToLower(d.Title), needle) ||
			strings.Contains(strings.ToLower(d.Description), needle) {
			return true
		}
		for _, tag := range d.Tags {
			if tag == f.Search {
				return true
			}
		}
		return false
	}
	return true
}

// Visibility scopes a listing to what one principal may see.
type Visibility struct {
	// OwnerID always sees their own documents.
	OwnerID string
	// MaxClassification is the highest non-owned tier visible, or empty
	// for none beyond owned.
	MaxClassification authz.Classification
	// All short-circuits the filter entirely (admin).
	All bool
}

// VisibilityFor derives the listing scope from a principal's role:
// standard users see their own documents plus public ones, supervisors
// additionally see restricted ones, and admins see everything.
func VisibilityFor(p authz.Principal) Visibility {
	switch p.Role {
	case authz.RoleAdmin:
		return Visibility{All: true}
	case authz.RoleSupervisor:
		return Visibility{OwnerID: p.ID, MaxClassification: authz.ClassificationRestricted}
	default:
		return Visibility{OwnerID: p.ID, MaxClassification: authz.ClassificationPublic}
	}
}

// Visible reports whether a document falls inside the scope.
func (v Visibility) Visible(d *Document) bool {
	if v.All {
		return true
	}
	if d.OwnerID == v.OwnerID {
		return true
	}
	if v.MaxClassification == "" {
		return false
	}
	return d.Classification.AtMost(v.MaxClassification)
}
