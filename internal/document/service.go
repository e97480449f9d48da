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
	"fmt"
	"time"

	"github.com/securedocs/securedocs/internal/audit"
	"github.com/securedocs/securedocs/internal/authz"
	"github.com/securedocs/securedocs/internal/id"
)

// Service provides document business logic
type Service struct {
	repo        Repository
	auditLogger audit.Logger
}

// NewService creates a new document service
func NewService(repo Repository, auditLogger audit.Logger) *Service {
	return &Service{repo: repo, auditLogger: auditLogger}
}

// CreateInput carries the fields for a new document.
type CreateInput struct {
	Title          string
	Description    string
	Classification authz.Classification
	Category       string
	Tags           []string
	File           FileInfo
}

// Create stores a new document owned by the principal. Creating a
// secret document requires at least the supervisor role.
func (s *Service) Create(ctx context.Context, p authz.Principal, in CreateInput) (*Document, error) {
	if in.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidDocument)
	}
	if !in.Classification.Valid() {
		return nil, fmt.Errorf("%w: unknown classification %q", ErrInvalidDocument, in.Classification)
	}
	if in.Classification == authz.ClassificationSecret && !p.Role.AtLeast(authz.RoleSupervisor) {
		return nil, ErrForbidden
	}

	now := time.Now()
	doc := &Document{
		ID:             id.NewUUIDv7(),
		OwnerID:        p.ID,
		Title:          in.Title,
		Description:    in.Description,
		Classification: in.Classification,
		Category:       in.Category,
		Tags:           in.Tags,
		File:           in.File,
		State:          StateActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeDocumentCreated,
		ActorID:  p.ID,
		Resource: doc.ID,
		Metadata: map[string]any{
			audit.AttrClassification: string(doc.Classification),
		},
	})

	return doc, nil
}

// Get retrieves a document regardless of lifecycle state. Callers that
// care about deleted documents check State themselves.
func (s *Service) Get(ctx context.Context, docID string) (*Document, error) {
	return s.repo.GetByID(ctx, docID)
}

// ListQuery narrows a listing: by category, by classification tier, or
// by a free-text search over title, description, and tags.
type ListQuery struct {
	Category       string
	Search         string
	Classification authz.Classification
}

// List returns the documents the principal may see, narrowed by the
// query. An unknown classification value is rejected rather than
// silently matching nothing.
func (s *Service) List(ctx context.Context, p authz.Principal, q ListQuery) ([]*Document, error) {
	if q.Classification != "" && !q.Classification.Valid() {
		return nil, ErrInvalidDocument
	}
	return s.repo.List(ctx, ListFilter{
		Visibility:     VisibilityFor(p),
		Category:       q.Category,
		State:          StateActive,
		Search:         q.Search,
		Classification: q.Classification,
	})
}

// UpdateInput carries the mutable metadata fields. Nil pointers leave
// the current value unchanged.
type UpdateInput struct {
	Title       *string
	Description *string
	Category    *string
	Tags        []string
}

// Update applies metadata changes to a document.
func (s *Service) Update(ctx context.Context, actorID, docID string, in UpdateInput) (*Document, error) {
	doc, err := s.repo.GetByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.State == StateDeleted {
		return nil, ErrDocumentGone
	}

	if in.Title != nil {
		if *in.Title == "" {
			return nil, fmt.Errorf("%w: title is required", ErrInvalidDocument)
		}
		doc.Title = *in.Title
	}
	if in.Description != nil {
		doc.Description = *in.Description
	}
	if in.Category != nil {
		doc.Category = *in.Category
	}
	if in.Tags != nil {
		doc.Tags = in.Tags
	}
	doc.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeDocumentUpdated,
		ActorID:  actorID,
		Resource: doc.ID,
	})

	return doc, nil
}

// Reclassify moves a document to a different classification tier.
// Raising to secret requires at least the supervisor role.
func (s *Service) Reclassify(ctx context.Context, p authz.Principal, docID string, c authz.Classification) (*Document, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: unknown classification %q", ErrInvalidDocument, c)
	}
	if c == authz.ClassificationSecret && !p.Role.AtLeast(authz.RoleSupervisor) {
		return nil, ErrForbidden
	}

	doc, err := s.repo.GetByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.State == StateDeleted {
		return nil, ErrDocumentGone
	}

	doc.Classification = c
	doc.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to reclassify document: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeDocumentUpdated,
		ActorID:  p.ID,
		Resource: doc.ID,
		Metadata: map[string]any{
			audit.AttrClassification: string(c),
		},
	})

	return doc, nil
}

// Delete soft-deletes a document. The row and the blob remain; later
// reads report the document as gone rather than absent.
func (s *Service) Delete(ctx context.Context, actorID, docID string) error {
	doc, err := s.repo.GetByID(ctx, docID)
	if err != nil {
		return err
	}
	if doc.State == StateDeleted {
		return ErrDocumentGone
	}

	if err := s.repo.SetState(ctx, doc.ID, StateDeleted, time.Now()); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeDocumentDeleted,
		ActorID:  actorID,
		Resource: doc.ID,
	})

	return nil
}

// Archive moves a document out of active listings without deleting it.
func (s *Service) Archive(ctx context.Context, actorID, docID string) error {
	doc, err := s.repo.GetByID(ctx, docID)
	if err != nil {
		return err
	}
	if doc.State == StateDeleted {
		return ErrDocumentGone
	}

	if err := s.repo.SetState(ctx, doc.ID, StateArchived, time.Now()); err != nil {
		return fmt.Errorf("failed to archive document: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeDocumentUpdated,
		ActorID:  actorID,
		Resource: doc.ID,
		Metadata: map[string]any{audit.AttrReason: "archived"},
	})

	return nil
}

// RecordView bumps the view counter after an allowed view.
func (s *Service) RecordView(ctx context.Context, actorID, docID string) error {
	if err := s.repo.IncrementViewCount(ctx, docID, time.Now()); err != nil {
		return fmt.Errorf("failed to record view: %w", err)
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeDocumentViewed,
		ActorID:  actorID,
		Resource: docID,
	})
	return nil
}

// RecordDownload bumps the download counter after an allowed download.
func (s *Service) RecordDownload(ctx context.Context, actorID, docID string) error {
	if err := s.repo.IncrementDownloadCount(ctx, docID, time.Now()); err != nil {
		return fmt.Errorf("failed to record download: %w", err)
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeDocumentDownloaded,
		ActorID:  actorID,
		Resource: docID,
	})
	return nil
}
