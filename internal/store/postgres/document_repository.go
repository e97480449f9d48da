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
	"github.com/securedocs/securedocs/internal/document"
)

// DocumentRepository implements document.Repository
type DocumentRepository struct {
	db *DB
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `id, owner_id, title, description, classification, category, tags,
	original_name, stored_name, extension, file_size, content_type,
	state, view_count, download_count,
	created_at, updated_at, last_access_at, deleted_at`

func scanDocument(row pgx.Row) (*document.Document, error) {
	var doc document.Document
	var lastAccessAt, deletedAt sql.NullTime

	err := row.Scan(
		&doc.ID, &doc.OwnerID, &doc.Title, &doc.Description,
		&doc.Classification, &doc.Category, &doc.Tags,
		&doc.File.OriginalName, &doc.File.StoredName, &doc.File.Extension,
		&doc.File.Size, &doc.File.ContentType,
		&doc.State, &doc.ViewCount, &doc.DownloadCount,
		&doc.CreatedAt, &doc.UpdatedAt, &lastAccessAt, &deletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, document.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	if lastAccessAt.Valid {
		doc.LastAccessAt = &lastAccessAt.Time
	}
	if deletedAt.Valid {
		doc.DeletedAt = &deletedAt.Time
	}

	return &doc, nil
}

// Create stores a new document
func (r *DocumentRepository) Create(ctx context.Context, doc *document.Document) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO documents (
			id, owner_id, title, description, classification, category, tags,
			original_name, stored_name, extension, file_size, content_type,
			state, view_count, download_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		doc.ID, doc.OwnerID, doc.Title, doc.Description,
		doc.Classification, doc.Category, doc.Tags,
		doc.File.OriginalName, doc.File.StoredName, doc.File.Extension,
		doc.File.Size, doc.File.ContentType,
		doc.State, doc.ViewCount, doc.DownloadCount,
		doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// GetByID retrieves a document by ID, including soft-deleted ones
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*document.Document, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id = $1
	`, id)
	return scanDocument(row)
}

// List returns documents matching the filter. The visibility scope is
// always applied; state and category narrow further when set.
func (r *DocumentRepository) List(ctx context.Context, filter document.ListFilter) ([]*document.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE 1=1`
	args := []any{}
	n := 0

	arg := func(v any) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}

	if !filter.Visibility.All {
		if filter.Visibility.MaxClassification != "" {
			// Classifications order as public < restricted < secret,
			// which the tier names happen to sort to alphabetically.
			query += fmt.Sprintf(" AND (owner_id = %s OR classification <= %s)",
				arg(filter.Visibility.OwnerID), arg(string(filter.Visibility.MaxClassification)))
		} else {
			query += fmt.Sprintf(" AND owner_id = %s", arg(filter.Visibility.OwnerID))
		}
	}
	if filter.State != "" {
		query += fmt.Sprintf(" AND state = %s", arg(string(filter.State)))
	}
	if filter.Category != "" {
		query += fmt.Sprintf(" AND category = %s", arg(filter.Category))
	}
	if filter.Classification != "" {
		query += fmt.Sprintf(" AND classification = %s", arg(string(filter.Classification)))
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		query += fmt.Sprintf(" AND (title ILIKE %s OR description ILIKE %s OR %s = ANY(tags))",
			arg(pattern), arg(pattern), arg(filter.Search))
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// Update updates document metadata
func (r *DocumentRepository) Update(ctx context.Context, doc *document.Document) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE documents SET
			title = $2,
			description = $3,
			classification = $4,
			category = $5,
			tags = $6,
			updated_at = $7
		WHERE id = $1 AND deleted_at IS NULL
	`,
		doc.ID, doc.Title, doc.Description, doc.Classification,
		doc.Category, doc.Tags, doc.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}

	if result.RowsAffected() == 0 {
		return document.ErrDocumentNotFound
	}

	return nil
}

// SetState changes the lifecycle state
func (r *DocumentRepository) SetState(ctx context.Context, id string, state document.State, at time.Time) error {
	var deletedAt *time.Time
	if state == document.StateDeleted {
		deletedAt = &at
	}

	result, err := r.db.pool.Exec(ctx, `
		UPDATE documents
		SET state = $2, deleted_at = $3, updated_at = $4
		WHERE id = $1
	`, id, state, deletedAt, at)

	if err != nil {
		return fmt.Errorf("failed to set document state: %w", err)
	}

	if result.RowsAffected() == 0 {
		return document.ErrDocumentNotFound
	}

	return nil
}

// IncrementViewCount bumps the view counter and last access time
func (r *DocumentRepository) IncrementViewCount(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE documents
		SET view_count = view_count + 1, last_access_at = $2
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to increment view count: %w", err)
	}
	if result.RowsAffected() == 0 {
		return document.ErrDocumentNotFound
	}
	return nil
}

// IncrementDownloadCount bumps the download counter and last access time
func (r *DocumentRepository) IncrementDownloadCount(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE documents
		SET download_count = download_count + 1, last_access_at = $2
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to increment download count: %w", err)
	}
	if result.RowsAffected() == 0 {
		return document.ErrDocumentNotFound
	}
	return nil
}
