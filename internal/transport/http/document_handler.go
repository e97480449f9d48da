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

package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/securedocs/securedocs/internal/authz"
	"github.com/securedocs/securedocs/internal/document"
	"github.com/securedocs/securedocs/internal/enforce"
	"github.com/securedocs/securedocs/internal/observability/logger"
	"github.com/securedocs/securedocs/internal/storage"
)

// otpCodeHeader carries the step-up code on protected operations.
const otpCodeHeader = "X-OTP-Code"

// enforce runs the access pipeline for one document operation and
// writes the HTTP response for every non-proceed outcome. It returns
// the outcome and whether the caller may continue.
func (h *Handler) enforce(w http.ResponseWriter, r *http.Request, action authz.Action) (enforce.Outcome, bool) {
	out, err := h.pipeline.Enforce(
		r.Context(),
		GetUserID(r.Context()),
		chi.URLParam(r, "documentID"),
		action,
		r.Header.Get(otpCodeHeader),
	)
	if err != nil {
		slog.ErrorContext(r.Context(), "enforcement failed",
			logger.Error(err),
			logger.Action(string(action)),
		)
		respondError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry")
		return enforce.Outcome{}, false
	}

	if out.Allowed() {
		return out, true
	}

	switch out.Decision {
	case enforce.DecisionDenied:
		switch out.Reason {
		case enforce.ReasonUnauthenticated:
			respondError(w, http.StatusUnauthorized, "not authenticated")
		case enforce.ReasonAccountInactive:
			respondError(w, http.StatusForbidden, "account is inactive")
		case enforce.ReasonAccountLocked:
			respondError(w, http.StatusLocked, "account is locked")
		default:
			respondError(w, http.StatusForbidden, "permission denied")
		}
	case enforce.DecisionResourceUnavailable:
		if out.Reason == enforce.ReasonGone {
			respondError(w, http.StatusGone, "document has been deleted")
		} else {
			respondError(w, http.StatusNotFound, "document not found")
		}
	case enforce.DecisionOtpChallengeRequired:
		if out.Reason == enforce.ReasonOtpNotConfigured {
			respondError(w, http.StatusPreconditionRequired, "second factor enrollment required")
		} else {
			respondError(w, http.StatusPreconditionRequired, "second factor code required")
		}
	case enforce.DecisionOtpInvalid:
		if out.Reason == enforce.ReasonOtpBadFormat {
			respondError(w, http.StatusBadRequest, "code must be exactly six digits")
		} else {
			respondError(w, http.StatusUnauthorized, "code does not match")
		}
	default:
		respondError(w, http.StatusForbidden, "permission denied")
	}
	return out, false
}

func documentResponse(d *document.Document) map[string]any {
	return map[string]any{
		"document_id":    d.ID,
		"owner_id":       d.OwnerID,
		"title":          d.Title,
		"description":    d.Description,
		"classification": d.Classification,
		"category":       d.Category,
		"tags":           d.Tags,
		"original_name":  d.File.OriginalName,
		"size":           d.File.Size,
		"content_type":   d.File.ContentType,
		"state":          d.State,
		"view_count":     d.ViewCount,
		"download_count": d.DownloadCount,
		"created_at":     d.CreatedAt,
		"updated_at":     d.UpdatedAt,
	}
}

// ListDocuments returns the documents visible to the caller
// @Summary List Documents
// @Description List documents within the caller's visibility scope, optionally filtered by category, classification, or a text search
// @Tags Documents
// @Produce json
// @Security BearerAuth
// @Param category query string false "Category filter"
// @Param classification query string false "Classification tier filter"
// @Param q query string false "Search over title, description, and tags"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Router /documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	p := authz.Principal{ID: GetUserID(r.Context()), Role: GetRole(r.Context())}
	params := r.URL.Query()

	docs, err := h.documentService.List(r.Context(), p, document.ListQuery{
		Category:       params.Get("category"),
		Search:         params.Get("q"),
		Classification: authz.Classification(params.Get("classification")),
	})
	if err != nil {
		if errors.Is(err, document.ErrInvalidDocument) {
			respondError(w, http.StatusBadRequest, "unknown classification")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}

	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		out = append(out, documentResponse(d))
	}

	respondJSON(w, http.StatusOK, map[string]any{"documents": out})
}

// UploadDocument stores a new document with its file
// @Summary Upload Document
// @Description Create a document from a multipart upload
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "Document file"
// @Param title formData string true "Title"
// @Param classification formData string true "Classification tier"
// @Success 201 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /documents [post]
func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	p := authz.Principal{ID: GetUserID(r.Context()), Role: GetRole(r.Context())}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "upload too large or malformed")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	classification := authz.Classification(r.FormValue("classification"))
	if !classification.Valid() {
		respondError(w, http.StatusBadRequest, "unknown classification")
		return
	}
	if classification == authz.ClassificationSecret && !p.Role.AtLeast(authz.RoleSupervisor) {
		respondError(w, http.StatusForbidden, "secret documents require supervisor role")
		return
	}

	storedName, size, err := h.store.Save(classification, header.Filename, file)
	if err != nil {
		if errors.Is(err, storage.ErrExtensionNotAllowed) {
			respondError(w, http.StatusBadRequest, "file extension not allowed")
			return
		}
		slog.ErrorContext(r.Context(), "failed to store blob", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	var tags []string
	if raw := r.FormValue("tags"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}

	doc, err := h.documentService.Create(r.Context(), p, document.CreateInput{
		Title:          r.FormValue("title"),
		Description:    r.FormValue("description"),
		Classification: classification,
		Category:       r.FormValue("category"),
		Tags:           tags,
		File: document.FileInfo{
			OriginalName: header.Filename,
			StoredName:   storedName,
			Extension:    strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), ".")),
			Size:         size,
			ContentType:  header.Header.Get("Content-Type"),
		},
	})
	if err != nil {
		// The blob is orphaned if the row fails; remove it.
		_ = h.store.Remove(classification, storedName)

		switch {
		case errors.Is(err, document.ErrForbidden):
			respondError(w, http.StatusForbidden, "secret documents require supervisor role")
		case errors.Is(err, document.ErrInvalidDocument):
			respondError(w, http.StatusBadRequest, "invalid document")
		default:
			respondError(w, http.StatusInternalServerError, "failed to create document")
		}
		return
	}

	respondJSON(w, http.StatusCreated, documentResponse(doc))
}

// GetDocument returns one document's metadata
// @Summary Get Document
// @Description Retrieve document metadata; secret tiers require a second factor
// @Tags Documents
// @Produce json
// @Security BearerAuth
// @Param documentID path string true "Document ID"
// @Param X-OTP-Code header string false "TOTP code when step-up applies"
// @Success 200 {object} map[string]any
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 428 {object} map[string]string
// @Router /documents/{documentID} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	out, ok := h.enforce(w, r, authz.ActionView)
	if !ok {
		return
	}

	if err := h.documentService.RecordView(r.Context(), out.User.ID, out.Document.ID); err != nil {
		slog.ErrorContext(r.Context(), "failed to record view", logger.Error(err))
	}

	respondJSON(w, http.StatusOK, documentResponse(out.Document))
}

// UpdateDocumentRequest carries mutable metadata
type UpdateDocumentRequest struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Category    *string  `json:"category"`
	Tags        []string `json:"tags"`
}

// UpdateDocument edits document metadata
// @Summary Update Document
// @Description Update document metadata
// @Tags Documents
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param documentID path string true "Document ID"
// @Param request body UpdateDocumentRequest true "Changes"
// @Success 200 {object} map[string]any
// @Failure 403 {object} map[string]string
// @Router /documents/{documentID} [put]
func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	out, ok := h.enforce(w, r, authz.ActionEdit)
	if !ok {
		return
	}

	var req UpdateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	doc, err := h.documentService.Update(r.Context(), out.User.ID, out.Document.ID, document.UpdateInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Tags:        req.Tags,
	})
	if err != nil {
		if errors.Is(err, document.ErrInvalidDocument) {
			respondError(w, http.StatusBadRequest, "invalid document")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to update document")
		return
	}

	respondJSON(w, http.StatusOK, documentResponse(doc))
}

// ReclassifyRequest carries a new classification tier
type ReclassifyRequest struct {
	Classification string `json:"classification" binding:"required" example:"restricted"`
}

// ReclassifyDocument moves a document between classification tiers
// @Summary Reclassify Document
// @Description Change a document's classification; the blob moves tiers with it
// @Tags Documents
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param documentID path string true "Document ID"
// @Param request body ReclassifyRequest true "New Classification"
// @Success 200 {object} map[string]any
// @Failure 403 {object} map[string]string
// @Router /documents/{documentID}/classification [put]
func (h *Handler) ReclassifyDocument(w http.ResponseWriter, r *http.Request) {
	out, ok := h.enforce(w, r, authz.ActionEdit)
	if !ok {
		return
	}

	var req ReclassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	previous := out.Document.Classification
	p := authz.Principal{ID: out.User.ID, Role: out.User.Role}

	doc, err := h.documentService.Reclassify(r.Context(), p, out.Document.ID, authz.Classification(req.Classification))
	if err != nil {
		switch {
		case errors.Is(err, document.ErrForbidden):
			respondError(w, http.StatusForbidden, "secret classification requires supervisor role")
		case errors.Is(err, document.ErrInvalidDocument):
			respondError(w, http.StatusBadRequest, "unknown classification")
		default:
			respondError(w, http.StatusInternalServerError, "failed to reclassify document")
		}
		return
	}

	if doc.File.StoredName != "" {
		if err := h.store.Move(previous, doc.Classification, doc.File.StoredName); err != nil {
			slog.ErrorContext(r.Context(), "failed to move blob between tiers", logger.Error(err))
		}
	}

	respondJSON(w, http.StatusOK, documentResponse(doc))
}

// DeleteDocument soft-deletes a document
// @Summary Delete Document
// @Description Soft-delete a document; deletion is step-up protected
// @Tags Documents
// @Produce json
// @Security BearerAuth
// @Param documentID path string true "Document ID"
// @Param X-OTP-Code header string false "TOTP code when step-up applies"
// @Success 200 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 428 {object} map[string]string
// @Router /documents/{documentID} [delete]
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	out, ok := h.enforce(w, r, authz.ActionDelete)
	if !ok {
		return
	}

	if err := h.documentService.Delete(r.Context(), out.User.ID, out.Document.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete document")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "document deleted",
	})
}

// ArchiveDocument retires a document without deleting it
// @Summary Archive Document
// @Description Move a document to the archived state; it is no longer served
// @Tags Documents
// @Produce json
// @Security BearerAuth
// @Param documentID path string true "Document ID"
// @Param X-OTP-Code header string false "TOTP code when step-up applies"
// @Success 200 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 410 {object} map[string]string
// @Router /documents/{documentID}/archive [post]
func (h *Handler) ArchiveDocument(w http.ResponseWriter, r *http.Request) {
	out, ok := h.enforce(w, r, authz.ActionEdit)
	if !ok {
		return
	}

	if err := h.documentService.Archive(r.Context(), out.User.ID, out.Document.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to archive document")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "document archived",
	})
}

// DownloadDocument streams the document's file
// @Summary Download Document
// @Description Stream the stored file; restricted and secret tiers may require a second factor
// @Tags Documents
// @Produce octet-stream
// @Security BearerAuth
// @Param documentID path string true "Document ID"
// @Param X-OTP-Code header string false "TOTP code when step-up applies"
// @Success 200 {file} binary
// @Failure 403 {object} map[string]string
// @Failure 428 {object} map[string]string
// @Router /documents/{documentID}/download [get]
func (h *Handler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	out, ok := h.enforce(w, r, authz.ActionDownload)
	if !ok {
		return
	}

	doc := out.Document
	blob, err := h.store.Open(doc.Classification, doc.File.StoredName)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			respondError(w, http.StatusNotFound, "file not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to open file")
		return
	}
	defer blob.Close()

	if err := h.documentService.RecordDownload(r.Context(), out.User.ID, doc.ID); err != nil {
		slog.ErrorContext(r.Context(), "failed to record download", logger.Error(err))
	}

	contentType := doc.File.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+doc.File.OriginalName+`"`)
	if _, err := io.Copy(w, blob); err != nil {
		slog.ErrorContext(r.Context(), "failed to stream file", logger.Error(err))
	}
}
