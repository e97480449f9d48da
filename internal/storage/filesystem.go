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

// Package storage persists document blobs on the local filesystem,
// partitioned into one directory per classification tier.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/securedocs/securedocs/internal/authz"
)

// Domain errors
var (
	ErrExtensionNotAllowed = errors.New("file extension not allowed")
	ErrBlobNotFound        = errors.New("blob not found")
	ErrBadStoredName       = errors.New("invalid stored name")
)

// FilesystemStore writes blobs under root/<classification>/<storedName>.
type FilesystemStore struct {
	root    string
	allowed map[string]struct{}
}

// NewFilesystemStore creates the store and its per-tier directories.
func NewFilesystemStore(root string, allowedExtensions []string) (*FilesystemStore, error) {
	allowed := make(map[string]struct{}, len(allowedExtensions))
	for _, ext := range allowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}

	for _, c := range []authz.Classification{
		authz.ClassificationPublic,
		authz.ClassificationRestricted,
		authz.ClassificationSecret,
	} {
		if err := os.MkdirAll(filepath.Join(root, string(c)), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	return &FilesystemStore{root: root, allowed: allowed}, nil
}

// Allowed reports whether the original file name carries a permitted
// extension.
func (s *FilesystemStore) Allowed(originalName string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(originalName), "."))
	if ext == "" {
		return false
	}
	_, ok := s.allowed[ext]
	return ok
}

// StoredName builds a unique on-disk name from the original file name.
// The timestamp keeps names sortable; the UUID fragment keeps two
// uploads in the same second from colliding.
func StoredName(originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	fragment := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s_%s%s", time.Now().UTC().Format("20060102T150405"), fragment, ext)
}

// Save writes a blob and returns its stored name and size.
func (s *FilesystemStore) Save(c authz.Classification, originalName string, r io.Reader) (string, int64, error) {
	if !s.Allowed(originalName) {
		return "", 0, ErrExtensionNotAllowed
	}

	storedName := StoredName(originalName)
	path := filepath.Join(s.root, string(c), storedName)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create blob: %w", err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("failed to write blob: %w", err)
	}

	return storedName, n, nil
}

// Open returns a reader over a stored blob.
func (s *FilesystemStore) Open(c authz.Classification, storedName string) (io.ReadCloser, error) {
	path, err := s.blobPath(c, storedName)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

// Move relocates a blob between classification tiers, keeping its
// stored name. Used when a document is reclassified.
func (s *FilesystemStore) Move(from, to authz.Classification, storedName string) error {
	if from == to {
		return nil
	}
	src, err := s.blobPath(from, storedName)
	if err != nil {
		return err
	}
	dst, err := s.blobPath(to, storedName)
	if err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("failed to move blob: %w", err)
	}
	return nil
}

// Remove deletes a stored blob.
func (s *FilesystemStore) Remove(c authz.Classification, storedName string) error {
	path, err := s.blobPath(c, storedName)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("failed to remove blob: %w", err)
	}
	return nil
}

// blobPath rejects stored names that would escape the tier directory.
func (s *FilesystemStore) blobPath(c authz.Classification, storedName string) (string, error) {
	if storedName == "" || storedName != filepath.Base(storedName) || strings.HasPrefix(storedName, ".") {
		return "", ErrBadStoredName
	}
	return filepath.Join(s.root, string(c), storedName), nil
}
