// Package personaldocs handles per-user PDF uploads: size and quota limits,
// SHA-256 deduplication, text extraction, and immediate indexing. Unlike a
// regulatory fetch, an upload's chunks are indexed at upload time rather
// than waiting for a second retrieval — the uploader's intent is explicit.
package personaldocs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openregs/regassist/internal/indexer"
	"github.com/openregs/regassist/internal/searchclient"
	"github.com/openregs/regassist/internal/storage"
)

// ErrTooLarge is returned when an upload exceeds Limits.MaxSizeBytes.
var ErrTooLarge = errors.New("file exceeds maximum upload size")

// ErrQuotaExceeded is returned when a fingerprint already owns
// Limits.MaxPerUser personal documents.
var ErrQuotaExceeded = errors.New("maximum personal document count reached")

// ErrDuplicate is returned when the uploaded file's SHA-256 matches an
// existing personal document owned by the same fingerprint.
var ErrDuplicate = errors.New("duplicate upload")

// ErrForbidden is returned when a fingerprint attempts to act on a
// document it does not own. Deliberately indistinguishable from "not
// found" to callers, so as not to leak a document's existence.
var ErrForbidden = errors.New("document not found")

// Limits bounds personal-document uploads.
type Limits struct {
	MaxSizeBytes int64
	MaxPerUser   int
}

// Service implements upload, listing, and deletion of personal documents.
type Service struct {
	storage *storage.Store
	indexer *indexer.Indexer
	search  *searchclient.Client
	limits  Limits

	// extract is swappable in tests so Upload's quota/dedup/indexing
	// logic can be exercised without a real PDF fixture.
	extract func([]byte) (string, int, error)
}

// New constructs a Service bound to storage, the indexer used for
// immediate post-upload indexing, and the Search Proxy client used to
// remove a document's chunks on deletion.
func New(store *storage.Store, ix *indexer.Indexer, search *searchclient.Client, limits Limits) *Service {
	return &Service{storage: store, indexer: ix, search: search, limits: limits, extract: extractText}
}

// Upload validates, dedups, extracts, stores, and immediately indexes a
// PDF. indexName is the agent's vector index the uploader is working in;
// personal documents carry no index of their own, so the caller's current
// agent binding decides where the chunks land.
func (s *Service) Upload(ctx context.Context, fingerprint, filename, indexName string, data []byte) (storage.Document, error) {
	if int64(len(data)) > s.limits.MaxSizeBytes {
		return storage.Document{}, ErrTooLarge
	}

	count, err := s.storage.CountPersonalDocuments(fingerprint)
	if err != nil {
		return storage.Document{}, fmt.Errorf("counting existing documents: %w", err)
	}
	if count >= s.limits.MaxPerUser {
		return storage.Document{}, ErrQuotaExceeded
	}

	hash := sha256.Sum256(data)
	hashHex := hex.EncodeToString(hash[:])

	if _, err := s.storage.FindPersonalDocumentByHash(fingerprint, hashHex); err == nil {
		return storage.Document{}, ErrDuplicate
	} else if !errors.Is(err, storage.ErrNotFound) {
		return storage.Document{}, fmt.Errorf("checking for duplicate upload: %w", err)
	}

	body, pageCount, err := s.extract(data)
	if err != nil {
		return storage.Document{}, fmt.Errorf("extracting text: %w", err)
	}

	doc := storage.Document{
		ID:               fmt.Sprintf("%s-%s", fingerprint, uuid.New().String()),
		Title:            filename,
		Body:             body,
		SourceKind:       "personal",
		Citation:         filename,
		OwnerFingerprint: fingerprint,
		PageCount:        pageCount,
		ContentHash:      hashHex,
		FetchedAt:        time.Now(),
	}
	if err := s.storage.PutDocument(doc); err != nil {
		return storage.Document{}, fmt.Errorf("storing document: %w", err)
	}

	if err := s.indexer.IndexNow(ctx, doc.ID, indexName); err != nil {
		return doc, fmt.Errorf("indexing document: %w", err)
	}
	doc.Indexed = true

	return doc, nil
}

// List returns every personal document owned by fingerprint.
func (s *Service) List(fingerprint string) ([]storage.Document, error) {
	return s.storage.ListPersonalDocuments(fingerprint)
}

// Delete removes a personal document and its chunks, after confirming
// fingerprint owns it.
func (s *Service) Delete(ctx context.Context, fingerprint, indexName, documentID string) error {
	doc, err := s.storage.GetDocument(documentID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrForbidden
	}
	if err != nil {
		return fmt.Errorf("loading document: %w", err)
	}
	if doc.SourceKind != "personal" || doc.OwnerFingerprint != fingerprint {
		return ErrForbidden
	}

	if err := s.search.DeleteDocument(ctx, indexName, fingerprint, documentID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	return s.storage.DeleteDocument(documentID)
}
