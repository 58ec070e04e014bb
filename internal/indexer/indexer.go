// Package indexer turns cached documents into searchable chunks. It polls
// the job queue for index_document jobs, chunks and embeds the document
// body, and uploads the chunks to the Search Proxy.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openregs/regassist/internal/cache"
	"github.com/openregs/regassist/internal/llm"
	"github.com/openregs/regassist/internal/searchclient"
	"github.com/openregs/regassist/internal/storage"
)

const jobType = "index_document"

const (
	maxChunkTokens = 1000
	chunkOverlap   = 100
	maxChunks      = 100
)

// Embedder generates embedding vectors for chunk text, bounded to a fixed
// concurrency across a batch.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// llmEmbedder adapts llm.Client to the Embedder interface with bounded
// concurrency, mirroring retrieval.Embedder.EmbedBatch.
type llmEmbedder struct {
	client *llm.Client
	model  string
	limit  int
}

// NewEmbedder wraps an llm.Client for chunk embedding.
func NewEmbedder(client *llm.Client, model string) Embedder {
	return &llmEmbedder{client: client, model: model, limit: 4}
}

func (e *llmEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	sem := make(chan struct{}, e.limit)
	var wg sync.WaitGroup
	errs := make([]error, len(texts))

	for i, text := range texts {
		i, text := i, text
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			vec, err := e.client.Embed(ctx, e.model, text)
			if err != nil {
				errs[i] = fmt.Errorf("embedding chunk %d: %w", i, err)
				return
			}
			results[i] = vec
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// Indexer processes index_document jobs from the job queue.
type Indexer struct {
	jobs     *storage.Store
	cache    *cache.Cache
	embedder Embedder
	search   *searchclient.Client
	poll     time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// NewIndexer creates an Indexer with the given dependencies. If
// pollInterval is <= 0, it defaults to 500ms.
func NewIndexer(jobs *storage.Store, c *cache.Cache, embedder Embedder, search *searchclient.Client, pollInterval time.Duration) *Indexer {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Indexer{
		jobs:     jobs,
		cache:    c,
		embedder: embedder,
		search:   search,
		poll:     pollInterval,
		logger:   slog.Default(),
		inflight: make(map[string]chan struct{}),
	}
}

type indexPayload struct {
	CanonicalID string `json:"canonical_id"`
	IndexName   string `json:"index_name"`
}

// ScheduleIndex enqueues a background indexing job for (canonicalID,
// indexName), or attaches to an already-running task for the same key.
// Implements the single-build invariant: at most one indexing task runs
// concurrently for a given (canonicalID, indexName) pair.
func (ix *Indexer) ScheduleIndex(canonicalID, indexName string) error {
	key := canonicalID + "\x00" + indexName

	ix.mu.Lock()
	if _, ok := ix.inflight[key]; ok {
		ix.mu.Unlock()
		return nil
	}
	ix.inflight[key] = make(chan struct{})
	ix.mu.Unlock()

	payload, err := json.Marshal(indexPayload{CanonicalID: canonicalID, IndexName: indexName})
	if err != nil {
		ix.releaseInflight(key)
		return fmt.Errorf("marshaling index payload: %w", err)
	}

	if err := ix.jobs.EnqueueJob(storage.Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		PayloadJSON: string(payload),
	}); err != nil {
		ix.releaseInflight(key)
		return fmt.Errorf("enqueuing index job: %w", err)
	}
	return nil
}

func (ix *Indexer) releaseInflight(key string) {
	ix.mu.Lock()
	if ch, ok := ix.inflight[key]; ok {
		close(ch)
		delete(ix.inflight, key)
	}
	ix.mu.Unlock()
}

// Run polls for jobs until ctx is cancelled.
func (ix *Indexer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := ix.RunOnce(ctx)
		if err != nil {
			ix.logger.Error("indexer iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(ix.poll):
		}
	}
}

// RunOnce claims and processes a single index_document job. Returns true if
// a job was processed (regardless of success/failure).
func (ix *Indexer) RunOnce(ctx context.Context) (bool, error) {
	job, err := ix.jobs.ClaimNextJob([]string{jobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	var payload indexPayload
	key := ""
	if unmarshalErr := json.Unmarshal([]byte(job.PayloadJSON), &payload); unmarshalErr == nil {
		key = payload.CanonicalID + "\x00" + payload.IndexName
	}
	defer func() {
		if key != "" {
			ix.releaseInflight(key)
		}
	}()

	if err := ix.processJob(ctx, job); err != nil {
		ix.logger.Warn("index job failed", "job_id", job.ID, "error", err)
		if failErr := ix.jobs.FailJob(job.ID, err.Error()); failErr != nil {
			ix.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := ix.jobs.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (ix *Indexer) processJob(ctx context.Context, job *storage.Job) error {
	var payload indexPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	return ix.processDocument(ctx, payload.CanonicalID, payload.IndexName)
}

// IndexNow runs the chunk/embed/upload pipeline synchronously, bypassing the
// job queue. Personal-document uploads use this instead of ScheduleIndex:
// the uploader's intent is explicit, so there is no "second retrieval" to
// wait for and no reason to defer the work to a poller.
func (ix *Indexer) IndexNow(ctx context.Context, canonicalID, indexName string) error {
	return ix.processDocument(ctx, canonicalID, indexName)
}

func (ix *Indexer) processDocument(ctx context.Context, canonicalID, indexName string) error {
	doc, err := ix.cache.Get(canonicalID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", canonicalID, err)
	}
	if doc == nil {
		return fmt.Errorf("document %s not in cache", canonicalID)
	}

	chunks := ChunkText(doc.Body, maxChunkTokens, chunkOverlap, maxChunks)
	if len(chunks) == 0 {
		return ix.cache.MarkIndexed(doc.ID)
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}

	indexChunks := make([]searchclient.IndexChunk, len(chunks))
	for i, text := range chunks {
		indexChunks[i] = searchclient.IndexChunk{
			OwnerFingerprint: doc.OwnerFingerprint,
			Text:             text,
			Embedding:        vectors[i],
		}
	}

	asRegulatory := doc.OwnerFingerprint == ""
	err = ix.search.Index(ctx, indexName, doc.OwnerFingerprint, []searchclient.IndexDocument{{
		CanonicalID: doc.ID,
		Citation:    doc.Citation,
		Chunks:      indexChunks,
	}}, asRegulatory)
	if err != nil {
		return fmt.Errorf("uploading chunks to search proxy: %w", err)
	}

	return ix.cache.MarkIndexed(doc.ID)
}
