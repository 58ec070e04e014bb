// Package cache is the content-addressed document cache sitting in front
// of the regulatory adapters and personal-document store. A miss triggers a
// caller-supplied fetch; concurrent misses for the same key coalesce onto a
// single fetch rather than hitting the upstream source twice.
package cache

import (
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/openregs/regassist/internal/storage"
)

// FetchFunc retrieves a document from its upstream source on a cache miss.
type FetchFunc func() (storage.Document, error)

// Cache wraps storage.Store's document table with write-coalescing for
// concurrent fetches of a missing key.
type Cache struct {
	store *storage.Store
	group singleflight.Group
}

func New(store *storage.Store) *Cache {
	return &Cache{store: store}
}

// Get returns the cached document for id, or nil if absent. It never
// triggers a fetch; callers needing fetch-on-miss use GetOrFetch.
func (c *Cache) Get(id string) (*storage.Document, error) {
	doc, err := c.store.GetDocument(id)
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetOrFetch returns the cached document for id, fetching and caching it via
// fetch on a miss. Concurrent calls for the same id share one fetch via
// singleflight: the first caller runs fetch, later callers block and then
// share its result rather than issuing redundant upstream requests.
func (c *Cache) GetOrFetch(id string, fetch FetchFunc) (storage.Document, bool, error) {
	if doc, err := c.Get(id); err != nil {
		return storage.Document{}, false, err
	} else if doc != nil {
		return *doc, false, nil
	}

	// executed is set only inside the closure that singleflight actually
	// runs. Its own "shared" return is true whenever any other caller
	// joined the same in-flight key, including for the caller that ran
	// fetch itself — so it can't tell this caller apart from a waiter.
	// executed can, since a joining caller's own closure never runs.
	var executed bool
	v, err, _ := c.group.Do(id, func() (any, error) {
		executed = true
		doc, err := fetch()
		if err == nil {
			doc.ID = id
			doc.FetchedAt = time.Now()
			doc.HitCount = 0
			if putErr := c.store.PutDocument(doc); putErr != nil {
				err = fmt.Errorf("caching fetched document: %w", putErr)
			}
		}
		return doc, err
	})

	return v.(storage.Document), executed, err
}

// RecordHit increments the document's hit count and reports whether this
// is the transition that makes the document's total retrieval count reach
// two — the initial cache-populating fetch plus this hit — which is the
// trigger for scheduling indexing.
func (c *Cache) RecordHit(id string) (shouldIndex bool, err error) {
	count, err := c.store.RecordHit(id)
	if err != nil {
		return false, err
	}
	return count == 1, nil
}

// MarkIndexed flags id as indexed, idempotently.
func (c *Cache) MarkIndexed(id string) error {
	return c.store.MarkIndexed(id)
}
