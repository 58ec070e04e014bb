package tools

import (
	"github.com/openregs/regassist/internal/cache"
	"github.com/openregs/regassist/internal/storage"
)

// Scheduler schedules background indexing for a cached document. Satisfied
// by *indexer.Indexer.
type Scheduler interface {
	ScheduleIndex(canonicalID, indexName string) error
}

// fetchThroughCache is the uniform fetch-tools rule from spec.md §4.2: on
// cache miss, fetch and write through with hit_count=0; on hit, increment
// hit_count and, once it reaches the self-evolving-corpus threshold,
// schedule indexing into indexName.
func fetchThroughCache(c *cache.Cache, scheduler Scheduler, id, indexName string, fetch cache.FetchFunc) (storage.Document, error) {
	doc, fetched, err := c.GetOrFetch(id, fetch)
	if err != nil {
		return storage.Document{}, err
	}
	if fetched {
		return doc, nil
	}

	shouldIndex, err := c.RecordHit(id)
	if err != nil {
		return storage.Document{}, err
	}
	if shouldIndex && !doc.Indexed {
		if err := scheduler.ScheduleIndex(id, indexName); err != nil {
			return storage.Document{}, err
		}
	}
	return doc, nil
}
