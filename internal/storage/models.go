package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Turn is one role-tagged message in a conversation's history. BlocksJSON
// holds the serialized content blocks (text, tool_use, tool_result) for that
// turn; the store treats it as an opaque string.
type Turn struct {
	ConversationID string
	Sequence       int
	Role           string // "user" | "assistant" | "tool"
	BlocksJSON     string
	CreatedAt      time.Time
}

// Document is one cached regulatory section or personal upload, content
// addressed by a canonical id (e.g. "cfr/14-25-1309", "{fingerprint}-{uuid}").
// OwnerFingerprint is empty iff the document is regulatory; storage treats
// "" as the null sentinel rather than sql.NullString, since the canonical id
// scheme already makes an empty fingerprint unambiguous.
type Document struct {
	ID               string
	Title            string
	Body             string
	SourceKind       string // "cfr" | "drs" | "aps" | "personal"
	Citation         string
	OwnerFingerprint string
	PageCount        int
	ContentHash      string
	FetchedAt        time.Time
	HitCount         int
	Indexed          bool
	IndexedAt        time.Time
	MetadataJSON     string
}

// Job is a background task row, used by the indexer for scheduled
// (second-hit) indexing. Personal uploads are indexed synchronously via
// Indexer.IndexNow and never enqueue a job.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
