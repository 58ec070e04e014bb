// Package searchproxy implements the sole process that holds vector-index
// credentials. Nothing outside this package ever opens the chunk table
// directly — that is an architectural invariant, not just code discipline.
package searchproxy

import (
	"container/heap"
	"database/sql"
	"embed"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrNotFound = errors.New("not found")
var ErrOwnershipViolation = errors.New("ownership violation")

// Chunk is one embedded segment of a Document, scoped to a tenant index.
type Chunk struct {
	ID               string
	IndexName        string
	CanonicalID      string
	ChunkIndex       int
	OwnerFingerprint string // "" for regulatory chunks
	TextChunk        string
	Citation         string
	Embedding        []float32
	CreatedAt        time.Time
}

// ScoredChunk is a Chunk with a similarity score attached.
type ScoredChunk struct {
	Chunk
	Score float32
}

// DocumentSummary describes one parent document's footprint in an index,
// used to answer GET /documents.
type DocumentSummary struct {
	CanonicalID string    `json:"canonical_id"`
	ChunkCount  int       `json:"chunk_count"`
	Citation    string    `json:"citation"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the SQLite-backed chunk table. Adapted from the brute-force
// cosine scan used for the single-process retrieval store, generalized
// with an index_name namespace and the compiled ownership filter that
// every Search call enforces.
type Store struct {
	db *sql.DB
}

// Open creates or opens the chunk database at dataDir/chunks.db and applies
// pending migrations.
func Open(dataDir string) (*Store, error) {
	dsn := "file:" + filepath.Join(dataDir, "chunks.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening chunk database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("creating schema_version: %w", err)
	}

	var applied int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&applied); err != nil {
		return fmt.Errorf("counting schema_version: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for i, name := range names {
		version := i + 1
		if version <= applied {
			continue
		}
		sqlBytes, err := migrationsFS.ReadFile(filepath.Join("migrations", name))
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %s: %w", name, err)
		}
		if _, err := tx.Exec(string(sqlBytes)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %s: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
	}
	return nil
}

// InsertChunks writes chunks transactionally. Callers (the /index handler)
// are responsible for the ownership validation spec.md §4.4 requires —
// this method trusts its input.
func (s *Store) InsertChunks(chunks []Chunk) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO chunks (id, index_name, canonical_id, chunk_index, owner_fingerprint, text_chunk, citation, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.Exec(c.ID, c.IndexName, c.CanonicalID, c.ChunkIndex, c.OwnerFingerprint, c.TextChunk, c.Citation, encodeFloat32s(c.Embedding), createdAt.Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// Search performs brute-force cosine similarity search scoped to indexName,
// unconditionally appending the ownership filter: owner_fingerprint = '' OR
// owner_fingerprint = fingerprint. This is the one compiled, non-negotiable
// predicate spec.md §4.4 requires — there is no code path that can widen it.
func (s *Store) Search(indexName string, vector []float32, topK int, fingerprint string) ([]ScoredChunk, error) {
	rows, err := s.db.Query(
		`SELECT id, canonical_id, chunk_index, owner_fingerprint, text_chunk, citation, embedding, created_at
		 FROM chunks WHERE index_name = ? AND (owner_fingerprint = '' OR owner_fingerprint = ?)`,
		indexName, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	h := &scoredHeap{}
	heap.Init(h)

	for rows.Next() {
		c, err := scanChunkRow(rows, indexName)
		if err != nil {
			return nil, err
		}
		score := dotProduct(vector, c.Embedding, queryNorm)
		sc := ScoredChunk{Chunk: c, Score: score}
		if h.Len() < topK {
			heap.Push(h, sc)
		} else if score > (*h)[0].Score {
			(*h)[0] = sc
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	results := make([]ScoredChunk, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(h).(ScoredChunk)
	}
	return results, nil
}

// ListDocuments groups a fingerprint's owned chunks by canonical_id for
// GET /documents.
func (s *Store) ListDocuments(indexName, fingerprint string) ([]DocumentSummary, error) {
	rows, err := s.db.Query(
		`SELECT canonical_id, COUNT(*), MAX(citation), MIN(created_at)
		 FROM chunks WHERE index_name = ? AND owner_fingerprint = ?
		 GROUP BY canonical_id`,
		indexName, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []DocumentSummary
	for rows.Next() {
		var d DocumentSummary
		var createdAt string
		if err := rows.Scan(&d.CanonicalID, &d.ChunkCount, &d.Citation, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning document summary: %w", err)
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		d.CreatedAt = t
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteDocument removes every chunk for canonicalID in indexName, after
// validating that all of them belong to fingerprint. Ownership violations
// are returned, never silently dropped (spec.md §4.4).
func (s *Store) DeleteDocument(indexName, canonicalID, fingerprint string) error {
	var count int
	var minOwner, maxOwner sql.NullString
	err := s.db.QueryRow(
		`SELECT COUNT(*), MIN(owner_fingerprint), MAX(owner_fingerprint) FROM chunks WHERE index_name = ? AND canonical_id = ?`,
		indexName, canonicalID).Scan(&count, &minOwner, &maxOwner)
	if err != nil {
		return fmt.Errorf("checking ownership: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	if minOwner.String != fingerprint || maxOwner.String != fingerprint {
		return ErrOwnershipViolation
	}

	res, err := s.db.Exec(`DELETE FROM chunks WHERE index_name = ? AND canonical_id = ?`, indexName, canonicalID)
	if err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanChunkRow(rows *sql.Rows, indexName string) (Chunk, error) {
	var c Chunk
	var blob []byte
	var createdAt string
	c.IndexName = indexName
	if err := rows.Scan(&c.ID, &c.CanonicalID, &c.ChunkIndex, &c.OwnerFingerprint, &c.TextChunk, &c.Citation, &blob, &createdAt); err != nil {
		return Chunk{}, fmt.Errorf("scanning chunk: %w", err)
	}
	embedding, err := decodeFloat32s(blob)
	if err != nil {
		return Chunk{}, fmt.Errorf("decoding embedding for %s: %w", c.ID, err)
	}
	c.Embedding = embedding
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Chunk{}, fmt.Errorf("parsing created_at for %s: %w", c.ID, err)
	}
	c.CreatedAt = t
	return c, nil
}

func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

func dotProduct(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// scoredHeap is a min-heap of ScoredChunk ordered by Score, used to track
// the running top-K during a brute-force scan.
type scoredHeap []ScoredChunk

func (h scoredHeap) Len() int            { return len(h) }
func (h scoredHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h scoredHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x interface{}) { *h = append(*h, x.(ScoredChunk)) }
func (h *scoredHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
