package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for conversation turns, the
// document cache, and the background job queue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "regassist.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Turns ---

// AppendTurn inserts the next turn for a conversation inside a transaction
// that reads MAX(sequence) and inserts sequence+1, enforcing the gap-free,
// strictly-ascending sequence invariant at the SQL layer. Returns the
// assigned sequence number.
func (s *Store) AppendTurn(conversationID, role, blocksJSON string) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning append-turn transaction: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(sequence) FROM turns WHERE conversation_id = ?`, conversationID).Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("reading max sequence: %w", err)
	}

	next := 1
	if maxSeq.Valid {
		next = int(maxSeq.Int64) + 1
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.Exec(`
		INSERT INTO turns (conversation_id, sequence, role, blocks_json, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		conversationID, next, role, blocksJSON, now,
	); err != nil {
		return 0, fmt.Errorf("inserting turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing turn: %w", err)
	}
	return next, nil
}

// LoadTurns returns every turn for a conversation ordered by sequence ascending.
func (s *Store) LoadTurns(conversationID string) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT conversation_id, sequence, role, blocks_json, created_at
		FROM turns WHERE conversation_id = ? ORDER BY sequence ASC`, conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.ConversationID, &t.Sequence, &t.Role, &t.BlocksJSON, &createdAt); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		t.CreatedAt = parsed
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// --- Document cache ---

// GetDocument returns the cached document for a canonical id, or ErrNotFound.
func (s *Store) GetDocument(id string) (Document, error) {
	d, _, err := s.scanDocument(s.db.QueryRow(`
		SELECT id, title, body, source_kind, citation, owner_fingerprint, page_count,
		       content_hash, fetched_at, hit_count, indexed, indexed_at, metadata_json
		FROM documents WHERE id = ?`, id))
	return d, err
}

func (s *Store) scanDocument(row *sql.Row) (Document, bool, error) {
	var d Document
	var fetchedAt string
	var indexed int
	var indexedAt sql.NullString
	err := row.Scan(&d.ID, &d.Title, &d.Body, &d.SourceKind, &d.Citation, &d.OwnerFingerprint,
		&d.PageCount, &d.ContentHash, &fetchedAt, &d.HitCount, &indexed, &indexedAt, &d.MetadataJSON)
	if err == sql.ErrNoRows {
		return Document{}, false, ErrNotFound
	}
	if err != nil {
		return Document{}, false, err
	}
	parsed, err := time.Parse(time.RFC3339, fetchedAt)
	if err != nil {
		return Document{}, false, fmt.Errorf("parsing fetched_at: %w", err)
	}
	d.FetchedAt = parsed
	d.Indexed = indexed != 0
	if indexedAt.Valid {
		t, err := time.Parse(time.RFC3339, indexedAt.String)
		if err != nil {
			return Document{}, false, fmt.Errorf("parsing indexed_at: %w", err)
		}
		d.IndexedAt = t
	}
	return d, true, nil
}

// PutDocument inserts a freshly fetched document into the cache. It is the
// write-through path for cache misses; callers own canonical-id generation.
func (s *Store) PutDocument(d Document) error {
	_, err := s.db.Exec(`
		INSERT INTO documents (id, title, body, source_kind, citation, owner_fingerprint,
			page_count, content_hash, fetched_at, hit_count, indexed, indexed_at, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Title, d.Body, d.SourceKind, d.Citation, d.OwnerFingerprint,
		d.PageCount, d.ContentHash, d.FetchedAt.UTC().Format(time.RFC3339), d.HitCount,
		boolToInt(d.Indexed), nullableTime(d.IndexedAt), d.MetadataJSON,
	)
	return err
}

// RecordHit increments a document's hit_count and returns the new value.
// Callers use the returned count to decide whether to schedule indexing
// (the "second hit" trigger).
func (s *Store) RecordHit(id string) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning record-hit transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRow(`UPDATE documents SET hit_count = hit_count + 1 WHERE id = ? RETURNING hit_count`, id).Scan(&count); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing record-hit: %w", err)
	}
	return count, nil
}

// MarkIndexed flags a document as indexed, idempotently.
func (s *Store) MarkIndexed(id string) error {
	res, err := s.db.Exec(`UPDATE documents SET indexed = 1, indexed_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
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

// DeleteDocument removes a cached document (used by delete_my_document and
// by the personal-document delete endpoint).
func (s *Store) DeleteDocument(id string) error {
	res, err := s.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
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

// ListPersonalDocuments returns a fingerprint's uploads, most recent first.
func (s *Store) ListPersonalDocuments(fingerprint string) ([]Document, error) {
	rows, err := s.db.Query(`
		SELECT id, title, body, source_kind, citation, owner_fingerprint, page_count,
		       content_hash, fetched_at, hit_count, indexed, indexed_at, metadata_json
		FROM documents WHERE source_kind = 'personal' AND owner_fingerprint = ?
		ORDER BY fetched_at DESC`, fingerprint)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, _, err := scanDocumentRows(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// CountPersonalDocuments returns how many uploads a fingerprint currently owns.
func (s *Store) CountPersonalDocuments(fingerprint string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM documents WHERE source_kind = 'personal' AND owner_fingerprint = ?`, fingerprint).Scan(&count)
	return count, err
}

// FindPersonalDocumentByHash looks up an existing upload by its content hash,
// for the SHA-256 dedup check. Returns ErrNotFound when no match exists.
func (s *Store) FindPersonalDocumentByHash(fingerprint, hash string) (Document, error) {
	d, _, err := s.scanDocument(s.db.QueryRow(`
		SELECT id, title, body, source_kind, citation, owner_fingerprint, page_count,
		       content_hash, fetched_at, hit_count, indexed, indexed_at, metadata_json
		FROM documents WHERE source_kind = 'personal' AND owner_fingerprint = ? AND content_hash = ?`,
		fingerprint, hash))
	return d, err
}

func scanDocumentRows(rows *sql.Rows) (Document, bool, error) {
	var d Document
	var fetchedAt string
	var indexed int
	var indexedAt sql.NullString
	err := rows.Scan(&d.ID, &d.Title, &d.Body, &d.SourceKind, &d.Citation, &d.OwnerFingerprint,
		&d.PageCount, &d.ContentHash, &fetchedAt, &d.HitCount, &indexed, &indexedAt, &d.MetadataJSON)
	if err != nil {
		return Document{}, false, err
	}
	parsed, err := time.Parse(time.RFC3339, fetchedAt)
	if err != nil {
		return Document{}, false, fmt.Errorf("parsing fetched_at: %w", err)
	}
	d.FetchedAt = parsed
	d.Indexed = indexed != 0
	if indexedAt.Valid {
		t, err := time.Parse(time.RFC3339, indexedAt.String)
		if err != nil {
			return Document{}, false, fmt.Errorf("parsing indexed_at: %w", err)
		}
		d.IndexedAt = t
	}
	return d, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// --- Jobs ---

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]interface{}, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
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

func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}
