package searchproxy

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds the credential the regulatory-write path requires and the
// store every handler operates on. There is no user-facing credential here
// at all — that is the point: this process is the only one that can reach
// the vector index, and regulatory writes need their own separate secret
// so a compromised user-facing path still can't poison the regulatory
// corpus.
type Deps struct {
	Store              *Store
	RegulatoryWriteKey string
}

// NewHandler builds the Search Proxy's HTTP surface (spec.md §4.4).
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/search", handleSearch(deps))
	r.Post("/index", handleIndex(deps))
	r.Get("/documents", handleListDocuments(deps))
	r.Delete("/documents/{id}", handleDeleteDocument(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type searchRequest struct {
	Query       string    `json:"query"`
	Index       string    `json:"index"`
	Fingerprint string    `json:"fingerprint"`
	Top         int       `json:"top"`
	Vector      []float32 `json:"vector"`
}

type searchHit struct {
	CanonicalID string  `json:"canonical_id"`
	Text        string  `json:"text"`
	Citation    string  `json:"citation"`
	Score       float32 `json:"score"`
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if req.Index == "" {
			httpError(w, http.StatusBadRequest, "index is required")
			return
		}
		if len(req.Vector) == 0 {
			httpError(w, http.StatusBadRequest, "vector is required")
			return
		}
		top := req.Top
		if top <= 0 {
			top = 10
		}

		scored, err := deps.Store.Search(req.Index, req.Vector, top, req.Fingerprint)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "search failed: %v", err)
			return
		}

		hits := make([]searchHit, len(scored))
		for i, s := range scored {
			hits[i] = searchHit{CanonicalID: s.CanonicalID, Text: s.TextChunk, Citation: s.Citation, Score: s.Score}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"hits": hits})
	}
}

type indexRequest struct {
	Index       string             `json:"index"`
	Fingerprint string             `json:"fingerprint"`
	Documents   []indexDocumentReq `json:"documents"`
}

type indexDocumentReq struct {
	CanonicalID string          `json:"canonical_id"`
	Citation    string          `json:"citation"`
	Chunks      []indexChunkReq `json:"chunks"`
}

type indexChunkReq struct {
	OwnerFingerprint string    `json:"owner_fingerprint"`
	Text             string    `json:"text"`
	Embedding        []float32 `json:"embedding"`
}

func handleIndex(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
		defer r.Body.Close()

		var req indexRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if req.Index == "" {
			httpError(w, http.StatusBadRequest, "index is required")
			return
		}

		regulatoryAuthorized := regulatoryWriteAuthorized(r, deps.RegulatoryWriteKey)

		var chunks []Chunk
		for _, doc := range req.Documents {
			for i, c := range doc.Chunks {
				switch {
				case c.OwnerFingerprint == req.Fingerprint && req.Fingerprint != "":
					// user-scoped write, matches the requester.
				case c.OwnerFingerprint == "" && regulatoryAuthorized:
					// regulatory write, separately authorized.
				default:
					httpError(w, http.StatusForbidden, "chunk owner_fingerprint %q does not match request", c.OwnerFingerprint)
					return
				}
				chunks = append(chunks, Chunk{
					ID:               fmt.Sprintf("%s-%d", doc.CanonicalID, i),
					IndexName:        req.Index,
					CanonicalID:      doc.CanonicalID,
					ChunkIndex:       i,
					OwnerFingerprint: c.OwnerFingerprint,
					TextChunk:        c.Text,
					Citation:         doc.Citation,
					Embedding:        c.Embedding,
				})
			}
		}

		if err := deps.Store.InsertChunks(chunks); err != nil {
			httpError(w, http.StatusInternalServerError, "indexing failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"chunks_written": len(chunks)})
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index := r.URL.Query().Get("index")
		fingerprint := r.URL.Query().Get("fingerprint")
		if index == "" || fingerprint == "" {
			httpError(w, http.StatusBadRequest, "index and fingerprint are required")
			return
		}

		docs, err := deps.Store.ListDocuments(index, fingerprint)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "listing documents failed: %v", err)
			return
		}
		if docs == nil {
			docs = []DocumentSummary{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(docs)
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		index := r.URL.Query().Get("index")
		fingerprint := r.URL.Query().Get("fingerprint")
		if index == "" || fingerprint == "" {
			httpError(w, http.StatusBadRequest, "index and fingerprint are required")
			return
		}

		err := deps.Store.DeleteDocument(index, id, fingerprint)
		switch {
		case errors.Is(err, ErrNotFound):
			httpError(w, http.StatusNotFound, "document not found")
			return
		case errors.Is(err, ErrOwnershipViolation):
			httpError(w, http.StatusForbidden, "fingerprint does not own this document")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "delete failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

// regulatoryWriteAuthorized checks the X-Regulatory-Write-Key header against
// the separate credential spec.md §4.4 requires for null-owner chunks. Not
// exposed to any user-facing path — only the indexer's regulatory fetches
// carry this header.
func regulatoryWriteAuthorized(r *http.Request, key string) bool {
	if key == "" {
		return false
	}
	got := r.Header.Get("X-Regulatory-Write-Key")
	return subtle.ConstantTimeCompare([]byte(got), []byte(key)) == 1
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
