package searchproxy

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	return NewHandler(Deps{Store: openTestStore(t), RegulatoryWriteKey: "reg-secret"})
}

func TestHandleIndex_RegulatoryRequiresKey(t *testing.T) {
	h := newTestHandler(t)

	body, _ := json.Marshal(indexRequest{
		Index: "faa-agent",
		Documents: []indexDocumentReq{{
			CanonicalID: "cfr/14-25-1309",
			Chunks:      []indexChunkReq{{OwnerFingerprint: "", Text: "text", Embedding: makeVector(4, 0.1)}},
		}},
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/index", bytes.NewReader(body))
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 without regulatory key", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/index", bytes.NewReader(body))
	req.Header.Set("X-Regulatory-Write-Key", "reg-secret")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with regulatory key: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleIndex_UserChunkMustMatchFingerprint(t *testing.T) {
	h := newTestHandler(t)

	body, _ := json.Marshal(indexRequest{
		Index:       "faa-agent",
		Fingerprint: "alice",
		Documents: []indexDocumentReq{{
			CanonicalID: "alice-doc",
			Chunks:      []indexChunkReq{{OwnerFingerprint: "bob", Text: "text", Embedding: makeVector(4, 0.1)}},
		}},
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/index", bytes.NewReader(body))
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 when chunk owner mismatches request fingerprint", rr.Code)
	}
}

func TestHandleSearch_AppliesOwnershipFilter(t *testing.T) {
	h := newTestHandler(t)
	store := openTestStore(t)
	h = NewHandler(Deps{Store: store, RegulatoryWriteKey: "reg-secret"})

	if err := store.InsertChunks([]Chunk{
		{ID: "reg-0", IndexName: "faa-agent", CanonicalID: "cfr/x", OwnerFingerprint: "", TextChunk: "reg", Embedding: makeVector(4, 0.1)},
		{ID: "bob-0", IndexName: "faa-agent", CanonicalID: "bob-doc", OwnerFingerprint: "bob", TextChunk: "bob", Embedding: makeVector(4, 0.1)},
	}); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	body, _ := json.Marshal(searchRequest{Index: "faa-agent", Fingerprint: "alice", Top: 10, Vector: makeVector(4, 0.1)})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader(body))
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Hits []searchHit `json:"hits"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Hits) != 1 || resp.Hits[0].CanonicalID != "cfr/x" {
		t.Fatalf("hits = %+v, want only the regulatory chunk (bob's is not alice's)", resp.Hits)
	}
}

func TestHandleDeleteDocument_OwnershipViolationSurfaced(t *testing.T) {
	store := openTestStore(t)
	h := NewHandler(Deps{Store: store, RegulatoryWriteKey: "reg-secret"})

	if err := store.InsertChunks([]Chunk{
		{ID: "bob-0", IndexName: "faa-agent", CanonicalID: "bob-doc", OwnerFingerprint: "bob", TextChunk: "bob", Embedding: makeVector(4, 0.1)},
	}); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/documents/bob-doc?index=faa-agent&fingerprint=alice", nil)
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
}
