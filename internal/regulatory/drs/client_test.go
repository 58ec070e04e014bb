package drs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetchDocument_TruncatesLongBody(t *testing.T) {
	long := strings.Repeat("a", maxBodyChars+500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Write([]byte(`{"title":"Big AD","content":"` + long + `"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	doc, err := c.FetchDocument(context.Background(), "guid-1", "AD")
	if err != nil {
		t.Fatalf("FetchDocument: %v", err)
	}
	if len(doc.Body) >= len(long) {
		t.Fatalf("expected body to be truncated, got len %d", len(doc.Body))
	}
	if doc.Metadata["truncated"] != "true" {
		t.Fatalf("expected truncated=true, got %q", doc.Metadata["truncated"])
	}
	if !strings.HasSuffix(doc.Body, "…truncated…") {
		t.Fatal("expected truncation marker at end of body")
	}
}

func TestFetchDocument_ShortBodyNotTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"title":"Small AD","content":"short"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	doc, err := c.FetchDocument(context.Background(), "guid-2", "AD")
	if err != nil {
		t.Fatalf("FetchDocument: %v", err)
	}
	if doc.Body != "short" {
		t.Fatalf("unexpected body %q", doc.Body)
	}
	if doc.Metadata["truncated"] != "false" {
		t.Fatalf("expected truncated=false, got %q", doc.Metadata["truncated"])
	}
}

func TestSearch_RetriesOnceOn5xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"results":[{"document_guid":"g1","doc_type":"AD","title":"t"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	results, err := c.Search(context.Background(), "icing")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].DocumentGUID != "g1" {
		t.Fatalf("unexpected results %+v", results)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}
