package aps

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchDocument_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Write([]byte(`{"title":"Engine Standard","content":"body text"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	doc, err := c.FetchDocument(context.Background(), "ACC-001")
	if err != nil {
		t.Fatalf("FetchDocument: %v", err)
	}
	if doc.Citation != "APS ACC-001" {
		t.Fatalf("unexpected citation %q", doc.Citation)
	}
	if doc.Body != "body text" {
		t.Fatalf("unexpected body %q", doc.Body)
	}
}

func TestSearch_UpstreamErrorNotRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	if _, err := c.Search(context.Background(), "bolt"); err == nil {
		t.Fatal("expected error on 404")
	}
	if attempts != 1 {
		t.Fatalf("expected no retry on 4xx, got %d attempts", attempts)
	}
}
