package cfr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestFetchSection_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"title":"Airworthiness standards","content":"Section text."}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	doc, err := c.FetchSection(context.Background(), "14", "25", "1309", "")
	if err != nil {
		t.Fatalf("FetchSection: %v", err)
	}
	if doc.Citation != "14 CFR 25.1309" {
		t.Fatalf("unexpected citation %q", doc.Citation)
	}
	if doc.Body != "Section text." {
		t.Fatalf("unexpected body %q", doc.Body)
	}
}

func TestFetchSection_RetriesOnce(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"title":"t","content":"c"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.FetchSection(context.Background(), "14", "25", "1309", "")
	if err != nil {
		t.Fatalf("FetchSection: %v", err)
	}
	if attempts.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts.Load())
	}
}

func TestFetchSection_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	for i := 0; i < 10; i++ {
		if _, err := c.FetchSection(context.Background(), "14", "25", "1309", ""); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if _, err := c.FetchSection(context.Background(), "14", "25", "1309", ""); err == nil {
		t.Fatal("expected rate limit error")
	}
}
