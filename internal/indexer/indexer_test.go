package indexer

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openregs/regassist/internal/cache"
	"github.com/openregs/regassist/internal/searchclient"
	"github.com/openregs/regassist/internal/searchproxy"
	"github.com/openregs/regassist/internal/storage"
)

type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, f.dim)
		for j := range vec {
			vec[j] = float32(i+1) / float32(j+1)
		}
		out[i] = vec
	}
	return out, nil
}

func newTestIndexer(t *testing.T) (*Indexer, *storage.Store, *searchproxy.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	spStore, err := searchproxy.Open(t.TempDir())
	if err != nil {
		t.Fatalf("searchproxy.Open: %v", err)
	}
	t.Cleanup(func() { spStore.Close() })

	srv := httptest.NewServer(searchproxy.NewHandler(searchproxy.Deps{Store: spStore, RegulatoryWriteKey: "reg-secret"}))
	t.Cleanup(srv.Close)

	sc := searchclient.New(srv.URL, "reg-secret")
	ix := NewIndexer(store, cache.New(store), &fakeEmbedder{dim: 8}, sc, time.Millisecond)
	return ix, store, spStore
}

func TestScheduleIndex_EnqueuesJob(t *testing.T) {
	ix, store, _ := newTestIndexer(t)
	if err := ix.ScheduleIndex("cfr/14-25-1309", "faa-agent"); err != nil {
		t.Fatalf("ScheduleIndex: %v", err)
	}
	job, err := store.ClaimNextJob([]string{jobType})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil {
		t.Fatal("expected a claimable job")
	}
}

func TestScheduleIndex_DuplicateCoalesces(t *testing.T) {
	ix, store, _ := newTestIndexer(t)
	if err := ix.ScheduleIndex("cfr/14-25-1309", "faa-agent"); err != nil {
		t.Fatalf("ScheduleIndex: %v", err)
	}
	if err := ix.ScheduleIndex("cfr/14-25-1309", "faa-agent"); err != nil {
		t.Fatalf("second ScheduleIndex: %v", err)
	}

	count := 0
	for {
		job, err := store.ClaimNextJob([]string{jobType})
		if err != nil {
			t.Fatalf("ClaimNextJob: %v", err)
		}
		if job == nil {
			break
		}
		count++
		store.CompleteJob(job.ID)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 enqueued job, got %d", count)
	}
}

func TestRunOnce_IndexesRegulatoryDocument(t *testing.T) {
	ix, store, spStore := newTestIndexer(t)

	doc := storage.Document{
		ID:         "cfr/14-25-1309",
		Title:      "Airworthiness",
		Body:       "the quick brown fox jumps over the lazy dog",
		SourceKind: "cfr",
		Citation:   "14 CFR 25.1309",
		FetchedAt:  time.Now(),
	}
	if err := store.PutDocument(doc); err != nil {
		t.Fatalf("PutDocument: %v", err)
	}

	if err := ix.ScheduleIndex(doc.ID, "faa-agent"); err != nil {
		t.Fatalf("ScheduleIndex: %v", err)
	}

	done, err := ix.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("expected RunOnce to process the job")
	}

	got, err := store.GetDocument(doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if !got.Indexed {
		t.Fatal("expected document to be marked indexed")
	}

	summaries, err := spStore.ListDocuments("faa-agent", "")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(summaries) != 1 || summaries[0].CanonicalID != doc.ID {
		t.Fatalf("unexpected summaries %+v", summaries)
	}
}

func TestRunOnce_IndexesPersonalDocument(t *testing.T) {
	ix, store, spStore := newTestIndexer(t)

	doc := storage.Document{
		ID:               "alice-uuid-1",
		Title:            "My notes",
		Body:             "some personal notes about maintenance procedures",
		SourceKind:       "personal",
		OwnerFingerprint: "alice",
		FetchedAt:        time.Now(),
	}
	if err := store.PutDocument(doc); err != nil {
		t.Fatalf("PutDocument: %v", err)
	}
	if err := ix.ScheduleIndex(doc.ID, "faa-agent"); err != nil {
		t.Fatalf("ScheduleIndex: %v", err)
	}
	if _, err := ix.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	summaries, err := spStore.ListDocuments("faa-agent", "alice")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary for alice, got %d", len(summaries))
	}
}

func TestIndexNow_IndexesSynchronouslyWithoutAJob(t *testing.T) {
	ix, store, spStore := newTestIndexer(t)

	doc := storage.Document{
		ID:               "bob-uuid-1",
		Title:            "Bob's manual",
		Body:             "uploaded manual text",
		SourceKind:       "personal",
		OwnerFingerprint: "bob",
		FetchedAt:        time.Now(),
	}
	if err := store.PutDocument(doc); err != nil {
		t.Fatalf("PutDocument: %v", err)
	}

	if err := ix.IndexNow(context.Background(), doc.ID, "faa-agent"); err != nil {
		t.Fatalf("IndexNow: %v", err)
	}

	if job, err := store.ClaimNextJob([]string{jobType}); err != nil || job != nil {
		t.Fatalf("expected no job queue involvement, got job=%v err=%v", job, err)
	}

	got, err := store.GetDocument(doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if !got.Indexed {
		t.Fatal("expected document to be marked indexed immediately")
	}

	summaries, err := spStore.ListDocuments("faa-agent", "bob")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary for bob, got %d", len(summaries))
	}
}

func TestRunOnce_NoPendingJobReturnsFalse(t *testing.T) {
	ix, _, _ := newTestIndexer(t)
	done, err := ix.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Fatal("expected no job to process")
	}
}
