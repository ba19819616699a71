package pipeline

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"pagepilot/internal/knowledge/splitters"
	"pagepilot/pkg/logger"
)

func TestIngest_SplitsEmbedsAndStores(t *testing.T) {
	splitter, err := splitters.NewCharSplitter(10, 0)
	if err != nil {
		t.Fatalf("NewCharSplitter() error = %v", err)
	}
	embedder := &fakeEmbedder{vectors: map[string][]float32{}}
	store := &fakeStore{}
	p := NewIndexingPipeline(splitter, embedder, store, 3, logger.New("test", "", ""))

	text := "abcdefghijklmnopqrstuvwxy" // 25 chars -> 3 chunks
	resourceID, count, err := p.Ingest(context.Background(), "u1", "catalog", "pricing", text)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if resourceID == 0 {
		t.Error("expected a non-zero resource id")
	}
	if count != 3 {
		t.Errorf("chunk count = %d, want 3", count)
	}
}

func TestIngest_DeterministicChunkSet(t *testing.T) {
	// Ingesting identical text twice must hand the store the exact same
	// chunk set, so the store's (resource_id, content_hash) upsert key can
	// keep re-ingestion idempotent.
	splitter, err := splitters.NewCharSplitter(8, 2)
	if err != nil {
		t.Fatalf("NewCharSplitter() error = %v", err)
	}
	embedder := &fakeEmbedder{vectors: map[string][]float32{}}
	store := &fakeStore{}
	p := NewIndexingPipeline(splitter, embedder, store, 3, logger.New("test", "", ""))

	text := "our store opens at nine and closes at six on weekdays"
	if _, _, err := p.Ingest(context.Background(), "u1", "hours", "faq", text); err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}
	if _, _, err := p.Ingest(context.Background(), "u1", "hours", "faq", text); err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}

	if len(store.saved) != 2 {
		t.Fatalf("expected 2 SaveResource calls, got %d", len(store.saved))
	}
	if !reflect.DeepEqual(store.saved[0], store.saved[1]) {
		t.Errorf("chunk sets differ between identical ingests:\n%v\n%v", store.saved[0], store.saved[1])
	}
}

func TestIngest_EmptyText(t *testing.T) {
	splitter, err := splitters.NewCharSplitter(10, 0)
	if err != nil {
		t.Fatalf("NewCharSplitter() error = %v", err)
	}
	p := NewIndexingPipeline(splitter, &fakeEmbedder{}, &fakeStore{}, 3, logger.New("test", "", ""))

	_, _, err = p.Ingest(context.Background(), "u1", "blank", "other", "   ")
	if !errors.Is(err, ErrEmptyText) {
		t.Fatalf("Ingest() error = %v, want ErrEmptyText", err)
	}
}

func TestIngest_RejectsDimensionMismatch(t *testing.T) {
	// A reconfigured embedding model must be caught when writing, not
	// discovered later as silently skipped chunks during search.
	splitter, err := splitters.NewCharSplitter(10, 0)
	if err != nil {
		t.Fatalf("NewCharSplitter() error = %v", err)
	}
	embedder := &fakeEmbedder{vectors: map[string][]float32{}} // emits 3-dim vectors
	store := &fakeStore{}
	p := NewIndexingPipeline(splitter, embedder, store, 4, logger.New("test", "", ""))

	_, _, err = p.Ingest(context.Background(), "u1", "catalog", "pricing", "some knowledge text")
	if err == nil {
		t.Fatal("Ingest() accepted vectors of the wrong dimension")
	}
	if len(store.saved) != 0 {
		t.Errorf("store was written despite dimension mismatch")
	}
}

func TestIngest_EmbedderFailureAborts(t *testing.T) {
	splitter, err := splitters.NewCharSplitter(10, 0)
	if err != nil {
		t.Fatalf("NewCharSplitter() error = %v", err)
	}
	wantErr := errors.New("embedding down")
	store := &fakeStore{}
	p := NewIndexingPipeline(splitter, &fakeEmbedder{err: wantErr}, store, 3, logger.New("test", "", ""))

	_, _, err = p.Ingest(context.Background(), "u1", "catalog", "pricing", "some knowledge text")
	if !errors.Is(err, wantErr) {
		t.Fatalf("Ingest() error = %v, want %v", err, wantErr)
	}
	if len(store.saved) != 0 {
		t.Errorf("store was written despite embedding failure")
	}
}
