package knowledge

import (
	"context"
	goerrors "errors"
	"testing"
	"time"

	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/errors"
	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/resilience"
)

// failingStore always fails Append, for exercising the swallow path.
type failingStore struct {
	attempts int
}

func (s *failingStore) Append(context.Context, *KnowledgeRecord) error {
	s.attempts++
	return goerrors.New("store down")
}

func (s *failingStore) Query(context.Context, Query) ([]*KnowledgeRecord, error) {
	return nil, nil
}

func fastRetry() resilience.RetryConfig {
	return resilience.DefaultRetryConfig().
		WithMaxAttempts(3).
		WithInitialDelay(time.Millisecond).
		WithMaxDelay(2 * time.Millisecond)
}

func TestCaptureNeverFailsCaller(t *testing.T) {
	store := &failingStore{}
	pipeline := NewPipeline(store, Options{Retry: fastRetry(), WriteTimeout: time.Second})
	pipeline.Start()

	id, err := pipeline.Capture(context.Background(), "backend", ExecutionMetadata{}, nil, []string{"x"})
	if err != nil {
		t.Fatalf("capture must not propagate storage failures: %v", err)
	}
	if id == "" {
		t.Fatal("expected a record id")
	}

	pipeline.Stop()
	if store.attempts != 3 {
		t.Fatalf("expected 3 persistence attempts, got %d", store.attempts)
	}
}

// stuckStore blocks Append until the write deadline cancels it.
type stuckStore struct{}

func (s *stuckStore) Append(ctx context.Context, _ *KnowledgeRecord) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *stuckStore) Query(context.Context, Query) ([]*KnowledgeRecord, error) {
	return nil, nil
}

func TestCaptureBoundsStuckStoreByWriteTimeout(t *testing.T) {
	pipeline := NewPipeline(&stuckStore{}, Options{
		Retry:        fastRetry().WithMaxAttempts(1),
		WriteTimeout: 20 * time.Millisecond,
	})
	// No Start: persistence runs inline, so Capture returning proves the
	// write timeout cut the hung store loose.
	start := time.Now()
	_, err := pipeline.Capture(context.Background(), "backend", ExecutionMetadata{}, nil, nil)
	if err != nil {
		t.Fatalf("capture must swallow the timeout: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("capture blocked for %v despite 20ms write timeout", elapsed)
	}
}

func TestCaptureRequiresSourceDomain(t *testing.T) {
	pipeline := NewPipeline(NewInMemoryStore(), Options{})
	_, err := pipeline.Capture(context.Background(), "", ExecutionMetadata{}, nil, nil)
	if !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestCaptureClampsConfidence(t *testing.T) {
	store := NewInMemoryStore()
	pipeline := NewPipeline(store, Options{Retry: fastRetry()})
	pipeline.Start()

	_, err := pipeline.Capture(context.Background(), "backend", ExecutionMetadata{}, []Pattern{
		{Type: "perf", Description: "too eager", Confidence: 1.7},
		{Type: "perf", Description: "too shy", Confidence: -0.3},
	}, []string{"latency"})
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	pipeline.Stop()

	records, err := store.Query(context.Background(), Query{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Patterns[0].Confidence != 1 || records[0].Patterns[1].Confidence != 0 {
		t.Fatalf("confidences not clamped: %+v", records[0].Patterns)
	}
}

func TestCaptureNormalizesTags(t *testing.T) {
	store := NewInMemoryStore()
	pipeline := NewPipeline(store, Options{Retry: fastRetry()})
	pipeline.Start()

	_, err := pipeline.Capture(context.Background(), "backend", ExecutionMetadata{}, nil,
		[]string{"beta", "alpha", "beta", ""})
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	pipeline.Stop()

	records, _ := store.Query(context.Background(), Query{})
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	tags := records[0].Tags
	if len(tags) != 2 || tags[0] != "alpha" || tags[1] != "beta" {
		t.Fatalf("tags not normalized: %v", tags)
	}
}

func TestEmptyPatternsStillRecorded(t *testing.T) {
	store := NewInMemoryStore()
	pipeline := NewPipeline(store, Options{Retry: fastRetry()})
	pipeline.Start()

	if _, err := pipeline.Capture(context.Background(), "backend", ExecutionMetadata{Outcome: "success"}, nil, nil); err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	pipeline.Stop()

	records, _ := store.Query(context.Background(), Query{})
	if len(records) != 1 {
		t.Fatal("a run that learned nothing must still be recorded")
	}
}

func TestCaptureWithoutWorkerPersistsInline(t *testing.T) {
	store := NewInMemoryStore()
	pipeline := NewPipeline(store, Options{Retry: fastRetry()})
	// No Start: capture persists inline, still best-effort.

	if _, err := pipeline.Capture(context.Background(), "backend", ExecutionMetadata{}, nil, nil); err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	records, _ := store.Query(context.Background(), Query{})
	if len(records) != 1 {
		t.Fatalf("expected inline persistence, got %d records", len(records))
	}
}

func TestQuerySurface(t *testing.T) {
	store := NewInMemoryStore()
	pipeline := NewPipeline(store, Options{Retry: fastRetry()})
	pipeline.Start()

	ctx := context.Background()
	if _, err := pipeline.Capture(ctx, "backend", ExecutionMetadata{}, nil, []string{"db"}); err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if _, err := pipeline.Capture(ctx, "frontend", ExecutionMetadata{}, nil, []string{"ui"}); err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	pipeline.Stop()

	records, err := pipeline.Query(ctx, []string{"db"}, "", 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(records) != 1 || records[0].SourceDomain != "backend" {
		t.Fatalf("unexpected query result: %+v", records)
	}

	records, err = pipeline.Query(ctx, nil, "frontend", 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(records) != 1 || records[0].SourceDomain != "frontend" {
		t.Fatalf("unexpected domain filter result: %+v", records)
	}
}
