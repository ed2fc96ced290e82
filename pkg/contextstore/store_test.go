package contextstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/errors"
)

func proposed(name, value string) map[string]ComponentEntry {
	return map[string]ComponentEntry{
		name: {Value: json.RawMessage(`"` + value + `"`)},
	}
}

func TestGetNotFound(t *testing.T) {
	store := New()
	_, err := store.Get(context.Background(), "missing")
	if !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestMergeAutoCreatesWorkflow(t *testing.T) {
	store := New()
	bundle, err := store.Merge(context.Background(), "wf-1", proposed("request", "build the thing"))
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if bundle.Version != 1 {
		t.Fatalf("expected version 1, got %d", bundle.Version)
	}
	if _, ok := bundle.Components["request"]; !ok {
		t.Fatal("expected request component")
	}

	got, err := store.Get(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Version != 1 {
		t.Fatalf("expected stored version 1, got %d", got.Version)
	}
}

func TestMergeAlwaysIncrementsVersion(t *testing.T) {
	store := New()
	ctx := context.Background()

	first, err := store.Merge(ctx, "wf-1", proposed("request", "same"))
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	second, err := store.Merge(ctx, "wf-1", proposed("request", "same"))
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	if second.Version != first.Version+1 {
		t.Fatalf("second merge must still increment version: %d -> %d", first.Version, second.Version)
	}
	if string(second.Components["request"].Value) != string(first.Components["request"].Value) {
		t.Fatal("idempotent merge must not change the resolved value")
	}
}

func TestMergeStampsLastVerified(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	store := New(WithClock(func() time.Time { return now }))

	bundle, err := store.Merge(context.Background(), "wf-1", proposed("constraints", "use sqlite"))
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if !bundle.Components["constraints"].LastVerified.Equal(now) {
		t.Fatalf("expected LastVerified stamped to now, got %v", bundle.Components["constraints"].LastVerified)
	}
}

func TestMergeResolvesConflicts(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.Merge(ctx, "wf-1", map[string]ComponentEntry{
		"constraints": {Value: json.RawMessage(`"canonical"`), Canonical: true},
	}); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	bundle, err := store.Merge(ctx, "wf-1", map[string]ComponentEntry{
		"constraints": {Value: json.RawMessage(`"local override"`)},
	})
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if string(bundle.Components["constraints"].Value) != `"canonical"` {
		t.Fatalf("canonical value must survive local merge, got %s", bundle.Components["constraints"].Value)
	}

	bundle, err = store.Merge(ctx, "wf-1", map[string]ComponentEntry{
		"constraints": {Value: json.RawMessage(`"authoritative override"`), Authoritative: true},
	})
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if string(bundle.Components["constraints"].Value) != `"authoritative override"` {
		t.Fatalf("authoritative update must win, got %s", bundle.Components["constraints"].Value)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.Merge(ctx, "wf-1", proposed("request", "v1")); err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	snapshot, err := store.Get(ctx, "wf-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if _, err := store.Merge(ctx, "wf-1", proposed("request", "v2")); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	if string(snapshot.Components["request"].Value) != `"v1"` {
		t.Fatal("earlier snapshot must not observe later merges")
	}

	// Mutating the returned snapshot must not leak into the store.
	snapshot.Components["request"] = ComponentEntry{Value: json.RawMessage(`"tampered"`)}
	fresh, err := store.Get(ctx, "wf-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(fresh.Components["request"].Value) != `"v2"` {
		t.Fatalf("store state corrupted by caller mutation: %s", fresh.Components["request"].Value)
	}
}

func TestResetClearsComponents(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.Merge(ctx, "wf-1", proposed("request", "v1")); err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	bundle, err := store.Reset(ctx, "wf-1")
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if bundle.Version != 0 {
		t.Fatalf("expected version 0 after reset, got %d", bundle.Version)
	}
	if len(bundle.Components) != 0 {
		t.Fatalf("expected empty components after reset, got %d", len(bundle.Components))
	}
}

func TestMergeTimeoutLeavesNoPartialState(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.Merge(ctx, "wf-1", proposed("request", "v1")); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	// Hold the workflow lock so the next merge times out waiting.
	slot := store.slot("wf-1")
	slot.sem <- struct{}{}
	defer func() { <-slot.sem }()

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err := store.Merge(timeoutCtx, "wf-1", proposed("request", "v2"))
	if !errors.IsCode(err, errors.CodeTimeout) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}

	got, err := store.Get(ctx, "wf-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got.Components["request"].Value) != `"v1"` || got.Version != 1 {
		t.Fatal("timed-out merge must leave prior state intact")
	}
}

func TestConcurrentMergesLinearizePerWorkflow(t *testing.T) {
	store := New()
	ctx := context.Background()

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				name := fmt.Sprintf("component-%d", w)
				if _, err := store.Merge(ctx, "wf-1", proposed(name, fmt.Sprintf("v%d", i))); err != nil {
					t.Errorf("merge failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	bundle, err := store.Get(ctx, "wf-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if bundle.Version != writers*perWriter {
		t.Fatalf("expected version %d, got %d", writers*perWriter, bundle.Version)
	}
	if len(bundle.Components) != writers {
		t.Fatalf("expected %d components, got %d", writers, len(bundle.Components))
	}
}
