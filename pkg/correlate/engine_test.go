package correlate

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/knowledge"
)

func rec(id, domain string, confidence float64, tags ...string) *knowledge.KnowledgeRecord {
	return &knowledge.KnowledgeRecord{
		RecordID:     id,
		SourceDomain: domain,
		Metadata:     knowledge.ExecutionMetadata{Outcome: "success"},
		Patterns:     []knowledge.Pattern{{Type: "insight", Description: "d", Confidence: confidence}},
		Tags:         tags,
		CapturedAt:   time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
	}
}

func seed(t *testing.T, records ...*knowledge.KnowledgeRecord) knowledge.RecordStore {
	t.Helper()
	store := knowledge.NewInMemoryStore()
	for _, r := range records {
		if err := store.Append(context.Background(), r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	return store
}

func TestCrossDomainPairStrength(t *testing.T) {
	store := seed(t,
		rec("r1", "backend", 0.9, "retry-storm"),
		rec("r2", "frontend", 0.8, "retry-storm"),
	)
	engine := NewEngine(store)

	summaries, err := engine.Correlate(context.Background(), Window{})
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected exactly one summary, got %d", len(summaries))
	}
	got := summaries[0]
	if got.Kind != KindCrossDomainPattern {
		t.Fatalf("unexpected kind %q", got.Kind)
	}
	if math.Abs(got.Strength-0.72) > 1e-9 {
		t.Fatalf("expected strength 0.72, got %v", got.Strength)
	}
	if len(got.ParticipatingRecordIDs) != 2 ||
		got.ParticipatingRecordIDs[0] != "r1" || got.ParticipatingRecordIDs[1] != "r2" {
		t.Fatalf("unexpected participants: %v", got.ParticipatingRecordIDs)
	}
	if got.ID == "" || got.CreatedAt.IsZero() {
		t.Fatalf("summary identity not populated: %+v", got)
	}
}

func TestSameDomainPairsExcluded(t *testing.T) {
	store := seed(t,
		rec("r1", "backend", 0.9, "retry-storm"),
		rec("r2", "backend", 0.95, "retry-storm"),
	)
	summaries, err := NewEngine(store).Correlate(context.Background(), Window{})
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("same-domain records must not correlate, got %+v", summaries)
	}
}

func TestPairsAtOrBelowFloorExcluded(t *testing.T) {
	// 0.7 * 0.7 = 0.49 < 0.5; 1.0 * 0.5 = 0.5 is not strictly above.
	store := seed(t,
		rec("r1", "backend", 0.7, "x"),
		rec("r2", "frontend", 0.7, "x"),
		rec("r3", "backend", 1.0, "y"),
		rec("r4", "frontend", 0.5, "y"),
	)
	summaries, err := NewEngine(store).Correlate(context.Background(), Window{})
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("expected floor to exclude all pairs, got %+v", summaries)
	}
}

func TestNoSharedTagNoCorrelation(t *testing.T) {
	store := seed(t,
		rec("r1", "backend", 0.9, "db"),
		rec("r2", "frontend", 0.9, "ui"),
	)
	summaries, err := NewEngine(store).Correlate(context.Background(), Window{})
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("disjoint tags must not correlate, got %+v", summaries)
	}
}

func TestChainedPairsMergeIntoOneGroup(t *testing.T) {
	// r1-r2 share "a", r2-r3 share "b"; r1 and r3 share nothing but join
	// through r2.
	store := seed(t,
		rec("r1", "backend", 0.9, "a"),
		rec("r2", "frontend", 0.9, "a", "b"),
		rec("r3", "infra", 0.9, "b"),
	)
	summaries, err := NewEngine(store).Correlate(context.Background(), Window{})
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected one merged group, got %d", len(summaries))
	}
	got := summaries[0]
	if len(got.ParticipatingRecordIDs) != 3 {
		t.Fatalf("expected 3 participants, got %v", got.ParticipatingRecordIDs)
	}
	// Two pairs at 0.81 each.
	if math.Abs(got.Strength-0.81) > 1e-9 {
		t.Fatalf("expected mean strength 0.81, got %v", got.Strength)
	}
}

func TestCorrelateOrderingIsDeterministic(t *testing.T) {
	store := seed(t,
		rec("r1", "backend", 0.9, "a"),
		rec("r2", "frontend", 0.9, "a"),
		rec("r3", "backend", 0.8, "b"),
		rec("r4", "frontend", 0.8, "b"),
	)
	engine := NewEngine(store)

	first, err := engine.Correlate(context.Background(), Window{})
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected two groups, got %d", len(first))
	}
	if first[0].Strength < first[1].Strength {
		t.Fatalf("expected strongest group first: %v then %v", first[0].Strength, first[1].Strength)
	}
	for i := 0; i < 5; i++ {
		again, err := engine.Correlate(context.Background(), Window{})
		if err != nil {
			t.Fatalf("correlate: %v", err)
		}
		for j := range again {
			if again[j].Strength != first[j].Strength ||
				again[j].ParticipatingRecordIDs[0] != first[j].ParticipatingRecordIDs[0] {
				t.Fatalf("non-deterministic pass: %+v vs %+v", again[j], first[j])
			}
		}
	}
}

func TestWindowFiltersDomainsAndTime(t *testing.T) {
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	old := rec("r1", "backend", 0.9, "a")
	old.CapturedAt = base.Add(-48 * time.Hour)
	store := seed(t,
		old,
		rec("r2", "frontend", 0.9, "a"),
		rec("r3", "backend", 0.9, "a"),
		rec("r4", "ops", 0.9, "a"),
	)
	engine := NewEngine(store)

	summaries, err := engine.Correlate(context.Background(), Window{
		Since:         base.Add(-time.Hour),
		SourceDomains: []string{"frontend", "backend"},
	})
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected one summary, got %d", len(summaries))
	}
	got := summaries[0].ParticipatingRecordIDs
	if len(got) != 2 || got[0] != "r2" || got[1] != "r3" {
		t.Fatalf("window not applied: %v", got)
	}
}

func TestRecordWithoutPatternsHasZeroConfidence(t *testing.T) {
	empty := rec("r1", "backend", 0, "a")
	empty.Patterns = nil
	store := seed(t,
		empty,
		rec("r2", "frontend", 1.0, "a"),
	)
	summaries, err := NewEngine(store).Correlate(context.Background(), Window{})
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("pattern-less record must contribute zero confidence, got %+v", summaries)
	}
}

func TestSummaryStoreSupersede(t *testing.T) {
	store := seed(t,
		rec("r1", "backend", 0.9, "a"),
		rec("r2", "frontend", 0.9, "a"),
	)
	summaryStore := NewInMemorySummaryStore()
	engine := NewEngine(store, WithSummaryStore(summaryStore))
	ctx := context.Background()

	first, err := engine.Correlate(ctx, Window{})
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	second, err := engine.Correlate(ctx, Window{})
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}

	active, err := summaryStore.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 || active[0].ID != second[0].ID {
		t.Fatalf("expected only the latest summary active, got %+v", active)
	}

	all, err := summaryStore.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("superseded summaries must be retained, got %d", len(all))
	}
	for _, summary := range all {
		if summary.ID == first[0].ID && summary.SupersededBy != second[0].ID {
			t.Fatalf("first summary not marked superseded: %+v", summary)
		}
	}
}

func TestCustomConfidenceFloor(t *testing.T) {
	store := seed(t,
		rec("r1", "backend", 0.6, "a"),
		rec("r2", "frontend", 0.6, "a"),
	)
	summaries, err := NewEngine(store, WithConfidenceFloor(0.3)).Correlate(context.Background(), Window{})
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected lowered floor to admit the pair, got %d", len(summaries))
	}
	if math.Abs(summaries[0].Strength-0.36) > 1e-9 {
		t.Fatalf("expected strength 0.36, got %v", summaries[0].Strength)
	}
}

func TestSweeperRunsPasses(t *testing.T) {
	store := seed(t,
		rec("r1", "backend", 0.9, "a"),
		rec("r2", "frontend", 0.9, "a"),
	)
	summaryStore := NewInMemorySummaryStore()
	engine := NewEngine(store, WithSummaryStore(summaryStore))
	sweeper := NewSweeper(engine, SweeperOptions{
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
	})
	sweeper.Start()
	defer sweeper.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		active, err := summaryStore.Active(context.Background())
		if err != nil {
			t.Fatalf("active: %v", err)
		}
		if len(active) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("sweeper never produced a summary")
}

func TestSweeperDisabledWithoutInterval(t *testing.T) {
	engine := NewEngine(knowledge.NewInMemoryStore())
	sweeper := NewSweeper(engine, SweeperOptions{})
	sweeper.Start()
	sweeper.Stop() // must not panic or hang
}
