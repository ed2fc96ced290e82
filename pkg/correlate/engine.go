package correlate

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/knowledge"
)

// Window bounds one correlation pass over the record store.
type Window struct {
	// Since excludes records captured before this instant. Zero means
	// the full history.
	Since time.Time

	// SourceDomains restricts the pass to records from these domains.
	// Empty means all domains.
	SourceDomains []string

	// Limit caps the number of records loaded, newest first. Zero means
	// no cap.
	Limit int
}

// Engine derives cross-domain correlation summaries from knowledge
// records. A pass is a pure read over the record store; writing the
// resulting summaries is the caller's (or the configured store's) concern.
type Engine struct {
	records   knowledge.RecordStore
	summaries SummaryStore
	floor     float64
	now       func() time.Time
	tracer    trace.Tracer
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithSummaryStore persists each pass's output, superseding overlapping
// summaries from earlier passes.
func WithSummaryStore(store SummaryStore) EngineOption {
	return func(e *Engine) { e.summaries = store }
}

// WithConfidenceFloor overrides the minimum pair strength. Pairs at or
// below the floor are discarded.
func WithConfidenceFloor(floor float64) EngineOption {
	return func(e *Engine) { e.floor = floor }
}

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a correlation engine over the given record store.
func NewEngine(records knowledge.RecordStore, opts ...EngineOption) *Engine {
	e := &Engine{
		records: records,
		floor:   0.5,
		now:     time.Now,
		tracer:  otel.Tracer("omniintelligence/correlate"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// pair is one qualifying cross-domain record pair.
type pair struct {
	a, b     string
	strength float64
}

// Correlate runs one pass over the window and returns the derived
// summaries, strongest groups first. Two records correlate when they
// share at least one tag, come from different source domains, and the
// product of their confidences exceeds the floor. Qualifying pairs are
// merged into connected groups so a chain A-B, B-C yields one summary.
func (e *Engine) Correlate(ctx context.Context, w Window) ([]*Summary, error) {
	ctx, span := e.tracer.Start(ctx, "correlate.pass")
	defer span.End()
	initCorrelateMetrics()
	start := e.now()

	records, err := e.load(ctx, w)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("records", len(records)))

	pairs := e.matchPairs(records)
	summaries := e.group(records, pairs, w)

	if e.summaries != nil && len(summaries) > 0 {
		if err := e.summaries.Save(ctx, summaries); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	passCounter.Add(ctx, 1)
	summaryCounter.Add(ctx, int64(len(summaries)))
	passLatency.Record(ctx, float64(e.now().Sub(start).Milliseconds()))
	slog.Default().Debug("correlate.pass.done",
		slog.Int("records", len(records)),
		slog.Int("pairs", len(pairs)),
		slog.Int("summaries", len(summaries)),
	)
	return summaries, nil
}

func (e *Engine) load(ctx context.Context, w Window) ([]*knowledge.KnowledgeRecord, error) {
	records, err := e.records.Query(ctx, knowledge.Query{Since: w.Since, Limit: w.Limit})
	if err != nil {
		return nil, err
	}
	if len(w.SourceDomains) > 0 {
		allowed := make(map[string]struct{}, len(w.SourceDomains))
		for _, domain := range w.SourceDomains {
			allowed[domain] = struct{}{}
		}
		filtered := records[:0]
		for _, record := range records {
			if _, ok := allowed[record.SourceDomain]; ok {
				filtered = append(filtered, record)
			}
		}
		records = filtered
	}
	// Deterministic pass order regardless of store ordering.
	sort.Slice(records, func(i, j int) bool {
		return records[i].RecordID < records[j].RecordID
	})
	return records, nil
}

func (e *Engine) matchPairs(records []*knowledge.KnowledgeRecord) []pair {
	var pairs []pair
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			a, b := records[i], records[j]
			if a.SourceDomain == b.SourceDomain {
				continue
			}
			if !sharesTag(a, b) {
				continue
			}
			strength := a.MaxConfidence() * b.MaxConfidence()
			if strength <= e.floor {
				continue
			}
			pairs = append(pairs, pair{a: a.RecordID, b: b.RecordID, strength: strength})
		}
	}
	return pairs
}

func sharesTag(a, b *knowledge.KnowledgeRecord) bool {
	for _, tag := range a.Tags {
		if b.HasTag(tag) {
			return true
		}
	}
	return false
}

// group merges qualifying pairs into connected components and builds one
// summary per component. Summary strength is the mean of its pair
// strengths. Output is ordered by group size, then strength, descending.
func (e *Engine) group(records []*knowledge.KnowledgeRecord, pairs []pair, w Window) []*Summary {
	if len(pairs) == 0 {
		return nil
	}

	parent := make(map[string]string, len(records))
	var find func(string) string
	find = func(id string) string {
		if parent[id] == "" || parent[id] == id {
			parent[id] = id
			return id
		}
		root := find(parent[id])
		parent[id] = root
		return root
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}
	for _, p := range pairs {
		union(p.a, p.b)
	}

	members := make(map[string][]string)
	strengthSum := make(map[string]float64)
	strengthN := make(map[string]int)
	seen := make(map[string]bool)
	for _, p := range pairs {
		root := find(p.a)
		strengthSum[root] += p.strength
		strengthN[root]++
		for _, id := range []string{p.a, p.b} {
			if !seen[id] {
				seen[id] = true
				members[root] = append(members[root], id)
			}
		}
	}

	created := e.now().UTC()
	var out []*Summary
	for root, ids := range members {
		sort.Strings(ids)
		out = append(out, &Summary{
			ID:                     uuid.NewString(),
			ParticipatingRecordIDs: ids,
			Kind:                   KindCrossDomainPattern,
			Strength:               strengthSum[root] / float64(strengthN[root]),
			WindowStart:            w.Since,
			CreatedAt:              created,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].ParticipatingRecordIDs) != len(out[j].ParticipatingRecordIDs) {
			return len(out[i].ParticipatingRecordIDs) > len(out[j].ParticipatingRecordIDs)
		}
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		return out[i].ParticipatingRecordIDs[0] < out[j].ParticipatingRecordIDs[0]
	})
	return out
}

var (
	correlateMetricsOnce sync.Once
	passCounter          metric.Int64Counter
	summaryCounter       metric.Int64Counter
	passLatency          metric.Float64Histogram
)

func initCorrelateMetrics() {
	correlateMetricsOnce.Do(func() {
		meter := otel.Meter("omniintelligence/correlate")
		passCounter, _ = meter.Int64Counter("omniintelligence.correlate.pass.count")
		summaryCounter, _ = meter.Int64Counter("omniintelligence.correlate.summaries.count")
		passLatency, _ = meter.Float64Histogram("omniintelligence.correlate.pass.latency.ms",
			metric.WithUnit("ms"))
	})
}
