// Package inherit builds the immutable inheritance packages handed to
// delegated tasks. A package is a deep, versioned snapshot of a bundle; it
// is issued only when the bundle scores fresh, and packaging never mutates
// the store.
package inherit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/contextstore"
	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/errors"
	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/freshness"
)

// BundleGetter is the read-only slice of the context store the packager
// needs.
type BundleGetter interface {
	Get(ctx context.Context, workflowID string) (*contextstore.ContextBundle, error)
}

// Package is the immutable snapshot handed to a delegated task. The task
// owns it exclusively, never mutates it, and discards it on completion;
// proposed updates flow back through the store's Merge instead.
type Package struct {
	WorkflowID          string                                 `json:"workflow_id"`
	SourceBundleVersion uint64                                 `json:"source_bundle_version"`
	Components          map[string]contextstore.ComponentEntry `json:"components"`
	FreshnessScore      float64                                `json:"freshness_score"`
	IssuedAt            time.Time                              `json:"issued_at"`
}

// Packager issues inheritance packages gated by the freshness scorer.
type Packager struct {
	store  BundleGetter
	scorer *freshness.Scorer
	now    func() time.Time
	tracer trace.Tracer
}

// New creates a packager over the given store and scorer.
func New(store BundleGetter, scorer *freshness.Scorer) *Packager {
	return &Packager{
		store:  store,
		scorer: scorer,
		now:    time.Now,
		tracer: otel.Tracer("omniintelligence/inherit"),
	}
}

// WithClock overrides the time source (used by tests).
func (p *Packager) WithClock(now func() time.Time) *Packager {
	p.now = now
	return p
}

// Package snapshots the workflow's bundle into an immutable package.
// An invalid bundle is rejected outright (the caller must Reset); a stale
// bundle is rejected with the exact components to refresh so the caller
// can self-heal by merging and retrying.
func (p *Packager) Package(ctx context.Context, workflowID string) (*Package, error) {
	ctx, span := p.tracer.Start(ctx, "Packager.Package", trace.WithAttributes(
		attribute.String("workflow.id", workflowID),
	))
	defer span.End()
	initPackageMetrics()

	bundle, err := p.store.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	now := p.now()
	report := p.scorer.Evaluate(bundle, now)
	span.SetAttributes(
		attribute.Float64("freshness.score", report.Score),
		attribute.String("freshness.status", string(report.Status)),
	)

	switch report.Status {
	case freshness.StatusInvalid:
		packageRejectedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", string(report.Status))))
		return nil, rejection(workflowID, report, "bundle is invalid; reset required")
	case freshness.StatusStale:
		packageRejectedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", string(report.Status))))
		return nil, rejection(workflowID, report, "bundle is stale; merge updated components and retry")
	}

	packageIssuedCounter.Add(ctx, 1)
	snapshot := bundle.Clone()
	return &Package{
		WorkflowID:          snapshot.WorkflowID,
		SourceBundleVersion: snapshot.Version,
		Components:          snapshot.Components,
		FreshnessScore:      report.Score,
		IssuedAt:            now,
	}, nil
}

var (
	packageMetricsOnce     sync.Once
	packageIssuedCounter   metric.Int64Counter
	packageRejectedCounter metric.Int64Counter
)

func initPackageMetrics() {
	packageMetricsOnce.Do(func() {
		meter := otel.Meter("omniintelligence/inherit")
		packageIssuedCounter, _ = meter.Int64Counter("omniintelligence.package.issued.count")
		packageRejectedCounter, _ = meter.Int64Counter("omniintelligence.package.rejected.count")
	})
}

func rejection(workflowID string, report freshness.Report, msg string) *errors.EngineError {
	detail := msg
	if len(report.Missing) > 0 {
		detail += fmt.Sprintf("; missing: %s", strings.Join(report.Missing, ", "))
	}
	if len(report.Expired) > 0 {
		detail += fmt.Sprintf("; expired: %s", strings.Join(report.Expired, ", "))
	}
	return errors.New(errors.CodeRejected, detail, nil).
		WithRecoverable(true).
		WithContext("workflow_id", workflowID).
		WithContext("reason", string(report.Status)).
		WithContext("score", report.Score).
		WithContext("missing", report.Missing).
		WithContext("expired", report.Expired)
}
