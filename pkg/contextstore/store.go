package contextstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/errors"
)

// Persister durably stores bundle snapshots. Implementations must be safe
// for concurrent use; the store only calls SaveBundle while holding the
// per-workflow lock.
type Persister interface {
	SaveBundle(ctx context.Context, bundle *ContextBundle) error
	LoadBundle(ctx context.Context, workflowID string) (*ContextBundle, error)
}

// Store keeps one context bundle per workflow id. Mutations (Merge, Reset)
// for a workflow are serialized by a per-workflow lock and applied
// copy-on-write: a new bundle is built and swapped in atomically, so reads
// always see a consistent snapshot and a timed-out merge leaves no partial
// state behind.
type Store struct {
	mu        sync.RWMutex
	workflows map[string]*workflowSlot

	persister Persister
	now       func() time.Time
	tracer    trace.Tracer
}

type workflowSlot struct {
	// sem serializes merge/reset; a channel rather than a mutex so
	// acquisition can respect caller deadlines.
	sem    chan struct{}
	bundle *ContextBundle // replaced whole under sem; read under Store.mu
}

// Option configures a Store.
type Option func(*Store)

// WithPersister attaches durable bundle storage. Bundles are saved after
// every merge/reset and lazily loaded on first access.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		workflows: make(map[string]*workflowSlot),
		now:       time.Now,
		tracer:    otel.Tracer("omniintelligence/contextstore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a deep copy of the bundle for workflowID, or a NOT_FOUND
// error when no bundle exists.
func (s *Store) Get(ctx context.Context, workflowID string) (*ContextBundle, error) {
	if workflowID == "" {
		return nil, errors.New(errors.CodeInvalidInput, "workflow id is required", nil)
	}

	s.mu.RLock()
	var bundle *ContextBundle
	if slot, ok := s.workflows[workflowID]; ok {
		bundle = slot.bundle
	}
	s.mu.RUnlock()
	if bundle != nil {
		return bundle.Clone(), nil
	}

	if s.persister != nil {
		loaded, err := s.persister.LoadBundle(ctx, workflowID)
		if err == nil && loaded != nil {
			slot := s.slot(workflowID)
			s.mu.Lock()
			if slot.bundle == nil {
				slot.bundle = loaded
			}
			bundle := slot.bundle
			s.mu.Unlock()
			return bundle.Clone(), nil
		}
		if err != nil && !errors.IsCode(err, errors.CodeNotFound) {
			return nil, err
		}
	}

	return nil, errors.New(errors.CodeNotFound, "no context bundle for workflow", nil).
		WithContext("workflow_id", workflowID)
}

// Merge applies proposed components to the workflow's bundle. A missing
// workflow is created rather than erroring. For each proposed component:
// absent ones are inserted, present ones go through Resolve. The bundle
// version always increments, and every affected component's LastVerified
// is stamped to now. Merges on the same workflow are linearizable; the
// caller's ctx deadline bounds the wait for the per-workflow lock.
func (s *Store) Merge(ctx context.Context, workflowID string, proposed map[string]ComponentEntry) (*ContextBundle, error) {
	if workflowID == "" {
		return nil, errors.New(errors.CodeInvalidInput, "workflow id is required", nil)
	}

	ctx, span := s.tracer.Start(ctx, "ContextStore.Merge", trace.WithAttributes(
		attribute.String("workflow.id", workflowID),
		attribute.Int("components.proposed", len(proposed)),
	))
	defer span.End()
	initStoreMetrics()
	start := s.now()

	slot := s.slot(workflowID)
	if err := acquire(ctx, slot.sem); err != nil {
		mergeTimeoutCounter.Add(ctx, 1)
		return nil, err
	}
	defer release(slot.sem)

	current, err := s.currentBundle(ctx, slot, workflowID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	var next *ContextBundle
	if current == nil {
		next = &ContextBundle{
			WorkflowID: workflowID,
			Components: make(map[string]ComponentEntry, len(proposed)),
			CreatedAt:  now,
		}
	} else {
		next = current.Clone()
	}

	for name, incoming := range proposed {
		resolved := incoming
		if old, ok := next.Components[name]; ok {
			resolved = Resolve(old, incoming)
		}
		resolved = resolved.clone()
		resolved.LastVerified = now
		next.Components[name] = resolved
	}
	next.Version++
	next.UpdatedAt = now

	if err := s.publish(ctx, slot, next); err != nil {
		return nil, err
	}

	mergeCounter.Add(ctx, 1)
	mergeLatencyMs.Record(ctx, float64(s.now().Sub(start).Seconds()*1000))
	slog.Default().Debug("contextstore.merge",
		slog.String("workflow_id", workflowID),
		slog.Uint64("version", next.Version),
		slog.Int("components", len(next.Components)),
	)
	return next.Clone(), nil
}

// Reset clears the workflow's components and resets its version to zero.
// Used when freshness is invalid or at a workflow boundary.
func (s *Store) Reset(ctx context.Context, workflowID string) (*ContextBundle, error) {
	if workflowID == "" {
		return nil, errors.New(errors.CodeInvalidInput, "workflow id is required", nil)
	}

	ctx, span := s.tracer.Start(ctx, "ContextStore.Reset", trace.WithAttributes(
		attribute.String("workflow.id", workflowID),
	))
	defer span.End()
	initStoreMetrics()

	slot := s.slot(workflowID)
	if err := acquire(ctx, slot.sem); err != nil {
		return nil, err
	}
	defer release(slot.sem)

	now := s.now()
	next := &ContextBundle{
		WorkflowID: workflowID,
		Components: make(map[string]ComponentEntry),
		Version:    0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.publish(ctx, slot, next); err != nil {
		return nil, err
	}

	resetCounter.Add(ctx, 1)
	slog.Default().Info("contextstore.reset", slog.String("workflow_id", workflowID))
	return next.Clone(), nil
}

// currentBundle returns the workflow's in-memory bundle, loading the
// persisted snapshot on first access so a merge after restart builds on
// the durable state instead of starting a fresh bundle at version one.
// Must be called while holding slot.sem.
func (s *Store) currentBundle(ctx context.Context, slot *workflowSlot, workflowID string) (*ContextBundle, error) {
	s.mu.RLock()
	bundle := slot.bundle
	s.mu.RUnlock()
	if bundle != nil || s.persister == nil {
		return bundle, nil
	}

	loaded, err := s.persister.LoadBundle(ctx, workflowID)
	if errors.IsCode(err, errors.CodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if slot.bundle == nil {
		slot.bundle = loaded
	}
	bundle = slot.bundle
	s.mu.Unlock()
	return bundle, nil
}

// publish persists (when configured) and atomically swaps the bundle.
// Persistence happens before the swap so a storage failure leaves the
// previous snapshot in place.
func (s *Store) publish(ctx context.Context, slot *workflowSlot, next *ContextBundle) error {
	if err := ctx.Err(); err != nil {
		return errors.New(errors.CodeTimeout, "merge canceled before publish", err).WithRecoverable(true)
	}
	if s.persister != nil {
		if err := s.persister.SaveBundle(ctx, next); err != nil {
			return errors.New(errors.CodeStorage, "persist bundle", err).WithRecoverable(true).
				WithContext("workflow_id", next.WorkflowID)
		}
	}
	s.mu.Lock()
	slot.bundle = next
	s.mu.Unlock()
	return nil
}

func (s *Store) slot(workflowID string) *workflowSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.workflows[workflowID]
	if !ok {
		slot = &workflowSlot{sem: make(chan struct{}, 1)}
		s.workflows[workflowID] = slot
	}
	return slot
}

func acquire(ctx context.Context, sem chan struct{}) error {
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.New(errors.CodeTimeout, "timed out waiting for workflow lock", ctx.Err()).
			WithRecoverable(true)
	}
}

func release(sem chan struct{}) {
	<-sem
}

var (
	storeMetricsOnce    sync.Once
	mergeCounter        metric.Int64Counter
	resetCounter        metric.Int64Counter
	mergeTimeoutCounter metric.Int64Counter
	mergeLatencyMs      metric.Float64Histogram
)

func initStoreMetrics() {
	storeMetricsOnce.Do(func() {
		meter := otel.Meter("omniintelligence/contextstore")
		mergeCounter, _ = meter.Int64Counter("omniintelligence.context.merge.count")
		resetCounter, _ = meter.Int64Counter("omniintelligence.context.reset.count")
		mergeTimeoutCounter, _ = meter.Int64Counter("omniintelligence.context.merge.timeout.count")
		mergeLatencyMs, _ = meter.Float64Histogram("omniintelligence.context.merge.latency_ms")
	})
}
