package knowledge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/errors"
	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/resilience"
)

// Options configure the capture pipeline.
type Options struct {
	// QueueSize bounds the asynchronous hand-off queue.
	QueueSize int

	// Retry controls persistence retries. Defaults to 3 attempts with
	// exponential backoff.
	Retry resilience.RetryConfig

	// WriteTimeout bounds each persistence attempt. It is independent
	// of any caller deadline: the task that produced the record has
	// already moved on.
	WriteTimeout time.Duration

	// Clock overrides the time source (used by tests).
	Clock func() time.Time
}

// Pipeline accepts execution records and persists them asynchronously.
// Capture is best-effort by contract: a slow or failing store never blocks
// or fails the task that produced the record.
type Pipeline struct {
	store RecordStore
	opts  Options

	queue chan *KnowledgeRecord
	wg    sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewPipeline creates a capture pipeline over the given store.
func NewPipeline(store RecordStore, opts Options) *Pipeline {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Pipeline{
		store: store,
		opts:  opts,
		queue: make(chan *KnowledgeRecord, opts.QueueSize),
	}
}

// Start launches the persistence worker.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	initCaptureMetrics()
	p.wg.Add(1)
	go p.worker()
}

// Stop closes the queue and waits for queued records to drain.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}

// Capture validates and enqueues an execution record, returning its
// generated record id. The only error returned is INVALID_INPUT for an
// empty source domain; persistence failures are retried in the background
// and ultimately logged, never surfaced. Out-of-range confidences are
// clamped rather than rejected.
func (p *Pipeline) Capture(ctx context.Context, sourceDomain string, meta ExecutionMetadata, patterns []Pattern, tags []string) (string, error) {
	if sourceDomain == "" {
		return "", errors.New(errors.CodeInvalidInput, "source domain is required", nil)
	}
	initCaptureMetrics()

	record := &KnowledgeRecord{
		RecordID:     uuid.NewString(),
		SourceDomain: sourceDomain,
		Metadata:     meta,
		Patterns:     clampPatterns(patterns),
		Tags:         normalizeTags(tags),
		CapturedAt:   p.opts.Clock().UTC(),
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.started || p.stopped {
		// No worker; persist inline but still swallow failures.
		p.persist(record)
		return record.RecordID, nil
	}

	select {
	case p.queue <- record:
		captureAcceptedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source_domain", sourceDomain),
		))
	default:
		// A full queue must not block the producing task.
		captureDroppedCounter.Add(ctx, 1)
		slog.Default().Error("knowledge.capture.dropped",
			slog.String("record_id", record.RecordID),
			slog.String("source_domain", sourceDomain),
			slog.Int("queue_size", p.opts.QueueSize),
		)
	}
	return record.RecordID, nil
}

// Query exposes the stable external read surface over the record store.
func (p *Pipeline) Query(ctx context.Context, tags []string, sourceDomain string, limit int) ([]*KnowledgeRecord, error) {
	return p.store.Query(ctx, Query{Tags: tags, SourceDomain: sourceDomain, Limit: limit})
}

// Store returns the underlying record store (read-only use).
func (p *Pipeline) Store() RecordStore {
	return p.store
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for record := range p.queue {
		p.persist(record)
	}
}

// persist writes one record with bounded retries under the configured
// write timeout. After exhaustion the failure is logged as CAPTURE_FAILED
// and swallowed.
func (p *Pipeline) persist(record *KnowledgeRecord) {
	ctx := context.Background()
	err := resilience.WithTimeout(ctx, resilience.TimeoutConfig{Duration: p.opts.WriteTimeout},
		func(ctx context.Context) error {
			return p.opts.Retry.Do(ctx, func() error {
				return p.store.Append(ctx, record)
			})
		})
	if err != nil {
		captureFailedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source_domain", record.SourceDomain),
		))
		failure := errors.New(errors.CodeCaptureFailed, "knowledge capture exhausted retries", err).
			WithContext("record_id", record.RecordID)
		slog.Default().Error("knowledge.capture.failed",
			slog.String("record_id", record.RecordID),
			slog.String("source_domain", record.SourceDomain),
			slog.String("error", failure.Error()),
		)
		return
	}
	capturePersistedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source_domain", record.SourceDomain),
	))
	slog.Default().Debug("knowledge.capture.persisted",
		slog.String("record_id", record.RecordID),
		slog.String("source_domain", record.SourceDomain),
		slog.Int("patterns", len(record.Patterns)),
	)
}

var (
	captureMetricsOnce      sync.Once
	captureAcceptedCounter  metric.Int64Counter
	capturePersistedCounter metric.Int64Counter
	captureFailedCounter    metric.Int64Counter
	captureDroppedCounter   metric.Int64Counter
)

func initCaptureMetrics() {
	captureMetricsOnce.Do(func() {
		meter := otel.Meter("omniintelligence/knowledge")
		captureAcceptedCounter, _ = meter.Int64Counter("omniintelligence.capture.accepted.count")
		capturePersistedCounter, _ = meter.Int64Counter("omniintelligence.capture.persisted.count")
		captureFailedCounter, _ = meter.Int64Counter("omniintelligence.capture.failed.count")
		captureDroppedCounter, _ = meter.Int64Counter("omniintelligence.capture.dropped.count")
	})
}
