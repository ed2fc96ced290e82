package correlate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// SweeperOptions configure the periodic correlation driver.
type SweeperOptions struct {
	// Interval between passes. Zero or negative disables the sweeper.
	Interval time.Duration

	// Timeout bounds each pass. Zero means no per-pass deadline.
	Timeout time.Duration

	// WindowSince is how far back each pass looks. Zero scans the full
	// record history every pass.
	WindowSince time.Duration
}

// Sweeper drives the correlation engine on a fixed interval. Each pass
// scans the recent record window and persists summaries through the
// engine's configured summary store.
type Sweeper struct {
	engine *Engine
	opts   SweeperOptions

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper over the engine.
func NewSweeper(engine *Engine, opts SweeperOptions) *Sweeper {
	return &Sweeper{engine: engine, opts: opts}
}

// Start launches the sweep loop. Calling Start on a running sweeper
// restarts it.
func (s *Sweeper) Start() {
	log := slog.Default()
	if s.opts.Interval <= 0 {
		log.Info("correlate.sweeper.disabled",
			slog.Duration("interval", s.opts.Interval),
		)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.stopLocked()
	}
	initSweepMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()
		log.Info("correlate.sweeper.start",
			slog.Duration("interval", s.opts.Interval),
			slog.Duration("window", s.opts.WindowSince),
		)
		for {
			select {
			case <-ctx.Done():
				log.Info("correlate.sweeper.stop")
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Sweeper) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

func (s *Sweeper) sweep(ctx context.Context) {
	log := slog.Default()
	start := time.Now()
	sweepCtx := ctx
	var cancel context.CancelFunc
	if s.opts.Timeout > 0 {
		sweepCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	window := Window{}
	if s.opts.WindowSince > 0 {
		window.Since = time.Now().Add(-s.opts.WindowSince)
	}

	summaries, err := s.engine.Correlate(sweepCtx, window)
	durationMs := float64(time.Since(start).Seconds() * 1000)
	sweepRunCounter.Add(ctx, 1)
	sweepRunLatencyMs.Record(ctx, durationMs)
	if err != nil {
		sweepRunErrorCounter.Add(ctx, 1)
		log.Warn("correlate.sweep.error",
			slog.Float64("duration_ms", durationMs),
			slog.String("error", err.Error()),
		)
		return
	}
	log.Info("correlate.sweep.complete",
		slog.Int("summaries", len(summaries)),
		slog.Float64("duration_ms", durationMs),
	)
}

var (
	sweepMetricsOnce     sync.Once
	sweepRunCounter      metric.Int64Counter
	sweepRunErrorCounter metric.Int64Counter
	sweepRunLatencyMs    metric.Float64Histogram
)

func initSweepMetrics() {
	sweepMetricsOnce.Do(func() {
		meter := otel.Meter("omniintelligence/correlate")
		sweepRunCounter, _ = meter.Int64Counter("omniintelligence.correlate.sweep.count")
		sweepRunErrorCounter, _ = meter.Int64Counter("omniintelligence.correlate.sweep.error.count")
		sweepRunLatencyMs, _ = meter.Float64Histogram("omniintelligence.correlate.sweep.latency_ms")
	})
}
