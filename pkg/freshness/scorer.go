// Package freshness turns a context bundle into a trust classification that
// gates whether it may be packaged as-is. Scoring is pure: identical inputs
// always yield identical output.
package freshness

import (
	"sort"
	"time"

	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/contextstore"
)

// Status classifies a bundle's trustworthiness.
type Status string

const (
	// StatusFresh means the bundle may be packaged as-is.
	StatusFresh Status = "fresh"

	// StatusStale means a merge/refresh is mandatory before packaging.
	StatusStale Status = "stale"

	// StatusInvalid means packaging is refused; the caller must reset.
	StatusInvalid Status = "invalid"
)

// Options configure a Scorer. The weights are a tuning surface, not a
// contract; exact values are configuration.
type Options struct {
	// Weights maps component names to their score contribution. A
	// missing component contributes zero for its weight share —
	// incompleteness lowers the score rather than being ignored.
	Weights map[string]float64

	// DecayWeight is the share given to a uniform time-decay term that
	// decreases linearly with bundle age up to DecayHorizon.
	DecayWeight float64

	// DecayHorizon bounds the linear decay. A component older than the
	// horizon is expired and contributes nothing.
	DecayHorizon time.Duration

	// FreshThreshold and InvalidThreshold split the score range into
	// fresh / stale / invalid.
	FreshThreshold   float64
	InvalidThreshold float64
}

// DefaultOptions returns the standard weighting scheme: request identity
// 0.40, structural constraints 0.25, plan-level reasoning 0.20, validation
// approach 0.10, time decay 0.05 over a 24h horizon.
func DefaultOptions() Options {
	return Options{
		Weights: map[string]float64{
			"request":         0.40,
			"constraints":     0.25,
			"validation_plan": 0.20,
			"risk_notes":      0.10,
		},
		DecayWeight:      0.05,
		DecayHorizon:     24 * time.Hour,
		FreshThreshold:   0.8,
		InvalidThreshold: 0.5,
	}
}

// Report is the outcome of evaluating one bundle.
type Report struct {
	Score  float64
	Status Status

	// Missing lists weighted components absent from the bundle.
	Missing []string

	// Expired lists components present but older than the decay horizon.
	Expired []string
}

// Scorer computes weighted staleness scores. It carries no mutable state
// and is safe for concurrent use.
type Scorer struct {
	opts Options
}

// NewScorer creates a scorer; zero fields in opts fall back to defaults.
func NewScorer(opts Options) *Scorer {
	def := DefaultOptions()
	if len(opts.Weights) == 0 {
		opts.Weights = def.Weights
	}
	if opts.DecayWeight == 0 {
		opts.DecayWeight = def.DecayWeight
	}
	if opts.DecayHorizon == 0 {
		opts.DecayHorizon = def.DecayHorizon
	}
	if opts.FreshThreshold == 0 {
		opts.FreshThreshold = def.FreshThreshold
	}
	if opts.InvalidThreshold == 0 {
		opts.InvalidThreshold = def.InvalidThreshold
	}
	return &Scorer{opts: opts}
}

// Score returns the weighted freshness score in [0,1] for the bundle at
// the given instant.
func (s *Scorer) Score(bundle *contextstore.ContextBundle, now time.Time) float64 {
	return s.Evaluate(bundle, now).Score
}

// Evaluate scores and classifies the bundle, naming the components that
// are missing or expired so rejections can tell the caller exactly what
// to refresh. A bundle with zero components is always invalid.
func (s *Scorer) Evaluate(bundle *contextstore.ContextBundle, now time.Time) Report {
	report := Report{}
	if bundle == nil || len(bundle.Components) == 0 {
		report.Status = StatusInvalid
		for name := range s.opts.Weights {
			report.Missing = append(report.Missing, name)
		}
		sort.Strings(report.Missing)
		return report
	}

	var score float64
	for name, weight := range s.opts.Weights {
		entry, ok := bundle.Components[name]
		if !ok {
			report.Missing = append(report.Missing, name)
			continue
		}
		if now.Sub(entry.LastVerified) > s.opts.DecayHorizon {
			report.Expired = append(report.Expired, name)
			continue
		}
		score += weight
	}
	sort.Strings(report.Missing)
	sort.Strings(report.Expired)

	// Uniform decay over the bundle's age, taken from its oldest
	// verification.
	age := now.Sub(bundle.OldestVerified())
	if age < 0 {
		age = 0
	}
	if age < s.opts.DecayHorizon {
		remaining := 1 - float64(age)/float64(s.opts.DecayHorizon)
		score += s.opts.DecayWeight * remaining
	}

	if score > 1 {
		score = 1
	}
	report.Score = score
	report.Status = s.classify(score)
	return report
}

func (s *Scorer) classify(score float64) Status {
	switch {
	case score >= s.opts.FreshThreshold:
		return StatusFresh
	case score >= s.opts.InvalidThreshold:
		return StatusStale
	default:
		return StatusInvalid
	}
}
