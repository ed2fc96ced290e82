// Package knowledge captures structured execution records from finished
// tasks and serves them to the correlation engine and external query
// surfaces. The record store is append-only: records are never updated or
// deleted.
package knowledge

import (
	"sort"
	"time"
)

// Pattern is one insight extracted from a task run.
type Pattern struct {
	Type        string  `json:"pattern_type"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// ExecutionMetadata carries timing and outcome data for the run that
// produced a record.
type ExecutionMetadata struct {
	TaskID     string            `json:"task_id,omitempty"`
	Outcome    string            `json:"outcome,omitempty"`
	StartedAt  time.Time         `json:"started_at,omitempty"`
	FinishedAt time.Time         `json:"finished_at,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// KnowledgeRecord is the immutable account of what one task run learned.
type KnowledgeRecord struct {
	RecordID     string            `json:"record_id"`
	SourceDomain string            `json:"source_domain"`
	Metadata     ExecutionMetadata `json:"execution_metadata"`
	Patterns     []Pattern         `json:"extracted_patterns,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	CapturedAt   time.Time         `json:"captured_at"`
}

// MaxConfidence returns the highest pattern confidence on the record.
// Derived tags inherit this confidence for correlation; a record with no
// patterns learned nothing and correlates with nothing.
func (r *KnowledgeRecord) MaxConfidence() float64 {
	var max float64
	for _, p := range r.Patterns {
		if p.Confidence > max {
			max = p.Confidence
		}
	}
	return max
}

// HasTag reports whether the record carries the given tag.
func (r *KnowledgeRecord) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// normalizeTags deduplicates and sorts tags so they behave as a set.
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// clampPatterns bounds every confidence to [0,1]. Out-of-range values are
// clamped rather than rejected so a formatting slip never loses a capture.
func clampPatterns(patterns []Pattern) []Pattern {
	out := make([]Pattern, len(patterns))
	copy(out, patterns)
	for i := range out {
		if out[i].Confidence < 0 {
			out[i].Confidence = 0
		}
		if out[i].Confidence > 1 {
			out[i].Confidence = 1
		}
	}
	return out
}
