// Package correlate scans persisted knowledge records for cross-domain
// pattern matches and emits correlation summaries. It treats the record
// store as read-only and never holds a context-store lock.
package correlate

import (
	"context"
	"sync"
	"time"
)

// KindCrossDomainPattern is the correlation category for records from
// different domains sharing tags. Same-domain repetition is excluded by
// design.
const KindCrossDomainPattern = "cross_domain_pattern"

// Summary is one derived cross-record relationship. Later passes that
// re-derive overlapping summaries supersede earlier ones; superseded rows
// are retained for audit, never deleted.
type Summary struct {
	ID                     string    `json:"id"`
	ParticipatingRecordIDs []string  `json:"participating_record_ids"`
	Kind                   string    `json:"correlation_kind"`
	Strength               float64   `json:"strength"`
	WindowStart            time.Time `json:"window_start,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	SupersededBy           string    `json:"superseded_by,omitempty"`
}

func (s *Summary) participates(recordID string) bool {
	for _, id := range s.ParticipatingRecordIDs {
		if id == recordID {
			return true
		}
	}
	return false
}

// SummaryStore persists correlation summaries. Save marks previously
// active summaries that overlap a new one as superseded by it.
type SummaryStore interface {
	Save(ctx context.Context, summaries []*Summary) error
	Active(ctx context.Context) ([]*Summary, error)
	All(ctx context.Context) ([]*Summary, error)
}

// InMemorySummaryStore is an in-process summary store used in tests and
// when no database is configured.
type InMemorySummaryStore struct {
	mu        sync.RWMutex
	summaries []*Summary
}

// NewInMemorySummaryStore creates an empty store.
func NewInMemorySummaryStore() *InMemorySummaryStore {
	return &InMemorySummaryStore{}
}

// Save appends the summaries, superseding overlapping active ones.
func (s *InMemorySummaryStore) Save(_ context.Context, summaries []*Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, next := range summaries {
		for _, prior := range s.summaries {
			if prior.SupersededBy != "" {
				continue
			}
			for _, id := range next.ParticipatingRecordIDs {
				if prior.participates(id) {
					prior.SupersededBy = next.ID
					break
				}
			}
		}
		s.summaries = append(s.summaries, next)
	}
	return nil
}

// Active returns summaries not yet superseded.
func (s *InMemorySummaryStore) Active(_ context.Context) ([]*Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Summary
	for _, summary := range s.summaries {
		if summary.SupersededBy == "" {
			out = append(out, summary)
		}
	}
	return out, nil
}

// All returns every summary including superseded rows.
func (s *InMemorySummaryStore) All(_ context.Context) ([]*Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Summary, len(s.summaries))
	copy(out, s.summaries)
	return out, nil
}
