package knowledge

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Query bounds a record lookup. Zero fields mean "no bound".
type Query struct {
	// Tags matches records carrying at least one of the given tags.
	Tags []string

	// SourceDomain restricts results to one domain.
	SourceDomain string

	// Since restricts results to records captured at or after the
	// given instant; the zero time disables the bound.
	Since time.Time

	// Limit caps the result count; <= 0 means unlimited.
	Limit int
}

// RecordStore persists knowledge records. Append is the only write
// operation: the store is append-only by contract.
type RecordStore interface {
	Append(ctx context.Context, record *KnowledgeRecord) error
	Query(ctx context.Context, q Query) ([]*KnowledgeRecord, error)
}

// InMemoryStore is an in-process record store, used in tests and as a
// fallback when no database is configured.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []*KnowledgeRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Append adds a record. Records are stored in capture order.
func (s *InMemoryStore) Append(_ context.Context, record *KnowledgeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// Query returns matching records ordered by capture time, newest first.
func (s *InMemoryStore) Query(_ context.Context, q Query) ([]*KnowledgeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*KnowledgeRecord
	for _, record := range s.records {
		if !matches(record, q) {
			continue
		}
		out = append(out, record)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CapturedAt.After(out[j].CapturedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func matches(record *KnowledgeRecord, q Query) bool {
	if q.SourceDomain != "" && record.SourceDomain != q.SourceDomain {
		return false
	}
	if !q.Since.IsZero() && record.CapturedAt.Before(q.Since) {
		return false
	}
	if len(q.Tags) > 0 {
		found := false
		for _, tag := range q.Tags {
			if record.HasTag(tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
