// Package contextstore holds the shared situational state for workflows:
// one versioned context bundle per workflow id, merged under a per-workflow
// lock with copy-on-write snapshots so readers never observe a half-merged
// bundle.
package contextstore

import (
	"encoding/json"
	"time"
)

// ComponentEntry is one named piece of a context bundle. The value is an
// opaque blob; the engine never inspects it. Entries are replaced whole,
// never edited in place.
type ComponentEntry struct {
	// Value is the component payload, treated as an immutable blob.
	Value json.RawMessage `json:"value"`

	// LastVerified is the last confirmation of the value's correctness.
	LastVerified time.Time `json:"last_verified"`

	// Authoritative marks an update from an authoritative source. It
	// wins conflict resolution outright.
	Authoritative bool `json:"authoritative,omitempty"`

	// Canonical marks architectural/structural values taken from a
	// canonical reference. It outranks locally proposed values.
	Canonical bool `json:"canonical,omitempty"`
}

func (e ComponentEntry) clone() ComponentEntry {
	out := e
	if e.Value != nil {
		out.Value = make(json.RawMessage, len(e.Value))
		copy(out.Value, e.Value)
	}
	return out
}

// ContextBundle is the situational state for one workflow. Bundles are
// immutable once published: every merge builds a new bundle and swaps it in
// atomically.
type ContextBundle struct {
	WorkflowID string                    `json:"workflow_id"`
	Components map[string]ComponentEntry `json:"components"`
	Version    uint64                    `json:"version"`
	CreatedAt  time.Time                 `json:"created_at"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

// Clone returns a deep copy of the bundle.
func (b *ContextBundle) Clone() *ContextBundle {
	if b == nil {
		return nil
	}
	out := &ContextBundle{
		WorkflowID: b.WorkflowID,
		Version:    b.Version,
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
		Components: make(map[string]ComponentEntry, len(b.Components)),
	}
	for name, entry := range b.Components {
		out.Components[name] = entry.clone()
	}
	return out
}

// OldestVerified returns the oldest LastVerified timestamp among the
// bundle's components, or the zero time when the bundle is empty.
func (b *ContextBundle) OldestVerified() time.Time {
	var oldest time.Time
	for _, entry := range b.Components {
		if oldest.IsZero() || entry.LastVerified.Before(oldest) {
			oldest = entry.LastVerified
		}
	}
	return oldest
}
