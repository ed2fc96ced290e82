package contextstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/errors"
)

const bundleTable = "context_bundles"

// SQLitePersister persists bundle snapshots in a SQLite database, one row
// per workflow id, replaced on every merge/reset.
type SQLitePersister struct {
	db *sql.DB
}

// NewSQLitePersister creates a SQLite-backed persister and ensures schema.
func NewSQLitePersister(db *sql.DB) (*SQLitePersister, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureBundleSchema(db); err != nil {
		return nil, err
	}
	return &SQLitePersister{db: db}, nil
}

func ensureBundleSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			workflow_id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			bundle_json BLOB NOT NULL
		);`, bundleTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_updated ON %s(updated_at);`, bundleTable, bundleTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveBundle upserts the bundle snapshot.
func (p *SQLitePersister) SaveBundle(ctx context.Context, bundle *ContextBundle) error {
	if bundle == nil {
		return fmt.Errorf("bundle is nil")
	}
	payload, err := json.Marshal(bundle)
	if err != nil {
		return err
	}
	now := time.Now().UTC().UnixMilli()
	_, err = p.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (workflow_id, version, updated_at, bundle_json) VALUES (?, ?, ?, ?)
			ON CONFLICT(workflow_id) DO UPDATE SET version = excluded.version,
				updated_at = excluded.updated_at, bundle_json = excluded.bundle_json`, bundleTable),
		bundle.WorkflowID, int64(bundle.Version), now, payload)
	return err
}

// LoadBundle returns the persisted snapshot for a workflow, or NOT_FOUND.
func (p *SQLitePersister) LoadBundle(ctx context.Context, workflowID string) (*ContextBundle, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT bundle_json FROM %s WHERE workflow_id = ?", bundleTable),
		workflowID).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.New(errors.CodeNotFound, "no persisted bundle", nil).
				WithContext("workflow_id", workflowID)
		}
		return nil, err
	}
	var bundle ContextBundle
	if err := json.Unmarshal(payload, &bundle); err != nil {
		return nil, err
	}
	if bundle.Components == nil {
		bundle.Components = make(map[string]ComponentEntry)
	}
	return &bundle, nil
}
