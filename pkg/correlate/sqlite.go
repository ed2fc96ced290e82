package correlate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

const (
	summaryTable       = "correlation_summaries"
	summaryMemberTable = "correlation_summary_records"
)

// SQLiteSummaryStore persists correlation summaries. Superseded rows keep
// their superseded_by marker and are never deleted.
type SQLiteSummaryStore struct {
	db *sql.DB
}

// NewSQLiteSummaryStore creates a SQLite-backed summary store and ensures schema.
func NewSQLiteSummaryStore(db *sql.DB) (*SQLiteSummaryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureSummarySchema(db); err != nil {
		return nil, err
	}
	return &SQLiteSummaryStore{db: db}, nil
}

func ensureSummarySchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			strength REAL NOT NULL,
			created_at INTEGER NOT NULL,
			superseded_by TEXT NOT NULL DEFAULT '',
			summary_json BLOB NOT NULL
		);`, summaryTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_active ON %s(superseded_by);`, summaryTable, summaryTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			summary_id TEXT NOT NULL,
			record_id TEXT NOT NULL,
			PRIMARY KEY(summary_id, record_id)
		);`, summaryMemberTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_record ON %s(record_id);`, summaryMemberTable, summaryMemberTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Save inserts the summaries in one transaction. Any still-active summary
// sharing a participating record with a new one is marked superseded by it.
func (s *SQLiteSummaryStore) Save(ctx context.Context, summaries []*Summary) error {
	if len(summaries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, summary := range summaries {
		if err := s.saveOne(ctx, tx, summary); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteSummaryStore) saveOne(ctx context.Context, tx *sql.Tx, summary *Summary) error {
	if len(summary.ParticipatingRecordIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(summary.ParticipatingRecordIDs)), ",")
		args := []any{summary.ID}
		for _, id := range summary.ParticipatingRecordIDs {
			args = append(args, id)
		}
		args = append(args, summary.ID)
		_, err := tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET superseded_by = ?
			 WHERE superseded_by = ''
			   AND id IN (SELECT summary_id FROM %s WHERE record_id IN (%s))
			   AND id != ?`,
			summaryTable, summaryMemberTable, placeholders), args...)
		if err != nil {
			return err
		}
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (id, kind, strength, created_at, superseded_by, summary_json) VALUES (?, ?, ?, ?, ?, ?)",
		summaryTable),
		summary.ID, summary.Kind, summary.Strength, summary.CreatedAt.UTC().UnixMilli(), summary.SupersededBy, payload)
	if err != nil {
		return err
	}
	for _, recordID := range summary.ParticipatingRecordIDs {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			"INSERT OR IGNORE INTO %s (summary_id, record_id) VALUES (?, ?)", summaryMemberTable),
			summary.ID, recordID); err != nil {
			return err
		}
	}
	return nil
}

// Active returns summaries not yet superseded, strongest first.
func (s *SQLiteSummaryStore) Active(ctx context.Context) ([]*Summary, error) {
	return s.query(ctx, " WHERE superseded_by = ''")
}

// All returns every summary including superseded rows.
func (s *SQLiteSummaryStore) All(ctx context.Context) ([]*Summary, error) {
	return s.query(ctx, "")
}

func (s *SQLiteSummaryStore) query(ctx context.Context, where string) ([]*Summary, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT summary_json, superseded_by FROM %s%s ORDER BY strength DESC, id ASC", summaryTable, where))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Summary
	for rows.Next() {
		var payload []byte
		var supersededBy string
		if err := rows.Scan(&payload, &supersededBy); err != nil {
			return nil, err
		}
		var summary Summary
		if err := json.Unmarshal(payload, &summary); err != nil {
			return nil, err
		}
		// The column is authoritative: it is updated after the JSON
		// blob was written.
		summary.SupersededBy = supersededBy
		out = append(out, &summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
