package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

const (
	recordTable = "knowledge_records"
	tagTable    = "knowledge_record_tags"
)

// SQLiteRecordStore persists knowledge records in a SQLite database. The
// record body is stored as a JSON blob; tags and source domain carry
// secondary indexes for the query surface. No UPDATE or DELETE statements
// exist here: the table is append-only.
type SQLiteRecordStore struct {
	db *sql.DB
}

// NewSQLiteRecordStore creates a SQLite-backed record store and ensures schema.
func NewSQLiteRecordStore(db *sql.DB) (*SQLiteRecordStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureRecordSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteRecordStore{db: db}, nil
}

func ensureRecordSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			record_id TEXT PRIMARY KEY,
			source_domain TEXT NOT NULL,
			captured_at INTEGER NOT NULL,
			record_json BLOB NOT NULL
		);`, recordTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_domain ON %s(source_domain);`, recordTable, recordTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_captured ON %s(captured_at);`, recordTable, recordTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			record_id TEXT NOT NULL,
			tag TEXT NOT NULL,
			PRIMARY KEY(record_id, tag)
		);`, tagTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_tag ON %s(tag);`, tagTable, tagTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Append persists a record and its tag index rows in one transaction.
func (s *SQLiteRecordStore) Append(ctx context.Context, record *KnowledgeRecord) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (record_id, source_domain, captured_at, record_json) VALUES (?, ?, ?, ?)", recordTable),
		record.RecordID, record.SourceDomain, record.CapturedAt.UTC().UnixMilli(), payload)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, tag := range record.Tags {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT OR IGNORE INTO %s (record_id, tag) VALUES (?, ?)", tagTable),
			record.RecordID, tag); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Query returns matching records ordered by capture time, newest first.
func (s *SQLiteRecordStore) Query(ctx context.Context, q Query) ([]*KnowledgeRecord, error) {
	var clauses []string
	var args []any

	if len(q.Tags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(q.Tags)), ",")
		clauses = append(clauses, fmt.Sprintf(
			"record_id IN (SELECT record_id FROM %s WHERE tag IN (%s))", tagTable, placeholders))
		for _, tag := range q.Tags {
			args = append(args, tag)
		}
	}
	if q.SourceDomain != "" {
		clauses = append(clauses, "source_domain = ?")
		args = append(args, q.SourceDomain)
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "captured_at >= ?")
		args = append(args, q.Since.UTC().UnixMilli())
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	query := fmt.Sprintf("SELECT record_json FROM %s%s ORDER BY captured_at DESC, record_id ASC", recordTable, where)
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*KnowledgeRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var record KnowledgeRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, err
		}
		out = append(out, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
