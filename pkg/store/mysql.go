package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore persists seen fingerprints in a MySQL table, adapted from the
// teacher's MySQLEndpoint's sqlx connection pattern.
type MySQLStore struct {
	db    *sqlx.DB
	table string
}

// NewMySQLStore opens dsn and ensures the dedup table exists.
func NewMySQLStore(ctx context.Context, dsn, table string) (*MySQLStore, error) {
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store/mysql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store/mysql: ping: %w", err)
	}

	s := &MySQLStore{db: db, table: table}
	ddl := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (fingerprint VARCHAR(64) PRIMARY KEY, recorded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP)",
		table,
	)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("store/mysql: ensure table: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) SeenFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	var exists int
	err := s.db.GetContext(ctx, &exists, fmt.Sprintf("SELECT 1 FROM %s WHERE fingerprint = ?", s.table), fingerprint)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store/mysql: seen: %w", err)
	}
	return true, nil
}

func (s *MySQLStore) RecordFingerprint(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("INSERT IGNORE INTO %s (fingerprint) VALUES (?)", s.table), fingerprint)
	if err != nil {
		return fmt.Errorf("store/mysql: record: %w", err)
	}
	return nil
}

func (s *MySQLStore) Close() error { return s.db.Close() }

var _ Store = (*MySQLStore)(nil)
