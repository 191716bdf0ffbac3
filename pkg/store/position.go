package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
)

// PositionTracker persists a resumable source position (e.g. a MySQL
// binlog GTID set), keyed by source name, so a restarted dispatcher picks
// up where it left off instead of re-scanning from the current head.
// Trimmed from the teacher's pkg/position Tracker interface down to the
// one operation this module's CDC sources actually need.
type PositionTracker interface {
	SavePosition(ctx context.Context, source, position string) error
	LoadPosition(ctx context.Context, source string) (position string, found bool, err error)
}

// MemoryPositionTracker keeps positions in memory only; restarts always
// resume from the source's current head. Suitable for development and for
// sources (like the Kafka consumer group) that already checkpoint
// themselves and never consult a PositionTracker at all.
type MemoryPositionTracker struct {
	mu        sync.RWMutex
	positions map[string]string
}

func NewMemoryPositionTracker() *MemoryPositionTracker {
	return &MemoryPositionTracker{positions: make(map[string]string)}
}

func (t *MemoryPositionTracker) SavePosition(ctx context.Context, source, position string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions[source] = position
	return nil
}

func (t *MemoryPositionTracker) LoadPosition(ctx context.Context, source string) (string, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[source]
	return p, ok, nil
}

var _ PositionTracker = (*MemoryPositionTracker)(nil)

// MySQLPositionTracker persists positions in the same MySQL instance the
// dedup table can live in, via sqlx, matching MySQLStore's connection
// pattern.
type MySQLPositionTracker struct {
	db    *sqlx.DB
	table string
}

func NewMySQLPositionTracker(ctx context.Context, dsn, table string) (*MySQLPositionTracker, error) {
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store/position: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store/position: ping: %w", err)
	}

	t := &MySQLPositionTracker{db: db, table: table}
	ddl := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (source VARCHAR(128) PRIMARY KEY, position TEXT NOT NULL, updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP)",
		table,
	)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("store/position: ensure table: %w", err)
	}
	return t, nil
}

func (t *MySQLPositionTracker) SavePosition(ctx context.Context, source, position string) error {
	_, err := t.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (source, position) VALUES (?, ?) ON DUPLICATE KEY UPDATE position = VALUES(position)", t.table),
		source, position,
	)
	if err != nil {
		return fmt.Errorf("store/position: save: %w", err)
	}
	return nil
}

func (t *MySQLPositionTracker) LoadPosition(ctx context.Context, source string) (string, bool, error) {
	var position string
	err := t.db.GetContext(ctx, &position, fmt.Sprintf("SELECT position FROM %s WHERE source = ?", t.table), source)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store/position: load: %w", err)
	}
	return position, true, nil
}

func (t *MySQLPositionTracker) Close() error { return t.db.Close() }

var _ PositionTracker = (*MySQLPositionTracker)(nil)
