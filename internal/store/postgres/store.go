// Package postgres implements the tabular store on PostgreSQL through
// the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/schemarag/schemarag/internal/store"
)

type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store dsn is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping store db: %w", err)
	}

	return &Store{db: db}, nil
}

type Store struct {
	db *sql.DB
}

// NewWithDB wraps an existing handle; used by tests and ingestion.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for ingestion tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping store db: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListColumns(ctx context.Context, table string) ([]string, error) {
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("table is required")
	}
	query := `
SELECT column_name
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position`
	rows, err := s.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("list columns for %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column name: %w", err)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}

func (s *Store) Retrieve(ctx context.Context, table string, columns []string, rowLimit int) (store.RowSet, error) {
	if len(columns) == 0 {
		return store.RowSet{}, fmt.Errorf("at least one column is required")
	}
	if rowLimit < 1 {
		return store.RowSet{}, fmt.Errorf("row limit must be >= 1, got %d", rowLimit)
	}

	known, err := s.ListColumns(ctx, table)
	if err != nil {
		return store.RowSet{}, err
	}
	knownSet := make(map[string]struct{}, len(known))
	for _, name := range known {
		knownSet[name] = struct{}{}
	}
	quoted := make([]string, len(columns))
	for i, name := range columns {
		if _, ok := knownSet[name]; !ok {
			return store.RowSet{}, fmt.Errorf("column %q in table %q: %w", name, table, store.ErrUnknownColumn)
		}
		quoted[i] = store.QuoteIdent(name)
	}

	query := fmt.Sprintf("SELECT %s FROM %s LIMIT $1",
		strings.Join(quoted, ", "), store.QuoteIdent(table))
	rows, err := s.db.QueryContext(ctx, query, rowLimit)
	if err != nil {
		return store.RowSet{}, fmt.Errorf("retrieve rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	resultRows := make([][]any, 0, rowLimit)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return store.RowSet{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, store.NormalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return store.RowSet{}, fmt.Errorf("iterate rows: %w", err)
	}

	selected := make([]string, len(columns))
	copy(selected, columns)
	return store.RowSet{Columns: selected, Rows: resultRows}, nil
}
