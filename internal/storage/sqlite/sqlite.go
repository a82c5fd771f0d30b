// Package sqlite implements storage on an embedded SQLite database using the
// pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/hashicorp/go-hclog"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"statestore/internal/storage"
	"statestore/internal/version"
)

// DefaultTable is used when no table name is configured.
const DefaultTable = "state_entries"

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config configures a SQLite store.
type Config struct {
	Path  string // database file; ":memory:" is not supported across connections
	Table string
}

// Store is a Storage backed by one SQLite table. Compare-and-swap is
// expressed as single conditional statements, so no explicit transactions
// are needed.
type Store struct {
	db     *sql.DB
	table  string
	logger hclog.Logger
}

var _ storage.Storage = (*Store)(nil)

// Open opens the database and creates the table if needed.
func Open(ctx context.Context, cfg Config, logger hclog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if !tableNameRe.MatchString(cfg.Table) {
		return nil, fmt.Errorf("sqlite: invalid table name %q", cfg.Table)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	dsn := "file:" + cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}
	// SQLite admits a single writer at a time.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, table: cfg.Table, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("opened database", "path", cfg.Path, "table", cfg.Table)
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		name TEXT NOT NULL PRIMARY KEY,
		version BLOB NOT NULL,
		value BLOB NOT NULL
	)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("sqlite: create table %s: %w", s.table, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, name string) (*storage.Entry, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}

	var rawVersion, value []byte
	query := fmt.Sprintf(`SELECT version, value FROM %s WHERE name = ?`, s.table)
	err := s.db.QueryRowContext(ctx, query, name).Scan(&rawVersion, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get %q: %w", name, err)
	}

	tok, err := version.FromBytes(rawVersion)
	if err != nil {
		return nil, fmt.Errorf("sqlite: corrupt entry %q: %w", name, err)
	}
	return &storage.Entry{Name: name, Value: value, Version: tok}, nil
}

func (s *Store) Put(ctx context.Context, name string, expected version.Token, value []byte) (version.Token, bool, error) {
	if err := storage.ValidateName(name); err != nil {
		return version.Nil, false, err
	}
	if value == nil {
		value = []byte{}
	}
	next := version.New()

	update := fmt.Sprintf(`UPDATE %s SET version = ?, value = ? WHERE name = ? AND version = ?`, s.table)
	res, err := s.db.ExecContext(ctx, update, next.Bytes(), value, name, expected.Bytes())
	if err != nil {
		return version.Nil, false, fmt.Errorf("sqlite: update %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return version.Nil, false, fmt.Errorf("sqlite: update %q: %w", name, err)
	} else if n == 1 {
		return next, true, nil
	}

	// No row carried the expected version: either the name is absent, in
	// which case this write creates it, or the caller lost a race.
	insert := fmt.Sprintf(`INSERT INTO %s (name, version, value) VALUES (?, ?, ?) ON CONFLICT (name) DO NOTHING`, s.table)
	res, err = s.db.ExecContext(ctx, insert, name, next.Bytes(), value)
	if err != nil {
		return version.Nil, false, fmt.Errorf("sqlite: insert %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return version.Nil, false, fmt.Errorf("sqlite: insert %q: %w", name, err)
	}
	if n == 0 {
		return version.Nil, false, nil
	}
	return next, true, nil
}

func (s *Store) Delete(ctx context.Context, name string, expected version.Token) (bool, error) {
	if err := storage.ValidateName(name); err != nil {
		return false, err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE name = ? AND version = ?`, s.table)
	res, err := s.db.ExecContext(ctx, query, name, expected.Bytes())
	if err != nil {
		return false, fmt.Errorf("sqlite: delete %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: delete %q: %w", name, err)
	}
	return n == 1, nil
}

func (s *Store) Names(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT name FROM %s ORDER BY name`, s.table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlite: list names: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list names: %w", err)
	}
	return names, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
