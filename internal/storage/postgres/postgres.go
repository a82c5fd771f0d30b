// Package postgres implements storage on a PostgreSQL table using pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/hashicorp/go-hclog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"statestore/internal/storage"
	"statestore/internal/version"
)

// DefaultTable is used when no table name is configured.
const DefaultTable = "state_entries"

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config configures a PostgreSQL store.
type Config struct {
	ConnString string
	Table      string
}

// Store is a Storage backed by a PostgreSQL table.
type Store struct {
	pool   *pgxpool.Pool
	table  string
	logger hclog.Logger
}

var _ storage.Storage = (*Store)(nil)

// Open connects to the database and creates the table if needed.
func Open(ctx context.Context, cfg Config, logger hclog.Logger) (*Store, error) {
	if cfg.ConnString == "" {
		return nil, fmt.Errorf("postgres: connection string is required")
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if !tableNameRe.MatchString(cfg.Table) {
		return nil, fmt.Errorf("postgres: invalid table name %q", cfg.Table)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	pool, err := pgxpool.New(ctx, cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	s := &Store{pool: pool, table: cfg.Table, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Debug("connected", "table", cfg.Table)
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		name TEXT NOT NULL PRIMARY KEY,
		version BYTEA NOT NULL,
		value BYTEA NOT NULL
	)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("postgres: create table %s: %w", s.table, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, name string) (*storage.Entry, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}

	var rawVersion, value []byte
	query := fmt.Sprintf(`SELECT version, value FROM %s WHERE name = $1`, s.table)
	err := s.pool.QueryRow(ctx, query, name).Scan(&rawVersion, &value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %q: %w", name, err)
	}

	tok, err := version.FromBytes(rawVersion)
	if err != nil {
		return nil, fmt.Errorf("postgres: corrupt entry %q: %w", name, err)
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

	update := fmt.Sprintf(`UPDATE %s SET version = $1, value = $2 WHERE name = $3 AND version = $4`, s.table)
	tag, err := s.pool.Exec(ctx, update, next.Bytes(), value, name, expected.Bytes())
	if err != nil {
		return version.Nil, false, fmt.Errorf("postgres: update %q: %w", name, err)
	}
	if tag.RowsAffected() == 1 {
		return next, true, nil
	}

	insert := fmt.Sprintf(`INSERT INTO %s (name, version, value) VALUES ($1, $2, $3) ON CONFLICT (name) DO NOTHING`, s.table)
	tag, err = s.pool.Exec(ctx, insert, name, next.Bytes(), value)
	if err != nil {
		return version.Nil, false, fmt.Errorf("postgres: insert %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return version.Nil, false, nil
	}
	return next, true, nil
}

func (s *Store) Delete(ctx context.Context, name string, expected version.Token) (bool, error) {
	if err := storage.ValidateName(name); err != nil {
		return false, err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE name = $1 AND version = $2`, s.table)
	tag, err := s.pool.Exec(ctx, query, name, expected.Bytes())
	if err != nil {
		return false, fmt.Errorf("postgres: delete %q: %w", name, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Names(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT name FROM %s ORDER BY name`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list names: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: list names: %w", err)
	}
	return names, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
