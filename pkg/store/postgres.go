package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wesheets/trustfabric/pkg/contracts"

	_ "github.com/lib/pq"
)

// PostgresStore is a durable SQL-based Store for shared deployments.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgresStore connects with the given DSN and migrates the schema.
func OpenPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	s := NewPostgresStore(db)
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Migrate creates the records table if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS records (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		data BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (kind, id)
	)`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, kind, id string) ([]byte, error) {
	row := s.db.QueryRowContext(ctx, `SELECT data FROM records WHERE kind = $1 AND id = $2`, kind, id)
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", kind, id, contracts.ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

func (s *PostgresStore) Put(ctx context.Context, kind, id string, data []byte) error {
	query := `
	INSERT INTO records (kind, id, data, updated_at) VALUES ($1, $2, $3, $4)
	ON CONFLICT (kind, id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`
	_, err := s.db.ExecContext(ctx, query, kind, id, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, kind, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE kind = $1 AND id = $2`, kind, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, contracts.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Scan(ctx context.Context, kind string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM records WHERE kind = $1 ORDER BY id ASC`, kind)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
