package settings

import (
	"context"
	"fmt"

	"github.com/dharsanguruparan/HashDrop/internal/database"
)

// PostgresStore reads the settings table on every call, overlaying the
// configured defaults. Rows for unknown keys are ignored.
type PostgresStore struct {
	db       database.DBTX
	defaults map[string]string
}

// NewPostgresStore constructs a PostgresStore. overrides replace the
// built-in Defaults for keys that have no row yet.
func NewPostgresStore(db database.DBTX, overrides map[string]string) *PostgresStore {
	defaults := Defaults()
	for k, v := range overrides {
		defaults[k] = v
	}
	return &PostgresStore{db: db, defaults: defaults}
}

// Policy implements Provider.
func (s *PostgresStore) Policy(ctx context.Context) (Policy, error) {
	values, err := s.List(ctx)
	if err != nil {
		return Policy{}, err
	}
	return Parse(values)
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context) (map[string]string, error) {
	values := make(map[string]string, len(s.defaults))
	for k, v := range s.defaults {
		values[k] = v
	}
	rows, err := s.db.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("select settings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		if _, known := s.defaults[key]; known {
			values[key] = value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settings: %w", err)
	}
	return values, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	if _, ok := s.defaults[key]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	values, err := s.List(ctx)
	if err != nil {
		return "", err
	}
	return values[key], nil
}

// Set implements Store.
func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	if err := Validate(key, value); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}
