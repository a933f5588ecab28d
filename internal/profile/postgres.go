package profile

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps profile documents in a JSONB column keyed by slug.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmt := `CREATE TABLE IF NOT EXISTS portfolio_profiles (
		slug TEXT PRIMARY KEY,
		document JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("init schema failed on %q: %w", stmt, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, slug string) (Document, error) {
	var raw string
	err := s.pool.QueryRow(ctx,
		`SELECT document::text FROM portfolio_profiles WHERE slug = $1`, slug,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, fmt.Errorf("%w: %q", ErrNotFound, slug)
	}
	if err != nil {
		return Document{}, fmt.Errorf("load profile: %w", err)
	}
	return Parse([]byte(raw))
}

func (s *PostgresStore) Put(ctx context.Context, slug string, doc Document) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO portfolio_profiles (slug, document, updated_at)
		 VALUES ($1, $2::jsonb, now())
		 ON CONFLICT (slug) DO UPDATE SET document = EXCLUDED.document, updated_at = now()`,
		slug, doc.JSON(),
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// splitSlug removes the profile query parameter so it is not forwarded to
// the database as a runtime parameter.
func splitSlug(source string) (string, string, error) {
	u, err := url.Parse(source)
	if err != nil {
		return "", "", fmt.Errorf("parse profile source: %w", err)
	}
	q := u.Query()
	slug := q.Get("profile")
	if slug == "" {
		slug = DefaultSlug
	}
	q.Del("profile")
	u.RawQuery = q.Encode()
	return u.String(), slug, nil
}
