package profile

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const DefaultSlug = "default"

// Store is a writable profile backend.
type Store interface {
	Get(ctx context.Context, slug string) (Document, error)
	Put(ctx context.Context, slug string, doc Document) error
	Close() error
}

// Load resolves source to a backend and reads one document from it.
//
//	profile.json | profile.yaml          local file
//	postgres://...?profile=<slug>        PostgreSQL
//	sqlite:///var/lib/folio.db?profile=  SQLite
func Load(ctx context.Context, source string) (Document, error) {
	source = strings.TrimSpace(source)
	if !isDatabaseSource(source) {
		return FileLoader{Path: source}.Load(ctx)
	}
	store, slug, err := OpenStore(ctx, source)
	if err != nil {
		return Document{}, err
	}
	defer store.Close()
	return store.Get(ctx, slug)
}

// OpenStore opens the database named by source and returns it with the
// requested slug.
func OpenStore(ctx context.Context, source string) (Store, string, error) {
	switch {
	case hasScheme(source, "postgres", "postgresql"):
		dsn, slug, err := splitSlug(source)
		if err != nil {
			return nil, "", err
		}
		store, err := NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, "", err
		}
		return store, slug, nil
	case hasScheme(source, "sqlite"):
		path, slug, err := sqlitePath(source)
		if err != nil {
			return nil, "", err
		}
		store, err := OpenSQLite(ctx, path)
		if err != nil {
			return nil, "", err
		}
		return store, slug, nil
	default:
		return nil, "", fmt.Errorf("profile source %q is not a database URL", source)
	}
}

func isDatabaseSource(source string) bool {
	return hasScheme(source, "postgres", "postgresql", "sqlite")
}

func hasScheme(source string, schemes ...string) bool {
	lower := strings.ToLower(source)
	for _, s := range schemes {
		if strings.HasPrefix(lower, s+"://") {
			return true
		}
	}
	return false
}

// sqlitePath maps sqlite:///abs/path.db and sqlite://rel.db
// to a driver path.
func sqlitePath(source string) (string, string, error) {
	u, err := url.Parse(source)
	if err != nil {
		return "", "", fmt.Errorf("parse profile source: %w", err)
	}
	slug := u.Query().Get("profile")
	if slug == "" {
		slug = DefaultSlug
	}
	path := u.Host + u.Path
	if path == "" {
		return "", "", fmt.Errorf("profile source %q has no database path", source)
	}
	return path, slug, nil
}
