package profile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"Ada","projects":[{"title":"Engine"}]}`), 0o600))

	doc, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Ada","projects":[{"title":"Engine"}]}`, doc.JSON())
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	yml := "name: Ada\nskills:\n  - Go\n  - Postgres\neducation:\n  school: Cambridge\n"
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	doc, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, `{"education":{"school":"Cambridge"},"name":"Ada","skills":["Go","Postgres"]}`, doc.JSON())
	assert.Equal(t, "Ada", doc.Name())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSQLiteRoundTripThroughLoad(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "folio.db")
	source := "sqlite://" + dbPath + "?profile=me"

	store, slug, err := OpenStore(ctx, source)
	require.NoError(t, err)
	assert.Equal(t, "me", slug)

	doc, err := Parse([]byte(`{"name":"Ada","roles":["engineer"]}`))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, slug, doc))

	updated, err := Parse([]byte(`{"name":"Ada L.","roles":["engineer"]}`))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, slug, updated))
	require.NoError(t, store.Close())

	got, err := Load(ctx, source)
	require.NoError(t, err)
	assert.Equal(t, updated.JSON(), got.JSON())
}

func TestSQLiteMissingSlug(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "folio.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.Get(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSplitSlugStripsProfileParam(t *testing.T) {
	dsn, slug, err := splitSlug("postgres://u:p@localhost:5432/folio?sslmode=disable&profile=me")
	require.NoError(t, err)
	assert.Equal(t, "me", slug)
	assert.Equal(t, "postgres://u:p@localhost:5432/folio?sslmode=disable", dsn)

	_, slug, err = splitSlug("postgres://localhost/folio")
	require.NoError(t, err)
	assert.Equal(t, DefaultSlug, slug)
}

func TestPostgresRoundTrip(t *testing.T) {
	databaseURL := os.Getenv("FOLIO_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("FOLIO_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := NewPostgresStore(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	doc, err := Parse([]byte(`{"name":"Ada"}`))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "test-roundtrip", doc))

	got, err := store.Get(ctx, "test-roundtrip")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name())
}
