package postgres

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timeprofiler/internal/storage"
	"github.com/timeprofiler/internal/storage/storetest"
)

func TestReadDatabaseURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local settings\nOTHER=1\nDATABASE_URL = \"postgres://u:p@localhost/tp?sslmode=disable\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	got, err := readDatabaseURL(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@localhost/tp?sslmode=disable", got)
}

func TestReadDatabaseURLMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("OTHER=1\n"), 0o600))

	_, err := readDatabaseURL(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("DATABASE_URL=''\n"), 0o600))
	_, err = readDatabaseURL(path)
	require.ErrorContains(t, err, "empty")
}

func TestFindEnvFileWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("DATABASE_URL=x\n"), 0o600))

	got, err := findEnvFile(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".env"), got)
}

func TestLoadDatabaseURLPrefersEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/db")
	got, err := LoadDatabaseURL()
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", got)
}

func TestPostgresStoreCompliance(t *testing.T) {
	dsn := os.Getenv("TIMEPROFILER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TIMEPROFILER_TEST_POSTGRES_DSN not set")
	}
	storetest.Run(t, func(t *testing.T) storage.Store {
		s, err := New(context.Background(), dsn)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
