package storage

import (
	"context"
	"honeyguard/internal/logging"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hg.db")

	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"blocks", "events", "decisions"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hg.db")

	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	db.Close()

	db, err = Open(context.Background(), path)
	require.NoError(t, err)
	db.Close()
}

func TestOpenOrRecover_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hg.db")
	garbage := []byte(strings.Repeat("this is definitely not sqlite ", 200))
	require.NoError(t, os.WriteFile(path, garbage, 0600))

	db, err := OpenOrRecover(context.Background(), path, logging.Discard())
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM blocks").Scan(&n))
	assert.Equal(t, 0, n)

	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	kept, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, garbage, kept)
}
