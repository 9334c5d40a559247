package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"honeyguard/internal/logging"
	"honeyguard/internal/storage"
	"honeyguard/internal/types"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), path)
	require.NoError(t, err)
	return db
}

func record(ip string, score float64) types.BlockRecord {
	return types.BlockRecord{
		SourceIP:  ip,
		BlockedAt: time.Date(2025, 7, 1, 14, 33, 0, 0, time.UTC),
		RiskScore: score,
		Threat:    "Malware Dropper",
		Rationale: "downloads and runs a payload",
	}
}

func TestRegistry_InsertAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hg.db")
	ctx := context.Background()

	db := openDB(t, path)
	reg, err := Open(ctx, db, logging.Discard())
	require.NoError(t, err)

	require.NoError(t, reg.Insert(ctx, record("10.0.0.5", 9)))
	assert.True(t, reg.Has("10.0.0.5"))
	assert.Equal(t, 1, reg.Len())
	require.NoError(t, db.Close())

	// Restart
	db = openDB(t, path)
	defer db.Close()
	reg, err = Open(ctx, db, logging.Discard())
	require.NoError(t, err)

	got, ok := reg.Get("10.0.0.5")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", got.SourceIP)
	assert.True(t, got.BlockedAt.Equal(record("", 0).BlockedAt))
	assert.Equal(t, 9.0, got.RiskScore)
	assert.Equal(t, "Malware Dropper", got.Threat)
	assert.Equal(t, "downloads and runs a payload", got.Rationale)
}

func TestRegistry_NeverOverwrites(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, filepath.Join(t.TempDir(), "hg.db"))
	defer db.Close()
	reg, err := Open(ctx, db, logging.Discard())
	require.NoError(t, err)

	require.NoError(t, reg.Insert(ctx, record("10.0.0.5", 9)))

	second := record("10.0.0.5", 10)
	second.Threat = "Something Else"
	assert.ErrorIs(t, reg.Insert(ctx, second), ErrAlreadyBlocked)

	got, _ := reg.Get("10.0.0.5")
	assert.Equal(t, 9.0, got.RiskScore)
	assert.Equal(t, "Malware Dropper", got.Threat)
}

func TestRegistry_RejectsInvalid(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, filepath.Join(t.TempDir(), "hg.db"))
	defer db.Close()
	reg, err := Open(ctx, db, logging.Discard())
	require.NoError(t, err)

	assert.ErrorIs(t, reg.Insert(ctx, record("", 9)), ErrInvalidRecord)
	assert.ErrorIs(t, reg.Insert(ctx, record("10.0.0.5", math.NaN())), ErrInvalidRecord)
	rec := record("10.0.0.5", 9)
	rec.BlockedAt = time.Time{}
	assert.ErrorIs(t, reg.Insert(ctx, rec), ErrInvalidRecord)
	assert.Equal(t, 0, reg.Len())
}

func copyFile(t *testing.T, src, dst string) {
	t.Helper()
	data, err := os.ReadFile(src)
	if os.IsNotExist(err) {
		return
	}
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dst, data, 0600))
}

func TestRegistry_CrashMidWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hg.db")
	ctx := context.Background()

	db := openDB(t, path)
	defer db.Close()
	reg, err := Open(ctx, db, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, reg.Insert(ctx, record("10.0.0.1", 8)))

	// A write that has not committed when the process dies
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, "INSERT INTO blocks (source_ip, blocked_at, risk_score, threat, rationale) VALUES (?, ?, ?, ?, ?)",
		"10.0.0.2", time.Now().UTC(), 9.5, "Half", "written")
	require.NoError(t, err)

	// Snapshot the on-disk state at the moment of the crash
	crashed := filepath.Join(dir, "crashed.db")
	copyFile(t, path, crashed)
	copyFile(t, path+"-wal", crashed+"-wal")

	cdb := openDB(t, crashed)
	defer cdb.Close()
	reg, err = Open(ctx, cdb, logging.Discard())
	require.NoError(t, err)

	assert.Equal(t, 1, reg.Len())
	assert.True(t, reg.Has("10.0.0.1"))
	assert.False(t, reg.Has("10.0.0.2"))
	for _, rec := range reg.List() {
		assert.NotEmpty(t, rec.SourceIP)
		assert.False(t, rec.BlockedAt.IsZero())
		assert.NotEmpty(t, rec.Threat)
	}
}

func TestRegistry_FailedWriteLeavesMirrorUnchanged(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, filepath.Join(t.TempDir(), "hg.db"))
	reg, err := Open(ctx, db, logging.Discard())
	require.NoError(t, err)

	require.NoError(t, db.Close())
	err = reg.Insert(ctx, record("10.0.0.5", 9))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAlreadyBlocked))
	assert.False(t, reg.Has("10.0.0.5"))
}

func TestRegistry_ConcurrentInsertSameAddress(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, filepath.Join(t.TempDir(), "hg.db"))
	defer db.Close()
	reg, err := Open(ctx, db, logging.Discard())
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := reg.Insert(ctx, record("10.0.0.5", float64(i%10))); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM blocks").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRegistry_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, filepath.Join(t.TempDir(), "hg.db"))
	defer db.Close()
	reg, err := Open(ctx, db, logging.Discard())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		rec := record(fmt.Sprintf("10.0.0.%d", i), 8)
		rec.BlockedAt = rec.BlockedAt.Add(time.Duration(i) * time.Minute)
		require.NoError(t, reg.Insert(ctx, rec))
	}

	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, "10.0.0.2", list[0].SourceIP)
	assert.Equal(t, "10.0.0.0", list[2].SourceIP)
}

func TestRegistry_ImportJSON(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, filepath.Join(t.TempDir(), "hg.db"))
	defer db.Close()
	reg, err := Open(ctx, db, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, reg.Insert(ctx, record("192.168.1.50", 9.9)))

	legacy := filepath.Join(t.TempDir(), "blocked_ips.json")
	require.NoError(t, os.WriteFile(legacy, []byte(`{
  "192.168.1.50": {"blocked_at": "2025-07-01T14:32:10.123456Z", "risk_score": 8.7, "threat": "Credential Stuffing", "rationale": "x"},
  "192.168.1.51": {"blocked_at": "2025-07-01T15:00:00Z", "risk_score": 7.0, "threat": null, "rationale": null},
  "192.168.1.52": {"blocked_at": "garbage", "risk_score": 9},
  "2001:DB8::1": {"blocked_at": "2025-07-01T15:00:00Z", "risk_score": 8},
  "2001:db8:0:0:0:0:0:1": {"blocked_at": "2025-07-01T16:00:00Z", "risk_score": 9},
  "not-an-ip": {"blocked_at": "2025-07-01T15:00:00Z", "risk_score": 8}
}`), 0600))

	n, err := reg.ImportJSON(ctx, legacy)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	v6, ok := reg.Get("2001:db8::1")
	require.True(t, ok)
	assert.Equal(t, 8.0, v6.RiskScore)
	assert.False(t, reg.Has("2001:DB8::1"))
	assert.False(t, reg.Has("not-an-ip"))
	assert.Equal(t, 3, reg.Len())

	kept, _ := reg.Get("192.168.1.50")
	assert.Equal(t, 9.9, kept.RiskScore)
	assert.True(t, reg.Has("192.168.1.51"))
	assert.False(t, reg.Has("192.168.1.52"))
}
