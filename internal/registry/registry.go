package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"honeyguard/internal/metrics"
	"honeyguard/internal/types"
	"log/slog"
	"math"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrAlreadyBlocked = errors.New("registry: address already blocked")
	ErrInvalidRecord  = errors.New("registry: invalid record")
)

// Registry is the durable set of blocked addresses. Reads are served from an
// in-memory mirror kept consistent with the database under the write lock.
type Registry struct {
	mu      sync.RWMutex
	db      *sql.DB
	records map[string]types.BlockRecord
	logger  *slog.Logger
}

// Open loads every committed record from db
func Open(ctx context.Context, db *sql.DB, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		db:      db,
		records: make(map[string]types.BlockRecord),
		logger:  logger,
	}

	rows, err := db.QueryContext(ctx, "SELECT source_ip, blocked_at, risk_score, threat, rationale FROM blocks")
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec types.BlockRecord
		if err := rows.Scan(&rec.SourceIP, &rec.BlockedAt, &rec.RiskScore, &rec.Threat, &rec.Rationale); err != nil {
			logger.Warn("skipping unreadable registry row", "error", err)
			continue
		}
		r.records[rec.SourceIP] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}

	metrics.RegistrySize.Set(float64(len(r.records)))
	return r, nil
}

// Has reports whether ip is recorded as blocked
func (r *Registry) Has(ip string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[ip]
	return ok
}

// Get returns the record for ip
func (r *Registry) Get(ip string) (types.BlockRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[ip]
	return rec, ok
}

// Len returns the number of blocked addresses
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// List returns all records, most recently blocked first
func (r *Registry) List() []types.BlockRecord {
	r.mu.RLock()
	out := make([]types.BlockRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockedAt.Equal(out[j].BlockedAt) {
			return out[i].SourceIP < out[j].SourceIP
		}
		return out[i].BlockedAt.After(out[j].BlockedAt)
	})
	return out
}

// Insert durably records rec. It never overwrites: an existing record for the
// same address yields ErrAlreadyBlocked. The mirror is only updated after the
// transaction commits.
func (r *Registry) Insert(ctx context.Context, rec types.BlockRecord) error {
	if err := validate(rec); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.SourceIP]; ok {
		return ErrAlreadyBlocked
	}
	if err := r.insertTx(ctx, rec); err != nil {
		return err
	}
	r.records[rec.SourceIP] = rec
	metrics.RegistrySize.Set(float64(len(r.records)))
	return nil
}

func (r *Registry) insertTx(ctx context.Context, rec types.BlockRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin registry write: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO blocks (source_ip, blocked_at, risk_score, threat, rationale) VALUES (?, ?, ?, ?, ?)",
		rec.SourceIP, rec.BlockedAt.UTC(), rec.RiskScore, rec.Threat, rec.Rationale,
	)
	if err != nil {
		return fmt.Errorf("write registry record for %s: %w", rec.SourceIP, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit registry record for %s: %w", rec.SourceIP, err)
	}
	return nil
}

func validate(rec types.BlockRecord) error {
	switch {
	case rec.SourceIP == "":
		return fmt.Errorf("%w: empty source_ip", ErrInvalidRecord)
	case rec.BlockedAt.IsZero():
		return fmt.Errorf("%w: zero blocked_at", ErrInvalidRecord)
	case math.IsNaN(rec.RiskScore) || math.IsInf(rec.RiskScore, 0):
		return fmt.Errorf("%w: risk_score not finite", ErrInvalidRecord)
	}
	return nil
}

// legacyRecord is one entry of the older JSON registry file
type legacyRecord struct {
	BlockedAt string  `json:"blocked_at"`
	RiskScore float64 `json:"risk_score"`
	Threat    *string `json:"threat"`
	Rationale *string `json:"rationale"`
}

// ImportJSON imports a JSON registry of the form {ip: {blocked_at, risk_score,
// threat, rationale}}. Keys are canonicalised; existing records are kept and
// entries with an invalid address or timestamp are skipped. Returns the number of records imported.
func (r *Registry) ImportJSON(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read legacy registry: %w", err)
	}

	var legacy map[string]legacyRecord
	if err := json.Unmarshal(data, &legacy); err != nil {
		return 0, fmt.Errorf("decode legacy registry: %w", err)
	}

	ips := make([]string, 0, len(legacy))
	for ip := range legacy {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	imported := 0
	for _, key := range ips {
		lr := legacy[key]
		addr := net.ParseIP(strings.TrimSpace(key))
		if addr == nil {
			r.logger.Warn("skipping legacy record with invalid address", "ip", key)
			continue
		}
		// Stored in the same form the controller looks addresses up by
		ip := addr.String()

		blockedAt, err := time.Parse(time.RFC3339Nano, lr.BlockedAt)
		if err != nil {
			r.logger.Warn("skipping legacy record with bad timestamp", "ip", ip, "blocked_at", lr.BlockedAt)
			continue
		}

		rec := types.BlockRecord{
			SourceIP:  ip,
			BlockedAt: blockedAt.UTC(),
			RiskScore: lr.RiskScore,
			Threat:    deref(lr.Threat),
			Rationale: deref(lr.Rationale),
		}
		switch err := r.Insert(ctx, rec); {
		case err == nil:
			imported++
		case errors.Is(err, ErrAlreadyBlocked):
		case errors.Is(err, ErrInvalidRecord):
			r.logger.Warn("skipping invalid legacy record", "ip", ip, "error", err)
		default:
			return imported, err
		}
	}
	return imported, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
