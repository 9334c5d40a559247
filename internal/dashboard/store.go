package dashboard

import (
	"context"
	"database/sql"
	"time"
)

// EventStore is the read side of the event and decision history
type EventStore interface {
	ListEvents(ctx context.Context, limit int) ([]EventRecord, error)
	ListDecisions(ctx context.Context, limit int) ([]DecisionRecord, error)
	GetStats(ctx context.Context) (*Stats, error)
}

// EventRecord is a stored command event
type EventRecord struct {
	ID         int64     `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	SessionID  string    `json:"session_id"`
	SourceIP   string    `json:"source_ip"`
	Command    string    `json:"command"`
}

// DecisionRecord is a stored classification outcome
type DecisionRecord struct {
	ID        int64     `json:"id"`
	DecidedAt time.Time `json:"decided_at"`
	SessionID string    `json:"session_id"`
	SourceIP  string    `json:"source_ip"`
	Outcome   string    `json:"outcome"`
	RiskScore *float64  `json:"risk_score,omitempty"`
	Threat    string    `json:"threat,omitempty"`
	Rationale string    `json:"rationale,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Stats represents dashboard statistics
type Stats struct {
	TotalEvents    int            `json:"total_events"`
	TotalSessions  int            `json:"total_sessions"`
	TotalDecisions int            `json:"total_decisions"`
	BlockedCount   int            `json:"blocked_count"`
	Outcomes       map[string]int `json:"outcomes"`
	TopAttackers   []TopAttacker  `json:"top_attackers"`
}

// TopAttacker represents an address with its command count
type TopAttacker struct {
	IP       string `json:"ip"`
	Commands int    `json:"commands"`
}

// SQLiteStore implements EventStore over the honeyguard database
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// ListEvents returns the most recent command events, newest first
func (s *SQLiteStore) ListEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, occurred_at, session_id, source_ip, command
		FROM events
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []EventRecord{}
	for rows.Next() {
		var e EventRecord
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.SessionID, &e.SourceIP, &e.Command); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListDecisions returns the most recent decisions, newest first
func (s *SQLiteStore) ListDecisions(ctx context.Context, limit int) ([]DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, decided_at, session_id, source_ip, outcome, risk_score,
			COALESCE(threat, ''), COALESCE(rationale, ''), COALESCE(error, '')
		FROM decisions
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	decisions := []DecisionRecord{}
	for rows.Next() {
		var (
			d     DecisionRecord
			score sql.NullFloat64
		)
		if err := rows.Scan(&d.ID, &d.DecidedAt, &d.SessionID, &d.SourceIP, &d.Outcome, &score,
			&d.Threat, &d.Rationale, &d.Error); err != nil {
			return nil, err
		}
		if score.Valid {
			d.RiskScore = &score.Float64
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// GetStats returns dashboard statistics
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Outcomes: map[string]int{}, TopAttackers: []TopAttacker{}}

	counts := []struct {
		query string
		dst   *int
	}{
		{"SELECT COUNT(*) FROM events", &stats.TotalEvents},
		{"SELECT COUNT(DISTINCT session_id) FROM events", &stats.TotalSessions},
		{"SELECT COUNT(*) FROM decisions", &stats.TotalDecisions},
		{"SELECT COUNT(*) FROM blocks", &stats.BlockedCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, err
		}
	}

	rows, err := s.db.QueryContext(ctx, "SELECT outcome, COUNT(*) FROM decisions GROUP BY outcome")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.Outcomes[outcome] = n
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT source_ip, COUNT(*) AS n
		FROM events
		WHERE source_ip != 'unknown'
		GROUP BY source_ip
		ORDER BY n DESC, source_ip
		LIMIT 5`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ta TopAttacker
		if err := rows.Scan(&ta.IP, &ta.Commands); err != nil {
			return nil, err
		}
		stats.TopAttackers = append(stats.TopAttackers, ta)
	}
	return stats, rows.Err()
}
