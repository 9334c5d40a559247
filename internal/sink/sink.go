// Package sink records command events and decisions durably and fans them out
// to live consumers.
package sink

import (
	"context"
	"database/sql"
	"honeyguard/internal/metrics"
	"honeyguard/internal/types"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Topic names a stream of published messages
type Topic string

const (
	TopicCommandEvent  Topic = "command_event"
	TopicBlockDecision Topic = "block_decision"
)

// Message is the envelope handed to every Publisher
type Message struct {
	ID        string    `json:"id"`
	Topic     Topic     `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Publisher delivers messages to one live consumer. Implementations ignore
// topics they do not care about.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, msg Message) error
}

const (
	DefaultQueueSize      = 1024
	DefaultPublishTimeout = 5 * time.Second
)

// Options tunes the publish queue
type Options struct {
	QueueSize      int
	PublishTimeout time.Duration
	Now            func() time.Time
}

// Sink writes to the database first and then publishes asynchronously. No
// method ever returns an error to the caller: failures are logged and counted.
type Sink struct {
	db         *sql.DB
	logger     *slog.Logger
	publishers []Publisher
	queue      chan Message
	timeout    time.Duration
	now        func() time.Time
}

// New builds a sink over db. db may be nil to publish without persisting.
func New(db *sql.DB, logger *slog.Logger, opts Options, publishers ...Publisher) *Sink {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sink{
		db:         db,
		logger:     logger,
		publishers: publishers,
		queue:      make(chan Message, opts.QueueSize),
		timeout:    opts.PublishTimeout,
		now:        opts.Now,
	}
}

// RecordEvent persists a normalized command event and publishes it
func (s *Sink) RecordEvent(ctx context.Context, evt types.NormalizedEvent) {
	if s.db != nil {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO events (occurred_at, session_id, source_ip, command, received_at) VALUES (?, ?, ?, ?, ?)`,
			evt.OccurredAt.UTC(), evt.SessionID, evt.SourceIP, evt.Command, s.now().UTC())
		if err != nil {
			metrics.PersistenceFailures.WithLabelValues("events").Inc()
			s.logger.Error("persist event failed", "session_id", evt.SessionID, "error", err)
		}
	}
	s.enqueue(TopicCommandEvent, evt)
}

// RecordDecision persists a decision record and publishes it
func (s *Sink) RecordDecision(ctx context.Context, rec types.DecisionRecord) {
	if s.db != nil {
		var score sql.NullFloat64
		if rec.RiskScore != nil {
			score = sql.NullFloat64{Float64: *rec.RiskScore, Valid: true}
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO decisions (decided_at, session_id, source_ip, outcome, risk_score, threat, rationale, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.DecidedAt.UTC(), rec.SessionID, rec.SourceIP, rec.Outcome, score, rec.Threat, rec.Rationale, rec.Error)
		if err != nil {
			metrics.PersistenceFailures.WithLabelValues("decisions").Inc()
			s.logger.Error("persist decision failed", "session_id", rec.SessionID, "error", err)
		}
	}
	s.enqueue(TopicBlockDecision, rec)
}

func (s *Sink) enqueue(topic Topic, data any) {
	if len(s.publishers) == 0 {
		return
	}
	msg := Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Timestamp: s.now().UTC(),
		Data:      data,
	}
	select {
	case s.queue <- msg:
	default:
		metrics.PublishDropped.WithLabelValues("queue").Inc()
		s.logger.Warn("publish queue full, dropping message", "topic", topic)
	}
}

// Run delivers queued messages until ctx is cancelled, then delivers whatever
// is still queued and returns.
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case msg := <-s.queue:
			s.deliver(msg)
		case <-ctx.Done():
			for {
				select {
				case msg := <-s.queue:
					s.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) deliver(msg Message) {
	for _, p := range s.publishers {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := p.Publish(ctx, msg)
		cancel()
		if err != nil {
			metrics.PublishDropped.WithLabelValues(p.Name()).Inc()
			s.logger.Warn("publish failed", "publisher", p.Name(), "topic", msg.Topic, "error", err)
		}
	}
}

// Pending reports how many messages are waiting for delivery
func (s *Sink) Pending() int {
	return len(s.queue)
}
