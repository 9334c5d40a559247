// Package pipeline wires ingest, session buffering, classification and
// mitigation together and decides when a session is classified.
package pipeline

import (
	"context"
	"errors"
	"honeyguard/internal/classify"
	"honeyguard/internal/metrics"
	"honeyguard/internal/mitigate"
	"honeyguard/internal/parser"
	"honeyguard/internal/prompt"
	"honeyguard/internal/session"
	"honeyguard/internal/types"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Outcomes recorded when no mitigation decision could be made
const (
	OutcomeClassificationFailed = "classification_failed"
	OutcomePersistenceFailed    = "persistence_failed"
)

// Classification triggers
const (
	TriggerSessionClosed = "session_closed"
	TriggerFull          = "full"
	TriggerEvicted       = "evicted"
	TriggerDue           = "due"
	TriggerShutdown      = "shutdown"
)

const (
	DefaultIdleTimeout  = 30 * time.Second
	DefaultMaxAge       = 5 * time.Minute
	DefaultScanInterval = time.Second
	DefaultWorkers      = 4
	DefaultQueueSize    = 64
)

// Enforcer applies mitigation policy to a classification
type Enforcer interface {
	Enforce(ctx context.Context, res classify.Result, sourceIP string) (mitigate.Decision, error)
	Threshold() float64
}

// Recorder persists and publishes events and decisions
type Recorder interface {
	RecordEvent(ctx context.Context, evt types.NormalizedEvent)
	RecordDecision(ctx context.Context, rec types.DecisionRecord)
}

// Auditor keeps the append-only decision trail
type Auditor interface {
	LogDecision(rec types.DecisionRecord) error
}

// Components are the collaborators a pipeline drives. Audit may be nil.
type Components struct {
	Buffer     *session.Buffer
	Classifier classify.Classifier
	Enforcer   Enforcer
	Recorder   Recorder
	Audit      Auditor
}

// Options controls the trigger policy and the worker pool
type Options struct {
	IdleTimeout  time.Duration
	MaxAge       time.Duration
	ScanInterval time.Duration
	Workers      int
	QueueSize    int
	Now          func() time.Time
}

// Pipeline turns log lines into mitigation decisions
type Pipeline struct {
	Components
	opts   Options
	logger *slog.Logger
	work   chan job
}

type job struct {
	timeline session.Timeline
	trigger  string
}

func New(c Components, opts Options, logger *slog.Logger) *Pipeline {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = DefaultScanInterval
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		Components: c,
		opts:       opts,
		logger:     logger,
		work:       make(chan job, opts.QueueSize),
	}
}

// Run consumes lines until ctx is cancelled or lines is closed. On the way
// out every buffered session is handed to the workers and Run waits until
// all of them have been classified and enforced.
func (p *Pipeline) Run(ctx context.Context, lines <-chan string) error {
	// Workers outlive ctx so in-flight and flushed sessions finish
	workCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range p.work {
				p.process(workCtx, j)
			}
		}()
	}

	ticker := time.NewTicker(p.opts.ScanInterval)
	defer ticker.Stop()

	p.logger.Info("pipeline started", "workers", p.opts.Workers,
		"idle_timeout", p.opts.IdleTimeout, "max_age", p.opts.MaxAge)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			p.HandleLine(workCtx, line)
		case <-ticker.C:
			p.Scan()
		}
	}

	flushed := p.Buffer.DrainAll()
	p.logger.Info("pipeline stopping, flushing buffered sessions", "sessions", len(flushed))
	for _, tl := range flushed {
		p.work <- job{timeline: tl, trigger: TriggerShutdown}
	}
	metrics.BufferedSessions.Set(0)
	close(p.work)
	wg.Wait()
	p.logger.Info("pipeline stopped")
	return nil
}

// HandleLine decodes one log line and buffers it. Lines that cannot be used
// are counted and reported in the returned error; they never stop the
// pipeline. HandleLine blocks while the worker queue is full.
func (p *Pipeline) HandleLine(ctx context.Context, line string) error {
	raw, kind, err := parser.DecodeLine(line)
	if err != nil {
		if errors.Is(err, parser.ErrEmptyLine) {
			return nil
		}
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		p.logger.Warn("dropping malformed line", "error", err)
		return err
	}

	switch kind {
	case parser.KindIgnored:
		return nil
	case parser.KindSessionClosed:
		id := strings.TrimSpace(raw.Session)
		if id == "" {
			id = types.Unknown
		}
		p.flush(id, TriggerSessionClosed)
		return nil
	}

	evt, err := parser.Normalize(raw)
	if err != nil {
		metrics.EventsDropped.WithLabelValues("invalid_timestamp").Inc()
		p.logger.Warn("dropping event", "session_id", raw.Session, "error", err)
		return err
	}

	p.Recorder.RecordEvent(ctx, evt)
	res := p.Buffer.Append(evt)
	metrics.EventsProcessed.Inc()

	if res.Evicted != nil {
		p.submit(*res.Evicted, TriggerEvicted)
	}
	if res.Full {
		p.flush(evt.SessionID, TriggerFull)
	}
	metrics.BufferedSessions.Set(float64(p.Buffer.Len()))
	return nil
}

// Scan drains every session that is idle or too old
func (p *Pipeline) Scan() {
	for _, id := range p.Buffer.Due(p.opts.IdleTimeout, p.opts.MaxAge) {
		p.flush(id, TriggerDue)
	}
	metrics.BufferedSessions.Set(float64(p.Buffer.Len()))
}

func (p *Pipeline) flush(sessionID, trigger string) {
	if tl, ok := p.Buffer.Drain(sessionID); ok {
		p.submit(tl, trigger)
	}
}

func (p *Pipeline) submit(tl session.Timeline, trigger string) {
	p.logger.Debug("queueing session for classification",
		"session_id", tl.SessionID, "commands", tl.Len(), "trigger", trigger)
	p.work <- job{timeline: tl, trigger: trigger}
}

// process classifies one timeline and enforces the verdict. A failed
// classification is recorded and the timeline is dropped.
func (p *Pipeline) process(ctx context.Context, j job) {
	req, err := prompt.Build(j.timeline)
	if err != nil {
		return
	}

	rec := types.DecisionRecord{
		SessionID: req.SessionID,
		SourceIP:  req.SourceIP,
		Threshold: p.Enforcer.Threshold(),
		Commands:  len(req.Entries),
	}

	res, err := p.Classifier.Classify(ctx, req)
	if err != nil {
		p.logger.Warn("classification failed, dropping session",
			"session_id", req.SessionID, "source_ip", req.SourceIP,
			"commands", len(req.Entries), "reason", classify.ReasonOf(err), "error", err)
		rec.Outcome = OutcomeClassificationFailed
		rec.Error = err.Error()
		p.record(ctx, rec)
		return
	}

	score := res.RiskScore
	rec.RiskScore = &score
	rec.Threat = res.Threat
	rec.Action = res.Action
	rec.Rationale = res.Rationale

	d, err := p.Enforcer.Enforce(ctx, res, req.SourceIP)
	if err != nil {
		p.logger.Error("enforcement failed", "session_id", req.SessionID,
			"source_ip", req.SourceIP, "error", err)
		rec.Outcome = OutcomePersistenceFailed
		rec.Error = err.Error()
		p.record(ctx, rec)
		return
	}

	rec.Outcome = string(d.Outcome)
	rec.SourceIP = d.SourceIP
	rec.Threshold = d.Threshold
	p.logger.Info("session classified", "session_id", req.SessionID, "source_ip", d.SourceIP,
		"trigger", j.trigger, "risk_score", res.RiskScore, "threat", res.Threat, "outcome", d.Outcome)
	p.record(ctx, rec)
}

func (p *Pipeline) record(ctx context.Context, rec types.DecisionRecord) {
	rec.DecidedAt = p.opts.Now().UTC()
	p.Recorder.RecordDecision(ctx, rec)
	if p.Audit == nil {
		return
	}
	if err := p.Audit.LogDecision(rec); err != nil {
		metrics.PersistenceFailures.WithLabelValues("audit").Inc()
		p.logger.Error("audit write failed", "session_id", rec.SessionID, "error", err)
	}
}
