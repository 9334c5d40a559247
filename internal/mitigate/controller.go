package mitigate

import (
	"context"
	"errors"
	"fmt"
	"honeyguard/internal/action"
	"honeyguard/internal/classify"
	"honeyguard/internal/metrics"
	"honeyguard/internal/registry"
	"honeyguard/internal/types"
	"log/slog"
	"math"
	"net"
	"strings"
	"sync"
	"time"
)

// DefaultThreshold is the risk score at and above which an address is blocked
const DefaultThreshold = 7.0

// Outcome of an enforcement attempt
type Outcome string

const (
	Blocked               Outcome = "blocked"
	SkippedBelowThreshold Outcome = "skipped_below_threshold"
	SkippedAlreadyBlocked Outcome = "skipped_already_blocked"
	SkippedMissingAddress Outcome = "skipped_missing_address"
	SkippedAllowlisted    Outcome = "skipped_allowlisted"
	SkippedInvalidAddress Outcome = "skipped_invalid_address"
)

// Decision is the result of Enforce. Record is set only for Blocked.
type Decision struct {
	Outcome   Outcome            `json:"outcome"`
	SourceIP  string             `json:"source_ip"`
	RiskScore float64            `json:"risk_score"`
	Threshold float64            `json:"threshold"`
	Record    *types.BlockRecord `json:"record,omitempty"`
}

// Blocked reports whether this decision newly blocked the address
func (d Decision) Blocked() bool {
	return d.Outcome == Blocked
}

// PersistenceError means the block could not be durably recorded. The address
// must not be reported as blocked.
type PersistenceError struct {
	SourceIP string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist block for %s: %v", e.SourceIP, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Registry is the durable store of blocked addresses
type Registry interface {
	Has(ip string) bool
	Insert(ctx context.Context, rec types.BlockRecord) error
}

// Options configures the controller policy
type Options struct {
	Threshold float64
	Allowlist []string
	Now       func() time.Time
}

// Controller decides whether a classified address is blocked and makes sure
// the block happens at most once per address.
type Controller struct {
	registry Registry
	blocker  action.Blocker
	logger   *slog.Logger
	now      func() time.Time
	locks    *keyLock

	mu        sync.RWMutex
	threshold float64
	allowlist map[string]bool
}

func NewController(reg Registry, blocker action.Blocker, opts Options, logger *slog.Logger) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Controller{
		registry: reg,
		blocker:  blocker,
		logger:   logger,
		now:      opts.Now,
		locks:    newKeyLock(),
	}
	c.SetPolicy(opts.Threshold, opts.Allowlist)
	return c
}

// SetPolicy replaces threshold and allowlist; safe to call while enforcing
func (c *Controller) SetPolicy(threshold float64, allowlist []string) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	allow := make(map[string]bool, len(allowlist))
	for _, a := range allowlist {
		if ip := net.ParseIP(strings.TrimSpace(a)); ip != nil {
			allow[ip.String()] = true
		}
	}

	c.mu.Lock()
	c.threshold = threshold
	c.allowlist = allow
	c.mu.Unlock()
}

// Threshold returns the current blocking threshold
func (c *Controller) Threshold() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.threshold
}

// Enforce applies policy to a classification of sourceIP. Skips are normal
// outcomes and return a nil error; a *PersistenceError is returned when the
// block could not be recorded.
func (c *Controller) Enforce(ctx context.Context, res classify.Result, sourceIP string) (Decision, error) {
	c.mu.RLock()
	threshold := c.threshold
	allowlist := c.allowlist
	c.mu.RUnlock()

	d := Decision{SourceIP: sourceIP, RiskScore: res.RiskScore, Threshold: threshold}

	addr := strings.TrimSpace(sourceIP)
	if addr == "" || addr == types.Unknown {
		c.logger.Info("no source address, skipping mitigation", "risk_score", res.RiskScore)
		return c.decide(d, SkippedMissingAddress), nil
	}

	// NaN compares false against everything; never let it through
	if math.IsNaN(res.RiskScore) || res.RiskScore < threshold {
		return c.decide(d, SkippedBelowThreshold), nil
	}

	parsed := net.ParseIP(addr)
	if parsed == nil {
		c.logger.Warn("source address is not an IP, skipping mitigation", "source_ip", addr)
		return c.decide(d, SkippedInvalidAddress), nil
	}
	ip := parsed.String()
	d.SourceIP = ip

	if allowlist[ip] {
		c.logger.Info("address allowlisted, skipping mitigation", "source_ip", ip, "risk_score", res.RiskScore)
		return c.decide(d, SkippedAllowlisted), nil
	}

	unlock := c.locks.Lock(ip)
	defer unlock()

	if c.registry.Has(ip) {
		return c.decide(d, SkippedAlreadyBlocked), nil
	}

	// Finish the transition even if the caller is shutting down
	ctx = context.WithoutCancel(ctx)

	if err := c.blocker.Block(ctx, ip); err != nil {
		metrics.BlockActionFailures.Inc()
		c.logger.Error("block action failed, recording address as blocked anyway",
			"source_ip", ip, "error", err)
	}

	rec := types.BlockRecord{
		SourceIP:  ip,
		BlockedAt: c.now().UTC(),
		RiskScore: res.RiskScore,
		Threat:    res.Threat,
		Rationale: res.Rationale,
	}
	if err := c.registry.Insert(ctx, rec); err != nil {
		if errors.Is(err, registry.ErrAlreadyBlocked) {
			return c.decide(d, SkippedAlreadyBlocked), nil
		}
		metrics.PersistenceFailures.WithLabelValues("registry").Inc()
		metrics.DecisionsTotal.WithLabelValues("persistence_failed").Inc()
		return Decision{}, &PersistenceError{SourceIP: ip, Err: err}
	}

	d.Record = &rec
	c.logger.Info("blocked address", "source_ip", ip, "risk_score", res.RiskScore, "threat", res.Threat)
	return c.decide(d, Blocked), nil
}

func (c *Controller) decide(d Decision, o Outcome) Decision {
	d.Outcome = o
	metrics.DecisionsTotal.WithLabelValues(string(o)).Inc()
	return d
}
