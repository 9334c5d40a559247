package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"honeyguard/internal/metrics"
	"honeyguard/internal/prompt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxResponseBytes caps how much of a response body is read
const maxResponseBytes = 64 << 10

// Options configures an HTTP classifier
type Options struct {
	URL         string
	Token       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// HTTPClient sends classification requests to a remote LLM endpoint
type HTTPClient struct {
	url         string
	token       string
	maxTokens   int
	temperature float64
	client      *http.Client
}

func NewHTTPClient(opts Options) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 256
	}
	return &HTTPClient{
		url:         opts.URL,
		token:       opts.Token,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
	}
}

// InferenceRequest is the payload sent to the classifier
type InferenceRequest struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// inferenceResponse holds the only fields read from a reply. Everything else
// in the body is ignored.
type inferenceResponse struct {
	Threat    json.RawMessage `json:"threat"`
	RiskScore json.RawMessage `json:"risk_score"`
	Action    json.RawMessage `json:"action"`
	Rationale json.RawMessage `json:"rationale"`
}

// Classify posts the prompt and validates the reply. Every error returned is a *Failure.
func (c *HTTPClient) Classify(ctx context.Context, req prompt.Request) (Result, error) {
	start := time.Now()
	res, err := c.classify(ctx, req)
	metrics.ClassificationDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ClassificationsTotal.WithLabelValues(ReasonOf(err)).Inc()
		return Result{}, err
	}
	metrics.ClassificationsTotal.WithLabelValues("ok").Inc()
	metrics.RiskScores.Observe(res.RiskScore)
	return res, nil
}

func (c *HTTPClient) classify(ctx context.Context, req prompt.Request) (Result, error) {
	body, err := json.Marshal(InferenceRequest{
		Prompt:      req.Prompt,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return Result{}, &Failure{Reason: ReasonTransport, Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, &Failure{Reason: ReasonTransport, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return Result{}, &Failure{Reason: ReasonTimeout, Err: err}
		}
		return Result{}, &Failure{Reason: ReasonTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return Result{}, &Failure{
			Reason:     ReasonStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("classifier returned status: %s", resp.Status),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		if isTimeout(err) {
			return Result{}, &Failure{Reason: ReasonTimeout, Err: err}
		}
		return Result{}, &Failure{Reason: ReasonTransport, Err: err}
	}
	if len(raw) > maxResponseBytes {
		return Result{}, &Failure{Reason: ReasonDecode, Err: fmt.Errorf("response exceeds %d bytes", maxResponseBytes)}
	}

	return ParseResponse(raw)
}

// ParseResponse validates a classifier reply body into a Result.
// risk_score must be present and numeric (a JSON number or a numeric string);
// the text fields are optional but must be strings when present.
func ParseResponse(raw []byte) (Result, error) {
	var r inferenceResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return Result{}, &Failure{Reason: ReasonDecode, Err: fmt.Errorf("decode response: %w", err)}
	}

	score, err := coerceScore(r.RiskScore)
	if err != nil {
		return Result{}, &Failure{Reason: ReasonInvalidRiskScore, Err: err}
	}

	var res Result
	res.RiskScore = score
	for _, f := range []struct {
		name string
		raw  json.RawMessage
		dst  *string
	}{
		{"threat", r.Threat, &res.Threat},
		{"action", r.Action, &res.Action},
		{"rationale", r.Rationale, &res.Rationale},
	} {
		s, err := optionalString(f.raw)
		if err != nil {
			return Result{}, &Failure{Reason: ReasonDecode, Err: fmt.Errorf("field %s: %w", f.name, err)}
		}
		*f.dst = s
	}
	return res, nil
}

func coerceScore(raw json.RawMessage) (float64, error) {
	if isAbsent(raw) {
		return 0, ErrMissingRiskScore
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, fmt.Errorf("risk_score: %w", err)
		}
		text = strings.TrimSpace(text)
	}

	score, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("risk_score %s is not numeric", truncate(string(raw), 32))
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("risk_score %s is not finite", truncate(string(raw), 32))
	}
	return score, nil
}

func optionalString(raw json.RawMessage) (string, error) {
	if isAbsent(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", errors.New("not a string")
	}
	return s, nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
