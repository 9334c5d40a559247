package classify

import (
	"context"
	"errors"
	"fmt"
	"honeyguard/internal/prompt"
)

// Classifier judges a session's command timeline
type Classifier interface {
	Classify(ctx context.Context, req prompt.Request) (Result, error)
}

// Result is a fully validated classifier verdict. It is never partially populated.
type Result struct {
	Threat    string  `json:"threat"`
	RiskScore float64 `json:"risk_score"`
	Action    string  `json:"action"`
	Rationale string  `json:"rationale"`
}

// Failure reasons
const (
	ReasonTransport        = "transport"
	ReasonTimeout          = "timeout"
	ReasonStatus           = "status"
	ReasonDecode           = "decode"
	ReasonInvalidRiskScore = "invalid_risk_score"
)

var ErrMissingRiskScore = errors.New("risk_score missing")

// Failure reports that the classifier could not produce a Result: the service
// was unreachable, timed out, answered with a non-success status or returned a
// body that does not conform.
type Failure struct {
	Reason     string
	StatusCode int // set for ReasonStatus
	Err        error
}

func (f *Failure) Error() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("classification failed (%s %d): %v", f.Reason, f.StatusCode, f.Err)
	}
	return fmt.Sprintf("classification failed (%s): %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// ReasonOf returns the failure reason of err, or "" when err is not a Failure
func ReasonOf(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return ""
}
