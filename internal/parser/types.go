package parser

import (
	"errors"
	"fmt"
)

// Kind classifies a decoded log line
type Kind int

const (
	KindIgnored Kind = iota
	KindCommand
	KindSessionClosed
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindSessionClosed:
		return "session_closed"
	default:
		return "ignored"
	}
}

var (
	ErrEmptyLine        = errors.New("empty line")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

// NormalizationError reports a raw event that could not be normalized
type NormalizationError struct {
	Field string
	Value string
	Err   error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}
