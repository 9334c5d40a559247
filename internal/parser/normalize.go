package parser

import (
	"honeyguard/internal/types"
	"strings"
	"time"
)

// Accepted timestamp layouts, tried in order. Naive layouts are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Normalize validates a raw event and reshapes it into a NormalizedEvent.
// The timestamp must parse; missing identifying fields become types.Unknown.
func Normalize(raw types.RawEvent) (types.NormalizedEvent, error) {
	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return types.NormalizedEvent{}, &NormalizationError{Field: "timestamp", Value: raw.Timestamp, Err: err}
	}

	return types.NormalizedEvent{
		SessionID:  orUnknown(raw.Session),
		SourceIP:   orUnknown(raw.SrcIP),
		OccurredAt: ts,
		Command:    orUnknown(raw.Command),
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidTimestamp
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrInvalidTimestamp
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return types.Unknown
	}
	return s
}
