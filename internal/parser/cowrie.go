package parser

import (
	"encoding/json"
	"fmt"
	"honeyguard/internal/types"
	"strings"
)

// Cowrie event ids the pipeline cares about
const (
	cowrieCommandInput  = "cowrie.command.input"
	cowrieSessionClosed = "cowrie.session.closed"
)

// line is the union of the canonical event shape and Cowrie's JSON log. Field
// values are decoded by text so one wrongly typed field does not lose the event.
type line struct {
	EventID   string          `json:"eventid"`
	Timestamp json.RawMessage `json:"timestamp"`
	Session   json.RawMessage `json:"session"`
	SrcIP     json.RawMessage `json:"src_ip"`
	Command   json.RawMessage `json:"command"`
	Input     json.RawMessage `json:"input"` // Cowrie puts the typed command here
}

// DecodeLine decodes one JSON log line into a raw event.
//
// Lines without an eventid are taken as the canonical
// {timestamp, session, src_ip, command} shape. Cowrie lines are accepted for
// command input and session close; every other Cowrie event is KindIgnored.
func DecodeLine(s string) (types.RawEvent, Kind, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.RawEvent{}, KindIgnored, ErrEmptyLine
	}

	var l line
	if err := json.Unmarshal([]byte(s), &l); err != nil {
		return types.RawEvent{}, KindIgnored, fmt.Errorf("decode event line: %w", err)
	}

	raw := types.RawEvent{
		Timestamp: text(l.Timestamp),
		Session:   text(l.Session),
		SrcIP:     text(l.SrcIP),
		Command:   text(l.Command),
	}

	switch l.EventID {
	case "":
		return raw, KindCommand, nil
	case cowrieCommandInput:
		if in := text(l.Input); in != "" {
			raw.Command = in
		}
		return raw, KindCommand, nil
	case cowrieSessionClosed:
		return raw, KindSessionClosed, nil
	default:
		return raw, KindIgnored, nil
	}
}

// text returns a JSON string field's value. Absent and null fields are empty;
// any other non-string value becomes types.Unknown.
func text(v json.RawMessage) string {
	if len(v) == 0 || string(v) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return types.Unknown
	}
	return s
}
