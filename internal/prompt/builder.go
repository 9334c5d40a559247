package prompt

import (
	"errors"
	"fmt"
	"honeyguard/internal/session"
	"strings"
	"time"
)

// TimeLayout is how command times are rendered in the prompt (always UTC)
const TimeLayout = "2006-01-02 15:04:05"

var ErrEmptyTimeline = errors.New("prompt: empty timeline")

// Entry is one numbered command of the timeline
type Entry struct {
	Index      int
	Command    string
	OccurredAt time.Time
}

// Request is the classification request derived from a session timeline
type Request struct {
	SessionID string
	SourceIP  string // source address of the first event
	Entries   []Entry
	Prompt    string
}

const instructions = "Think step-by-step and determine if this sequence is malicious. " +
	"If malicious, label the threat category, assign a 0-10 risk score, " +
	"and recommend an action (e.g., Block IP).\n" +
	"Respond with a single JSON object with the keys " +
	`"threat" (string), "risk_score" (number), "action" (string) and "rationale" (string).` + "\n"

// Build renders a timeline into a classification request. The output depends
// only on the timeline.
func Build(tl session.Timeline) (Request, error) {
	if len(tl.Events) == 0 {
		return Request{}, ErrEmptyTimeline
	}

	req := Request{
		SessionID: tl.SessionID,
		SourceIP:  tl.Events[0].SourceIP,
		Entries:   make([]Entry, len(tl.Events)),
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session ID: %s\n", req.SessionID)
	fmt.Fprintf(&b, "Source IP: %s\n", req.SourceIP)
	b.WriteString("---\n")
	b.WriteString("Command Timeline:\n")
	for i, evt := range tl.Events {
		e := Entry{Index: i + 1, Command: evt.Command, OccurredAt: evt.OccurredAt.UTC()}
		req.Entries[i] = e
		fmt.Fprintf(&b, "%d. %s  (%s)\n", e.Index, e.Command, e.OccurredAt.Format(TimeLayout))
	}
	b.WriteString("\n")
	b.WriteString(instructions)

	req.Prompt = b.String()
	return req, nil
}
