// Package notify sends block alerts to chat webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"honeyguard/internal/mitigate"
	"honeyguard/internal/sink"
	"honeyguard/internal/types"
	"log/slog"
	"net/http"
	"time"
)

// Discord posts an alert for every newly blocked address. Other messages are
// ignored.
type Discord struct {
	webhook string
	client  *http.Client
	logger  *slog.Logger
}

func NewDiscord(webhook string, logger *slog.Logger) *Discord {
	return &Discord{
		webhook: webhook,
		client:  &http.Client{Timeout: 5 * time.Second},
		logger:  logger,
	}
}

// Name implements sink.Publisher
func (d *Discord) Name() string { return "discord" }

// Publish implements sink.Publisher
func (d *Discord) Publish(ctx context.Context, msg sink.Message) error {
	if msg.Topic != sink.TopicBlockDecision {
		return nil
	}
	rec, ok := msg.Data.(types.DecisionRecord)
	if !ok || rec.Outcome != string(mitigate.Blocked) {
		return nil
	}

	body, err := json.Marshal(discordMsg{Content: formatAlert(rec)})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhook, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send discord alert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}
	d.logger.Debug("discord alert sent", "source_ip", rec.SourceIP)
	return nil
}

type discordMsg struct {
	Content string `json:"content"`
}

func formatAlert(rec types.DecisionRecord) string {
	score := 0.0
	if rec.RiskScore != nil {
		score = *rec.RiskScore
	}
	return fmt.Sprintf("**[%s] honeyguard blocked %s**\n**Threat**: %s\n**Risk**: %.1f (threshold %.1f)\n**Session**: %s (%d commands)\n\n`%s`",
		rec.DecidedAt.UTC().Format("15:04:05"), rec.SourceIP, rec.Threat, score, rec.Threshold,
		rec.SessionID, rec.Commands, rec.Rationale)
}
