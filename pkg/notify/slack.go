package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// Slack sends notifications via Slack incoming webhook.
type Slack struct {
	client     *resty.Client
	webhookURL string
}

// NewSlack creates a new Slack notifier.
func NewSlack(webhookURL string) *Slack {
	return &Slack{client: newClient(), webhookURL: webhookURL}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, n *Notification) error {
	summary := fmt.Sprintf("*Mode:* %s | *Forecasts:* %d", n.Mode, n.Count)
	if n.ModelType != "" {
		summary += fmt.Sprintf(" | *Model:* %s", n.ModelType)
	}
	if n.RunID != "" {
		summary += fmt.Sprintf("\n*Run:* `%s`", n.RunID)
	}
	if n.Body != "" {
		summary += "\n" + n.Body
	}

	payload := map[string]any{
		"text": n.Title,
		"blocks": []map[string]any{
			{
				"type": "header",
				"text": map[string]any{"type": "plain_text", "text": n.Title},
			},
			{
				"type": "section",
				"text": map[string]any{"type": "mrkdwn", "text": summary},
			},
		},
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(s.webhookURL)
	if err != nil {
		return fmt.Errorf("send slack webhook: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("slack webhook status %d", resp.StatusCode())
	}
	return nil
}
