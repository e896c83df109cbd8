package slack

import (
	"context"
	"fmt"
	"net/http"

	"github.com/slack-go/slack"

	"github.com/linnemanlabs/perch/internal/relay"
)

// Webhook posts messages to a Slack incoming webhook. Webhooks cannot thread,
// so Deliver always returns an empty thread ref.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook sink. If url is empty, Deliver is a no-op.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: newHTTPClient(),
	}
}

// Deliver implements relay.Sink.
func (w *Webhook) Deliver(ctx context.Context, msg relay.Message) (string, error) {
	if w.url == "" {
		return "", nil
	}

	err := slack.PostWebhookCustomHTTPContext(ctx, w.url, w.client, &slack.WebhookMessage{ //nolint:gosec // G704: url is from trusted config, not user input
		Channel:   msg.Channel,
		Username:  msg.Sender,
		IconEmoji: msg.Icon,
		Text:      truncate(msg.Text, maxTextLen),
	})
	if err != nil {
		return "", fmt.Errorf("slack: post webhook for %s: %w", msg.Channel, err)
	}
	return "", nil
}
