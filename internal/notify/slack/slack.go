// Package slack delivers relay messages to Slack, either through the Web API
// as a bot user or through an incoming webhook.
package slack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/slack-go/slack"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/perch/internal/relay"
)

const (
	// Slack rejects chat.postMessage text above 40k characters.
	maxTextLen  = 40000
	httpTimeout = 10 * time.Second
)

// Options configures a Web API Client.
type Options struct {
	Token  string
	APIURL string // optional; must end in "/"

	// Per-channel pacing. Zero values select DefaultRate and DefaultBurst.
	Rate  float64
	Burst int

	HTTPClient *http.Client
	Logger     log.Logger
}

// Client posts messages with chat.postMessage. It can thread replies, so it
// returns the root ts of every message it sends.
type Client struct {
	api    *slack.Client
	pacer  *pacer
	logger log.Logger
}

// New returns a Client authenticated with opts.Token.
func New(opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, errors.New("slack: bot token is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = newHTTPClient()
	}

	apiOpts := []slack.Option{slack.OptionHTTPClient(opts.HTTPClient)}
	if opts.APIURL != "" {
		apiOpts = append(apiOpts, slack.OptionAPIURL(opts.APIURL))
	}

	return &Client{
		api:    slack.New(opts.Token, apiOpts...),
		pacer:  newPacer(opts.Rate, opts.Burst),
		logger: opts.Logger,
	}, nil
}

// Deliver implements relay.Sink. When msg.ThreadRef is set the message is
// posted as a reply and the same ref is returned; otherwise the new message's
// ts becomes the thread ref.
func (c *Client) Deliver(ctx context.Context, msg relay.Message) (string, error) {
	if err := c.pacer.wait(ctx, msg.Channel); err != nil {
		return "", fmt.Errorf("slack: pacing %s: %w", msg.Channel, err)
	}

	params := slack.NewPostMessageParameters()
	params.Username = msg.Sender
	params.IconEmoji = msg.Icon
	params.LinkNames = 1
	params.ThreadTimestamp = msg.ThreadRef

	_, ts, err := c.api.PostMessageContext(ctx, msg.Channel,
		slack.MsgOptionText(truncate(msg.Text, maxTextLen), false),
		slack.MsgOptionPostMessageParameters(params),
	)
	if err != nil {
		var rl *slack.RateLimitedError
		if errors.As(err, &rl) {
			c.logger.Warn(ctx, "slack rate limited", "channel", msg.Channel, "retry_after", rl.RetryAfter)
		}
		return "", fmt.Errorf("slack: post to %s: %w", msg.Channel, err)
	}

	if msg.ThreadRef != "" {
		return msg.ThreadRef, nil
	}
	return ts, nil
}

// truncate caps s at limit characters, cutting on a rune boundary.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	cut := 0
	for range limit - 3 {
		_, size := utf8.DecodeRuneInString(s[cut:])
		cut += size
	}
	return s[:cut] + "..."
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   httpTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
