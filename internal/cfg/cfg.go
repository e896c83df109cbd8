package cfg

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/linnemanlabs/perch/internal/relay"
)

// Config adds perch-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	RelayConfigPath       string

	SlackBotToken   string
	SlackAPIURL     string
	SlackWebhookURL string
	SlackRate       float64
	SlackBurst      int

	PhabricatorHost  string
	PhabricatorToken string
	ResolverTimeout  time.Duration

	FeedToken string

	MessageTimeout    time.Duration
	EscalationTimeout time.Duration
	ThreadTimeout     time.Duration
	CalendarTimeZone  string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.RelayConfigPath, "relay-config", "", "path to the relay YAML file (empty = built-in defaults)")
	fs.StringVar(&c.SlackBotToken, "slack-bot-token", "", "Slack bot token for chat.postMessage (enables threading)")
	fs.StringVar(&c.SlackAPIURL, "slack-api-url", "", "Slack Web API base URL override, ending in /")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack incoming webhook URL (no threading)")
	fs.Float64Var(&c.SlackRate, "slack-rate", 1, "messages per second per Slack channel")
	fs.IntVar(&c.SlackBurst, "slack-burst", 3, "burst size per Slack channel")
	fs.StringVar(&c.PhabricatorHost, "phabricator-host", "", "Phabricator base URL, used for revision links and Conduit")
	fs.StringVar(&c.PhabricatorToken, "phabricator-token", "", "Conduit API token (empty = no callsign routing)")
	fs.DurationVar(&c.ResolverTimeout, "resolver-timeout", 30*time.Second, "time budget for resolving repository callsigns at startup")
	fs.StringVar(&c.FeedToken, "feed-token", "", "shared secret required on feed requests (empty = open)")
	fs.DurationVar(&c.MessageTimeout, "message-timeout", relay.DefaultMessageTimeout, "quiet gap after which an incident pings again")
	fs.DurationVar(&c.EscalationTimeout, "escalation-timeout", relay.DefaultEscalationTimeout, "time after a ping before bursts may ping again")
	fs.DurationVar(&c.ThreadTimeout, "thread-timeout", relay.DefaultThreadTimeout, "window in which incidents continue a channel's thread")
	fs.StringVar(&c.CalendarTimeZone, "calendar-timezone", relay.DefaultTimeZone, "IANA zone used to decide weekdays")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// One Slack transport at most
	if c.SlackBotToken != "" && c.SlackWebhookURL != "" {
		errs = append(errs, errors.New("set only one of SLACK_BOT_TOKEN and SLACK_WEBHOOK_URL"))
	}
	if c.SlackRate <= 0 {
		errs = append(errs, fmt.Errorf("invalid SLACK_RATE %v (must be > 0)", c.SlackRate))
	}
	if c.SlackBurst <= 0 {
		errs = append(errs, fmt.Errorf("invalid SLACK_BURST %d (must be >= 1)", c.SlackBurst))
	}

	// Conduit needs somewhere to go
	if c.PhabricatorToken != "" && c.PhabricatorHost == "" {
		errs = append(errs, errors.New("PHABRICATOR_HOST is required when PHABRICATOR_TOKEN is set"))
	}
	if c.ResolverTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid RESOLVER_TIMEOUT %v (must be > 0)", c.ResolverTimeout))
	}

	for name, d := range map[string]time.Duration{
		"MESSAGE_TIMEOUT":    c.MessageTimeout,
		"ESCALATION_TIMEOUT": c.EscalationTimeout,
		"THREAD_TIMEOUT":     c.ThreadTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("invalid %s %v (must be > 0)", name, d))
		}
	}

	if _, err := time.LoadLocation(c.CalendarTimeZone); err != nil || c.CalendarTimeZone == "" {
		errs = append(errs, fmt.Errorf("invalid CALENDAR_TIMEZONE %q", c.CalendarTimeZone))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
