// Package phabricator talks to a Phabricator install: it resolves repository
// callsigns through the Conduit API and parses feed story text.
package phabricator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/go-core/log"
)

var tracer = otel.Tracer("github.com/linnemanlabs/perch/internal/phabricator")

// ErrConduit is returned when Conduit answers with an error code.
var ErrConduit = errors.New("phabricator: conduit error")

const defaultTimeout = 15 * time.Second

// Client is a minimal Conduit API client.
type Client struct {
	host       string
	token      string
	httpClient *http.Client
	logger     log.Logger
}

// New returns a Client for the install at host (for example
// "https://phabricator.example.org") authenticating with an API token.
func New(host, token string, logger log.Logger) (*Client, error) {
	if host == "" {
		return nil, errors.New("phabricator: host is required")
	}
	if _, err := url.Parse(host); err != nil {
		return nil, fmt.Errorf("phabricator: invalid host: %w", err)
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Client{
		host:  strings.TrimRight(host, "/"),
		token: token,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}, nil
}

// Host returns the install's base URL without a trailing slash.
func (c *Client) Host() string { return c.host }

type conduitResponse struct {
	Result    json.RawMessage `json:"result"`
	ErrorCode *string         `json:"error_code"`
	ErrorInfo *string         `json:"error_info"`
}

type repository struct {
	PHID     string `json:"phid"`
	Callsign string `json:"callsign"`
}

type revision struct {
	RepositoryPHID string `json:"repositoryPHID"`
}

// ResolveCallsigns returns the callsigns of every repository whose remote URI
// matches one of repoURLs. URLs that match nothing are ignored.
func (c *Client) ResolveCallsigns(ctx context.Context, repoURLs []string) ([]string, error) {
	var repos []repository
	if err := c.call(ctx, "repository.query", map[string]any{"remoteURIs": repoURLs}, &repos); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(repos))
	out := make([]string, 0, len(repos))
	for _, r := range repos {
		if r.Callsign == "" {
			continue
		}
		if _, dup := seen[r.Callsign]; dup {
			continue
		}
		seen[r.Callsign] = struct{}{}
		out = append(out, r.Callsign)
	}
	return out, nil
}

// CallsignForDiff returns the callsign of the repository a revision belongs
// to, or "" when the revision or its repository is unknown.
func (c *Client) CallsignForDiff(ctx context.Context, diffID int) (string, error) {
	var revs []revision
	if err := c.call(ctx, "differential.query", map[string]any{"ids": []int{diffID}}, &revs); err != nil {
		return "", err
	}
	if len(revs) == 0 || revs[0].RepositoryPHID == "" {
		return "", nil
	}

	var repos []repository
	if err := c.call(ctx, "repository.query", map[string]any{"phids": []string{revs[0].RepositoryPHID}}, &repos); err != nil {
		return "", err
	}
	if len(repos) == 0 {
		c.logger.Info(ctx, "unable to determine repository callsign", "repository_phid", revs[0].RepositoryPHID)
		return "", nil
	}
	return repos[0].Callsign, nil
}

// call invokes a Conduit method and decodes its result into out.
func (c *Client) call(ctx context.Context, method string, params map[string]any, out any) error {
	ctx, span := tracer.Start(ctx, "conduit."+method)
	defer span.End()
	span.SetAttributes(attribute.String("conduit.method", method))

	err := c.do(ctx, method, params, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) do(ctx context.Context, method string, params map[string]any, out any) error {
	body := make(map[string]any, len(params)+1)
	for k, v := range params {
		body[k] = v
	}
	body["__conduit__"] = map[string]string{"token": c.token}

	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}

	form := url.Values{}
	form.Set("params", string(encoded))
	form.Set("output", "json")
	form.Set("__conduit__", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/"+method, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: host is from trusted config
	if err != nil {
		return fmt.Errorf("conduit %s failed: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20)) // 5 MB
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("conduit %s returned %d: %s", method, resp.StatusCode, truncate(string(raw), 512))
	}

	var cr conduitResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if cr.ErrorCode != nil && *cr.ErrorCode != "" {
		info := ""
		if cr.ErrorInfo != nil {
			info = *cr.ErrorInfo
		}
		return fmt.Errorf("%w: %s: %s: %s", ErrConduit, method, *cr.ErrorCode, info)
	}
	if len(cr.Result) == 0 || string(cr.Result) == "null" {
		return nil
	}
	if err := decodeList(cr.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// decodeList accepts a Conduit result that is either a JSON list or an object
// keyed by id or phid, as older methods return.
func decodeList(raw json.RawMessage, out any) error {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		return json.Unmarshal(raw, out)
	}

	var byKey map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byKey); err != nil {
		return err
	}
	items := make([]json.RawMessage, 0, len(byKey))
	for _, v := range byKey {
		items = append(items, v)
	}
	list, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return json.Unmarshal(list, out)
}

// truncate caps s at limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
