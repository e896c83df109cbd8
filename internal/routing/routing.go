// Package routing maps repositories, users and incident services to the
// Slack channels interested in them. A Table is built once at startup and is
// read-only afterwards.
package routing

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
)

var tracer = otel.Tracer("github.com/linnemanlabs/perch/internal/routing")

// DefaultRepositoryURLFormat turns a configured repository name into the
// remote URL the directory knows it by.
const DefaultRepositoryURLFormat = "git@github.com:Khan/{repo}"

// maxConcurrentResolves bounds directory lookups during Build.
const maxConcurrentResolves = 4

// Resolver maps repository remote URLs to the directory's callsigns.
type Resolver interface {
	ResolveCallsigns(ctx context.Context, repoURLs []string) ([]string, error)
}

// Config is the static routing input.
type Config struct {
	Repositories        map[string][]string // repository name -> channels
	Users               map[string][]string // user identity -> channels
	Services            map[string][]string // incident service name -> channels
	RepositoryURLFormat string              // "{repo}" is replaced by the repository name
}

// Table is an immutable routing directory.
type Table struct {
	callsigns    map[string][]string
	users        map[string][]string
	repositories map[string][]string
	services     map[string][]string
}

// Build resolves every configured repository to its callsigns and returns the
// finished table. A repository that fails to resolve is logged and skipped.
// A nil resolver yields a table without callsign routes.
func Build(ctx context.Context, cfg Config, resolver Resolver, logger log.Logger) (*Table, error) {
	if logger == nil {
		logger = log.Nop()
	}
	ctx, span := tracer.Start(ctx, "routing.Build")
	defer span.End()

	t := &Table{
		callsigns:    make(map[string][]string),
		users:        normalize(cfg.Users),
		repositories: normalize(cfg.Repositories),
		services:     normalize(cfg.Services),
	}
	if resolver == nil {
		logger.Info(ctx, "no callsign resolver configured, skipping callsign routes")
		return t, nil
	}

	format := cfg.RepositoryURLFormat
	if format == "" {
		format = DefaultRepositoryURLFormat
	}

	var (
		mu      sync.Mutex
		unioned = make(map[string]map[string]struct{})
		failed  int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentResolves)
	for repo, channels := range t.repositories {
		g.Go(func() error {
			url := strings.ReplaceAll(format, "{repo}", repo)
			callsigns, err := resolver.ResolveCallsigns(gctx, []string{url})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				logger.Warn(gctx, "callsign resolution failed, skipping repository", "repository", repo, "url", url, "error", err)
				return nil
			}
			for _, cs := range callsigns {
				set, ok := unioned[cs]
				if !ok {
					set = make(map[string]struct{})
					unioned[cs] = set
				}
				for _, ch := range channels {
					set[ch] = struct{}{}
				}
			}
			return nil
		})
	}
	// goroutines never return errors; failures are skipped above
	_ = g.Wait()

	for cs, set := range unioned {
		t.callsigns[cs] = sortedKeys(set)
	}

	span.SetAttributes(
		attribute.Int("perch.routing.repositories", len(t.repositories)),
		attribute.Int("perch.routing.callsigns", len(t.callsigns)),
		attribute.Int("perch.routing.failed", failed),
	)
	logger.Info(ctx, "routing table built",
		"repositories", len(t.repositories),
		"callsigns", len(t.callsigns),
		"users", len(t.users),
		"services", len(t.services),
		"failed", failed,
	)
	return t, nil
}

// ByCallsign returns the channels interested in a repository callsign.
func (t *Table) ByCallsign(callsign string) []string { return lookup(t.callsigns, callsign) }

// ByUser returns the channels interested in a user's activity.
func (t *Table) ByUser(identity string) []string { return lookup(t.users, identity) }

// ByRepository returns the channels interested in a repository by name.
func (t *Table) ByRepository(name string) []string { return lookup(t.repositories, name) }

// ByService returns the channels interested in an incident service.
func (t *Table) ByService(name string) []string { return lookup(t.services, name) }

// Callsigns returns the number of resolved callsigns.
func (t *Table) Callsigns() int { return len(t.callsigns) }

// Fanout returns primary followed by the union of extras in sorted order,
// each channel at most once. primary is never repeated among the extras.
func Fanout(primary string, extras ...[]string) []string {
	seen := map[string]struct{}{primary: {}}
	var rest []string
	for _, set := range extras {
		for _, ch := range set {
			if ch == "" {
				continue
			}
			if _, ok := seen[ch]; ok {
				continue
			}
			seen[ch] = struct{}{}
			rest = append(rest, ch)
		}
	}
	sort.Strings(rest)
	return append([]string{primary}, rest...)
}

func lookup(m map[string][]string, key string) []string {
	if t, ok := m[key]; ok {
		return append([]string(nil), t...)
	}
	return []string{}
}

func normalize(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, channels := range in {
		set := make(map[string]struct{}, len(channels))
		for _, ch := range channels {
			set[ch] = struct{}{}
		}
		out[k] = sortedKeys(set)
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
