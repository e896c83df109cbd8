// Package feedapi exposes the inbound webhook endpoints that feed the relay.
package feedapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/perch/internal/relay"
)

// maxBodyBytes caps webhook request bodies.
const maxBodyBytes = 1 << 20

// RelayService defines the relay operation feedapi needs.
type RelayService interface {
	Submit(ctx context.Context, ev *relay.Event) (*relay.SubmitResult, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	svc      RelayService
	phabHost string
}

// New creates a new API handler. phabricatorHost is used to build revision
// links and may be empty.
func New(logger log.Logger, svc RelayService, phabricatorHost string) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("relay service is required"))
	}
	return &API{
		logger:   logger,
		svc:      svc,
		phabHost: strings.TrimRight(phabricatorHost, "/"),
	}
}

// RegisterRoutes attaches the feed endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Post("/pagerduty-feed", a.handlePagerDuty)
	r.Post("/phabricator-feed", a.handlePhabricator)
	r.Post("/github-feed", a.handleGitHub)
}

// submit hands ev to the relay and reports whether it was admitted.
func (a *API) submit(ctx context.Context, ev *relay.Event) bool {
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	sr, err := a.svc.Submit(ctx, ev)
	if err != nil {
		a.logger.Warn(ctx, "event rejected", "source", ev.Source, "id", ev.ID, "error", err)
		return false
	}
	if sr.Skipped {
		a.logger.Info(ctx, "event skipped", "source", ev.Source, "id", ev.ID, "reason", sr.Reason)
		return false
	}
	return true
}

func writeAccepted(w http.ResponseWriter, accepted []string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(map[string]any{
		"accepted": accepted,
	})
}
