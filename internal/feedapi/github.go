package feedapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/perch/internal/relay"
)

type githubPush struct {
	Ref     string `json:"ref"`
	Compare string `json:"compare"`
	Deleted bool   `json:"deleted"`
	Pusher  struct {
		Name string `json:"name"`
	} `json:"pusher"`
	Repository struct {
		Name string `json:"name"`
	} `json:"repository"`
	Commits    []json.RawMessage `json:"commits"`
	HeadCommit *struct {
		Message string `json:"message"`
	} `json:"head_commit"`
}

func (p *githubPush) event(delivery string) *relay.Event {
	var head string
	if p.HeadCommit != nil {
		head = p.HeadCommit.Message
	}
	return &relay.Event{
		ID:        delivery,
		Source:    relay.SourceGitHub,
		Type:      "push",
		Timestamp: time.Now(),
		Payload: &relay.Push{
			Repository:  p.Repository.Name,
			Branch:      strings.TrimPrefix(p.Ref, "refs/heads/"),
			Pusher:      p.Pusher.Name,
			CompareURL:  p.Compare,
			Commits:     len(p.Commits),
			HeadMessage: head,
		},
	}
}

func (a *API) handleGitHub(w http.ResponseWriter, r *http.Request) {
	event := r.Header.Get("X-GitHub-Event")
	delivery := r.Header.Get("X-GitHub-Delivery")

	switch event {
	case "ping":
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"pong"}`))
		return
	case "push":
	default:
		a.logger.Info(r.Context(), "ignoring github event", "event", event, "delivery", delivery)
		writeAccepted(w, []string{})
		return
	}

	var p githubPush
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&p); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if p.Deleted || len(p.Commits) == 0 {
		a.logger.Info(r.Context(), "ignoring push without commits", "repository", p.Repository.Name, "ref", p.Ref)
		writeAccepted(w, []string{})
		return
	}

	ev := p.event(delivery)
	accepted := []string{}
	if a.submit(r.Context(), ev) {
		accepted = append(accepted, ev.ID)
	}
	writeAccepted(w, accepted)
}
