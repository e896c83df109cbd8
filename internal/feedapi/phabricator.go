package feedapi

import (
	"net/http"
	"time"

	"github.com/linnemanlabs/perch/internal/phabricator"
	"github.com/linnemanlabs/perch/internal/relay"
)

// handlePhabricator receives feed.http-hooks posts. Phabricator ignores the
// response body, so every parsable request gets 200 OK.
func (a *API) handlePhabricator(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	storyType := r.PostForm.Get("storyType")
	text := r.PostForm.Get("storyText")

	switch story, ok := phabricator.ParseStory(text); {
	case storyType != phabricator.FeedStoryType:
		a.logger.Info(r.Context(), "ignoring unknown story type", "story_type", storyType)
	case !ok:
		a.logger.Info(r.Context(), "story text did not match", "text", text)
	default:
		a.submit(r.Context(), &relay.Event{
			ID:        r.PostForm.Get("storyID"),
			Source:    relay.SourcePhabricator,
			Type:      storyType,
			Timestamp: time.Now(),
			Payload: &relay.Review{
				DiffID:      story.DiffID,
				Code:        story.Code,
				Author:      story.Who,
				Action:      story.Action,
				Description: story.Description,
				URL:         a.phabHost + "/" + story.Code,
			},
		})
	}

	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("OK"))
}
