package feedapi

import (
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/perch/internal/relay"
)

// pagerDutyWebhook is the PagerDuty v1 outgoing webhook body.
type pagerDutyWebhook struct {
	Messages []pagerDutyMessage `json:"messages"`
}

type pagerDutyMessage struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedOn time.Time `json:"created_on"`
	Data      struct {
		Incident pagerDutyIncident `json:"incident"`
	} `json:"data"`
}

type pagerDutyIncident struct {
	IncidentNumber int    `json:"incident_number"`
	HTMLURL        string `json:"html_url"`
	Urgency        string `json:"urgency"`
	Service        struct {
		Name string `json:"name"`
	} `json:"service"`
	TriggerSummaryData struct {
		Subject     string `json:"subject"`
		Description string `json:"description"`
	} `json:"trigger_summary_data"`
}

func (m *pagerDutyMessage) event() *relay.Event {
	inc := m.Data.Incident
	summary := inc.TriggerSummaryData.Subject
	if summary == "" {
		summary = inc.TriggerSummaryData.Description
	}
	return &relay.Event{
		ID:        m.ID,
		Source:    relay.SourcePagerDuty,
		Type:      m.Type,
		Timestamp: m.CreatedOn,
		Payload: &relay.Incident{
			Urgency: relay.Urgency(inc.Urgency),
			Summary: summary,
			URL:     inc.HTMLURL,
			Number:  inc.IncidentNumber,
			Service: inc.Service.Name,
		},
	}
}

func (a *API) handlePagerDuty(w http.ResponseWriter, r *http.Request) {
	var wh pagerDutyWebhook
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&wh); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Int("perch.pagerduty.messages", len(wh.Messages)))
	a.logger.Info(r.Context(), "pagerduty webhook", "messages", len(wh.Messages))

	accepted := make([]string, 0, len(wh.Messages))
	for i := range wh.Messages {
		ev := wh.Messages[i].event()
		if a.submit(r.Context(), ev) {
			accepted = append(accepted, ev.ID)
		}
	}
	writeAccepted(w, accepted)
}
