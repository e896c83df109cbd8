package relay

import (
	"fmt"
	"time"
)

// Source identifies the outside system an event came from.
type Source string

const (
	SourcePagerDuty   Source = "pagerduty"
	SourcePhabricator Source = "phabricator"
	SourceGitHub      Source = "github"
)

// TypeIncidentTrigger is the only PagerDuty message type that gets relayed.
const TypeIncidentTrigger = "incident.trigger"

// Event is a normalized inbound webhook event.
type Event struct {
	ID        string
	Source    Source
	Type      string
	Timestamp time.Time
	Payload   Payload
}

// Key is the dedup identity of the event.
func (e *Event) Key() string {
	return string(e.Source) + ":" + e.ID
}

// Payload is implemented by the event variants the relay understands.
type Payload interface {
	payloadKind() string
}

// UrgencyHigh is the PagerDuty urgency that pages loudly. Every other value is quiet.
const UrgencyHigh Urgency = "high"

// Urgency is the incident severity flag as reported by PagerDuty.
type Urgency string

// IsHigh reports whether u pages loudly.
func (u Urgency) IsHigh() bool { return u == UrgencyHigh }

// Incident is an on-call alert.
type Incident struct {
	Urgency Urgency
	Summary string
	URL     string
	Number  int
	Service string
}

func (*Incident) payloadKind() string { return "incident" }

// Review is a code-review story from Phabricator.
type Review struct {
	DiffID      int
	Code        string
	Author      string
	Action      string
	Description string
	URL         string
}

func (*Review) payloadKind() string { return "review" }

// Push is a repository push from GitHub.
type Push struct {
	Repository  string
	Branch      string
	Pusher      string
	CompareURL  string
	Commits     int
	HeadMessage string
}

func (*Push) payloadKind() string { return "push" }

// Audience selects which message template a channel gets.
type Audience string

const (
	// AudienceFirstParty addresses the internal team.
	AudienceFirstParty Audience = "first_party"

	// AudienceThirdParty omits internal operational detail.
	AudienceThirdParty Audience = "third_party"
)

// Action is how loudly a channel is pinged.
type Action string

const (
	ActionPingChannel Action = "ping_channel"
	ActionPingHere    Action = "ping_here"
	ActionSuppress    Action = "suppress"
)

// ParseAction validates a configured action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionPingChannel, ActionPingHere, ActionSuppress:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// ParseAudience validates a configured audience class.
func ParseAudience(s string) (Audience, error) {
	switch a := Audience(s); a {
	case AudienceFirstParty, AudienceThirdParty:
		return a, nil
	}
	return "", fmt.Errorf("unknown audience class %q", s)
}

// ChannelPolicy describes how one channel reacts to an incident. The high
// action applies to high-urgency incidents, medium to other incidents on
// weekdays, low to everything else.
type ChannelPolicy struct {
	Channel  string
	Audience Audience
	High     Action
	Medium   Action
	Low      Action
}

// Message is one delivery handed to a Sink.
type Message struct {
	Channel   string
	Text      string
	Sender    string
	Icon      string
	ThreadRef string
}
