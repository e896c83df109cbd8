package relay

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

const noSummary = "<no summary available>"

// PolicySet is the immutable channel -> policy table.
type PolicySet struct {
	byChannel map[string]ChannelPolicy
	names     []string
}

// NewPolicySet builds a PolicySet, rejecting duplicate or invalid entries.
func NewPolicySet(policies ...ChannelPolicy) (*PolicySet, error) {
	ps := &PolicySet{byChannel: make(map[string]ChannelPolicy, len(policies))}
	for _, p := range policies {
		if p.Channel == "" {
			return nil, fmt.Errorf("channel policy with empty channel name")
		}
		if _, dup := ps.byChannel[p.Channel]; dup {
			return nil, fmt.Errorf("duplicate policy for channel %q", p.Channel)
		}
		if _, err := ParseAudience(string(p.Audience)); err != nil {
			return nil, fmt.Errorf("channel %q: %w", p.Channel, err)
		}
		for _, a := range []Action{p.High, p.Medium, p.Low} {
			if _, err := ParseAction(string(a)); err != nil {
				return nil, fmt.Errorf("channel %q: %w", p.Channel, err)
			}
		}
		ps.byChannel[p.Channel] = p
		ps.names = append(ps.names, p.Channel)
	}
	sort.Strings(ps.names)
	return ps, nil
}

// Lookup returns the policy for channel or ErrUnknownChannel.
func (ps *PolicySet) Lookup(channel string) (ChannelPolicy, error) {
	p, ok := ps.byChannel[channel]
	if !ok {
		return ChannelPolicy{}, fmt.Errorf("%w: no policy for %q", ErrUnknownChannel, channel)
	}
	return p, nil
}

// Channels returns the configured channel names, sorted.
func (ps *PolicySet) Channels() []string {
	return append([]string(nil), ps.names...)
}

// DecideAction picks the action for one channel. shouldPing gates the high and
// medium actions; the low action is the fallback regardless of shouldPing.
func DecideAction(urgency Urgency, isWeekday, shouldPing bool, p ChannelPolicy) Action {
	switch {
	case urgency.IsHigh() && shouldPing:
		return p.High
	case isWeekday && shouldPing:
		return p.Medium
	default:
		return p.Low
	}
}

type actionText struct {
	mention   string
	nextSteps string
}

var actions = map[Action]actionText{
	ActionPingChannel: {"@channel", "start calling the P911 list"},
	ActionPingHere:    {"@here", "text and email the support DRI"},
	ActionSuppress:    {"", "text and email the person on-ping"},
}

// DefaultFirstPartyTemplate is the message internal channels receive.
const DefaultFirstPartyTemplate = `
	{at_mention}Oh no! {priority} <{url}|incident #{number}> opened
	in PagerDuty: {summary}. I'll {next_steps} to make sure someone is
	looking at it. See <{docs_url}|the 911 docs> for more
	information on these alerts.
`

// DefaultThirdPartyTemplate is the message external-facing channels receive.
const DefaultThirdPartyTemplate = `
	{at_mention}{priority} incident #{number} opened in PagerDuty:
	{summary}. The dev team has been alerted.
`

// Renderer turns an action and incident into message text. Templates are
// collapsed to a single line when the Renderer is built.
type Renderer struct {
	templates map[Audience]string
	docsURL   string
}

// NewRenderer collapses and stores one template per audience class.
func NewRenderer(firstParty, thirdParty, docsURL string) (*Renderer, error) {
	r := &Renderer{
		templates: map[Audience]string{
			AudienceFirstParty: CollapseTemplate(firstParty),
			AudienceThirdParty: CollapseTemplate(thirdParty),
		},
		docsURL: docsURL,
	}
	for aud, tmpl := range r.templates {
		if tmpl == "" {
			return nil, fmt.Errorf("empty %s template", aud)
		}
	}
	return r, nil
}

// CollapseTemplate trims every line and joins the non-empty ones with single spaces.
func CollapseTemplate(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, " ")
}

// Render fills the audience's template for action and incident.
func (r *Renderer) Render(action Action, audience Audience, inc *Incident) string {
	at, ok := actions[action]
	if !ok {
		at = actions[ActionSuppress]
	}
	mention := at.mention
	if mention != "" {
		mention += " "
	}

	priority := "P0"
	if inc.Urgency.IsHigh() {
		priority = "P911"
	}

	summary := inc.Summary
	if summary == "" {
		summary = noSummary
	}

	tmpl, ok := r.templates[audience]
	if !ok {
		tmpl = r.templates[AudienceThirdParty]
	}

	return strings.NewReplacer(
		"{at_mention}", mention,
		"{priority}", priority,
		"{url}", linkTarget(inc.URL),
		"{number}", strconv.Itoa(inc.Number),
		"{summary}", oneLine(summary),
		"{next_steps}", at.nextSteps,
		"{docs_url}", r.docsURL,
	).Replace(tmpl)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// linkTarget strips whitespace and control characters from an incident URL.
func linkTarget(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
