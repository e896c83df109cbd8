package relay

import (
	"errors"
	"strings"
	"testing"
)

var widePolicy = ChannelPolicy{
	Channel:  "#test-1p",
	Audience: AudienceFirstParty,
	High:     ActionPingChannel,
	Medium:   ActionPingHere,
	Low:      ActionSuppress,
}

func TestDecideAction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		urgency    Urgency
		weekday    bool
		shouldPing bool
		want       Action
	}{
		{"high weekend ping", UrgencyHigh, false, true, ActionPingChannel},
		{"high weekday ping", UrgencyHigh, true, true, ActionPingChannel},
		{"other weekday ping", "low", true, true, ActionPingHere},
		{"other weekday no ping", "low", true, false, ActionSuppress},
		{"other weekend ping", "low", false, true, ActionSuppress},
		{"high weekday no ping", UrgencyHigh, true, false, ActionSuppress},
		{"high weekend no ping", UrgencyHigh, false, false, ActionSuppress},
		{"empty urgency weekday ping", "", true, true, ActionPingHere},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := DecideAction(tt.urgency, tt.weekday, tt.shouldPing, widePolicy)
			if got != tt.want {
				t.Errorf("DecideAction(%q, %v, %v) = %q, want %q", tt.urgency, tt.weekday, tt.shouldPing, got, tt.want)
			}
		})
	}
}

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer(DefaultFirstPartyTemplate, DefaultThirdPartyTemplate, "http://911.example.org/")
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	return r
}

func TestRender(t *testing.T) {
	t.Parallel()

	r := newTestRenderer(t)
	urgent := &Incident{Urgency: UrgencyHigh, URL: "https://zombo.com/onfire", Number: 78, Summary: "site down"}
	quiet := &Incident{Urgency: "low", URL: "https://zombo.com/", Number: 77}

	tests := []struct {
		name       string
		action     Action
		audience   Audience
		inc        *Incident
		contains   []string
		notContain []string
	}{
		{
			name: "1p ping channel", action: ActionPingChannel, audience: AudienceFirstParty, inc: urgent,
			contains: []string{"@channel ", "start calling the P911 list", "P911", "<https://zombo.com/onfire|incident #78>", "site down"},
		},
		{
			name: "1p ping here", action: ActionPingHere, audience: AudienceFirstParty, inc: quiet,
			contains:   []string{"@here ", "text and email the support DRI", "P0", "incident #77"},
			notContain: []string{"@channel"},
		},
		{
			name: "1p suppress", action: ActionSuppress, audience: AudienceFirstParty, inc: quiet,
			contains:   []string{"text and email the person on-ping", "<no summary available>"},
			notContain: []string{"@channel", "@here"},
		},
		{
			name: "3p ping channel", action: ActionPingChannel, audience: AudienceThirdParty, inc: urgent,
			contains:   []string{"@channel ", "dev team has been alerted", "incident #78"},
			notContain: []string{"https://zombo.com/onfire", "P911 list", "911 docs"},
		},
		{
			name: "3p suppress", action: ActionSuppress, audience: AudienceThirdParty, inc: quiet,
			contains:   []string{"dev team has been alerted"},
			notContain: []string{"@channel", "@here", "person on-ping"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := r.Render(tt.action, tt.audience, tt.inc)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("Render() = %q, want substring %q", got, want)
				}
			}
			for _, bad := range tt.notContain {
				if strings.Contains(got, bad) {
					t.Errorf("Render() = %q, must not contain %q", got, bad)
				}
			}
			if strings.Contains(got, "\n") {
				t.Errorf("Render() contains a line break: %q", got)
			}
		})
	}
}

func TestRender_SuppressHasNoLeadingSpace(t *testing.T) {
	t.Parallel()

	r := newTestRenderer(t)
	got := r.Render(ActionSuppress, AudienceFirstParty, &Incident{Number: 1})
	if !strings.HasPrefix(got, "Oh no!") {
		t.Errorf("Render() = %q, want prefix %q", got, "Oh no!")
	}
}

func TestRender_MultilineSummaryCollapsed(t *testing.T) {
	t.Parallel()

	r := newTestRenderer(t)
	got := r.Render(ActionPingHere, AudienceThirdParty, &Incident{Number: 3, Summary: "disk\nfull\n\non db-1"})
	if !strings.Contains(got, "disk full on db-1") {
		t.Errorf("Render() = %q, want collapsed summary", got)
	}
}

func TestCollapseTemplate_Whitespace(t *testing.T) {
	t.Parallel()

	for _, tmpl := range []string{DefaultFirstPartyTemplate, DefaultThirdPartyTemplate} {
		got := CollapseTemplate(tmpl)
		if strings.Contains(got, "\n") {
			t.Errorf("collapsed template contains a newline: %q", got)
		}
		if strings.Contains(got, "  ") {
			t.Errorf("collapsed template contains a double space: %q", got)
		}
		if got != strings.TrimSpace(got) {
			t.Errorf("collapsed template has surrounding whitespace: %q", got)
		}
	}
}

func TestNewRenderer_EmptyTemplate(t *testing.T) {
	t.Parallel()

	if _, err := NewRenderer(" \n\t\n", DefaultThirdPartyTemplate, ""); err == nil {
		t.Fatal("expected error for blank first-party template")
	}
}

func TestNewPolicySet(t *testing.T) {
	t.Parallel()

	good := widePolicy
	other := widePolicy
	other.Channel = "#test-3p"
	other.Audience = AudienceThirdParty

	ps, err := NewPolicySet(other, good)
	if err != nil {
		t.Fatalf("NewPolicySet: %v", err)
	}
	if got := ps.Channels(); len(got) != 2 || got[0] != "#test-1p" || got[1] != "#test-3p" {
		t.Errorf("Channels() = %v, want sorted [#test-1p #test-3p]", got)
	}

	if _, err := NewPolicySet(good, good); err == nil {
		t.Error("expected error for duplicate channel")
	}

	bad := widePolicy
	bad.Medium = "ping_everyone"
	if _, err := NewPolicySet(bad); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("err = %v, want ErrUnknownAction", err)
	}

	badAudience := widePolicy
	badAudience.Audience = "fourth_party"
	if _, err := NewPolicySet(badAudience); err == nil {
		t.Error("expected error for unknown audience")
	}
}

func TestPolicySet_LookupUnknown(t *testing.T) {
	t.Parallel()

	ps, err := NewPolicySet(widePolicy)
	if err != nil {
		t.Fatalf("NewPolicySet: %v", err)
	}
	if _, err := ps.Lookup("#nowhere"); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("Lookup unknown err = %v, want ErrUnknownChannel", err)
	}
}

func TestRender_URLStaysOnOneLine(t *testing.T) {
	t.Parallel()

	r := newTestRenderer(t)

	tests := []struct {
		name string
		url  string
		want string
	}{
		{"newline", "https://x/incidents/1\n@everyone", "<https://x/incidents/1@everyone|incident #42>"},
		{"crlf", "https://x/incidents/1\r\n", "<https://x/incidents/1|incident #42>"},
		{"tab and spaces", " https://x/\tincidents/1 ", "<https://x/incidents/1|incident #42>"},
		{"line separator", "https://x/incidents/1\u2028more", "<https://x/incidents/1more|incident #42>"},
		{"clean", "https://x/incidents/1", "<https://x/incidents/1|incident #42>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			inc := &Incident{Urgency: UrgencyHigh, Summary: "disk full", URL: tt.url, Number: 42}
			got := r.Render(ActionPingChannel, AudienceFirstParty, inc)
			if strings.ContainsAny(got, "\r\n\t\u2028") {
				t.Fatalf("Render = %q, contains a line break or tab", got)
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("Render = %q, want substring %q", got, tt.want)
			}
		})
	}
}

func FuzzRender(f *testing.F) {
	f.Add("high", "disk full", "https://x/incidents/1", 42)
	f.Add("", "", "", 0)
	f.Add("low", "line\nbreak\r\nand\ttab", "<http://x|y>", -1)
	f.Add("HIGH", "{at_mention}{summary}", "{url}", 7)
	f.Add("high", "disk full", "https://x/incidents/1\r\n@everyone", 42)

	r, err := NewRenderer(DefaultFirstPartyTemplate, DefaultThirdPartyTemplate, "http://docs")
	if err != nil {
		f.Fatalf("NewRenderer: %v", err)
	}

	f.Fuzz(func(t *testing.T, urgency, summary, url string, number int) {
		inc := &Incident{Urgency: Urgency(urgency), Summary: summary, URL: url, Number: number}
		for _, aud := range []Audience{AudienceFirstParty, AudienceThirdParty} {
			for _, act := range []Action{ActionPingChannel, ActionPingHere, ActionSuppress} {
				got := r.Render(act, aud, inc)
				if strings.ContainsAny(got, "\r\n\u0085\u2028\u2029") {
					t.Fatalf("Render produced a line break: %q", got)
				}
			}
		}
	})
}
