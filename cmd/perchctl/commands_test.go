package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testRelay = `
docs_url: "http://911.example.org/"
primary:
  incident: "#ops"
  review: "#code"
  push: "#code"
channels:
  - channel: "#ops"
    audience: first_party
    high: ping_channel
    medium: ping_here
    low: suppress
  - channel: "#support"
    audience: third_party
    high: ping_here
    medium: suppress
    low: suppress
repositories:
  webapp: ["#webapp", "#code"]
users:
  alice: ["#alice"]
`

func writeRelay(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write relay file: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestCheck(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "check", "-f", writeRelay(t, testRelay))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	for _, want := range []string{
		"primary: incident=#ops review=#code push=#code",
		"channels (2):",
		"#support third_party high=ping_here medium=suppress low=suppress",
		"repositories=1 users=1 services=0",
		"OK",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCheck_DefaultConfig(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "check")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out, "incident=#1s-and-0s") {
		t.Errorf("default config not loaded:\n%s", out)
	}
}

func TestCheck_InvalidFile(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "check", "-f", writeRelay(t, testRelay+"colour: blue\n"))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	path := writeRelay(t, testRelay)

	tests := []struct {
		name       string
		args       []string
		wantAction string
		want       string
	}{
		{
			name:       "high urgency primary",
			args:       []string{"--number", "7", "--summary", "Disk full", "--url", "https://pd.example.com/7"},
			wantAction: "action: ping_channel",
			want:       "@channel Oh no! P911 <https://pd.example.com/7|incident #7> opened in PagerDuty: Disk full.",
		},
		{
			name:       "quiet weekend",
			args:       []string{"--urgency", "low", "--weekday=false", "--number", "8"},
			wantAction: "action: suppress",
			want:       "Oh no! P0 <|incident #8> opened in PagerDuty: <no summary available>.",
		},
		{
			name:       "third party during cooldown",
			args:       []string{"--channel", "#support", "--ping=false", "--number", "9", "--summary", "Slow"},
			wantAction: "action: suppress",
			want:       "P911 incident #9 opened in PagerDuty: Slow. The dev team has been alerted.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out, err := execute(t, append([]string{"render", "-f", path}, tt.args...)...)
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			if !strings.Contains(out, tt.wantAction) {
				t.Errorf("output missing %q:\n%s", tt.wantAction, out)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out)
			}
		})
	}
}

func TestRender_UnknownChannel(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "render", "-f", writeRelay(t, testRelay), "--channel", "#nowhere")
	if err == nil {
		t.Fatal("expected error for channel without policy")
	}
}

func TestFanout(t *testing.T) {
	t.Parallel()

	path := writeRelay(t, testRelay)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"repo and user", []string{"--repo", "webapp", "--user", "alice"}, "#code #alice #webapp"},
		{"explicit primary", []string{"--primary", "#deploys", "--repo", "webapp"}, "#deploys #code #webapp"},
		{"unknown repo", []string{"--repo", "nope"}, "#code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out, err := execute(t, append([]string{"fanout", "-f", path}, tt.args...)...)
			if err != nil {
				t.Fatalf("fanout: %v", err)
			}
			if got := strings.TrimSpace(out); got != tt.want {
				t.Errorf("fanout = %q, want %q", got, tt.want)
			}
		})
	}
}
