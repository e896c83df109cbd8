package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/perch/internal/relay"
)

// fakeSlack records chat.postMessage form posts and answers like the Web API.
type fakeSlack struct {
	mu    sync.Mutex
	posts []url.Values
	reply string
}

func (f *fakeSlack) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat.postMessage") {
			t.Errorf("path = %q, want chat.postMessage", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		f.mu.Lock()
		f.posts = append(f.posts, r.PostForm)
		reply := f.reply
		f.mu.Unlock()

		if reply == "" {
			reply = `{"ok":true,"channel":"C024BE91L","ts":"1467832920.000002"}`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	})
}

func (f *fakeSlack) last() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posts[len(f.posts)-1]
}

func newTestClient(t *testing.T, fake *fakeSlack) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	c, err := New(Options{Token: "xoxb-test", APIURL: srv.URL + "/", Rate: 1000, Burst: 10, Logger: log.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestDeliver_PostsMessage(t *testing.T) {
	t.Parallel()

	fake := &fakeSlack{}
	c := newTestClient(t, fake)

	ref, err := c.Deliver(context.Background(), relay.Message{
		Channel: "#1s-and-0s",
		Text:    "@channel Oh no! P911 incident #42",
		Sender:  relay.IncidentSender,
		Icon:    relay.IncidentIcon,
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if ref != "1467832920.000002" {
		t.Errorf("thread ref = %q, want the new message ts", ref)
	}

	form := fake.last()
	checks := map[string]string{
		"channel":    "#1s-and-0s",
		"text":       "@channel Oh no! P911 incident #42",
		"username":   relay.IncidentSender,
		"icon_emoji": relay.IncidentIcon,
		"link_names": "1",
	}
	for k, want := range checks {
		if got := form.Get(k); got != want {
			t.Errorf("form %s = %q, want %q", k, got, want)
		}
	}
	if form.Get("thread_ts") != "" {
		t.Errorf("thread_ts = %q, want unset", form.Get("thread_ts"))
	}
}

func TestDeliver_ThreadedReplyKeepsRoot(t *testing.T) {
	t.Parallel()

	fake := &fakeSlack{reply: `{"ok":true,"channel":"C024BE91L","ts":"1467833000.000100"}`}
	c := newTestClient(t, fake)

	ref, err := c.Deliver(context.Background(), relay.Message{Channel: "#ops", Text: "again", ThreadRef: "1467832920.000002"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if ref != "1467832920.000002" {
		t.Errorf("thread ref = %q, want the root ts", ref)
	}
	if got := fake.last().Get("thread_ts"); got != "1467832920.000002" {
		t.Errorf("thread_ts = %q, want the root ts", got)
	}
}

func TestDeliver_APIError(t *testing.T) {
	t.Parallel()

	fake := &fakeSlack{reply: `{"ok":false,"error":"channel_not_found"}`}
	c := newTestClient(t, fake)

	_, err := c.Deliver(context.Background(), relay.Message{Channel: "#gone", Text: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "channel_not_found") || !strings.Contains(err.Error(), "#gone") {
		t.Errorf("err = %q, want channel and slack error", err)
	}
}

func TestDeliver_TruncatesLongText(t *testing.T) {
	t.Parallel()

	fake := &fakeSlack{}
	c := newTestClient(t, fake)

	if _, err := c.Deliver(context.Background(), relay.Message{Channel: "#ops", Text: strings.Repeat("x", maxTextLen+500)}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	text := fake.last().Get("text")
	if len(text) != maxTextLen || !strings.HasSuffix(text, "...") {
		t.Errorf("text length = %d, want %d ending in ...", len(text), maxTextLen)
	}
}

func TestTruncate_MultiByte(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"fits", "héllo", 5, "héllo"},
		{"two-byte runes", strings.Repeat("é", 10), 6, "ééé..."},
		{"three-byte runes", "日本語のテキスト", 5, "日本..."},
		{"four-byte runes", "🦜🦜🦜🦜🦜", 4, "🦜..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := truncate(tt.in, tt.limit)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate(%q, %d) = %q, invalid UTF-8", tt.in, tt.limit, got)
			}
		})
	}
}

func TestDeliver_TruncatesMultiByteText(t *testing.T) {
	t.Parallel()

	fake := &fakeSlack{}
	c := newTestClient(t, fake)

	if _, err := c.Deliver(context.Background(), relay.Message{Channel: "#ops", Text: strings.Repeat("é", maxTextLen)}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	text := fake.last().Get("text")
	if !utf8.ValidString(text) {
		t.Fatal("delivered text is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(text); n != maxTextLen || !strings.HasSuffix(text, "...") {
		t.Errorf("text = %d runes, want %d ending in ...", n, maxTextLen)
	}
}

func TestNew_RequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error without token")
	}
}

func TestPacer_PerChannel(t *testing.T) {
	t.Parallel()

	p := newPacer(0.001, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := p.wait(ctx, "#a"); err != nil {
		t.Fatalf("first wait on #a: %v", err)
	}
	if err := p.wait(ctx, "#b"); err != nil {
		t.Fatalf("first wait on #b: %v", err)
	}
	if err := p.wait(ctx, "#a"); err == nil {
		t.Error("second wait on #a should not fit in the deadline")
	}
}

func TestPacer_Defaults(t *testing.T) {
	t.Parallel()

	p := newPacer(0, 0)
	if float64(p.rate) != DefaultRate || p.burst != DefaultBurst {
		t.Errorf("pacer = %v/%d, want %v/%d", p.rate, p.burst, DefaultRate, DefaultBurst)
	}
}

func TestWebhook_Posts(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ref, err := NewWebhook(srv.URL).Deliver(context.Background(), relay.Message{
		Channel: "#code-review",
		Text:    ":phabricator: <https://phabricator.example.org/D1|D1>: fix (created by alice)",
		Sender:  relay.ReviewSender,
		Icon:    relay.ReviewIcon,
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if ref != "" {
		t.Errorf("webhook returned thread ref %q, want none", ref)
	}
	if got["channel"] != "#code-review" || got["username"] != relay.ReviewSender || got["icon_emoji"] != relay.ReviewIcon {
		t.Errorf("payload = %v", got)
	}
	if !strings.HasPrefix(got["text"].(string), ":phabricator:") {
		t.Errorf("text = %v", got["text"])
	}
}

func TestWebhook_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	_, err := NewWebhook(srv.URL).Deliver(context.Background(), relay.Message{Channel: "#ops", Text: "x"})
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}

func TestWebhook_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	if _, err := NewWebhook("").Deliver(context.Background(), relay.Message{}); err != nil {
		t.Fatalf("Deliver with empty URL should be no-op, got: %v", err)
	}
}

func FuzzTruncate(f *testing.F) {
	f.Add("short", 10)
	f.Add(strings.Repeat("A", 5000), 100)
	f.Add("", 3)
	f.Add(strings.Repeat("é", 200), 100)
	f.Add("日本語のテキスト", 5)

	f.Fuzz(func(t *testing.T, s string, limit int) {
		if limit < 3 || limit > 1<<16 {
			return
		}
		got := truncate(s, limit)
		if n := utf8.RuneCountInString(got); n > limit {
			t.Fatalf("truncate(%d runes, %d) = %d runes", utf8.RuneCountInString(s), limit, n)
		}
		if utf8.RuneCountInString(s) <= limit && got != s {
			t.Fatalf("short input changed: %q -> %q", s, got)
		}
		if utf8.ValidString(s) && !utf8.ValidString(got) {
			t.Fatalf("truncate produced invalid UTF-8: %q", got)
		}
	})
}
