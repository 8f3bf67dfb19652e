package assistant

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/byteowlz/pinscrpr/internal/browser"
	"github.com/byteowlz/pinscrpr/internal/browser/browsertest"
	"github.com/byteowlz/pinscrpr/internal/config"
	"github.com/byteowlz/pinscrpr/internal/poll"
)

const replyHTML = `<div data-message-author-role="assistant"><p><strong>4 Pin Titles</strong></p>` +
	`<ol><li>Garlic Butter Shrimp Tonight</li><li>Easy <em>Shrimp</em> Skillet</li></ol>` +
	`<h3>Pin Descriptions</h3>` +
	`<ol start="1"><li><p>Buttery shrimp in minutes.</p></li></ol>` +
	`<ol start="2"><li><p>Skillet dinner.</p></li></ol>` +
	`<p><strong>Text Overlay</strong></p>` +
	`<ul><li>Dinner in 15<ul><li>nested</li></ul></li></ul></div>`

const wantReplyText = "**4 Pin Titles**\n\n" +
	"1. Garlic Butter Shrimp Tonight\n2. Easy Shrimp Skillet\n\n" +
	"### Pin Descriptions\n\n" +
	"1. Buttery shrimp in minutes.\n\n2. Skillet dinner.\n\n" +
	"**Text Overlay**\n\n" +
	"- Dinner in 15\n  - nested"

var conversationPage = `<main>` +
	`<div data-message-author-role="user"><p>Analyze tacos</p></div>` +
	`<div data-message-author-role="assistant"><p>Earlier reply about tacos that should be ignored.</p></div>` +
	`<div data-message-author-role="user"><p>Analyze shrimp</p></div>` +
	replyHTML +
	`</main>`

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestAssistant(t *testing.T, clock poll.Clock) (*Assistant, config.AssistantConfig) {
	t.Helper()
	cfg := config.Default().Assistant
	cfg.RawLogDir = t.TempDir()
	return New(cfg, nil, clock, zerolog.Nop()), cfg
}

func isBusyCheck(c browser.Criteria, a browser.Action) bool {
	return a.Kind == browser.ActionExists && len(c.Selectors) > 0 && c.Selectors[0] == busyIndicator.Selectors[0]
}

func TestExtractReply(t *testing.T) {
	got, err := ExtractReply(conversationPage)
	if err != nil {
		t.Fatalf("ExtractReply: %v", err)
	}
	if got != wantReplyText {
		t.Errorf("ExtractReply mismatch\n got: %q\nwant: %q", got, wantReplyText)
	}
}

func TestExtractReply_NoMessage(t *testing.T) {
	got, err := ExtractReply(`<main><p>Log in to continue</p></main>`)
	if err != nil || got != "" {
		t.Errorf("ExtractReply = %q, %v", got, err)
	}
}

func TestHTMLToText_Table(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<div><table><tr><th>Keyword</th><th>Volume</th></tr><tr><td>shrimp</td><td>1200</td></tr></table></div>`))
	if err != nil {
		t.Fatal(err)
	}
	got := HTMLToText(doc.Find("div"))
	if got != "Keyword | Volume\nshrimp | 1200" {
		t.Errorf("got %q", got)
	}
}

func TestReadabilityText_UsesMessageWhenPresent(t *testing.T) {
	page := `<html><head><title>Chat</title></head><body>` + conversationPage + `</body></html>`
	got, err := ReadabilityText(page)
	if err != nil {
		t.Fatalf("ReadabilityText: %v", err)
	}
	if got != wantReplyText {
		t.Errorf("got %q", got)
	}
}

func TestReadabilityText_ArticleFallback(t *testing.T) {
	body := strings.Repeat("<p>Garlic butter shrimp is a quick dinner that cooks in one pan with lemon and parsley. </p>", 6)
	page := `<html><head><title>Saved</title></head><body><nav>Menu</nav><article><h2>Pin Titles</h2>` + body + `</article></body></html>`
	got, err := ReadabilityText(page)
	if err != nil {
		t.Fatalf("ReadabilityText: %v", err)
	}
	if !strings.Contains(got, "Garlic butter shrimp is a quick dinner") {
		t.Errorf("article text missing: %q", got)
	}
}

func TestCleanNewlines(t *testing.T) {
	in := "Garlic butter shrimp is\nquick to make.\nServe hot.\n\n\n- bullet one\n- bullet two"
	want := "Garlic butter shrimp is quick to make.\nServe hot.\n\n- bullet one\n- bullet two"
	if got := CleanNewlines(in); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAnalyze(t *testing.T) {
	clock := poll.NewFakeClock(testStart)
	a, cfg := newTestAssistant(t, clock)

	busyChecks := 0
	s := &browsertest.Session{
		ActFunc: func(c browser.Criteria, act browser.Action) error {
			if isBusyCheck(c, act) {
				busyChecks++
				if busyChecks < 3 {
					return nil
				}
				return browser.ErrNotFound
			}
			return nil
		},
		HTMLFunc: func(string) (string, error) { return conversationPage, nil },
	}

	reply, err := a.Analyze(context.Background(), s, "Garlic Butter Shrimp", "/tmp/export.csv")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if reply.Text != wantReplyText {
		t.Errorf("reply text = %q", reply.Text)
	}
	if busyChecks != 3 {
		t.Errorf("busy checks = %d, want 3 (none before the settle time)", busyChecks)
	}
	// 3s upload settle, 30 polls to reach 60s, then two busy polls.
	if got := clock.Slept(); got != 67*time.Second {
		t.Errorf("slept %v, want 67s", got)
	}

	if s.Count("upload", "/tmp/export.csv") != 1 {
		t.Errorf("upload calls: %v", s.Calls())
	}
	if s.Count("act", "press-enter") != 0 {
		t.Error("enter should not be pressed when the send button works")
	}
	injected := false
	for _, c := range s.Calls() {
		if c.Op == "act" && strings.HasPrefix(c.Arg, "inject") {
			injected = strings.Contains(c.Arg, `"Garlic Butter Shrimp"`)
		}
	}
	if !injected {
		t.Error("instruction should be injected and restate the keyword")
	}

	if reply.LogPath == "" {
		t.Fatal("raw reply was not logged")
	}
	if filepath.Dir(reply.LogPath) != cfg.RawLogDir {
		t.Errorf("log path %q outside %q", reply.LogPath, cfg.RawLogDir)
	}
	if base := filepath.Base(reply.LogPath); base != "20260301-120107_garlic-butter-shrimp.txt" {
		t.Errorf("log file name = %q", base)
	}
	data, err := os.ReadFile(reply.LogPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "keyword: Garlic Butter Shrimp\ncaptured_at: 2026-03-01T12:01:07Z\n\n") {
		t.Errorf("log header = %q", string(data))
	}
}

func TestAnalyze_SendFallsBackToEnter(t *testing.T) {
	a, _ := newTestAssistant(t, poll.NewFakeClock(testStart))
	a.cfg.MinSettle = 0

	s := &browsertest.Session{
		ActFunc: func(c browser.Criteria, act browser.Action) error {
			if isBusyCheck(c, act) {
				return browser.ErrNotFound
			}
			if act.Kind == browser.ActionClick && c.Selectors[0] == sendButton.Selectors[0] {
				return browser.ErrDriverTimeout
			}
			return nil
		},
		HTMLFunc: func(string) (string, error) { return conversationPage, nil },
	}

	if _, err := a.Analyze(context.Background(), s, "shrimp", ""); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if s.Count("act", "press-enter") != 1 {
		t.Errorf("calls: %v", s.Calls())
	}
	if s.Count("upload", "") != 0 {
		t.Error("no upload expected without a file")
	}
}

func TestAnalyze_ClipboardFallback(t *testing.T) {
	clock := poll.NewFakeClock(testStart)
	a, _ := newTestAssistant(t, clock)
	a.cfg.MinSettle = 0

	long := "Pin Titles\n1. Garlic Butter Shrimp Tonight\nPin Descriptions\n1. Buttery and quick."
	reads := 0
	s := &browsertest.Session{
		ActFunc: func(c browser.Criteria, act browser.Action) error {
			if isBusyCheck(c, act) {
				return browser.ErrNotFound
			}
			return nil
		},
		HTMLFunc: func(string) (string, error) { return `<main><p>Thinking</p></main>`, nil },
		ClipboardFunc: func() (string, error) {
			reads++
			if reads < 3 {
				return "", nil
			}
			return "  " + long + "\n", nil
		},
	}

	reply, err := a.Analyze(context.Background(), s, "shrimp", "")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if reply.Text != long {
		t.Errorf("reply = %q", reply.Text)
	}
	if s.Count("act", "copy-turn-action-button") != 3 {
		t.Errorf("copy clicks = %d", s.Count("act", "copy-turn-action-button"))
	}
	backoffs := 0
	for _, d := range clock.Sleeps() {
		if d == 3*time.Second {
			backoffs++
		}
	}
	if backoffs != 2 {
		t.Errorf("clipboard backoffs = %d, want 2", backoffs)
	}
}

func TestAnalyze_ExtractionFailed(t *testing.T) {
	a, cfg := newTestAssistant(t, poll.NewFakeClock(testStart))
	a.cfg.MinSettle = 0

	s := &browsertest.Session{
		ActFunc: func(c browser.Criteria, act browser.Action) error {
			if isBusyCheck(c, act) {
				return browser.ErrNotFound
			}
			return nil
		},
		HTMLFunc:      func(string) (string, error) { return "", errors.New("no node") },
		ClipboardFunc: func() (string, error) { return "short", nil },
	}

	_, err := a.Analyze(context.Background(), s, "shrimp", "")
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("err = %v, want ErrExtractionFailed", err)
	}
	if n := s.Count("clipboard", ""); n != cfg.ClipboardAttempts {
		t.Errorf("clipboard reads = %d, want %d", n, cfg.ClipboardAttempts)
	}
	entries, _ := os.ReadDir(cfg.RawLogDir)
	if len(entries) != 0 {
		t.Errorf("no raw log expected on failure, found %d", len(entries))
	}
}

func TestAnalyze_BusyPastMaxWaitStillReads(t *testing.T) {
	clock := poll.NewFakeClock(testStart)
	a, _ := newTestAssistant(t, clock)

	s := &browsertest.Session{
		HTMLFunc: func(string) (string, error) { return conversationPage, nil },
	}

	if _, err := a.Analyze(context.Background(), s, "shrimp", ""); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got := clock.Slept(); got != 178*time.Second {
		t.Errorf("slept %v, want 178s (90 polls at 2s)", got)
	}
}

func TestNewConversation(t *testing.T) {
	a, cfg := newTestAssistant(t, poll.NewFakeClock(testStart))

	s := &browsertest.Session{}
	if err := a.NewConversation(context.Background(), s); err != nil {
		t.Fatalf("NewConversation: %v", err)
	}
	if s.Count("navigate", "") != 0 {
		t.Error("clicking new chat should not navigate")
	}

	s = &browsertest.Session{
		ActFunc: func(browser.Criteria, browser.Action) error { return browser.ErrDriverTimeout },
	}
	if err := a.NewConversation(context.Background(), s); err != nil {
		t.Fatalf("NewConversation: %v", err)
	}
	if s.Count("navigate", cfg.EntryURL) != 1 {
		t.Errorf("expected reload of entry page, calls: %v", s.Calls())
	}
}

func TestOpen_WrapsNavigateError(t *testing.T) {
	a, _ := newTestAssistant(t, poll.NewFakeClock(testStart))
	s := &browsertest.Session{NavigateFunc: func(string) error { return browser.ErrDriverTimeout }}
	if err := a.Open(context.Background(), s); !errors.Is(err, browser.ErrDriverTimeout) {
		t.Errorf("err = %v", err)
	}
}

func TestInstruction(t *testing.T) {
	out, err := DefaultInstruction().Render("Garlic Butter Shrimp")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"Garlic Butter Shrimp"`, "4 Pin Titles", "Pin Descriptions", "Text Overlay"} {
		if !strings.Contains(out, want) {
			t.Errorf("instruction missing %q", want)
		}
	}

	custom, err := ParseInstruction("Write pins for the attached file.")
	if err != nil {
		t.Fatal(err)
	}
	out, err = custom.Render("shrimp tacos")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, `Keyword: "shrimp tacos"`) {
		t.Errorf("custom instruction should restate the keyword: %q", out)
	}

	if _, err := ParseInstruction("{{.Keyword"); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadInstruction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruction.tmpl")
	if err := os.WriteFile(path, []byte("Pins for {{.Keyword}} please."), 0o644); err != nil {
		t.Fatal(err)
	}
	ins, err := LoadInstruction(path)
	if err != nil {
		t.Fatal(err)
	}
	if out, _ := ins.Render("shrimp"); out != "Pins for shrimp please." {
		t.Errorf("got %q", out)
	}
	if _, err := LoadInstruction(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRawLog(t *testing.T) {
	dir := t.TempDir()
	l := NewRawLog(dir)
	r := RawReply{Keyword: "Garlic Butter Shrimp!", Text: "line one\nline two", CapturedAt: testStart}

	first, err := l.Write(r)
	if err != nil {
		t.Fatal(err)
	}
	second, err := l.Write(r)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(first) != "20260301-120000_garlic-butter-shrimp.txt" {
		t.Errorf("first = %q", filepath.Base(first))
	}
	if filepath.Base(second) != "20260301-120000_garlic-butter-shrimp_2.txt" {
		t.Errorf("second = %q", filepath.Base(second))
	}

	f, err := os.Open(first)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	got, err := ReadRawLog(f)
	if err != nil {
		t.Fatal(err)
	}
	if got.Keyword != r.Keyword || got.Text != r.Text || !got.CapturedAt.Equal(testStart) {
		t.Errorf("ReadRawLog = %+v", got)
	}
}

func TestReadRawLog_PlainText(t *testing.T) {
	got, err := ReadRawLog(strings.NewReader("Pin Titles\n1. Shrimp"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Keyword != "" || got.Text != "Pin Titles\n1. Shrimp" {
		t.Errorf("got %+v", got)
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Garlic Butter Shrimp": "garlic-butter-shrimp",
		"  --what?!  ":         "what",
		"":                     "keyword",
		strings.Repeat("ab ", 40): strings.TrimRight(strings.Repeat("ab-", 20), "-"),
	}
	for in, want := range tests {
		if got := slug(in); got != want {
			t.Errorf("slug(%q) = %q, want %q", in, got, want)
		}
	}
}
