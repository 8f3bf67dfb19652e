package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/byteowlz/pinscrpr/internal/browser"
	"github.com/byteowlz/pinscrpr/internal/browser/browsertest"
	"github.com/byteowlz/pinscrpr/internal/config"
	"github.com/byteowlz/pinscrpr/internal/poll"
)

const (
	loadingPage = `<table><tr><td>garlic shrimp</td><td>Loading...</td></tr></table>`
	loadedPage  = `<table><tr><td>garlic shrimp</td><td>12,400</td></tr></table>`
)

type recorder struct {
	statuses []string
}

func (r *recorder) progress(status, _ string) { r.statuses = append(r.statuses, status) }

func (r *recorder) has(status string) bool {
	for _, s := range r.statuses {
		if s == status {
			return true
		}
	}
	return false
}

func testConfig() config.ExportConfig {
	cfg := config.Default().Export
	cfg.SearchURL = "https://search.example.com/keywords"
	return cfg
}

func writeFile(t *testing.T, dir, name string, mod time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("keyword,volume\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatal(err)
	}
	return path
}

// exportingSession serves page HTML from pages (repeating the last entry)
// and drops a file into the download folder when Export is clicked.
func exportingSession(t *testing.T, clock *poll.FakeClock, pages []string, fileName string) *browsertest.Session {
	s := &browsertest.Session{Dir: t.TempDir()}
	served := 0
	s.HTMLFunc = func(string) (string, error) {
		page := pages[min(served, len(pages)-1)]
		served++
		return page, nil
	}
	s.ActFunc = func(c browser.Criteria, a browser.Action) error {
		if c.Text == "Export" && fileName != "" {
			writeFile(t, s.Dir, fileName, clock.Now())
		}
		return nil
	}
	return s
}

func TestDownload_FirstKeyword(t *testing.T) {
	clock := poll.NewFakeClock(time.Now())
	s := exportingSession(t, clock, []string{loadingPage, loadingPage, loadedPage}, "garlic-shrimp.csv")
	rec := &recorder{}

	d := New(testConfig(), clock, zerolog.Nop())
	path, err := d.Download(context.Background(), s, "garlic shrimp", true, rec.progress)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if filepath.Base(path) != "garlic-shrimp.csv" {
		t.Errorf("path = %q", path)
	}

	if s.Count("navigate", "search.example.com") != 1 {
		t.Errorf("expected one navigation, calls: %v", s.Calls())
	}
	for _, want := range []string{"clear ", "fill ", "value=garlic shrimp", "press-enter", "text=Export", "text=Refine"} {
		if s.Count("act", want) != 1 {
			t.Errorf("act %q count = %d", want, s.Count("act", want))
		}
	}
	if got := clock.Slept(); got != 4*time.Second {
		t.Errorf("slept %v, want 4s (two loading polls)", got)
	}
	if !rec.has("loading") || !rec.has("exporting") || rec.has("refreshing") {
		t.Errorf("statuses = %v", rec.statuses)
	}
}

func TestDownload_ReusesPage(t *testing.T) {
	clock := poll.NewFakeClock(time.Now())
	s := exportingSession(t, clock, []string{loadedPage}, "b.xlsx")

	cfg := testConfig()
	cfg.RefineExport = false
	if _, err := New(cfg, clock, zerolog.Nop()).Download(context.Background(), s, "b", false, nil); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if s.Count("navigate", "") != 0 {
		t.Error("later keywords should reuse the current page")
	}
	if s.Count("act", "text=Refine") != 0 {
		t.Error("refine disabled")
	}
}

func TestDownload_ReloadEscalation(t *testing.T) {
	clock := poll.NewFakeClock(time.Now())
	s := exportingSession(t, clock, []string{loadingPage}, "stuck.csv")
	rec := &recorder{}

	cfg := testConfig()
	cfg.MaxPolls = 10
	cfg.ReloadEvery = 3
	cfg.MaxReloads = 2

	path, err := New(cfg, clock, zerolog.Nop()).Download(context.Background(), s, "stuck", true, rec.progress)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if filepath.Base(path) != "stuck.csv" {
		t.Errorf("path = %q", path)
	}
	if n := s.Count("reload", ""); n != 2 {
		t.Errorf("reloads = %d, want 2", n)
	}
	if n := s.Count("act", "value=stuck"); n != 3 {
		t.Errorf("searches = %d, want 3 (initial plus one per reload)", n)
	}
	if n := s.Count("html", "body"); n != 10 {
		t.Errorf("polls = %d, want 10", n)
	}
	if !rec.has("refreshing") {
		t.Errorf("statuses = %v", rec.statuses)
	}
}

func TestDownload_FallsBackToNewestExisting(t *testing.T) {
	clock := poll.NewFakeClock(time.Now())
	s := exportingSession(t, clock, []string{loadedPage}, "")
	old := clock.Now().Add(-time.Hour)
	writeFile(t, s.Dir, "older.csv", old.Add(-time.Hour))
	want := writeFile(t, s.Dir, "newer.xlsx", old)
	writeFile(t, s.Dir, "partial.csv.crdownload", clock.Now())
	writeFile(t, s.Dir, "notes.txt", clock.Now())

	path, err := New(testConfig(), clock, zerolog.Nop()).Download(context.Background(), s, "x", true, nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if got := clock.Slept(); got != 19*time.Second {
		t.Errorf("slept %v, want 19s of download checks", got)
	}
}

func TestDownload_NoFile(t *testing.T) {
	clock := poll.NewFakeClock(time.Now())
	s := exportingSession(t, clock, []string{loadedPage}, "")

	_, err := New(testConfig(), clock, zerolog.Nop()).Download(context.Background(), s, "x", true, nil)
	if !errors.Is(err, ErrDownloadFailed) {
		t.Fatalf("err = %v, want ErrDownloadFailed", err)
	}
}

func TestDownload_NavigateTimeout(t *testing.T) {
	s := &browsertest.Session{NavigateFunc: func(string) error { return browser.ErrDriverTimeout }}
	_, err := New(testConfig(), poll.NewFakeClock(time.Now()), zerolog.Nop()).Download(context.Background(), s, "x", true, nil)
	if !errors.Is(err, browser.ErrDriverTimeout) {
		t.Fatalf("err = %v", err)
	}
	if s.Count("act", "") != 0 {
		t.Error("search should not run after a failed navigation")
	}
}

func TestDownload_ExportClickFails(t *testing.T) {
	clock := poll.NewFakeClock(time.Now())
	s := exportingSession(t, clock, []string{loadedPage}, "")
	s.ActFunc = func(c browser.Criteria, a browser.Action) error {
		if c.Text == "Export" {
			return browser.ErrDriverTimeout
		}
		return nil
	}
	_, err := New(testConfig(), clock, zerolog.Nop()).Download(context.Background(), s, "x", true, nil)
	if !errors.Is(err, browser.ErrDriverTimeout) {
		t.Fatalf("err = %v", err)
	}
}

func TestStillLoading(t *testing.T) {
	tests := []struct {
		name string
		page string
		want bool
	}{
		{"loading cell", loadingPage, true},
		{"loaded", loadedPage, false},
		{"case insensitive", `<table><tr><td>LOADING</td></tr></table>`, true},
		{"marker outside table", `<div>Loading</div><table><tr><td>ok</td></tr></table>`, false},
		{"empty page", ``, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := stillLoading(tt.page)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("stillLoading = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatches(t *testing.T) {
	patterns := []string{"*.csv", "*.xlsx"}
	tests := map[string]bool{
		"export.csv":            true,
		"Export.CSV":            true,
		"report.xlsx":           true,
		"export.csv.crdownload": false,
		"export.xlsx.part":      false,
		"notes.txt":             false,
		"csv":                   false,
	}
	for name, want := range tests {
		if got := matches(name, patterns); got != want {
			t.Errorf("matches(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestNewestMatch_MissingDir(t *testing.T) {
	path, err := newestMatch(filepath.Join(t.TempDir(), "nope"), []string{"*.csv"}, time.Time{})
	if err != nil || path != "" {
		t.Errorf("newestMatch = %q, %v", path, err)
	}
}
