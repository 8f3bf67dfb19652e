// Package export searches a keyword on the source site, waits for the
// results to load and collects the exported file from the download folder.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/byteowlz/pinscrpr/internal/browser"
	"github.com/byteowlz/pinscrpr/internal/config"
	"github.com/byteowlz/pinscrpr/internal/metrics"
	"github.com/byteowlz/pinscrpr/internal/poll"
)

// ErrDownloadFailed means no matching export file could be located.
var ErrDownloadFailed = errors.New("export: download failed")

// Filesystems with coarse timestamps can date a fresh download slightly
// before the export click.
const mtimeSlack = time.Second

var partialSuffixes = []string{".crdownload", ".part", ".tmp", ".download"}

var (
	searchInput = browser.Criteria{Selectors: []string{
		`input[type="search"]`,
		`input[placeholder*="Search"]`,
		`input[placeholder*="search"]`,
		`input[name*="search"]`,
		`input[type="text"]`,
	}}
	exportButton = browser.Criteria{
		Selectors: []string{"button", `[role="button"]`, "a"},
		Text:      "Export",
	}
	refineOption = browser.Criteria{
		Selectors: []string{`[role="menuitem"]`, "button", "li", "a"},
		Text:      "Refine",
	}
)

// Progress receives the statuses "loading", "refreshing" and "exporting".
type Progress func(status, message string)

type Downloader struct {
	cfg    config.ExportConfig
	clock  poll.Clock
	logger zerolog.Logger
}

func New(cfg config.ExportConfig, clock poll.Clock, logger zerolog.Logger) *Downloader {
	if clock == nil {
		clock = poll.RealClock{}
	}
	return &Downloader{cfg: cfg, clock: clock, logger: logger}
}

// Download searches keyword and returns the path of the exported file. When
// isFirst is false the current page is reused instead of navigating.
func (d *Downloader) Download(ctx context.Context, s browser.Session, keyword string, isFirst bool, progress Progress) (string, error) {
	start := time.Now()
	defer metrics.ObserveStage("download", start)
	if progress == nil {
		progress = func(string, string) {}
	}
	log := d.logger.With().Str("keyword", keyword).Logger()

	if isFirst {
		if err := s.Navigate(ctx, d.cfg.SearchURL, 0); err != nil {
			return "", fmt.Errorf("export: open %s: %w", d.cfg.SearchURL, err)
		}
	}
	if err := d.submit(ctx, s, keyword); err != nil {
		return "", err
	}

	progress("loading", "waiting for results")
	if err := d.waitLoaded(ctx, s, keyword, progress, log); err != nil {
		return "", err
	}

	progress("exporting", "triggering export")
	triggered := d.clock.Now()
	if err := s.FindAndAct(ctx, exportButton, browser.Click()); err != nil {
		return "", fmt.Errorf("export: clicking export: %w", err)
	}
	if d.cfg.RefineExport {
		if err := s.FindAndAct(ctx, refineOption, browser.Click()); err != nil {
			log.Debug().Err(err).Msg("refine export option not found, keeping default export")
		}
	}

	return d.locate(ctx, s.DownloadDir(), triggered, log)
}

func (d *Downloader) submit(ctx context.Context, s browser.Session, keyword string) error {
	steps := []browser.Action{browser.Clear(), browser.Fill(keyword), browser.PressEnter()}
	for _, a := range steps {
		if err := s.FindAndAct(ctx, searchInput, a); err != nil {
			return fmt.Errorf("export: search %s: %w", a.Kind, err)
		}
	}
	return nil
}

// waitLoaded polls for the loading marker to disappear, reloading and
// searching again when it stalls. Running out of polls is not an error.
func (d *Downloader) waitLoaded(ctx context.Context, s browser.Session, keyword string, progress Progress, log zerolog.Logger) error {
	loop := poll.Loop{
		Interval:       d.cfg.PollInterval,
		MaxAttempts:    d.cfg.MaxPolls,
		EscalateEvery:  d.cfg.ReloadEvery,
		MaxEscalations: d.cfg.MaxReloads,
		OnTransition: func(from, to poll.State, attempt int) {
			if to == poll.StallEscalated {
				log.Warn().Int("attempt", attempt).Str("reason", "results still loading").Msg("reloading search page")
				progress("refreshing", fmt.Sprintf("still loading after %d checks, reloading", attempt))
			}
		},
	}

	check := func(ctx context.Context) (bool, error) {
		page, err := s.OuterHTML(ctx, "body")
		if err != nil {
			return false, err
		}
		loading, err := stillLoading(page)
		return !loading, err
	}
	escalate := func(ctx context.Context) error {
		if err := s.Reload(ctx, 0); err != nil {
			return err
		}
		return d.submit(ctx, s, keyword)
	}

	out, err := loop.Run(ctx, d.clock, check, escalate)
	if err != nil {
		return err
	}
	ev := log.Debug()
	if out.State == poll.TimedOutSoft {
		ev = log.Warn().AnErr("last_err", out.LastErr)
	}
	ev.Str("state", out.State.String()).
		Int("attempts", out.Attempts).
		Int("reloads", out.Escalations).
		Msg("search results wait finished")
	return nil
}

// stillLoading reports whether any table cell shows a loading marker.
func stillLoading(page string) (bool, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return false, fmt.Errorf("export: parsing page: %w", err)
	}
	loading := false
	doc.Find("td").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		if strings.Contains(strings.ToLower(cell.Text()), "loading") {
			loading = true
		}
		return !loading
	})
	return loading, nil
}

// locate waits for a file created after triggered, then settles for the
// newest matching file already present.
func (d *Downloader) locate(ctx context.Context, dir string, triggered time.Time, log zerolog.Logger) (string, error) {
	var found string
	loop := poll.Loop{Interval: d.cfg.CheckInterval, MaxAttempts: d.cfg.DownloadChecks}
	check := func(context.Context) (bool, error) {
		path, err := newestMatch(dir, d.cfg.FilePatterns, triggered.Add(-mtimeSlack))
		if err != nil {
			return false, err
		}
		found = path
		return path != "", nil
	}

	out, err := loop.Run(ctx, d.clock, check, nil)
	if err != nil {
		return "", err
	}
	if out.State == poll.Loaded {
		log.Info().Str("file", found).Msg("export downloaded")
		return found, nil
	}

	path, err := newestMatch(dir, d.cfg.FilePatterns, time.Time{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if path == "" {
		return "", fmt.Errorf("%w: no file matching %v in %s", ErrDownloadFailed, d.cfg.FilePatterns, dir)
	}
	log.Warn().Str("file", path).Int("checks", out.Attempts).Msg("no new export appeared, using most recent file")
	return path, nil
}

// newestMatch returns the most recently modified complete file in dir that
// matches one of patterns and was modified at or after since.
func newestMatch(dir string, patterns []string, since time.Time) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}

	var (
		best    string
		bestMod time.Time
	)
	for _, e := range entries {
		if e.IsDir() || !matches(e.Name(), patterns) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		mod := info.ModTime()
		if mod.Before(since) {
			continue
		}
		if best == "" || mod.After(bestMod) {
			best, bestMod = filepath.Join(dir, e.Name()), mod
		}
	}
	return best, nil
}

func matches(name string, patterns []string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}
	for _, p := range patterns {
		if ok, err := filepath.Match(strings.ToLower(p), lower); err == nil && ok {
			return true
		}
	}
	return false
}
