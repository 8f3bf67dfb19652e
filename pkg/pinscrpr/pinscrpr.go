// Package pinscrpr wires a loaded configuration into a ready-to-run keyword
// pipeline.
package pinscrpr

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/byteowlz/pinscrpr/internal/assistant"
	"github.com/byteowlz/pinscrpr/internal/browser"
	"github.com/byteowlz/pinscrpr/internal/config"
	"github.com/byteowlz/pinscrpr/internal/events"
	"github.com/byteowlz/pinscrpr/internal/export"
	"github.com/byteowlz/pinscrpr/internal/fallback"
	"github.com/byteowlz/pinscrpr/internal/llm"
	"github.com/byteowlz/pinscrpr/internal/metrics"
	"github.com/byteowlz/pinscrpr/internal/parser"
	"github.com/byteowlz/pinscrpr/internal/pipeline"
	"github.com/byteowlz/pinscrpr/internal/poll"
	"github.com/byteowlz/pinscrpr/internal/server"
	"github.com/byteowlz/pinscrpr/internal/store"
)

type (
	Result   = pipeline.AnalysisResult
	Event    = pipeline.Event
	Snapshot = pipeline.Snapshot
)

type Options struct {
	Logger zerolog.Logger
	// Progress receives every pipeline event in addition to the built-in sinks.
	Progress pipeline.ProgressFunc
	// NoAI disables the generation API: no structured parse and no fallback.
	NoAI bool
}

// Pipeline owns every long-lived collaborator of a run.
type Pipeline struct {
	config    *config.Config
	logger    zerolog.Logger
	provider  llm.Provider
	chain     *parser.Chain
	generator *fallback.Generator
	deps      pipeline.Deps
	tracker   *pipeline.Tracker
	store     *store.Store
	publisher *events.Publisher
	progress  pipeline.ProgressFunc
}

// New builds the pipeline. A missing API key is not an error: the structured
// parse step is skipped and fallback generation reports the failure per
// keyword. The result store and the NATS publisher are only opened when
// configured.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Pipeline, error) {
	log := opts.Logger
	p := &Pipeline{
		config:   cfg,
		logger:   log,
		tracker:  pipeline.NewTracker(),
		progress: opts.Progress,
	}

	if !opts.NoAI {
		provider, err := llm.New(ctx, cfg.LLM)
		if err != nil {
			log.Warn().Err(err).Msg("generation API unavailable, structured parsing and fallback disabled")
		} else {
			p.provider = provider
		}
	}
	p.chain = parser.NewDefaultChain(p.provider, cfg.LLM.MaxInputTokens, log.With().Str("component", "parser").Logger())
	p.generator = fallback.New(p.provider, log.With().Str("component", "fallback").Logger())

	instruction := assistant.DefaultInstruction()
	if cfg.Assistant.InstructionFile != "" {
		loaded, err := assistant.LoadInstruction(cfg.Assistant.InstructionFile)
		if err != nil {
			return nil, err
		}
		instruction = loaded
	}

	clock := poll.RealClock{}
	p.deps = pipeline.Deps{
		Launcher:   browser.NewChromeLauncher(launchOptions(ctx, cfg, log), log),
		Downloader: export.New(cfg.Export, clock, log.With().Str("component", "export").Logger()),
		Assistant:  assistant.New(cfg.Assistant, instruction, clock, log.With().Str("component", "assistant").Logger()),
		Parser:     p.chain,
		Fallback:   p.generator,
		Clock:      clock,
		Logger:     log.With().Str("component", "pipeline").Logger(),
	}

	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("opening result store: %w", err)
		}
		p.store = st
	}

	if cfg.Events.NATSURL != "" {
		pub, err := events.Connect(cfg.Events.NATSURL, cfg.Events.Subject, log.With().Str("component", "events").Logger())
		if err != nil {
			// Progress mirroring is optional.
			log.Warn().Err(err).Msg("NATS unavailable, progress events will not be published")
		} else {
			p.publisher = pub
		}
	}

	metrics.MustRegister()
	return p, nil
}

func launchOptions(ctx context.Context, cfg *config.Config, log zerolog.Logger) browser.LaunchOptions {
	return browser.LaunchOptions{
		ProfileDir:     cfg.Browser.ProfileDir,
		DownloadDir:    cfg.Browser.DownloadDir,
		ExecPath:       cfg.Browser.ExecPath,
		UserAgent:      cfg.Browser.UserAgent,
		BrowserAgent:   cfg.Browser.BrowserAgent,
		Headless:       cfg.Browser.Headless,
		NavTimeout:     cfg.Browser.NavTimeout,
		ElementTimeout: cfg.Browser.ElementTimeout,
		Cookies:        loadCookies(ctx, cfg.Browser, log),
	}
}

// loadCookies collects login cookies from the desktop browser and the
// cookies file. Failures only cost the pre-seeded login.
func loadCookies(ctx context.Context, cfg config.BrowserConfig, log zerolog.Logger) []*http.Cookie {
	var cookies []*http.Cookie

	fromBrowser, err := browser.NewCookieExtractor(browser.BrowserType(cfg.CookieBrowser)).ExtractCookies(ctx, cfg.CookieDomains)
	if err != nil {
		log.Warn().Err(err).Str("browser", cfg.CookieBrowser).Msg("cookie import failed")
	}
	cookies = append(cookies, fromBrowser...)

	if cfg.CookiesFile != "" {
		defaultDomain := ""
		if len(cfg.CookieDomains) > 0 {
			defaultDomain = cfg.CookieDomains[0]
		}
		fromFile, err := browser.LoadCookiesFile(cfg.CookiesFile, defaultDomain)
		if err != nil {
			log.Warn().Err(err).Str("file", cfg.CookiesFile).Msg("cookie file import failed")
		}
		cookies = append(cookies, fromFile...)
	}

	if len(cookies) > 0 {
		log.Debug().Int("cookies", len(cookies)).Msg("login cookies loaded")
	}
	return cookies
}

// Run processes keywords end to end and returns one result per keyword in
// input order. Results are saved to the store as they finish.
func (p *Pipeline) Run(ctx context.Context, keywords []string) []Result {
	c := pipeline.NewCoordinator(p.deps, p.config.Pipeline)

	var runID string
	sinks := []pipeline.ProgressFunc{
		func(e Event) { runID = e.RunID },
		p.tracker.Observe,
		p.progress,
	}
	if p.publisher != nil {
		sinks = append(sinks, p.publisher.Progress)
	}

	c.OnResult = func(r Result) {
		if p.publisher != nil {
			p.publisher.Result(runID, r)
		}
		if p.store == nil {
			return
		}
		if _, err := p.store.Save(context.WithoutCancel(ctx), runID, r); err != nil {
			p.logger.Error().Err(err).Str("keyword", r.Keyword).Msg("saving result")
		}
	}

	return c.Run(ctx, keywords, pipeline.Fanout(sinks...))
}

// Parse runs the parser chain over a saved reply without any browsing.
func (p *Pipeline) Parse(ctx context.Context, raw, keyword string) (Result, error) {
	res, err := p.chain.Parse(ctx, raw, keyword)
	if err != nil {
		return Result{}, err
	}
	out := Result{
		Keyword:      keyword,
		Titles:       res.Content.Titles,
		Descriptions: res.Content.Descriptions,
		Overlays:     res.Content.Overlays,
		Source:       res.Content.Source,
		Success:      true,
		MatchRatio:   res.Content.Validation.MatchRatio,
		Strategy:     res.Strategy,
		FinishedAt:   time.Now(),
	}
	return out, nil
}

// Generate runs only the fallback generator for keyword.
func (p *Pipeline) Generate(ctx context.Context, keyword string) (Result, error) {
	c, err := p.generator.Generate(ctx, keyword)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Keyword:      keyword,
		Titles:       c.Titles,
		Descriptions: c.Descriptions,
		Overlays:     c.Overlays,
		Source:       c.Source,
		Success:      true,
		MatchRatio:   c.Validation.MatchRatio,
		Strategy:     "fallback",
		FinishedAt:   time.Now(),
	}, nil
}

func (p *Pipeline) Snapshot() Snapshot { return p.tracker.Snapshot() }

// Handler serves /healthz, /metrics, /progress and /results.
func (p *Pipeline) Handler() http.Handler {
	deps := server.Deps{Tracker: p.tracker, Logger: p.logger.With().Str("component", "server").Logger()}
	if p.store != nil {
		deps.Results = p.store
	}
	return server.NewHandler(deps)
}

// Store returns the result store, or nil when store.path is empty.
func (p *Pipeline) Store() *store.Store { return p.store }

func (p *Pipeline) Close() error {
	var firstErr error
	if p.publisher != nil {
		if err := p.publisher.Close(); err != nil {
			firstErr = err
		}
	}
	if p.store != nil {
		if err := p.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
