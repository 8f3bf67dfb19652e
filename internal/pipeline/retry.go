package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/byteowlz/pinscrpr/internal/assistant"
	"github.com/byteowlz/pinscrpr/internal/browser"
	"github.com/byteowlz/pinscrpr/internal/config"
	"github.com/byteowlz/pinscrpr/internal/export"
	"github.com/byteowlz/pinscrpr/internal/metrics"
	"github.com/byteowlz/pinscrpr/internal/parser"
	"github.com/byteowlz/pinscrpr/internal/poll"
)

// Deps are the collaborators shared by the retry and batch layers.
type Deps struct {
	Launcher   browser.Launcher
	Downloader Downloader
	Assistant  Analyzer
	Parser     Parser
	Fallback   Generator
	Clock      poll.Clock
	Logger     zerolog.Logger
}

// emitFunc reports a status for the keyword being processed.
type emitFunc = func(status, message string)

func noEmit(string, string) {}

// Retrier runs the download and analyze stages with bounded retries. Every
// download retry gets its own freshly launched browser; nothing but the
// attempt counter carries over between attempts.
type Retrier struct {
	deps Deps
	cfg  config.PipelineConfig
}

func NewRetrier(deps Deps, cfg config.PipelineConfig) *Retrier {
	if deps.Clock == nil {
		deps.Clock = poll.RealClock{}
	}
	return &Retrier{deps: deps, cfg: cfg}
}

// Download tries the shared session first, then up to DownloadRetries
// fresh sessions. A nil shared session counts as a failed first attempt.
func (r *Retrier) Download(ctx context.Context, shared browser.Session, keyword string, isFirst bool, emit emitFunc) DownloadResult {
	if emit == nil {
		emit = noEmit
	}
	log := r.deps.Logger.With().Str("keyword", keyword).Str("stage", "download").Logger()
	total := 1 + max(0, r.cfg.DownloadRetries)
	res := DownloadResult{Keyword: keyword}

	for attempt := 1; attempt <= total; attempt++ {
		res.Attempts = attempt
		if attempt > 1 {
			emit(StatusRetrying, fmt.Sprintf("download attempt %d of %d", attempt, total))
			if err := r.deps.Clock.Sleep(ctx, r.cfg.DownloadRetryDelay); err != nil {
				res.Err = err
				return res
			}
		}

		var (
			path     string
			err      error
			strategy string
		)
		if attempt == 1 {
			strategy = "shared-session"
			if shared == nil {
				err = errors.New("no shared browser session")
			} else {
				path, err = r.deps.Downloader.Download(ctx, shared, keyword, isFirst, emit)
			}
		} else {
			strategy = "fresh-session"
			path, err = r.downloadFresh(ctx, keyword, emit)
		}

		rec := AttemptRecord{Attempt: attempt, Strategy: strategy, Outcome: outcome(err)}
		logAttempt(log, rec, err)
		metrics.Attempt("download", rec.Outcome)

		if err == nil {
			res.FilePath = path
			res.Success = true
			res.Err = nil
			return res
		}
		res.Err = err
		if ctx.Err() != nil {
			return res
		}
	}
	return res
}

func (r *Retrier) downloadFresh(ctx context.Context, keyword string, emit emitFunc) (string, error) {
	s, err := r.deps.Launcher.Launch(ctx)
	if err != nil {
		return "", fmt.Errorf("launching browser: %w", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			r.deps.Logger.Warn().Err(err).Str("keyword", keyword).Msg("closing retry browser")
		}
	}()
	return r.deps.Downloader.Download(ctx, s, keyword, true, emit)
}

// Analyze runs analyze and parse up to AnalyzeAttempts times and escalates
// to the fallback generator once they are exhausted. A nil session skips
// straight to the fallback. Unless firstInBatch, the keyword starts in a new
// conversation.
func (r *Retrier) Analyze(ctx context.Context, s browser.Session, keyword, fileRef string, firstInBatch bool, emit emitFunc) AnalysisResult {
	if emit == nil {
		emit = noEmit
	}
	log := r.deps.Logger.With().Str("keyword", keyword).Str("stage", "analyze").Logger()
	total := max(1, r.cfg.AnalyzeAttempts)

	attempt := 0
	for s != nil && attempt < total {
		attempt++
		if attempt > 1 {
			emit(StatusRetrying, fmt.Sprintf("analysis attempt %d of %d", attempt, total))
		}

		fresh := (attempt == 1 && !firstInBatch) ||
			(r.cfg.FreshConversationFromAttempt > 0 && attempt >= r.cfg.FreshConversationFromAttempt)
		res, rec, err := r.analyzeOnce(ctx, s, keyword, fileRef, attempt, fresh, emit)
		logAttempt(log, rec, err)
		metrics.Attempt("analyze", rec.Outcome)

		if err == nil {
			res.Attempts = attempt
			return res
		}
		if ctx.Err() != nil {
			out := failedResult(keyword, ctx.Err())
			out.Attempts = attempt
			return out
		}
	}

	reason := "analysis attempts exhausted"
	if s == nil {
		reason = "no assistant session"
	}
	res := r.Fallback(ctx, keyword, reason, emit)
	res.Attempts = attempt
	return res
}

// analyzeOnce runs one attempt. A panic in the assistant or parser fails
// only this attempt.
func (r *Retrier) analyzeOnce(ctx context.Context, s browser.Session, keyword, fileRef string, attempt int, fresh bool, emit emitFunc) (res AnalysisResult, rec AttemptRecord, err error) {
	rec = AttemptRecord{Attempt: attempt, Strategy: "same-conversation"}
	defer func() {
		if p := recover(); p != nil {
			r.deps.Logger.Error().
				Str("keyword", keyword).
				Int("attempt", attempt).
				Interface("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("analysis attempt panicked")
			res, rec.Outcome, err = AnalysisResult{}, "panic", fmt.Errorf("analysis attempt %d panicked: %v", attempt, p)
		}
	}()
	if fresh {
		rec.Strategy = "fresh-conversation"
		if err := r.deps.Assistant.NewConversation(ctx, s); err != nil {
			rec.Outcome = "conversation_error"
			return AnalysisResult{}, rec, err
		}
	}

	emit(StatusAnalyzing, fmt.Sprintf("attempt %d", attempt))
	reply, err := r.deps.Assistant.Analyze(ctx, s, keyword, fileRef)
	if err != nil {
		rec.Outcome = outcome(err)
		return AnalysisResult{}, rec, err
	}

	parsed, err := r.deps.Parser.Parse(ctx, reply.Text, keyword)
	if err != nil {
		rec.Outcome = outcome(err)
		return AnalysisResult{}, rec, err
	}

	rec.Strategy += "/" + parsed.Strategy
	rec.Outcome = "success"
	res = resultFrom(keyword, parsed.Content)
	res.Strategy = parsed.Strategy
	return res, rec, nil
}

// Fallback generates content from the keyword alone. Its failure is final.
func (r *Retrier) Fallback(ctx context.Context, keyword, reason string, emit emitFunc) AnalysisResult {
	if emit == nil {
		emit = noEmit
	}
	log := r.deps.Logger.With().Str("keyword", keyword).Str("stage", "fallback").Logger()
	emit(StatusFallback, reason)
	log.Warn().Str("strategy", "fallback").Str("reason", reason).Msg("escalating to fallback generator")

	if r.deps.Fallback == nil {
		return failedResult(keyword, errors.New("fallback generator not configured"))
	}
	p, err := r.deps.Fallback.Generate(ctx, keyword)
	if err != nil {
		log.Error().Err(err).Str("strategy", "fallback").Msg("fallback generation failed")
		return failedResult(keyword, err)
	}
	res := resultFrom(keyword, p)
	res.Strategy = "fallback"
	return res
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, parser.ErrNoContent):
		return "parse_rejected"
	case errors.Is(err, assistant.ErrExtractionFailed):
		return "extraction_failed"
	case errors.Is(err, export.ErrDownloadFailed):
		return "download_failed"
	case errors.Is(err, browser.ErrDriverTimeout):
		return "driver_timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

func logAttempt(log zerolog.Logger, rec AttemptRecord, err error) {
	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Int("attempt", rec.Attempt).
		Str("strategy", rec.Strategy).
		Str("reason", rec.Outcome).
		Msg("attempt finished")
}
