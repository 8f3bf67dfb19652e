package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/byteowlz/pinscrpr/internal/browser"
	"github.com/byteowlz/pinscrpr/internal/config"
	"github.com/byteowlz/pinscrpr/internal/logging"
	"github.com/byteowlz/pinscrpr/internal/metrics"
	"github.com/byteowlz/pinscrpr/internal/poll"
)

// Coordinator runs a list of keywords in two phases. Phase one downloads
// every export on a single long-lived browser. Phase two analyzes the
// downloads in batches, each batch on a newly launched browser.
type Coordinator struct {
	deps    Deps
	cfg     config.PipelineConfig
	retrier *Retrier

	// OnResult, when set, sees every final result as soon as it is known.
	OnResult func(AnalysisResult)
}

func NewCoordinator(deps Deps, cfg config.PipelineConfig) *Coordinator {
	if deps.Clock == nil {
		deps.Clock = poll.RealClock{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	return &Coordinator{deps: deps, cfg: cfg, retrier: NewRetrier(deps, cfg)}
}

func (c *Coordinator) Retrier() *Retrier { return c.retrier }

type run struct {
	id       string
	total    int
	progress ProgressFunc
	clock    poll.Clock
}

func (r *run) emit(phase Phase, status, keyword string, current int, message string) {
	if r.progress == nil {
		return
	}
	r.progress(Event{
		RunID:   r.id,
		Phase:   phase,
		Status:  status,
		Keyword: keyword,
		Current: current,
		Total:   r.total,
		Message: message,
		Time:    r.clock.Now(),
	})
}

func (r *run) emitter(phase Phase, keyword string, current int) emitFunc {
	return func(status, message string) { r.emit(phase, status, keyword, current, message) }
}

// Run returns exactly one result per keyword, in input order. Keywords are
// processed strictly one at a time. Cancelling ctx stops before the next
// keyword; keywords not started are reported as failed.
func (c *Coordinator) Run(ctx context.Context, keywords []string, progress ProgressFunc) []AnalysisResult {
	r := &run{id: uuid.NewString(), total: len(keywords), progress: progress, clock: c.deps.Clock}
	log := c.deps.Logger.With().Str("run_id", r.id).Logger()
	started := time.Now()

	log.Info().Int("keywords", len(keywords)).Int("batch_size", c.cfg.BatchSize).Msg("run started")
	downloads := c.downloadAll(ctx, r, keywords, log)
	results := c.analyzeAll(ctx, r, downloads, log)

	succeeded := 0
	for _, res := range results {
		if res.Success {
			succeeded++
		}
	}
	r.emit(PhaseAnalyze, StatusComplete, "", len(keywords), fmt.Sprintf("%d of %d keywords succeeded", succeeded, len(keywords)))
	log.Info().
		Int("succeeded", succeeded).
		Int("failed", len(keywords)-succeeded).
		Dur("took", time.Since(started)).
		Msg("run finished")
	return results
}

func (c *Coordinator) downloadAll(ctx context.Context, r *run, keywords []string, log zerolog.Logger) []DownloadResult {
	defer logging.TraceDuration(log, "download phase")()
	out := make([]DownloadResult, len(keywords))
	r.emit(PhaseDownload, StatusStarting, "", 0, "launching browser")

	shared, err := c.deps.Launcher.Launch(ctx)
	if err != nil {
		log.Error().Err(err).Msg("shared browser launch failed, every download starts on a retry session")
		shared = nil
	}
	defer closeSession(shared, log)

	needNavigate := true
	for i, kw := range keywords {
		if ctx.Err() != nil {
			out[i] = DownloadResult{Keyword: kw, Err: ctx.Err()}
			continue
		}
		if i > 0 {
			if err := c.deps.Clock.Sleep(ctx, c.cfg.KeywordDelayDownload); err != nil {
				out[i] = DownloadResult{Keyword: kw, Err: err}
				continue
			}
		}

		r.emit(PhaseDownload, StatusDownloading, kw, i+1, "")
		emit := r.emitter(PhaseDownload, kw, i+1)
		res := c.safeDownload(ctx, shared, kw, needNavigate, emit)
		out[i] = res

		// After a failure the shared page may be anywhere; start over.
		needNavigate = !res.Success
		if res.Success {
			emit(StatusComplete, res.FilePath)
		} else {
			emit(StatusError, res.Err.Error())
		}
	}
	return out
}

func (c *Coordinator) safeDownload(ctx context.Context, shared browser.Session, keyword string, isFirst bool, emit emitFunc) (res DownloadResult) {
	defer func() {
		if rec := recover(); rec != nil {
			c.deps.Logger.Error().
				Str("keyword", keyword).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("download panicked")
			res = DownloadResult{Keyword: keyword, Err: fmt.Errorf("download panicked: %v", rec)}
		}
	}()
	return c.retrier.Download(ctx, shared, keyword, isFirst, emit)
}

type workItem struct {
	index    int
	download DownloadResult
}

func (c *Coordinator) analyzeAll(ctx context.Context, r *run, downloads []DownloadResult, log zerolog.Logger) []AnalysisResult {
	defer logging.TraceDuration(log, "analyze phase")()
	results := make([]AnalysisResult, len(downloads))
	var ready, failed []workItem
	for i, d := range downloads {
		if d.Success {
			ready = append(ready, workItem{index: i, download: d})
		} else {
			failed = append(failed, workItem{index: i, download: d})
		}
	}

	batches := partition(ready, c.cfg.BatchSize)
	for b, batch := range batches {
		if b > 0 {
			if err := c.deps.Clock.Sleep(ctx, c.cfg.BatchDelay); err != nil {
				break
			}
		}
		c.analyzeBatch(ctx, r, b+1, len(batches), batch, results, log)
	}

	// Keywords without an export never reach the assistant.
	for _, item := range failed {
		kw := item.download.Keyword
		if ctx.Err() != nil {
			break
		}
		emit := r.emitter(PhaseAnalyze, kw, item.index+1)
		reason := "download failed"
		if item.download.Err != nil {
			reason = "download failed: " + item.download.Err.Error()
		}
		results[item.index] = c.finish(kw, c.safeAnalyze(kw, func() AnalysisResult {
			return c.retrier.Fallback(ctx, kw, reason, emit)
		}), emit)
	}

	for i, res := range results {
		if res.Keyword == "" {
			err := ctx.Err()
			if err == nil {
				err = fmt.Errorf("keyword not processed")
			}
			results[i] = c.finish(downloads[i].Keyword, failedResult(downloads[i].Keyword, err), r.emitter(PhaseAnalyze, downloads[i].Keyword, i+1))
		}
	}
	return results
}

func (c *Coordinator) analyzeBatch(ctx context.Context, r *run, n, total int, batch []workItem, results []AnalysisResult, log zerolog.Logger) {
	log = log.With().Int("batch", n).Int("batches", total).Logger()
	r.emit(PhaseAnalyze, StatusStarting, "", batch[0].index+1, fmt.Sprintf("batch %d of %d", n, total))
	log.Info().Int("keywords", len(batch)).Msg("batch started")

	s, err := c.deps.Launcher.Launch(ctx)
	if err != nil {
		log.Error().Err(err).Msg("batch browser launch failed, using fallback for the batch")
		s = nil
	}
	defer closeSession(s, log)

	opened := false
	if s != nil {
		if err := c.deps.Assistant.Open(ctx, s); err != nil {
			log.Warn().Err(err).Msg("assistant entry page failed to load")
		} else {
			opened = true
		}
	}

	for j, item := range batch {
		if ctx.Err() != nil {
			return
		}
		if j > 0 {
			if err := c.deps.Clock.Sleep(ctx, c.cfg.KeywordDelayAnalyze); err != nil {
				return
			}
		}

		kw := item.download.Keyword
		emit := r.emitter(PhaseAnalyze, kw, item.index+1)
		emit(StatusAnalyzing, fmt.Sprintf("batch %d of %d", n, total))
		firstInBatch := j == 0 && opened

		var res AnalysisResult
		if s == nil {
			res = c.safeAnalyze(kw, func() AnalysisResult {
				return c.retrier.Fallback(ctx, kw, "no browser for batch", emit)
			})
		} else {
			res = c.safeAnalyze(kw, func() AnalysisResult {
				return c.retrier.Analyze(ctx, s, kw, item.download.FilePath, firstInBatch, emit)
			})
		}
		results[item.index] = c.finish(kw, res, emit)
	}
}

func (c *Coordinator) safeAnalyze(keyword string, fn func() AnalysisResult) (res AnalysisResult) {
	defer func() {
		if rec := recover(); rec != nil {
			c.deps.Logger.Error().
				Str("keyword", keyword).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("analysis panicked")
			res = failedResult(keyword, fmt.Errorf("analysis panicked: %v", rec))
		}
	}()
	return fn()
}

func (c *Coordinator) finish(keyword string, res AnalysisResult, emit emitFunc) AnalysisResult {
	res.Keyword = keyword
	res.FinishedAt = c.deps.Clock.Now()
	metrics.KeywordFinished(string(res.Source), res.Success)

	if res.Success {
		emit(StatusComplete, string(res.Source))
	} else {
		emit(StatusError, res.Error)
	}
	if c.OnResult != nil {
		c.OnResult(res)
	}
	return res
}

func closeSession(s browser.Session, log zerolog.Logger) {
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		log.Warn().Err(err).Msg("closing browser")
	}
}

func partition[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	var out [][]T
	for len(items) > 0 {
		n := min(size, len(items))
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}
