// Package pipeline sequences keywords through download, analysis, parsing
// and fallback generation.
package pipeline

import (
	"context"
	"time"

	"github.com/byteowlz/pinscrpr/internal/assistant"
	"github.com/byteowlz/pinscrpr/internal/browser"
	"github.com/byteowlz/pinscrpr/internal/export"
	"github.com/byteowlz/pinscrpr/internal/parser"
)

type Downloader interface {
	Download(ctx context.Context, s browser.Session, keyword string, isFirst bool, progress export.Progress) (string, error)
}

type Analyzer interface {
	Open(ctx context.Context, s browser.Session) error
	NewConversation(ctx context.Context, s browser.Session) error
	Analyze(ctx context.Context, s browser.Session, keyword, fileRef string) (assistant.RawReply, error)
}

type Parser interface {
	Parse(ctx context.Context, raw, keyword string) (parser.Result, error)
}

type Generator interface {
	Generate(ctx context.Context, keyword string) (parser.ParsedContent, error)
}

var (
	_ Downloader = (*export.Downloader)(nil)
	_ Analyzer   = (*assistant.Assistant)(nil)
	_ Parser     = (*parser.Chain)(nil)
)

// DownloadResult is the outcome of the download stage for one keyword.
type DownloadResult struct {
	Keyword  string
	FilePath string
	Success  bool
	Err      error
	Attempts int
}

// AnalysisResult is the final, caller-facing record for one keyword.
type AnalysisResult struct {
	Keyword      string        `json:"keyword"`
	Titles       []string      `json:"titles"`
	Descriptions []string      `json:"descriptions"`
	Overlays     []string      `json:"overlays"`
	Source       parser.Source `json:"source,omitempty"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	MatchRatio   float64       `json:"match_ratio"`
	Strategy     string        `json:"strategy,omitempty"`
	Attempts     int           `json:"attempts"`
	FinishedAt   time.Time     `json:"finished_at"`
}

func resultFrom(keyword string, p parser.ParsedContent) AnalysisResult {
	return AnalysisResult{
		Keyword:      keyword,
		Titles:       p.Titles,
		Descriptions: p.Descriptions,
		Overlays:     p.Overlays,
		Source:       p.Source,
		Success:      true,
		MatchRatio:   p.Validation.MatchRatio,
	}
}

func failedResult(keyword string, err error) AnalysisResult {
	return AnalysisResult{
		Keyword:      keyword,
		Titles:       []string{},
		Descriptions: []string{},
		Overlays:     []string{},
		Error:        err.Error(),
	}
}

// AttemptRecord tracks one try at a stage. It only lives in logs.
type AttemptRecord struct {
	Attempt  int
	Strategy string
	Outcome  string
}
