package parser

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/byteowlz/pinscrpr/internal/llm"
	"github.com/byteowlz/pinscrpr/internal/metrics"
)

// lowMatchRatio triggers a relevance warning; it never rejects a parse.
const lowMatchRatio = 0.3

// Strategy turns raw reply text into content. Strategies do not apply the
// acceptance gate themselves.
type Strategy interface {
	Name() string
	Parse(ctx context.Context, raw, keyword string) (ParsedContent, error)
}

var (
	_ Strategy = (*Structured)(nil)
	_ Strategy = (*Heuristic)(nil)
	_ Strategy = (*Legacy)(nil)
)

// Chain runs strategies in order and returns the first result that passes
// the acceptance gate.
type Chain struct {
	strategies []Strategy
	logger     zerolog.Logger
}

func NewChain(logger zerolog.Logger, strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies, logger: logger}
}

// NewDefaultChain builds structured -> heuristic -> legacy. A nil provider
// leaves the structured step out.
func NewDefaultChain(provider llm.Provider, maxInputTokens int, logger zerolog.Logger) *Chain {
	var strategies []Strategy
	if provider != nil {
		strategies = append(strategies, NewStructured(provider, maxInputTokens, logger))
	}
	strategies = append(strategies, NewHeuristic(), NewLegacy())
	return NewChain(logger, strategies...)
}

// Result is the accepted content and the strategy that produced it.
type Result struct {
	Content  ParsedContent
	Strategy string
}

// Parse returns ErrNoContent when no strategy passes the gate.
func (c *Chain) Parse(ctx context.Context, raw, keyword string) (Result, error) {
	log := c.logger.With().Str("keyword", keyword).Logger()

	for _, s := range c.strategies {
		start := time.Now()
		p, err := safeParse(ctx, s, raw, keyword)
		if err != nil {
			log.Warn().Err(err).Str("strategy", s.Name()).Str("reason", "strategy error").Msg("parse strategy failed, trying next")
			metrics.ParseStrategy(s.Name(), false)
			continue
		}

		p = finalize(p)
		accepted := p.Accepted()
		metrics.ParseStrategy(s.Name(), accepted)

		if !accepted {
			log.Debug().
				Str("strategy", s.Name()).
				Str("reason", "acceptance gate").
				Int("titles", len(p.Titles)).
				Int("descriptions", len(p.Descriptions)).
				Msg("parse result rejected")
			continue
		}

		p.Source = SourceChatGPT
		p.Validation.MatchRatio = MatchRatio(p, keyword)
		if p.Validation.MatchRatio < lowMatchRatio {
			log.Warn().
				Str("strategy", s.Name()).
				Float64("match_ratio", p.Validation.MatchRatio).
				Msg("parsed content barely mentions the keyword")
		}

		log.Info().
			Str("strategy", s.Name()).
			Int("titles", len(p.Titles)).
			Int("descriptions", len(p.Descriptions)).
			Int("overlays", len(p.Overlays)).
			Dur("took", time.Since(start)).
			Msg("reply parsed")
		return Result{Content: p, Strategy: s.Name()}, nil
	}

	return Result{}, ErrNoContent
}

func safeParse(ctx context.Context, s Strategy, raw, keyword string) (p ParsedContent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", s.Name(), r)
		}
	}()
	return s.Parse(ctx, raw, keyword)
}
