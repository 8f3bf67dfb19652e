// Package fallback synthesizes pin content from the keyword alone when the
// browser pipeline could not produce an accepted parse.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/byteowlz/pinscrpr/internal/llm"
	"github.com/byteowlz/pinscrpr/internal/metrics"
	"github.com/byteowlz/pinscrpr/internal/parser"
)

// DefaultCount matches the four items the assistant instruction asks for.
const DefaultCount = 4

const systemPrompt = `You are a Pinterest SEO copywriter.
Reply with a plain numbered list, one item per line, and nothing else.`

// Generator issues three prompts (titles, descriptions given the titles,
// overlays) and never touches a browser.
type Generator struct {
	provider llm.Provider
	count    int
	logger   zerolog.Logger
}

func New(provider llm.Provider, logger zerolog.Logger) *Generator {
	return &Generator{provider: provider, count: DefaultCount, logger: logger}
}

// WithCount overrides the number of items requested per section.
func (g *Generator) WithCount(n int) *Generator {
	if n > 0 {
		g.count = n
	}
	return g
}

// Generate returns content tagged openai-fallback. Every failure is a
// *llm.GenerationAPIError; there is nothing left to fall back to.
func (g *Generator) Generate(ctx context.Context, keyword string) (parser.ParsedContent, error) {
	start := time.Now()
	defer metrics.ObserveStage("fallback", start)

	if g.provider == nil {
		return parser.ParsedContent{}, &llm.GenerationAPIError{Provider: "none", Err: errors.New("no generation provider configured")}
	}
	log := g.logger.With().Str("keyword", keyword).Str("provider", g.provider.Name()).Logger()

	titles, err := g.list(ctx, "titles", fmt.Sprintf(
		"Write %d Pinterest pin titles for the keyword %q. Each title under 100 characters, keyword-rich and click-worthy.",
		g.count, keyword))
	if err != nil {
		return parser.ParsedContent{}, err
	}

	descriptions, err := g.list(ctx, "descriptions", fmt.Sprintf(
		"Write %d Pinterest pin descriptions for the keyword %q, one for each of these titles in order:\n%s\n"+
			"Each description is 2 to 3 sentences, under 500 characters, and ends with a call to action.",
		g.count, keyword, numbered(titles)))
	if err != nil {
		return parser.ParsedContent{}, err
	}

	overlays, err := g.list(ctx, "overlays", fmt.Sprintf(
		"Write %d short text overlays (2 to 5 words each) for Pinterest pin images about %q.",
		g.count, keyword))
	if err != nil {
		return parser.ParsedContent{}, err
	}

	p := parser.ParsedContent{
		Titles:       titles,
		Descriptions: parser.StripTitleDuplicates(titles, descriptions),
		Overlays:     overlays,
		Source:       parser.SourceFallback,
	}
	p.Validation.MatchRatio = parser.MatchRatio(p, keyword)

	if !p.Accepted() {
		metrics.Attempt("fallback", "empty")
		return parser.ParsedContent{}, &llm.GenerationAPIError{Provider: g.provider.Name(), Err: errors.New("generated content has no titles or descriptions")}
	}

	metrics.Attempt("fallback", "success")
	log.Info().
		Int("titles", len(p.Titles)).
		Int("descriptions", len(p.Descriptions)).
		Int("overlays", len(p.Overlays)).
		Dur("took", time.Since(start)).
		Msg("fallback content generated")
	return p, nil
}

func (g *Generator) list(ctx context.Context, section, prompt string) ([]string, error) {
	out, err := g.provider.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Prompt:      prompt,
		Temperature: 0.7,
	})
	if err != nil {
		metrics.Attempt("fallback", "api_error")
		var apiErr *llm.GenerationAPIError
		if errors.As(err, &apiErr) {
			return nil, err
		}
		return nil, &llm.GenerationAPIError{Provider: g.provider.Name(), Err: fmt.Errorf("%s: %w", section, err)}
	}

	items := parser.SplitItems(out)
	if len(items) > g.count {
		items = items[:g.count]
	}
	if len(items) == 0 && section != "overlays" {
		metrics.Attempt("fallback", "empty")
		return nil, &llm.GenerationAPIError{Provider: g.provider.Name(), Err: fmt.Errorf("%s: empty reply", section)}
	}
	return items, nil
}

func numbered(items []string) string {
	var sb strings.Builder
	for i, s := range items {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, s)
	}
	return strings.TrimRight(sb.String(), "\n")
}
