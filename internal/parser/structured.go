package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/byteowlz/pinscrpr/internal/llm"
)

const structuredSystemPrompt = `You convert Pinterest SEO drafts into JSON.
Respond with a single JSON object and nothing else: no prose, no markdown, no code fences.
Schema: {"titles": [string], "descriptions": [string], "overlays": [string]}
Copy the items from the draft. Do not invent items that are not in the draft.
Remove list numbering, labels such as "Title 1:" and markdown emphasis.
Use an empty array for any section the draft does not contain.`

// Structured asks the generation API to restructure the reply as JSON.
type Structured struct {
	provider  llm.Provider
	maxTokens int
	logger    zerolog.Logger
}

func NewStructured(provider llm.Provider, maxInputTokens int, logger zerolog.Logger) *Structured {
	return &Structured{
		provider:  provider,
		maxTokens: maxInputTokens,
		logger:    logger,
	}
}

func (s *Structured) Name() string { return "structured" }

func (s *Structured) Parse(ctx context.Context, raw, keyword string) (ParsedContent, error) {
	if s.provider == nil {
		return ParsedContent{}, errors.New("structured: no generation provider configured")
	}

	text, truncated, err := llm.Truncate(raw, s.maxTokens)
	if err != nil {
		s.logger.Warn().Err(err).Msg("token count unavailable, sending reply untruncated")
		text = raw
	}
	if truncated {
		s.logger.Debug().Int("max_tokens", s.maxTokens).Msg("reply truncated before structured parse")
	}

	prompt := fmt.Sprintf("Keyword: %s\n\nDraft:\n%s", keyword, text)
	out, err := s.provider.Complete(ctx, llm.Request{
		System:      structuredSystemPrompt,
		Prompt:      prompt,
		JSON:        true,
		Temperature: 0.1,
	})
	if err != nil {
		return ParsedContent{}, fmt.Errorf("structured: %w", err)
	}

	p, err := decodeStructured(out)
	if err != nil {
		return ParsedContent{}, fmt.Errorf("structured: %w", err)
	}
	return p, nil
}

type structuredReply struct {
	Titles       []string `json:"titles"`
	Descriptions []string `json:"descriptions"`
	Overlays     []string `json:"overlays"`
	TextOverlays []string `json:"text_overlays"`
}

// decodeStructured tolerates code fences and text around the JSON object.
func decodeStructured(out string) (ParsedContent, error) {
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start < 0 || end <= start {
		return ParsedContent{}, errors.New("reply contains no JSON object")
	}

	var r structuredReply
	if err := json.Unmarshal([]byte(out[start:end+1]), &r); err != nil {
		return ParsedContent{}, fmt.Errorf("decoding reply: %w", err)
	}
	overlays := r.Overlays
	if len(overlays) == 0 {
		overlays = r.TextOverlays
	}
	return ParsedContent{
		Titles:       r.Titles,
		Descriptions: r.Descriptions,
		Overlays:     overlays,
	}, nil
}
