package parser

import (
	"errors"
	"strings"
)

type Source string

const (
	SourceChatGPT  Source = "chatgpt"
	SourceFallback Source = "openai-fallback"
)

// ErrNoContent signals that no strategy produced output passing the
// acceptance gate. It drives retries and is never shown to callers.
var ErrNoContent = errors.New("parser: no titles and descriptions found")

type Validation struct {
	// MatchRatio is the fraction of significant keyword words found in the
	// extracted text. Diagnostic only.
	MatchRatio float64 `json:"match_ratio"`
}

type ParsedContent struct {
	Titles       []string   `json:"titles"`
	Descriptions []string   `json:"descriptions"`
	Overlays     []string   `json:"overlays"`
	Source       Source     `json:"source"`
	Validation   Validation `json:"validation"`
}

// Accepted is the acceptance gate: at least one non-empty title and one
// non-empty description. Overlays may be empty.
func (p ParsedContent) Accepted() bool {
	return countNonEmpty(p.Titles) > 0 && countNonEmpty(p.Descriptions) > 0
}

func (p ParsedContent) Empty() bool {
	return len(p.Titles) == 0 && len(p.Descriptions) == 0 && len(p.Overlays) == 0
}

func countNonEmpty(items []string) int {
	n := 0
	for _, s := range items {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	return n
}

// MatchRatio lower-cases every extracted string and reports which fraction of
// the keyword's words longer than three characters occur in it. A keyword
// without such words scores 1.
func MatchRatio(p ParsedContent, keyword string) float64 {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(keyword)) {
		if len([]rune(w)) > 3 {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return 1
	}

	var all []string
	all = append(all, p.Titles...)
	all = append(all, p.Descriptions...)
	all = append(all, p.Overlays...)
	text := strings.ToLower(strings.Join(all, " "))

	hits := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}
