package parser

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// "1. x", "2) x", "**3.** x", "### 4. x", "- 5. x"
	numberedRe     = regexp.MustCompile(`^\s*(?:#{1,6}\s*)?(?:[-*•]\s+)?(?:\*\*|__)?\s*(\d{1,2})[.)](?:\*\*|__)?(?:\s+(.*))?$`)
	bulletRe       = regexp.MustCompile(`^\s*[-*•]\s+(.*)$`)
	// "Description 3: x", "**Title 1:** x", "- Overlay 2 - x"
	labelledLineRe = regexp.MustCompile(`(?i)^\s*(?:[-*•]\s+)?(?:\*\*|__)?\s*(?:pin\s+)?(?:title|description|text\s+overlay|overlay(?:\s+text)?)\s*#?\s*(\d{1,2})\s*(?:\*\*|__)?\s*[:.)\-–—]\s*(?:\*\*|__)?\s*(.*)$`)
	forTitleRe     = regexp.MustCompile(`(?i)^\s*(?:[-*•]\s+)?(?:\*\*|__)?\s*for\s+(?:pin\s+)?title\s*#?\s*(\d{1,2})\s*(?:\*\*|__)?\s*[:.)\-–—]?\s*(?:\*\*|__)?\s*(.*)$`)

	emphasisRe    = regexp.MustCompile(`\*\*|__`)
	leadingMarkRe = regexp.MustCompile(`^(?:#{1,6}\s*)?(?:[-*•]\s+)?(?:\d{1,2}[.)]\s*)?`)
	itemLabelRe   = regexp.MustCompile(`(?i)^(?:pin\s+)?(?:title|description|text\s+overlay|overlay(?:\s+text)?)\s*#?\s*\d*\s*[:\-–—]\s*`)

	// Lines the assistant adds around the requested content.
	chatterRe = regexp.MustCompile(`(?i)^(?:here\s+(?:are|is)\b|here's\b|if\s+you\s+want\b|let\s+me\s+know\b|would\s+you\s+like\b|want\s+me\s+to\b|note:|i\s+can\s+also\b|hope\s+(?:this|these)\b)`)
	// Overlay text is short, so anything resembling commentary is dropped.
	overlayMetaRe = regexp.MustCompile(`(?i)(if\s+you\s+want|download|let\s+me\s+know|would\s+you\s+like|here\s+are|note:|\bpin\s+titles?\b|\bpin\s+descriptions?\b|\btext\s+overlays?\b|\barticle\s+title\b)`)
)

// cleanItem strips list markers, emphasis, item labels and wrapping quotes.
func cleanItem(s string) string {
	s = strings.TrimSpace(s)
	s = emphasisRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = leadingMarkRe.ReplaceAllString(s, "")
	s = itemLabelRe.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	return trimQuotes(s)
}

func trimQuotes(s string) string {
	pairs := [][2]string{{`"`, `"`}, {"“", "”"}, {"'", "'"}, {"‘", "’"}}
	for _, p := range pairs {
		if len(s) >= len(p[0])+len(p[1]) && strings.HasPrefix(s, p[0]) && strings.HasSuffix(s, p[1]) {
			return strings.TrimSpace(s[len(p[0]) : len(s)-len(p[1])])
		}
	}
	return s
}

func cleanAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if c := cleanItem(s); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// SplitItems splits a plain list reply into cleaned items, one per line.
// Numbering, bullets, labels and assistant chatter are dropped.
func SplitItems(text string) []string {
	var items []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" || isChatter(line) || classifyHeader(line) != sectionNone {
			continue
		}
		if s := cleanItem(line); s != "" {
			items = append(items, s)
		}
	}
	return items
}

func isChatter(line string) bool {
	return chatterRe.MatchString(cleanItem(line))
}

// StripTitleDuplicates removes a title repeated at the start of a description
// ("Garlic Shrimp: Buttery ..." becomes "Buttery ..."). Descriptions left
// empty are dropped. Descriptions that do not start with a title are returned
// unchanged.
func StripTitleDuplicates(titles, descriptions []string) []string {
	out := make([]string, 0, len(descriptions))
	for _, d := range descriptions {
		stripped := d
		for _, t := range titles {
			t = strings.TrimSpace(t)
			if t == "" || len(stripped) < len(t) {
				continue
			}
			prefix := stripped[:len(t)]
			if !utf8.ValidString(prefix) || !strings.EqualFold(prefix, t) {
				continue
			}
			rest := stripped[len(t):]
			// Only strip on a word boundary.
			if rest != "" {
				r, _ := utf8.DecodeRuneInString(rest)
				if isWordRune(r) {
					continue
				}
			}
			stripped = strings.TrimSpace(strings.TrimLeft(rest, " \t:;,.-–—|"))
			break
		}
		if stripped != "" {
			out = append(out, stripped)
		}
	}
	return out
}

func isWordRune(r rune) bool {
	return r == '_' || r == '\'' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// finalize is the post-processing shared by every strategy.
func finalize(p ParsedContent) ParsedContent {
	p.Titles = cleanAll(p.Titles)
	p.Descriptions = StripTitleDuplicates(p.Titles, cleanAll(p.Descriptions))
	p.Overlays = cleanAll(p.Overlays)
	return p
}
