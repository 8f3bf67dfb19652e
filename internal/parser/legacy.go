package parser

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

type labelPatterns struct {
	kind sectionKind
	res  []*regexp.Regexp
}

// labelled builds the reply shapes seen over time for one label:
//
//	**Title 1:** text      (or text on the next line)
//	Title 1: text          (or text on the next line)
//	1. Title: text
func labelled(kind sectionKind, label string) labelPatterns {
	return labelPatterns{
		kind: kind,
		res: []*regexp.Regexp{
			regexp.MustCompile(`(?i)^\s*(?:[-*•]\s+)?\*\*\s*` + label + `\s*#?\s*(\d{1,2})\s*[:.\-–—]?\s*\*\*\s*[:.\-–—]?\s*(.*)$`),
			regexp.MustCompile(`(?i)^\s*(?:[-*•]\s+)?` + label + `\s*#?\s*(\d{1,2})\s*(?:[:.\-–—)]\s*(.*))?$`),
			regexp.MustCompile(`(?i)^\s*(\d{1,2})[.)]\s*(?:\*\*)?\s*` + label + `\s*(?:\*\*)?\s*[:\-–—]\s*(?:\*\*)?\s*(.+)$`),
		},
	}
}

var legacyPatterns = []labelPatterns{
	labelled(sectionTitles, `(?:pin\s+)?title`),
	labelled(sectionDescriptions, `(?:pin\s+)?description`),
	labelled(sectionOverlays, `(?:text\s+overlay|overlay(?:\s+text)?)`),
}

// Legacy extracts labelled items ("Title 1: ...") in the formats older
// assistant replies used. It never fails; unrecognised text yields empty
// slices.
type Legacy struct{}

func NewLegacy() *Legacy { return &Legacy{} }

func (l *Legacy) Name() string { return "legacy" }

func (l *Legacy) Parse(_ context.Context, raw, _ string) (ParsedContent, error) {
	return l.ParseText(raw), nil
}

type numbered struct {
	num  int
	text string
}

func (l *Legacy) ParseText(raw string) ParsedContent {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	found := map[sectionKind][]numbered{}
	seen := map[sectionKind]map[int]bool{}

	for i, line := range lines {
		kind, num, text, ok := matchLabel(line)
		if !ok {
			continue
		}
		if strings.TrimSpace(cleanItem(text)) == "" {
			text = nextContentLine(lines, i+1)
		}
		text = cleanItem(text)
		if text == "" {
			continue
		}
		if seen[kind] == nil {
			seen[kind] = map[int]bool{}
		}
		// The first occurrence of a number wins; later ones are usually
		// the assistant repeating itself.
		if seen[kind][num] {
			continue
		}
		seen[kind][num] = true
		found[kind] = append(found[kind], numbered{num: num, text: text})
	}

	p := ParsedContent{
		Titles:       texts(found[sectionTitles]),
		Descriptions: texts(found[sectionDescriptions]),
		Overlays:     texts(found[sectionOverlays]),
	}
	if len(p.Titles) == 0 {
		p.Titles = implicitTitles(lines)
	}
	return p
}

func matchLabel(line string) (sectionKind, int, string, bool) {
	for _, lp := range legacyPatterns {
		for _, re := range lp.res {
			m := re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			return lp.kind, n, m[2], true
		}
	}
	return sectionNone, 0, "", false
}

// nextContentLine returns the first non-empty line from start that is not
// itself a label or header.
func nextContentLine(lines []string, start int) string {
	for _, line := range lines[min(start, len(lines)):] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if _, _, _, ok := matchLabel(line); ok {
			return ""
		}
		if classifyHeader(line) != sectionNone {
			return ""
		}
		return line
	}
	return ""
}

// implicitTitles accepts any line under a titles header as a title when the
// section has no labelled items.
func implicitTitles(lines []string) []string {
	var titles []string
	inTitles := false
	for _, line := range lines {
		switch classifyHeader(line) {
		case sectionNone:
		case sectionTitles:
			inTitles = true
			continue
		default:
			if inTitles {
				return titles
			}
			continue
		}
		if !inTitles || strings.TrimSpace(line) == "" || isChatter(line) {
			continue
		}
		if s := cleanItem(line); s != "" {
			titles = append(titles, s)
		}
	}
	return titles
}

func texts(items []numbered) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.text)
	}
	return out
}
