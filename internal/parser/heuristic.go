package parser

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	maxHeaderChars = 60
	maxHeaderWords = 8

	maxOverlays = 4
	// Extra title-section items at least this long are treated as
	// descriptions; shorter ones are usually duplicated titles.
	minMergedDescriptionChars = 100
	// Without explicit delimiters a paragraph break ends a description only
	// once the buffer holds this much text.
	paragraphCloseChars = 100
	// Buffers past this length are split into up to maxForcedChunks pieces.
	forceSplitChars = 300
	maxForcedChunks = 4
)

type sectionKind int

const (
	sectionNone sectionKind = iota
	sectionTitles
	sectionDescriptions
	sectionOverlays
	sectionArticle
)

var (
	articleHeaderRe     = regexp.MustCompile(`(?i)\barticle\s+titles?\b`)
	overlayHeaderRe     = regexp.MustCompile(`(?i)\b(?:text\s+overlays?|overlay\s+texts?|image\s+texts?|overlays?)\b`)
	descriptionHeaderRe = regexp.MustCompile(`(?i)\bdescriptions?\b`)
	titleHeaderRe       = regexp.MustCompile(`(?i)\btitles?\b`)

	// "Title 2: ..." and "Description 1 -" are labelled items, not headers.
	labelledItemRe   = regexp.MustCompile(`(?i)^(?:pin\s+)?(?:title|description|text\s+overlay|overlay)\s*#?\s*\d+\b`)
	headerCountRe    = regexp.MustCompile(`(?i)\b(\d{1,2}|one|two|three|four|five|six|seven|eight|nine|ten)\b`)
	headerDecorRe    = regexp.MustCompile(`^[\s#*_>]+|[\s#*_:]+$`)
	// Text of a header written as a list item, e.g. "### 1. Pin Titles".
	numberedHeaderRe = regexp.MustCompile(`(?i)^(?:(?:\d{1,2}|one|two|three|four|five|six|seven|eight|nine|ten)\s+)?(?:pinterest\s+|pin\s+)?(?:seo\s+)?(?:titles?|descriptions?|text\s+overlays?|overlay\s+texts?|overlays?|image\s+texts?|article\s+titles?)(?:\s*\([^)]*\))?$`)
)

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

// Heuristic finds "Pin Titles", "Pin Descriptions" and "Text Overlay"
// sections in free text and reads the items under each. Text without any
// recognisable section is handed to Legacy.
type Heuristic struct {
	Legacy *Legacy
}

func NewHeuristic() *Heuristic {
	return &Heuristic{Legacy: NewLegacy()}
}

func (h *Heuristic) Name() string { return "heuristic" }

func (h *Heuristic) Parse(_ context.Context, raw, _ string) (ParsedContent, error) {
	return h.ParseText(raw), nil
}

type layout struct {
	lines    map[sectionKind][]string
	seen     map[sectionKind]bool
	expected int
}

// classifyHeader reports which section a line opens, or sectionNone.
func classifyHeader(line string) sectionKind {
	trimmed := strings.TrimSpace(line)
	if m := numberedRe.FindStringSubmatch(trimmed); m != nil {
		text := headerText(m[2])
		if !numberedHeaderRe.MatchString(text) {
			return sectionNone
		}
		return classifyText(text)
	}
	if trimmed == "" || bulletRe.MatchString(trimmed) || forTitleRe.MatchString(trimmed) {
		return sectionNone
	}
	return classifyText(headerText(trimmed))
}

func headerText(s string) string {
	text := strings.TrimSpace(headerDecorRe.ReplaceAllString(strings.TrimSpace(s), ""))
	return strings.TrimSpace(emphasisRe.ReplaceAllString(text, ""))
}

func classifyText(text string) sectionKind {
	if text == "" || labelledItemRe.MatchString(text) {
		return sectionNone
	}
	if utf8.RuneCountInString(text) > maxHeaderChars || len(strings.Fields(text)) > maxHeaderWords {
		return sectionNone
	}
	if strings.HasSuffix(text, ".") {
		return sectionNone
	}
	// "Title: Garlic Shrimp" carries content; a header does not.
	if i := strings.Index(text, ":"); i >= 0 && strings.TrimSpace(text[i+1:]) != "" {
		return sectionNone
	}

	switch {
	case articleHeaderRe.MatchString(text):
		return sectionArticle
	case overlayHeaderRe.MatchString(text):
		return sectionOverlays
	case descriptionHeaderRe.MatchString(text):
		return sectionDescriptions
	case titleHeaderRe.MatchString(text):
		return sectionTitles
	}
	return sectionNone
}

// expectedCount reads "4 Pin Titles" or "Pin Titles (four)" style counts.
func expectedCount(header string) int {
	m := headerCountRe.FindStringSubmatch(header)
	if m == nil {
		return 0
	}
	if n, err := strconv.Atoi(m[1]); err == nil {
		return n
	}
	return numberWords[strings.ToLower(m[1])]
}

// scan groups lines under the most recent header. Repeated headers of the
// same kind extend the section. An article header ends scanning.
func scan(raw string) layout {
	l := layout{
		lines: map[sectionKind][]string{},
		seen:  map[sectionKind]bool{},
	}
	current := sectionNone
	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		if kind := classifyHeader(line); kind != sectionNone {
			if kind == sectionArticle {
				break
			}
			if kind == sectionTitles && !l.seen[sectionTitles] {
				header := line
				if m := numberedRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
					header = m[2]
				}
				l.expected = expectedCount(header)
			}
			current = kind
			l.seen[kind] = true
			continue
		}
		if current != sectionNone {
			l.lines[current] = append(l.lines[current], line)
		}
	}
	return l
}

func (h *Heuristic) ParseText(raw string) ParsedContent {
	l := scan(raw)
	if len(l.seen) == 0 {
		if h.Legacy == nil {
			return ParsedContent{}
		}
		return h.Legacy.ParseText(raw)
	}

	var p ParsedContent

	items := listItems(l.lines[sectionTitles])
	if len(items) == 0 {
		items = implicitItems(l.lines[sectionTitles])
	}
	var extras []string
	if l.expected > 0 && len(items) > l.expected {
		items, extras = items[:l.expected], items[l.expected:]
	}
	p.Titles = items

	if l.seen[sectionDescriptions] {
		p.Descriptions = splitDescriptions(l.lines[sectionDescriptions])
	} else {
		for _, e := range extras {
			if utf8.RuneCountInString(e) > minMergedDescriptionChars {
				p.Descriptions = append(p.Descriptions, e)
			}
		}
	}

	p.Overlays = overlayItems(l.lines[sectionOverlays])
	return p
}

// listItems returns the text of numbered and bulleted lines.
func listItems(lines []string) []string {
	var items []string
	for _, line := range lines {
		if m := numberedRe.FindStringSubmatch(line); m != nil {
			if s := cleanItem(m[2]); s != "" {
				items = append(items, s)
			}
			continue
		}
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			if s := cleanItem(m[1]); s != "" {
				items = append(items, s)
			}
		}
	}
	return items
}

// implicitItems treats every non-empty, non-chatter line as an item.
func implicitItems(lines []string) []string {
	var items []string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" || isChatter(line) {
			continue
		}
		if s := cleanItem(line); s != "" {
			items = append(items, s)
		}
	}
	return items
}

func overlayItems(lines []string) []string {
	var items []string
	for _, line := range lines {
		if len(items) == maxOverlays {
			break
		}
		text := line
		if m := labelledLineRe.FindStringSubmatch(line); m != nil {
			text = m[2]
		}
		if strings.TrimSpace(text) == "" || overlayMetaRe.MatchString(text) || isChatter(text) {
			continue
		}
		if s := cleanItem(text); s != "" {
			items = append(items, s)
		}
	}
	return items
}

type descEntry struct {
	key  int
	text string
}

// splitDescriptions reads description items delimited by numbering, bullets,
// "Description N:" labels or "For Title N:" markers. Without any delimiter, paragraph breaks end an
// item once it is long enough and overlong items are split by sentence.
func splitDescriptions(lines []string) []string {
	explicit := false
	for _, line := range lines {
		if numberedRe.MatchString(line) || bulletRe.MatchString(line) || forTitleRe.MatchString(line) || labelledLineRe.MatchString(line) {
			explicit = true
			break
		}
	}

	var (
		entries []descEntry
		buf     []string
		bufKey  int
		keyed   = true
		started bool
	)
	flush := func() {
		text := cleanItem(strings.Join(buf, " "))
		buf = nil
		// Intro text before the first delimiter is not a description.
		if text == "" || (explicit && !started) {
			return
		}
		if bufKey == 0 {
			keyed = false
		}
		if !explicit && utf8.RuneCountInString(text) > forceSplitChars {
			for _, chunk := range splitSentences(text, maxForcedChunks) {
				entries = append(entries, descEntry{key: bufKey, text: chunk})
			}
			return
		}
		entries = append(entries, descEntry{key: bufKey, text: text})
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if !explicit && utf8.RuneCountInString(strings.Join(buf, " ")) > paragraphCloseChars {
				flush()
				bufKey = 0
			}
			continue
		}
		if isChatter(trimmed) {
			continue
		}
		if m := forTitleRe.FindStringSubmatch(trimmed); m != nil {
			flush()
			started = true
			bufKey, _ = strconv.Atoi(m[1])
			if m[2] != "" {
				buf = append(buf, m[2])
			}
			continue
		}
		if m := labelledLineRe.FindStringSubmatch(trimmed); m != nil {
			flush()
			started = true
			bufKey, _ = strconv.Atoi(m[1])
			if m[2] != "" {
				buf = append(buf, m[2])
			}
			continue
		}
		if m := numberedRe.FindStringSubmatch(trimmed); m != nil {
			flush()
			started = true
			bufKey = 0
			if m[2] != "" {
				buf = append(buf, m[2])
			}
			continue
		}
		if m := bulletRe.FindStringSubmatch(trimmed); m != nil {
			flush()
			started = true
			bufKey = 0
			buf = append(buf, m[1])
			continue
		}
		buf = append(buf, trimmed)
	}
	flush()

	if keyed && len(entries) > 1 {
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.text)
	}
	return out
}

// splitSentences cuts text at sentence ends into at most n chunks of roughly
// equal length.
func splitSentences(text string, n int) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if (c == '.' || c == '!' || c == '?') && i+1 < len(text) && text[i+1] == ' ' {
			sentences = append(sentences, strings.TrimSpace(text[start:i+1]))
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		sentences = append(sentences, rest)
	}
	if n > len(sentences) {
		n = len(sentences)
	}
	if n <= 1 {
		return []string{text}
	}

	total := 0
	for _, s := range sentences {
		total += len(s)
	}
	target := total / n

	var (
		chunks    []string
		cur       []string
		curLen    int
		remaining = n
	)
	for i, s := range sentences {
		cur = append(cur, s)
		curLen += len(s)
		left := len(sentences) - i - 1
		if remaining > 1 && left >= remaining-1 && (curLen >= target || left == remaining-1) {
			chunks = append(chunks, strings.Join(cur, " "))
			cur, curLen = nil, 0
			remaining--
		}
	}
	if len(cur) > 0 {
		chunks = append(chunks, strings.Join(cur, " "))
	}
	return chunks
}
