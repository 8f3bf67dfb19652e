package assistant

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// Assistant message containers, most specific first.
var messageSelectors = []string{
	`[data-message-author-role="assistant"]`,
	`[data-testid^="conversation-turn"] .markdown`,
	`.agent-turn .markdown`,
	`.markdown`,
}

var (
	spaceRunRe = regexp.MustCompile(`[ \t\f\v]+`)
	blankRunRe = regexp.MustCompile(`\n{3,}`)
)

// ExtractReply finds the last assistant message in page HTML and converts
// it to text. It returns "" when the page holds no assistant message.
func ExtractReply(pageHTML string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return "", fmt.Errorf("assistant: parsing page: %w", err)
	}
	for _, sel := range messageSelectors {
		if nodes := doc.Find(sel); nodes.Length() > 0 {
			return HTMLToText(nodes.Last()), nil
		}
	}
	return "", nil
}

// ReadabilityText recovers the reply from a saved conversation page whose
// markup no longer matches any known message container.
func ReadabilityText(pageHTML string) (string, error) {
	if text, err := ExtractReply(pageHTML); err == nil && text != "" {
		return text, nil
	}

	article, err := readability.FromReader(strings.NewReader(pageHTML), nil)
	if err != nil {
		return "", fmt.Errorf("assistant: readability: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return CleanNewlines(article.TextContent), nil
	}
	if text := HTMLToText(doc.Selection); text != "" {
		return text, nil
	}
	return CleanNewlines(article.TextContent), nil
}

// HTMLToText renders a message node as text that keeps list numbering,
// bullets, **bold** markers and # headings.
func HTMLToText(sel *goquery.Selection) string {
	var sb strings.Builder
	renderBlock(sel, &sb)
	return tidy(sb.String())
}

func renderBlock(sel *goquery.Selection, sb *strings.Builder) {
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		switch node.Type {
		case html.TextNode:
			sb.WriteString(spaceRunRe.ReplaceAllString(strings.ReplaceAll(node.Data, "\n", " "), " "))
		case html.ElementNode:
			renderElement(s, strings.ToLower(node.Data), sb)
		}
	})
}

func renderElement(s *goquery.Selection, tag string, sb *strings.Builder) {
	switch tag {
	case "script", "style", "noscript", "button", "svg", "form", "textarea":
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level := int(tag[1] - '0')
		fmt.Fprintf(sb, "\n\n%s %s\n\n", strings.Repeat("#", level), inline(s))
	case "p":
		sb.WriteString("\n\n")
		renderBlock(s, sb)
		sb.WriteString("\n\n")
	case "br":
		sb.WriteString("\n")
	case "hr":
		sb.WriteString("\n\n")
	case "strong", "b":
		if text := inline(s); text != "" {
			fmt.Fprintf(sb, "**%s**", text)
		}
	case "pre":
		fmt.Fprintf(sb, "\n\n%s\n\n", strings.TrimSpace(s.Text()))
	case "ul", "ol":
		sb.WriteString("\n")
		renderList(s, sb, tag == "ol", 0)
		sb.WriteString("\n")
	case "table":
		sb.WriteString("\n\n")
		s.Find("tr").Each(func(_ int, row *goquery.Selection) {
			var cells []string
			row.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, inline(cell))
			})
			sb.WriteString(strings.Join(cells, " | "))
			sb.WriteString("\n")
		})
		sb.WriteString("\n")
	case "div", "section", "article", "main", "header", "footer", "blockquote":
		sb.WriteString("\n")
		renderBlock(s, sb)
		sb.WriteString("\n")
	default:
		renderBlock(s, sb)
	}
}

// renderList writes direct <li> children; nested lists are indented.
func renderList(list *goquery.Selection, sb *strings.Builder, ordered bool, depth int) {
	n := 1
	if start, err := strconv.Atoi(list.AttrOr("start", "")); err == nil {
		n = start
	}
	prefix := strings.Repeat("  ", depth)

	list.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
		marker := "- "
		if ordered {
			marker = fmt.Sprintf("%d. ", n)
			n++
		}

		body := li.Clone()
		body.Find("ul, ol").Remove()
		fmt.Fprintf(sb, "%s%s%s\n", prefix, marker, inline(body))

		li.ChildrenFiltered("ul, ol").Each(func(_ int, nested *goquery.Selection) {
			renderList(nested, sb, nested.Is("ol"), depth+1)
		})
	})
}

// inline renders s on a single line.
func inline(s *goquery.Selection) string {
	var sb strings.Builder
	renderBlock(s, &sb)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func tidy(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		// Keep leading indentation of nested list items.
		indent := len(line) - len(strings.TrimLeft(line, " "))
		body := strings.TrimSpace(line)
		if body == "" {
			lines[i] = ""
			continue
		}
		if indent > 0 && bulletLike(body) {
			lines[i] = strings.Repeat(" ", indent) + body
			continue
		}
		lines[i] = body
	}
	out := blankRunRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(out)
}

func bulletLike(s string) bool {
	if strings.HasPrefix(s, "- ") {
		return true
	}
	i := strings.IndexByte(s, '.')
	if i <= 0 || i > 2 {
		return false
	}
	_, err := strconv.Atoi(s[:i])
	return err == nil
}

// CleanNewlines joins lines broken in the middle of a sentence while keeping
// paragraph breaks and list items on their own lines.
func CleanNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var paragraphs []string
	for _, paragraph := range strings.Split(text, "\n\n") {
		var lines []string
		for _, line := range strings.Split(paragraph, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if len(lines) > 0 {
				prev := lines[len(lines)-1]
				ended := strings.HasSuffix(prev, ".") ||
					strings.HasSuffix(prev, "!") ||
					strings.HasSuffix(prev, "?") ||
					strings.HasSuffix(prev, ":") ||
					strings.HasSuffix(prev, ";")
				starts := line[0] >= 'A' && line[0] <= 'Z' ||
					line[0] >= '0' && line[0] <= '9' ||
					strings.HasPrefix(line, "- ") ||
					strings.HasPrefix(line, "* ") ||
					strings.HasPrefix(line, "• ")
				if !ended && !starts {
					lines[len(lines)-1] = prev + " " + line
					continue
				}
			}
			lines = append(lines, line)
		}
		if len(lines) > 0 {
			paragraphs = append(paragraphs, strings.Join(lines, "\n"))
		}
	}
	return strings.TrimSpace(spaceRunRe.ReplaceAllString(strings.Join(paragraphs, "\n\n"), " "))
}
