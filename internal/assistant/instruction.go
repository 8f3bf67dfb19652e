package assistant

import (
	"fmt"
	"os"
	"strings"
	"text/template"
)

const defaultInstruction = `Analyze the attached keyword export for the keyword "{{.Keyword}}" only.
Ignore any keyword from earlier in this conversation.

Write Pinterest SEO content for "{{.Keyword}}" using exactly the three sections below,
in this order, with the headers exactly as written and numbered items. Do not add an
introduction, notes or follow-up questions.

4 Pin Titles
1. <title under 100 characters>
2. <title>
3. <title>
4. <title>

Pin Descriptions
1. <description for title 1, 2 to 3 sentences>
2. <description for title 2>
3. <description for title 3>
4. <description for title 4>

Text Overlay
1. <2 to 5 words>
2. <2 to 5 words>
3. <2 to 5 words>
4. <2 to 5 words>
`

// Instruction renders the message sent with each uploaded export.
type Instruction struct {
	tmpl *template.Template
}

type instructionData struct {
	Keyword string
}

func DefaultInstruction() *Instruction {
	return &Instruction{tmpl: template.Must(template.New("instruction").Parse(defaultInstruction))}
}

// LoadInstruction parses a text/template file using {{.Keyword}}. An empty
// path returns the built-in instruction.
func LoadInstruction(path string) (*Instruction, error) {
	if path == "" {
		return DefaultInstruction(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("assistant: reading instruction file: %w", err)
	}
	return ParseInstruction(string(data))
}

func ParseInstruction(text string) (*Instruction, error) {
	tmpl, err := template.New("instruction").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("assistant: parsing instruction template: %w", err)
	}
	return &Instruction{tmpl: tmpl}, nil
}

// Render fills in the keyword. The keyword is prepended when a custom
// template does not mention it.
func (i *Instruction) Render(keyword string) (string, error) {
	var sb strings.Builder
	if err := i.tmpl.Execute(&sb, instructionData{Keyword: keyword}); err != nil {
		return "", fmt.Errorf("assistant: rendering instruction: %w", err)
	}
	out := strings.TrimSpace(sb.String())
	if !strings.Contains(strings.ToLower(out), strings.ToLower(keyword)) {
		out = fmt.Sprintf("Keyword: %q\n\n%s", keyword, out)
	}
	return out, nil
}
