package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/byteowlz/pinscrpr/internal/llm"
)

const garlicReply = `Here's your Pinterest SEO content for "Garlic Butter Shrimp":

**4 Pin Titles**
1. 15-Minute Garlic Butter Shrimp for Busy Weeknights
2. The Best Garlic Butter Shrimp Recipe Ever
3. Easy One-Pan Garlic Butter Shrimp
4. Garlic Butter Shrimp with Lemon and Parsley

**Pin Descriptions**
1. This garlic butter shrimp comes together in 15 minutes with pantry staples. Serve it over pasta or rice for a quick dinner.
2. Juicy shrimp tossed in a rich garlic butter sauce. Save this recipe for your next date night at home.
3. Everything cooks in one pan, so cleanup is a breeze. Perfect for busy families who love seafood.
4. Bright lemon and fresh parsley lift this classic garlic butter shrimp. Pin it now and make it tonight.

**Text Overlay**
1. "15-Minute Dinner"
2. Garlic Butter Magic
3. One Pan, Zero Stress
4. Lemon Garlic Shrimp

Let me know if you want more variations!`

type fakeProvider struct {
	reply string
	err   error
	calls int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.calls++
	return f.reply, f.err
}

type panicStrategy struct{}

func (panicStrategy) Name() string { return "panics" }
func (panicStrategy) Parse(context.Context, string, string) (ParsedContent, error) {
	panic("boom")
}

func TestHeuristic_GarlicButterShrimp(t *testing.T) {
	chain := NewDefaultChain(nil, 0, zerolog.Nop())
	res, err := chain.Parse(context.Background(), garlicReply, "Garlic Butter Shrimp")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	p := res.Content
	if len(p.Titles) != 4 || len(p.Descriptions) != 4 || len(p.Overlays) != 4 {
		t.Fatalf("got %d/%d/%d, want 4/4/4: %+v", len(p.Titles), len(p.Descriptions), len(p.Overlays), p)
	}
	if p.Source != SourceChatGPT {
		t.Errorf("source = %q", p.Source)
	}
	if res.Strategy != "heuristic" {
		t.Errorf("strategy = %q, want heuristic", res.Strategy)
	}
	if p.Titles[0] != "15-Minute Garlic Butter Shrimp for Busy Weeknights" {
		t.Errorf("title[0] = %q", p.Titles[0])
	}
	if p.Overlays[0] != "15-Minute Dinner" {
		t.Errorf("overlay quotes not stripped: %q", p.Overlays[0])
	}
	if p.Validation.MatchRatio != 1 {
		t.Errorf("match ratio = %v, want 1", p.Validation.MatchRatio)
	}
}

func TestHeuristic_Idempotent(t *testing.T) {
	h := NewHeuristic()
	first := finalize(h.ParseText(garlicReply))

	var sb strings.Builder
	sb.WriteString("Pin Titles\n")
	for i, s := range first.Titles {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, s)
	}
	sb.WriteString("\nPin Descriptions\n")
	for i, s := range first.Descriptions {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, s)
	}

	second := finalize(h.ParseText(sb.String()))
	if len(second.Titles) != len(first.Titles) || len(second.Descriptions) != len(first.Descriptions) {
		t.Errorf("round trip changed counts: %d/%d -> %d/%d",
			len(first.Titles), len(first.Descriptions), len(second.Titles), len(second.Descriptions))
	}
}

func TestHeuristic_ExpectedCountSplitsMergedContent(t *testing.T) {
	long := func(n int) string {
		return fmt.Sprintf("Batch %d of buttery garlic shrimp cooked in a single skillet with lemon, parsley and chili flakes for a fast weeknight meal", n)
	}
	reply := strings.Join([]string{
		"4 Pin Titles",
		"1. Garlic Butter Shrimp in 15 Minutes",
		"2. One-Pan Garlic Butter Shrimp",
		"3. Lemon Garlic Shrimp Dinner",
		"4. Garlic Shrimp Pasta Night",
		"5. " + long(1),
		"6. " + long(2),
		"7. " + long(3),
	}, "\n")

	p := NewHeuristic().ParseText(reply)
	if len(p.Titles) != 4 {
		t.Fatalf("titles = %d, want 4: %v", len(p.Titles), p.Titles)
	}
	if len(p.Descriptions) != 3 {
		t.Fatalf("descriptions = %d, want 3: %v", len(p.Descriptions), p.Descriptions)
	}
	if p.Titles[3] != "Garlic Shrimp Pasta Night" {
		t.Errorf("title[3] = %q", p.Titles[3])
	}
}

func TestHeuristic_ShortExtrasDropped(t *testing.T) {
	reply := "Pin Titles (two)\n1. Alpha Shrimp\n2. Beta Shrimp\n3. Alpha Shrimp\n"
	p := NewHeuristic().ParseText(reply)
	if len(p.Titles) != 2 || len(p.Descriptions) != 0 {
		t.Errorf("got %v / %v", p.Titles, p.Descriptions)
	}
}

func TestHeuristic_ForTitleMarkers(t *testing.T) {
	reply := `Pin Titles
1. Alpha Shrimp
2. Beta Shrimp

Pin Descriptions
For Title 2: Second description here,
continued on the next line.
For Title 1: First description here.`

	p := NewHeuristic().ParseText(reply)
	want := []string{
		"First description here.",
		"Second description here, continued on the next line.",
	}
	if len(p.Descriptions) != len(want) {
		t.Fatalf("descriptions = %v", p.Descriptions)
	}
	for i := range want {
		if p.Descriptions[i] != want[i] {
			t.Errorf("description[%d] = %q, want %q", i, p.Descriptions[i], want[i])
		}
	}
}

func TestHeuristic_ParagraphBreaks(t *testing.T) {
	para := func(word string, n int) string {
		return strings.TrimSpace(strings.Repeat(word+" ", n))
	}
	reply := strings.Join([]string{
		"Pin Titles",
		"1. Alpha",
		"",
		"Pin Descriptions",
		para("short", 5),
		"",
		para("joined", 20),
		"",
		para("second", 20),
	}, "\n")

	p := NewHeuristic().ParseText(reply)
	if len(p.Descriptions) != 2 {
		t.Fatalf("descriptions = %d: %q", len(p.Descriptions), p.Descriptions)
	}
	if !strings.HasPrefix(p.Descriptions[0], "short short") || !strings.Contains(p.Descriptions[0], "joined") {
		t.Errorf("short paragraph should merge into the next: %q", p.Descriptions[0])
	}
	if !strings.HasPrefix(p.Descriptions[1], "second") {
		t.Errorf("description[1] = %q", p.Descriptions[1])
	}
}

func TestHeuristic_ForceSplitLongParagraph(t *testing.T) {
	var sentences []string
	for i := 1; i <= 8; i++ {
		sentences = append(sentences, fmt.Sprintf("This is sentence %d about garlic butter shrimp dinners.", i))
	}
	reply := "Pin Titles\n1. Alpha\n\nPin Descriptions\n" + strings.Join(sentences, " ")

	p := NewHeuristic().ParseText(reply)
	if len(p.Descriptions) != 4 {
		t.Fatalf("descriptions = %d, want 4: %q", len(p.Descriptions), p.Descriptions)
	}
	for i, d := range p.Descriptions {
		if strings.Count(d, "sentence") != 2 {
			t.Errorf("chunk %d not balanced: %q", i, d)
		}
	}
}

func TestHeuristic_OverlayMetaAndLimit(t *testing.T) {
	reply := `Pin Titles
1. Alpha
Pin Descriptions
1. Something tasty.
Text Overlay
Here are your overlays
- Dinner in 15
- Butter Bliss
- Download the printable card
- Zero Stress
- Weeknight Win
- Sixth Overlay`

	p := NewHeuristic().ParseText(reply)
	want := []string{"Dinner in 15", "Butter Bliss", "Zero Stress", "Weeknight Win"}
	if len(p.Overlays) != len(want) {
		t.Fatalf("overlays = %v", p.Overlays)
	}
	for i := range want {
		if p.Overlays[i] != want[i] {
			t.Errorf("overlay[%d] = %q, want %q", i, p.Overlays[i], want[i])
		}
	}
}

func TestHeuristic_ArticleTitleStopsScanning(t *testing.T) {
	reply := `Pin Titles
1. Alpha
Pin Descriptions
1. Tasty alpha shrimp.
Article Title
1. This Should Not Be A Title
Pin Titles
1. Neither should this`

	p := NewHeuristic().ParseText(reply)
	if len(p.Titles) != 1 || p.Titles[0] != "Alpha" {
		t.Errorf("titles = %v", p.Titles)
	}
}

func TestHeuristic_ImplicitTitles(t *testing.T) {
	reply := "Pin Titles:\nGarlic Shrimp Tonight\nButtery Shrimp Skillet\n\nPin Descriptions:\n- Quick and buttery."
	p := NewHeuristic().ParseText(reply)
	if len(p.Titles) != 2 {
		t.Errorf("titles = %v", p.Titles)
	}
}

func TestHeuristic_DelegatesToLegacy(t *testing.T) {
	reply := "Title 1: Garlic Butter Shrimp Tonight\nTitle 2: Easy Shrimp Dinner\nDescription 1: Buttery garlic shrimp in minutes."
	p := NewHeuristic().ParseText(reply)
	if len(p.Titles) != 2 || len(p.Descriptions) != 1 {
		t.Errorf("got %v / %v", p.Titles, p.Descriptions)
	}
}

func TestLegacy_Shapes(t *testing.T) {
	reply := `**Title 1:** Garlic Butter Shrimp
**Title 2:**
Lemon Garlic Shrimp

Title 3 - One Pan Shrimp
Title 1: Duplicate Should Be Ignored
1. Description: Quick buttery shrimp for busy nights.
**Description 2:** Bright and fresh.
Text Overlay 1: Dinner in 15
Overlay 2: Butter Bliss`

	p := NewLegacy().ParseText(reply)
	wantTitles := []string{"Garlic Butter Shrimp", "Lemon Garlic Shrimp", "One Pan Shrimp"}
	if len(p.Titles) != len(wantTitles) {
		t.Fatalf("titles = %v", p.Titles)
	}
	for i := range wantTitles {
		if p.Titles[i] != wantTitles[i] {
			t.Errorf("title[%d] = %q, want %q", i, p.Titles[i], wantTitles[i])
		}
	}
	if len(p.Descriptions) != 2 {
		t.Errorf("descriptions = %v", p.Descriptions)
	}
	if len(p.Overlays) != 2 || p.Overlays[1] != "Butter Bliss" {
		t.Errorf("overlays = %v", p.Overlays)
	}
}

func TestLegacy_TitlePatternWithoutHeaders(t *testing.T) {
	p := NewLegacy().ParseText("some intro\nTitle 1: Garlic Shrimp\nTitle 2: Butter Shrimp\nthanks")
	if len(p.Titles) != 2 {
		t.Errorf("titles = %v", p.Titles)
	}
}

func TestLegacy_ImplicitTitleSection(t *testing.T) {
	p := NewLegacy().ParseText("Titles\nGarlic Shrimp\nButter Shrimp\n\nDescriptions\nnot a title")
	if len(p.Titles) != 2 || p.Titles[1] != "Butter Shrimp" {
		t.Errorf("titles = %v", p.Titles)
	}
}

func TestParsersNeverPanic(t *testing.T) {
	inputs := []string{
		"",
		"\n\n\n",
		"**",
		"Title 99:",
		"**Title 1:**",
		"1.",
		"Pin Titles",
		"Pin Descriptions\nFor Title 3:",
		"Text Overlay\n-",
		strings.Repeat("a", 10000),
		strings.Repeat("word. ", 500),
		"日本語のテキスト\n1. タイトル\n**説明**",
		"Pin Titles\n\x00\x01\x02\n",
		"lorem ipsum dolor sit amet, consectetur adipiscing elit",
	}
	h := NewHeuristic()
	l := NewLegacy()
	chain := NewDefaultChain(nil, 0, zerolog.Nop())
	for _, in := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("panic on %q: %v", in, r)
				}
			}()
			h.ParseText(in)
			l.ParseText(in)
			chain.Parse(context.Background(), in, "garlic")
		}()
	}
}

func TestUnstructuredReplyYieldsNoContent(t *testing.T) {
	provider := &fakeProvider{err: &llm.GenerationAPIError{Provider: "fake", StatusCode: 500, Err: errors.New("down")}}
	chain := NewDefaultChain(provider, 6000, zerolog.Nop())

	p := NewLegacy().ParseText("I'm sorry, I couldn't open that file. Could you upload it again?")
	if !p.Empty() {
		t.Errorf("legacy should return empty content, got %+v", p)
	}

	_, err := chain.Parse(context.Background(), "I'm sorry, I couldn't open that file. Could you upload it again?", "garlic butter shrimp")
	if !errors.Is(err, ErrNoContent) {
		t.Errorf("err = %v, want ErrNoContent", err)
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls)
	}
}

func TestStructuredWinsWhenValid(t *testing.T) {
	provider := &fakeProvider{reply: "```json\n" +
		`{"titles":["1. Garlic Shrimp"],"descriptions":["Garlic Shrimp: buttery and fast."],"text_overlays":["Dinner in 15"]}` +
		"\n```"}
	chain := NewDefaultChain(provider, 6000, zerolog.Nop())

	res, err := chain.Parse(context.Background(), "anything", "Garlic Shrimp")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Strategy != "structured" {
		t.Errorf("strategy = %q", res.Strategy)
	}
	p := res.Content
	if p.Titles[0] != "Garlic Shrimp" {
		t.Errorf("title = %q", p.Titles[0])
	}
	if p.Descriptions[0] != "buttery and fast." {
		t.Errorf("duplicate title not stripped: %q", p.Descriptions[0])
	}
	if len(p.Overlays) != 1 {
		t.Errorf("overlays = %v", p.Overlays)
	}
}

func TestStructuredErrorFallsThrough(t *testing.T) {
	provider := &fakeProvider{err: errors.New("timeout")}
	chain := NewDefaultChain(provider, 6000, zerolog.Nop())

	res, err := chain.Parse(context.Background(), garlicReply, "Garlic Butter Shrimp")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Strategy != "heuristic" {
		t.Errorf("strategy = %q, want heuristic", res.Strategy)
	}
}

func TestStructuredRejectsNonJSON(t *testing.T) {
	s := NewStructured(&fakeProvider{reply: "Sure! Here are the titles."}, 0, zerolog.Nop())
	if _, err := s.Parse(context.Background(), "x", "y"); err == nil {
		t.Error("expected error for prose reply")
	}
}

func TestChainRecoversPanics(t *testing.T) {
	chain := NewChain(zerolog.Nop(), panicStrategy{}, NewHeuristic())
	res, err := chain.Parse(context.Background(), garlicReply, "Garlic Butter Shrimp")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Strategy != "heuristic" {
		t.Errorf("strategy = %q", res.Strategy)
	}
}

func TestAcceptanceGate(t *testing.T) {
	tests := []struct {
		name string
		p    ParsedContent
		want bool
	}{
		{"complete", ParsedContent{Titles: []string{"t"}, Descriptions: []string{"d"}}, true},
		{"no overlays needed", ParsedContent{Titles: []string{"t"}, Descriptions: []string{"d"}, Overlays: nil}, true},
		{"missing descriptions", ParsedContent{Titles: []string{"t"}}, false},
		{"blank entries", ParsedContent{Titles: []string{" "}, Descriptions: []string{"d"}}, false},
		{"empty", ParsedContent{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Accepted(); got != tt.want {
				t.Errorf("Accepted() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAcceptedResultsAlwaysPassGate(t *testing.T) {
	chain := NewDefaultChain(nil, 0, zerolog.Nop())
	inputs := []string{
		garlicReply,
		"Title 1: A\nDescription 1: B",
		"Pin Titles\n1. A\n",
		"nothing useful",
	}
	for _, in := range inputs {
		res, err := chain.Parse(context.Background(), in, "a")
		if err != nil {
			continue
		}
		if res.Content.Source == SourceChatGPT && !res.Content.Accepted() {
			t.Errorf("accepted content violates gate for %q: %+v", in, res.Content)
		}
	}
}

func TestStripTitleDuplicates(t *testing.T) {
	titles := []string{"Garlic Shrimp", "Lemon Pasta"}

	unchanged := []string{"Buttery shrimp in minutes.", "Bright lemony pasta."}
	got := StripTitleDuplicates(titles, unchanged)
	for i := range unchanged {
		if got[i] != unchanged[i] {
			t.Errorf("no-op case changed %q to %q", unchanged[i], got[i])
		}
	}

	got = StripTitleDuplicates(titles, []string{
		"garlic shrimp - buttery and quick",
		"Garlic Shrimpy goodness",
		"Lemon Pasta",
	})
	if len(got) != 2 {
		t.Fatalf("got %q", got)
	}
	if got[0] != "buttery and quick" {
		t.Errorf("got[0] = %q", got[0])
	}
	if got[1] != "Garlic Shrimpy goodness" {
		t.Errorf("partial word match stripped: %q", got[1])
	}
}

func TestMatchRatio(t *testing.T) {
	p := ParsedContent{Titles: []string{"Garlic Shrimp Tonight"}, Descriptions: []string{"quick dinner"}}
	if got := MatchRatio(p, "Garlic Butter Shrimp"); got < 0.66 || got > 0.67 {
		t.Errorf("ratio = %v, want 2/3", got)
	}
	if got := MatchRatio(p, "a to be"); got != 1 {
		t.Errorf("keyword without long words should score 1, got %v", got)
	}
}

func TestCleanItem(t *testing.T) {
	tests := map[string]string{
		"1. **Garlic Shrimp**":        "Garlic Shrimp",
		"**2.** Lemon   Pasta":        "Lemon Pasta",
		"- Title 3: One Pan":          "One Pan",
		`"Quoted"`:                    "Quoted",
		"“Curly”":                     "Curly",
		"### 4) Heading Item":         "Heading Item",
		"Description 2 - Tasty stuff": "Tasty stuff",
		"10-Minute Meals":             "10-Minute Meals",
	}
	for in, want := range tests {
		if got := cleanItem(in); got != want {
			t.Errorf("cleanItem(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClassifyHeader(t *testing.T) {
	tests := []struct {
		line string
		want sectionKind
	}{
		{"**4 Pin Titles**", sectionTitles},
		{"## Pin Descriptions:", sectionDescriptions},
		{"Text Overlay", sectionOverlays},
		{"Overlay Text (short)", sectionOverlays},
		{"Article Title", sectionArticle},
		{"Title 1: Garlic Shrimp", sectionNone},
		{"1. Pin Titles", sectionTitles},
		{"### 1. Pin Titles", sectionTitles},
		{"**2. Pin Descriptions**", sectionDescriptions},
		{"3. Text Overlay:", sectionOverlays},
		{"1. The Best Garlic Shrimp Titles Ever", sectionNone},
		{"2. Description: buttery shrimp", sectionNone},
		{"Description 3: Buttery shrimp in minutes.", sectionNone},
		{"For Title 2:", sectionNone},
		{"These titles are written to rank well on Pinterest search results.", sectionNone},
		{"Garlic Shrimp", sectionNone},
	}
	for _, tt := range tests {
		if got := classifyHeader(tt.line); got != tt.want {
			t.Errorf("classifyHeader(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestHeuristic_LabelledItemsUnderHeaders(t *testing.T) {
	reply := `Pin Titles
Title 1: Garlic Butter Shrimp in 15 Minutes
Title 2: One-Pan Garlic Butter Shrimp
Title 3: Crispy Seared Garlic Shrimp
Title 4: Garlic Butter Shrimp Pasta
Pin Descriptions
Description 1: Juicy shrimp in a rich garlic butter sauce. Ready in fifteen minutes flat.
Description 2: Everything cooks in a single skillet. Dinner with almost no cleanup.
Description 3: Crispy seared shrimp tossed in garlic butter. Almost no cleanup at all.
**Description 4:** Toss garlic butter shrimp with linguine and parmesan. A cozy pasta night.
Text Overlay
Overlay 1: 15-Minute Dinner
Overlay 2: One Pan Only
Text Overlay 3: Crispy and Buttery
Overlay 4: Pasta Night`

	p := NewHeuristic().ParseText(reply)
	wantDesc := []string{
		"Juicy shrimp in a rich garlic butter sauce. Ready in fifteen minutes flat.",
		"Everything cooks in a single skillet. Dinner with almost no cleanup.",
		"Crispy seared shrimp tossed in garlic butter. Almost no cleanup at all.",
		"Toss garlic butter shrimp with linguine and parmesan. A cozy pasta night.",
	}
	if len(p.Descriptions) != len(wantDesc) {
		t.Fatalf("descriptions = %q", p.Descriptions)
	}
	for i, want := range wantDesc {
		if p.Descriptions[i] != want {
			t.Errorf("description[%d] = %q, want %q", i, p.Descriptions[i], want)
		}
	}
	if len(p.Titles) != 4 || p.Titles[0] != "Garlic Butter Shrimp in 15 Minutes" {
		t.Errorf("titles = %q", p.Titles)
	}
	wantOverlays := []string{"15-Minute Dinner", "One Pan Only", "Crispy and Buttery", "Pasta Night"}
	if len(p.Overlays) != len(wantOverlays) {
		t.Fatalf("overlays = %q", p.Overlays)
	}
	for i, want := range wantOverlays {
		if p.Overlays[i] != want {
			t.Errorf("overlay[%d] = %q, want %q", i, p.Overlays[i], want)
		}
	}
}

func TestHeuristic_NumberedSectionHeaders(t *testing.T) {
	reply := `### 1. 4 Pin Titles
1. Garlic Butter Shrimp in 15 Minutes
2. One-Pan Garlic Butter Shrimp
3. Crispy Seared Garlic Shrimp
4. Garlic Butter Shrimp Pasta

**2. Pin Descriptions**
1. Juicy shrimp in a rich garlic butter sauce.
2. Everything cooks in a single skillet.
3. Crispy seared shrimp tossed in garlic butter.
4. Toss the shrimp with linguine and parmesan.

3. Text Overlay:
1. 15-Minute Dinner
2. One Pan Only
3. Crispy and Buttery
4. Pasta Night`

	p := NewHeuristic().ParseText(reply)
	if len(p.Titles) != 4 || len(p.Descriptions) != 4 || len(p.Overlays) != 4 {
		t.Fatalf("got %d/%d/%d: %q / %q / %q", len(p.Titles), len(p.Descriptions), len(p.Overlays), p.Titles, p.Descriptions, p.Overlays)
	}
	if p.Titles[0] != "Garlic Butter Shrimp in 15 Minutes" || p.Descriptions[3] != "Toss the shrimp with linguine and parmesan." || p.Overlays[1] != "One Pan Only" {
		t.Errorf("got %q / %q / %q", p.Titles, p.Descriptions, p.Overlays)
	}
}
