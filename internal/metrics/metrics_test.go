package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesPipelineMetrics(t *testing.T) {
	KeywordFinished("chatgpt", true)
	Attempt("download", "success")
	ParseStrategy("heuristic", true)
	ObserveStage("analyze", time.Now().Add(-2*time.Second))
	LLMCall("openai", false, 0.3)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`pinscrpr_keywords_total{source="chatgpt",success="true"}`,
		`pinscrpr_attempts_total{outcome="success",stage="download"}`,
		`pinscrpr_parse_strategy_total{accepted="true",strategy="heuristic"}`,
		`pinscrpr_stage_duration_seconds_count{stage="analyze"}`,
		`pinscrpr_llm_calls_total{provider="openai",success="false"}`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestNorm(t *testing.T) {
	if norm("  OpenAI ") != "openai" || norm("") != "unknown" {
		t.Error("unexpected label normalisation")
	}
}
