package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/byteowlz/pinscrpr/internal/metrics"
)

const defaultGeminiModel = "gemini-2.0-flash"

type GeminiProvider struct {
	client *genai.Client
	model  string
}

var _ Provider = (*GeminiProvider)(nil)

func NewGeminiProvider(ctx context.Context, apiKey, baseURL, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiProvider{client: c, model: model}, nil
}

func (g *GeminiProvider) Name() string { return "gemini" }

func (g *GeminiProvider) Complete(ctx context.Context, req Request) (string, error) {
	start := time.Now()

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}

	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: req.Prompt}},
	}}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		metrics.LLMCall(g.Name(), false, time.Since(start).Seconds())
		apiErr := &GenerationAPIError{Provider: g.Name(), Err: err}
		var ge genai.APIError
		if errors.As(err, &ge) {
			apiErr.StatusCode = ge.Code
		}
		return "", apiErr
	}

	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part != nil {
				sb.WriteString(part.Text)
			}
		}
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		metrics.LLMCall(g.Name(), false, time.Since(start).Seconds())
		return "", &GenerationAPIError{Provider: g.Name(), Err: errors.New("empty completion")}
	}

	metrics.LLMCall(g.Name(), true, time.Since(start).Seconds())
	return text, nil
}
