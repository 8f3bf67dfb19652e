package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/byteowlz/pinscrpr/internal/metrics"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider calls the chat completions API. BaseURL may point at any
// compatible endpoint.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

var _ Provider = (*OpenAIProvider)(nil)

func NewOpenAIProvider(apiKey, baseURL, model string, maxRetries int) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(max(maxRetries, 0)),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	start := time.Now()

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: messages,
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		metrics.LLMCall(p.Name(), false, time.Since(start).Seconds())
		apiErr := &GenerationAPIError{Provider: p.Name(), Err: err}
		var oe *openai.Error
		if errors.As(err, &oe) {
			apiErr.StatusCode = oe.StatusCode
		}
		return "", apiErr
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		metrics.LLMCall(p.Name(), false, time.Since(start).Seconds())
		return "", &GenerationAPIError{Provider: p.Name(), Err: errors.New("empty completion")}
	}

	metrics.LLMCall(p.Name(), true, time.Since(start).Seconds())
	return resp.Choices[0].Message.Content, nil
}
