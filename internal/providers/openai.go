package providers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"

	"nibras-backend/internal/models"
	"nibras-backend/internal/retry"
)

const (
	DefaultOpenAIURL   = "https://api.openai.com/v1/chat/completions"
	DefaultOpenAIModel = "gpt-4o-mini"
)

type OpenAIConfig struct {
	APIKey string
	URL    string
	Model  string
}

// OpenAIAdapter speaks the chat completions API. Payload and response use the
// openai-go wire types; transport goes through the retry client.
type OpenAIAdapter struct {
	cfg OpenAIConfig
}

func NewOpenAI(cfg OpenAIConfig) *OpenAIAdapter {
	if cfg.URL == "" {
		cfg.URL = DefaultOpenAIURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	return &OpenAIAdapter{cfg: cfg}
}

func (o *OpenAIAdapter) Kind() Kind { return OpenAI }

func (o *OpenAIAdapter) buildParams(req models.ChatRequest, systemPrompt string) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Context)+2)
	messages = append(messages, openai.SystemMessage(systemPrompt))

	for _, t := range req.Context {
		if t.Role == models.RoleUser {
			messages = append(messages, openai.UserMessage(t.Text))
		} else {
			messages = append(messages, openai.AssistantMessage(t.Text))
		}
	}

	content := make([]openai.ChatCompletionContentPartUnionParam, 0, len(req.Images)+1)
	content = append(content, openai.TextContentPart(req.Text))
	for _, img := range req.Images {
		content = append(content, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: img}))
	}
	messages = append(messages, openai.UserMessage(content))

	return openai.ChatCompletionNewParams{
		Model:       o.cfg.Model,
		Messages:    messages,
		Temperature: openai.Float(0.7),
	}
}

func (o *OpenAIAdapter) BuildRequest(req models.ChatRequest, systemPrompt string) (retry.Request, error) {
	body, err := json.Marshal(o.buildParams(req, systemPrompt))
	if err != nil {
		return retry.Request{}, fmt.Errorf("marshal openai payload: %w", err)
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer "+o.cfg.APIKey)
	return retry.Request{Method: http.MethodPost, URL: o.cfg.URL, Header: h, Body: body}, nil
}

// ParseResponse returns the first choice's message content, or "" when the
// completion has no choices.
func (o *OpenAIAdapter) ParseResponse(body []byte) (string, error) {
	var completion openai.ChatCompletion
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", nil
	}
	return completion.Choices[0].Message.Content, nil
}
