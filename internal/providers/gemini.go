package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"nibras-backend/internal/models"
	"nibras-backend/internal/retry"
)

const (
	DefaultGeminiURL   = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel = "gemini-2.0-flash"

	geminiModelRole = "model"
	geminiAck       = "فهمت."
)

type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// GeminiAdapter speaks the generateContent REST API. The system prompt is sent
// as a leading user turn followed by a short model acknowledgement.
type GeminiAdapter struct {
	cfg GeminiConfig
}

func NewGemini(cfg GeminiConfig) *GeminiAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGeminiURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	return &GeminiAdapter{cfg: cfg}
}

func (g *GeminiAdapter) Kind() Kind { return Gemini }

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       *string     `json:"text,omitempty"`
	InlineData *geminiBlob `json:"inline_data,omitempty"`
}

type geminiBlob struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

func textPart(s string) geminiPart {
	return geminiPart{Text: &s}
}

func (g *GeminiAdapter) buildPayload(req models.ChatRequest, systemPrompt string) (*geminiRequest, error) {
	contents := make([]geminiContent, 0, len(req.Context)+3)
	contents = append(contents,
		geminiContent{Role: models.RoleUser, Parts: []geminiPart{textPart(systemPrompt)}},
		geminiContent{Role: geminiModelRole, Parts: []geminiPart{textPart(geminiAck)}},
	)

	for _, t := range req.Context {
		role := geminiModelRole
		if t.Role == models.RoleUser {
			role = models.RoleUser
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{textPart(t.Text)}})
	}

	parts := make([]geminiPart, 0, len(req.Images)+1)
	parts = append(parts, textPart(req.Text))
	for i, img := range req.Images {
		mimeType, data, err := splitDataURI(img)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		parts = append(parts, geminiPart{InlineData: &geminiBlob{MIMEType: mimeType, Data: data}})
	}
	contents = append(contents, geminiContent{Role: models.RoleUser, Parts: parts})

	return &geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenerationConfig{
			Temperature:     0.8,
			TopK:            40,
			TopP:            0.95,
			MaxOutputTokens: 1024,
		},
	}, nil
}

func (g *GeminiAdapter) endpoint() (string, error) {
	u, err := url.Parse(strings.TrimRight(g.cfg.BaseURL, "/") + "/v1beta/models/" + g.cfg.Model + ":generateContent")
	if err != nil {
		return "", fmt.Errorf("parse gemini url: %w", err)
	}
	q := u.Query()
	q.Set("key", g.cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (g *GeminiAdapter) BuildRequest(req models.ChatRequest, systemPrompt string) (retry.Request, error) {
	payload, err := g.buildPayload(req, systemPrompt)
	if err != nil {
		return retry.Request{}, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return retry.Request{}, fmt.Errorf("marshal gemini payload: %w", err)
	}
	endpoint, err := g.endpoint()
	if err != nil {
		return retry.Request{}, err
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return retry.Request{Method: http.MethodPost, URL: endpoint, Header: h, Body: body}, nil
}

// ParseResponse returns the first candidate's first text part. A response
// without one yields "".
func (g *GeminiAdapter) ParseResponse(body []byte) (string, error) {
	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", nil
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}
