// Package providers translates the normalized chat request into the two
// supported upstream APIs and back.
package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"nibras-backend/internal/models"
	"nibras-backend/internal/retry"
)

// Kind is the closed set of upstream providers.
type Kind string

const (
	Gemini Kind = "gemini"
	OpenAI Kind = "openai"
)

// Kinds lists every provider in a stable order.
var Kinds = []Kind{Gemini, OpenAI}

// ParseKind maps a wire identifier onto a Kind. Unknown values are rejected.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case Gemini:
		return Gemini, true
	case OpenAI:
		return OpenAI, true
	}
	return "", false
}

// ErrNotConfigured is returned for a known provider that has no credentials.
var ErrNotConfigured = errors.New("provider is not configured")

// Adapter builds the upstream call for one provider and reads its answer.
type Adapter interface {
	Kind() Kind
	BuildRequest(req models.ChatRequest, systemPrompt string) (retry.Request, error)
	ParseResponse(body []byte) (string, error)
}

// Registry holds the configured adapters. A nil field means the provider has
// no credentials.
type Registry struct {
	gemini *GeminiAdapter
	openai *OpenAIAdapter
}

func NewRegistry(gemini *GeminiAdapter, openai *OpenAIAdapter) *Registry {
	return &Registry{gemini: gemini, openai: openai}
}

func (r *Registry) Adapter(k Kind) (Adapter, error) {
	switch k {
	case Gemini:
		if r.gemini == nil {
			return nil, fmt.Errorf("%s: %w", k, ErrNotConfigured)
		}
		return r.gemini, nil
	case OpenAI:
		if r.openai == nil {
			return nil, fmt.Errorf("%s: %w", k, ErrNotConfigured)
		}
		return r.openai, nil
	}
	return nil, fmt.Errorf("unknown provider %q", k)
}

// Configured lists the providers that have credentials.
func (r *Registry) Configured() []Kind {
	var out []Kind
	for _, k := range Kinds {
		if _, err := r.Adapter(k); err == nil {
			out = append(out, k)
		}
	}
	return out
}

// UpstreamErrorMessage extracts error.message from an upstream error body.
// Both providers use that shape. Returns "" when it is absent.
func UpstreamErrorMessage(body []byte) string {
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	return strings.TrimSpace(env.Error.Message)
}
