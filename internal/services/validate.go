package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"nibras-backend/internal/models"
	"nibras-backend/internal/providers"
)

const (
	msgInvalidBody     = "Invalid request body"
	msgMissingFields   = "Missing or invalid required fields: provider, text, images (array), context (array), mode"
	msgInvalidProvider = `Invalid provider. Must be "gemini" or "openai"`
)

// DecodeChatRequest reads and validates an inbound chat body. Shape is
// checked on the raw JSON so that a non-array images or context value is a
// field error rather than a decode failure.
func DecodeChatRequest(r io.Reader) (models.ChatRequest, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil || raw == nil {
		return models.ChatRequest{}, &ValidationError{Message: msgInvalidBody}
	}

	var req models.ChatRequest
	fields := map[string]string{}

	req.Provider = requiredString(raw, "provider", fields)
	req.Text = requiredString(raw, "text", fields)
	req.Mode = requiredString(raw, "mode", fields)

	if err := decodeArray(raw["images"], &req.Images); err != nil {
		fields["images"] = err.Error()
	}
	if err := decodeArray(raw["context"], &req.Context); err != nil {
		fields["context"] = err.Error()
	}

	if len(fields) > 0 {
		return models.ChatRequest{}, &ValidationError{Message: msgMissingFields, Fields: fields}
	}

	if _, ok := providers.ParseKind(req.Provider); !ok {
		return models.ChatRequest{}, &ValidationError{
			Message: msgInvalidProvider,
			Fields:  map[string]string{"provider": `must be "gemini" or "openai"`},
		}
	}

	return req, nil
}

// ValidateChatRequest applies the same rules to an already decoded request.
// Nil slices are treated as missing.
func ValidateChatRequest(req models.ChatRequest) error {
	fields := map[string]string{}
	if req.Provider == "" {
		fields["provider"] = "is required"
	}
	if req.Text == "" {
		fields["text"] = "is required"
	}
	if req.Mode == "" {
		fields["mode"] = "is required"
	}
	if req.Images == nil {
		fields["images"] = "must be an array"
	}
	if req.Context == nil {
		fields["context"] = "must be an array"
	}
	if len(fields) > 0 {
		return &ValidationError{Message: msgMissingFields, Fields: fields}
	}
	if _, ok := providers.ParseKind(req.Provider); !ok {
		return &ValidationError{Message: msgInvalidProvider, Fields: map[string]string{"provider": `must be "gemini" or "openai"`}}
	}
	return nil
}

func requiredString(raw map[string]json.RawMessage, key string, fields map[string]string) string {
	v, ok := raw[key]
	if !ok {
		fields[key] = "is required"
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		fields[key] = "must be a string"
		return ""
	}
	if s == "" {
		fields[key] = "is required"
	}
	return s
}

func decodeArray[T any](v json.RawMessage, dst *[]T) error {
	trimmed := bytes.TrimSpace(v)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return fmt.Errorf("must be an array")
	}
	out := []T{}
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return fmt.Errorf("has invalid elements")
	}
	*dst = out
	return nil
}
