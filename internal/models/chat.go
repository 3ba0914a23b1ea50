package models

import "encoding/json"

// Role of a prior conversation turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Tutoring modes. Each selects a different system prompt.
const (
	ModeLearn    = "learn"
	ModeExamples = "examples"
	ModePractice = "practice"
	ModeWorkshop = "workshop"
)

// ContextWindow is how many trailing turns the front end keeps per session.
// The server forwards whatever it receives.
const ContextWindow = 12

// Turn is one prior message, oldest first.
type Turn struct {
	Role string `json:"role"` // "user" | "assistant"
	Text string `json:"text"`
}

// ChatRequest is the normalized, provider-agnostic chat call.
type ChatRequest struct {
	Provider string   `json:"provider"` // "gemini" | "openai"
	Text     string   `json:"text"`
	Images   []string `json:"images"` // data URIs
	Context  []Turn   `json:"context"`
	Mode     string   `json:"mode"`
}

// ChatResult is either {success:true,text} or {success:false,error}.
type ChatResult struct {
	Success bool
	Text    string
	Error   string

	// Code and Fields are only set on transport-level failures (400/401/429).
	Code   string
	Fields map[string]string
}

func Success(text string) ChatResult {
	return ChatResult{Success: true, Text: text}
}

func Failure(msg string) ChatResult {
	return ChatResult{Error: msg}
}

func (r ChatResult) MarshalJSON() ([]byte, error) {
	if r.Success {
		return json.Marshal(struct {
			Success bool   `json:"success"`
			Text    string `json:"text"`
		}{true, r.Text})
	}
	return json.Marshal(struct {
		Success bool              `json:"success"`
		Error   string            `json:"error"`
		Code    string            `json:"code,omitempty"`
		Fields  map[string]string `json:"fields,omitempty"`
	}{false, r.Error, r.Code, r.Fields})
}

func (r *ChatResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		Success bool              `json:"success"`
		Text    string            `json:"text"`
		Error   string            `json:"error"`
		Code    string            `json:"code"`
		Fields  map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = ChatResult{Success: raw.Success, Code: raw.Code, Fields: raw.Fields}
	if raw.Success {
		r.Text = raw.Text
	} else {
		r.Error = raw.Error
	}
	return nil
}
