package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nibras-backend/internal/models"
	"nibras-backend/internal/providers"
	"nibras-backend/internal/retry"
)

type stubUsage struct {
	mu      sync.Mutex
	records []models.DispatchRecord
}

func (s *stubUsage) Record(ctx context.Context, d *models.DispatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *d)
	return nil
}

func (s *stubUsage) last(t *testing.T) models.DispatchRecord {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.records)
	return s.records[len(s.records)-1]
}

const testBackoff = 20 * time.Millisecond

func newTestService(geminiURL, openaiURL string, usage UsageRecorder) *ChatService {
	var g *providers.GeminiAdapter
	if geminiURL != "" {
		g = providers.NewGemini(providers.GeminiConfig{APIKey: "gk", BaseURL: geminiURL})
	}
	var o *providers.OpenAIAdapter
	if openaiURL != "" {
		o = providers.NewOpenAI(providers.OpenAIConfig{APIKey: "ok", URL: openaiURL})
	}
	client := retry.New(retry.Config{Policy: retry.Policy{Base: testBackoff, Max: time.Second}})
	return NewChatService(providers.NewRegistry(g, o), client, retry.Options{Timeout: 2 * time.Second, MaxRetries: 3}, usage, nil)
}

func geminiRequest(text string) models.ChatRequest {
	return models.ChatRequest{Provider: "gemini", Text: text, Images: []string{}, Context: []models.Turn{}, Mode: "learn"}
}

func TestDispatch_GeminiEndToEnd(t *testing.T) {
	var gotKey, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"4"}],"role":"model"}}]}`)
	}))
	defer srv.Close()

	usage := &stubUsage{}
	s := newTestService(srv.URL, "", usage)

	res := s.Dispatch(context.Background(), geminiRequest("what is 2+2"), DispatchMeta{RequestID: "req-1", Subject: "uid-7"})
	assert.Equal(t, models.Success("4"), res)
	assert.Equal(t, "gk", gotKey)
	assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", gotPath)
	assert.Len(t, gotBody["contents"], 3)

	rec := usage.last(t)
	assert.Equal(t, models.OutcomeSuccess, rec.Outcome)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, "req-1", rec.RequestID)
	require.NotNil(t, rec.Subject)
	assert.Equal(t, "uid-7", *rec.Subject)
	require.NotNil(t, rec.UpstreamStatus)
	assert.Equal(t, http.StatusOK, *rec.UpstreamStatus)
}

func TestDispatch_RecoversAfterTwoUnavailable(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`)
	}))
	defer srv.Close()

	usage := &stubUsage{}
	s := newTestService(srv.URL, "", usage)

	start := time.Now()
	res := s.Dispatch(context.Background(), geminiRequest("hi"), DispatchMeta{})
	elapsed := time.Since(start)

	assert.Equal(t, models.Success("ok"), res)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	// slept backoff(0)+backoff(1)
	assert.GreaterOrEqual(t, elapsed, time.Duration(float64(3*testBackoff)*0.8))
	assert.Equal(t, 3, usage.last(t).Attempts)
}

func TestDispatch_NonRetryableStatusSingleAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"code":401,"message":"API key not valid"}}`)
	}))
	defer srv.Close()

	usage := &stubUsage{}
	s := newTestService(srv.URL, "", usage)

	res := s.Dispatch(context.Background(), geminiRequest("hi"), DispatchMeta{})
	assert.False(t, res.Success)
	assert.Equal(t, "API key not valid", res.Error)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	rec := usage.last(t)
	assert.Equal(t, models.OutcomeUpstream, rec.Outcome)
	require.NotNil(t, rec.ErrorKind)
	assert.Equal(t, "status", *rec.ErrorKind)
}

func TestDispatch_ServerErrorOnPostNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newTestService(srv.URL, "", nil)
	res := s.Dispatch(context.Background(), geminiRequest("hi"), DispatchMeta{})
	assert.Equal(t, models.Failure("API error"), res)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestDispatch_RateLimitExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := newTestService(srv.URL, "", nil)
	res := s.Dispatch(context.Background(), geminiRequest("hi"), DispatchMeta{})
	assert.Equal(t, models.Failure("Rate limit exceeded. Please wait a moment and try again."), res)
	assert.EqualValues(t, 4, atomic.LoadInt32(&calls))
}

func TestDispatch_UnknownProviderMakesNoCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	usage := &stubUsage{}
	s := newTestService(srv.URL, srv.URL, usage)

	req := geminiRequest("hi")
	req.Provider = "unknown"
	res := s.Dispatch(context.Background(), req, DispatchMeta{})
	assert.False(t, res.Success)
	assert.Equal(t, msgInvalidProvider, res.Error)
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))
	assert.Equal(t, models.OutcomeInvalid, usage.last(t).Outcome)
}

func TestDispatch_ProviderNotConfigured(t *testing.T) {
	s := newTestService("", "", nil)
	res := s.Dispatch(context.Background(), geminiRequest("hi"), DispatchMeta{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not configured")
}

func TestDispatch_MalformedUpstreamBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html>`)
	}))
	defer srv.Close()

	s := newTestService(srv.URL, "", nil)
	res := s.Dispatch(context.Background(), geminiRequest("hi"), DispatchMeta{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "decode gemini response")
}

func TestDispatch_CallerCancellation(t *testing.T) {
	started := make(chan struct{}, 4)
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		started <- struct{}{}
		<-r.Context().Done()
	}))
	defer srv.Close()

	usage := &stubUsage{}
	s := newTestService(srv.URL, "", usage)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	res := s.Dispatch(ctx, geminiRequest("hi"), DispatchMeta{})
	assert.Equal(t, models.Failure("Request was aborted."), res)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Equal(t, models.OutcomeCanceled, usage.last(t).Outcome)
}

func TestDispatch_OpenAIEndToEnd(t *testing.T) {
	var gotAuth string
	var payload struct {
		Model    string `json:"model"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&payload)
		io.WriteString(w, `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hello back"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	s := newTestService("", srv.URL, nil)
	res := s.Dispatch(context.Background(), models.ChatRequest{
		Provider: "openai",
		Text:     "hello",
		Images:   []string{},
		Context:  []models.Turn{{Role: "assistant", Text: "earlier"}},
		Mode:     "workshop",
	}, DispatchMeta{})

	assert.Equal(t, models.Success("hello back"), res)
	assert.Equal(t, "Bearer ok", gotAuth)
	assert.Equal(t, "gpt-4o-mini", payload.Model)
	require.Len(t, payload.Messages, 3)
	assert.Equal(t, "assistant", payload.Messages[1].Role)
}

type noopUsage struct{}

func (noopUsage) Record(ctx context.Context, d *models.DispatchRecord) error { return nil }

func TestDispatch_RecoversFromPanic(t *testing.T) {
	s := &ChatService{opts: retry.Options{Timeout: time.Second}, usage: noopUsage{}}
	// nil registry panics inside Adapter lookup
	res := s.Dispatch(context.Background(), geminiRequest("hi"), DispatchMeta{})
	assert.Equal(t, models.Failure(msgInternal), res)
}
