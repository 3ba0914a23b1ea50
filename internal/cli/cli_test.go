package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nibras-backend/internal/identity"
	"nibras-backend/internal/models"
	"nibras-backend/internal/retry"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestAsk_Success(t *testing.T) {
	var got models.ChatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, `{"success":true,"text":"4"}`)
	}))
	defer srv.Close()

	out, _, err := run(t, "ask", "--server", srv.URL+"/", "--provider", "openai", "--mode", "practice", "--token", "tok", "what", "is", "2+2")
	require.NoError(t, err)
	assert.Equal(t, "4\n", out)
	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, models.ChatRequest{
		Provider: "openai",
		Text:     "what is 2+2",
		Images:   []string{},
		Context:  []models.Turn{},
		Mode:     "practice",
	}, got)
}

func TestAsk_FailureEnvelopeIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":false,"error":"API key not valid"}`)
	}))
	defer srv.Close()

	_, _, err := run(t, "ask", "--server", srv.URL, "hi")
	require.Error(t, err)
	assert.Equal(t, "API key not valid", err.Error())
}

func TestAsk_ValidationErrorMessage(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"success":false,"error":"Invalid provider. Must be \"gemini\" or \"openai\""}`)
	}))
	defer srv.Close()

	_, _, err := run(t, "ask", "--server", srv.URL, "--provider", "claude", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid provider")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCaller_RetriesUnavailableWithObserver(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"success":true,"text":"ok"}`)
	}))
	defer srv.Close()

	var attempts []retry.Attempt
	client := retry.New(retry.Config{OnRetry: func(a retry.Attempt) { attempts = append(attempts, a) }})
	c := &Caller{Server: srv.URL, Client: client, Opts: retry.Options{Timeout: time.Second, MaxRetries: 2}}

	text, err := c.Send(context.Background(), models.ChatRequest{Provider: "gemini", Text: "hi", Images: []string{}, Context: []models.Turn{}, Mode: "learn"})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	require.Len(t, attempts, 1)
	assert.Equal(t, "503", attempts[0].Cause())
	assert.True(t, attempts[0].RetryAfter)
}

func TestAsk_AttachesImages(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	path := filepath.Join(t.TempDir(), "diagram.png")
	require.NoError(t, os.WriteFile(path, png, 0o600))

	var got models.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"success":true,"text":"a diagram"}`)
	}))
	defer srv.Close()

	_, _, err := run(t, "ask", "--server", srv.URL, "--image", path, "what is this")
	require.NoError(t, err)
	require.Len(t, got.Images, 1)
	assert.True(t, strings.HasPrefix(got.Images[0], "data:image/png;base64,"))
}

func TestImageDataURI_RejectsNonImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o600))

	_, err := imageDataURI(path)
	assert.Error(t, err)

	_, err = imageDataURI(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestToken(t *testing.T) {
	out, _, err := run(t, "token", "--secret", "s3cret", "--subject", "uid-9")
	require.NoError(t, err)

	claims, err := identity.NewJWTVerifier("s3cret").Verify(context.Background(), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "uid-9", claims.Subject)
}

func TestToken_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, _, err := run(t, "token", "--secret", "")
	assert.Error(t, err)
}

func TestDefaultAskTimeout_OutlastsProxyRetries(t *testing.T) {
	t.Setenv("UPSTREAM_TIMEOUT_MS", "")
	t.Setenv("UPSTREAM_MAX_RETRIES", "")
	worst := 4*30*time.Second + 3*retry.DefaultMax
	assert.Greater(t, defaultAskTimeout(), worst)

	t.Setenv("UPSTREAM_TIMEOUT_MS", "5000")
	t.Setenv("UPSTREAM_MAX_RETRIES", "1")
	assert.Equal(t, 2*5*time.Second+retry.DefaultMax+10*time.Second, defaultAskTimeout())

	t.Setenv("UPSTREAM_MAX_RETRIES", "bogus")
	assert.Equal(t, 4*5*time.Second+3*retry.DefaultMax+10*time.Second, defaultAskTimeout())
}

func TestAsk_TimeoutFlagDefault(t *testing.T) {
	t.Setenv("UPSTREAM_TIMEOUT_MS", "1000")
	t.Setenv("UPSTREAM_MAX_RETRIES", "0")
	cmd := newAskCmd()
	flag := cmd.Flags().Lookup("timeout")
	require.NotNil(t, flag)
	assert.Equal(t, (11 * time.Second).String(), flag.DefValue)
}
