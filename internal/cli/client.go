package cli

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"nibras-backend/internal/models"
	"nibras-backend/internal/retry"
)

// Caller posts chat requests to a running proxy through the retry client.
type Caller struct {
	Server string
	Token  string
	Client *retry.Client
	Opts   retry.Options
}

// Send returns the answer text. A {success:false} envelope is an error
// carrying the server's message.
func (c *Caller) Send(ctx context.Context, req models.ChatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	header := http.Header{"Content-Type": []string{"application/json"}}
	if c.Token != "" {
		header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.Client.Do(ctx, retry.Request{
		Method: http.MethodPost,
		URL:    strings.TrimRight(c.Server, "/") + "/api/chat",
		Header: header,
		Body:   body,
	}, c.Opts)
	if err != nil {
		var re *retry.Error
		if errors.As(err, &re) && re.StatusCode != 0 {
			if msg := envelopeError(re.Body); msg != "" {
				return "", errors.New(msg)
			}
		}
		return "", err
	}

	var result models.ChatResult
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if !result.Success {
		if result.Error == "" {
			return "", errors.New("Unknown error")
		}
		return "", errors.New(result.Error)
	}
	return result.Text, nil
}

func envelopeError(body []byte) string {
	var result models.ChatResult
	if err := json.Unmarshal(body, &result); err != nil {
		return ""
	}
	return result.Error
}

// imageDataURI reads an image file and encodes it for the images field.
func imageDataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return "", fmt.Errorf("%s is not an image (%s)", path, mimeType)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
