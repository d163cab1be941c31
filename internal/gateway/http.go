package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/gpa-insight/internal/domain"
	"github.com/tidwall/gjson"
)

const maxHTTPResponseBytes = 4 << 20

// HTTPBackend posts a Responses-style request to any compatible endpoint
// and pulls the text out of whichever reply shape comes back.
type HTTPBackend struct {
	client          *http.Client
	url             string
	apiKey          string
	maxOutputTokens int64
}

// NewHTTPBackend creates a backend that POSTs to url.
func NewHTTPBackend(url, apiKey string, maxOutputTokens int64) *HTTPBackend {
	return &HTTPBackend{
		// The gateway deadline is authoritative; this only guards against a
		// stuck connection if the backend is used on its own.
		client:          &http.Client{Timeout: MaxTimeout},
		url:             strings.TrimSpace(url),
		apiKey:          strings.TrimSpace(apiKey),
		maxOutputTokens: maxOutputTokens,
	}
}

// Name implements Backend.
func (b *HTTPBackend) Name() string { return string(ProviderHTTP) }

type httpRequest struct {
	Model           string                       `json:"model"`
	Input           []domain.ConversationMessage `json:"input"`
	MaxOutputTokens int64                        `json:"max_output_tokens,omitempty"`
}

// Generate implements Backend.
func (b *HTTPBackend) Generate(ctx context.Context, model string, messages []domain.ConversationMessage) (string, error) {
	payload, err := json.Marshal(httpRequest{
		Model:           model,
		Input:           messages,
		MaxOutputTokens: b.maxOutputTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("upstream returned status %d after %s: %s",
			resp.StatusCode, time.Since(start).Round(time.Millisecond), snippet(body, 256))
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("upstream returned invalid JSON: %s", snippet(body, 256))
	}
	return extractText(body), nil
}

// extractText understands the Responses API (output_text, or output[].content[]
// parts) and the Chat Completions shape (choices[0].message.content).
func extractText(body []byte) string {
	if v := gjson.GetBytes(body, "output_text"); v.Type == gjson.String {
		return v.String()
	}

	var sb strings.Builder
	gjson.GetBytes(body, "output").ForEach(func(_, item gjson.Result) bool {
		if item.Get("type").String() != "message" {
			return true
		}
		item.Get("content").ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() == "output_text" {
				sb.WriteString(part.Get("text").String())
			}
			return true
		})
		return true
	})
	if sb.Len() > 0 {
		return sb.String()
	}

	return gjson.GetBytes(body, "choices.0.message.content").String()
}

func snippet(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
