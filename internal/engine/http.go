package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jobnova/interviewd/internal/reliability"
)

// HTTPGenerator forwards requests to a generation endpoint speaking plain
// JSON: the request body is the serialized Request, the response carries the
// reply under a "text"-like key.
type HTTPGenerator struct {
	url    string
	client *http.Client
}

func NewHTTPGenerator(url string) *HTTPGenerator {
	return &HTTPGenerator{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		if reliability.IsRetryableHTTPStatus(res.StatusCode) {
			return "", fmt.Errorf("engine http status %d: %s: %w", res.StatusCode, string(body), ErrUnavailable)
		}
		return "", fmt.Errorf("engine http status %d: %s", res.StatusCode, string(body))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		// Plain-text endpoints are acceptable.
		return strings.TrimSpace(string(body)), nil
	}
	return extractText(obj), nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "assistant_text", "output", "message"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
