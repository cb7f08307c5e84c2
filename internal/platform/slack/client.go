package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/timeprofiler/internal/retry"
)

const defaultBaseURL = "https://slack.com/api"

// Client posts messages through the Slack Web API.
type Client struct {
	http     *http.Client
	baseURL  string
	botToken string
	limiter  *rate.Limiter
}

// NewClient builds a client. A nil limiter disables rate limiting.
func NewClient(httpClient *http.Client, baseURL, botToken string, limiter *rate.Limiter) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimSpace(strings.TrimRight(baseURL, "/"))
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		http:     httpClient,
		baseURL:  baseURL,
		botToken: strings.TrimSpace(botToken),
		limiter:  limiter,
	}
}

// PostMessage calls chat.postMessage. Failures Slack reports as permanent
// (bad channel, revoked token) are wrapped with retry.Permanent.
func (c *Client) PostMessage(ctx context.Context, channelID, text string) error {
	if c.botToken == "" {
		return retry.Permanent(fmt.Errorf("slack token is required"))
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return retry.Permanent(fmt.Errorf("channel_id is required"))
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("slack rate limiter: %w", err)
		}
	}

	type requestBody struct {
		Channel string `json:"channel"`
		Text    string `json:"text"`
	}
	type responseBody struct {
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}

	bodyRaw, err := json.Marshal(requestBody{Channel: channelID, Text: text})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat.postMessage", bytes.NewReader(bodyRaw))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.botToken)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("slack chat.postMessage: %w", err)
	}
	defer resp.Body.Close()

	respRaw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read slack response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack chat.postMessage returned status %d", resp.StatusCode)
	}

	var out responseBody
	if err := json.Unmarshal(respRaw, &out); err != nil {
		return retry.Permanent(fmt.Errorf("decode slack response: %w", err))
	}
	if out.OK {
		return nil
	}

	code := strings.TrimSpace(out.Error)
	if code == "" {
		code = "unknown_error"
	}
	if code == "ratelimited" {
		return fmt.Errorf("slack chat.postMessage: rate limit exceeded")
	}
	return retry.Permanent(fmt.Errorf("slack chat.postMessage failed: %s", code))
}
