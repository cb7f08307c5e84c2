package teams

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/timeprofiler/internal/retry"
)

const (
	defaultTokenURL = "https://login.microsoftonline.com/botframework.com/oauth2/v2.0/token"
	defaultScope    = "https://api.botframework.com/.default"
)

// ConversationRef is what the Bot Connector needs to message a user proactively.
type ConversationRef struct {
	ConversationID string
	ServiceURL     string
}

// Client talks to the Bot Framework token endpoint and Bot Connector API.
type Client struct {
	http    *http.Client
	creds   clientcredentials.Config
	limiter *rate.Limiter

	mu     sync.Mutex
	tokens oauth2.TokenSource
}

// NewClient builds a client. A nil limiter disables rate limiting.
func NewClient(httpClient *http.Client, appID, appPassword, tokenURL string, limiter *rate.Limiter) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if strings.TrimSpace(tokenURL) == "" {
		tokenURL = defaultTokenURL
	}
	return &Client{
		http: httpClient,
		creds: clientcredentials.Config{
			ClientID:     appID,
			ClientSecret: appPassword,
			TokenURL:     tokenURL,
			Scopes:       []string{defaultScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		limiter: limiter,
	}
}

// tokenSource returns the cached source, building one on first use or after
// the Bot Connector rejected the previous token.
func (c *Client) tokenSource() oauth2.TokenSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens == nil {
		// The source outlives any single request, so it gets its own context
		// carrying only the HTTP client.
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.http)
		c.tokens = c.creds.TokenSource(ctx)
	}
	return c.tokens
}

func (c *Client) accessToken() (string, error) {
	if c.creds.ClientID == "" || c.creds.ClientSecret == "" {
		return "", retry.Permanent(fmt.Errorf("teams app_id and app_password are required"))
	}

	tok, err := c.tokenSource().Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			code := rerr.Response.StatusCode
			tokenErr := fmt.Errorf("teams token endpoint returned status %d: %w", code, err)
			if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
				return "", retry.Permanent(tokenErr)
			}
			return "", tokenErr
		}
		return "", fmt.Errorf("teams token request: %w", err)
	}
	return tok.AccessToken, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.tokens = nil
	c.mu.Unlock()
}

// SendActivity posts a text message into the referenced conversation.
func (c *Client) SendActivity(ctx context.Context, ref ConversationRef, text string) error {
	token, err := c.accessToken()
	if err != nil {
		return err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("teams rate limiter: %w", err)
		}
	}

	apiURL := fmt.Sprintf("%s/v3/conversations/%s/activities",
		strings.TrimRight(ref.ServiceURL, "/"), url.PathEscape(ref.ConversationID))

	jsonBody, err := json.Marshal(map[string]string{"type": "message", "text": text})
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(jsonBody))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("teams send activity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusUnauthorized {
			// Next attempt fetches a fresh token.
			c.invalidateToken()
			return fmt.Errorf("teams send activity: token rejected, temporary failure")
		}
		sendErr := fmt.Errorf("teams send activity returned status %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Permanent(sendErr)
		}
		return sendErr
	}
	return nil
}
