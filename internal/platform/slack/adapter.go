// Package slack integrates Slack through the Events API (inbound) and
// chat.postMessage (outbound).
package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/timeprofiler/internal/platform"
	"github.com/timeprofiler/pkg/models"
)

// Config configures the Slack adapter.
type Config struct {
	BotToken       string `koanf:"bot_token"`
	SigningSecret  string `koanf:"signing_secret"`
	DefaultChannel string `koanf:"default_channel"`
	APIBaseURL     string `koanf:"api_base_url"`
	// RequestsPerSecond caps outbound calls; 0 disables the limiter.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

const (
	// Slack retries an unacknowledged event for a few minutes; an event id
	// seen within this window is a redelivery.
	seenEventTTL  = time.Hour
	seenEventSize = 10000
)

// Message subtypes that still carry a user's own words. Every other subtype
// (bot_message, message_changed, channel_join, ...) is ignored.
var userSubtypes = map[string]bool{
	"":                 true,
	"file_share":       true,
	"thread_broadcast": true,
}

type envelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	TeamID    string `json:"team_id"`
	EventID   string `json:"event_id"`
	Event     struct {
		Type    string `json:"type"`
		User    string `json:"user"`
		Text    string `json:"text"`
		TS      string `json:"ts"`
		Channel string `json:"channel"`
		BotID   string `json:"bot_id"`
		Subtype string `json:"subtype"`
	} `json:"event"`
}

// Adapter implements platform.Adapter for Slack.
type Adapter struct {
	cfg    Config
	client *Client
	now    func() time.Time

	mu       sync.Mutex
	seen     *expirable.LRU[string, struct{}]
	channels map[string]string
}

var (
	_ platform.Adapter = (*Adapter)(nil)
	_ platform.Sender  = (*Adapter)(nil)
	_ platform.Filter  = (*Adapter)(nil)
)

// New builds an adapter. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) *Adapter {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Adapter{
		cfg:      cfg,
		client:   NewClient(httpClient, cfg.APIBaseURL, cfg.BotToken, limiter),
		now:      time.Now,
		seen:     expirable.NewLRU[string, struct{}](seenEventSize, nil, seenEventTTL),
		channels: make(map[string]string),
	}
}

func (a *Adapter) Name() models.Platform { return models.PlatformSlack }

// URLVerification returns the challenge when body is Slack's endpoint
// verification handshake.
func URLVerification(body []byte) (string, bool) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", false
	}
	if env.Type != "url_verification" {
		return "", false
	}
	return env.Challenge, true
}

func (a *Adapter) verify(raw platform.RawMessage) error {
	if a.cfg.SigningSecret == "" {
		return nil
	}
	sig, _ := raw.Header("X-Slack-Signature")
	ts, _ := raw.Header("X-Slack-Request-Timestamp")
	return VerifySignature(a.cfg.SigningSecret, sig, ts, raw.Body, a.now())
}

// Ignore acknowledges events that are not a user's message: other event
// types, bot posts (including our own replies), edits and joins, empty
// text, and redeliveries of an event id already accepted. Unsigned requests
// are left for Authenticate to reject.
func (a *Adapter) Ignore(ctx context.Context, raw platform.RawMessage) (string, bool) {
	if err := a.verify(raw); err != nil {
		return "", false
	}
	env := decode(raw.Body)
	switch {
	case env.Type != "" && env.Type != "event_callback":
		return "not_message", true
	case env.Event.Type != "message" && env.Event.Type != "app_mention":
		return "not_message", true
	case env.Event.BotID != "":
		return "bot_event", true
	case !userSubtypes[env.Event.Subtype]:
		return "subtype", true
	case strings.TrimSpace(env.Event.Text) == "":
		return "empty_text", true
	}

	if env.EventID == "" {
		return "", false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seen.Contains(env.EventID) {
		retryNum, _ := raw.Header("X-Slack-Retry-Num")
		log.Debug().Str("event_id", env.EventID).Str("retry_num", retryNum).Msg("Dropping redelivered Slack event")
		return "duplicate", true
	}
	a.seen.Add(env.EventID, struct{}{})
	return "", false
}

func (a *Adapter) Authenticate(ctx context.Context, raw platform.RawMessage) (string, bool) {
	if err := a.verify(raw); err != nil {
		log.Warn().Err(err).Msg("Rejected Slack request")
		return "", false
	}

	env := decode(raw.Body)
	if env.Event.BotID != "" {
		// Our own replies come back as events; never answer them.
		return "", false
	}
	user := strings.TrimSpace(env.Event.User)
	return user, user != ""
}

// Parse also remembers the channel the user wrote in so the reply lands
// there.
func (a *Adapter) Parse(ctx context.Context, raw platform.RawMessage) models.Message {
	env := decode(raw.Body)
	user := strings.TrimSpace(env.Event.User)
	if user != "" && env.Event.Channel != "" {
		a.mu.Lock()
		a.channels[user] = env.Event.Channel
		a.mu.Unlock()
	}

	meta := map[string]any{}
	if env.Event.Channel != "" {
		meta["channel"] = env.Event.Channel
	}
	if env.TeamID != "" {
		meta["team_id"] = env.TeamID
	}
	if env.EventID != "" {
		meta["event_id"] = env.EventID
	}

	return models.NewMessage(
		user,
		env.Event.Text,
		platform.Timestamp(parseTS(env.Event.TS), raw.ReceivedAt),
		models.PlatformSlack,
		"",
		meta,
	)
}

func (a *Adapter) Deliver(ctx context.Context, userID string, resp models.Response) bool {
	if err := a.Send(ctx, userID, resp); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Slack delivery failed")
		return false
	}
	return true
}

// Send posts resp to the channel userID last wrote in. Users we have not
// heard from get the configured default channel, or a DM.
func (a *Adapter) Send(ctx context.Context, userID string, resp models.Response) error {
	return a.client.PostMessage(ctx, a.replyChannel(userID), resp.Text)
}

func (a *Adapter) replyChannel(userID string) string {
	a.mu.Lock()
	channel, ok := a.channels[userID]
	a.mu.Unlock()
	if ok {
		return channel
	}
	if a.cfg.DefaultChannel != "" {
		return a.cfg.DefaultChannel
	}
	return userID
}

// parseTS converts a Slack ts such as "1700000000.000100".
func parseTS(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	secPart, fracPart, _ := strings.Cut(ts, ".")
	secs, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var nanos int64
	if fracPart != "" {
		if len(fracPart) > 9 {
			fracPart = fracPart[:9]
		}
		fracPart += strings.Repeat("0", 9-len(fracPart))
		if n, err := strconv.ParseInt(fracPart, 10, 64); err == nil {
			nanos = n
		}
	}
	return time.Unix(secs, nanos).UTC()
}

func decode(body []byte) envelope {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		log.Debug().Err(err).Msg("Malformed Slack payload, using defaults")
	}
	return env
}
