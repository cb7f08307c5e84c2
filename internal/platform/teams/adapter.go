// Package teams integrates Microsoft Teams through the Bot Framework.
package teams

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/timeprofiler/internal/platform"
	"github.com/timeprofiler/internal/retry"
	"github.com/timeprofiler/pkg/models"
)

// ErrNoConversation is returned when a user has never messaged the bot, so
// there is no conversation to reply into.
var ErrNoConversation = errors.New("teams: no conversation reference for user")

// Config configures the Teams adapter.
type Config struct {
	AppID       string `koanf:"app_id"`
	AppPassword string `koanf:"app_password"`
	TokenURL    string `koanf:"token_url"`
	// RequestsPerSecond caps outbound calls; 0 disables the limiter.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

type activity struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Timestamp  string `json:"timestamp"`
	ChannelID  string `json:"channelId"`
	ServiceURL string `json:"serviceUrl"`
	From       struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"from"`
	Conversation struct {
		ID string `json:"id"`
	} `json:"conversation"`
	Text string `json:"text"`
}

// Adapter implements platform.Adapter for Teams.
type Adapter struct {
	client *Client

	mu   sync.RWMutex
	refs map[string]ConversationRef
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
		client: NewClient(httpClient, cfg.AppID, cfg.AppPassword, cfg.TokenURL, limiter),
		refs:   make(map[string]ConversationRef),
	}
}

func (a *Adapter) Name() models.Platform { return models.PlatformTeams }

func (a *Adapter) Authenticate(ctx context.Context, raw platform.RawMessage) (string, bool) {
	act := decode(raw.Body)
	user := strings.TrimSpace(act.From.ID)
	return user, user != ""
}

// Ignore skips every activity that is not a user message: typing,
// conversationUpdate, messageReaction, invoke and the like.
func (a *Adapter) Ignore(ctx context.Context, raw platform.RawMessage) (string, bool) {
	act := decode(raw.Body)
	switch {
	case !strings.EqualFold(act.Type, "message"):
		return "not_message", true
	case strings.TrimSpace(act.Text) == "":
		return "empty_text", true
	}
	return "", false
}

// Parse also remembers where to reply to the sender.
func (a *Adapter) Parse(ctx context.Context, raw platform.RawMessage) models.Message {
	act := decode(raw.Body)
	user := strings.TrimSpace(act.From.ID)

	if user != "" && act.Conversation.ID != "" && act.ServiceURL != "" {
		a.Remember(user, ConversationRef{ConversationID: act.Conversation.ID, ServiceURL: act.ServiceURL})
	}

	var ts time.Time
	if act.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, act.Timestamp); err == nil {
			ts = parsed
		}
	}

	meta := map[string]any{}
	if act.ChannelID != "" {
		meta["channel_id"] = act.ChannelID
	}
	if act.Conversation.ID != "" {
		meta["conversation_id"] = act.Conversation.ID
	}
	if act.ID != "" {
		meta["activity_id"] = act.ID
	}

	return models.NewMessage(user, act.Text, platform.Timestamp(ts, raw.ReceivedAt), models.PlatformTeams, "", meta)
}

// Remember stores the conversation reference for userID.
func (a *Adapter) Remember(userID string, ref ConversationRef) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refs[userID] = ref
}

// Reference returns the stored conversation reference for userID.
func (a *Adapter) Reference(userID string) (ConversationRef, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ref, ok := a.refs[userID]
	return ref, ok
}

func (a *Adapter) Deliver(ctx context.Context, userID string, resp models.Response) bool {
	if err := a.Send(ctx, userID, resp); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Teams delivery failed")
		return false
	}
	return true
}

func (a *Adapter) Send(ctx context.Context, userID string, resp models.Response) error {
	ref, ok := a.Reference(userID)
	if !ok {
		return retry.Permanent(ErrNoConversation)
	}
	return a.client.SendActivity(ctx, ref, resp.Text)
}

func decode(body []byte) activity {
	var act activity
	if err := json.Unmarshal(body, &act); err != nil {
		log.Debug().Err(err).Msg("Malformed Teams activity, using defaults")
	}
	return act
}
