// Package web integrates the browser chat widget. Messages arrive as plain
// JSON; responses are parked in a mailbox the widget polls.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/timeprofiler/internal/platform"
	"github.com/timeprofiler/pkg/models"
)

// Config configures the web adapter.
type Config struct {
	// JWTSecret, when set, requires an HS256 bearer token on every message.
	JWTSecret   string `koanf:"jwt_secret"`
	MailboxSize int    `koanf:"mailbox_size"`
}

// Claims identifies a web chat user.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

type payload struct {
	UserID      string         `json:"user_id"`
	Text        string         `json:"text"`
	Timestamp   string         `json:"timestamp"`
	MessageType string         `json:"message_type"`
	Metadata    map[string]any `json:"metadata"`
}

// Adapter implements platform.Adapter for web chat.
type Adapter struct {
	secret  []byte
	mailbox *Mailbox
}

var _ platform.Adapter = (*Adapter)(nil)

func New(cfg Config) *Adapter {
	a := &Adapter{mailbox: NewMailbox(cfg.MailboxSize)}
	if s := strings.TrimSpace(cfg.JWTSecret); s != "" {
		a.secret = []byte(s)
	}
	return a
}

func (a *Adapter) Name() models.Platform { return models.PlatformWeb }

// Mailbox exposes queued responses to the HTTP layer.
func (a *Adapter) Mailbox() *Mailbox { return a.mailbox }

// RequiresToken reports whether bearer tokens are enforced.
func (a *Adapter) RequiresToken() bool { return a.secret != nil }

func (a *Adapter) Authenticate(ctx context.Context, raw platform.RawMessage) (string, bool) {
	p := decode(raw.Body)
	bodyUser := strings.TrimSpace(p.UserID)

	if a.secret == nil {
		return bodyUser, bodyUser != ""
	}

	header, _ := raw.Header("Authorization")
	tokenUser, err := a.VerifyToken(header)
	if err != nil {
		log.Debug().Err(err).Msg("Web token rejected")
		return "", false
	}
	if bodyUser != "" && bodyUser != tokenUser {
		log.Debug().Str("token_user", tokenUser).Str("body_user", bodyUser).Msg("Web token does not match user_id")
		return "", false
	}
	return tokenUser, true
}

// VerifyToken validates an Authorization header value and returns its user.
func (a *Adapter) VerifyToken(authHeader string) (string, error) {
	if a.secret == nil {
		return "", errors.New("token verification is disabled")
	}
	scheme, tokenString, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
		return "", errors.New("invalid authorization header format")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token claims")
	}

	userID := strings.TrimSpace(claims.Subject)
	if userID == "" {
		userID = strings.TrimSpace(claims.UserID)
	}
	if userID == "" {
		return "", errors.New("token has no subject")
	}
	return userID, nil
}

func (a *Adapter) Parse(ctx context.Context, raw platform.RawMessage) models.Message {
	p := decode(raw.Body)

	var ts time.Time
	if p.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, p.Timestamp); err == nil {
			ts = parsed
		}
	}

	meta := make(map[string]any, len(p.Metadata)+1)
	for k, v := range p.Metadata {
		meta[k] = v
	}
	if p.MessageType != "" {
		meta["message_type"] = p.MessageType
	}

	return models.NewMessage(
		strings.TrimSpace(p.UserID),
		p.Text,
		platform.Timestamp(ts, raw.ReceivedAt),
		models.PlatformWeb,
		"",
		meta,
	)
}

// Deliver parks resp in the user's mailbox. It only fails for an empty user.
func (a *Adapter) Deliver(ctx context.Context, userID string, resp models.Response) bool {
	return a.Send(ctx, userID, resp) == nil
}

func (a *Adapter) Send(ctx context.Context, userID string, resp models.Response) error {
	if userID == "" {
		return errors.New("web: empty user id")
	}
	if a.mailbox.Push(userID, resp) {
		log.Warn().Str("user_id", userID).Msg("Web mailbox full, dropped oldest response")
	}
	log.Debug().Str("user_id", userID).Int("pending", a.mailbox.Pending(userID)).Msg("Response parked in web mailbox")
	return nil
}

// IssueToken signs a token for userID valid for ttl.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "timeprofiler",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func decode(body []byte) payload {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		log.Debug().Err(err).Msg("Malformed web payload, using defaults")
	}
	return p
}
