package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timeprofiler/internal/platform"
	"github.com/timeprofiler/internal/retry"
	"github.com/timeprofiler/pkg/models"
)

type roundTripFunc func(*http.Request) *http.Response

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

const eventBody = `{
	"token": "x",
	"team_id": "T1",
	"event_id": "Ev1",
	"type": "event_callback",
	"event": {"type": "message", "user": "U123", "text": "I spent 60% meetings", "ts": "1700000000.000100", "channel": "D42"}
}`

func raw(body string, headers map[string]string) platform.RawMessage {
	if headers == nil {
		headers = map[string]string{}
	}
	return platform.RawMessage{Headers: headers, Body: []byte(body), ReceivedAt: time.Unix(1800000000, 0).UTC()}
}

func TestDeliverPostsMessage(t *testing.T) {
	var (
		capturedURL  string
		capturedAuth string
		capturedBody map[string]interface{}
	)
	httpClient := &http.Client{Transport: roundTripFunc(func(req *http.Request) *http.Response {
		capturedURL = req.URL.String()
		capturedAuth = req.Header.Get("Authorization")
		payload, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(payload, &capturedBody)
		return jsonResponse(http.StatusOK, `{"ok":true}`)
	})}

	a := New(Config{BotToken: "xoxb-test"}, httpClient)
	ok := a.Deliver(context.Background(), "U123", models.NewResponse("Test message", models.CategoryGeneral))

	require.True(t, ok)
	require.Equal(t, "https://slack.com/api/chat.postMessage", capturedURL)
	require.Equal(t, "Bearer xoxb-test", capturedAuth)
	require.Equal(t, "U123", capturedBody["channel"])
	require.Equal(t, "Test message", capturedBody["text"])
}

func TestDeliverUsesDefaultChannel(t *testing.T) {
	var capturedBody map[string]interface{}
	httpClient := &http.Client{Transport: roundTripFunc(func(req *http.Request) *http.Response {
		payload, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(payload, &capturedBody)
		return jsonResponse(http.StatusOK, `{"ok":true}`)
	})}

	a := New(Config{BotToken: "xoxb-test", DefaultChannel: "C-general", APIBaseURL: "https://slack.example/api/"}, httpClient)
	require.True(t, a.Deliver(context.Background(), "U123", models.NewResponse("hi", models.CategoryGeneral)))
	require.Equal(t, "C-general", capturedBody["channel"])
}

func TestDeliverFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		permanent bool
	}{
		{name: "api error", status: http.StatusOK, body: `{"ok":false,"error":"channel_not_found"}`, permanent: true},
		{name: "rate limited", status: http.StatusOK, body: `{"ok":false,"error":"ratelimited"}`},
		{name: "server error", status: http.StatusBadGateway, body: `bad gateway`},
		{name: "garbage", status: http.StatusOK, body: `<html>`, permanent: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpClient := &http.Client{Transport: roundTripFunc(func(req *http.Request) *http.Response {
				return jsonResponse(tt.status, tt.body)
			})}
			a := New(Config{BotToken: "xoxb-test"}, httpClient)
			resp := models.NewResponse("Test message", models.CategoryGeneral)

			assert.False(t, a.Deliver(context.Background(), "U123", resp))

			err := a.Send(context.Background(), "U123", resp)
			require.Error(t, err)
			assert.Equal(t, tt.permanent, retry.IsPermanent(err))
			assert.Equal(t, !tt.permanent, retry.IsRetryableError(err))
		})
	}
}

func TestSendWithoutToken(t *testing.T) {
	a := New(Config{}, nil)
	err := a.Send(context.Background(), "U123", models.NewResponse("x", models.CategoryGeneral))
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
}

func TestAuthenticate(t *testing.T) {
	a := New(Config{}, nil)
	ctx := context.Background()

	user, ok := a.Authenticate(ctx, raw(eventBody, nil))
	require.True(t, ok)
	assert.Equal(t, "U123", user)

	_, ok = a.Authenticate(ctx, raw(`{"event":{"text":"no user"}}`, nil))
	assert.False(t, ok)

	_, ok = a.Authenticate(ctx, raw(`{"event":{"user":"U1","bot_id":"B1","text":"echo"}}`, nil))
	assert.False(t, ok, "bot messages are ignored")
}

func TestAuthenticateSignature(t *testing.T) {
	const secret = "8f742231b10e8888abcd99yyyzzz85a5"
	a := New(Config{SigningSecret: secret}, nil)
	now := time.Unix(1700000000, 0)
	a.now = func() time.Time { return now }
	ctx := context.Background()

	ts := strconv.FormatInt(now.Unix(), 10)
	headers := map[string]string{
		"X-Slack-Request-Timestamp": ts,
		"X-Slack-Signature":         Sign(secret, ts, []byte(eventBody)),
	}
	user, ok := a.Authenticate(ctx, raw(eventBody, headers))
	require.True(t, ok)
	assert.Equal(t, "U123", user)

	headers["X-Slack-Signature"] = Sign("wrong", ts, []byte(eventBody))
	_, ok = a.Authenticate(ctx, raw(eventBody, headers))
	assert.False(t, ok)

	_, ok = a.Authenticate(ctx, raw(eventBody, nil))
	assert.False(t, ok)

	old := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
	staleHeaders := map[string]string{
		"X-Slack-Request-Timestamp": old,
		"X-Slack-Signature":         Sign(secret, old, []byte(eventBody)),
	}
	_, ok = a.Authenticate(ctx, raw(eventBody, staleHeaders))
	assert.False(t, ok)
}

func TestParse(t *testing.T) {
	a := New(Config{}, nil)
	msg := a.Parse(context.Background(), raw(eventBody, nil))

	assert.Equal(t, "U123", msg.UserID)
	assert.Equal(t, "I spent 60% meetings", msg.Text)
	assert.Equal(t, models.PlatformSlack, msg.Platform)
	assert.Equal(t, time.Unix(1700000000, 100000).UTC(), msg.Timestamp)
	assert.Equal(t, "D42", msg.Metadata["channel"])
	assert.Equal(t, "T1", msg.Metadata["team_id"])
	assert.Equal(t, "Ev1", msg.Metadata["event_id"])
}

func TestParseDegradesToDefaults(t *testing.T) {
	a := New(Config{}, nil)
	r := raw(`{"event":{"user":"U1","ts":"not-a-ts"}}`, nil)

	msg := a.Parse(context.Background(), r)
	assert.Equal(t, "", msg.Text)
	assert.Equal(t, r.ReceivedAt, msg.Timestamp)
}

func TestURLVerification(t *testing.T) {
	challenge, ok := URLVerification([]byte(`{"type":"url_verification","challenge":"3eZbrw1aB"}`))
	require.True(t, ok)
	assert.Equal(t, "3eZbrw1aB", challenge)

	_, ok = URLVerification([]byte(eventBody))
	assert.False(t, ok)
}

func TestIgnore(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{name: "user message", body: `{"type":"event_callback","event":{"type":"message","user":"U1","text":"hello"}}`},
		{name: "mention", body: `{"type":"event_callback","event":{"type":"app_mention","user":"U1","text":"<@B> 50% meetings"}}`},
		{name: "file share", body: `{"type":"event_callback","event":{"type":"message","subtype":"file_share","user":"U1","text":"see attached"}}`},
		{name: "reaction", body: `{"type":"event_callback","event":{"type":"reaction_added","user":"U1"}}`, reason: "not_message"},
		{name: "app rate limited", body: `{"type":"app_rate_limited"}`, reason: "not_message"},
		{name: "own reply", body: `{"type":"event_callback","event":{"type":"message","bot_id":"B1","text":"Thanks!"}}`, reason: "bot_event"},
		{name: "edit", body: `{"type":"event_callback","event":{"type":"message","subtype":"message_changed","user":"U1","text":"x"}}`, reason: "subtype"},
		{name: "join", body: `{"type":"event_callback","event":{"type":"message","subtype":"channel_join","user":"U1","text":"<@U1> has joined"}}`, reason: "subtype"},
		{name: "empty text", body: `{"type":"event_callback","event":{"type":"message","user":"U1","text":"  "}}`, reason: "empty_text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(Config{}, nil)
			reason, ignored := a.Ignore(context.Background(), raw(tt.body, nil))
			assert.Equal(t, tt.reason != "", ignored)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestIgnoreRedeliveredEvent(t *testing.T) {
	a := New(Config{}, nil)
	ctx := context.Background()

	_, ignored := a.Ignore(ctx, raw(eventBody, nil))
	require.False(t, ignored)

	reason, ignored := a.Ignore(ctx, raw(eventBody, map[string]string{"X-Slack-Retry-Num": "1"}))
	require.True(t, ignored)
	assert.Equal(t, "duplicate", reason)

	other := `{"type":"event_callback","event_id":"Ev2","event":{"type":"message","user":"U123","text":"again"}}`
	_, ignored = a.Ignore(ctx, raw(other, nil))
	assert.False(t, ignored)
}

func TestIgnoreLeavesUnsignedRequestsToAuthenticate(t *testing.T) {
	a := New(Config{SigningSecret: "secret"}, nil)
	ctx := context.Background()
	body := `{"type":"event_callback","event_id":"Ev9","event":{"type":"message","bot_id":"B1","text":"x"}}`

	_, ignored := a.Ignore(ctx, raw(body, nil))
	assert.False(t, ignored)
	_, ok := a.Authenticate(ctx, raw(body, nil))
	assert.False(t, ok)
}

func TestSendRepliesInOriginChannel(t *testing.T) {
	var channels []interface{}
	httpClient := &http.Client{Transport: roundTripFunc(func(req *http.Request) *http.Response {
		var body map[string]interface{}
		payload, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(payload, &body)
		channels = append(channels, body["channel"])
		return jsonResponse(http.StatusOK, `{"ok":true}`)
	})}

	a := New(Config{BotToken: "xoxb-test", DefaultChannel: "C-general"}, httpClient)
	a.Parse(context.Background(), raw(eventBody, nil))

	require.NoError(t, a.Send(context.Background(), "U123", models.NewResponse("hi", models.CategoryGeneral)))
	require.NoError(t, a.Send(context.Background(), "U999", models.NewResponse("hi", models.CategoryGeneral)))
	assert.Equal(t, []interface{}{"D42", "C-general"}, channels)
}
