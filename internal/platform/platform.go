// Package platform defines the capability every chat platform integration
// provides and the registry the HTTP layer uses to find them.
package platform

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/timeprofiler/pkg/models"
)

// RawMessage is an inbound webhook exactly as it arrived.
type RawMessage struct {
	Headers    map[string]string
	Body       []byte
	ReceivedAt time.Time
}

// NewRawMessage flattens HTTP headers into a RawMessage.
func NewRawMessage(h http.Header, body []byte, receivedAt time.Time) RawMessage {
	headers := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return RawMessage{Headers: headers, Body: body, ReceivedAt: receivedAt}
}

// Header retrieves a header value using case-insensitive key matching.
func (r RawMessage) Header(key string) (string, bool) {
	if v, ok := r.Headers[key]; ok {
		return v, true
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// Adapter is implemented once per chat platform.
type Adapter interface {
	Name() models.Platform
	// Authenticate resolves the sender. It returns ok=false instead of an
	// error when identity cannot be established.
	Authenticate(ctx context.Context, raw RawMessage) (userID string, ok bool)
	// Parse never fails: missing fields degrade to defaults.
	Parse(ctx context.Context, raw RawMessage) models.Message
	// Deliver pushes resp to the user and reports success.
	Deliver(ctx context.Context, userID string, resp models.Response) bool
}

// Sender is implemented by adapters that can explain a delivery failure.
// Delivery retries use it to tell transient errors from permanent ones.
type Sender interface {
	Send(ctx context.Context, userID string, resp models.Response) error
}

// Filter is implemented by adapters whose webhooks also carry events that
// are not user messages, such as typing indicators or the bot's own posts.
// Ignored events are acknowledged and never reach the user's conversation.
type Filter interface {
	Ignore(ctx context.Context, raw RawMessage) (reason string, ignore bool)
}

// Registry maps platform names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.Platform]Adapter
}

// NewRegistry creates a registry holding adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Platform]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.Name().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

func (r *Registry) Get(name models.Platform) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered platform names, sorted.
func (r *Registry) Names() []models.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]models.Platform, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Timestamp returns ts when set, else fallback, else now.
func Timestamp(ts time.Time, fallback time.Time) time.Time {
	if !ts.IsZero() {
		return ts
	}
	if !fallback.IsZero() {
		return fallback
	}
	return time.Now()
}
