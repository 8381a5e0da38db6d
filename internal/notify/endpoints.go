package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/tiny-treasure/internal/events"
	"github.com/noah-isme/tiny-treasure/internal/store"
)

var (
	// ErrEndpointNotFound is returned for unknown endpoint ids.
	ErrEndpointNotFound = errors.New("webhook endpoint not found")
	// ErrInvalidEndpoint wraps every endpoint validation failure.
	ErrInvalidEndpoint = errors.New("invalid webhook endpoint")
)

// Endpoint is a subscriber URL. Empty Topics subscribes to every domain topic
// except the admin audit trail.
type Endpoint struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret"`
	Active    bool      `json:"active"`
	Topics    []string  `json:"topics"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Subscribed reports whether the endpoint should receive topic.
func (e Endpoint) Subscribed(topic string) bool {
	if !e.Active {
		return false
	}
	if len(e.Topics) == 0 {
		return topic != events.TopicAdminAudit
	}
	return slices.Contains(e.Topics, topic)
}

// EndpointInput is the writable part of an endpoint.
type EndpointInput struct {
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Active *bool    `json:"active"`
	Topics []string `json:"topics"`
}

func (in EndpointInput) validate(allowInsecure bool) error {
	var errs []error
	if strings.TrimSpace(in.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if strings.TrimSpace(in.Secret) == "" {
		errs = append(errs, errors.New("secret is required"))
	}
	if err := validateURL(in.URL, allowInsecure); err != nil {
		errs = append(errs, err)
	}
	known := events.DefaultTopics()
	for _, topic := range normaliseTopics(in.Topics) {
		if !slices.Contains(known, topic) {
			errs = append(errs, fmt.Errorf("unknown topic %q", topic))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}
	return nil
}

// Registry holds webhook endpoints and persists them under store.KeyWebhooks.
type Registry struct {
	// AllowInsecure permits plain http URLs to any host.
	AllowInsecure bool
	Now           func() time.Time

	mu        sync.RWMutex
	saveMu    sync.Mutex
	endpoints []Endpoint
	snap      store.Snapshot[[]Endpoint]
}

// NewRegistry constructs an empty registry.
func NewRegistry(kv store.KV, logger zerolog.Logger) *Registry {
	return &Registry{snap: store.NewSnapshot[[]Endpoint](kv, store.KeyWebhooks, logger)}
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

// Load restores persisted endpoints.
func (r *Registry) Load(ctx context.Context) {
	endpoints, _ := r.snap.Load(ctx)
	r.mu.Lock()
	r.endpoints = endpoints
	r.mu.Unlock()
}

// List returns every endpoint in creation order.
func (r *Registry) List() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Endpoint, len(r.endpoints))
	for i, ep := range r.endpoints {
		out[i] = ep.clone()
	}
	return out
}

// Get returns one endpoint.
func (r *Registry) Get(id string) (Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ep := range r.endpoints {
		if ep.ID == id {
			return ep.clone(), nil
		}
	}
	return Endpoint{}, fmt.Errorf("%s: %w", id, ErrEndpointNotFound)
}

// Subscribers returns the active endpoints subscribed to topic.
func (r *Registry) Subscribers(topic string) []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Endpoint
	for _, ep := range r.endpoints {
		if ep.Subscribed(topic) {
			out = append(out, ep.clone())
		}
	}
	return out
}

// Create validates and stores a new endpoint. Endpoints are active unless
// the input says otherwise.
func (r *Registry) Create(ctx context.Context, in EndpointInput) (Endpoint, error) {
	if err := in.validate(r.AllowInsecure); err != nil {
		return Endpoint{}, err
	}
	now := r.now()
	ep := Endpoint{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(in.Name),
		URL:       strings.TrimSpace(in.URL),
		Secret:    in.Secret,
		Active:    in.Active == nil || *in.Active,
		Topics:    normaliseTopics(in.Topics),
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.mu.Lock()
	r.endpoints = append(r.endpoints, ep)
	r.persistAndUnlock(ctx)
	return ep.clone(), nil
}

// Update replaces the writable fields of an endpoint. A nil Active keeps the
// current flag.
func (r *Registry) Update(ctx context.Context, id string, in EndpointInput) (Endpoint, error) {
	if err := in.validate(r.AllowInsecure); err != nil {
		return Endpoint{}, err
	}
	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return Endpoint{}, fmt.Errorf("%s: %w", id, ErrEndpointNotFound)
	}
	ep := &r.endpoints[i]
	ep.Name = strings.TrimSpace(in.Name)
	ep.URL = strings.TrimSpace(in.URL)
	ep.Secret = in.Secret
	if in.Active != nil {
		ep.Active = *in.Active
	}
	ep.Topics = normaliseTopics(in.Topics)
	ep.UpdatedAt = r.now()
	out := ep.clone()
	r.persistAndUnlock(ctx)
	return out, nil
}

// Delete removes an endpoint.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrEndpointNotFound)
	}
	r.endpoints = slices.Delete(r.endpoints, i, i+1)
	r.persistAndUnlock(ctx)
	return nil
}

func (r *Registry) indexLocked(id string) int {
	return slices.IndexFunc(r.endpoints, func(ep Endpoint) bool { return ep.ID == id })
}

func (r *Registry) persistAndUnlock(ctx context.Context) {
	out := make([]Endpoint, len(r.endpoints))
	for i, ep := range r.endpoints {
		out[i] = ep.clone()
	}
	r.saveMu.Lock()
	r.mu.Unlock()
	defer r.saveMu.Unlock()
	r.snap.Save(context.WithoutCancel(ctx), out)
}

func (e Endpoint) clone() Endpoint {
	e.Topics = slices.Clone(e.Topics)
	return e
}

func validateURL(raw string, allowInsecure bool) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	if parsed.Scheme == "http" && !allowInsecure {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	}
	return nil
}

func normaliseTopics(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	result := make([]string, 0, len(topics))
	for _, topic := range topics {
		trimmed := strings.TrimSpace(strings.ToLower(topic))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
