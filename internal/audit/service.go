package audit

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"strings"

	"github.com/noah-isme/tiny-treasure/internal/common"
	"github.com/noah-isme/tiny-treasure/internal/events"
)

// ActorKind represents the source of an audited action.
type ActorKind string

const (
	ActorKindOperator  ActorKind = "operator"
	ActorKindSystem    ActorKind = "system"
	ActorKindAnonymous ActorKind = "anonymous"
)

// Actor describes the entity performing the action.
type Actor struct {
	Kind ActorKind `json:"kind"`
	Name string    `json:"name,omitempty"`
}

// Entry is the payload of an admin.audit event.
type Entry struct {
	Actor        Actor          `json:"actor"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resourceType"`
	ResourceID   string         `json:"resourceId,omitempty"`
	Method       string         `json:"method"`
	Path         string         `json:"path"`
	Route        string         `json:"route,omitempty"`
	Status       int            `json:"status"`
	IP           string         `json:"ip,omitempty"`
	UserAgent    string         `json:"userAgent,omitempty"`
	RequestID    string         `json:"requestId,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Service publishes audit entries on the event bus.
type Service struct {
	Bus          *events.Bus
	Enabled      bool
	// SamplingRate in (0, 1) keeps that fraction of entries. Other values keep all.
	SamplingRate float64
}

// Record builds an entry from req and publishes it when auditing is enabled.
func (s Service) Record(ctx context.Context, actor Actor, req *http.Request, route, resourceID string, status int, metadata map[string]any) error {
	if !s.Enabled {
		return nil
	}
	if s.SamplingRate > 0 && s.SamplingRate < 1 && rand.Float64() > s.SamplingRate {
		return nil
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Bus == nil {
		return errors.New("audit: event bus not configured")
	}
	if status == 0 {
		status = http.StatusOK
	}
	entry := Entry{
		Actor:        Actor{Kind: normalizeActorKind(actor.Kind), Name: strings.TrimSpace(actor.Name)},
		Action:       buildAction(req.Method, route),
		ResourceType: buildResource(route),
		ResourceID:   strings.TrimSpace(resourceID),
		Method:       req.Method,
		Path:         req.URL.Path,
		Route:        route,
		Status:       status,
		IP:           common.ClientIP(req),
		UserAgent:    strings.TrimSpace(req.Header.Get("User-Agent")),
		RequestID:    strings.TrimSpace(req.Header.Get("X-Request-ID")),
		Metadata:     metadata,
	}
	if q := strings.TrimSpace(req.URL.RawQuery); q != "" {
		if entry.Metadata == nil {
			entry.Metadata = map[string]any{}
		}
		entry.Metadata["query"] = q
	}
	aggregate := entry.ResourceType
	if entry.ResourceID != "" {
		aggregate += ":" + entry.ResourceID
	}
	_, err := s.Bus.Emit(ctx, events.TopicAdminAudit, aggregate, entry)
	return err
}

func buildAction(method, route string) string {
	if route == "" {
		route = "/"
	}
	return strings.ToUpper(strings.TrimSpace(method)) + " " + route
}

// buildResource turns /api/v1/admin/commission/team/{id} into commission.team.
func buildResource(route string) string {
	route = strings.Trim(strings.TrimSpace(route), "/")
	if route == "" {
		return "unknown"
	}
	var parts []string
	for i, seg := range strings.Split(route, "/") {
		if i < 3 && (seg == "api" || seg == "v1" || seg == "admin") {
			continue
		}
		if strings.HasPrefix(seg, "{") {
			continue
		}
		parts = append(parts, seg)
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, ".")
}

func normalizeActorKind(kind ActorKind) ActorKind {
	switch kind {
	case ActorKindOperator, ActorKindSystem:
		return kind
	default:
		return ActorKindAnonymous
	}
}
