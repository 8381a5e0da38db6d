package obs

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Surface groups routes by audience so storefront latency is not averaged
// together with back-office or infrastructure traffic.
type Surface string

const (
	SurfaceStorefront Surface = "storefront"
	SurfaceAdmin      Surface = "admin"
	SurfaceOps        Surface = "ops"
)

type routeKey struct{}

type routeInfo struct {
	pattern string
	surface Surface
}

// SurfaceOf classifies a route pattern or raw path.
func SurfaceOf(route string) Surface {
	switch {
	case strings.HasPrefix(route, "/api/v1/admin"):
		return SurfaceAdmin
	case strings.HasPrefix(route, "/api/"):
		return SurfaceStorefront
	default:
		return SurfaceOps
	}
}

// WithRoutePattern pins the route pattern reported for the request, taking
// precedence over whatever chi matched.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	info := routeInfoFrom(ctx)
	info.pattern = pattern
	if info.surface == "" {
		info.surface = SurfaceOf(pattern)
	}
	return context.WithValue(ctx, routeKey{}, info)
}

// WithSurface records the surface a request belongs to.
func WithSurface(ctx context.Context, s Surface) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	info := routeInfoFrom(ctx)
	info.surface = s
	return context.WithValue(ctx, routeKey{}, info)
}

// RoutePatternFromContext returns a pinned route pattern, or "".
func RoutePatternFromContext(ctx context.Context) string {
	return routeInfoFrom(ctx).pattern
}

// SurfaceFromContext returns the recorded surface, or "".
func SurfaceFromContext(ctx context.Context) Surface {
	return routeInfoFrom(ctx).surface
}

// RouteOf resolves the route label for r: a pinned pattern first, then the
// pattern chi matched, then fallback. Call it after the handler ran; chi fills
// the pattern in while routing.
func RouteOf(r *http.Request, fallback string) string {
	if pattern := RoutePatternFromContext(r.Context()); pattern != "" {
		return pattern
	}
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return fallback
}

// SurfaceOfRequest prefers the surface recorded on the context and classifies
// the path otherwise.
func SurfaceOfRequest(r *http.Request) Surface {
	if s := SurfaceFromContext(r.Context()); s != "" {
		return s
	}
	return SurfaceOf(r.URL.Path)
}

func routeInfoFrom(ctx context.Context) routeInfo {
	if ctx == nil {
		return routeInfo{}
	}
	info, _ := ctx.Value(routeKey{}).(routeInfo)
	return info
}
