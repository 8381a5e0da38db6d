package security

import (
	"net/http"
	"strconv"
	"strings"
)

// apiCSP locks down the JSON API; nothing it serves should load or frame content.
const apiCSP = "default-src 'none'; frame-ancestors 'none'"

// Headers adds browser hardening headers. Paths under NoStorePrefixes carry
// shopper or back-office data and are marked uncacheable.
type Headers struct {
	Enable                bool
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	NoStorePrefixes       []string
}

// StorefrontNoStore lists the routes whose responses are per-shopper or
// admin-only: carts, checkout results, order lookups and the admin surface.
var StorefrontNoStore = []string{"/api/v1/carts", "/api/v1/checkout", "/api/v1/orders", "/api/v1/admin"}

func (h Headers) Middleware(next http.Handler) http.Handler {
	if !h.Enable {
		return next
	}
	hsts := h.hstsValue()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		headers.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
		if strings.HasPrefix(r.URL.Path, "/api/") {
			headers.Set("Content-Security-Policy", apiCSP)
		}
		if h.noStore(r.URL.Path) {
			headers.Set("Cache-Control", "no-store")
		}
		if hsts != "" && r.TLS != nil {
			headers.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}

func (h Headers) hstsValue() string {
	if !h.EnableHSTS {
		return ""
	}
	maxAge := h.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = 31536000
	}
	value := "max-age=" + strconv.Itoa(maxAge)
	if h.HSTSIncludeSubdomains {
		value += "; includeSubDomains"
	}
	return value
}

func (h Headers) noStore(path string) bool {
	for _, prefix := range h.NoStorePrefixes {
		if path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}
