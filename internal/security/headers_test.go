package security_test

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tiny-treasure/internal/security"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

func TestHeadersMiddlewareSetsSecurityHeaders(t *testing.T) {
	handler := security.Headers{Enable: true, EnableHSTS: true, HSTSIncludeSubdomains: true}.Middleware(ok)

	req := httptest.NewRequest(http.MethodGet, "https://shop.example/api/v1/products", nil)
	req.TLS = &tls.ConnectionState{}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Equal(t, "max-age=31536000; includeSubDomains", rr.Header().Get("Strict-Transport-Security"))
}

func TestHeadersSkipHSTSWithoutTLS(t *testing.T) {
	handler := security.Headers{Enable: true, EnableHSTS: true}.Middleware(ok)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Empty(t, rr.Header().Get("Strict-Transport-Security"))
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestHeadersDisabled(t *testing.T) {
	handler := security.Headers{}.Middleware(ok)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Empty(t, rr.Header().Get("X-Frame-Options"))
}

func TestHeadersMarkShopperRoutesNoStore(t *testing.T) {
	handler := security.Headers{Enable: true, NoStorePrefixes: security.StorefrontNoStore}.Middleware(ok)

	get := func(path string) http.Header {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr.Header()
	}

	require.Equal(t, "no-store", get("/api/v1/carts/c-1").Get("Cache-Control"))
	require.Equal(t, "no-store", get("/api/v1/admin/commission/team").Get("Cache-Control"))
	require.Equal(t, "no-store", get("/api/v1/checkout").Get("Cache-Control"))
	require.Empty(t, get("/api/v1/products").Get("Cache-Control"))
	require.Empty(t, get("/api/v1/cartsx").Get("Cache-Control"))

	require.Equal(t, "default-src 'none'; frame-ancestors 'none'", get("/api/v1/products").Get("Content-Security-Policy"))
	require.Empty(t, get("/health/live").Get("Content-Security-Policy"))
}
