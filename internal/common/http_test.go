package common_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tiny-treasure/internal/common"
)

func TestClientIP(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "first forwarded hop", headers: map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, remote: "10.0.0.1:443", want: "203.0.113.9"},
		{name: "skips junk hop", headers: map[string]string{"X-Forwarded-For": "unknown, 198.51.100.4"}, remote: "10.0.0.1:443", want: "198.51.100.4"},
		{name: "real ip header", headers: map[string]string{"X-Real-IP": " 2001:db8::1 "}, remote: "10.0.0.1:443", want: "2001:db8::1"},
		{name: "ignores garbage real ip", headers: map[string]string{"X-Real-IP": "shop.example"}, remote: "192.0.2.7:5555", want: "192.0.2.7"},
		{name: "unmaps v4 in v6", remote: "[::ffff:192.0.2.8]:80", want: "192.0.2.8"},
		{name: "remote without port", remote: "192.0.2.9", want: "192.0.2.9"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			req.RemoteAddr = tc.remote
			require.Equal(t, tc.want, common.ClientIP(req))
		})
	}
	require.Empty(t, common.ClientIP(nil))
}

func TestQueryLimit(t *testing.T) {
	q := url.Values{"limit": {" 25 "}, "big": {"900"}, "zero": {"0"}, "junk": {"ten"}, "offset": {"-3"}}
	require.Equal(t, 25, common.QueryLimit(q, "limit", 50, 200))
	require.Equal(t, 200, common.QueryLimit(q, "big", 50, 200))
	require.Equal(t, 900, common.QueryLimit(q, "big", 50, 0))
	require.Equal(t, 50, common.QueryLimit(q, "zero", 50, 200))
	require.Equal(t, 50, common.QueryLimit(q, "junk", 50, 200))
	require.Equal(t, 50, common.QueryLimit(q, "missing", 50, 200))
	require.Equal(t, -3, common.QueryInt(q, "offset", 0))
}

func TestFingerprintSeparatesParts(t *testing.T) {
	require.Len(t, common.Fingerprint("POST", "/api/v1/checkout", "k-1"), 64)
	require.Equal(t, common.Fingerprint("POST", "/x", "k"), common.Fingerprint("POST", "/x", "k"))
	require.NotEqual(t, common.Fingerprint("ab", "c"), common.Fingerprint("a", "bc"))
}
