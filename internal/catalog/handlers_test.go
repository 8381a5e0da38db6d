package catalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tiny-treasure/internal/catalog"
	"github.com/noah-isme/tiny-treasure/internal/store"
)

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestCatalogHandlers(t *testing.T) {
	svc := newService(t, store.NewMemory())
	handler := catalog.NewHandler(catalog.HandlerConfig{Service: svc})

	t.Run("products list", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.Products(rec, httptest.NewRequest(http.MethodGet, "/api/v1/products?limit=2", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "7", rec.Header().Get("X-Total-Count"))
		var body struct {
			Data []catalog.Product `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Data, 2)
	})

	t.Run("product detail", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/products/prod-plush", nil), "id", "prod-plush")
		handler.ProductDetail(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), "Tiny Treasure Kids")
	})

	t.Run("product missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/products/nope", nil), "id", "nope")
		handler.ProductDetail(rec, req)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bad query", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.Products(rec, httptest.NewRequest(http.MethodGet, "/api/v1/products?limit=abc", nil))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), `"field":"limit"`)
	})

	t.Run("replace stores", func(t *testing.T) {
		rec := httptest.NewRecorder()
		body := `{"stores":[{"id":"s1","name":"Souk"},{"id":"store-kids","name":"Kids"}]}`
		handler.ReplaceStores(rec, httptest.NewRequest(http.MethodPut, "/api/v1/admin/stores", strings.NewReader(body)))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, svc.Stores(), 2)
	})

	t.Run("replace products validation", func(t *testing.T) {
		rec := httptest.NewRecorder()
		body := `{"products":[{"id":"x","storeId":"s1","name":""}]}`
		handler.ReplaceProducts(rec, httptest.NewRequest(http.MethodPut, "/api/v1/admin/products", strings.NewReader(body)))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "VALIDATION_FAILED")
	})
}
