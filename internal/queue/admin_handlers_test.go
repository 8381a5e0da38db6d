package queue_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tiny-treasure/internal/queue"
)

func redisZ(at time.Time, member []byte) redis.Z {
	return redis.Z{Score: float64(at.UnixNano()), Member: member}
}

func TestAdminHandlerDLQ(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	dead, err := json.Marshal(map[string]any{
		"kind": "commission:process", "key": "o-9", "payload": []byte(`{"orderId":"o-9"}`),
		"attempt": 5, "max_attempts": 5, "last_error": "boom", "failed_at": time.Now().UnixNano(),
	})
	require.NoError(t, err)
	require.NoError(t, client.LPush(ctx, "tt:commission:process:dlq", dead).Err())

	h := &queue.AdminHandler{Inspector: queue.Inspector{R: client, Prefix: "tt"}, Logger: zerolog.Nop()}

	rec := httptest.NewRecorder()
	h.ListDLQ(rec, httptest.NewRequest(http.MethodGet, "/queue/dlq?kind=commission:process", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"idempotencyKey":"o-9"`)
	require.Contains(t, rec.Body.String(), `"lastError":"boom"`)

	rec = httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/queue/stats?kind=commission:process", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"dlq":1`)

	rec = httptest.NewRecorder()
	h.ReplayDLQ(rec, httptest.NewRequest(http.MethodPost, "/queue/dlq/replay", strings.NewReader(`{"kind":"commission:process"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"replayed":1`)

	ready, err := client.ZCard(ctx, "tt:queue:commission:process").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), ready)

	rec = httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/queue/stats", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
