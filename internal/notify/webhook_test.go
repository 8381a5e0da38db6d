package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tiny-treasure/internal/events"
	"github.com/noah-isme/tiny-treasure/internal/notify"
	"github.com/noah-isme/tiny-treasure/internal/queue"
	"github.com/noah-isme/tiny-treasure/internal/resilience"
	"github.com/noah-isme/tiny-treasure/internal/store"
)

type received struct {
	header http.Header
	body   []byte
}

type sink struct {
	mu     sync.Mutex
	got    []received
	status atomic.Int32
}

func newSink(t *testing.T) (*sink, *httptest.Server) {
	t.Helper()
	s := &sink{}
	s.status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.got = append(s.got, received{header: r.Header.Clone(), body: body})
		s.mu.Unlock()
		w.WriteHeader(int(s.status.Load()))
	}))
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *sink) requests() []received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]received(nil), s.got...)
}

func newDispatcher(t *testing.T, srv *httptest.Server) (*notify.Dispatcher, *notify.Registry) {
	t.Helper()
	reg := notify.NewRegistry(store.NewMemory(), zerolog.Nop())
	disp := &notify.Dispatcher{
		Endpoints: reg,
		HTTP: resilience.HTTPClient{
			Client:      srv.Client(),
			MaxAttempts: 1,
			Timeout:     time.Second,
		},
		Enabled: true,
		Logger:  zerolog.Nop(),
	}
	return disp, reg
}

func orderCreated() events.Event {
	return events.Event{
		ID:          "evt-1",
		Topic:       events.TopicOrderCreated,
		AggregateID: "ord-1",
		Payload:     json.RawMessage(`{"orderId":"ord-1"}`),
		OccurredAt:  time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestSignatureAndHeaders(t *testing.T) {
	s, srv := newSink(t)
	disp, reg := newDispatcher(t, srv)
	ep, err := reg.Create(context.Background(), notify.EndpointInput{Name: "fulfilment", URL: srv.URL, Secret: "secret"})
	require.NoError(t, err)

	status, err := disp.Deliver(context.Background(), ep, notify.Delivery{ID: "del-1", EndpointID: ep.ID, Event: orderCreated()})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)

	got := s.requests()
	require.Len(t, got, 1)
	h := got[0].header
	require.Equal(t, "application/json", h.Get("Content-Type"))
	require.Equal(t, "evt-1", h.Get("X-Event-ID"))
	require.Equal(t, events.TopicOrderCreated, h.Get("X-Event-Topic"))
	require.Equal(t, "del-1", h.Get("X-Idempotency-Key"))
	ts, err := strconv.ParseInt(h.Get("X-Timestamp"), 10, 64)
	require.NoError(t, err)
	require.Equal(t, notify.ComputeSignature("secret", ts, "evt-1", got[0].body), h.Get("X-Signature"))

	var payload struct {
		Topic       string          `json:"topic"`
		AggregateID string          `json:"aggregateId"`
		Data        json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(got[0].body, &payload))
	require.Equal(t, "ord-1", payload.AggregateID)
	require.JSONEq(t, `{"orderId":"ord-1"}`, string(payload.Data))
}

func TestNotifyDeliversOnlySubscribedTopics(t *testing.T) {
	s, srv := newSink(t)
	disp, reg := newDispatcher(t, srv)
	_, err := reg.Create(context.Background(), notify.EndpointInput{
		Name: "orders", URL: srv.URL, Secret: "secret", Topics: []string{"Order.Created"},
	})
	require.NoError(t, err)
	inactive := false
	_, err = reg.Create(context.Background(), notify.EndpointInput{Name: "off", URL: srv.URL, Secret: "secret", Active: &inactive})
	require.NoError(t, err)

	require.NoError(t, disp.Notify(context.Background(), orderCreated()))
	require.NoError(t, disp.Notify(context.Background(), events.Event{ID: "evt-2", Topic: events.TopicCommissionRecorded, AggregateID: "ord-1"}))
	disp.Wait()

	require.Len(t, s.requests(), 1)
	attempts := disp.Attempts("", notify.ResultDelivered, 0)
	require.Len(t, attempts, 1)
	require.Equal(t, "evt-1", attempts[0].EventID)
}

func TestHandleTaskRetriesOnlyTransientFailures(t *testing.T) {
	s, srv := newSink(t)
	disp, reg := newDispatcher(t, srv)
	ep, err := reg.Create(context.Background(), notify.EndpointInput{Name: "flaky", URL: srv.URL, Secret: "secret"})
	require.NoError(t, err)
	raw, err := json.Marshal(notify.Delivery{ID: "del-1", EndpointID: ep.ID, Event: orderCreated()})
	require.NoError(t, err)

	s.status.Store(http.StatusServiceUnavailable)
	require.Error(t, disp.HandleTask(context.Background(), queue.Task{Kind: notify.TaskKind, Payload: raw, Attempt: 1}))

	s.status.Store(http.StatusGone)
	require.NoError(t, disp.HandleTask(context.Background(), queue.Task{Kind: notify.TaskKind, Payload: raw, Attempt: 2}))

	log := disp.Attempts(ep.ID, "", 0)
	require.Len(t, log, 2)
	require.Equal(t, notify.ResultRejected, log[0].Result)
	require.Equal(t, http.StatusGone, log[0].Status)
	require.Equal(t, notify.ResultFailed, log[1].Result)

	require.NoError(t, reg.Delete(context.Background(), ep.ID))
	require.NoError(t, disp.HandleTask(context.Background(), queue.Task{Kind: notify.TaskKind, Payload: raw, Attempt: 3}))
	require.Equal(t, notify.ResultSkipped, disp.Attempts(ep.ID, "", 1)[0].Result)
}

func TestOpenBreakerStopsDeliveries(t *testing.T) {
	s, srv := newSink(t)
	disp, reg := newDispatcher(t, srv)
	disp.BreakerFactory = func(string) *resilience.Breaker { return resilience.NewBreaker(1, 1, time.Hour) }
	ep, err := reg.Create(context.Background(), notify.EndpointInput{Name: "down", URL: srv.URL, Secret: "secret"})
	require.NoError(t, err)

	s.status.Store(http.StatusInternalServerError)
	del := notify.Delivery{ID: "del-1", EndpointID: ep.ID, Event: orderCreated()}
	_, err = disp.Deliver(context.Background(), ep, del)
	require.Error(t, err)
	_, err = disp.Deliver(context.Background(), ep, del)
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)

	require.Len(t, s.requests(), 1)
	require.Equal(t, resilience.Open, disp.BreakerStates()[ep.ID])
}

func TestReplayGuardSuppressesDuplicates(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s, srv := newSink(t)
	disp, reg := newDispatcher(t, srv)
	disp.Replay = notify.RedisReplayProtector{Client: client, Prefix: "tt:"}
	disp.ReplayTTL = time.Hour
	ep, err := reg.Create(context.Background(), notify.EndpointInput{Name: "once", URL: srv.URL, Secret: "secret"})
	require.NoError(t, err)

	require.NoError(t, disp.Notify(context.Background(), orderCreated()))
	disp.Wait()
	require.NoError(t, disp.Notify(context.Background(), orderCreated()))
	disp.Wait()

	require.Len(t, s.requests(), 1)
	require.True(t, mr.Exists("tt:wh:"+ep.ID+":evt-1"))
	require.Len(t, disp.Attempts(ep.ID, notify.ResultSuppressed, 0), 1)

	delivered := disp.Attempts(ep.ID, notify.ResultDelivered, 1)
	require.Len(t, delivered, 1)
	require.NoError(t, disp.Redeliver(context.Background(), delivered[0].DeliveryID))
	disp.Wait()
	require.Len(t, s.requests(), 2)

	require.ErrorIs(t, disp.Redeliver(context.Background(), "nope"), notify.ErrDeliveryNotFound)
}

func TestFailedDeliveryReleasesReplayGuard(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s, srv := newSink(t)
	disp, reg := newDispatcher(t, srv)
	disp.Replay = notify.RedisReplayProtector{Client: client}
	disp.ReplayTTL = time.Hour
	ep, err := reg.Create(context.Background(), notify.EndpointInput{Name: "retry", URL: srv.URL, Secret: "secret"})
	require.NoError(t, err)

	s.status.Store(http.StatusBadGateway)
	_, err = disp.Deliver(context.Background(), ep, notify.Delivery{ID: "d1", EndpointID: ep.ID, Event: orderCreated()})
	require.Error(t, err)
	require.False(t, mr.Exists("wh:"+ep.ID+":evt-1"))
}

type fakeQueue struct {
	tasks []queue.Task
}

func (f *fakeQueue) Enqueue(_ context.Context, t queue.Task) (bool, error) {
	f.tasks = append(f.tasks, t)
	return true, nil
}

func TestQueueModeEnqueuesOneTaskPerEndpoint(t *testing.T) {
	s, srv := newSink(t)
	disp, reg := newDispatcher(t, srv)
	q := &fakeQueue{}
	disp.Queue = q
	disp.MaxAttempts = 4
	first, err := reg.Create(context.Background(), notify.EndpointInput{Name: "a", URL: srv.URL, Secret: "secret"})
	require.NoError(t, err)
	_, err = reg.Create(context.Background(), notify.EndpointInput{Name: "b", URL: srv.URL, Secret: "secret"})
	require.NoError(t, err)

	require.NoError(t, disp.Notify(context.Background(), orderCreated()))
	require.Len(t, q.tasks, 2)
	require.Empty(t, s.requests())
	require.Equal(t, notify.TaskKind, q.tasks[0].Kind)
	require.Equal(t, first.ID+":evt-1", q.tasks[0].IdempotencyKey)
	require.Equal(t, 4, q.tasks[0].MaxAttempts)

	require.NoError(t, disp.HandleTask(context.Background(), q.tasks[0]))
	require.Len(t, s.requests(), 1)
}

func TestDisabledDispatcherIgnoresEvents(t *testing.T) {
	s, srv := newSink(t)
	disp, reg := newDispatcher(t, srv)
	disp.Enabled = false
	_, err := reg.Create(context.Background(), notify.EndpointInput{Name: "a", URL: srv.URL, Secret: "secret"})
	require.NoError(t, err)

	require.NoError(t, disp.Notify(context.Background(), orderCreated()))
	disp.Wait()
	require.Empty(t, s.requests())
}
