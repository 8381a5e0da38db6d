package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/tiny-treasure/internal/events"
	"github.com/noah-isme/tiny-treasure/internal/obs"
	"github.com/noah-isme/tiny-treasure/internal/queue"
	"github.com/noah-isme/tiny-treasure/internal/resilience"
)

// TaskKind is the queue kind for webhook deliveries.
const TaskKind = "webhook:deliver"

const userAgent = "tiny-treasure-webhooks/1.0"

// Delivery outcomes as recorded in the delivery log and metrics.
const (
	ResultDelivered  = "delivered"
	ResultFailed     = "failed"
	ResultRejected   = "rejected"
	ResultSuppressed = "suppressed"
	ResultSkipped    = "skipped"
)

// Enqueuer is the part of queue.Enqueuer the dispatcher uses.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) (bool, error)
}

// Delivery is one event bound for one endpoint.
type Delivery struct {
	ID         string       `json:"id"`
	EndpointID string       `json:"endpointId"`
	Event      events.Event `json:"event"`
}

// Attempt is an entry of the delivery log.
type Attempt struct {
	DeliveryID string    `json:"deliveryId"`
	EndpointID string    `json:"endpointId"`
	EventID    string    `json:"eventId"`
	Topic      string    `json:"topic"`
	Attempt    int       `json:"attempt"`
	Result     string    `json:"result"`
	Status     int       `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`

	delivery Delivery
}

// Dispatcher fans domain events out to subscribed webhook endpoints. With a
// queue each delivery becomes a task and retries follow the queue's backoff;
// without one deliveries run in the background and HTTP.MaxAttempts bounds
// the retries.
type Dispatcher struct {
	Endpoints   *Registry
	HTTP        resilience.HTTPClient
	Queue       Enqueuer
	MaxAttempts int
	Replay      ReplayProtector
	ReplayTTL   time.Duration
	Enabled     bool
	Logger      zerolog.Logger
	Now         func() time.Time
	// LogSize bounds the in-memory delivery log. Zero keeps 200 attempts.
	LogSize int

	// BreakerFactory builds the per-endpoint breaker. Nil uses NewBreaker(5, 0.5, 30s).
	BreakerFactory func(endpointID string) *resilience.Breaker

	mu       sync.Mutex
	breakers map[string]*resilience.Breaker
	log      []Attempt
	inflight sync.WaitGroup
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// Notify implements events.Notifier.
func (d *Dispatcher) Notify(ctx context.Context, ev events.Event) error {
	if d == nil || !d.Enabled || d.Endpoints == nil {
		return nil
	}
	var joined error
	for _, ep := range d.Endpoints.Subscribers(ev.Topic) {
		joined = errors.Join(joined, d.schedule(ctx, Delivery{ID: uuid.NewString(), EndpointID: ep.ID, Event: ev}))
	}
	return joined
}

func (d *Dispatcher) schedule(ctx context.Context, del Delivery) error {
	if d.Queue == nil {
		d.inflight.Add(1)
		go func() {
			defer d.inflight.Done()
			bg := context.WithoutCancel(ctx)
			_ = d.attempt(bg, del, 1)
		}()
		return nil
	}
	raw, err := json.Marshal(del)
	if err != nil {
		return err
	}
	_, err = d.Queue.Enqueue(ctx, queue.Task{
		Kind:           TaskKind,
		Payload:        raw,
		IdempotencyKey: del.EndpointID + ":" + del.Event.ID,
		MaxAttempts:    d.MaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("enqueue webhook %s for %s: %w", del.Event.ID, del.EndpointID, err)
	}
	return nil
}

// Wait blocks until background deliveries have finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// HandleTask is the queue.Worker handler for TaskKind. Only retryable
// failures are returned to the queue.
func (d *Dispatcher) HandleTask(ctx context.Context, task queue.Task) error {
	var del Delivery
	if err := json.Unmarshal(task.Payload, &del); err != nil {
		return fmt.Errorf("decode webhook task: %w", err)
	}
	return d.attempt(ctx, del, task.Attempt)
}

// Redeliver sends a logged delivery again, bypassing the replay guard.
func (d *Dispatcher) Redeliver(ctx context.Context, deliveryID string) error {
	d.mu.Lock()
	var (
		del   Delivery
		found bool
	)
	for i := len(d.log) - 1; i >= 0; i-- {
		if d.log[i].DeliveryID == deliveryID {
			del, found = d.log[i].delivery, true
			break
		}
	}
	d.mu.Unlock()
	if !found {
		return fmt.Errorf("delivery %s: %w", deliveryID, ErrDeliveryNotFound)
	}
	if d.Replay != nil {
		if err := d.Replay.Release(ctx, replayKey(del.EndpointID, del.Event.ID)); err != nil {
			return err
		}
	}
	return d.schedule(ctx, del)
}

// ErrDeliveryNotFound is returned when a delivery is no longer in the log.
var ErrDeliveryNotFound = errors.New("webhook delivery not found")

func (d *Dispatcher) attempt(ctx context.Context, del Delivery, attempt int) error {
	ep, err := d.Endpoints.Get(del.EndpointID)
	if err != nil || !ep.Active {
		d.record(del, attempt, ResultSkipped, 0, err)
		return nil
	}
	status, err := d.Deliver(ctx, ep, del)
	switch {
	case err == nil && status == 0:
		d.record(del, attempt, ResultSuppressed, 0, nil)
		return nil
	case err == nil:
		d.record(del, attempt, ResultDelivered, status, nil)
		return nil
	}
	var statusErr *resilience.StatusError
	if errors.As(err, &statusErr) && !statusErr.Retryable() {
		d.record(del, attempt, ResultRejected, statusErr.Code, err)
		d.Logger.Warn().Err(err).Str("endpoint_id", ep.ID).Str("event_id", del.Event.ID).Msg("webhook: rejected by endpoint")
		return nil
	}
	if statusErr != nil {
		status = statusErr.Code
	}
	d.record(del, attempt, ResultFailed, status, err)
	d.Logger.Warn().Err(err).Str("endpoint_id", ep.ID).Str("event_id", del.Event.ID).Int("attempt", attempt).Msg("webhook: delivery failed")
	return err
}

// Deliver posts the event to ep once through the endpoint's breaker. It returns
// the response status, or zero when the replay guard suppressed a duplicate.
// Non-2xx responses are reported as *resilience.StatusError.
func (d *Dispatcher) Deliver(ctx context.Context, ep Endpoint, del Delivery) (int, error) {
	ctx, span := otel.Tracer("notify.Dispatcher").Start(ctx, "Dispatcher.Deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.endpoint_id", ep.ID),
		attribute.String("webhook.delivery_id", del.ID),
		attribute.String("webhook.topic", del.Event.Topic),
	)

	body, err := json.Marshal(struct {
		EventID     string          `json:"eventId"`
		Topic       string          `json:"topic"`
		AggregateID string          `json:"aggregateId"`
		Data        json.RawMessage `json:"data"`
		OccurredAt  time.Time       `json:"occurredAt"`
	}{
		EventID:     del.Event.ID,
		Topic:       del.Event.Topic,
		AggregateID: del.Event.AggregateID,
		Data:        del.Event.Payload,
		OccurredAt:  del.Event.OccurredAt,
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	key := replayKey(ep.ID, del.Event.ID)
	if d.Replay != nil && d.ReplayTTL > 0 {
		ok, err := d.Replay.Acquire(ctx, key, d.ReplayTTL)
		if err != nil {
			span.RecordError(err)
			return 0, err
		}
		if !ok {
			span.AddEvent("delivery replay prevented")
			return 0, nil
		}
	}

	status, err := d.post(ctx, ep, del, body)
	if err != nil {
		span.RecordError(err)
		if d.Replay != nil && d.ReplayTTL > 0 {
			_ = d.Replay.Release(context.WithoutCancel(ctx), key)
		}
		return status, err
	}
	span.SetAttributes(attribute.Int("http.status_code", status))
	return status, nil
}

func (d *Dispatcher) post(ctx context.Context, ep Endpoint, del Delivery, body []byte) (int, error) {
	ts := d.now().Unix()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Event-ID", del.Event.ID)
	req.Header.Set("X-Event-Topic", del.Event.Topic)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Idempotency-Key", del.ID)
	req.Header.Set("X-Signature", ComputeSignature(ep.Secret, ts, del.Event.ID, body))

	client := d.HTTP
	if client.Client == nil {
		client.Client = NewHTTPClient(5 * time.Second)
	}
	client.Breaker = d.breakerFor(ep.ID)
	resp, err := client.Do(ctx, req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &resilience.StatusError{Code: resp.StatusCode}
	}
	return resp.StatusCode, nil
}

func (d *Dispatcher) breakerFor(endpointID string) *resilience.Breaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.breakers == nil {
		d.breakers = make(map[string]*resilience.Breaker)
	}
	if b, ok := d.breakers[endpointID]; ok {
		return b
	}
	var b *resilience.Breaker
	if d.BreakerFactory != nil {
		b = d.BreakerFactory(endpointID)
	} else {
		b = resilience.NewBreaker(5, 0.5, 30*time.Second)
	}
	b.WithTarget("webhook:" + endpointID).WithLogger(d.Logger)
	d.breakers[endpointID] = b
	return b
}

// BreakerStates reports the breaker state per endpoint id.
func (d *Dispatcher) BreakerStates() map[string]resilience.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]resilience.State, len(d.breakers))
	for id, b := range d.breakers {
		out[id] = b.State()
	}
	return out
}

func (d *Dispatcher) record(del Delivery, attempt int, result string, status int, err error) {
	obs.IncWebhookDelivery(result)
	entry := Attempt{
		DeliveryID: del.ID,
		EndpointID: del.EndpointID,
		EventID:    del.Event.ID,
		Topic:      del.Event.Topic,
		Attempt:    attempt,
		Result:     result,
		Status:     status,
		At:         d.now(),
		delivery:   del,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	size := d.LogSize
	if size <= 0 {
		size = 200
	}
	d.mu.Lock()
	d.log = append(d.log, entry)
	if len(d.log) > size {
		d.log = append([]Attempt(nil), d.log[len(d.log)-size:]...)
	}
	d.mu.Unlock()
}

// Attempts returns logged attempts newest first, optionally filtered by
// endpoint and result.
func (d *Dispatcher) Attempts(endpointID, result string, limit int) []Attempt {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Attempt
	for i := len(d.log) - 1; i >= 0; i-- {
		a := d.log[i]
		if endpointID != "" && a.EndpointID != endpointID {
			continue
		}
		if result != "" && a.Result != result {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// ComputeSignature is the hex HMAC-SHA256 of "<ts>.<eventID>.<body>" keyed
// with the endpoint secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// NewHTTPClient returns a traced HTTP client for webhook delivery.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport.(*http.Transport).Clone()),
	}
}
