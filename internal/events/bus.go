package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// ErrPersist marks an event that was dispatched but could not be written to the log.
var ErrPersist = errors.New("events: persist event")

// Event is a recorded domain event.
type Event struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// EventStore defines the persistence operations required by the event bus.
type EventStore interface {
	Append(ctx context.Context, ev Event) error
}

// Notifier reacts to emitted events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, event Event) error { return f(ctx, event) }

// Bus records domain events and fans them out to downstream handlers.
type Bus struct {
	Store     EventStore
	Notifiers []Notifier
	Now       func() time.Time
}

func (b *Bus) now() time.Time {
	if b != nil && b.Now != nil {
		return b.Now()
	}
	return time.Now().UTC()
}

// Emit records the event and dispatches it to all configured notifiers. A log
// append failure does not stop the fan-out: it is joined with any notifier
// failures into the returned error, and the event is still returned.
func (b *Bus) Emit(ctx context.Context, topic string, aggregateID string, payload any) (Event, error) {
	if b == nil {
		return Event{}, errors.New("events: bus not configured")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Event{}, errors.New("events: topic is required")
	}
	if strings.TrimSpace(aggregateID) == "" {
		return Event{}, errors.New("events: aggregate id is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	ev := Event{
		ID:          uuid.NewString(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     encoded,
		OccurredAt:  b.now(),
	}
	var joined error
	if b.Store != nil {
		if err := b.Store.Append(ctx, ev); err != nil {
			joined = fmt.Errorf("%w: %w", ErrPersist, err)
		}
	}
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if notifyErr := notifier.Notify(ctx, ev); notifyErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", notifyErr))
		}
	}
	return ev, joined
}

// Subscribe appends a notifier.
func (b *Bus) Subscribe(n Notifier) {
	b.Notifiers = append(b.Notifiers, n)
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	switch v := payload.(type) {
	case []byte:
		return rawJSON(v)
	case json.RawMessage:
		return rawJSON(v)
	case string:
		return rawJSON([]byte(v))
	default:
		return json.Marshal(v)
	}
}

func rawJSON(v []byte) ([]byte, error) {
	if len(strings.TrimSpace(string(v))) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(v) {
		return nil, errors.New("payload is not valid json")
	}
	return append([]byte(nil), v...), nil
}

// Reader lists recorded events, newest first.
type Reader interface {
	Find(ctx context.Context, topic string, limit int) ([]Event, error)
}

// MemoryLog keeps the most recent events in process memory.
type MemoryLog struct {
	Max int

	mu     sync.Mutex
	events []Event
}

// Append records ev, evicting the oldest event beyond Max.
func (m *MemoryLog) Append(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	if m.Max > 0 && len(m.events) > m.Max {
		m.events = append([]Event(nil), m.events[len(m.events)-m.Max:]...)
	}
	return nil
}

// Recent returns up to n most recent events, newest last. n <= 0 returns all.
func (m *MemoryLog) Recent(n int) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.events) {
		n = len(m.events)
	}
	return append([]Event(nil), m.events[len(m.events)-n:]...)
}

// Find returns up to limit events for topic, newest first. An empty topic matches all.
func (m *MemoryLog) Find(_ context.Context, topic string, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for i := len(m.events) - 1; i >= 0; i-- {
		if topic != "" && m.events[i].Topic != topic {
			continue
		}
		out = append(out, m.events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// RedisStream appends events to a capped Redis stream.
type RedisStream struct {
	Client *redis.Client
	Stream string
	MaxLen int64
}

// Append writes ev with XADD.
func (r RedisStream) Append(ctx context.Context, ev Event) error {
	if r.Client == nil {
		return errors.New("events: redis client not configured")
	}
	return r.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream(),
		MaxLen: r.MaxLen,
		Approx: r.MaxLen > 0,
		Values: map[string]any{
			"id":           ev.ID,
			"topic":        ev.Topic,
			"aggregate_id": ev.AggregateID,
			"payload":      string(ev.Payload),
			"occurred_at":  ev.OccurredAt.Format(time.RFC3339Nano),
		},
	}).Err()
}

func (r RedisStream) stream() string {
	if r.Stream == "" {
		return "tt:events"
	}
	return r.Stream
}

// Find scans the stream from the newest entry and returns up to limit events
// for topic. At most scan entries are read.
func (r RedisStream) Find(ctx context.Context, topic string, limit int) ([]Event, error) {
	if r.Client == nil {
		return nil, errors.New("events: redis client not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	scan := int64(limit) * 20
	if scan < 500 {
		scan = 500
	}
	entries, err := r.Client.XRevRangeN(ctx, r.stream(), "+", "-", scan).Result()
	if err != nil {
		return nil, fmt.Errorf("events: read stream: %w", err)
	}
	out := make([]Event, 0, limit)
	for _, entry := range entries {
		ev := decodeEntry(entry.Values)
		if topic != "" && ev.Topic != topic {
			continue
		}
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func decodeEntry(values map[string]any) Event {
	str := func(key string) string {
		v, _ := values[key].(string)
		return v
	}
	ev := Event{
		ID:          str("id"),
		Topic:       str("topic"),
		AggregateID: str("aggregate_id"),
		Payload:     json.RawMessage(str("payload")),
	}
	if len(ev.Payload) == 0 {
		ev.Payload = json.RawMessage("{}")
	}
	ev.OccurredAt, _ = time.Parse(time.RFC3339Nano, str("occurred_at"))
	return ev
}
