package commission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/tiny-treasure/internal/events"
	"github.com/noah-isme/tiny-treasure/internal/queue"
)

// TaskKind is the queue kind for deferred commission processing.
const TaskKind = "commission:process"

// Enqueuer is the part of queue.Enqueuer the subscriber uses.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) (bool, error)
}

// Subscriber reacts to order.delivered events while auto-distribute is on.
// With a queue it defers processing to a worker; otherwise it processes inline.
type Subscriber struct {
	Service     *Service
	Queue       Enqueuer
	MaxAttempts int
	Logger      zerolog.Logger
}

type taskPayload struct {
	OrderID string `json:"orderId"`
}

// Notify implements events.Notifier.
func (s *Subscriber) Notify(ctx context.Context, ev events.Event) error {
	if ev.Topic != events.TopicOrderDelivered {
		return nil
	}
	if s.Service == nil || s.Service.Ledger == nil {
		return errors.New("commission subscriber not configured")
	}
	if !s.Service.Ledger.Settings().AutoDistribute {
		return nil
	}
	var payload events.OrderDelivered
	if err := ev.Decode(&payload); err != nil {
		return fmt.Errorf("decode %s: %w", ev.Topic, err)
	}
	if payload.OrderID == "" {
		payload.OrderID = ev.AggregateID
	}
	if s.Queue == nil {
		return s.process(ctx, payload.OrderID)
	}
	raw, err := json.Marshal(taskPayload{OrderID: payload.OrderID})
	if err != nil {
		return err
	}
	queued, err := s.Queue.Enqueue(ctx, queue.Task{
		Kind:           TaskKind,
		Payload:        raw,
		IdempotencyKey: payload.OrderID,
		MaxAttempts:    s.MaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("enqueue commission for order %s: %w", payload.OrderID, err)
	}
	if !queued {
		s.Logger.Debug().Str("order_id", payload.OrderID).Msg("commission: task already queued")
	}
	return nil
}

// HandleTask is the queue.Worker handler for TaskKind.
func (s *Subscriber) HandleTask(ctx context.Context, task queue.Task) error {
	var payload taskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("decode commission task: %w", err)
	}
	return s.process(ctx, payload.OrderID)
}

func (s *Subscriber) process(ctx context.Context, orderID string) error {
	txs, err := s.Service.ProcessOrder(ctx, orderID)
	if errors.Is(err, ErrAlreadyProcessed) {
		s.Logger.Info().Str("order_id", orderID).Msg("commission: replay ignored")
		return nil
	}
	if err != nil {
		s.Logger.Error().Err(err).Str("order_id", orderID).Msg("commission: process delivered order")
		return err
	}
	s.Logger.Debug().Str("order_id", orderID).Int("transactions", len(txs)).Msg("commission: delivered order processed")
	return nil
}
