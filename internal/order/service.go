package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/tiny-treasure/internal/events"
	"github.com/noah-isme/tiny-treasure/internal/obs"
)

// Service applies admin order-management actions.
type Service struct {
	Repo   *Repository
	Events *events.Bus
	Logger zerolog.Logger
	Now    func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Get returns one order by id or order number.
func (s *Service) Get(ctx context.Context, idOrNumber string) (Order, error) {
	return s.Repo.Get(idOrNumber)
}

// List returns matching orders, newest first.
func (s *Service) List(ctx context.Context, f Filter) []Order {
	return s.Repo.List(f)
}

// ErrFollowUpFailed is returned with the saved order when the status change
// was stored but one of its events could not be logged or handled, for example
// when commission processing of a delivered order fails. Re-applying the same
// status emits nothing, so callers recover through the commission process
// endpoint.
var ErrFollowUpFailed = errors.New("order status saved but follow-up failed")

// UpdateStatus sets any status on the order. A transition into delivered from
// another status emits TopicOrderDelivered exactly once; re-applying delivered
// to an order that is already delivered emits nothing.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status) (Order, error) {
	status, err := ParseStatus(string(status))
	if err != nil {
		return Order{}, err
	}
	now := s.now()
	before, after, err := s.Repo.Update(ctx, id, func(o *Order) error {
		if o.Status != status {
			o.Status = status
			o.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	if before.Status == after.Status {
		return after, nil
	}
	obs.IncOrderStatusChange(string(after.Status))
	followUp := s.emit(ctx, events.TopicOrderStatusChanged, after, map[string]any{
		"orderId":   after.ID,
		"from":      before.Status,
		"to":        after.Status,
		"changedAt": now,
	})
	if after.Status == StatusDelivered {
		followUp = errors.Join(followUp, s.emit(ctx, events.TopicOrderDelivered, after, events.OrderDelivered{
			OrderID:     after.ID,
			OrderNumber: after.Number,
			StoreID:     after.Store.ID,
		}))
	}
	if followUp != nil {
		return after, fmt.Errorf("%w: order %s: %w", ErrFollowUpFailed, after.ID, followUp)
	}
	return after, nil
}

func (s *Service) emit(ctx context.Context, topic string, o Order, payload any) error {
	if s.Events == nil {
		return nil
	}
	_, err := s.Events.Emit(ctx, topic, o.ID, payload)
	if err != nil {
		s.Logger.Error().Err(err).Str("topic", topic).Str("order_id", o.ID).Msg("order: emit event")
	}
	return err
}
