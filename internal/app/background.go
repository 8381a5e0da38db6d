package app

import (
	"context"
	"sync"
	"time"

	"github.com/noah-isme/tiny-treasure/internal/commission"
	"github.com/noah-isme/tiny-treasure/internal/notify"
	"github.com/noah-isme/tiny-treasure/internal/queue"
)

// SweepInterval is how often idle carts are evicted.
var SweepInterval = time.Minute

// RunBackground starts the cart sweeper and, when Redis is configured, the
// commission and webhook queue workers. It blocks until ctx is cancelled and
// every loop has returned.
func (d *Dependencies) RunBackground(ctx context.Context) {
	var wg sync.WaitGroup
	defer d.Dispatcher.Wait()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.Carts.Sweep()
			}
		}
	}()

	if d.Redis != nil {
		workers := []queue.Worker{
			{
				Kind:              commission.TaskKind,
				Concurrency:       1,
				VisibilityTimeout: 2 * d.Config.LockTTL,
				Handler:           d.Subscriber.HandleTask,
			},
			{
				Kind:              notify.TaskKind,
				Concurrency:       4,
				VisibilityTimeout: 2 * d.Config.WebhookTimeout,
				Handler:           d.Dispatcher.HandleTask,
				RetryBase:         time.Second,
				RetryJitter:       0.2,
			},
		}
		for _, worker := range workers {
			worker.R = d.Redis
			worker.Prefix = d.Config.QueuePrefix
			worker.Logger = d.Logger.With().Str("component", "queue").Str("kind", worker.Kind).Logger()
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
					d.Logger.Error().Err(err).Str("kind", worker.Kind).Msg("queue worker stopped")
				}
			}()
		}
	}

	wg.Wait()
}
