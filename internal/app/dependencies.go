package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/tiny-treasure/internal/analytics"
	"github.com/noah-isme/tiny-treasure/internal/cart"
	"github.com/noah-isme/tiny-treasure/internal/catalog"
	"github.com/noah-isme/tiny-treasure/internal/checkout"
	"github.com/noah-isme/tiny-treasure/internal/commission"
	"github.com/noah-isme/tiny-treasure/internal/config"
	"github.com/noah-isme/tiny-treasure/internal/events"
	"github.com/noah-isme/tiny-treasure/internal/lock"
	"github.com/noah-isme/tiny-treasure/internal/notify"
	"github.com/noah-isme/tiny-treasure/internal/obs"
	"github.com/noah-isme/tiny-treasure/internal/order"
	"github.com/noah-isme/tiny-treasure/internal/pricing"
	"github.com/noah-isme/tiny-treasure/internal/queue"
	"github.com/noah-isme/tiny-treasure/internal/ratelimit"
	"github.com/noah-isme/tiny-treasure/internal/resilience"
	"github.com/noah-isme/tiny-treasure/internal/shipping"
	"github.com/noah-isme/tiny-treasure/internal/store"
)

// Options carries process-level collaborators that are not read from config.
type Options struct {
	Logger zerolog.Logger
	// Redis is optional. Without it the store, locks and rate limits stay in
	// process and commission processing runs inline.
	Redis       *redis.Client
	HTTPMetrics *obs.HTTPMetrics
	Tracing     bool
	Now         func() time.Time
}

// Dependencies is the wired storefront: persistence, services and the
// collaborators the router and background loops need.
type Dependencies struct {
	Config *config.Config
	Logger zerolog.Logger
	Redis  *redis.Client

	KV           store.KV
	Guard        lock.Guard
	Bus          *events.Bus
	EventLog     events.Reader
	LimiterStore limiter.Store
	Rates        shipping.RateTable

	Catalog    *catalog.Service
	Carts      *cart.Service
	OrderRepo  *order.Repository
	Orders     *order.Service
	Checkout   *checkout.Service
	Ledger     *commission.Ledger
	Commission *commission.Service
	Subscriber *commission.Subscriber
	Analytics  *analytics.Service
	Webhooks   *notify.Registry
	Dispatcher *notify.Dispatcher

	httpMetrics *obs.HTTPMetrics
	tracing     bool
}

// New builds every service and restores persisted state.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Dependencies, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	logger := opts.Logger
	d := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		Redis:       opts.Redis,
		httpMetrics: opts.HTTPMetrics,
		tracing:     opts.Tracing,
	}

	if opts.Redis != nil {
		d.KV = store.NewRedis(opts.Redis)
		d.Guard = lock.Locker{R: opts.Redis, Prefix: cfg.QueuePrefix + ":lock:", RetryBackoff: cfg.LockRetryBackoff}
		stream := events.RedisStream{Client: opts.Redis, Stream: cfg.EventStream, MaxLen: cfg.EventStreamMaxLen}
		d.Bus = &events.Bus{Store: stream, Now: opts.Now}
		d.EventLog = stream
	} else {
		d.KV = store.NewMemory()
		d.Guard = lock.NewLocal()
		mem := &events.MemoryLog{Max: 1000}
		d.Bus = &events.Bus{Store: mem, Now: opts.Now}
		d.EventLog = mem
	}

	limiterStore, err := ratelimit.NewStore(opts.Redis, cfg.QueuePrefix+":ratelimit")
	if err != nil {
		return nil, fmt.Errorf("app: limiter store: %w", err)
	}
	d.LimiterStore = limiterStore

	d.Rates = shipping.DefaultRates()
	d.Rates.OfficeFactor = cfg.ShippingOfficeFactor

	d.Catalog = catalog.NewService(catalog.ServiceConfig{KV: d.KV, Logger: logger})
	d.Catalog.Load(ctx)

	d.Carts = &cart.Service{
		Catalog:  d.Catalog,
		TTL:      cfg.CartTTL,
		FlatRate: pricing.Money(cfg.ShippingFlatRate),
		Now:      opts.Now,
		Logger:   logger,
	}

	d.OrderRepo = order.NewRepository(d.KV, logger)
	d.OrderRepo.Load(ctx)
	d.Orders = &order.Service{Repo: d.OrderRepo, Events: d.Bus, Logger: logger, Now: opts.Now}

	numbers, err := checkout.NewSnowflakeNumbers(cfg.OrderNodeID)
	if err != nil {
		return nil, fmt.Errorf("app: order numbers: %w", err)
	}
	d.Checkout = &checkout.Service{
		Carts:   d.Carts,
		Orders:  d.OrderRepo,
		Rates:   d.Rates,
		Numbers: numbers,
		Events:  d.Bus,
		Logger:  logger,
		Now:     opts.Now,
	}

	d.Ledger = commission.NewLedger(commission.LedgerConfig{
		KV:      d.KV,
		Logger:  logger,
		Events:  d.Bus,
		Guard:   d.Guard,
		LockTTL: cfg.LockTTL,
		Now:     opts.Now,
		Settings: commission.Settings{
			CommissionPerProduct: cfg.CommissionPerProduct,
			MinimumPayout:        cfg.CommissionMinimumPayout,
			AutoDistribute:       cfg.CommissionAutoDistrib,
			SplitPolicy:          commission.SplitPolicy(cfg.CommissionSplitPolicy),
		},
		Members: cfg.TeamMembers,
	})
	d.Ledger.Load(ctx)
	d.Commission = &commission.Service{Ledger: d.Ledger, Orders: d.OrderRepo, Logger: logger}

	d.Subscriber = &commission.Subscriber{Service: d.Commission, MaxAttempts: cfg.QueueMaxAttempts, Logger: logger}
	if opts.Redis != nil {
		d.Subscriber.Queue = queue.Enqueuer{
			R:           opts.Redis,
			Prefix:      cfg.QueuePrefix,
			DedupTTL:    cfg.IdempotencyTTL,
			MaxAttempts: cfg.QueueMaxAttempts,
		}
	}
	d.Bus.Subscribe(d.Subscriber)

	d.Webhooks = notify.NewRegistry(d.KV, logger)
	d.Webhooks.AllowInsecure = cfg.WebhookAllowInsecure
	d.Webhooks.Now = opts.Now
	d.Webhooks.Load(ctx)
	d.Dispatcher = &notify.Dispatcher{
		Endpoints: d.Webhooks,
		HTTP: resilience.HTTPClient{
			Client:      notify.NewHTTPClient(cfg.WebhookTimeout),
			MaxAttempts: cfg.WebhookMaxAttempts,
			BaseBackoff: 200 * time.Millisecond,
			Jitter:      0.2,
		},
		MaxAttempts: cfg.QueueMaxAttempts,
		Enabled:     cfg.WebhooksEnabled,
		Logger:      logger.With().Str("component", "webhooks").Logger(),
		Now:         opts.Now,
		BreakerFactory: func(string) *resilience.Breaker {
			return resilience.NewBreaker(cfg.WebhookBreakerMinReqs, cfg.WebhookBreakerRatio, cfg.WebhookBreakerOpenFor)
		},
	}
	if opts.Redis != nil {
		// the queue retries, so each task makes a single HTTP attempt
		d.Dispatcher.HTTP.MaxAttempts = 1
		d.Dispatcher.Queue = queue.Enqueuer{
			R:           opts.Redis,
			Prefix:      cfg.QueuePrefix,
			DedupTTL:    cfg.IdempotencyTTL,
			MaxAttempts: cfg.QueueMaxAttempts,
		}
		d.Dispatcher.Replay = notify.RedisReplayProtector{Client: opts.Redis, Prefix: cfg.QueuePrefix + ":"}
		d.Dispatcher.ReplayTTL = cfg.WebhookReplayTTL
	}
	d.Bus.Subscribe(d.Dispatcher)

	d.Analytics = &analytics.Service{
		Orders:       d.OrderRepo,
		R:            opts.Redis,
		TTL:          cfg.AnalyticsCacheTTL,
		DefaultRange: cfg.AnalyticsDefaultDays,
		Now:          opts.Now,
	}

	logger.Info().
		Bool("redis", opts.Redis != nil).
		Int("products", len(d.Catalog.Products())).
		Int("members", len(d.Ledger.TeamMembers())).
		Int("webhooks", len(d.Webhooks.List())).
		Msg("storefront wired")
	return d, nil
}
