package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/tiny-treasure/internal/analytics"
	"github.com/noah-isme/tiny-treasure/internal/audit"
	"github.com/noah-isme/tiny-treasure/internal/cart"
	"github.com/noah-isme/tiny-treasure/internal/catalog"
	"github.com/noah-isme/tiny-treasure/internal/checkout"
	"github.com/noah-isme/tiny-treasure/internal/commission"
	"github.com/noah-isme/tiny-treasure/internal/common"
	"github.com/noah-isme/tiny-treasure/internal/health"
	"github.com/noah-isme/tiny-treasure/internal/notify"
	"github.com/noah-isme/tiny-treasure/internal/obs"
	"github.com/noah-isme/tiny-treasure/internal/order"
	"github.com/noah-isme/tiny-treasure/internal/queue"
	"github.com/noah-isme/tiny-treasure/internal/ratelimit"
	"github.com/noah-isme/tiny-treasure/internal/security"
	"github.com/noah-isme/tiny-treasure/internal/shipping"
)

// Router mounts the storefront and admin APIs.
func (d *Dependencies) Router() (http.Handler, error) {
	cfg := d.Config

	checkoutLimit, err := d.limit("checkout", cfg.RateLimitCheckout)
	if err != nil {
		return nil, err
	}
	cartLimit, err := d.limit("cart", cfg.RateLimitCart)
	if err != nil {
		return nil, err
	}

	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Service: d.Catalog})
	cartHandler := &cart.Handler{Svc: d.Carts}
	checkoutHandler := &checkout.Handler{Svc: d.Checkout}
	shipHandler := &shipping.Handler{Rates: d.Rates}
	orderHandler := &order.Handler{Svc: d.Orders}
	orderAdmin := &order.AdminHandler{Svc: d.Orders}
	commissionAdmin := &commission.AdminHandler{Svc: d.Commission}
	idem := common.Idem{R: d.Redis, TTL: cfg.IdempotencyTTL}
	auditLog := audit.Handler{Log: d.EventLog}
	analyticsHandler := &analytics.Handler{Svc: d.Analytics}
	webhookAdmin := &notify.AdminHandler{Registry: d.Webhooks, Disp: d.Dispatcher}
	logger := d.Logger
	auditRecorder := audit.HTTPRecorder{
		Service: audit.Service{Bus: d.Bus, Enabled: cfg.AuditEnabled, SamplingRate: cfg.AuditSamplingRate},
		OnError: func(err error) { logger.Error().Err(err).Msg("record audit entry") },
	}

	checks := map[string]health.Pinger{"store": d.KV}
	if d.Redis != nil {
		checks["redis"] = health.PingFunc(func(ctx context.Context) error { return d.Redis.Ping(ctx).Err() })
	}
	healthHandler := health.Handler{Checks: checks}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.SurfaceMiddleware)
	if d.tracing {
		r.Use(obs.TracingMiddleware)
	}
	if d.httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: d.httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: d.Logger}.Middleware)
	r.Use(security.Headers{
		Enable:          cfg.SecurityHeaders,
		EnableHSTS:      cfg.EnableHSTS,
		NoStorePrefixes: security.StorefrontNoStore,
	}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))

	if d.httpMetrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Get("/products", catalogHandler.Products)
		v.Get("/products/{id}", catalogHandler.ProductDetail)
		v.Get("/stores", catalogHandler.Stores)

		v.Get("/regions", shipHandler.Regions)
		v.Post("/shipping/quote", shipHandler.Quote)

		v.Route("/carts", func(c chi.Router) {
			c.Get("/{id}", cartHandler.Get)
			c.Post("/{id}/quote", checkoutHandler.Quote)
			c.Group(func(g chi.Router) {
				g.Use(cartLimit.Middleware)
				g.Post("/", cartHandler.Create)
				g.Post("/{id}/items", cartHandler.AddItem)
				g.Patch("/{id}/items/{lineId}", cartHandler.UpdateItem)
				g.Delete("/{id}/items/{lineId}", cartHandler.RemoveItem)
				g.Delete("/{id}/items", cartHandler.ClearItems)
			})
		})

		v.With(checkoutLimit.Middleware, idem.Middleware).Post("/checkout", checkoutHandler.Checkout)
		v.Get("/orders/{id}", orderHandler.Get)

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(auditRecorder.Middleware)
			admin.Get("/audit", auditLog.List)
			admin.Get("/events", auditLog.Events)
			admin.Get("/orders", orderAdmin.List)
			admin.Patch("/orders/{id}/status", orderAdmin.PatchStatus)
			admin.Put("/products", catalogHandler.ReplaceProducts)
			admin.Put("/stores", catalogHandler.ReplaceStores)

			admin.Route("/commission", func(c chi.Router) {
				c.Get("/summary", commissionAdmin.Summary)
				c.Get("/transactions", commissionAdmin.Transactions)
				c.Patch("/transactions/{id}", commissionAdmin.PatchTransaction)
				c.Post("/transactions/{id}/distribute", commissionAdmin.Distribute)
				c.Get("/distributions", commissionAdmin.Distributions)
				c.Post("/orders/process-delivered", commissionAdmin.ProcessDelivered)
				c.Post("/orders/{id}/process", commissionAdmin.ProcessOrder)
				c.Get("/team", commissionAdmin.Team)
				c.Post("/team", commissionAdmin.AddMember)
				c.Patch("/team/{id}", commissionAdmin.UpdateMember)
				c.Get("/team/{id}/income", commissionAdmin.MemberIncome)
				c.Get("/settings", commissionAdmin.GetSettings)
				c.Put("/settings", commissionAdmin.UpdateSettings)
				c.Get("/monthly", commissionAdmin.Monthly)
			})

			admin.Get("/analytics/sales", analyticsHandler.Sales)
			admin.Get("/analytics/top-products", analyticsHandler.TopProducts)
			admin.Get("/analytics/overview", analyticsHandler.Overview)

			admin.Get("/webhooks", webhookAdmin.ListEndpoints)
			admin.Post("/webhooks", webhookAdmin.CreateEndpoint)
			admin.Put("/webhooks/{id}", webhookAdmin.UpdateEndpoint)
			admin.Delete("/webhooks/{id}", webhookAdmin.DeleteEndpoint)
			admin.Get("/webhooks/deliveries", webhookAdmin.ListDeliveries)
			admin.Post("/webhooks/deliveries/{id}/redeliver", webhookAdmin.Redeliver)

			if d.Redis != nil {
				queueAdmin := &queue.AdminHandler{
					Inspector: queue.Inspector{R: d.Redis, Prefix: cfg.QueuePrefix},
					Logger:    d.Logger,
				}
				admin.Get("/queue/stats", queueAdmin.Stats)
				admin.Get("/queue/dlq", queueAdmin.ListDLQ)
				admin.Post("/queue/dlq/replay", queueAdmin.ReplayDLQ)
			}
		})
	})
	return r, nil
}

func (d *Dependencies) limit(scope, formatted string) (ratelimit.Handler, error) {
	rate, err := ratelimit.ParseRate(formatted)
	if err != nil {
		return ratelimit.Handler{}, fmt.Errorf("app: %s rate %q: %w", scope, formatted, err)
	}
	logger := d.Logger
	return ratelimit.Handler{
		Limiter: ratelimit.New(d.LimiterStore, rate),
		Key:     ratelimit.ByClientIP(scope),
		OnError: func(err error) {
			logger.Warn().Err(err).Str("scope", scope).Msg("rate limiter unavailable")
		},
	}, nil
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
