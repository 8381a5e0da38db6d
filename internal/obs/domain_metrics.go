package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// OrdersComposedTotal counts orders created at checkout, per store.
	OrdersComposedTotal *prometheus.CounterVec
	// CheckoutFailuresTotal counts rejected checkouts by reason.
	CheckoutFailuresTotal *prometheus.CounterVec
	// OrderStatusChangesTotal counts admin status transitions by target status.
	OrderStatusChangesTotal *prometheus.CounterVec
	// CommissionTransactionsTotal counts commission processing outcomes.
	CommissionTransactionsTotal *prometheus.CounterVec
	// CommissionDistributedTotal sums commission amounts split across the team.
	CommissionDistributedTotal prometheus.Counter
	// QueueProcessedTotal counts background task outcomes.
	QueueProcessedTotal *prometheus.CounterVec
	// WebhookDeliveriesTotal counts webhook delivery attempts by result.
	WebhookDeliveriesTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		OrdersComposedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_composed_total",
			Help:      "Count of orders created at checkout per store.",
		}, []string{"store"})
		CheckoutFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_failures_total",
			Help:      "Count of rejected checkouts by reason.",
		}, []string{"reason"})
		OrderStatusChangesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_changes_total",
			Help:      "Count of order status transitions by target status.",
		}, []string{"status"})
		CommissionTransactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commission_transactions_total",
			Help:      "Count of commission processing outcomes.",
		}, []string{"result"})
		CommissionDistributedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commission_distributed_amount_total",
			Help:      "Total commission amount distributed to team members.",
		})
		QueueProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_processed_total",
			Help:      "Count of background task outcomes.",
		}, []string{"kind", "status"})
		WebhookDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Count of webhook delivery attempts by result.",
		}, []string{"result"})

		mustRegisterCollector(reg, OrdersComposedTotal, reuseCounterVec(&OrdersComposedTotal))
		mustRegisterCollector(reg, CheckoutFailuresTotal, reuseCounterVec(&CheckoutFailuresTotal))
		mustRegisterCollector(reg, OrderStatusChangesTotal, reuseCounterVec(&OrderStatusChangesTotal))
		mustRegisterCollector(reg, CommissionTransactionsTotal, reuseCounterVec(&CommissionTransactionsTotal))
		mustRegisterCollector(reg, CommissionDistributedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				CommissionDistributedTotal = v
			}
		})
		mustRegisterCollector(reg, QueueProcessedTotal, reuseCounterVec(&QueueProcessedTotal))
		mustRegisterCollector(reg, WebhookDeliveriesTotal, reuseCounterVec(&WebhookDeliveriesTotal))
	})
}

func reuseCounterVec(dst **prometheus.CounterVec) func(prometheus.Collector) {
	return func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			*dst = v
		}
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}

// The helpers below are no-ops until MustRegisterDomainMetrics has run.

func IncOrdersComposed(storeID string) {
	if OrdersComposedTotal != nil {
		OrdersComposedTotal.WithLabelValues(storeID).Inc()
	}
}

func IncCheckoutFailure(reason string) {
	if CheckoutFailuresTotal != nil {
		CheckoutFailuresTotal.WithLabelValues(reason).Inc()
	}
}

func IncOrderStatusChange(status string) {
	if OrderStatusChangesTotal != nil {
		OrderStatusChangesTotal.WithLabelValues(status).Inc()
	}
}

func AddCommissionTransactions(result string, n int) {
	if CommissionTransactionsTotal != nil && n > 0 {
		CommissionTransactionsTotal.WithLabelValues(result).Add(float64(n))
	}
}

func AddCommissionDistributed(amount float64) {
	if CommissionDistributedTotal != nil && amount > 0 {
		CommissionDistributedTotal.Add(amount)
	}
}

func IncQueueProcessed(kind, status string) {
	if QueueProcessedTotal != nil {
		QueueProcessedTotal.WithLabelValues(kind, status).Inc()
	}
}

func IncWebhookDelivery(result string) {
	if WebhookDeliveriesTotal != nil {
		WebhookDeliveriesTotal.WithLabelValues(result).Inc()
	}
}
