package events

// Topic constants for domain events emitted by the storefront.
const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status_changed"
	TopicOrderDelivered     = "order.delivered"
	TopicCommissionRecorded = "commission.recorded"
	TopicAdminAudit         = "admin.audit"
)

// DefaultTopics returns the canonical list of topics.
func DefaultTopics() []string {
	return []string{
		TopicOrderCreated,
		TopicOrderStatusChanged,
		TopicOrderDelivered,
		TopicCommissionRecorded,
		TopicAdminAudit,
	}
}

// OrderDelivered is the payload of TopicOrderDelivered.
type OrderDelivered struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	StoreID     string `json:"storeId"`
}
