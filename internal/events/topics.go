package events

// Topic constants for domain events emitted by the payment pipeline.
const (
	TopicOrderPaid            = "order.paid"
	TopicPaymentFailed        = "payment.failed"
	TopicNotificationRejected = "notification.rejected"
)

// DefaultTopics returns the canonical list of topics.
func DefaultTopics() []string {
	return []string{
		TopicOrderPaid,
		TopicPaymentFailed,
		TopicNotificationRejected,
	}
}
