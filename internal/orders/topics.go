package orders

const (
	TopicOrderPlaced      = "bookmarket.order.placed"
	TopicOrderAccepted    = "bookmarket.order.accepted"
	TopicOrderRejected    = "bookmarket.order.rejected"
	TopicOrderExpired     = "bookmarket.order.expired"
	TopicPaymentConfirmed = "bookmarket.order.payment-confirmed"
	TopicOrderShipped     = "bookmarket.order.shipped"
	TopicOrderDelivered   = "bookmarket.order.delivered"
)

var topicByEvent = map[string]string{
	EventOrderPlaced:      TopicOrderPlaced,
	EventOrderAccepted:    TopicOrderAccepted,
	EventOrderRejected:    TopicOrderRejected,
	EventOrderExpired:     TopicOrderExpired,
	EventPaymentConfirmed: TopicPaymentConfirmed,
	EventOrderShipped:     TopicOrderShipped,
	EventOrderDelivered:   TopicOrderDelivered,
}

// TopicFor returns the topic an event type is published to.
func TopicFor(eventType string) (string, bool) {
	t, ok := topicByEvent[eventType]
	return t, ok
}

// AllTopics lists every lifecycle topic, for consumers that follow the whole
// stream.
func AllTopics() []string {
	return []string{
		TopicOrderPlaced,
		TopicOrderAccepted,
		TopicOrderRejected,
		TopicOrderExpired,
		TopicPaymentConfirmed,
		TopicOrderShipped,
		TopicOrderDelivered,
	}
}

// Partition key = order_id, so all events of one order stay in order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
