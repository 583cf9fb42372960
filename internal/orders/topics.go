package orders

const (
	TopicOrderCreated     = "order.created"
	TopicOrderCancelled   = "order.cancelled"
	TopicOrderCompleted   = "order.completed"
	TopicPaymentCompleted = "payment.completed"
)

// Partition key = order_id so events for one order keep their order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
