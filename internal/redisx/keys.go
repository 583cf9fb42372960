package redisx

import "time"

const (
	// Cache status order: order_status:{order_id} -> {"status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup webhook/event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Catalog listing cache, invalidated by TTL only.
	KeyProductList = "products:list"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
