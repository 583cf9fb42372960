package kafka

import (
	"github.com/segmentio/kafka-go"
)

// Router fans domain events out to per-topic producers keyed by event type.
// Events with no route are dropped silently; wiring decides what leaves the
// process.
type Router struct {
	routes map[string]*Producer
}

func NewRouter() *Router {
	return &Router{routes: map[string]*Producer{}}
}

func (r *Router) Route(eventType string, p *Producer) *Router {
	r.routes[eventType] = p
	return r
}

func (r *Router) Publish(eventType string, key, value []byte) {
	p, ok := r.routes[eventType]
	if !ok {
		return
	}
	p.Publish(key, value,
		kafka.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafka.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
