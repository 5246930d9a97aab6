package observability

import (
	"sync"
	"sync/atomic"

	"github.com/nupi-ai/warp/internal/eventbus"
)

// EventCounter counts published events grouped by topic.
type EventCounter struct {
	counts sync.Map // map[eventbus.Topic]*atomic.Uint64
}

// NewEventCounter creates an empty counter. Attach it with Attach.
func NewEventCounter() *EventCounter {
	return &EventCounter{}
}

// Attach subscribes the counter to every topic on bus.
func (c *EventCounter) Attach(bus *eventbus.Bus) *eventbus.Subscription {
	return bus.SubscribeAll(c.Observe)
}

// Observe records one envelope.
func (c *EventCounter) Observe(env eventbus.Envelope) {
	if env.Topic == "" {
		return
	}
	c.counterFor(env.Topic).Add(1)
}

// Snapshot exposes a stable copy of the current counts.
func (c *EventCounter) Snapshot() map[eventbus.Topic]uint64 {
	out := make(map[eventbus.Topic]uint64)
	c.counts.Range(func(key, value any) bool {
		topic, ok := key.(eventbus.Topic)
		if !ok {
			return true
		}
		if counter, ok := value.(*atomic.Uint64); ok && counter != nil {
			out[topic] = counter.Load()
		}
		return true
	})
	return out
}

func (c *EventCounter) counterFor(topic eventbus.Topic) *atomic.Uint64 {
	if counter, ok := c.counts.Load(topic); ok {
		return counter.(*atomic.Uint64)
	}
	actual, _ := c.counts.LoadOrStore(topic, &atomic.Uint64{})
	return actual.(*atomic.Uint64)
}
