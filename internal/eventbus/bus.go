package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Listener receives envelopes published on a subscribed topic.
type Listener func(Envelope)

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report listener panics.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock overrides the time source used to stamp envelopes.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// Bus delivers events synchronously to listeners in registration order. A
// listener that panics is logged and does not prevent delivery to the rest.
type Bus struct {
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	topics    map[Topic][]*Subscription
	wildcards []*Subscription
	nextID    uint64
	closed    bool

	published atomic.Uint64
	panics    atomic.Uint64
}

// New constructs a Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		logger: zap.NewNop(),
		now:    time.Now,
		topics: make(map[Topic][]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscription is a registered listener. Close removes it from the bus.
type Subscription struct {
	bus      *Bus
	id       uint64
	topic    Topic
	wildcard bool
	fn       Listener
	closed   atomic.Bool
}

// Subscribe registers fn for topic. Listeners added while an event is being
// delivered receive the next event on that topic, not the current one.
func (b *Bus) Subscribe(topic Topic, fn Listener) *Subscription {
	return b.subscribe(topic, false, fn)
}

// SubscribeAll registers fn for every topic.
func (b *Bus) SubscribeAll(fn Listener) *Subscription {
	return b.subscribe("", true, fn)
}

func (b *Bus) subscribe(topic Topic, wildcard bool, fn Listener) *Subscription {
	sub := &Subscription{bus: b, topic: topic, wildcard: wildcard, fn: fn}
	if b == nil || fn == nil {
		sub.closed.Store(true)
		return sub
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.closed.Store(true)
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	if wildcard {
		b.wildcards = append(b.wildcards, sub)
	} else {
		b.topics[topic] = append(b.topics[topic], sub)
	}
	return sub
}

// Close unregisters the subscription. It is safe to call more than once and
// from within a listener.
func (s *Subscription) Close() {
	if s == nil || !s.closed.CompareAndSwap(false, true) || s.bus == nil {
		return
	}
	s.bus.remove(s)
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.wildcard {
		b.wildcards = without(b.wildcards, sub)
		return
	}
	subs := without(b.topics[sub.topic], sub)
	if len(subs) == 0 {
		delete(b.topics, sub.topic)
		return
	}
	b.topics[sub.topic] = subs
}

func without(subs []*Subscription, target *Subscription) []*Subscription {
	out := make([]*Subscription, 0, len(subs))
	for _, s := range subs {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// Publish delivers env to the listeners registered for its topic followed by
// wildcard listeners. When env.Topic is empty it is taken from the payload.
// Publishing on a nil or shut down bus is a no-op.
func (b *Bus) Publish(env Envelope) {
	if b == nil {
		return
	}
	if env.Topic == "" && env.Payload != nil {
		env.Topic = env.Payload.Topic()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = b.now()
	}
	if env.Source == "" {
		env.Source = SourceUnknown
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	targets := make([]*Subscription, 0, len(b.topics[env.Topic])+len(b.wildcards))
	targets = append(targets, b.topics[env.Topic]...)
	targets = append(targets, b.wildcards...)
	b.mu.RUnlock()

	b.published.Add(1)
	for _, sub := range targets {
		if sub.closed.Load() {
			continue
		}
		b.deliver(sub, env)
	}
}

// Emit publishes payload with the given source.
func (b *Bus) Emit(source Source, payload Payload) {
	if payload == nil {
		return
	}
	b.Publish(Envelope{Topic: payload.Topic(), Source: source, Payload: payload})
}

func (b *Bus) deliver(sub *Subscription, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.logger.Error("event listener panicked",
				zap.String("topic", string(env.Topic)),
				zap.Any("panic", r))
		}
	}()
	sub.fn(env)
}

// Shutdown drops every subscription. Later publishes are ignored.
func (b *Bus) Shutdown() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.topics {
		for _, sub := range subs {
			sub.closed.Store(true)
		}
	}
	for _, sub := range b.wildcards {
		sub.closed.Store(true)
	}
	b.topics = make(map[Topic][]*Subscription)
	b.wildcards = nil
}

// Metrics reports delivery counters.
type Metrics struct {
	Published      uint64
	ListenerPanics uint64
	Subscriptions  int
}

// Metrics returns a snapshot of the bus counters.
func (b *Bus) Metrics() Metrics {
	if b == nil {
		return Metrics{}
	}
	b.mu.RLock()
	count := len(b.wildcards)
	for _, subs := range b.topics {
		count += len(subs)
	}
	b.mu.RUnlock()
	return Metrics{
		Published:      b.published.Load(),
		ListenerPanics: b.panics.Load(),
		Subscriptions:  count,
	}
}
