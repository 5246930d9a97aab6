package eventbus

import "sync"

// SubscriptionCloser is implemented by subscriptions that can be released.
type SubscriptionCloser interface {
	Close()
}

// SubscriptionGroup collects subscriptions so a component can release all of
// them at once.
type SubscriptionGroup struct {
	mu   sync.Mutex
	subs []SubscriptionCloser
}

// Add tracks subs. Nil entries are ignored.
func (g *SubscriptionGroup) Add(subs ...SubscriptionCloser) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, sub := range subs {
		if sub != nil {
			g.subs = append(g.subs, sub)
		}
	}
}

// CloseAll closes every tracked subscription and resets the group.
func (g *SubscriptionGroup) CloseAll() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}
