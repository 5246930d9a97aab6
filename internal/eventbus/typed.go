package eventbus

// SubscribeTyped registers fn for the topic of payload type T. Envelopes whose payload is
// not a T are skipped.
func SubscribeTyped[T Payload](b *Bus, fn func(T)) *Subscription {
	var zero T
	return b.Subscribe(zero.Topic(), func(env Envelope) {
		if payload, ok := env.Payload.(T); ok {
			fn(payload)
		}
	})
}

// SubscribeTypedEnvelope is like SubscribeTyped but also passes the envelope metadata.
func SubscribeTypedEnvelope[T Payload](b *Bus, fn func(T, Envelope)) *Subscription {
	var zero T
	return b.Subscribe(zero.Topic(), func(env Envelope) {
		if payload, ok := env.Payload.(T); ok {
			fn(payload, env)
		}
	})
}
