package flow

// SubscriberCallbacks holds the optional callbacks of a SubscriberFuncs.
// Nil callbacks are skipped.
type SubscriberCallbacks[T any] struct {
	OnSubscribe func(s Subscription)
	OnNext      func(item T)
	OnError     func(err error)
	OnComplete  func()
}

// SubscriberFuncs adapts plain callbacks into a Subscriber.
type SubscriberFuncs[T any] struct {
	callbacks   SubscriberCallbacks[T]
	autoRequest bool
	sub         Subscription
}

// NewSubscriberFuncs creates a callback subscriber.
// If autoRequest is set, Unbounded demand is requested as soon as the
// subscription is established.
func NewSubscriberFuncs[T any](cb SubscriberCallbacks[T], autoRequest bool) *SubscriberFuncs[T] {
	return &SubscriberFuncs[T]{callbacks: cb, autoRequest: autoRequest}
}

// OnSubscribe implements Subscriber.
func (s *SubscriberFuncs[T]) OnSubscribe(sub Subscription) {
	s.sub = sub
	if s.callbacks.OnSubscribe != nil {
		s.callbacks.OnSubscribe(sub)
	}
	if s.autoRequest {
		sub.Request(Unbounded)
	}
}

// OnNext implements Subscriber.
func (s *SubscriberFuncs[T]) OnNext(item T) {
	if s.callbacks.OnNext != nil {
		s.callbacks.OnNext(item)
	}
}

// OnError implements Subscriber.
func (s *SubscriberFuncs[T]) OnError(err error) {
	if s.callbacks.OnError != nil {
		s.callbacks.OnError(err)
	}
}

// OnComplete implements Subscriber.
func (s *SubscriberFuncs[T]) OnComplete() {
	if s.callbacks.OnComplete != nil {
		s.callbacks.OnComplete()
	}
}

// Subscription returns the subscription received in OnSubscribe, or nil.
func (s *SubscriberFuncs[T]) Subscription() Subscription {
	return s.sub
}

// Delegate forwards every signal to another subscriber and invokes a hook
// after the subscription handshake has been forwarded.
type Delegate[T any] struct {
	target      Subscriber[T]
	onHandshake func(s Subscription)
}

// NewDelegate wraps target. onHandshake may be nil.
func NewDelegate[T any](target Subscriber[T], onHandshake func(s Subscription)) *Delegate[T] {
	return &Delegate[T]{target: target, onHandshake: onHandshake}
}

// OnSubscribe implements Subscriber.
func (d *Delegate[T]) OnSubscribe(s Subscription) {
	d.target.OnSubscribe(s)
	if d.onHandshake != nil {
		d.onHandshake(s)
	}
}

// OnNext implements Subscriber.
func (d *Delegate[T]) OnNext(item T) { d.target.OnNext(item) }

// OnError implements Subscriber.
func (d *Delegate[T]) OnError(err error) { d.target.OnError(err) }

// OnComplete implements Subscriber.
func (d *Delegate[T]) OnComplete() { d.target.OnComplete() }

// Unwrap returns the wrapped subscriber.
func (d *Delegate[T]) Unwrap() Subscriber[T] { return d.target }
