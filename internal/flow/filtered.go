package flow

// FilteredSubscriber forwards only the items accepted by a predicate.
//
// Rejected items are compensated by requesting one more item upstream, so
// the delegate's demand is spent only on matching items. A delegate that
// requested N items eventually receives N matching items, however selective
// the predicate is.
type FilteredSubscriber[T any] struct {
	delegate  Subscriber[T]
	predicate func(T) bool
	sub       Subscription
}

// NewFilteredSubscriber wraps delegate with predicate.
// A nil predicate accepts every item.
func NewFilteredSubscriber[T any](delegate Subscriber[T], predicate func(T) bool) *FilteredSubscriber[T] {
	return &FilteredSubscriber[T]{delegate: delegate, predicate: predicate}
}

// OnSubscribe stores the upstream subscription and hands it to the delegate
// unchanged; the delegate drives Request and Cancel directly.
func (f *FilteredSubscriber[T]) OnSubscribe(s Subscription) {
	f.sub = s
	f.delegate.OnSubscribe(s)
}

// OnNext implements Subscriber.
func (f *FilteredSubscriber[T]) OnNext(item T) {
	if f.predicate == nil || f.predicate(item) {
		f.delegate.OnNext(item)
		return
	}
	f.sub.Request(1)
}

// OnError implements Subscriber.
func (f *FilteredSubscriber[T]) OnError(err error) {
	f.delegate.OnError(err)
}

// OnComplete implements Subscriber.
func (f *FilteredSubscriber[T]) OnComplete() {
	f.delegate.OnComplete()
}

// Delegate returns the wrapped subscriber.
func (f *FilteredSubscriber[T]) Delegate() Subscriber[T] {
	return f.delegate
}
