package event

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dshills/sensorbus/internal/event/dispatch"
)

// Listener receives events synchronously from a ListenerDispatcher.
type Listener interface {
	HandleEvent(e Event)
}

// ListenerFunc adapts a function to Listener. Function values are not
// comparable, so register a pointer to a ListenerFunc:
//
//	fn := event.ListenerFunc(handle)
//	d.RegisterListener(&fn)
type ListenerFunc func(e Event)

// HandleEvent implements Listener.
func (f ListenerFunc) HandleEvent(e Event) { f(e) }

// ListenerDispatcher delivers events synchronously to registered listeners
// on the publishing goroutine.
//
// Listeners may register, unregister and publish from inside HandleEvent.
// Such changes are staged while a dispatch is in progress and committed
// after it: removals first, then additions, then queued events in FIFO
// order. A Publish from any goroutine during a dispatch is queued the same
// way and delivered by the goroutine already dispatching.
type ListenerDispatcher struct {
	executor *dispatch.Executor
	logger   *logrus.Entry

	mu         sync.Mutex
	listeners  []Listener
	toAdd      []Listener
	toRemove   []Listener
	queue      []Event
	publishing bool
}

// NewListenerDispatcher creates an empty dispatcher. A nil logger uses the
// standard logger.
func NewListenerDispatcher(logger *logrus.Entry) *ListenerDispatcher {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ListenerDispatcher{
		executor: dispatch.NewExecutor(),
		logger:   logger.WithField("component", "listeners"),
	}
}

// RegisterListener adds l. Registering the same listener twice has no effect.
func (d *ListenerDispatcher) RegisterListener(l Listener) error {
	if l == nil {
		return ErrNilListener
	}
	if !reflect.TypeOf(l).Comparable() {
		return ErrListenerNotComparable
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.publishing {
		if indexOf(d.listeners, l) < 0 {
			d.listeners = append(d.listeners, l)
		}
		return nil
	}

	if i := indexOf(d.toRemove, l); i >= 0 {
		d.toRemove = removeAt(d.toRemove, i)
	}
	if indexOf(d.listeners, l) < 0 && indexOf(d.toAdd, l) < 0 {
		d.toAdd = append(d.toAdd, l)
	}
	return nil
}

// UnregisterListener removes l. Unknown listeners are ignored.
func (d *ListenerDispatcher) UnregisterListener(l Listener) {
	if l == nil || !reflect.TypeOf(l).Comparable() {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.publishing {
		if i := indexOf(d.listeners, l); i >= 0 {
			d.listeners = removeAt(d.listeners, i)
		}
		return
	}

	if i := indexOf(d.toAdd, l); i >= 0 {
		d.toAdd = removeAt(d.toAdd, i)
	}
	if indexOf(d.listeners, l) >= 0 && indexOf(d.toRemove, l) < 0 {
		d.toRemove = append(d.toRemove, l)
	}
}

// ClearAllListeners empties the live list at once, even during a
// dispatch, and drops staged changes. The event being dispatched still
// reaches the listeners of its snapshot; queued events reach none.
func (d *ListenerDispatcher) ClearAllListeners() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.listeners = nil
	d.toAdd = nil
	d.toRemove = nil
}

// NumListeners returns the number of committed listeners.
func (d *ListenerDispatcher) NumListeners() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners)
}

// Publish delivers e to every listener. A listener that panics is logged
// and skipped; the others still receive the event.
//
// Publish is only fully synchronous when no dispatch is in progress. If
// one is, on this goroutine (a listener publishing) or on another, e is
// queued and Publish returns at once; the goroutine already dispatching
// delivers it after the current event, in FIFO order. A caller on another
// goroutine must therefore not assume its listeners have run when Publish
// returns.
func (d *ListenerDispatcher) Publish(e Event) {
	d.mu.Lock()
	if d.publishing {
		d.queue = append(d.queue, e)
		d.mu.Unlock()
		return
	}
	d.publishing = true
	snapshot := d.snapshot()
	d.mu.Unlock()

	for {
		for _, l := range snapshot {
			d.deliver(l, e)
		}

		d.mu.Lock()
		d.commitChanges()
		if len(d.queue) == 0 {
			d.publishing = false
			d.mu.Unlock()
			return
		}
		e = d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		snapshot = d.snapshot()
		d.mu.Unlock()
	}
}

// snapshot copies the listener list. Callers hold d.mu.
func (d *ListenerDispatcher) snapshot() []Listener {
	out := make([]Listener, len(d.listeners))
	copy(out, d.listeners)
	return out
}

// commitChanges applies staged removals, then additions. Callers hold d.mu.
func (d *ListenerDispatcher) commitChanges() {
	for _, l := range d.toRemove {
		if i := indexOf(d.listeners, l); i >= 0 {
			d.listeners = removeAt(d.listeners, i)
		}
	}
	for _, l := range d.toAdd {
		if indexOf(d.listeners, l) < 0 {
			d.listeners = append(d.listeners, l)
		}
	}
	d.toRemove = nil
	d.toAdd = nil
}

func (d *ListenerDispatcher) deliver(l Listener, e Event) {
	result := d.executor.Execute(context.Background(), func() { l.HandleEvent(e) })
	if result.IsPanic() {
		d.logger.WithFields(logrus.Fields{
			"src":   sourceLabel(e),
			"dest":  listenerLabel(l),
			"panic": fmt.Sprint(result.PanicValue),
		}).Error("Uncaught panic while dispatching event")
	}
}

// sourceLabel names the producer of e for logging.
func sourceLabel(e Event) string {
	if e == nil {
		return "<nil>"
	}
	if src := e.Source(); src != nil {
		return typeName(src)
	}
	return e.SourceID()
}

// listenerLabel names l for logging. Function listeners are labelled with
// the function name.
func listenerLabel(l Listener) string {
	var fn ListenerFunc
	switch v := l.(type) {
	case ListenerFunc:
		fn = v
	case *ListenerFunc:
		if v != nil {
			fn = *v
		}
	}
	if fn != nil {
		if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil {
			return f.Name()
		}
	}
	return typeName(l)
}

func indexOf(list []Listener, l Listener) int {
	for i, v := range list {
		if v == l {
			return i
		}
	}
	return -1
}

func removeAt(list []Listener, i int) []Listener {
	return append(list[:i], list[i+1:]...)
}
