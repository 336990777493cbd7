package provider

import (
	"errors"
	"sync"
)

// Disposable releases a resource. Dispose is safe to call more than once.
type Disposable interface {
	Dispose() error
}

// DisposableFunc adapts a function to Disposable. The function runs once.
func DisposableFunc(fn func() error) Disposable {
	return &onceDisposable{fn: fn}
}

type onceDisposable struct {
	once sync.Once
	fn   func() error
	err  error
}

func (d *onceDisposable) Dispose() error {
	d.once.Do(func() {
		if d.fn != nil {
			d.err = d.fn()
		}
	})
	return d.err
}

// NopDisposable is an inert handle.
var NopDisposable Disposable = nopDisposable{}

type nopDisposable struct{}

func (nopDisposable) Dispose() error { return nil }

// DisposableCollection disposes its members together.
type DisposableCollection struct {
	mu    sync.Mutex
	items []Disposable
	done  bool
}

// Push adds d. If the collection is already disposed, d is disposed at once.
func (c *DisposableCollection) Push(d Disposable) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		d.Dispose()
		return
	}
	c.items = append(c.items, d)
	c.mu.Unlock()
}

// Dispose disposes every member in reverse order of addition.
func (c *DisposableCollection) Dispose() error {
	c.mu.Lock()
	items := c.items
	c.items = nil
	c.done = true
	c.mu.Unlock()

	var errs []error
	for i := len(items) - 1; i >= 0; i-- {
		if err := items[i].Dispose(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emitter fans events out to subscribers. Publishing never blocks: an event
// is dropped for a subscriber whose buffer is full.
type Emitter[T any] struct {
	mu          sync.RWMutex
	subscribers map[chan T]struct{}
	buffer      int
	disposed    bool
}

// NewEmitter creates an emitter whose subscriber channels hold buffer events.
func NewEmitter[T any](buffer int) *Emitter[T] {
	if buffer < 0 {
		buffer = 0
	}
	return &Emitter[T]{
		subscribers: make(map[chan T]struct{}),
		buffer:      buffer,
	}
}

// Subscribe returns a channel of events and the handle that ends the
// subscription. After Dispose of the emitter the channel is already closed.
func (e *Emitter[T]) Subscribe() (<-chan T, Disposable) {
	ch := make(chan T, e.buffer)
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		close(ch)
		return ch, NopDisposable
	}
	e.subscribers[ch] = struct{}{}
	e.mu.Unlock()

	return ch, DisposableFunc(func() error {
		e.unsubscribe(ch)
		return nil
	})
}

func (e *Emitter[T]) unsubscribe(ch chan T) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subscribers[ch]; ok {
		delete(e.subscribers, ch)
		close(ch)
	}
}

// Fire sends v to every subscriber and returns how many received it.
func (e *Emitter[T]) Fire(v T) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	delivered := 0
	for ch := range e.subscribers {
		select {
		case ch <- v:
			delivered++
		default:
		}
	}
	return delivered
}

// Count returns the current number of subscribers.
func (e *Emitter[T]) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers)
}

// Dispose closes every subscriber channel. Later subscriptions receive a
// closed channel.
func (e *Emitter[T]) Dispose() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return nil
	}
	e.disposed = true
	for ch := range e.subscribers {
		delete(e.subscribers, ch)
		close(ch)
	}
	return nil
}
