// Package observe provides a minimal observable value container used to push
// connection and session state to UI bindings.
package observe

import "sync"

const subscriberBuffer = 16

// Value holds a current value and notifies subscribers on every change.
// Delivery is a non-blocking send into each subscriber's buffered channel,
// so the writer never waits on a subscriber; a slow subscriber misses
// intermediate values and observes a later one.
type Value[T any] struct {
	mu   sync.Mutex
	cur  T
	subs map[int]chan T
	next int
}

// NewValue creates a Value with the given initial value.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		cur:  initial,
		subs: make(map[int]chan T),
	}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// Set stores a new value and notifies all subscribers.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cur = val
	for _, ch := range v.subs {
		select {
		case ch <- val:
		default:
		}
	}
}

// Subscribe registers a new subscriber. The returned channel immediately
// carries the current value, then every subsequent change. The cancel
// function removes the subscription and closes the channel; it is safe to
// call more than once.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, subscriberBuffer)

	v.mu.Lock()
	id := v.next
	v.next++
	v.subs[id] = ch
	ch <- v.cur
	v.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subs, id)
			close(ch)
			v.mu.Unlock()
		})
	}
	return ch, cancel
}

// Subscribers returns the current subscriber count.
func (v *Value[T]) Subscribers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}
