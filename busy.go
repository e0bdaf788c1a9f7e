package main

import "sync"

// busyIndicator is true while at least one paste-and-upload cycle is in
// flight. One per interceptor; the observer drives whatever overlay the
// host shows and only hears the idle/busy edges.
type busyIndicator struct {
	mu       sync.Mutex
	inFlight int
	onChange func(busy bool)

	// notify keeps observer calls in transition order.
	notify sync.Mutex
}

func (b *busyIndicator) Busy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inFlight > 0
}

// begin registers one more cycle in flight.
func (b *busyIndicator) begin() { b.add(1) }

// end retires a cycle started with begin.
func (b *busyIndicator) end() { b.add(-1) }

func (b *busyIndicator) add(delta int) {
	b.mu.Lock()
	was := b.inFlight > 0
	b.inFlight = max(b.inFlight+delta, 0)
	now := b.inFlight > 0
	fn := b.onChange
	if fn == nil || was == now {
		b.mu.Unlock()
		return
	}
	b.notify.Lock()
	b.mu.Unlock()
	defer b.notify.Unlock()
	fn(now)
}

// OnChange registers fn to be called on every idle/busy transition.
func (b *busyIndicator) OnChange(fn func(busy bool)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}
