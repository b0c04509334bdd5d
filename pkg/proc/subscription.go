package proc

import "sync"

// Subscription receives every Event published by a Controller.
// Events are queued without bound so that publishing never blocks the
// execution thread of a core. Events of the same core are delivered in
// the order they happened.
type Subscription struct {
	ctrl *Controller

	mu     sync.Mutex
	queue  []Event
	signal chan struct{}
}

// Subscribe starts queueing events for the caller.
func (c *Controller) Subscribe() *Subscription {
	sub := &Subscription{ctrl: c, signal: make(chan struct{}, 1)}
	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()
	return sub
}

// Ready returns a channel that receives a value whenever events have been
// queued since the last call to Drain.
func (sub *Subscription) Ready() <-chan struct{} {
	return sub.signal
}

// Drain returns and removes every queued event.
func (sub *Subscription) Drain() []Event {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	r := sub.queue
	sub.queue = nil
	return r
}

// Close stops the subscription, queued events are discarded.
func (sub *Subscription) Close() {
	sub.ctrl.mu.Lock()
	delete(sub.ctrl.subs, sub)
	sub.ctrl.mu.Unlock()
	sub.Drain()
}

func (sub *Subscription) push(ev Event) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, ev)
	sub.mu.Unlock()
	select {
	case sub.signal <- struct{}{}:
	default:
	}
}
