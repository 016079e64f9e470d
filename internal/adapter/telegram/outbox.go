package telegram

import "sync"

// outbox runs a chat's outgoing Telegram calls on its own goroutine, in the
// order they were queued. Pushing never blocks on the network.
type outbox struct {
	mu      sync.Mutex
	queue   []func()
	started bool
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

func newOutbox() *outbox {
	return &outbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (o *outbox) push(job func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.queue = append(o.queue, job)
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started || o.closed {
		return
	}
	o.started = true
	go o.run()
}

func (o *outbox) run() {
	defer close(o.done)
	for {
		o.drain()
		if _, ok := <-o.wake; !ok {
			o.drain()
			return
		}
	}
}

func (o *outbox) drain() {
	o.mu.Lock()
	jobs := o.queue
	o.queue = nil
	o.mu.Unlock()

	for _, job := range jobs {
		job()
	}
}

// close stops intake and waits for queued jobs to finish. Jobs queued on an
// outbox that was never started are discarded.
func (o *outbox) close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	started := o.started
	close(o.wake)
	o.mu.Unlock()

	if started {
		<-o.done
	}
}
