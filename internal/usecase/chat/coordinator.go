package chat

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatgpt-coordinator/internal/domain"
)

type State int

const (
	StateIdle State = iota
	// StateScheduled means a dispatch is armed but not started; submissions
	// are still appended to the buffer.
	StateScheduled
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateDispatching:
		return "dispatching"
	default:
		return "unknown"
	}
}

// BusyPolicy decides what happens to a submission made while a call is in flight.
type BusyPolicy int

const (
	// BusyDrop discards the submission.
	BusyDrop BusyPolicy = iota
	// BusyQueue holds the submission and sends it in the next cycle.
	BusyQueue
)

type Options struct {
	Model          string
	MaxReplyTokens int
	// RequestTimeout bounds a single completion call. Zero disables it.
	RequestTimeout time.Duration
	// DispatchDelay defers the start of a cycle so that submissions arriving
	// within the delay share one call.
	DispatchDelay time.Duration
	BusyPolicy    BusyPolicy
}

// Coordinator serializes completion calls for one conversation. At most one
// call is in flight; the buffered turns are sent as a whole and cleared once
// the call settles, whatever its outcome.
type Coordinator struct {
	client Client
	opts   Options
	logger *zap.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	schedule func(d time.Duration, fn func()) (stop func() bool)

	mu    sync.Mutex
	idle  *sync.Cond
	state State
	// active counts armed timers and running cycles.
	active int

	closed       bool
	buffer       []domain.Turn
	held         []domain.Turn
	stopTimer    func() bool
	listeners    []domain.Listener
	errListeners []domain.ErrorListener
}

func NewCoordinator(client Client, opts Options, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		client:   client,
		opts:     opts,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		schedule: afterFunc,
	}
	c.idle = sync.NewCond(&c.mu)
	return c
}

func afterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// Subscribe registers fn for every delivered text. Listeners are called in
// registration order.
func (c *Coordinator) Subscribe(fn domain.Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// SubscribeErrors registers fn for failed or empty cycles.
func (c *Coordinator) SubscribeErrors(fn domain.ErrorListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errListeners = append(c.errListeners, fn)
}

// Initialize seeds the buffer with a system turn holding greeting and delivers
// greeting to the listeners without calling the client.
func (c *Coordinator) Initialize(greeting string) {
	c.mu.Lock()
	c.buffer = append(c.buffer, domain.SystemTurn(greeting))
	c.mu.Unlock()

	c.notify(greeting)
}

// Submit appends a user turn and starts a cycle. It never blocks on the
// client.
func (c *Coordinator) Submit(text string) {
	c.TrySubmit(text)
}

// TrySubmit is Submit that reports whether the text was kept, either in the
// buffer or held for the next cycle.
func (c *Coordinator) TrySubmit(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.acceptsLocked(text) {
		if c.state == StateDispatching {
			c.logger.Debug("submission dropped while dispatching")
		} else if !c.closed {
			c.logger.Debug("duplicate submission dropped")
		}
		return false
	}

	if c.state == StateDispatching {
		c.held = append(c.held, domain.UserTurn(text))
		c.logger.Debug("submission held until current cycle settles", zap.Int("held", len(c.held)))
		return true
	}

	c.buffer = append(c.buffer, domain.UserTurn(text))
	c.triggerLocked()
	return true
}

func (c *Coordinator) acceptsLocked(text string) bool {
	switch {
	case c.closed:
		return false
	case c.state == StateDispatching:
		return c.opts.BusyPolicy == BusyQueue && !sameAsLast(c.held, text)
	default:
		return !sameAsLast(c.buffer, text)
	}
}

func sameAsLast(turns []domain.Turn, text string) bool {
	return len(turns) > 0 && turns[len(turns)-1].Content == text
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns a copy of the turns waiting to be sent.
func (c *Coordinator) Pending() []domain.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.buffer)
}

// Wait blocks until no cycle is scheduled or in flight. It may be called
// concurrently with Submit and from any number of goroutines.
func (c *Coordinator) Wait() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waitIdleLocked()
}

func (c *Coordinator) waitIdleLocked() {
	for c.active > 0 {
		c.idle.Wait()
	}
}

func (c *Coordinator) doneLocked() {
	c.active--
	if c.active == 0 {
		c.idle.Broadcast()
	}
}

// Close cancels an in-flight call and waits for its cycle to settle.
// Submissions after Close are ignored.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.held = nil
	if c.stopTimer != nil && c.stopTimer() {
		c.state = StateIdle
		c.doneLocked()
	}
	c.stopTimer = nil
	c.mu.Unlock()

	c.cancel()
	c.Wait()
}

func (c *Coordinator) triggerLocked() {
	if c.state != StateIdle {
		return
	}
	if c.opts.DispatchDelay <= 0 {
		c.dispatchLocked()
		return
	}

	c.state = StateScheduled
	c.active++
	c.stopTimer = c.schedule(c.opts.DispatchDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		defer c.doneLocked()
		c.stopTimer = nil
		if c.closed {
			c.state = StateIdle
			return
		}
		c.dispatchLocked()
	})
}

func (c *Coordinator) dispatchLocked() {
	if len(c.buffer) == 0 {
		c.state = StateIdle
		return
	}

	c.state = StateDispatching
	snapshot := slices.Clone(c.buffer)
	c.active++
	go c.run(snapshot)
}

func (c *Coordinator) run(snapshot []domain.Turn) {
	logger := c.logger.With(zap.String("cycle_id", uuid.NewString()))
	logger.Debug("dispatching", zap.Int("turns", len(snapshot)))

	start := time.Now()
	ctx, cancel := c.requestContext()
	resp, err := c.client.Complete(ctx, CompletionRequest{
		Model:     c.opts.Model,
		Turns:     snapshot,
		MaxTokens: c.opts.MaxReplyTokens,
	})
	cancel()
	elapsed := zap.Duration("elapsed", time.Since(start))

	switch {
	case err != nil:
		logger.Error("completion request failed", zap.Error(err), elapsed)
		c.recordFailure(&TransportError{Err: err})
	case len(resp.Choices) == 0:
		logger.Warn("no response received from completion api", elapsed)
		c.recordFailure(ErrEmptyReply)
	default:
		logger.Debug("reply received", zap.Int("choices", len(resp.Choices)), elapsed)
		c.notify(resp.Choices[0].Content)
	}

	c.settle()
}

func (c *Coordinator) requestContext() (context.Context, context.CancelFunc) {
	if c.opts.RequestTimeout > 0 {
		return context.WithTimeout(c.ctx, c.opts.RequestTimeout)
	}
	return context.WithCancel(c.ctx)
}

// settle clears the buffer and reopens the gate. Turns held under BusyQueue
// become the next buffer.
func (c *Coordinator) settle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.doneLocked()

	c.buffer = nil
	c.state = StateIdle

	if len(c.held) == 0 || c.closed {
		return
	}
	c.buffer, c.held = c.held, nil
	c.triggerLocked()
}

func (c *Coordinator) notify(text string) {
	c.mu.Lock()
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(text)
	}
}

func (c *Coordinator) recordFailure(err error) {
	c.mu.Lock()
	listeners := slices.Clone(c.errListeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(err)
	}
}
