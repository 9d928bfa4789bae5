package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-canusb-server/internal/can"
)

var (
	// ErrTxOverflow is returned (wrapped) by SendFrame when the queue is full.
	ErrTxOverflow    = errors.New("tx overflow")
	ErrAsyncTxClosed = errors.New("async tx closed")
)

// AsyncTx funnels frame writes to a backend through one goroutine. Producers
// never block: a full queue makes SendFrame return the OnDrop error.
//
//	a := NewAsyncTx(ctx, buf, send, hooks)
//	a.SendFrame(frame)
//	a.Close()
//
// The adapter allows one request/response exchange at a time, so a single
// worker also serialises transmits against each other.
type AsyncTx struct {
	mu     sync.Mutex
	ch     chan can.Frame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(can.Frame) error
	hooks  Hooks
	closed atomic.Bool
}

// Hooks let each backend attach its own metrics and logging.
type Hooks struct {
	// OnError is called when send fails; the frame was not transmitted.
	OnError func(can.Frame, error)
	// OnAfter is called after a successful send.
	OnAfter func(can.Frame)
	// OnDrop is called when the queue is full; its error is returned from
	// SendFrame. Nil means ErrTxOverflow.
	OnDrop func(can.Frame) error
}

func NewAsyncTx(parent context.Context, buf int, send func(can.Frame) error, hooks Hooks) *AsyncTx {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		ch:     make(chan can.Frame, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case fr, ok := <-a.ch:
			if !ok {
				return
			}
			if err := a.send(fr); err != nil {
				if a.hooks.OnError != nil {
					a.hooks.OnError(fr, err)
				}
				continue
			}
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter(fr)
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// SendFrame queues fr for transmission.
func (a *AsyncTx) SendFrame(fr can.Frame) error {
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- fr:
		return nil
	default:
	}
	if a.hooks.OnDrop != nil {
		return a.hooks.OnDrop(fr)
	}
	return ErrTxOverflow
}

// Pending returns the number of queued frames.
func (a *AsyncTx) Pending() int { return len(a.ch) }

// Close stops the worker and waits for it; queued frames are discarded.
func (a *AsyncTx) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
