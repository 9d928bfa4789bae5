package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kstaniek/go-canusb-server/internal/can"
)

var errSendFail = errors.New("send fail")

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestAsyncTxDeliversInOrder(t *testing.T) {
	got := make(chan uint32, 8)
	var after atomic.Int64
	ax := NewAsyncTx(context.Background(), 8, func(fr can.Frame) error {
		got <- fr.ID()
		return nil
	}, Hooks{OnAfter: func(can.Frame) { after.Add(1) }})
	defer ax.Close()

	for i := uint32(0); i < 3; i++ {
		if err := ax.SendFrame(can.NewDataFrame(0x100+i, can.Standard, nil)); err != nil {
			t.Fatalf("unexpected send error: %v", err)
		}
	}
	for i := uint32(0); i < 3; i++ {
		if id := <-got; id != 0x100+i {
			t.Fatalf("frame %d: got id 0x%X", i, id)
		}
	}
	waitFor(t, func() bool { return after.Load() == 3 })
}

func TestAsyncTxOverflowDefaultError(t *testing.T) {
	release := make(chan struct{})
	ax := NewAsyncTx(context.Background(), 1, func(can.Frame) error { <-release; return nil }, Hooks{})
	defer ax.Close()
	defer close(release)

	// first frame occupies the worker, second fills the queue
	_ = ax.SendFrame(can.NewDataFrame(1, can.Standard, nil))
	waitFor(t, func() bool { return ax.Pending() == 0 })
	if err := ax.SendFrame(can.NewDataFrame(2, can.Standard, nil)); err != nil {
		t.Fatalf("second frame should queue: %v", err)
	}
	if err := ax.SendFrame(can.NewDataFrame(3, can.Standard, nil)); !errors.Is(err, ErrTxOverflow) {
		t.Fatalf("expected ErrTxOverflow, got %v", err)
	}
}

func TestAsyncTxOnDropSeesFrame(t *testing.T) {
	release := make(chan struct{})
	var dropped atomic.Uint32
	errFull := errors.New("full")
	ax := NewAsyncTx(context.Background(), 0, func(can.Frame) error { <-release; return nil }, Hooks{
		OnDrop: func(fr can.Frame) error { dropped.Store(fr.ID()); return errFull },
	})
	defer ax.Close()
	defer close(release)

	// unbuffered: only succeeds while the worker is waiting to receive
	waitFor(t, func() bool { return ax.SendFrame(can.NewDataFrame(0x10, can.Standard, nil)) == nil })
	if err := ax.SendFrame(can.NewDataFrame(0x7EF, can.Standard, nil)); !errors.Is(err, errFull) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if dropped.Load() != 0x7EF {
		t.Fatalf("OnDrop saw id 0x%X", dropped.Load())
	}
}

func TestAsyncTxSendErrorHook(t *testing.T) {
	var failed atomic.Uint32
	ax := NewAsyncTx(context.Background(), 2, func(can.Frame) error { return errSendFail }, Hooks{
		OnError: func(fr can.Frame, err error) {
			if errors.Is(err, errSendFail) {
				failed.Store(fr.ID())
			}
		},
	})
	defer ax.Close()
	_ = ax.SendFrame(can.NewDataFrame(0x42, can.Standard, nil))
	waitFor(t, func() bool { return failed.Load() == 0x42 })
}

func TestAsyncTxSendAfterClose(t *testing.T) {
	var sent atomic.Int64
	ax := NewAsyncTx(context.Background(), 2, func(can.Frame) error { sent.Add(1); return nil }, Hooks{})
	ax.Close()
	ax.Close()
	if err := ax.SendFrame(can.NewDataFrame(1, can.Standard, nil)); !errors.Is(err, ErrAsyncTxClosed) {
		t.Fatalf("expected ErrAsyncTxClosed, got %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if sent.Load() != 0 {
		t.Fatalf("frame processed after close")
	}
}

func TestAsyncTxCloseConcurrentSend(t *testing.T) {
	for i := 0; i < 100; i++ {
		ax := NewAsyncTx(context.Background(), 1, func(can.Frame) error { return nil }, Hooks{})
		done := make(chan error, 1)
		go func() { done <- ax.SendFrame(can.Frame{}) }()
		time.Sleep(time.Millisecond)
		ax.Close()
		if err := <-done; err != nil && !errors.Is(err, ErrAsyncTxClosed) && !errors.Is(err, ErrTxOverflow) {
			t.Fatalf("iteration %d: unexpected send error %v", i, err)
		}
	}
}
