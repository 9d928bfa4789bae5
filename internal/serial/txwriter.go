package serial

import (
	"context"
	"errors"
	"fmt"

	"github.com/kstaniek/go-canusb-server/internal/can"
	"github.com/kstaniek/go-canusb-server/internal/lawicel"
	"github.com/kstaniek/go-canusb-server/internal/logging"
	"github.com/kstaniek/go-canusb-server/internal/metrics"
	"github.com/kstaniek/go-canusb-server/internal/transport"
)

// FrameSender transmits one frame and reports the adapter's verdict.
// Implemented by *lawicel.Channel.
type FrameSender interface {
	Send(can.Frame) error
}

// TXWriter queues frames for the adapter and transmits them from one
// goroutine, so a slow echo never blocks TCP readers.
type TXWriter struct{ base *transport.AsyncTx }

var _ transport.FrameSink = (*TXWriter)(nil)

// NewTXWriter creates a TXWriter with a queue of buf frames.
func NewTXWriter(parent context.Context, ch FrameSender, buf int) *TXWriter {
	hooks := transport.Hooks{
		OnError: func(fr can.Frame, err error) {
			if errors.Is(err, lawicel.ErrUnsuccessfulSend) {
				metrics.IncSendRejected()
				logging.L().Debug("adapter_send_rejected", "frame", fr.String())
				return
			}
			metrics.IncError(metrics.ErrAdapterWrite)
			logging.L().Error("adapter_write_error", "frame", fr.String(), "error", err)
		},
		OnAfter: func(can.Frame) { metrics.IncAdapterTx() },
		OnDrop: func(fr can.Frame) error {
			metrics.IncError(metrics.ErrAdapterOverflow)
			return fmt.Errorf("adapter: %w", transport.ErrTxOverflow)
		},
	}
	return &TXWriter{base: transport.NewAsyncTx(parent, buf, ch.Send, hooks)}
}

// SendFrame queues a frame; a full queue returns an error wrapping
// transport.ErrTxOverflow.
func (w *TXWriter) SendFrame(fr can.Frame) error { return w.base.SendFrame(fr) }

// Close stops the writer goroutine.
func (w *TXWriter) Close() { w.base.Close() }
