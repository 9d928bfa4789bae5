// Package transport holds the seams between the gateway's byte streams and
// its CAN backends: stream codecs used by the TCP server, and frame sinks fed
// through AsyncTx by the adapter, SocketCAN and MQTT paths.
package transport

import (
	"io"

	"github.com/kstaniek/go-canusb-server/internal/can"
	"github.com/kstaniek/go-canusb-server/internal/cnl"
)

// FrameDecoder reads the next client frame from a TCP stream.
type FrameDecoder interface {
	Decode(r io.Reader) (can.Frame, error)
}

// MultiFrameDecoder drains up to max buffered frames in one call; onFrame
// runs for each, in stream order.
type MultiFrameDecoder interface {
	DecodeN(r io.Reader, max int, onFrame func(can.Frame)) (int, error)
}

// FrameBatchEncoder writes a batch of bus frames to a client. EncodeTo must
// issue a single Write.
type FrameBatchEncoder interface {
	Encode([]can.Frame) []byte
	EncodeTo(w io.Writer, frames []can.Frame) (int, error)
}

// FrameSink queues a frame for transmission on the bus. Implementations
// return an error wrapping ErrTxOverflow when their queue is full.
type FrameSink interface {
	SendFrame(can.Frame) error
}

// Codec is the stream protocol served to TCP clients.
type Codec interface {
	FrameDecoder
	MultiFrameDecoder
	FrameBatchEncoder
}

var (
	_ Codec     = (*cnl.Codec)(nil)
	_ FrameSink = (*AsyncTx)(nil)
)
