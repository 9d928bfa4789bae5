package cnl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/kstaniek/go-canusb-server/internal/can"
	"github.com/kstaniek/go-canusb-server/internal/metrics"
)

// Codec encodes/decodes cannelloni TCP frames. Stateless and safe for
// concurrent use.
//
// Wire layout per frame: 4-byte big-endian can_id carrying the SocketCAN
// EFF/RTR flags, 1 length byte (DLC; the top bit is reserved for CAN FD and
// ignored), then DLC payload bytes for data frames only.
type Codec struct{}

// ErrInvalidLength is returned when a frame length (DLC) is outside 0..8.
var ErrInvalidLength = errors.New("cannelloni: invalid length")

// ErrTruncatedFrame is returned when the reader ends mid-frame.
var ErrTruncatedFrame = errors.New("cannelloni: truncated frame")

const maxWireFrame = 4 + 1 + can.MaxDLC

// Encode packs frames into one buffer.
func (c *Codec) Encode(frames []can.Frame) []byte {
	if len(frames) == 0 {
		return nil
	}
	var buf bytes.Buffer
	buf.Grow(len(frames) * maxWireFrame)
	_, _ = c.EncodeTo(&buf, frames)
	return buf.Bytes()
}

// EncodeTo writes frames to w with a single Write and returns bytes written.
func (c *Codec) EncodeTo(w io.Writer, frames []can.Frame) (int, error) {
	out := make([]byte, 0, len(frames)*maxWireFrame)
	for _, f := range frames {
		out = appendFrame(out, f)
	}
	n, err := w.Write(out)
	if err != nil {
		return n, fmt.Errorf("cannelloni encode: %w", err)
	}
	return n, nil
}

func appendFrame(dst []byte, f can.Frame) []byte {
	dst = binary.BigEndian.AppendUint32(dst, f.CANID())
	dst = append(dst, f.DLC())
	if !f.IsRemote() {
		dst = append(dst, f.Data()...)
	}
	return dst
}

// Decode reads exactly one frame from r. It returns io.EOF at a clean frame
// boundary with no more data.
func (c *Codec) Decode(r io.Reader) (can.Frame, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:4]); err != nil {
		return can.Frame{}, err
	}
	if _, err := io.ReadFull(r, hdr[4:]); err != nil {
		if errors.Is(err, io.EOF) {
			metrics.IncMalformed()
			return can.Frame{}, fmt.Errorf("cannelloni decode len: %w", ErrTruncatedFrame)
		}
		return can.Frame{}, err
	}
	canID := binary.BigEndian.Uint32(hdr[:4])
	dlc := hdr[4] & 0x7F
	if dlc > can.MaxDLC {
		metrics.IncMalformed()
		return can.Frame{}, fmt.Errorf("cannelloni decode: %w (%d)", ErrInvalidLength, dlc)
	}
	if canID&can.CAN_RTR_FLAG != 0 {
		return can.FromCANID(canID, dlc, nil), nil
	}
	var data [can.MaxDLC]byte
	if _, err := io.ReadFull(r, data[:dlc]); err != nil {
		metrics.IncMalformed()
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return can.Frame{}, fmt.Errorf("cannelloni decode payload: %w", ErrTruncatedFrame)
		}
		return can.Frame{}, fmt.Errorf("cannelloni decode payload: %w", err)
	}
	return can.FromCANID(canID, dlc, data[:dlc]), nil
}

// DecodeN decodes up to max frames (max <= 0: until error) calling onFrame
// for each. It returns the count and the terminal error, io.EOF included.
func (c *Codec) DecodeN(r io.Reader, max int, onFrame func(can.Frame)) (int, error) {
	var n int
	for max <= 0 || n < max {
		fr, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		onFrame(fr)
		n++
	}
	return n, nil
}
