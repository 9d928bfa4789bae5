package lawicel

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-canusb-server/internal/can"
)

// recvReadAttempts bounds the reads of one Recv call.
const recvReadAttempts = 3 * MaxFrameLen

// Channel is an open adapter session. Methods are safe for concurrent use;
// the transport carries one request/response exchange at a time.
type Channel struct {
	mu         sync.Mutex
	port       io.ReadWriteCloser
	log        *slog.Logger
	timestamps bool

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newChannel(port io.ReadWriteCloser, cfg Config) *Channel {
	return &Channel{port: port, log: cfg.Logger, timestamps: cfg.Timestamps}
}

// NewChannel wraps a port whose adapter is already configured and open.
func NewChannel(port io.ReadWriteCloser, timestamps bool, log *slog.Logger) *Channel {
	if log == nil {
		log = discardLogger
	}
	return &Channel{port: port, log: log, timestamps: timestamps}
}

// Timestamps reports whether received frames carry adapter timestamps.
func (c *Channel) Timestamps() bool { return c.timestamps }

// Send transmits f and waits for the adapter's verdict: "z\r" (standard) or
// "Z\r" (extended) acknowledges, BEL rejects. The wait is not bounded by a
// read budget; it ends on a terminator, a fatal transport error or Close.
func (c *Channel) Send(f can.Frame) error {
	msg, err := Encode(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	n, err := c.port.Write(msg)
	if err != nil || n != len(msg) {
		return fmt.Errorf("%w: wrote %d of %d bytes: %v", ErrDataLoss, n, len(msg), err)
	}

	var buf [MaxFrameLen]byte
	got, err := c.readResponse(buf[:], 0)
	if err != nil {
		return err
	}
	resp := buf[:got]
	switch {
	case got == 1 && resp[0] == BEL:
		return ErrUnsuccessfulSend
	case got == 2 && resp[1] == CR && resp[0] == echoByte(f.Format()):
		return nil
	}
	return fmt.Errorf("%w: %q", ErrIncorrectResponse, resp)
}

func echoByte(f can.Format) byte {
	if f == can.Extended {
		return 'Z'
	}
	return 'z'
}

// Recv reads one message and decodes it. ErrIndexing means nothing
// terminated arrived within the read budget (an idle bus); ErrBufferOverflow
// means 31 bytes arrived without a terminator. Undecodable messages return
// a *ParseError.
func (c *Channel) Recv() (can.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return can.Frame{}, ErrClosed
	}
	var buf [MaxFrameLen]byte
	n, err := c.readResponse(buf[:], recvReadAttempts)
	if err != nil {
		return can.Frame{}, err
	}
	return Decode(buf[:n])
}

// Status queries the adapter status flags (F).
func (c *Channel) Status() (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.command('F'); err != nil {
		return 0, err
	}
	var buf [4]byte
	n, err := c.readResponse(buf[:], recvReadAttempts)
	switch err {
	case nil, ErrBufferOverflow, ErrIndexing:
	default:
		return 0, err
	}
	s, ok := parseStatus(buf[:n])
	if !ok {
		return 0, fmt.Errorf("%w: status %q", ErrIncorrectResponse, buf[:n])
	}
	return s, nil
}

// SerialNumber queries the adapter serial number (N).
func (c *Channel) SerialNumber() (SerialNumber, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.command('N'); err != nil {
		return SerialNumber{}, err
	}
	var buf [6]byte
	n, err := c.readResponse(buf[:], recvReadAttempts)
	switch err {
	case nil:
	case ErrBufferOverflow, ErrIndexing:
		return SerialNumber{}, parseErr(ErrInvalidSize, n, buf[:n])
	default:
		return SerialNumber{}, err
	}
	return ParseSerialNumber(buf[:n])
}

// Close closes the CAN bus (C) and releases the transport. Only the first
// call has an effect; the close command's outcome is ignored and the
// transport's close error is returned.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		// Unblocks a Send waiting for its echo.
		c.closed.Store(true)
		c.mu.Lock()
		defer c.mu.Unlock()
		_, _ = c.port.Write([]byte{'C', CR})
		var b [1]byte
		_, _ = c.port.Read(b[:])
		c.closeErr = c.port.Close()
		c.log.Info("adapter_close", "error", c.closeErr)
	})
	return c.closeErr
}

// command writes a single letter command; the caller holds mu.
func (c *Channel) command(letter byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	cmd := []byte{letter, CR}
	n, err := c.port.Write(cmd)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if n != len(cmd) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrDataLoss, n, len(cmd))
	}
	return nil
}

// readResponse reads byte-wise into buf until CR or BEL and returns the
// number of bytes stored, terminator included. attempts <= 0 reads until a
// terminator, a fatal error or Close. Bytes past a full buffer are counted
// but dropped, and the call ends with ErrBufferOverflow once the buffer is
// full for a bounded read.
func (c *Channel) readResponse(buf []byte, attempts int) (int, error) {
	var b [1]byte
	n := 0
	for i := 0; attempts <= 0 || i < attempts; i++ {
		if attempts <= 0 && c.closed.Load() {
			return n, ErrClosed
		}
		m, err := c.port.Read(b[:])
		if m == 1 {
			if n >= len(buf) {
				if attempts > 0 {
					return n, ErrBufferOverflow
				}
			} else {
				buf[n] = b[0]
				n++
			}
			if b[0] == CR || b[0] == BEL {
				return n, nil
			}
			continue
		}
		if err != nil && !isTransient(err) {
			return n, fmt.Errorf("%w: %v", ErrTransport, err)
		}
	}
	if n == len(buf) {
		return n, ErrBufferOverflow
	}
	return n, ErrIndexing
}
