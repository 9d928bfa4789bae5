package lawicel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/avast/retry-go"
)

// Opener opens the byte stream behind a session: a serial device at baud
// with the given per-read timeout, configured 8N1 without flow control.
type Opener func(path string, baud int, readTimeout time.Duration) (io.ReadWriteCloser, error)

// handshakeReadAttempts bounds the reads spent collecting one handshake
// response.
const handshakeReadAttempts = 3 * MaxFrameLen

// Handshake step names reported by HandshakeError.
const (
	StepFlush      = "flush"
	StepClose      = "close"
	StepTimestamps = "timestamps"
	StepBitrate    = "bitrate"
	StepCode       = "acceptance_code"
	StepMask       = "acceptance_mask"
	StepOpen       = "open"
)

// Open opens the transport for cfg, runs the configuration handshake and
// returns a channel with the CAN bus open. With cfg.Retries > 0 the whole
// sequence is attempted again after a failure, cfg.RetryDelay apart.
func Open(ctx context.Context, cfg Config, open Opener) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("lawicel: invalid config: %w", err)
	}
	if open == nil {
		return nil, fmt.Errorf("%w: no opener", ErrTransportOpen)
	}
	cfg = cfg.withDefaults()
	log := cfg.Logger

	var ch *Channel
	err := retry.Do(func() error {
		port, err := open(cfg.Path, cfg.Baud, cfg.ReadTimeout)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrTransportOpen, cfg.Path, err)
		}
		if err := handshake(port, cfg); err != nil {
			_ = port.Close()
			return err
		}
		ch = newChannel(port, cfg)
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(cfg.Retries+1),
		retry.Delay(cfg.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			// retry-go also calls this after the last attempt.
			if n < cfg.Retries {
				log.Warn("adapter_open_retry", "path", cfg.Path, "attempt", n+1, "error", err)
			}
		}),
	)
	if err != nil {
		return nil, err
	}
	log.Info("adapter_open", "path", cfg.Path, "baud", cfg.Baud, "bitrate", cfg.Bitrate.String(), "timestamps", cfg.Timestamps)
	return ch, nil
}

type handshakeStep struct {
	name string
	cmd  []byte
	// resp is the expected response; nil accepts any single byte.
	resp []byte
}

func handshakeSteps(cfg Config) []handshakeStep {
	steps := []handshakeStep{
		{name: StepFlush, cmd: []byte{CR, CR, CR}, resp: []byte{CR, CR, CR}},
		{name: StepClose, cmd: []byte{'C', CR}},
	}
	ts := []byte("Z0\r")
	if cfg.Timestamps {
		ts = []byte("Z1\r")
	}
	steps = append(steps,
		handshakeStep{name: StepTimestamps, cmd: ts},
		handshakeStep{name: StepBitrate, cmd: cfg.Bitrate.Command(), resp: []byte{CR}},
	)
	if !cfg.acceptAll() {
		steps = append(steps,
			handshakeStep{name: StepCode, cmd: []byte(fmt.Sprintf("M%08X\r", uint32(cfg.Code))), resp: []byte{CR}},
			handshakeStep{name: StepMask, cmd: []byte(fmt.Sprintf("m%08X\r", uint32(cfg.Mask))), resp: []byte{CR}},
		)
	}
	return append(steps, handshakeStep{name: StepOpen, cmd: []byte{'O', CR}, resp: []byte{CR}})
}

// handshake runs the configuration steps in order and stops at the first
// failure.
func handshake(rw io.ReadWriter, cfg Config) error {
	for _, st := range handshakeSteps(cfg) {
		if err := runStep(rw, st); err != nil {
			cfg.Logger.Debug("handshake_step", "step", st.name, "error", err)
			return &HandshakeError{Step: st.name, Err: err}
		}
		cfg.Logger.Debug("handshake_step", "step", st.name, "ok", true)
	}
	return nil
}

func runStep(rw io.ReadWriter, st handshakeStep) error {
	n, err := rw.Write(st.cmd)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if n != len(st.cmd) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrDataLoss, n, len(st.cmd))
	}
	want := len(st.resp)
	if want == 0 {
		want = 1
	}
	got, err := readExact(rw, want, handshakeReadAttempts)
	if err != nil {
		return err
	}
	if st.resp != nil && string(got) != string(st.resp) {
		return fmt.Errorf("%w: %q", ErrIncorrectResponse, got)
	}
	return nil
}

// readExact collects n bytes using at most attempts reads.
func readExact(r io.Reader, n, attempts int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for i := 0; i < attempts && got < n; i++ {
		m, err := r.Read(buf[got:])
		got += m
		if err != nil && !isTransient(err) {
			return buf[:got], fmt.Errorf("%w: %v", ErrTransport, err)
		}
	}
	if got < n {
		return buf[:got], fmt.Errorf("%w: got %d of %d bytes", ErrIncorrectResponse, got, n)
	}
	return buf, nil
}

// isTransient reports read errors that only mean "nothing yet": timeouts
// and end-of-data from a port opened with a read timeout.
func isTransient(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// discardLogger is used by channels built outside Open.
var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
