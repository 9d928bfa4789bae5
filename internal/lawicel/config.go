package lawicel

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultBaud        = 115200
	DefaultRetryDelay  = 100 * time.Millisecond
	DefaultReadTimeout = time.Millisecond
	MaxRetries         = 1000
)

// Config describes one adapter session. Zero fields take the defaults
// listed on each field when passed through Open.
type Config struct {
	Path    string  // serial device, required
	Baud    int     // serial line speed, default 115200
	Bitrate Bitrate // CAN bus speed, required

	// Acceptance registers; the defaults accept every frame.
	Code CodeRegister
	Mask MaskRegister
	// MaskSet marks Mask as explicitly configured; without it a zero Mask
	// means AcceptAllMask.
	MaskSet bool

	Timestamps bool // ask the adapter to append timestamps (Z1)

	Retries     uint          // extra open+handshake attempts after the first
	RetryDelay  time.Duration // pause between attempts, default 100ms
	ReadTimeout time.Duration // per-read transport timeout, default 1ms

	Logger *slog.Logger // default: slog.Default()
}

// Default returns a config for path and bitrate with every other field at
// its default.
func Default(path string, bitrate Bitrate) Config {
	return Config{
		Path:        path,
		Baud:        DefaultBaud,
		Bitrate:     bitrate,
		Code:        AcceptAllCode,
		Mask:        AcceptAllMask,
		MaskSet:     true,
		RetryDelay:  DefaultRetryDelay,
		ReadTimeout: DefaultReadTimeout,
	}
}

// WithFilter returns a copy of c using the register pair (code, mask).
func (c Config) WithFilter(code CodeRegister, mask MaskRegister) Config {
	c.Code, c.Mask, c.MaskSet = code, mask, true
	return c
}

func (c Config) withDefaults() Config {
	if c.Baud == 0 {
		c.Baud = DefaultBaud
	}
	if !c.MaskSet && c.Mask == 0 {
		c.Mask = AcceptAllMask
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Path == "" {
		return errors.New("path must be set")
	}
	if c.Baud < 0 {
		return fmt.Errorf("invalid baud %d", c.Baud)
	}
	if c.Bitrate.IsZero() {
		return errors.New("bitrate must be set")
	}
	if c.Retries > MaxRetries {
		return fmt.Errorf("retries %d above %d", c.Retries, MaxRetries)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("invalid retry delay %v", c.RetryDelay)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("invalid read timeout %v", c.ReadTimeout)
	}
	return nil
}

// acceptAll reports whether the registers pass every frame, in which case
// the adapter defaults are left untouched.
func (c Config) acceptAll() bool {
	return c.Code == AcceptAllCode && c.Mask == AcceptAllMask
}
