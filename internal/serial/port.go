package serial

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"

	"github.com/kstaniek/go-canusb-server/internal/lawicel"
)

// Port is an open serial line.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Drivers selectable with Open.
const (
	DriverTarm  = "tarm"
	DriverBugst = "bugst"
)

// Open opens path at baud, 8N1 without flow control, with reads returning
// after readTimeout when no data arrived. An empty driver selects bugst;
// tarm rounds readTimeout up to whole deciseconds.
func Open(driver, path string, baud int, readTimeout time.Duration) (Port, error) {
	d, err := resolveDriver(driver)
	if err != nil {
		return nil, err
	}
	if d == DriverTarm {
		return openTarm(path, baud, readTimeout)
	}
	return openBugst(path, baud, readTimeout)
}

func resolveDriver(driver string) (string, error) {
	switch driver {
	case DriverBugst, "":
		return DriverBugst, nil
	case DriverTarm:
		return DriverTarm, nil
	}
	return "", fmt.Errorf("unknown serial driver %q (use %s|%s)", driver, DriverBugst, DriverTarm)
}

func openTarm(path string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{
		Name:        path,
		Baud:        baud,
		ReadTimeout: readTimeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	}
	p, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	return p, nil
}

// Opener adapts Open to lawicel.Open for the given driver.
func Opener(driver string) lawicel.Opener {
	return func(path string, baud int, readTimeout time.Duration) (io.ReadWriteCloser, error) {
		return Open(driver, path, baud, readTimeout)
	}
}
