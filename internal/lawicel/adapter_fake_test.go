package lawicel

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"time"
)

// fakeAdapter emulates a CANUSB on the far end of the serial line. Each
// CR-terminated command written is answered through respond; reads return
// queued response bytes and (0, nil) like a port hitting its read timeout.
type fakeAdapter struct {
	mu      sync.Mutex
	written bytes.Buffer
	pending []byte
	rx      []byte

	respond    func(cmd string) []byte
	readErr    error
	shortWrite bool
	closes     int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{respond: adapterReply}
}

// adapterReply is how a healthy adapter answers the commands used here.
func adapterReply(cmd string) []byte {
	switch {
	case cmd == "F":
		return []byte("F00\r")
	case cmd == "N":
		return []byte("NA1B2\r")
	case strings.HasPrefix(cmd, "t"), strings.HasPrefix(cmd, "r"):
		return []byte("z\r")
	case strings.HasPrefix(cmd, "T"), strings.HasPrefix(cmd, "R"):
		return []byte("Z\r")
	}
	return []byte{CR}
}

func (f *fakeAdapter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written.Write(p)
	if f.shortWrite {
		return len(p) - 1, nil
	}
	for _, b := range p {
		if b != CR {
			f.pending = append(f.pending, b)
			continue
		}
		cmd := string(f.pending)
		f.pending = f.pending[:0]
		if f.respond != nil {
			f.rx = append(f.rx, f.respond(cmd)...)
		}
	}
	return len(p), nil
}

func (f *fakeAdapter) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.rx) == 0 {
		return 0, nil
	}
	n := copy(p, f.rx)
	f.rx = f.rx[n:]
	return n, nil
}

func (f *fakeAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

// queue makes b available to the host as if the adapter sent it unprompted.
func (f *fakeAdapter) queue(b string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rx = append(f.rx, b...)
}

func (f *fakeAdapter) sent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

func (f *fakeAdapter) resetSent() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written.Reset()
}

func (f *fakeAdapter) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func openerFor(ports ...*fakeAdapter) (Opener, *int) {
	calls := 0
	return func(path string, baud int, timeout time.Duration) (io.ReadWriteCloser, error) {
		p := ports[calls%len(ports)]
		calls++
		return p, nil
	}, &calls
}
