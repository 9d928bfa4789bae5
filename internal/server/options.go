package server

import (
	"log/slog"
	"time"

	"github.com/kstaniek/go-canusb-server/internal/can"
	"github.com/kstaniek/go-canusb-server/internal/hub"
	"github.com/kstaniek/go-canusb-server/internal/transport"
)

// Option configures a Server.
type Option func(*Server)

func WithListenAddr(a string) Option            { return func(s *Server) { s.addr = a } }
func WithHub(hb *hub.Hub) Option                { return func(s *Server) { s.Hub = hb } }
func WithCodec(c transport.FrameDecoder) Option { return func(s *Server) { s.Codec = c } }
func WithSend(send SendFunc) Option             { return func(s *Server) { s.Send = send } }

// WithFrameFilter drops client frames for which fn returns false before they
// reach the backend.
func WithFrameFilter(fn func(*can.Frame) bool) Option {
	return func(s *Server) { s.frameFilter = fn }
}

// WithReadOnly makes every client a listener: frames they send are decoded
// and counted but never transmitted on the bus.
func WithReadOnly(ro bool) Option { return func(s *Server) { s.readOnly = ro } }

func WithFlushInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithReadDeadline(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.readDeadline = d
		}
	}
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

func WithMaxClients(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxClients = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
