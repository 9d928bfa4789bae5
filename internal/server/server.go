// Package server exposes a CAN backend to TCP clients speaking the
// cannelloni stream protocol. Bus frames arrive through the hub and are
// batched out to every client; client frames are forwarded to SendFunc.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-canusb-server/internal/can"
	"github.com/kstaniek/go-canusb-server/internal/cnl"
	"github.com/kstaniek/go-canusb-server/internal/hub"
	"github.com/kstaniek/go-canusb-server/internal/logging"
	"github.com/kstaniek/go-canusb-server/internal/metrics"
	"github.com/kstaniek/go-canusb-server/internal/transport"
)

// SendFunc queues a client frame for transmission by the backend (the
// adapter TX writer or a SocketCAN device).
type SendFunc func(can.Frame) error

const (
	defaultFlushInterval    = 5 * time.Millisecond
	defaultBatchSize        = 64
	defaultReadDeadline     = 60 * time.Second
	defaultHandshakeTimeout = 3 * time.Second
	defaultClientBuf        = 512
	acceptBackoff           = 200 * time.Millisecond
	keepAlivePeriod         = 30 * time.Second
)

// Server owns the TCP listener and the per-client reader/writer goroutines.
type Server struct {
	mu    sync.RWMutex
	addr  string
	Hub   *hub.Hub
	Codec transport.FrameDecoder // *cnl.Codec implements
	Send  SendFunc

	frameFilter func(*can.Frame) bool
	readOnly    bool

	flushInterval    time.Duration
	batchSize        int
	readDeadline     time.Duration
	handshakeTimeout time.Duration
	maxClients       int

	readyOnce sync.Once
	readyCh   chan struct{}
	lastErrMu sync.Mutex
	lastErr   error
	errCh     chan error
	listener  net.Listener
	clientsMu sync.Mutex
	clients   map[*hub.Client]net.Conn
	wg        sync.WaitGroup
	logger    *slog.Logger
	connSeq   atomic.Uint64
	stats     counters
}

type counters struct {
	accepted, handshakeFail, rejected   atomic.Uint64
	connected, disconnected             atomic.Uint64
	ignored, backendOverflow, backendTx atomic.Uint64
}

// Stats is a point-in-time copy of the connection and forwarding counters.
type Stats struct {
	Accepted        uint64 // TCP connections accepted
	HandshakeFail   uint64
	Rejected        uint64 // refused at the client limit
	Connected       uint64
	Disconnected    uint64
	Ignored         uint64 // client frames dropped by filter or read-only mode
	BackendOverflow uint64
	BackendErrors   uint64
}

// NewServer returns a server with defaults applied and opts on top.
func NewServer(opts ...Option) *Server {
	s := &Server{
		addr:             ":0",
		flushInterval:    defaultFlushInterval,
		batchSize:        defaultBatchSize,
		readDeadline:     defaultReadDeadline,
		handshakeTimeout: defaultHandshakeTimeout,
		readyCh:          make(chan struct{}),
		errCh:            make(chan error, 1),
		clients:          make(map[*hub.Client]net.Conn),
		logger:           logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) SetListenAddr(a string) { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// Errors delivers recorded errors without blocking; when the reader lags
// only the first pending one is kept.
func (s *Server) Errors() <-chan error { return s.errCh }

func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// Stats returns the current counters.
func (s *Server) Stats() Stats {
	c := &s.stats
	return Stats{
		Accepted:        c.accepted.Load(),
		HandshakeFail:   c.handshakeFail.Load(),
		Rejected:        c.rejected.Load(),
		Connected:       c.connected.Load(),
		Disconnected:    c.disconnected.Load(),
		Ignored:         c.ignored.Load(),
		BackendOverflow: c.backendOverflow.Load(),
		BackendErrors:   c.backendTx.Load(),
	}
}

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}

// fail records err under sentinel, counts it and returns the wrapped error.
func (s *Server) fail(sentinel, err error) error {
	wrap := fmt.Errorf("%w: %v", sentinel, err)
	metrics.IncError(mapErrToMetric(wrap))
	s.setError(wrap)
	return wrap
}

// Serve listens on the configured address and accepts clients until ctx is
// done. It returns nil on cancellation and the wrapped error when the
// listener fails.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return s.fail(ErrListen, err)
	}
	s.SetListenAddr(ln.Addr().String())
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr(), "read_only", s.readOnly, "max_clients", s.maxClients)
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) {
				time.Sleep(acceptBackoff)
				continue
			}
			return s.fail(ErrAccept, err)
		}
		s.handle(ctx, conn)
	}
}

// handle admits one accepted connection and starts its IO goroutines.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	s.stats.accepted.Add(1)
	log := s.logger.With("conn_id", s.connSeq.Add(1), "remote", conn.RemoteAddr().String())
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(keepAlivePeriod)
	}
	if err := cnl.Handshake(ctx, conn, s.handshakeTimeout); err != nil {
		s.stats.handshakeFail.Add(1)
		log.Warn("handshake_failed", "error", s.fail(ErrHandshake, err))
		_ = conn.Close()
		return
	}
	if s.full() {
		s.stats.rejected.Add(1)
		metrics.IncHubReject()
		log.Warn("client_reject_max", "max_clients", s.maxClients)
		_ = conn.Close()
		return
	}
	cl := s.register(conn)
	s.stats.connected.Add(1)
	log.Info("client_connected")
	s.startWriter(ctx.Done(), conn, cl, log)
	s.startReader(ctx.Done(), conn, cl, log)
}

func (s *Server) full() bool {
	return s.maxClients > 0 && s.Hub != nil && s.Hub.Count() >= s.maxClients
}

// register creates a hub client sized from the hub config and tracks conn
// for Shutdown.
func (s *Server) register(conn net.Conn) *hub.Client {
	size := defaultClientBuf
	if s.Hub != nil && s.Hub.OutBufSize > 0 {
		size = s.Hub.OutBufSize
	}
	cl := hub.NewClient(size)
	if s.Hub != nil {
		s.Hub.Add(cl)
	}
	s.clientsMu.Lock()
	s.clients[cl] = conn
	s.clientsMu.Unlock()
	return cl
}

func (s *Server) unregister(cl *hub.Client) {
	if s.Hub != nil {
		s.Hub.Remove(cl)
	}
	s.clientsMu.Lock()
	delete(s.clients, cl)
	s.clientsMu.Unlock()
}

// Shutdown closes the listener and every client, then waits for the IO
// goroutines or ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.clientsMu.Lock()
	conns := make(map[*hub.Client]net.Conn, len(s.clients))
	for cl, conn := range s.clients {
		conns[cl] = conn
	}
	s.clientsMu.Unlock()
	for cl, conn := range conns {
		_ = conn.Close()
		s.unregister(cl)
	}
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrShutdownTimeout, ctx.Err())
	case <-done:
	}
	st := s.Stats()
	s.logger.Info("shutdown_summary",
		"accepted", st.Accepted, "handshake_fail", st.HandshakeFail, "rejected", st.Rejected,
		"connected", st.Connected, "disconnected", st.Disconnected, "ignored", st.Ignored,
		"backend_overflow", st.BackendOverflow, "backend_errors", st.BackendErrors)
	return nil
}
