package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-canusb-server/internal/can"
	"github.com/kstaniek/go-canusb-server/internal/hub"
	"github.com/kstaniek/go-canusb-server/internal/metrics"
	"github.com/kstaniek/go-canusb-server/internal/transport"
)

// readBatch is the most frames drained per DecodeN call.
const readBatch = 16

func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = conn.Close() }()
		mfd, multi := s.Codec.(transport.MultiFrameDecoder)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			var (
				count int
				err   error
			)
			if multi {
				count, err = mfd.DecodeN(conn, readBatch, func(fr can.Frame) { s.forward(fr, logger) })
			} else {
				var fr can.Frame
				fr, err = s.Codec.Decode(conn)
				if err == nil {
					s.forward(fr, logger)
					count = 1
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					continue
				}
				_ = s.fail(ErrConnRead, err)
				return
			}
			if count == 0 {
				time.Sleep(100 * time.Microsecond)
			}
			select {
			case <-ctxDone:
				return
			default:
			}
		}
	}()
}

// forward passes one client frame to the backend. Overflow drops are counted
// and logged at debug; other send failures are recorded as backend errors.
func (s *Server) forward(fr can.Frame, logger *slog.Logger) {
	metrics.IncTCPRx()
	if s.readOnly || (s.frameFilter != nil && !s.frameFilter(&fr)) {
		s.stats.ignored.Add(1)
		return
	}
	if s.Send == nil {
		return
	}
	err := s.Send(fr)
	if err == nil {
		return
	}
	if errors.Is(err, transport.ErrTxOverflow) {
		s.stats.backendOverflow.Add(1)
		logger.Debug("backend_overflow_drop", "can_id", fmt.Sprintf("0x%X", fr.ID()), "dlc", fr.DLC())
		return
	}
	wrap := fmt.Errorf("%w: %v", ErrBackendTx, err)
	s.setError(wrap)
	s.stats.backendTx.Add(1)
	logger.Error("backend_tx_error", "error", wrap, "can_id", fmt.Sprintf("0x%X", fr.ID()))
}
