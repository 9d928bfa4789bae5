package server

import (
	"errors"

	"github.com/kstaniek/go-canusb-server/internal/metrics"
)

// Failure points of the gateway's TCP side. Errors leave the server wrapped
// as "<sentinel>: <cause>" and are classified with errors.Is.
var (
	ErrListen          = errors.New("listen")
	ErrAccept          = errors.New("accept")
	ErrHandshake       = errors.New("handshake")
	ErrConnRead        = errors.New("conn_read")
	ErrConnWrite       = errors.New("conn_write")
	ErrBackendTx       = errors.New("backend_tx") // adapter or SocketCAN refused a client frame
	ErrShutdownTimeout = errors.New("shutdown_timeout")
)

const (
	labelShutdown = "shutdown"
	labelOther    = "other"
)

// errorLabels is searched in order; listener failures share the tcp_read
// label since the series is keyed by direction.
var errorLabels = []struct {
	err   error
	label string
}{
	{ErrConnRead, metrics.ErrTCPRead},
	{ErrConnWrite, metrics.ErrTCPWrite},
	{ErrHandshake, metrics.ErrHandshake},
	{ErrBackendTx, metrics.ErrAdapterWrite},
	{ErrAccept, metrics.ErrTCPRead},
	{ErrListen, metrics.ErrTCPRead},
	{ErrShutdownTimeout, labelShutdown},
}

// mapErrToMetric returns the errors_total{where} label for err.
func mapErrToMetric(err error) string {
	for _, e := range errorLabels {
		if errors.Is(err, e.err) {
			return e.label
		}
	}
	return labelOther
}
