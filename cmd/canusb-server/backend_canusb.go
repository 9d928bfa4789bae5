package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-canusb-server/internal/can"
	"github.com/kstaniek/go-canusb-server/internal/hub"
	"github.com/kstaniek/go-canusb-server/internal/lawicel"
	"github.com/kstaniek/go-canusb-server/internal/metrics"
	"github.com/kstaniek/go-canusb-server/internal/serial"
)

// adapter is the part of *lawicel.Channel the gateway drives.
type adapter interface {
	Send(can.Frame) error
	Recv() (can.Frame, error)
	Status() (lawicel.Status, error)
	SerialNumber() (lawicel.SerialNumber, error)
	Close() error
}

// openAdapter is a hook for tests (overridden in unit tests).
var openAdapter = func(ctx context.Context, cfg lawicel.Config, driver string) (adapter, error) {
	return lawicel.Open(ctx, cfg, serial.Opener(driver))
}

// initCANUSBBackend opens the adapter and launches the RX loop and the
// status poller.
func initCANUSBBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	ac, err := cfg.adapterConfig()
	if err != nil {
		return nil, func() {}, err
	}
	ac.Logger = l
	ch, err := openAdapter(ctx, ac, cfg.serialDriver)
	if err != nil {
		metrics.IncError(metrics.ErrAdapterOpen)
		return nil, func() {}, fmt.Errorf("open adapter: %w", err)
	}
	if sn, err := ch.SerialNumber(); err != nil {
		l.Warn("adapter_serial_number_error", "error", err)
	} else {
		l.Info("adapter_serial_number", "serial", sn.String())
	}
	w := serial.NewTXWriter(ctx, ch, txQueueSize)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("adapter_rx_end")
		adapterRxLoop(ctx, ch, h, l)
	}()
	if cfg.statusInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pollStatus(ctx, ch, cfg.statusInterval, l)
		}()
	}
	cleanup := func() {
		w.Close()
		_ = ch.Close()
	}
	return w.SendFrame, cleanup, nil
}

func adapterRxLoop(ctx context.Context, ch adapter, h *hub.Hub, l *slog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		fr, err := ch.Recv()
		var perr *lawicel.ParseError
		switch {
		case err == nil:
			metrics.IncAdapterRx()
			h.Broadcast(fr)
		case errors.Is(err, lawicel.ErrIndexing):
			// idle bus
		case errors.Is(err, lawicel.ErrClosed):
			return
		case errors.Is(err, lawicel.ErrBufferOverflow), errors.As(err, &perr):
			metrics.IncMalformed()
			l.Debug("adapter_malformed", "error", err)
		default:
			if ctx.Err() != nil { // shutting down
				return
			}
			metrics.IncError(metrics.ErrAdapterRead)
			markBackendDown()
			l.Error("adapter_read_error", "error", err)
			return
		}
	}
}

// pollStatus reads the adapter status flags every interval and exports them.
func pollStatus(ctx context.Context, ch adapter, interval time.Duration, l *slog.Logger) {
	t := time.NewTicker(interval)
	defer t.Stop()
	var last lawicel.Status
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		st, err := ch.Status()
		if err != nil {
			if errors.Is(err, lawicel.ErrClosed) {
				return
			}
			metrics.IncError(metrics.ErrAdapterStatus)
			l.Warn("adapter_status_error", "error", err)
			continue
		}
		metrics.SetAdapterStatus(uint8(st), statusFlags(st))
		if st != last {
			l.Info("adapter_status", "flags", st.String(), "raw", fmt.Sprintf("0x%02X", uint8(st)))
			last = st
		}
	}
}

func statusFlags(st lawicel.Status) map[string]bool {
	m := make(map[string]bool, len(lawicel.StatusFlags))
	for _, f := range lawicel.StatusFlags {
		m[f.Name] = st.Has(f.Flag)
	}
	return m
}
