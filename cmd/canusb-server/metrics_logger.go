package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-canusb-server/internal/metrics"
)

// startMetricsLogger logs frame counters as deltas over each interval, plus
// the current adapter status and client count.
func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		prev := metrics.Snap()
		for {
			select {
			case <-t.C:
				cur := metrics.Snap()
				l.Info("metrics_snapshot", metricsDelta(prev, cur)...)
				prev = cur
			case <-ctx.Done():
				return
			}
		}
	}()
}

func metricsDelta(prev, cur metrics.Snapshot) []any {
	return []any{
		"adapter_rx", cur.AdapterRx - prev.AdapterRx,
		"adapter_tx", cur.AdapterTx - prev.AdapterTx,
		"adapter_rejected", cur.SendRejected - prev.SendRejected,
		"socketcan_rx", cur.SocketCANRx - prev.SocketCANRx,
		"socketcan_tx", cur.SocketCANTx - prev.SocketCANTx,
		"tcp_rx", cur.TCPRx - prev.TCPRx,
		"tcp_tx", cur.TCPTx - prev.TCPTx,
		"mqtt_published", cur.MQTTPublished - prev.MQTTPublished,
		"hub_drops", cur.HubDrops - prev.HubDrops,
		"malformed", cur.Malformed - prev.Malformed,
		"errors", cur.Errors - prev.Errors,
		"adapter_status", cur.AdapterStatus,
		"clients", cur.HubClients,
	}
}
