package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/kstaniek/go-canusb-server/internal/can"
	"github.com/kstaniek/go-canusb-server/internal/cnl"
	"github.com/kstaniek/go-canusb-server/internal/hub"
	"github.com/kstaniek/go-canusb-server/internal/metrics"
	"github.com/kstaniek/go-canusb-server/internal/mqttpub"
	"github.com/kstaniek/go-canusb-server/internal/server"
)

func main() { os.Exit(run()) }

func run() int {
	cfg, showVersion, err := parseConfig(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if showVersion {
		fmt.Printf("canusb-server %s (commit %s, built %s)\n", version, commit, date)
		return 0
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	h := initHub(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	sendFunc, cleanup, berr := initBackend(ctx, cfg, h, l, &wg)
	if berr != nil {
		l.Error("backend_init_error", "error", berr)
		return 1
	}

	if cfg.mqttURL != "" {
		if pub := startMQTT(ctx, cfg, h, sendFunc, l); pub != nil {
			defer pub.Close()
		}
	}

	srv := server.NewServer(
		server.WithHub(h),
		server.WithCodec(&cnl.Codec{}),
		server.WithSend(sendFunc),
		server.WithLogger(l),
		server.WithMaxClients(cfg.maxClients),
		server.WithReadOnly(cfg.readOnly),
		server.WithHandshakeTimeout(cfg.handshakeTO),
		server.WithReadDeadline(cfg.clientReadTO),
	)
	srv.SetListenAddr(cfg.listenAddr)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("tcp_server_error", "error", err)
			cancel()
		}
	}()

	if cfg.mdnsEnable {
		go advertise(ctx, cfg, srv, l)
	}

	// Ready when the listener is bound, the backend is alive and we are not
	// shutting down.
	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil && !backendDown.Load()
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-backendFailed:
		l.Error("backend_failed_shutdown")
	case <-ctx.Done():
	}
	cancel()
	cleanup()
	wg.Wait()
	if backendDown.Load() {
		return 1
	}
	return 0
}

// startMQTT connects the publisher and registers it as a hub tap. Failures
// are logged and the gateway runs without MQTT.
func startMQTT(ctx context.Context, cfg *appConfig, h *hub.Hub, send func(can.Frame) error, l *slog.Logger) *mqttpub.Publisher {
	client, prefix, err := mqttpub.Dial(ctx, cfg.mqttURL)
	if err != nil {
		l.Warn("mqtt_start_failed", "error", err)
		return nil
	}
	if cfg.mqttPrefix != "" {
		prefix = cfg.mqttPrefix
	}
	pub := mqttpub.New(ctx, client, prefix, 0)
	h.AddTap(pub.Tap)
	if cfg.mqttTx {
		if err := pub.Inject(send); err != nil {
			l.Warn("mqtt_subscribe_failed", "topic", pub.TxTopic(), "error", err)
		}
	}
	l.Info("mqtt_started", "prefix", prefix, "tx", cfg.mqttTx)
	return pub
}

// advertise starts mDNS once the listener is bound.
func advertise(ctx context.Context, cfg *appConfig, srv *server.Server, l *slog.Logger) {
	select {
	case <-srv.Ready():
	case <-ctx.Done():
		return
	}
	var port int
	if _, p, err := net.SplitHostPort(srv.Addr()); err == nil {
		port, _ = strconv.Atoi(p)
	}
	cleanupMDNS, err := startMDNS(ctx, cfg, port)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
		return
	}
	l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", port)
	go func() { <-ctx.Done(); cleanupMDNS() }()
}
