package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kstaniek/go-canusb-server/internal/logging"
)

// Prometheus series
var (
	AdapterRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adapter_rx_frames_total",
		Help: "Total CAN frames received from the CANUSB adapter.",
	})
	AdapterTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adapter_tx_frames_total",
		Help: "Total CAN frames acknowledged by the CANUSB adapter.",
	})
	AdapterSendRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adapter_send_rejected_total",
		Help: "Total transmit commands the adapter answered with BEL.",
	})
	AdapterStatusFlag = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "adapter_status_flag",
		Help: "Adapter status flags from the last F poll (1 = set).",
	}, []string{"flag"})
	SocketCANRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_rx_frames_total",
		Help: "Total CAN frames read from the SocketCAN interface.",
	})
	SocketCANTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_tx_frames_total",
		Help: "Total CAN frames written to the SocketCAN interface.",
	})
	TCPRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_rx_frames_total",
		Help: "Total CAN frames received from TCP clients.",
	})
	TCPTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_tx_frames_total",
		Help: "Total CAN frames sent to TCP clients.",
	})
	MQTTPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_published_total",
		Help: "Total CAN frames published to the MQTT broker.",
	})
	HubDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_frames_total",
		Help: "Total CAN frames dropped by hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total clients disconnected due to backpressure kick policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_rejected_clients_total",
		Help: "Total client connection attempts rejected (max-clients).",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of connected TCP clients.",
	})
	HubQueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_max",
		Help: "Max queued frames among clients at the last broadcast.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total undecodable messages from the adapter or TCP clients.",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label values (bounded cardinality).
const (
	ErrTCPRead         = "tcp_read"
	ErrTCPWrite        = "tcp_write"
	ErrHandshake       = "handshake"
	ErrAdapterOpen     = "adapter_open"
	ErrAdapterRead     = "adapter_read"
	ErrAdapterWrite    = "adapter_write"
	ErrAdapterOverflow = "adapter_tx_overflow"
	ErrAdapterStatus   = "adapter_status"
	ErrSocketCANRead   = "socketcan_read"
	ErrSocketCANWrite  = "socketcan_write"
	ErrSocketCANOver   = "socketcan_tx_overflow"
	ErrMQTTPublish     = "mqtt_publish"
)

var errorLabels = []string{
	ErrTCPRead, ErrTCPWrite, ErrHandshake,
	ErrAdapterOpen, ErrAdapterRead, ErrAdapterWrite, ErrAdapterOverflow, ErrAdapterStatus,
	ErrSocketCANRead, ErrSocketCANWrite, ErrSocketCANOver,
	ErrMQTTPublish,
}

// StartHTTP serves /metrics and /ready on addr in the background.
func StartHTTP(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: Handler()}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Handler returns the mux behind StartHTTP.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	return mux
}

// Local mirrors of the counters so the periodic log line needs no scrape.
var (
	localAdapterRx   atomic.Uint64
	localAdapterTx   atomic.Uint64
	localRejected    atomic.Uint64
	localStatus      atomic.Uint64
	localSocketCANRx atomic.Uint64
	localSocketCANTx atomic.Uint64
	localTCPRx       atomic.Uint64
	localTCPTx       atomic.Uint64
	localMQTT        atomic.Uint64
	localHubDrop     atomic.Uint64
	localHubKick     atomic.Uint64
	localHubReject   atomic.Uint64
	localHubClients  atomic.Uint64
	localErrors      atomic.Uint64
	localMalformed   atomic.Uint64
)

// Snapshot is a point-in-time copy of the local counters.
type Snapshot struct {
	AdapterRx     uint64
	AdapterTx     uint64
	SendRejected  uint64
	AdapterStatus uint64 // raw status byte of the last poll
	SocketCANRx   uint64
	SocketCANTx   uint64
	TCPRx         uint64
	TCPTx         uint64
	MQTTPublished uint64
	HubDrops      uint64
	HubKicks      uint64
	HubRejects    uint64
	HubClients    uint64
	Errors        uint64 // sum across error labels
	Malformed     uint64
}

func Snap() Snapshot {
	return Snapshot{
		AdapterRx:     localAdapterRx.Load(),
		AdapterTx:     localAdapterTx.Load(),
		SendRejected:  localRejected.Load(),
		AdapterStatus: localStatus.Load(),
		SocketCANRx:   localSocketCANRx.Load(),
		SocketCANTx:   localSocketCANTx.Load(),
		TCPRx:         localTCPRx.Load(),
		TCPTx:         localTCPTx.Load(),
		MQTTPublished: localMQTT.Load(),
		HubDrops:      localHubDrop.Load(),
		HubKicks:      localHubKick.Load(),
		HubRejects:    localHubReject.Load(),
		HubClients:    localHubClients.Load(),
		Errors:        localErrors.Load(),
		Malformed:     localMalformed.Load(),
	}
}

func IncAdapterRx() {
	AdapterRxFrames.Inc()
	localAdapterRx.Add(1)
}

func IncAdapterTx() {
	AdapterTxFrames.Inc()
	localAdapterTx.Add(1)
}

func IncSendRejected() {
	AdapterSendRejected.Inc()
	localRejected.Add(1)
}

// SetAdapterStatus exports each named flag as 0/1 and keeps the raw byte.
func SetAdapterStatus(raw uint8, flags map[string]bool) {
	for name, set := range flags {
		v := 0.0
		if set {
			v = 1
		}
		AdapterStatusFlag.WithLabelValues(name).Set(v)
	}
	localStatus.Store(uint64(raw))
}

func IncSocketCANRx() {
	SocketCANRxFrames.Inc()
	localSocketCANRx.Add(1)
}

func IncSocketCANTx() {
	SocketCANTxFrames.Inc()
	localSocketCANTx.Add(1)
}

func IncTCPRx() {
	TCPRxFrames.Inc()
	localTCPRx.Add(1)
}

func AddTCPTx(n int) {
	TCPTxFrames.Add(float64(n))
	localTCPTx.Add(uint64(n))
}

func IncMQTTPublished() {
	MQTTPublished.Inc()
	localMQTT.Add(1)
}

func IncHubDrop() {
	HubDroppedFrames.Inc()
	localHubDrop.Add(1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	localHubKick.Add(1)
}

func IncHubReject() {
	HubRejectedClients.Inc()
	localHubReject.Add(1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	localHubClients.Store(uint64(n))
}

func SetQueueDepthMax(n int) { HubQueueDepthMax.Set(float64(n)) }

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	localErrors.Add(1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	localMalformed.Add(1)
}

// InitBuildInfo sets build_info and pre-creates the error series; call once.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range errorLabels {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers the check behind /ready.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady reports the registered readiness; true until one is registered.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
