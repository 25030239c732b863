package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"odin-busd/internal/wire"
)

// Registry wraps the Prometheus collectors busd exposes.
type Registry struct {
	RegisteredClients prometheus.Gauge
	RoutedFrames      *prometheus.CounterVec
	AcksEmitted       *prometheus.CounterVec
	Dropped           prometheus.Counter
	AcceptErrors      prometheus.Counter
}

// NewRegistry creates the Prometheus collectors.
func NewRegistry() *Registry {
	return &Registry{
		RegisteredClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "busd_registered_clients",
			Help: "Number of clients currently registered with the broker.",
		}),
		RoutedFrames: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "busd_routed_frames_total",
			Help: "Total number of frames routed, labeled by kind (message, broadcast, publish).",
		}, []string{"kind"}),
		AcksEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "busd_acks_emitted_total",
			Help: "Total number of QoS=Processed acknowledgements emitted, labeled by status.",
		}, []string{"status"}),
		Dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "busd_dropped_frames_total",
			Help: "Total number of frames that could not be enqueued because the recipient had already disconnected.",
		}),
		AcceptErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "busd_accept_errors_total",
			Help: "Total number of listener accept errors.",
		}),
	}
}

// Handler returns an HTTP handler exposing Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRouted increments the routed-frame counter for kind.
func (r *Registry) ObserveRouted(kind wire.FrameKind) {
	r.RoutedFrames.WithLabelValues(kind.String()).Inc()
}

// ObserveDropped increments the dropped-frame counter.
func (r *Registry) ObserveDropped() {
	r.Dropped.Inc()
}

// ObserveRegister increments the registered-clients gauge.
func (r *Registry) ObserveRegister() {
	r.RegisteredClients.Inc()
}

// ObserveUnregister decrements the registered-clients gauge.
func (r *Registry) ObserveUnregister() {
	r.RegisteredClients.Dec()
}

// StatusName maps a wire status byte to the ack-status label used on
// AcksEmitted.
func StatusName(status byte) string {
	switch status {
	case wire.RespOK:
		return "ok"
	case wire.ErrNotSupported:
		return "not_supported"
	case wire.ErrData:
		return "data"
	case wire.ErrNotRegistered:
		return "not_registered"
	case wire.ErrBusy:
		return "busy"
	default:
		return "unknown"
	}
}
