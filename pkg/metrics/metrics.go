// Package metrics counts the bridge's operational events.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder records bridge events.
type Recorder interface {
	QuerySent(ecu string)
	QueryFailed(ecu string)
	BusError(kind string)
	SessionAborted(reason string)
	SequenceGap()
	Unrecognized()
	DecodeFailed(decoder string)
	Forwarded(kind string)
	Backpressure()
	TransmitFailed(kind string)
}

type dummy struct{}

// NewDummy constructs a recorder that discards everything.
func NewDummy() Recorder {
	return &dummy{}
}

func (m *dummy) QuerySent(string)      {}
func (m *dummy) QueryFailed(string)    {}
func (m *dummy) BusError(string)       {}
func (m *dummy) SessionAborted(string) {}
func (m *dummy) SequenceGap()          {}
func (m *dummy) Unrecognized()         {}
func (m *dummy) DecodeFailed(string)   {}
func (m *dummy) Forwarded(string)      {}
func (m *dummy) Backpressure()         {}
func (m *dummy) TransmitFailed(string) {}

// Prometheus is a Recorder backed by its own registry.
type Prometheus struct {
	reg *prometheus.Registry

	queriesSent    *prometheus.CounterVec
	queriesFailed  *prometheus.CounterVec
	busErrors      *prometheus.CounterVec
	sessionAborts  *prometheus.CounterVec
	sequenceGaps   prometheus.Counter
	unrecognized   prometheus.Counter
	decodeFailures *prometheus.CounterVec
	forwarded      *prometheus.CounterVec
	backpressure   prometheus.Counter
	txFailures     *prometheus.CounterVec
}

// NewPrometheus constructs a Prometheus recorder with every metric name prefixed by namespace.
func NewPrometheus(namespace string) *Prometheus {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Prometheus{
		reg: reg,
		queriesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_sent_total",
			Help:      "Diagnostic queries transmitted",
		}, []string{"ecu"}),
		queriesFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_failed_total",
			Help:      "Diagnostic queries skipped because the transmit failed",
		}, []string{"ecu"}),
		busErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_errors_total",
			Help:      "Errors reported by the diagnostic bus controller",
		}, []string{"kind"}),
		sessionAborts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "isotp_sessions_aborted_total",
			Help:      "Incomplete transfers thrown away",
		}, []string{"reason"}),
		sequenceGaps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "isotp_sequence_gaps_total",
			Help:      "Consecutive frames with an unexpected sequence number",
		}),
		unrecognized: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unrecognized_responses_total",
			Help:      "Completed payloads from identifiers not in the ECU table",
		}),
		decodeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Responses that could not be decoded",
		}, []string{"decoder"}),
		forwarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_forwarded_total",
			Help:      "Records transmitted downstream",
		}, []string{"kind"}),
		backpressure: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_backpressure_total",
			Help:      "Producers that found the forwarding queue full",
		}),
		txFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Records dropped after the downstream transmit retries ran out",
		}, []string{"kind"}),
	}
}

func (m *Prometheus) QuerySent(ecu string)         { m.queriesSent.WithLabelValues(ecu).Inc() }
func (m *Prometheus) QueryFailed(ecu string)       { m.queriesFailed.WithLabelValues(ecu).Inc() }
func (m *Prometheus) BusError(kind string)         { m.busErrors.WithLabelValues(kind).Inc() }
func (m *Prometheus) SessionAborted(reason string) { m.sessionAborts.WithLabelValues(reason).Inc() }
func (m *Prometheus) SequenceGap()                 { m.sequenceGaps.Inc() }
func (m *Prometheus) Unrecognized()                { m.unrecognized.Inc() }
func (m *Prometheus) DecodeFailed(decoder string)  { m.decodeFailures.WithLabelValues(decoder).Inc() }
func (m *Prometheus) Forwarded(kind string)        { m.forwarded.WithLabelValues(kind).Inc() }
func (m *Prometheus) Backpressure()                { m.backpressure.Inc() }
func (m *Prometheus) TransmitFailed(kind string)   { m.txFailures.WithLabelValues(kind).Inc() }

// Registry returns the registry all metrics are registered with
func (m *Prometheus) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry on /metrics.
func (m *Prometheus) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(time.Second * 10))
	r.Use(middleware.Recoverer)
	r.Get("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}).ServeHTTP)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}
