package monitoring

import (
	"strconv"
	"time"

	"rolechat/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Tokens
	tokensIssued  *prometheus.CounterVec
	tokensRefused *prometheus.CounterVec

	// Role transitions
	roleSteps *prometheus.CounterVec

	// Realtime
	realtimeConnections prometheus.Gauge
	realtimeMessages    *prometheus.CounterVec

	// HTTP
	httpRequestDuration *prometheus.HistogramVec
}

var _ ports.MetricsRecorder = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the collectors with reg. A nil reg uses
// the default registry.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		tokensIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rolechat_tokens_issued_total",
			Help: "Total number of realtime credentials issued",
		}, []string{"is_mod"}),

		tokensRefused: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rolechat_tokens_refused_total",
			Help: "Token requests that did not yield a credential",
		}, []string{"reason"}),

		roleSteps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rolechat_role_steps_total",
			Help: "Role transition steps by outcome",
		}, []string{"workflow", "step", "status"}),

		realtimeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rolechat_realtime_connections",
			Help: "Open realtime connections",
		}),

		realtimeMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rolechat_realtime_messages_total",
			Help: "Messages published through the realtime gateway",
		}, []string{"name"}),

		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rolechat_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route", "status"}),
	}
}

func (p *PrometheusCollector) RecordTokenIssued(isMod bool) {
	p.tokensIssued.WithLabelValues(strconv.FormatBool(isMod)).Inc()
}

func (p *PrometheusCollector) RecordTokenRefused(reason string) {
	p.tokensRefused.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordRoleStep(workflow, step string, ok bool) {
	status := "success"
	if !ok {
		status = "failure"
	}
	p.roleSteps.WithLabelValues(workflow, step, status).Inc()
}

func (p *PrometheusCollector) RecordRealtimeConnection(delta int) {
	p.realtimeConnections.Add(float64(delta))
}

func (p *PrometheusCollector) RecordRealtimeMessage(name string) {
	p.realtimeMessages.WithLabelValues(name).Inc()
}

func (p *PrometheusCollector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	p.httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}
