package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	endpointUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "healthcheck_endpoint_up",
			Help: "Whether the endpoint passed its last liveness check (1) or not (0)",
		},
		[]string{"endpoint"},
	)

	probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "healthcheck_probe_duration_seconds",
			Help:    "Time taken by a single liveness probe",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	passesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthcheck_passes_total",
			Help: "Total number of monitoring passes by result",
		},
		[]string{"result"},
	)

	lastPass = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "healthcheck_last_pass_timestamp_seconds",
			Help: "Unix time of the last successfully persisted pass",
		},
	)

	messagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "healthcheck_messages_total",
			Help: "Total number of notification lines produced by reconciliation",
		},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthcheck_notifications_total",
			Help: "Notification deliveries by notifier type and result",
		},
		[]string{"notifier", "result"},
	)
)

// Register adds all collectors to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(endpointUp, probeDuration, passesTotal, lastPass, messagesTotal, notificationsTotal)
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func ObserveProbe(endpoint string, up bool, latency time.Duration) {
	v := 0.0
	if up {
		v = 1
	}
	endpointUp.WithLabelValues(endpoint).Set(v)
	probeDuration.WithLabelValues(endpoint).Observe(latency.Seconds())
}

// ForgetEndpoint drops series for an endpoint no longer monitored.
func ForgetEndpoint(endpoint string) {
	endpointUp.DeleteLabelValues(endpoint)
	probeDuration.DeleteLabelValues(endpoint)
}

func ObservePass(err error, at time.Time, messages int) {
	if err != nil {
		passesTotal.WithLabelValues("error").Inc()
		return
	}
	passesTotal.WithLabelValues("ok").Inc()
	lastPass.Set(float64(at.Unix()))
	messagesTotal.Add(float64(messages))
}

func ObserveNotification(notifier string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	notificationsTotal.WithLabelValues(notifier, result).Inc()
}
