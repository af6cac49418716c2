// Package metrics provides Prometheus metrics for the strict-backup server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yuya-takeyama/strict-backup/pkg/shadow"
)

var (
	callsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strict_backup_calls_total",
			Help: "Total number of calls served to peers",
		},
		[]string{"object", "method", "status"},
	)

	patchedRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strict_backup_patched_records_total",
			Help: "Total number of diff records applied",
		},
		[]string{"op", "status"},
	)

	patchedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "strict_backup_patched_bytes_total",
			Help: "Total bytes written while applying diff records",
		},
	)

	connectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "strict_backup_connections_open",
			Help: "Number of connected peers",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveCall records a served call. It has the shape of a
// connection.Observer.
func ObserveCall(object, method string, err error) {
	callsTotal.WithLabelValues(object, method, status(err)).Inc()
}

// RecordEvent records one applied diff record.
func RecordEvent(ev shadow.Event) {
	st := "success"
	if ev.Failed() {
		st = "error"
	}
	patchedRecordsTotal.WithLabelValues(string(ev.Op), st).Inc()
	patchedBytes.Add(float64(ev.Bytes))
}

// ConnectionOpened counts a peer in; the returned func counts it out.
func ConnectionOpened() func() {
	connectionsOpen.Inc()
	return connectionsOpen.Dec
}
