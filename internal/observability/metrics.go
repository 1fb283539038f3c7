package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FleetRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dashboard_fleet_refreshes_total",
		Help: "Fleet refreshes applied to the dashboard state",
	})
	ReadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_read_failures_total",
		Help: "Failed backend reads by kind (roster, location, history, stops, stats, places)",
	}, []string{"kind"})
	StaleResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_stale_responses_total",
		Help: "Responses discarded because their session or selection token no longer matched",
	}, []string{"kind"})
	PlaceWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_place_writes_total",
		Help: "Point-of-interest create requests by result",
	}, []string{"result"})
	MirrorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dashboard_mirror_errors_total",
		Help: "Errors writing the fleet mirror to redis",
	})
	MapClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dashboard_map_clients",
		Help: "Connected map surface clients",
	})
	RefreshLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dashboard_refresh_latency_seconds",
		Help:    "Latency of a full refresh by kind, from issue to completion",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)

func ObserveRefreshLatency(kind string, start time.Time) {
	RefreshLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func StartMetricsServer(port string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte("ok"))
	})
	return http.ListenAndServe(":"+port, mux)
}
