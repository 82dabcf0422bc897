package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"net/http"
	"sync"
)

const (
	RequestOutcomeSuccess     = "success"
	RequestOutcomeRateLimited = "rate_limited"
	RequestOutcomeError       = "error"
	RequestOutcomeSkipped     = "skipped"
)

var (
	ErrorsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_errors_total",
			Help: "Total number of occurred errors.",
		},
		[]string{"type"},
	)
	UpstreamRequestsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_upstream_requests_total",
			Help: "Freelancehunt project listing requests by outcome.",
		},
		[]string{"outcome"},
	)
	RateLimitRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifier_rate_limit_remaining",
			Help: "Last known remaining Freelancehunt requests in the current window, -1 if unknown.",
		},
	)
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notifier_cycle_duration_seconds",
			Help:    "Duration of each polling cycle in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)
	SleepDuration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifier_sleep_seconds",
			Help: "Sleep chosen before the latest polling cycle.",
		},
	)
	DeliveredProjectsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_projects_delivered_total",
			Help: "Projects handed to the chat transport by result.",
		},
		[]string{"result"},
	)
	FilteredProjectsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_projects_filtered_total",
			Help: "Projects dropped by subscriber filters or status.",
		},
	)
	ActiveSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifier_active_subscribers",
			Help: "Number of active subscribers at the start of the latest cycle.",
		},
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ErrorsCounter)
		prometheus.MustRegister(UpstreamRequestsCounter)
		prometheus.MustRegister(RateLimitRemaining)
		prometheus.MustRegister(CycleDuration)
		prometheus.MustRegister(SleepDuration)
		prometheus.MustRegister(DeliveredProjectsCounter)
		prometheus.MustRegister(FilteredProjectsCounter)
		prometheus.MustRegister(ActiveSubscribers)
	})
}

func StartMetricsServer(address string) {

	Register()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Infof("metrics server listening on %v", address)
		if err := http.ListenAndServe(address, mux); err != nil {
			log.Errorf("metrics server stopped: %v", err)
		}
	}()
}
