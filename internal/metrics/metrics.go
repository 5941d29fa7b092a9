// Package metrics provides counters, Prometheus collectors, and HTTP
// handlers for exporting slipway runtime metrics.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Internal state mirrored alongside the Prometheus collectors so the JSON
// snapshot endpoint does not need to scrape the registry.
var (
	deploys       int64
	deploysFailed int64
	rollbacks     int64
	cleanupFailed int64
	buildsOK      int64
	buildsFailed  int64
	lastDeploy    int64
)

var (
	promDeploys = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "slipway_deploys_total",
			Help: "Total successful deploys",
		},
	)
	promDeploysFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "slipway_deploys_failed_total",
			Help: "Total failed deploy attempts",
		},
	)
	promRollbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "slipway_rollbacks_total",
			Help: "Total rollbacks to the previous container",
		},
	)
	promCleanup = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "slipway_cleanup_failed_total",
			Help: "Total failed cleanup operations (old container or image removal)",
		},
	)
	promBuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slipway_builds_total",
			Help: "Total image build attempts",
		},
		[]string{"status"},
	)
	promBuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slipway_build_duration_seconds",
			Help:    "Duration of image builds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)
	promDeployDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slipway_deploy_duration_seconds",
			Help:    "Duration of full deploy passes (build, replace, verify)",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)
	promLastDeploy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "slipway_last_deploy_timestamp_seconds",
			Help: "Unix timestamp of the last successful deploy",
		},
	)
)

func init() {
	prometheus.MustRegister(
		promDeploys,
		promDeploysFailed,
		promRollbacks,
		promCleanup,
		promBuilds,
		promBuildDuration,
		promDeployDuration,
		promLastDeploy,
	)
}

// IncDeploy increments the number of successful deploys.
func IncDeploy() {
	atomic.AddInt64(&deploys, 1)
	promDeploys.Inc()
}

// IncDeployFailed increments the counter for failed deploy attempts.
func IncDeployFailed() {
	atomic.AddInt64(&deploysFailed, 1)
	promDeploysFailed.Inc()
}

// IncRollback increments the counter for performed rollbacks.
func IncRollback() {
	atomic.AddInt64(&rollbacks, 1)
	promRollbacks.Inc()
}

// IncCleanupFailed increments the counter for failed cleanup operations.
func IncCleanupFailed() {
	atomic.AddInt64(&cleanupFailed, 1)
	promCleanup.Inc()
}

// IncBuildSuccess increments the counter for successful image builds.
func IncBuildSuccess() {
	atomic.AddInt64(&buildsOK, 1)
	promBuilds.WithLabelValues("success").Inc()
}

// IncBuildFailure increments the counter for failed image builds.
func IncBuildFailure() {
	atomic.AddInt64(&buildsFailed, 1)
	promBuilds.WithLabelValues("failure").Inc()
}

// ObserveBuildDuration records the duration (in seconds) of an image build.
func ObserveBuildDuration(seconds float64) {
	promBuildDuration.Observe(seconds)
}

// ObserveDeployDuration records the duration (in seconds) of a deploy pass.
func ObserveDeployDuration(seconds float64) {
	promDeployDuration.Observe(seconds)
}

// SetLastDeploy stores the provided time as the last deploy timestamp.
func SetLastDeploy(t time.Time) {
	atomic.StoreInt64(&lastDeploy, t.Unix())
	promLastDeploy.Set(float64(t.Unix()))
}

// StatsSnapshot is a snapshot of metrics for JSON encoding.
type StatsSnapshot struct {
	Deploys         int64  `json:"deploys"`
	DeploysFailed   int64  `json:"deploys_failed"`
	Rollbacks       int64  `json:"rollbacks"`
	CleanupFailed   int64  `json:"cleanup_failed"`
	BuildsSuccess   int64  `json:"builds_success"`
	BuildsFailure   int64  `json:"builds_failure"`
	LastDeploy      int64  `json:"last_deploy_timestamp"`
	LastDeployHuman string `json:"last_deploy_human"`
}

// GetSnapshot returns a StatsSnapshot with the current counter values.
func GetSnapshot() StatsSnapshot {
	ts := atomic.LoadInt64(&lastDeploy)
	return StatsSnapshot{
		Deploys:         atomic.LoadInt64(&deploys),
		DeploysFailed:   atomic.LoadInt64(&deploysFailed),
		Rollbacks:       atomic.LoadInt64(&rollbacks),
		CleanupFailed:   atomic.LoadInt64(&cleanupFailed),
		BuildsSuccess:   atomic.LoadInt64(&buildsOK),
		BuildsFailure:   atomic.LoadInt64(&buildsFailed),
		LastDeploy:      ts,
		LastDeployHuman: time.Unix(ts, 0).Format(time.RFC3339),
	}
}

// PromHandler returns an HTTP handler that exposes Prometheus metrics.
func PromHandler() http.Handler { return promhttp.Handler() }

// JSONHandler returns an HTTP handler that serves the current metrics as a
// JSON-encoded StatsSnapshot.
func JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(GetSnapshot())
	})
}
