package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectivityOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queuesync_connectivity_online",
			Help: "1 when the device is considered online, 0 otherwise",
		},
	)

	pendingMutations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queuesync_pending_mutations",
			Help: "Mutations waiting for replay",
		},
	)

	drainResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuesync_drain_mutations_total",
			Help: "Replayed mutation outcomes per drain pass",
		},
		[]string{"result"}, // replayed, retried, dropped
	)

	activeSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queuesync_active_subscriptions",
			Help: "Live realtime subscriptions per scope",
		},
		[]string{"scope"},
	)

	snapshotReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuesync_snapshot_reads_total",
			Help: "Full re-reads triggered by change notifications",
		},
		[]string{"scope", "status"},
	)

	snapshotReadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queuesync_snapshot_read_duration_seconds",
			Help:    "Duration of full re-reads",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scope"},
	)
)

func SetOnline(online bool) {
	if online {
		connectivityOnline.Set(1)
	} else {
		connectivityOnline.Set(0)
	}
}

func SetPendingMutations(n int) {
	pendingMutations.Set(float64(n))
}

func IncDrainResult(result string) {
	drainResults.WithLabelValues(result).Inc()
}

func SetActiveSubscriptions(scope string, n int) {
	activeSubscriptions.WithLabelValues(scope).Set(float64(n))
}

func ObserveSnapshotRead(scope string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	snapshotReads.WithLabelValues(scope, status).Inc()
	if err == nil {
		snapshotReadDuration.WithLabelValues(scope).Observe(d.Seconds())
	}
}
