package notify

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pagewatch"

var (
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "queue_size",
			Help:      "Number of push deliveries in queue by status",
		},
		[]string{"status"},
	)

	changesClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "changes_classified_total",
			Help:      "Change events classified by resulting notification kind",
		},
		[]string{"kind"},
	)

	pushesEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "pushes_enqueued_total",
			Help:      "Push deliveries enqueued by notification kind",
		},
		[]string{"kind"},
	)

	pushesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "pushes_sent_total",
			Help:      "Push deliveries processed by platform and outcome",
		},
		[]string{"platform", "status"},
	)

	pushSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "push_send_duration_seconds",
			Help:      "Time to deliver one push",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"platform"},
	)
)

func recordChangeClassified(kind string) {
	changesClassified.WithLabelValues(kind).Inc()
}

func recordPushesEnqueued(kind string, count int) {
	pushesEnqueued.WithLabelValues(kind).Add(float64(count))
}

func recordPushSent(platform, status string) {
	pushesSent.WithLabelValues(platform, status).Inc()
}

func recordPushDuration(platform string, duration time.Duration) {
	pushSendDuration.WithLabelValues(platform).Observe(duration.Seconds())
}

// RecordQueueStats updates queue size gauges.
func RecordQueueStats(stats *QueueStats) {
	queueSize.WithLabelValues("pending").Set(float64(stats.Pending))
	queueSize.WithLabelValues("processing").Set(float64(stats.Processing))
	queueSize.WithLabelValues("sent").Set(float64(stats.Sent))
	queueSize.WithLabelValues("failed").Set(float64(stats.Failed))
}
