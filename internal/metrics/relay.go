package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Local mirrors of a few gauges, since prometheus values can't be read back.
var (
	activeRelaysCount   int64
	eventsPublishedCnt  int64
	lastPublishUnixNano int64
)

// Metrics for tracking relay connectivity and publishing
var (
	ActiveRelays = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "publisher_relays_active",
		Help: "The number of relays with an established connection",
	})

	RelayConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "publisher_relay_connects_total",
		Help: "Relay connection attempts by result",
	}, []string{"result"}) // "success", "failure", "discarded"

	RelayDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "publisher_relay_drops_total",
		Help: "Established relay connections lost asynchronously",
	})

	EventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "publisher_events_published_total",
		Help: "Events handed to the fan-out engine",
	})

	RelaySends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "publisher_relay_sends_total",
		Help: "Per-relay event frames by transport result",
	}, []string{"result"}) // "accepted", "rejected"

	EventSizeBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "publisher_event_size_bytes",
		Help:    "Size of serialised events in bytes",
		Buckets: prometheus.ExponentialBuckets(64, 4, 7), // 64B .. 256KiB
	})

	FanOutDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "publisher_fanout_duration_seconds",
		Help:    "Wall time of one fan-out call, bounded by its slowest relay",
		Buckets: prometheus.ExponentialBuckets(0.005, 4, 7), // 5ms .. ~20s
	}, []string{"op"}) // "open", "close", "publish"
)

// RegisterMetrics pre-creates label combinations so they export as zero.
func RegisterMetrics() {
	for _, r := range []string{"success", "failure", "discarded"} {
		RelayConnects.WithLabelValues(r)
	}
	for _, r := range []string{"accepted", "rejected"} {
		RelaySends.WithLabelValues(r)
	}
	for _, op := range []string{"open", "close", "publish"} {
		FanOutDuration.WithLabelValues(op)
	}
}

// SetActiveRelays records the current size of the active set.
func SetActiveRelays(n int) {
	atomic.StoreInt64(&activeRelaysCount, int64(n))
	ActiveRelays.Set(float64(n))
}

// GetActiveRelays returns the last recorded active-set size.
func GetActiveRelays() int64 {
	return atomic.LoadInt64(&activeRelaysCount)
}

// ObserveConnect records a connection attempt outcome.
func ObserveConnect(result string) {
	RelayConnects.WithLabelValues(result).Inc()
}

// ObserveSend records one relay's send outcome.
func ObserveSend(accepted bool) {
	if accepted {
		RelaySends.WithLabelValues("accepted").Inc()
		return
	}
	RelaySends.WithLabelValues("rejected").Inc()
}

// ObservePublish records an event entering the fan-out engine.
func ObservePublish(size int) {
	EventsPublished.Inc()
	EventSizeBytes.Observe(float64(size))
	atomic.AddInt64(&eventsPublishedCnt, 1)
	atomic.StoreInt64(&lastPublishUnixNano, time.Now().UnixNano())
}

// GetEventsPublished returns the number of events published since start.
func GetEventsPublished() int64 {
	return atomic.LoadInt64(&eventsPublishedCnt)
}

// LastPublish returns when the last event was published, or zero.
func LastPublish() time.Time {
	n := atomic.LoadInt64(&lastPublishUnixNano)
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// TimeFanOut returns a func that records the elapsed time for op.
func TimeFanOut(op string) func() {
	start := time.Now()
	return func() {
		FanOutDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
