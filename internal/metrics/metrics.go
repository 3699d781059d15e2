// Package metrics exposes refresh and notification counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records refresh activity.
type Collector struct {
	refreshRuns       *prometheus.CounterVec
	refreshDuration   prometheus.Histogram
	fetchSuccess      prometheus.Counter
	fetchFailure      prometheus.Counter
	parseFailure      prometheus.Counter
	notificationsSent prometheus.Counter
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		refreshRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rss_reader_refresh_runs_total",
			Help: "Background refresh runs by outcome.",
		}, []string{"outcome"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rss_reader_refresh_duration_seconds",
			Help:    "Duration of background refresh runs.",
			Buckets: prometheus.DefBuckets,
		}),
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rss_reader_feed_fetch_success_total",
			Help: "Feeds fetched successfully during refresh.",
		}),
		fetchFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rss_reader_feed_fetch_failure_total",
			Help: "Feeds that failed to fetch during refresh.",
		}),
		parseFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rss_reader_feed_parse_failure_total",
			Help: "Feeds whose document could not be parsed during refresh.",
		}),
		notificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rss_reader_notifications_scheduled_total",
			Help: "Notifications scheduled for new items.",
		}),
	}

	reg.MustRegister(
		c.refreshRuns,
		c.refreshDuration,
		c.fetchSuccess,
		c.fetchFailure,
		c.parseFailure,
		c.notificationsSent,
	)
	return c
}

// RecordRefresh records one refresh run.
func (c *Collector) RecordRefresh(d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.refreshRuns.WithLabelValues(outcome).Inc()
	c.refreshDuration.Observe(d.Seconds())
}

// RecordFetch records the outcome of fetching one feed.
func (c *Collector) RecordFetch(err error, parseFailure bool) {
	if err == nil {
		c.fetchSuccess.Inc()
		return
	}
	c.fetchFailure.Inc()
	if parseFailure {
		c.parseFailure.Inc()
	}
}

// RecordNotifications adds n scheduled notifications.
func (c *Collector) RecordNotifications(n int) {
	c.notificationsSent.Add(float64(n))
}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
