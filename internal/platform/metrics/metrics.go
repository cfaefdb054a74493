// Package metrics provides observability for the tick server.
package metrics

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MRamiBalles/CrowdCombat/server/internal/tick"
)

const namespace = "crowd"

// Collector gathers scheduler and transport metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	frames     prometheus.Counter
	fires      prometheus.Counter
	ticks      prometheus.Counter
	failures   *prometheus.CounterVec
	skipped    prometheus.Counter
	eligible   prometheus.Gauge
	registered prometheus.Gauge
	cursor     prometheus.Gauge
	dispatch   prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	wsClients    prometheus.Gauge
	wsMessages   *prometheus.CounterVec

	mu        sync.RWMutex
	startTime time.Time
	last      tick.Pass
	totals    struct {
		frames, fires, ticks, failures, skipped uint64
		maxDispatch                             time.Duration
	}
}

// NewCollector creates a collector with every metric registered.
func NewCollector() *Collector {
	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "frames_total",
			Help: "Frames advanced by the driver.",
		}),
		fires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "fires_total",
			Help: "Frames on which a dispatch pass ran.",
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "ticks_total",
			Help: "Participant Tick invocations.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "failures_total",
			Help: "Dispatch failures by phase.",
		}, []string{"phase"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "skipped_total",
			Help: "Snapshot entries skipped because they were removed mid-pass.",
		}),
		eligible: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "eligible",
			Help: "Eligible snapshot size at the last fire.",
		}),
		registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "registered",
			Help: "Registered participants.",
		}),
		cursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "cursor",
			Help: "Dispatch cursor after the last fire.",
		}),
		dispatch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "dispatch_duration_seconds",
			Help:    "Time spent in one dispatch pass.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Total HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ws", Name: "connections",
			Help: "Active WebSocket connections.",
		}),
		wsMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "messages_total",
			Help: "WebSocket messages by direction.",
		}, []string{"direction"}),
	}

	c.registry.MustRegister(
		c.frames, c.fires, c.ticks, c.failures, c.skipped,
		c.eligible, c.registered, c.cursor, c.dispatch,
		c.httpRequests, c.httpDuration, c.wsClients, c.wsMessages,
	)
	return c
}

// Registry exposes the prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObservePass records one AdvanceFrame result. Plug into tick.WithPassObserver.
func (c *Collector) ObservePass(p tick.Pass) {
	c.frames.Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals.frames++
	if !p.Fired {
		return
	}
	c.fires.Inc()
	c.ticks.Add(float64(p.Ticked))
	c.skipped.Add(float64(p.Skipped))
	c.eligible.Set(float64(p.Eligible))
	c.cursor.Set(float64(p.CursorAfter))
	c.dispatch.Observe(p.Duration.Seconds())

	c.totals.fires++
	c.totals.ticks += uint64(p.Ticked)
	c.totals.skipped += uint64(p.Skipped)
	if p.Duration > c.totals.maxDispatch {
		c.totals.maxDispatch = p.Duration
	}
	c.last = p
}

// RecordFailure counts one DispatchFailure.
func (c *Collector) RecordFailure(f tick.Failure) {
	c.failures.WithLabelValues(string(f.Phase)).Inc()
	c.mu.Lock()
	c.totals.failures++
	c.mu.Unlock()
}

// SetRegistered updates the registered participants gauge.
func (c *Collector) SetRegistered(n int) {
	c.registered.Set(float64(n))
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	label := strconv.Itoa(status)
	c.httpRequests.WithLabelValues(method, path, label).Inc()
	c.httpDuration.WithLabelValues(method, path, label).Observe(d.Seconds())
}

// RecordWSConnection records WebSocket connection changes.
func (c *Collector) RecordWSConnection(delta int) {
	c.wsClients.Add(float64(delta))
}

// RecordWSMessage records WebSocket messages.
func (c *Collector) RecordWSMessage(incoming bool) {
	if incoming {
		c.wsMessages.WithLabelValues("in").Inc()
	} else {
		c.wsMessages.WithLabelValues("out").Inc()
	}
}

// Snapshot returns current scheduler metrics as a map.
func (c *Collector) Snapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"uptime_seconds": time.Since(c.startTime).Seconds(),
		"scheduler": map[string]interface{}{
			"frames":          c.totals.frames,
			"fires":           c.totals.fires,
			"ticks":           c.totals.ticks,
			"failures":        c.totals.failures,
			"skipped":         c.totals.skipped,
			"last_eligible":   c.last.Eligible,
			"last_batch":      c.last.Batch,
			"cursor":          c.last.CursorAfter,
			"max_dispatch_ms": float64(c.totals.maxDispatch) / 1e6,
		},
	}
}

// Handler serves the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// JSONHandler serves Snapshot as JSON.
func (c *Collector) JSONHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		json.NewEncoder(w).Encode(c.Snapshot())
	}
}
