// Package metrics provides observability for the meadow server.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Collector gathers performance metrics.
type Collector struct {
	// Tick metrics
	TickCount      int64
	TickLatencySum int64 // nanoseconds
	TickLatencyMax int64
	DayCount       int64
	LastTickTime   time.Time

	// Persistence metrics
	SavesWritten  int64
	SaveLatSum    int64
	SaveLatMax    int64
	SaveErrors    int64
	SaveRetries   int64

	// Roster metrics
	Joins       int64
	Leaves      int64
	RosterSize  int64

	// Purchase metrics
	PurchasesAccepted int64
	PurchasesRejected int64

	// WebSocket metrics
	WSConnectionsActive int64
	WSMessagesIn        int64
	WSMessagesOut       int64
	WSErrors            int64

	// System
	StartTime time.Time
	mu        sync.RWMutex
}

// Global collector instance
var collector = &Collector{
	StartTime: time.Now(),
}

// Get returns the global collector.
func Get() *Collector {
	return collector
}

// RecordTick records a tick cycle completion.
func (c *Collector) RecordTick(latency time.Duration) {
	atomic.AddInt64(&c.TickCount, 1)
	atomic.AddInt64(&c.TickLatencySum, int64(latency))

	// Update max (non-atomic but acceptable for metrics)
	if int64(latency) > atomic.LoadInt64(&c.TickLatencyMax) {
		atomic.StoreInt64(&c.TickLatencyMax, int64(latency))
	}

	c.mu.Lock()
	c.LastTickTime = time.Now()
	c.mu.Unlock()
}

// RecordDay records a day rollover.
func (c *Collector) RecordDay() {
	atomic.AddInt64(&c.DayCount, 1)
}

// RecordSave records a persistence write.
func (c *Collector) RecordSave(latency time.Duration, err error) {
	atomic.AddInt64(&c.SavesWritten, 1)
	atomic.AddInt64(&c.SaveLatSum, int64(latency))

	if int64(latency) > atomic.LoadInt64(&c.SaveLatMax) {
		atomic.StoreInt64(&c.SaveLatMax, int64(latency))
	}

	if err != nil {
		atomic.AddInt64(&c.SaveErrors, 1)
	}
}

// RecordSaveRetry records a retried persistence write from the sweep job.
func (c *Collector) RecordSaveRetry() {
	atomic.AddInt64(&c.SaveRetries, 1)
}

// RecordJoin records a participant joining the roster.
func (c *Collector) RecordJoin() {
	atomic.AddInt64(&c.Joins, 1)
	atomic.AddInt64(&c.RosterSize, 1)
}

// RecordLeave records a participant leaving the roster.
func (c *Collector) RecordLeave() {
	atomic.AddInt64(&c.Leaves, 1)
	atomic.AddInt64(&c.RosterSize, -1)
}

// RecordPurchase records a purchase transaction outcome.
func (c *Collector) RecordPurchase(accepted bool) {
	if accepted {
		atomic.AddInt64(&c.PurchasesAccepted, 1)
	} else {
		atomic.AddInt64(&c.PurchasesRejected, 1)
	}
}

// RecordWSConnection records WebSocket connection changes.
func (c *Collector) RecordWSConnection(delta int64) {
	atomic.AddInt64(&c.WSConnectionsActive, delta)
}

// RecordWSMessage records WebSocket messages.
func (c *Collector) RecordWSMessage(incoming bool) {
	if incoming {
		atomic.AddInt64(&c.WSMessagesIn, 1)
	} else {
		atomic.AddInt64(&c.WSMessagesOut, 1)
	}
}

// RecordWSError records a WebSocket error.
func (c *Collector) RecordWSError() {
	atomic.AddInt64(&c.WSErrors, 1)
}

// Snapshot returns current metrics as a map.
func (c *Collector) Snapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tickCount := atomic.LoadInt64(&c.TickCount)
	savesWritten := atomic.LoadInt64(&c.SavesWritten)

	// Calculate averages
	var tickAvg, saveAvg float64
	if tickCount > 0 {
		tickAvg = float64(atomic.LoadInt64(&c.TickLatencySum)) / float64(tickCount) / 1e6 // ms
	}
	if savesWritten > 0 {
		saveAvg = float64(atomic.LoadInt64(&c.SaveLatSum)) / float64(savesWritten) / 1e6
	}

	return map[string]interface{}{
		"uptime_seconds": time.Since(c.StartTime).Seconds(),

		"clock": map[string]interface{}{
			"ticks":          tickCount,
			"days":           atomic.LoadInt64(&c.DayCount),
			"avg_latency_ms": tickAvg,
			"max_latency_ms": float64(atomic.LoadInt64(&c.TickLatencyMax)) / 1e6,
			"last_tick":      c.LastTickTime.Format(time.RFC3339),
		},

		"persistence": map[string]interface{}{
			"saves":           savesWritten,
			"avg_save_lat_ms": saveAvg,
			"max_save_lat_ms": float64(atomic.LoadInt64(&c.SaveLatMax)) / 1e6,
			"errors":          atomic.LoadInt64(&c.SaveErrors),
			"retries":         atomic.LoadInt64(&c.SaveRetries),
		},

		"roster": map[string]interface{}{
			"joins":  atomic.LoadInt64(&c.Joins),
			"leaves": atomic.LoadInt64(&c.Leaves),
			"active": atomic.LoadInt64(&c.RosterSize),
		},

		"purchases": map[string]interface{}{
			"accepted": atomic.LoadInt64(&c.PurchasesAccepted),
			"rejected": atomic.LoadInt64(&c.PurchasesRejected),
		},

		"websocket": map[string]interface{}{
			"active_connections": atomic.LoadInt64(&c.WSConnectionsActive),
			"messages_in":        atomic.LoadInt64(&c.WSMessagesIn),
			"messages_out":       atomic.LoadInt64(&c.WSMessagesOut),
			"errors":             atomic.LoadInt64(&c.WSErrors),
		},
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")

		snapshot := collector.Snapshot()
		json.NewEncoder(w).Encode(snapshot)
	}
}

// PrometheusHandler returns metrics in Prometheus format.
func PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		c := collector

		// Clock metrics
		fmt.Fprintf(w, "# HELP meadow_tick_count Total tick cycles\n")
		fmt.Fprintf(w, "# TYPE meadow_tick_count counter\n")
		fmt.Fprintf(w, "meadow_tick_count %d\n\n", atomic.LoadInt64(&c.TickCount))

		fmt.Fprintf(w, "# HELP meadow_day_count Total simulated days\n")
		fmt.Fprintf(w, "# TYPE meadow_day_count counter\n")
		fmt.Fprintf(w, "meadow_day_count %d\n\n", atomic.LoadInt64(&c.DayCount))

		fmt.Fprintf(w, "# HELP meadow_tick_latency_max_ms Maximum tick latency\n")
		fmt.Fprintf(w, "# TYPE meadow_tick_latency_max_ms gauge\n")
		fmt.Fprintf(w, "meadow_tick_latency_max_ms %.2f\n\n", float64(atomic.LoadInt64(&c.TickLatencyMax))/1e6)

		// Persistence metrics
		fmt.Fprintf(w, "# HELP meadow_saves_written Total persistence writes\n")
		fmt.Fprintf(w, "# TYPE meadow_saves_written counter\n")
		fmt.Fprintf(w, "meadow_saves_written %d\n\n", atomic.LoadInt64(&c.SavesWritten))

		fmt.Fprintf(w, "# HELP meadow_save_errors Total persistence write errors\n")
		fmt.Fprintf(w, "# TYPE meadow_save_errors counter\n")
		fmt.Fprintf(w, "meadow_save_errors %d\n\n", atomic.LoadInt64(&c.SaveErrors))

		// Roster metrics
		fmt.Fprintf(w, "# HELP meadow_roster_active Active participants\n")
		fmt.Fprintf(w, "# TYPE meadow_roster_active gauge\n")
		fmt.Fprintf(w, "meadow_roster_active %d\n\n", atomic.LoadInt64(&c.RosterSize))

		// Purchase metrics
		fmt.Fprintf(w, "# HELP meadow_purchases_total Total purchase transactions\n")
		fmt.Fprintf(w, "# TYPE meadow_purchases_total counter\n")
		fmt.Fprintf(w, "meadow_purchases_total{outcome=\"accepted\"} %d\n", atomic.LoadInt64(&c.PurchasesAccepted))
		fmt.Fprintf(w, "meadow_purchases_total{outcome=\"rejected\"} %d\n\n", atomic.LoadInt64(&c.PurchasesRejected))

		// WebSocket metrics
		fmt.Fprintf(w, "# HELP meadow_ws_connections Active WebSocket connections\n")
		fmt.Fprintf(w, "# TYPE meadow_ws_connections gauge\n")
		fmt.Fprintf(w, "meadow_ws_connections %d\n\n", atomic.LoadInt64(&c.WSConnectionsActive))

		fmt.Fprintf(w, "# HELP meadow_ws_messages_total Total WebSocket messages\n")
		fmt.Fprintf(w, "# TYPE meadow_ws_messages_total counter\n")
		fmt.Fprintf(w, "meadow_ws_messages_total{direction=\"in\"} %d\n", atomic.LoadInt64(&c.WSMessagesIn))
		fmt.Fprintf(w, "meadow_ws_messages_total{direction=\"out\"} %d\n", atomic.LoadInt64(&c.WSMessagesOut))
	}
}
