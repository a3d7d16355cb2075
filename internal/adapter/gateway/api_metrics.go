package gateway

import (
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"
)

func writeMetric(w io.Writer, name, kind, help string, value any) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s %v\n", name, value)
}

// metricsHandler returns an HTTP handler for GET /metrics in Prometheus text format.
func metricsHandler(deps HandlerDeps, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		c := metrics.counts(deps.Stream)
		pool := deps.Stream.PoolStats()

		writeMetric(w, "chatstream_streams_active", "gauge", "Number of streams being served.", c.Active)
		writeMetric(w, "chatstream_message_ids_remembered", "gauge", "Message ids held for duplicate detection.", c.Processed)
		writeMetric(w, "chatstream_streams_started_total", "counter", "Generations started.", c.Started)
		writeMetric(w, "chatstream_streams_completed_total", "counter", "Generations completed.", c.Completed)
		writeMetric(w, "chatstream_streams_failed_total", "counter", "Generations that failed upstream.", c.Failed)
		writeMetric(w, "chatstream_streams_cancelled_total", "counter", "Streams cancelled by clients or the reaper.", c.Cancelled)
		writeMetric(w, "chatstream_streams_rejected_total", "counter", "Stream requests rejected as duplicate or over capacity.", c.Rejected)
		writeMetric(w, "chatstream_sessions_reaped_total", "counter", "Stale sessions reaped.", c.Reaped)
		writeMetric(w, "chatstream_content_bytes_total", "counter", "Bytes of generated content delivered.", metrics.ContentBytes.Load())

		writeMetric(w, "chatstream_pool_workers", "gauge", "Generation workers.", pool.Workers)
		writeMetric(w, "chatstream_pool_busy", "gauge", "Workers running a generation.", pool.Busy)
		writeMetric(w, "chatstream_pool_queued", "gauge", "Generations waiting for a worker.", pool.Queued)

		writeMetric(w, "chatstream_uptime_seconds", "gauge", "Seconds since the server started.",
			fmt.Sprintf("%.0f", time.Since(startTime).Seconds()))

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		writeMetric(w, "go_goroutines", "gauge", "Number of goroutines.", runtime.NumGoroutine())
		writeMetric(w, "go_memstats_alloc_bytes", "gauge", "Bytes of allocated heap objects.", mem.Alloc)
		writeMetric(w, "go_memstats_sys_bytes", "gauge", "Total bytes of memory obtained from the OS.", mem.Sys)
	}
}
