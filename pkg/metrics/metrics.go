// Package metrics provides Prometheus metrics for the scansuite API.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// HTTP metrics
var (
	// httpRequestsTotal counts served requests.
	// Labels:
	//   - route: gin full path (e.g. "/api/v1/meetings/:meetingId"), "unmatched" if none
	//   - method: HTTP method
	//   - status: HTTP status code
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scansuite_http_requests_total",
			Help: "Total number of HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)

	// httpRequestDuration records request latency in seconds.
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scansuite_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"route", "method"},
	)
)

// Domain metrics
var (
	// authEventsTotal counts authentication outcomes.
	// Labels:
	//   - event: register, login, refresh, logout
	//   - result: success, failure, replay
	authEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scansuite_auth_events_total",
			Help: "Authentication events by type and result",
		},
		[]string{"event", "result"},
	)

	// uploadsTotal counts two-phase upload steps.
	// Labels:
	//   - phase: presign, complete
	//   - result: success, rejected, conflict_retry
	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scansuite_uploads_total",
			Help: "File upload phases by result",
		},
		[]string{"phase", "result"},
	)

	scanEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scansuite_scan_events_total",
			Help: "Total number of public meeting scans recorded",
		},
	)

	auditWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scansuite_audit_write_failures_total",
			Help: "Audit log entries that could not be persisted",
		},
	)

	// realtimeBroadcastsTotal counts meeting events fanned out to rooms.
	realtimeBroadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scansuite_realtime_broadcasts_total",
			Help: "Realtime events broadcast by event name",
		},
		[]string{"event"},
	)

	realtimeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scansuite_realtime_connections",
			Help: "Currently connected realtime sockets",
		},
	)

	// maintenanceRowsTotal counts rows touched by maintenance jobs.
	// Labels:
	//   - job: fail_stale_uploads, purge_sessions
	maintenanceRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scansuite_maintenance_rows_total",
			Help: "Rows affected by maintenance jobs",
		},
		[]string{"job"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(authEventsTotal)
	prometheus.MustRegister(uploadsTotal)
	prometheus.MustRegister(scanEventsTotal)
	prometheus.MustRegister(auditWriteFailuresTotal)
	prometheus.MustRegister(realtimeBroadcastsTotal)
	prometheus.MustRegister(realtimeConnections)
	prometheus.MustRegister(maintenanceRowsTotal)
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(route, method, status string, durationSeconds float64) {
	httpRequestsTotal.WithLabelValues(route, method, status).Inc()
	httpRequestDuration.WithLabelValues(route, method).Observe(durationSeconds)
}

// RecordAuthEvent records an authentication outcome.
func RecordAuthEvent(event, result string) {
	authEventsTotal.WithLabelValues(event, result).Inc()
}

// RecordUpload records a presign or complete step.
func RecordUpload(phase, result string) {
	uploadsTotal.WithLabelValues(phase, result).Inc()
}

// RecordScan records one public scan.
func RecordScan() {
	scanEventsTotal.Inc()
}

// RecordAuditFailure records an audit entry that was dropped.
func RecordAuditFailure() {
	auditWriteFailuresTotal.Inc()
}

// RecordBroadcast records a realtime broadcast.
func RecordBroadcast(event string) {
	realtimeBroadcastsTotal.WithLabelValues(event).Inc()
}

// SocketConnected adjusts the connected sockets gauge by delta (+1 / -1).
func SocketConnected(delta float64) {
	realtimeConnections.Add(delta)
}

// RecordMaintenance records rows affected by a maintenance job run.
func RecordMaintenance(job string, rows int64) {
	maintenanceRowsTotal.WithLabelValues(job).Add(float64(rows))
}
