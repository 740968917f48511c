// Package metrics is the process-wide measurement sink. It owns a single
// prometheus registry with a fixed set of instruments, created once at
// startup; the rest of the code only sees the narrow update methods.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleetmon/internal/models"
)

type Sink struct {
	registry *prometheus.Registry

	serviceHealth   *prometheus.GaugeVec
	responseTime    *prometheus.HistogramVec
	healthChecks    *prometheus.CounterVec
	restarts        *prometheus.CounterVec
	restartDuration *prometheus.HistogramVec
	restartUnauth   prometheus.Counter
	errorRate       *prometheus.GaugeVec

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	netIn      *prometheus.GaugeVec
	netOut     *prometheus.GaugeVec
	blockRead  *prometheus.GaugeVec
	blockWrite *prometheus.GaugeVec

	activeSessions  prometheus.Gauge
	composeActions  *prometheus.CounterVec
	composeUnauth   prometheus.Counter
	composeDuration *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	uptimeSeconds   prometheus.Counter

	totalHTTP atomic.Uint64
}

func NewSink() *Sink {
	serviceLabels := []string{"service_id", "service_name"}
	s := &Sink{
		registry: prometheus.NewRegistry(),
		serviceHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetmon_service_health_status",
			Help: "Current service health (0=unknown, 1=healthy, 2=degraded, 3=unhealthy)",
		}, []string{"service_id", "service_name", "service_type", "critical"}),
		responseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fleetmon_service_response_time_seconds",
			Help:    "Health check response time in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"service_id", "service_name", "service_type"}),
		healthChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetmon_health_checks_total",
			Help: "Health checks performed, by outcome",
		}, []string{"service_id", "service_name", "status"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetmon_service_restarts_total",
			Help: "Service restart attempts",
		}, []string{"service_id", "service_name", "success"}),
		restartDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fleetmon_service_restart_duration_seconds",
			Help:    "Duration of service restart attempts",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"service_id"}),
		restartUnauth: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetmon_restart_unauthorized_total",
			Help: "Unauthorized service restart attempts",
		}),
		errorRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetmon_service_error_rate",
			Help: "Failures per minute over the sliding window",
		}, []string{"service_id", "service_name", "service_type"}),
		cpuPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetmon_service_cpu_usage_percent",
			Help: "Service CPU usage percent",
		}, serviceLabels),
		memoryMB: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetmon_service_memory_usage_megabytes",
			Help: "Service memory usage in MB",
		}, serviceLabels),
		netIn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetmon_service_network_in_bytes",
			Help: "Service network receive bytes",
		}, serviceLabels),
		netOut: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetmon_service_network_out_bytes",
			Help: "Service network transmit bytes",
		}, serviceLabels),
		blockRead: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetmon_service_block_read_bytes",
			Help: "Service block IO read bytes",
		}, serviceLabels),
		blockWrite: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetmon_service_block_write_bytes",
			Help: "Service block IO write bytes",
		}, serviceLabels),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleetmon_streaming_sessions_active",
			Help: "Active streaming client sessions",
		}),
		composeActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetmon_compose_actions_total",
			Help: "Compose actions invoked",
		}, []string{"action", "success"}),
		composeUnauth: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetmon_compose_unauthorized_total",
			Help: "Unauthorized compose attempts",
		}),
		composeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fleetmon_compose_action_duration_seconds",
			Help:    "Duration of compose actions",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"action"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetmon_http_requests_total",
			Help: "HTTP requests received",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fleetmon_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "path"}),
		uptimeSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetmon_uptime_seconds_total",
			Help: "Monitor process uptime in seconds",
		}),
	}

	s.registry.MustRegister(
		s.serviceHealth, s.responseTime, s.healthChecks,
		s.restarts, s.restartDuration, s.restartUnauth, s.errorRate,
		s.cpuPercent, s.memoryMB, s.netIn, s.netOut, s.blockRead, s.blockWrite,
		s.activeSessions, s.composeActions, s.composeUnauth, s.composeDuration,
		s.httpRequests, s.httpDuration, s.uptimeSeconds,
	)
	return s
}

// Handler exposes the registry in the prometheus text format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *Sink) SetServiceHealth(svc models.ServiceConfig, status models.HealthStatus) {
	s.serviceHealth.
		WithLabelValues(svc.ID, svc.Name, string(svc.ServiceType), strconv.FormatBool(svc.Critical)).
		Set(float64(status.Code()))
}

func (s *Sink) ObserveResponseTime(svc models.ServiceConfig, d time.Duration) {
	s.responseTime.WithLabelValues(svc.ID, svc.Name, string(svc.ServiceType)).Observe(d.Seconds())
}

func (s *Sink) IncHealthCheck(svc models.ServiceConfig, outcome string) {
	s.healthChecks.WithLabelValues(svc.ID, svc.Name, outcome).Inc()
}

func (s *Sink) IncRestart(serviceID, serviceName string, success bool) {
	s.restarts.WithLabelValues(serviceID, serviceName, strconv.FormatBool(success)).Inc()
}

func (s *Sink) ObserveRestartDuration(serviceID string, d time.Duration) {
	s.restartDuration.WithLabelValues(serviceID).Observe(d.Seconds())
}

func (s *Sink) IncRestartUnauthorized() { s.restartUnauth.Inc() }

func (s *Sink) SetErrorRate(svc models.ServiceConfig, perMinute float64) {
	s.errorRate.WithLabelValues(svc.ID, svc.Name, string(svc.ServiceType)).Set(perMinute)
}

// SetResourceUsage updates only the gauges for which a value was collected.
func (s *Sink) SetResourceUsage(serviceID, serviceName string, m models.ServiceMetrics) {
	if m.CPUUsagePercent != nil {
		s.cpuPercent.WithLabelValues(serviceID, serviceName).Set(*m.CPUUsagePercent)
	}
	if m.MemoryUsageMB != nil {
		s.memoryMB.WithLabelValues(serviceID, serviceName).Set(float64(*m.MemoryUsageMB))
	}
	if m.NetworkInBytes != nil {
		s.netIn.WithLabelValues(serviceID, serviceName).Set(float64(*m.NetworkInBytes))
	}
	if m.NetworkOutBytes != nil {
		s.netOut.WithLabelValues(serviceID, serviceName).Set(float64(*m.NetworkOutBytes))
	}
	if m.BlockReadBytes != nil {
		s.blockRead.WithLabelValues(serviceID, serviceName).Set(float64(*m.BlockReadBytes))
	}
	if m.BlockWriteBytes != nil {
		s.blockWrite.WithLabelValues(serviceID, serviceName).Set(float64(*m.BlockWriteBytes))
	}
}

func (s *Sink) IncSessions() { s.activeSessions.Inc() }
func (s *Sink) DecSessions() { s.activeSessions.Dec() }

func (s *Sink) IncComposeAction(action string, success bool) {
	s.composeActions.WithLabelValues(action, strconv.FormatBool(success)).Inc()
}

func (s *Sink) IncComposeUnauthorized() { s.composeUnauth.Inc() }

func (s *Sink) ObserveComposeDuration(action string, d time.Duration) {
	s.composeDuration.WithLabelValues(action).Observe(d.Seconds())
}

func (s *Sink) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	s.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	s.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
	s.totalHTTP.Add(1)
}

// TotalHTTPRequests is the cumulative request count since startup.
func (s *Sink) TotalHTTPRequests() uint64 {
	return s.totalHTTP.Load()
}

// TrackUptime increments the uptime counter once per second until ctx ends.
func (s *Sink) TrackUptime(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.uptimeSeconds.Inc()
		}
	}
}
