package models

import "time"

// ServiceType categorizes a monitored service for dashboards and metric labels.
type ServiceType string

const (
	TypeAPI         ServiceType = "Api"
	TypeWorker      ServiceType = "Worker"
	TypeDatabase    ServiceType = "Database"
	TypeAuth        ServiceType = "Auth"
	TypeEngine      ServiceType = "Engine"
	TypeTransformer ServiceType = "Transformer"
	TypeTraining    ServiceType = "Training"
	TypeConfig      ServiceType = "Config"
	TypeExecution   ServiceType = "Execution"
	TypeWeb         ServiceType = "Web"
	TypeNginx       ServiceType = "Nginx"
	TypeMaster      ServiceType = "Master"
)

// ServiceConfig is the immutable registration of one monitored service,
// loaded once at startup and never mutated afterwards.
type ServiceConfig struct {
	ID                     string      `json:"id" mapstructure:"id"`
	Name                   string      `json:"name" mapstructure:"name"`
	HealthEndpoint         string      `json:"health_endpoint" mapstructure:"health_endpoint"`
	ServiceType            ServiceType `json:"service_type" mapstructure:"service_type"`
	DockerContainer        string      `json:"docker_container,omitempty" mapstructure:"docker_container"`
	ExpectedResponseTimeMS uint64      `json:"expected_response_time_ms" mapstructure:"expected_response_time_ms"`
	Critical               bool        `json:"critical" mapstructure:"critical"`
}

// HealthStatus is the probe-derived state of a service. Values serialize
// as their names; Code gives the numeric encoding used by the metrics sink.
type HealthStatus string

const (
	StatusUnknown   HealthStatus = "Unknown"
	StatusHealthy   HealthStatus = "Healthy"
	StatusDegraded  HealthStatus = "Degraded"
	StatusUnhealthy HealthStatus = "Unhealthy"
)

// Code returns the sink encoding: 0=Unknown, 1=Healthy, 2=Degraded, 3=Unhealthy.
func (s HealthStatus) Code() int {
	switch s {
	case StatusHealthy:
		return 1
	case StatusDegraded:
		return 2
	case StatusUnhealthy:
		return 3
	default:
		return 0
	}
}

// ServiceStatus is the live, scheduler-owned state of one service.
type ServiceStatus struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Status         HealthStatus `json:"status"`
	LastCheck      time.Time    `json:"last_check"`
	UptimeSeconds  *uint64      `json:"uptime_seconds"`
	ResponseTimeMS *uint64      `json:"response_time_ms"`
	ErrorMessage   *string      `json:"error_message"`
	ServiceType    ServiceType  `json:"service_type"`
	Critical       bool         `json:"critical"`
}

// ServiceMetrics is a best-effort resource snapshot. Nil means the field
// has not been collected yet, which is distinct from zero.
type ServiceMetrics struct {
	CPUUsagePercent  *float64 `json:"cpu_usage_percent"`
	MemoryUsageMB    *uint64  `json:"memory_usage_mb"`
	DiskUsagePercent *float64 `json:"disk_usage_percent"`
	NetworkInBytes   *uint64  `json:"network_in_bytes"`
	NetworkOutBytes  *uint64  `json:"network_out_bytes"`
	RequestCount     *uint64  `json:"request_count"`
	ErrorRate        *float64 `json:"error_rate"`
	BlockReadBytes   *uint64  `json:"block_read_bytes"`
	BlockWriteBytes  *uint64  `json:"block_write_bytes"`
}

// HealthCheck is one entry of a detailed per-check history.
type HealthCheck struct {
	Name           string       `json:"name"`
	Status         HealthStatus `json:"status"`
	ResponseTimeMS uint64       `json:"response_time_ms"`
	Message        *string      `json:"message"`
	Timestamp      time.Time    `json:"timestamp"`
}

// ServiceHealth is the detailed view served for a single service.
type ServiceHealth struct {
	ServiceID   string         `json:"service_id"`
	Status      HealthStatus   `json:"status"`
	Checks      []HealthCheck  `json:"checks"`
	Metrics     ServiceMetrics `json:"metrics"`
	LastUpdated time.Time      `json:"last_updated"`
}

// SystemMetrics is the fleet-wide roll-up computed on demand.
type SystemMetrics struct {
	TotalServices         uint32   `json:"total_services"`
	HealthyServices       uint32   `json:"healthy_services"`
	UnhealthyServices     uint32   `json:"unhealthy_services"`
	CriticalServicesDown  uint32   `json:"critical_services_down"`
	AverageResponseTimeMS float64  `json:"average_response_time_ms"`
	SystemLoadAverage     *float64 `json:"system_load_average"`
	TotalRequests         uint64   `json:"total_requests"`
	TotalErrors           uint64   `json:"total_errors"`
}

// RestartResult reports one restart attempt back to the caller.
type RestartResult struct {
	ServiceID string    `json:"service_id"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// EventType names a monitor event. The string values double as the
// subscription-filter vocabulary, so the mapping is explicit rather than
// derived by reflection.
type EventType string

const (
	EventServiceUp        EventType = "ServiceUp"
	EventServiceDown      EventType = "ServiceDown"
	EventServiceRestarted EventType = "ServiceRestarted"
	EventHighLatency      EventType = "HighLatency"
	EventSystemAlert      EventType = "SystemAlert"
	EventMetricsUpdate    EventType = "MetricsUpdate"
)

// MonitorEvent is an immutable domain event raised by the scheduler.
type MonitorEvent struct {
	EventType EventType `json:"event_type"`
	ServiceID *string   `json:"service_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}
