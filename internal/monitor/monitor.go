// Package monitor drives the health check scheduler. It owns the live
// service state, runs probes in bounded batches, raises transition events,
// and serves snapshot reads to the web and streaming layers.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"fleetmon/internal/collector"
	"fleetmon/internal/config"
	"fleetmon/internal/events"
	"fleetmon/internal/health"
	"fleetmon/internal/metrics"
	"fleetmon/internal/models"
	"fleetmon/internal/rates"
	"fleetmon/internal/state"
)

const (
	metricsInterval = 60 * time.Second
	interBatchDelay = 100 * time.Millisecond

	// restart commands shell out to docker; keep the pool small so a
	// burst of restart requests cannot fork-bomb the host.
	maxConcurrentRestarts = 4
)

type Monitor struct {
	cfg      config.Config
	services []models.ServiceConfig
	byID     map[string]models.ServiceConfig

	states    *state.Map[models.ServiceStatus]
	resources *state.Map[models.ServiceMetrics]
	events    *events.Log
	rates     *rates.Tracker
	checker   *health.Checker
	stats     *collector.DockerStats
	sink      *metrics.Sink

	restartSem *semaphore.Weighted
	restartRun func(ctx context.Context, container string) error

	log *slog.Logger
	now func() time.Time
}

func New(cfg config.Config, sink *metrics.Sink, logger *slog.Logger) *Monitor {
	m := &Monitor{
		cfg:        cfg,
		services:   cfg.Services,
		byID:       make(map[string]models.ServiceConfig, len(cfg.Services)),
		states:     state.NewMap[models.ServiceStatus](),
		resources:  state.NewMap[models.ServiceMetrics](),
		events:     events.NewLog(),
		rates:      rates.NewTracker(rates.DefaultWindow),
		checker:    health.NewChecker(cfg.Monitoring.Timeout(), cfg.Monitoring.RetryAttempts, logger),
		stats:      collector.NewDockerStats(logger),
		sink:       sink,
		restartSem: semaphore.NewWeighted(maxConcurrentRestarts),
		log:        logger.With("module", "monitor"),
		now:        time.Now,
	}
	m.restartRun = runDockerRestart
	for _, svc := range cfg.Services {
		m.byID[svc.ID] = svc
		m.states.Set(svc.ID, models.ServiceStatus{
			ID:          svc.ID,
			Name:        svc.Name,
			Status:      models.StatusUnknown,
			LastCheck:   m.now(),
			ServiceType: svc.ServiceType,
			Critical:    svc.Critical,
		})
	}
	return m
}

// Run blocks on the two scheduler loops until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("starting monitoring loop",
		"services", len(m.services),
		"check_interval", m.cfg.Monitoring.CheckInterval().String())

	checkTicker := time.NewTicker(m.cfg.Monitoring.CheckInterval())
	defer checkTicker.Stop()
	metricsTicker := time.NewTicker(metricsInterval)
	defer metricsTicker.Stop()

	// Immediate first run so services do not sit at Unknown for a full
	// interval after startup.
	m.checkAll(ctx)
	m.metricsTick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-checkTicker.C:
			m.checkAll(ctx)
		case <-metricsTicker.C:
			m.metricsTick(ctx)
		}
	}
}

// checkAll probes every service, batch by batch. Probes within a batch run
// concurrently; batches run sequentially with a pacing delay after each
// full-sized batch.
func (m *Monitor) checkAll(ctx context.Context) {
	batchSize := m.cfg.Monitoring.BatchSize
	m.log.Debug("running health checks", "services", len(m.services))

	for start := 0; start < len(m.services); start += batchSize {
		end := min(start+batchSize, len(m.services))
		batch := m.services[start:end]

		g, gctx := errgroup.WithContext(ctx)
		for _, svc := range batch {
			svc := svc
			g.Go(func() error {
				m.checkService(gctx, svc)
				return nil
			})
		}
		_ = g.Wait()

		if len(batch) == batchSize {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interBatchDelay):
			}
		}
	}
}

func (m *Monitor) checkService(ctx context.Context, svc models.ServiceConfig) {
	elapsed, err := m.checker.Check(ctx, svc.HealthEndpoint)
	if err != nil {
		m.applyFailure(svc, err)
		return
	}
	m.applySuccess(svc, elapsed)
}

func (m *Monitor) applySuccess(svc models.ServiceConfig, elapsed time.Duration) {
	latencyMS := uint64(elapsed.Milliseconds())
	status := models.StatusHealthy
	if latencyMS > svc.ExpectedResponseTimeMS {
		status = models.StatusDegraded
	}

	var wasUnhealthy bool
	m.states.Update(svc.ID, func(s *models.ServiceStatus) {
		wasUnhealthy = s.Status == models.StatusUnhealthy
		s.Status = status
		s.LastCheck = m.now()
		rt := latencyMS
		s.ResponseTimeMS = &rt
		s.ErrorMessage = nil
	})

	m.sink.SetServiceHealth(svc, status)
	m.sink.ObserveResponseTime(svc, elapsed)
	m.sink.IncHealthCheck(svc, strings.ToLower(string(status)))

	if wasUnhealthy && status == models.StatusHealthy {
		m.emit(models.MonitorEvent{
			EventType: models.EventServiceUp,
			ServiceID: &svc.ID,
			Message:   fmt.Sprintf("Service %s is now healthy", svc.Name),
			Timestamp: m.now(),
		})
	}

	if latencyMS > m.cfg.Alerts.HighLatencyThresholdMS {
		m.log.Warn("high latency detected", "service", svc.Name, "latency_ms", latencyMS)
		m.emit(models.MonitorEvent{
			EventType: models.EventHighLatency,
			ServiceID: &svc.ID,
			Message:   fmt.Sprintf("High latency: %dms", latencyMS),
			Timestamp: m.now(),
			Data:      map[string]any{"latency_ms": latencyMS},
		})
	}

	m.log.Debug("health check ok", "service", svc.Name, "latency_ms", latencyMS)
}

func (m *Monitor) applyFailure(svc models.ServiceConfig, err error) {
	msg := err.Error()
	var wasHealthy bool
	m.states.Update(svc.ID, func(s *models.ServiceStatus) {
		wasHealthy = s.Status == models.StatusHealthy || s.Status == models.StatusDegraded
		s.Status = models.StatusUnhealthy
		s.LastCheck = m.now()
		s.ResponseTimeMS = nil
		s.ErrorMessage = &msg
	})

	m.sink.SetServiceHealth(svc, models.StatusUnhealthy)
	m.sink.IncHealthCheck(svc, "unhealthy")

	if wasHealthy {
		m.log.Error("service unhealthy", "service", svc.Name, "error", err)
		m.emit(models.MonitorEvent{
			EventType: models.EventServiceDown,
			ServiceID: &svc.ID,
			Message:   fmt.Sprintf("Service %s is unhealthy: %s", svc.Name, msg),
			Timestamp: m.now(),
			Data:      map[string]any{"error": msg},
		})
	}

	m.rates.RecordFailure(svc.ID)
}

// metricsTick runs the slow loop: metrics heartbeat event, error-rate
// gauges, and the best-effort docker stats collection.
func (m *Monitor) metricsTick(ctx context.Context) {
	m.emit(models.MonitorEvent{
		EventType: models.EventMetricsUpdate,
		Message:   "System metrics updated",
		Timestamp: m.now(),
	})

	for _, svc := range m.services {
		m.sink.SetErrorRate(svc, m.rates.Rate(svc.ID))
	}

	if !m.cfg.Monitoring.EnableDockerStats {
		return
	}
	updates, err := m.stats.Collect(ctx, m.services)
	if err != nil {
		m.log.Debug("docker stats collection failed", "error", err)
		return
	}
	for _, u := range updates {
		m.resources.Update(u.ServiceID, func(cur *models.ServiceMetrics) {
			mergeMetrics(cur, u.Metrics)
		})
		cur, _ := m.resources.Get(u.ServiceID)
		m.sink.SetResourceUsage(u.ServiceID, u.ServiceName, cur)
	}
}

// mergeMetrics overwrites only the fields the new sample carries.
func mergeMetrics(dst *models.ServiceMetrics, src models.ServiceMetrics) {
	if src.CPUUsagePercent != nil {
		dst.CPUUsagePercent = src.CPUUsagePercent
	}
	if src.MemoryUsageMB != nil {
		dst.MemoryUsageMB = src.MemoryUsageMB
	}
	if src.NetworkInBytes != nil {
		dst.NetworkInBytes = src.NetworkInBytes
	}
	if src.NetworkOutBytes != nil {
		dst.NetworkOutBytes = src.NetworkOutBytes
	}
	if src.BlockReadBytes != nil {
		dst.BlockReadBytes = src.BlockReadBytes
	}
	if src.BlockWriteBytes != nil {
		dst.BlockWriteBytes = src.BlockWriteBytes
	}
}

func (m *Monitor) emit(ev models.MonitorEvent) {
	m.events.Record(ev)
}

// GetAllServices returns a point-in-time copy of every service status.
func (m *Monitor) GetAllServices() []models.ServiceStatus {
	return m.states.Snapshot()
}

// GetServiceHealth returns the detailed view for one service, or false if
// the id is not registered.
func (m *Monitor) GetServiceHealth(serviceID string) (models.ServiceHealth, bool) {
	status, ok := m.states.Get(serviceID)
	if !ok {
		return models.ServiceHealth{}, false
	}
	res, _ := m.resources.Get(serviceID)
	return models.ServiceHealth{
		ServiceID:   serviceID,
		Status:      status.Status,
		Checks:      []models.HealthCheck{},
		Metrics:     res,
		LastUpdated: status.LastCheck,
	}, true
}

// SystemMetrics computes the fleet-wide roll-up on demand.
func (m *Monitor) SystemMetrics() models.SystemMetrics {
	services := m.states.Snapshot()

	var out models.SystemMetrics
	out.TotalServices = uint32(len(services))

	var rtSum, rtCount uint64
	for _, s := range services {
		switch s.Status {
		case models.StatusHealthy:
			out.HealthyServices++
		case models.StatusUnhealthy:
			out.UnhealthyServices++
			if s.Critical {
				out.CriticalServicesDown++
			}
		}
		if s.ResponseTimeMS != nil {
			rtSum += *s.ResponseTimeMS
			rtCount++
		}
	}
	if rtCount > 0 {
		out.AverageResponseTimeMS = float64(rtSum) / float64(rtCount)
	}

	if load, err := collector.LoadAverage(); err == nil {
		out.SystemLoadAverage = &load
	}
	out.TotalRequests = m.sink.TotalHTTPRequests()
	out.TotalErrors = m.events.CountByType(models.EventServiceDown)
	return out
}

// Subscribe attaches a new independent event receiver.
func (m *Monitor) Subscribe() *events.Subscription {
	return m.events.Subscribe()
}

// RestartService shells out to the container runtime. The call blocks, so
// callers on a latency-sensitive loop should run it from a goroutine; the
// semaphore bounds how many restarts run at once.
func (m *Monitor) RestartService(ctx context.Context, serviceID string) models.RestartResult {
	start := m.now()
	result := m.restart(ctx, serviceID)
	m.sink.ObserveRestartDuration(serviceID, m.now().Sub(start))
	return result
}

func (m *Monitor) restart(ctx context.Context, serviceID string) models.RestartResult {
	fail := func(msg string) models.RestartResult {
		return models.RestartResult{ServiceID: serviceID, Success: false, Message: msg, Timestamp: m.now()}
	}

	svc, ok := m.byID[serviceID]
	if !ok {
		return fail("Service not found")
	}
	if svc.DockerContainer == "" {
		return fail("No Docker container configured for this service")
	}

	if err := m.restartSem.Acquire(ctx, 1); err != nil {
		return fail(fmt.Sprintf("Restart cancelled: %s", err))
	}
	defer m.restartSem.Release(1)

	if err := m.restartRun(ctx, svc.DockerContainer); err != nil {
		m.log.Error("restart failed", "container", svc.DockerContainer, "error", err)
		m.sink.IncRestart(serviceID, svc.Name, false)
		return fail(fmt.Sprintf("Failed to restart container: %s", err))
	}

	m.log.Info("restarted container", "container", svc.DockerContainer)
	m.sink.IncRestart(serviceID, svc.Name, true)
	m.emit(models.MonitorEvent{
		EventType: models.EventServiceRestarted,
		ServiceID: &serviceID,
		Message:   fmt.Sprintf("Container %s restarted", svc.DockerContainer),
		Timestamp: m.now(),
	})
	return models.RestartResult{
		ServiceID: serviceID,
		Success:   true,
		Message:   fmt.Sprintf("Successfully restarted container %s", svc.DockerContainer),
		Timestamp: m.now(),
	}
}

// History exposes the bounded event log for one bucket.
func (m *Monitor) History(bucket string) []models.MonitorEvent {
	return m.events.History(bucket)
}

func runDockerRestart(ctx context.Context, container string) error {
	_, err := exec.CommandContext(ctx, "docker", "restart", container).Output()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		return errors.New(strings.TrimSpace(string(exitErr.Stderr)))
	}
	return err
}
