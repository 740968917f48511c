// Package web exposes the REST and websocket surface over the monitoring
// engine.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"

	"fleetmon/internal/compose"
	"fleetmon/internal/metrics"
	"fleetmon/internal/models"
	"fleetmon/internal/ws"
)

// authGate covers both the header-based REST check and the token check
// the websocket sessions use.
type authGate interface {
	AuthorizeRequest(r *http.Request) bool
	AuthorizeToken(token string) bool
}

type composeRunner interface {
	Execute(ctx context.Context, req compose.Request) (compose.Result, error)
}

type Server struct {
	monitor  ws.MonitorAPI
	runner   composeRunner
	gate     authGate
	sink     *metrics.Sink
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewServer(monitor ws.MonitorAPI, runner composeRunner, gate authGate, sink *metrics.Sink, logger *slog.Logger) *Server {
	return &Server{
		monitor: monitor,
		runner:  runner,
		gate:    gate,
		sink:    sink,
		log:     logger.With("module", "web"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard may be served from another origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.httpMetrics)

	r.Get("/health", s.handleHealth)
	r.Get("/health/aggregate", s.handleAggregateHealth)
	r.Method(http.MethodGet, "/metrics", s.sink.Handler())
	r.Get("/api/services", s.handleServices)
	r.Get("/api/services/{serviceID}/health", s.handleServiceHealth)
	r.Post("/api/services/{serviceID}/restart", s.handleRestart)
	r.Get("/api/metrics", s.handleSystemMetrics)
	r.Post("/api/compose", s.handleCompose)
	r.Get("/ws", s.handleWebsocket)
	return r
}

// httpMetrics records a counter and duration sample per request, labeled
// by the matched route pattern to keep cardinality bounded.
func (s *Server) httpMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		s.sink.RecordHTTPRequest(r.Method, path, ww.Status(), time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"status":    "healthy",
		"service":   "fleetmon",
		"timestamp": time.Now().UTC(),
	})
}

type aggregateService struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Status         string    `json:"status"`
	RawStatus      string    `json:"rawStatus"`
	LastCheck      time.Time `json:"lastCheck"`
	ResponseTimeMS *uint64   `json:"responseTimeMs"`
	Critical       bool      `json:"critical"`
}

type aggregateHealth struct {
	OverallStatus   string             `json:"overallStatus"`
	TotalServices   int                `json:"totalServices"`
	HealthyServices int                `json:"healthyServices"`
	WarningServices int                `json:"warningServices"`
	ErrorServices   int                `json:"errorServices"`
	OfflineServices int                `json:"offlineServices"`
	LastUpdate      time.Time          `json:"lastUpdate"`
	Services        []aggregateService `json:"services"`
}

// handleAggregateHealth serves the frontend-oriented roll-up: Degraded
// maps to "warning", Unhealthy to "error", Unknown to "offline".
func (s *Server) handleAggregateHealth(w http.ResponseWriter, r *http.Request) {
	services := s.monitor.GetAllServices()

	out := aggregateHealth{
		TotalServices: len(services),
		LastUpdate:    time.Now().UTC(),
		Services:      make([]aggregateService, 0, len(services)),
	}
	for _, svc := range services {
		mapped := "offline"
		switch svc.Status {
		case models.StatusHealthy:
			out.HealthyServices++
			mapped = "healthy"
		case models.StatusDegraded:
			out.WarningServices++
			mapped = "warning"
		case models.StatusUnhealthy:
			out.ErrorServices++
			mapped = "error"
		default:
			out.OfflineServices++
		}
		out.Services = append(out.Services, aggregateService{
			ID:             svc.ID,
			Name:           svc.Name,
			Status:         mapped,
			RawStatus:      string(svc.Status),
			LastCheck:      svc.LastCheck,
			ResponseTimeMS: svc.ResponseTimeMS,
			Critical:       svc.Critical,
		})
	}
	switch {
	case out.ErrorServices > 0:
		out.OverallStatus = "critical"
	case out.WarningServices > 0 || out.OfflineServices > 0:
		out.OverallStatus = "degraded"
	default:
		out.OverallStatus = "healthy"
	}
	render.JSON(w, r, out)
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.monitor.GetAllServices())
}

func (s *Server) handleServiceHealth(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceID")
	var health *models.ServiceHealth
	if h, ok := s.monitor.GetServiceHealth(serviceID); ok {
		health = &h
	}
	render.JSON(w, r, health)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceID")
	if !s.gate.AuthorizeRequest(r) {
		s.sink.IncRestartUnauthorized()
		s.log.Warn("unauthorized restart attempt", "service_id", serviceID)
		render.JSON(w, r, models.RestartResult{
			ServiceID: serviceID,
			Success:   false,
			Message:   "unauthorized",
			Timestamp: time.Now().UTC(),
		})
		return
	}
	result := s.monitor.RestartService(r.Context(), serviceID)
	s.log.Info("restart result", "service_id", serviceID, "success", result.Success)
	render.JSON(w, r, result)
}

func (s *Server) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.monitor.SystemMetrics())
}

func (s *Server) handleCompose(w http.ResponseWriter, r *http.Request) {
	if !s.gate.AuthorizeRequest(r) {
		s.sink.IncComposeUnauthorized()
		s.log.Warn("unauthorized compose attempt")
		code := http.StatusUnauthorized
		render.Status(r, code)
		render.JSON(w, r, compose.Result{
			Action:     "error",
			Services:   []string{},
			Success:    false,
			StatusCode: &code,
			Stderr:     "unauthorized",
		})
		return
	}

	var req compose.Request
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, compose.Result{
			Action:   "error",
			Services: []string{},
			Stderr:   err.Error(),
		})
		return
	}
	action, err := compose.ParseAction(string(req.Action))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, compose.Result{
			Action:   "error",
			Services: req.Services,
			Stderr:   err.Error(),
		})
		return
	}
	req.Action = action

	result, err := s.runner.Execute(r.Context(), req)
	if err != nil {
		result = compose.Result{
			Action:   "error",
			Services: []string{},
			Stderr:   err.Error(),
		}
	}
	if !result.Success {
		render.Status(r, http.StatusInternalServerError)
	}
	s.log.Info("compose completed", "action", req.Action, "success", result.Success)
	render.JSON(w, r, result)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	session := ws.NewSession(conn, s.monitor, s.gate, s.sink, s.log)
	session.Run(r.Context())
}
