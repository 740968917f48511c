// Package ws implements the streaming session protocol: one session per
// websocket client, multiplexing inbound commands, periodic snapshots,
// and filtered live event push.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"fleetmon/internal/events"
	"fleetmon/internal/models"
)

const updateInterval = 5 * time.Second

// Conn is the slice of *websocket.Conn a session drives.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// MonitorAPI is what a session needs from the monitoring engine.
type MonitorAPI interface {
	GetAllServices() []models.ServiceStatus
	SystemMetrics() models.SystemMetrics
	GetServiceHealth(serviceID string) (models.ServiceHealth, bool)
	RestartService(ctx context.Context, serviceID string) models.RestartResult
	Subscribe() *events.Subscription
}

// Authorizer gates privileged commands by bearer token.
type Authorizer interface {
	AuthorizeToken(token string) bool
}

// SessionCounter tracks the live-connection gauge.
type SessionCounter interface {
	IncSessions()
	DecSessions()
	IncRestartUnauthorized()
}

type clientCommand struct {
	CommandType string          `json:"command_type"`
	ServiceID   *string         `json:"service_id"`
	Data        json.RawMessage `json:"data"`
	Token       *string         `json:"token"`
	EventTypes  []string        `json:"event_types"`
}

// eventFilter is the session-local subscription filter. A nil filter or a
// nil dimension matches everything.
type eventFilter struct {
	serviceID  *string
	eventTypes []string
}

func (f *eventFilter) matches(ev models.MonitorEvent) bool {
	if f == nil {
		return true
	}
	if f.serviceID != nil {
		if ev.ServiceID == nil || *ev.ServiceID != *f.serviceID {
			return false
		}
	}
	if f.eventTypes != nil {
		name := string(ev.EventType)
		found := false
		for _, t := range f.eventTypes {
			if strings.EqualFold(t, name) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type restartOutcome struct {
	serviceID string
	result    models.RestartResult
}

type Session struct {
	conn    Conn
	monitor MonitorAPI
	gate    Authorizer
	counter SessionCounter
	log     *slog.Logger

	filter   *eventFilter
	restarts chan restartOutcome
}

func NewSession(conn Conn, monitor MonitorAPI, gate Authorizer, counter SessionCounter, logger *slog.Logger) *Session {
	return &Session{
		conn:     conn,
		monitor:  monitor,
		gate:     gate,
		counter:  counter,
		log:      logger.With("module", "ws"),
		restarts: make(chan restartOutcome, 4),
	}
}

// Run drives the session until the client disconnects, a write fails, or
// ctx is cancelled. The live-connection gauge is decremented exactly once
// on any exit path.
func (s *Session) Run(ctx context.Context) {
	s.counter.IncSessions()
	defer s.counter.DecSessions()
	defer s.conn.Close()

	s.log.Debug("session established")
	defer s.log.Debug("session terminated")

	if err := s.writeJSON(map[string]any{
		"type":     "initial",
		"services": s.monitor.GetAllServices(),
		"metrics":  s.monitor.SystemMetrics(),
	}); err != nil {
		s.log.Warn("failed to send initial snapshot", "error", err)
		return
	}

	sub := s.monitor.Subscribe()
	defer sub.Close()

	// The read side has no cancellable API; closing the conn on return
	// unblocks it.
	inbound := make(chan []byte)
	go s.readPump(inbound)

	ticker := time.NewTicker(updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case data, ok := <-inbound:
			if !ok {
				return
			}
			s.handleMessage(ctx, data)

		case <-ticker.C:
			err := s.writeJSON(map[string]any{
				"type":      "update",
				"services":  s.monitor.GetAllServices(),
				"metrics":   s.monitor.SystemMetrics(),
				"timestamp": time.Now().UTC(),
			})
			if err != nil {
				s.log.Warn("failed to send update", "error", err)
				return
			}

		case ev := <-sub.Events():
			if !s.filter.matches(ev) {
				continue
			}
			if err := s.writeJSON(map[string]any{"type": "event", "event": ev}); err != nil {
				return
			}

		case out := <-s.restarts:
			err := s.writeJSON(map[string]any{
				"type":       "restart_result",
				"service_id": out.serviceID,
				"result":     out.result,
			})
			if err != nil {
				s.log.Error("failed to send restart result", "error", err)
				return
			}
		}
	}
}

func (s *Session) readPump(inbound chan<- []byte) {
	defer close(inbound)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		inbound <- data
	}
}

func (s *Session) handleMessage(ctx context.Context, data []byte) {
	var cmd clientCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.log.Debug("ignoring malformed message", "error", err)
		return
	}

	switch cmd.CommandType {
	case "restart_service":
		token := ""
		if cmd.Token != nil {
			token = *cmd.Token
		}
		if !s.gate.AuthorizeToken(token) {
			s.counter.IncRestartUnauthorized()
			s.log.Warn("unauthorized restart command")
			_ = s.writeJSON(map[string]any{"type": "error", "reason": "unauthorized"})
			return
		}
		if cmd.ServiceID == nil {
			return
		}
		// Restarts shell out and block; run them off the session loop so
		// snapshots and events keep flowing.
		id := *cmd.ServiceID
		go func() {
			result := s.monitor.RestartService(ctx, id)
			select {
			case s.restarts <- restartOutcome{serviceID: id, result: result}:
			case <-ctx.Done():
			}
		}()

	case "get_service_details":
		if cmd.ServiceID == nil {
			return
		}
		var health *models.ServiceHealth
		if h, ok := s.monitor.GetServiceHealth(*cmd.ServiceID); ok {
			health = &h
		}
		_ = s.writeJSON(map[string]any{
			"type":       "service_details",
			"service_id": *cmd.ServiceID,
			"health":     health,
		})

	case "subscribe_events":
		s.filter = &eventFilter{serviceID: cmd.ServiceID, eventTypes: cmd.EventTypes}
		_ = s.writeJSON(map[string]any{
			"type": "subscription_confirmed",
			"filters": map[string]any{
				"service_id":  cmd.ServiceID,
				"event_types": cmd.EventTypes,
			},
			"message": "Event streaming active",
		})

	case "clear_subscription":
		s.filter = nil
		_ = s.writeJSON(map[string]any{
			"type":    "subscription_cleared",
			"message": "Event subscription cleared (now receiving all events)",
		})

	default:
		s.log.Warn("unknown command type", "command_type", cmd.CommandType)
	}
}

func (s *Session) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, b)
}
