// Package app wires the monitoring engine, the docker-facing runners, and
// the web surface together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"fleetmon/internal/auth"
	"fleetmon/internal/compose"
	"fleetmon/internal/config"
	"fleetmon/internal/docker"
	"fleetmon/internal/metrics"
	"fleetmon/internal/monitor"
	"fleetmon/internal/notifier"
	"fleetmon/internal/web"
)

type App struct {
	cfg config.Config
	log *slog.Logger

	sink    *metrics.Sink
	monitor *monitor.Monitor
	docker  *docker.Client
	compose *compose.Runner
	gate    *auth.Gate
	notify  *notifier.Webhook
	web     *web.Server

	httpSrv *http.Server
}

func New(cfg config.Config, logger *slog.Logger) *App {
	sink := metrics.NewSink()
	mon := monitor.New(cfg, sink, logger)
	gate := auth.NewGate(cfg.Auth.JWTSecret, cfg.Auth.APIKey, splitRoles(cfg.Auth.AllowedRoles), logger)
	dc := docker.NewClient(docker.DefaultSocketPath)
	runner := compose.NewRunner(dc, sink, logger)
	wh := notifier.NewWebhook(cfg.Alerts.WebhookURL, logger)
	srv := web.NewServer(mon, runner, gate, sink, logger)

	app := &App{
		cfg:     cfg,
		log:     logger,
		sink:    sink,
		monitor: mon,
		docker:  dc,
		compose: runner,
		gate:    gate,
		notify:  wh,
		web:     srv,
	}
	app.httpSrv = &http.Server{Addr: cfg.Server.Addr(), Handler: srv.Routes()}
	return app
}

// Run blocks until ctx is cancelled, then shuts the HTTP server down.
func (a *App) Run(ctx context.Context) error {
	go func() {
		a.log.Info("http server listening", "addr", a.cfg.Server.Addr())
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server failed", "err", err)
		}
	}()

	go a.sink.TrackUptime(ctx)

	if a.cfg.Alerts.EnableNotifications && a.notify.Enabled() {
		sub := a.monitor.Subscribe()
		defer sub.Close()
		go a.notify.Forward(ctx, sub.Events())
	}

	err := a.monitor.Run(ctx)
	_ = a.httpSrv.Shutdown(context.Background())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func splitRoles(csv string) []string {
	var roles []string
	for _, r := range strings.Split(csv, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
