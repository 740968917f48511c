package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"fleetmon/internal/models"
)

// Config is the full process configuration, loaded once at startup.
type Config struct {
	Server     Server                 `mapstructure:"server"`
	Monitoring Monitoring             `mapstructure:"monitoring"`
	Alerts     Alerts                 `mapstructure:"alerts"`
	Auth       Auth                   `mapstructure:"auth"`
	Services   []models.ServiceConfig `mapstructure:"services"`
}

type Server struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type Monitoring struct {
	CheckIntervalSeconds uint `mapstructure:"check_interval_seconds"`
	TimeoutSeconds       uint `mapstructure:"timeout_seconds"`
	RetryAttempts        int  `mapstructure:"retry_attempts"`
	BatchSize            int  `mapstructure:"batch_size"`
	EnableDockerStats    bool `mapstructure:"enable_docker_stats"`
}

type Alerts struct {
	EnableNotifications    bool   `mapstructure:"enable_notifications"`
	HighLatencyThresholdMS uint64 `mapstructure:"high_latency_threshold_ms"`
	WebhookURL             string `mapstructure:"webhook_url"`
}

type Auth struct {
	APIKey       string `mapstructure:"api_key"`
	JWTSecret    string `mapstructure:"jwt_secret"`
	AllowedRoles string `mapstructure:"allowed_roles"`
}

func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (m Monitoring) CheckInterval() time.Duration {
	return time.Duration(m.CheckIntervalSeconds) * time.Second
}

func (m Monitoring) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// Load reads config.yaml from the given directory (falling back to the
// working directory), applies FLEETMON_* environment overrides, and fills
// every missing knob with a default. A missing config file is not an error.
func Load(dir string) (Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9090)
	v.SetDefault("monitoring.check_interval_seconds", 30)
	v.SetDefault("monitoring.timeout_seconds", 10)
	v.SetDefault("monitoring.retry_attempts", 3)
	v.SetDefault("monitoring.batch_size", 5)
	v.SetDefault("monitoring.enable_docker_stats", true)
	v.SetDefault("alerts.enable_notifications", false)
	v.SetDefault("alerts.high_latency_threshold_ms", 2000)
	v.SetDefault("alerts.webhook_url", "")
	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.allowed_roles", "admin,orchestrate")

	v.SetEnvPrefix("FLEETMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Monitoring.RetryAttempts < 1 {
		cfg.Monitoring.RetryAttempts = 1
	}
	if cfg.Monitoring.BatchSize < 1 {
		cfg.Monitoring.BatchSize = 1
	}
	if len(cfg.Services) == 0 {
		cfg.Services = DefaultServices()
	}
	if err := validateServices(cfg.Services); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateServices(services []models.ServiceConfig) error {
	seen := make(map[string]bool, len(services))
	for _, svc := range services {
		if svc.ID == "" {
			return fmt.Errorf("service with empty id (name %q)", svc.Name)
		}
		if svc.HealthEndpoint == "" {
			return fmt.Errorf("service %s has no health_endpoint", svc.ID)
		}
		if seen[svc.ID] {
			return fmt.Errorf("duplicate service id %s", svc.ID)
		}
		seen[svc.ID] = true
	}
	return nil
}

// DefaultServices is the fleet monitored when no config file lists one.
func DefaultServices() []models.ServiceConfig {
	return []models.ServiceConfig{
		{
			ID:                     "api",
			Name:                   "API Service",
			HealthEndpoint:         "http://api:8000/health",
			ServiceType:            models.TypeAPI,
			DockerContainer:        "api",
			ExpectedResponseTimeMS: 500,
			Critical:               true,
		},
		{
			ID:                     "auth",
			Name:                   "Authentication Service",
			HealthEndpoint:         "http://auth:4100/health",
			ServiceType:            models.TypeAuth,
			DockerContainer:        "auth",
			ExpectedResponseTimeMS: 300,
			Critical:               true,
		},
		{
			ID:                     "worker",
			Name:                   "Background Worker",
			HealthEndpoint:         "http://worker:8006/health",
			ServiceType:            models.TypeWorker,
			DockerContainer:        "worker",
			ExpectedResponseTimeMS: 500,
			Critical:               false,
		},
		{
			ID:                     "web",
			Name:                   "Web Interface",
			HealthEndpoint:         "http://web:3000/health",
			ServiceType:            models.TypeWeb,
			DockerContainer:        "web",
			ExpectedResponseTimeMS: 300,
			Critical:               true,
		},
	}
}
