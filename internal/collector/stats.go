// Package collector gathers best-effort resource usage for monitored
// services from the container runtime, plus host load for the system
// roll-up. Nothing here may ever affect health state: failures are
// reported to the caller to log and swallow.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"fleetmon/internal/models"
)

// Update carries the fields successfully parsed for one service. Only
// non-nil fields overwrite the service's stored metrics.
type Update struct {
	ServiceID   string
	ServiceName string
	Metrics     models.ServiceMetrics
}

// DockerStats collects one bulk `docker stats` snapshot per cycle. The
// command is injectable for tests.
type DockerStats struct {
	log *slog.Logger
	run func(ctx context.Context) ([]byte, error)
}

func NewDockerStats(logger *slog.Logger) *DockerStats {
	return &DockerStats{
		log: logger,
		run: func(ctx context.Context) ([]byte, error) {
			out, err := exec.CommandContext(ctx, "docker",
				"stats", "--no-stream", "--format",
				"{{.Name}},{{.CPUPerc}},{{.MemUsage}},{{.NetIO}},{{.BlockIO}}",
			).Output()
			if err != nil {
				if exitErr, ok := err.(*exec.ExitError); ok {
					return nil, fmt.Errorf("docker stats failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
				}
				return nil, fmt.Errorf("docker stats failed: %w", err)
			}
			return out, nil
		},
	}
}

// Collect runs the bulk stats command and returns one Update per output
// line that matches a configured container. A command failure aborts the
// whole cycle; malformed lines are skipped.
func (c *DockerStats) Collect(ctx context.Context, services []models.ServiceConfig) ([]Update, error) {
	byContainer := make(map[string]models.ServiceConfig)
	for _, svc := range services {
		if svc.DockerContainer != "" {
			byContainer[svc.DockerContainer] = svc
		}
	}
	if len(byContainer) == 0 {
		return nil, nil
	}

	out, err := c.run(ctx)
	if err != nil {
		return nil, err
	}
	return parseStatsOutput(string(out), byContainer), nil
}

func parseStatsOutput(out string, byContainer map[string]models.ServiceConfig) []Update {
	var updates []Update
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Split(line, ",")
		if len(parts) < 4 {
			continue
		}
		svc, ok := byContainer[strings.TrimSpace(parts[0])]
		if !ok {
			continue
		}

		u := Update{ServiceID: svc.ID, ServiceName: svc.Name}

		if cpu, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(parts[1]), "%"), 64); err == nil {
			u.Metrics.CPUUsagePercent = &cpu
		}

		// MemUsage looks like "12.34MiB / 2.00GiB"; only the used side counts.
		used, _, _ := strings.Cut(parts[2], "/")
		if mb, ok := parseSizeMB(used); ok {
			mem := uint64(mb)
			u.Metrics.MemoryUsageMB = &mem
		}

		in, outSide, _ := strings.Cut(parts[3], "/")
		if b, ok := ParseSizeBytes(in); ok {
			u.Metrics.NetworkInBytes = &b
		}
		if b, ok := ParseSizeBytes(outSide); ok {
			u.Metrics.NetworkOutBytes = &b
		}

		if len(parts) >= 5 {
			read, write, _ := strings.Cut(parts[4], "/")
			if b, ok := ParseSizeBytes(read); ok {
				u.Metrics.BlockReadBytes = &b
			}
			if b, ok := ParseSizeBytes(write); ok {
				u.Metrics.BlockWriteBytes = &b
			}
		}

		updates = append(updates, u)
	}
	return updates
}

// ParseSizeBytes parses a human-readable size such as "123kB" or
// "12.3MiB" into bytes. IEC suffixes (KiB/MiB/GiB) are binary, SI
// suffixes (kB/MB/GB and bare k/m/g) are decimal. An empty or
// unparsable input yields no value.
func ParseSizeBytes(s string) (uint64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	split := len(s)
	for i, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			split = i
			break
		}
	}
	num := strings.ReplaceAll(strings.TrimSpace(s[:split]), ",", ".")
	value, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}

	var factor float64
	switch strings.ToLower(strings.TrimSpace(s[split:])) {
	case "gib":
		factor = 1024 * 1024 * 1024
	case "mib":
		factor = 1024 * 1024
	case "kib":
		factor = 1024
	case "gb", "g":
		factor = 1e9
	case "mb", "m":
		factor = 1e6
	case "kb", "k":
		factor = 1e3
	case "b", "":
		factor = 1
	default:
		return 0, false
	}
	return uint64(value * factor), true
}

func parseSizeMB(s string) (float64, bool) {
	b, ok := ParseSizeBytes(s)
	if !ok {
		return 0, false
	}
	return float64(b) / (1024 * 1024), true
}
