package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"fleetmon/internal/models"
)

func TestParseSizeBytes(t *testing.T) {
	mib := 12.3
	gib := 1.2
	cases := []struct {
		in   string
		want uint64
		ok   bool
	}{
		{"123kB", 123000, true},
		{"12.3MiB", uint64(mib * 1024 * 1024), true},
		{"1.2GiB", uint64(gib * 1024 * 1024 * 1024), true},
		{"2GB", 2000000000, true},
		{"512KiB", 512 * 1024, true},
		{"45k", 45000, true},
		{"1,5m", 1500000, true},
		{"800B", 800, true},
		{"64", 64, true},
		{"", 0, false},
		{"abc", 0, false},
		{"12XB", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseSizeBytes(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ParseSizeBytes(%q) = %d, %v; want %d, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func testServices() []models.ServiceConfig {
	return []models.ServiceConfig{
		{ID: "api", Name: "API Service", DockerContainer: "api"},
		{ID: "worker", Name: "Background Worker", DockerContainer: "worker"},
		{ID: "probe-only", Name: "No Container"},
	}
}

func TestCollectParsesMatchingLines(t *testing.T) {
	output := "api,1.25%,12.34MiB / 2.00GiB,123kB / 45kB,12.3MB / 4.5MB\n" +
		"stranger,50%,1GiB / 2GiB,1kB / 1kB,0B / 0B\n" +
		"worker,0.10%,256MiB / 1GiB,10MB / 2MB\n"

	c := NewDockerStats(slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.run = func(context.Context) ([]byte, error) { return []byte(output), nil }

	updates, err := c.Collect(context.Background(), testServices())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("updates = %d, want 2 (unknown container skipped)", len(updates))
	}

	api := updates[0]
	if api.ServiceID != "api" {
		t.Fatalf("first update for %s", api.ServiceID)
	}
	if api.Metrics.CPUUsagePercent == nil || *api.Metrics.CPUUsagePercent != 1.25 {
		t.Fatalf("cpu = %v", api.Metrics.CPUUsagePercent)
	}
	if api.Metrics.MemoryUsageMB == nil || *api.Metrics.MemoryUsageMB != 12 {
		t.Fatalf("mem = %v, want 12 MB (used side only)", api.Metrics.MemoryUsageMB)
	}
	if api.Metrics.NetworkInBytes == nil || *api.Metrics.NetworkInBytes != 123000 {
		t.Fatalf("net in = %v", api.Metrics.NetworkInBytes)
	}
	if api.Metrics.NetworkOutBytes == nil || *api.Metrics.NetworkOutBytes != 45000 {
		t.Fatalf("net out = %v", api.Metrics.NetworkOutBytes)
	}
	if api.Metrics.BlockReadBytes == nil || *api.Metrics.BlockReadBytes != 12300000 {
		t.Fatalf("block read = %v", api.Metrics.BlockReadBytes)
	}
	if api.Metrics.BlockWriteBytes == nil || *api.Metrics.BlockWriteBytes != 4500000 {
		t.Fatalf("block write = %v", api.Metrics.BlockWriteBytes)
	}

	// Worker line has no block IO column: those fields stay unset.
	worker := updates[1]
	if worker.Metrics.BlockReadBytes != nil || worker.Metrics.BlockWriteBytes != nil {
		t.Fatalf("block fields should be nil without a block column")
	}
}

func TestCollectSkipsMalformedLines(t *testing.T) {
	output := "api\ngarbage,line\napi,not-a-number%,?? / ??,? / ?\n"
	c := NewDockerStats(slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.run = func(context.Context) ([]byte, error) { return []byte(output), nil }

	updates, err := c.Collect(context.Background(), testServices())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	// The last line matches "api" but every field is unparsable, so the
	// update carries no values.
	if len(updates) != 1 {
		t.Fatalf("updates = %d", len(updates))
	}
	m := updates[0].Metrics
	if m.CPUUsagePercent != nil || m.MemoryUsageMB != nil || m.NetworkInBytes != nil {
		t.Fatalf("unparsable fields produced values: %+v", m)
	}
}

func TestCollectCommandFailureAbortsCycle(t *testing.T) {
	c := NewDockerStats(slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.run = func(context.Context) ([]byte, error) { return nil, errors.New("docker stats failed: boom") }
	if _, err := c.Collect(context.Background(), testServices()); err == nil {
		t.Fatal("expected error from failing stats command")
	}
}

func TestCollectNoContainersNoCommand(t *testing.T) {
	ran := false
	c := NewDockerStats(slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.run = func(context.Context) ([]byte, error) { ran = true; return nil, nil }

	updates, err := c.Collect(context.Background(), []models.ServiceConfig{{ID: "x", Name: "X"}})
	if err != nil || updates != nil {
		t.Fatalf("got %v, %v", updates, err)
	}
	if ran {
		t.Fatal("stats command ran with no configured containers")
	}
}
