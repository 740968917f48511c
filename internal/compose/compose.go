// Package compose runs docker compose lifecycle actions. Container-level
// actions (ps, start, stop, restart, logs) go through the engine API;
// actions that need the compose file semantics (build, pull, push, up)
// shell out to the docker compose CLI.
package compose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"fleetmon/internal/docker"
	"fleetmon/internal/metrics"
)

type Action string

const (
	ActionBuild   Action = "build"
	ActionPull    Action = "pull"
	ActionUp      Action = "up"
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionPush    Action = "push"
	ActionPs      Action = "ps"
	ActionLogs    Action = "logs"
)

func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActionBuild, ActionPull, ActionUp, ActionStart, ActionStop,
		ActionRestart, ActionPush, ActionPs, ActionLogs:
		return a, nil
	}
	return "", fmt.Errorf("unknown compose action %q", s)
}

const (
	defaultComposeFile = "docker-compose.yml"
	defaultLogTail     = 100
)

// Request is one compose invocation, deserialized from the REST body or
// built by the CLI entrypoint.
type Request struct {
	Action   Action   `json:"action"`
	Services []string `json:"services"`
	File     string   `json:"file"`
	Project  string   `json:"project"`
	Detach   bool     `json:"detach"`
	Tail     *uint32  `json:"tail"`
	DryRun   bool     `json:"dry_run"`
}

// Result reports a finished compose action back to the caller.
type Result struct {
	Action     string   `json:"action"`
	Services   []string `json:"services"`
	Success    bool     `json:"success"`
	StatusCode *int     `json:"status_code"`
	Stdout     string   `json:"stdout"`
	Stderr     string   `json:"stderr"`
}

// containerAPI is the slice of the engine client the runner drives.
type containerAPI interface {
	ListContainers(ctx context.Context) ([]docker.ContainerSummary, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string) error
	RestartContainer(ctx context.Context, id string) error
	LogLines(ctx context.Context, id string, tail int) ([]string, error)
}

type Runner struct {
	api    containerAPI
	runCLI func(ctx context.Context, args []string) (stdout, stderr string, code int, err error)
	sink   *metrics.Sink
	log    *slog.Logger
	now    func() time.Time
}

func NewRunner(api containerAPI, sink *metrics.Sink, logger *slog.Logger) *Runner {
	return &Runner{
		api:    api,
		runCLI: runDockerCLI,
		sink:   sink,
		log:    logger.With("module", "compose"),
		now:    time.Now,
	}
}

// Execute runs the request and always returns a Result; only transport
// level failures (engine unreachable) surface as an error.
func (r *Runner) Execute(ctx context.Context, req Request) (Result, error) {
	if req.File == "" {
		req.File = defaultComposeFile
	}
	action := string(req.Action)

	if req.DryRun {
		r.sink.IncComposeAction(action, true)
		code := 0
		return Result{
			Action:     action,
			Services:   req.Services,
			Success:    true,
			StatusCode: &code,
			Stdout:     "dry-run",
		}, nil
	}

	start := r.now()
	result, err := r.execute(ctx, req)
	if err != nil {
		return Result{}, err
	}
	elapsed := r.now().Sub(start)
	r.sink.ObserveComposeDuration(action, elapsed)
	r.sink.IncComposeAction(action, result.Success)
	if result.Success {
		r.log.Info("compose action ok", "action", action, "services", req.Services, "elapsed", elapsed.String())
	} else {
		r.log.Warn("compose action failed", "action", action, "services", req.Services, "stderr", result.Stderr)
	}
	return result, nil
}

func (r *Runner) execute(ctx context.Context, req Request) (Result, error) {
	action := string(req.Action)
	code := 0
	result := Result{Action: action, Services: req.Services, Success: true, StatusCode: &code}

	switch req.Action {
	case ActionPs:
		containers, err := r.api.ListContainers(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("list containers: %w", err)
		}
		var table strings.Builder
		for _, c := range containers {
			if len(c.Names) == 0 {
				continue
			}
			name := strings.TrimPrefix(c.Names[0], "/")
			if len(req.Services) > 0 && !anyContains(name, req.Services) {
				continue
			}
			fmt.Fprintf(&table, "%s\t%s\t%s\n", name, c.State, c.Status)
		}
		result.Stdout = table.String()

	case ActionLogs:
		if len(req.Services) == 0 {
			result.Success = false
			result.Stderr = "no services specified for logs; provide service names\n"
			return result, nil
		}
		tail := defaultLogTail
		if req.Tail != nil {
			tail = int(*req.Tail)
		}
		var out, errs strings.Builder
		for _, svc := range req.Services {
			lines, err := r.api.LogLines(ctx, svc, tail)
			if err != nil {
				fmt.Fprintf(&errs, "logs %s: %s\n", svc, err)
				result.Success = false
				continue
			}
			for _, line := range lines {
				out.WriteString(line)
				out.WriteByte('\n')
			}
		}
		result.Stdout = out.String()
		result.Stderr = errs.String()

	case ActionBuild, ActionPull, ActionPush:
		// Registry auth and build contexts need the compose file; let the
		// CLI handle those.
		return r.runComposeCLI(ctx, req)

	case ActionUp, ActionStart:
		for _, svc := range req.Services {
			if err := r.api.StartContainer(ctx, svc); err != nil {
				r.log.Warn("start via engine API failed, falling back to compose CLI",
					"service", svc, "error", err)
				return r.runComposeCLI(ctx, req)
			}
		}
		// An empty service list means the whole compose file; the engine
		// API cannot resolve that without parsing it.
		if len(req.Services) == 0 {
			return r.runComposeCLI(ctx, req)
		}
		result.Stdout = fmt.Sprintf("Started %d containers", len(req.Services))

	case ActionStop:
		var errs strings.Builder
		for _, svc := range req.Services {
			if err := r.api.StopContainer(ctx, svc); err != nil {
				fmt.Fprintf(&errs, "stop %s: %s\n", svc, err)
				result.Success = false
			}
		}
		result.Stderr = errs.String()

	case ActionRestart:
		var errs strings.Builder
		for _, svc := range req.Services {
			if err := r.api.RestartContainer(ctx, svc); err != nil {
				fmt.Fprintf(&errs, "restart %s: %s\n", svc, err)
				result.Success = false
			}
		}
		result.Stderr = errs.String()

	default:
		return Result{}, fmt.Errorf("unknown compose action %q", req.Action)
	}
	return result, nil
}

func (r *Runner) runComposeCLI(ctx context.Context, req Request) (Result, error) {
	args := []string{"compose", "-f", req.File}
	if req.Project != "" {
		args = append(args, "-p", req.Project)
	}
	args = append(args, string(req.Action))
	switch req.Action {
	case ActionUp:
		if req.Detach {
			args = append(args, "-d")
		}
	case ActionLogs:
		if req.Detach {
			args = append(args, "-f")
		}
		if req.Tail != nil {
			args = append(args, "--tail", strconv.FormatUint(uint64(*req.Tail), 10))
		}
	}
	args = append(args, req.Services...)

	r.log.Debug("running compose CLI", "args", args)
	stdout, stderr, code, err := r.runCLI(ctx, args)
	if err != nil {
		return Result{}, fmt.Errorf("invoke docker: %w", err)
	}
	return Result{
		Action:     string(req.Action),
		Services:   req.Services,
		Success:    code == 0,
		StatusCode: &code,
		Stdout:     stdout,
		Stderr:     stderr,
	}, nil
}

func anyContains(name string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(name, n) {
			return true
		}
	}
	return false
}

func runDockerCLI(ctx context.Context, args []string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), stderr.String(), exitErr.ExitCode(), nil
		}
		return "", "", 0, err
	}
	return stdout.String(), stderr.String(), 0, nil
}
