package score

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/modhealthd/modhealthd/pkg/config"
)

// Probe is the answer to one yes/no question about a module. The diagnostic
// is carried through into the scored check but never parsed.
type Probe struct {
	Passed     bool
	Diagnostic string
}

// Prober is the external build/test collaborator. Each question is asked
// independently and enforces its own timeout; a probe that cannot execute
// reports a failed Probe rather than an error.
type Prober interface {
	Exists(ctx context.Context, module config.ModuleConfig) Probe
	Builds(ctx context.Context, module config.ModuleConfig) Probe
	Tests(ctx context.Context, module config.ModuleConfig) Probe
}

// ExecProber answers probe questions by shelling out to the configured
// build and test commands with the module directory as working directory.
type ExecProber struct {
	buildCmd []string
	testCmd  []string
	timeout  time.Duration
}

// NewExecProber constructs a prober from the probe configuration.
func NewExecProber(cfg config.ProbeConfig) *ExecProber {
	return &ExecProber{
		buildCmd: append([]string(nil), cfg.BuildCmd...),
		testCmd:  append([]string(nil), cfg.TestCmd...),
		timeout:  cfg.Timeout(),
	}
}

// Exists reports whether the module directory is present and is a directory.
func (p *ExecProber) Exists(ctx context.Context, module config.ModuleConfig) Probe {
	select {
	case <-ctx.Done():
		return Probe{Diagnostic: ctx.Err().Error()}
	default:
	}

	info, err := os.Stat(module.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Probe{Diagnostic: fmt.Sprintf("module path %s does not exist", module.Path)}
		}
		return Probe{Diagnostic: fmt.Sprintf("stat %s: %v", module.Path, err)}
	}
	if !info.IsDir() {
		return Probe{Diagnostic: fmt.Sprintf("module path %s is not a directory", module.Path)}
	}
	return Probe{Passed: true}
}

// Builds runs the configured build command inside the module directory.
// An unconfigured command passes vacuously so that scoring still works in
// workspaces without a build step.
func (p *ExecProber) Builds(ctx context.Context, module config.ModuleConfig) Probe {
	if len(p.buildCmd) == 0 {
		return Probe{Passed: true, Diagnostic: "build probe not configured"}
	}
	return p.run(ctx, module, p.buildCmd)
}

// Tests runs the configured type-check/test command inside the module directory.
func (p *ExecProber) Tests(ctx context.Context, module config.ModuleConfig) Probe {
	if len(p.testCmd) == 0 {
		return Probe{Passed: true, Diagnostic: "test probe not configured"}
	}
	return p.run(ctx, module, p.testCmd)
}

func (p *ExecProber) run(ctx context.Context, module config.ModuleConfig, command []string) Probe {
	execCtx := ctx
	var cancel context.CancelFunc
	if p.timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, command[0], command[1:]...)
	cmd.Dir = module.Path
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if execCtx.Err() != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return Probe{Diagnostic: fmt.Sprintf("probe timed out after %s", p.timeout)}
		}
		return Probe{Diagnostic: execCtx.Err().Error()}
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Probe{Diagnostic: firstNonEmpty(
				strings.TrimSpace(stderr.String()),
				strings.TrimSpace(stdout.String()),
				fmt.Sprintf("exit code %d", exitErr.ExitCode()),
			)}
		}
		// The probe tool itself could not run; that is a failed check,
		// never a scorer fault.
		return Probe{Diagnostic: fmt.Sprintf("probe command failed to start: %v", err)}
	}

	return Probe{Passed: true}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ Prober = (*ExecProber)(nil)
