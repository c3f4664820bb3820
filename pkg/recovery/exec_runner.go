package recovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/modhealthd/modhealthd/pkg/config"
)

// ExecStrategyRunner drives the external recovery commands with os/exec.
type ExecStrategyRunner struct {
	workspaceRoot      string
	dependencyCheckCmd []string
	rebuildCmd         []string
	fullRecoveryCmd    []string
	forceFlag          string
	timeout            time.Duration
}

// NewExecStrategyRunner constructs a runner from the recovery configuration.
func NewExecStrategyRunner(workspaceRoot string, cfg config.RecoveryConfig) *ExecStrategyRunner {
	return &ExecStrategyRunner{
		workspaceRoot:      workspaceRoot,
		dependencyCheckCmd: append([]string(nil), cfg.DependencyCheckCmd...),
		rebuildCmd:         append([]string(nil), cfg.RebuildCmd...),
		fullRecoveryCmd:    append([]string(nil), cfg.FullRecoveryCmd...),
		forceFlag:          cfg.ForceFlag,
		timeout:            cfg.Timeout(),
	}
}

// CheckDependencies implements StrategyRunner. An unconfigured command
// verifies nothing and succeeds vacuously.
func (r *ExecStrategyRunner) CheckDependencies(ctx context.Context) error {
	if len(r.dependencyCheckCmd) == 0 {
		return nil
	}
	return r.run(ctx, r.dependencyCheckCmd)
}

// RebuildModule implements StrategyRunner by appending the module identifier
// to the configured rebuild command.
func (r *ExecStrategyRunner) RebuildModule(ctx context.Context, moduleID string) error {
	if len(r.rebuildCmd) == 0 {
		return errors.New("rebuild command is not configured")
	}
	command := append(append([]string(nil), r.rebuildCmd...), moduleID)
	return r.run(ctx, command)
}

// FullRecovery implements StrategyRunner; force appends the configured
// no-shortcut flag.
func (r *ExecStrategyRunner) FullRecovery(ctx context.Context, force bool) error {
	command := append([]string(nil), r.fullRecoveryCmd...)
	if force && r.forceFlag != "" {
		command = append(command, r.forceFlag)
	}
	return r.run(ctx, command)
}

func (r *ExecStrategyRunner) run(ctx context.Context, command []string) error {
	if len(command) == 0 {
		return errors.New("recovery command is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if r.timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, command[0], command[1:]...)
	cmd.Dir = r.workspaceRoot
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if execCtx.Err() != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("recovery command %q timed out after %s", strings.Join(command, " "), r.timeout)
		}
		return execCtx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			detail := strings.TrimSpace(stderr.String())
			if detail == "" {
				detail = fmt.Sprintf("exit code %d", exitErr.ExitCode())
			}
			return fmt.Errorf("recovery command %q failed: %s", strings.Join(command, " "), detail)
		}
		return fmt.Errorf("run recovery command %q: %w", strings.Join(command, " "), err)
	}
	return nil
}

var _ StrategyRunner = (*ExecStrategyRunner)(nil)
