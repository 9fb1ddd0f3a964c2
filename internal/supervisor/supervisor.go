// Package supervisor runs one composed disk image under one execution
// policy inside the external emulator, with hard guarantees about
// isolation and termination no matter what the payload does.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sectorlab/mbrlab/internal/image"
	"github.com/sectorlab/mbrlab/internal/logging"
	"github.com/sectorlab/mbrlab/internal/registry"
)

// State is a stage in the supervision lifecycle.
type State string

// Lifecycle states. LaunchFailed and the three post-Running states are
// terminal.
const (
	StateNotStarted   State = "not_started"
	StateLaunching    State = "launching"
	StateRunning      State = "running"
	StateCompleted    State = "completed"
	StateTimedOut     State = "timed_out"
	StateCrashed      State = "crashed"
	StateLaunchFailed State = "launch_failed"
)

func allowedTransition(from, to State) bool {
	switch from {
	case StateNotStarted:
		return to == StateLaunching
	case StateLaunching:
		return to == StateRunning || to == StateLaunchFailed
	case StateRunning:
		return to == StateCompleted || to == StateTimedOut || to == StateCrashed
	default:
		return false
	}
}

// DefaultGraceWindow is how long a terminated emulator gets to exit before
// it is force-killed.
const DefaultGraceWindow = 3 * time.Second

// Supervisor executes disk images through a Launcher.
type Supervisor struct {
	Launcher Launcher
	// GraceWindow overrides DefaultGraceWindow when positive.
	GraceWindow time.Duration
	Logger      *slog.Logger
}

// Execute runs the disk image under the policy and classifies the run.
//
// Exactly one ExecutionResult is produced per call that reaches execution.
// On every return path the emulator process is no longer running and the
// scratch disk file is removed unless the policy requested persistence.
// A non-nil error means the run was refused (unsafe configuration) or
// interrupted; per-variant failures are reported through the result.
func (s *Supervisor) Execute(ctx context.Context, disk image.DiskImage, policy ExecutionPolicy) (result ExecutionResult, err error) {
	variant := disk.Artifact.Variant
	logger := logging.Ensure(s.Logger).With("variant", variant.Name)

	defer func() {
		if policy.KeepDiskImage {
			return
		}
		if removeErr := disk.Remove(); removeErr != nil {
			logger.Warn("scratch disk cleanup failed", "error", removeErr)
		}
	}()

	// Double confirmation gate: a destructive payload may only touch a
	// writable backing file when the caller separately acknowledged the
	// risk.
	if variant.SafetyLevel == registry.SafetyDestructive && !policy.SnapshotMode && !policy.RiskAcknowledged {
		return ExecutionResult{}, &UnsafeConfigurationError{Variant: variant.Name}
	}

	run := &lifecycle{state: StateNotStarted, logger: logger}
	if err := run.to(StateLaunching); err != nil {
		return ExecutionResult{}, err
	}

	handle, launchErr := s.Launcher.Launch(ctx, disk.Path, policy)
	if launchErr != nil {
		if err := run.to(StateLaunchFailed); err != nil {
			return ExecutionResult{}, err
		}
		logger.Error("emulator launch failed", "error", launchErr)
		return ExecutionResult{
			VariantName: variant.Name,
			Outcome:     OutcomeLaunchFailed,
			StderrTail:  launchErr.Error(),
		}, nil
	}

	if err := run.to(StateRunning); err != nil {
		s.shutdown(handle, logger)
		return ExecutionResult{}, err
	}
	start := time.Now()
	logger.Info("emulator running", "timeout", policy.Timeout, "snapshot", policy.SnapshotMode)

	timer := time.NewTimer(policy.Timeout)
	defer timer.Stop()

	select {
	case status := <-handle.Done():
		elapsed := time.Since(start)
		if status.Err != nil {
			if err := run.to(StateCrashed); err != nil {
				return ExecutionResult{}, err
			}
			logger.Error("emulator wait failed", "error", status.Err)
			return ExecutionResult{
				VariantName: variant.Name,
				Outcome:     OutcomeCrashed,
				Elapsed:     elapsed,
				StderrTail:  appendLine(handle.StderrTail(), status.Err.Error()),
			}, nil
		}
		code := status.Code
		if code == 0 {
			if err := run.to(StateCompleted); err != nil {
				return ExecutionResult{}, err
			}
			logger.Info("emulator exited cleanly", "elapsed", elapsed)
			return ExecutionResult{
				VariantName: variant.Name,
				Outcome:     OutcomeCompleted,
				Elapsed:     elapsed,
				ExitCode:    &code,
				StderrTail:  handle.StderrTail(),
			}, nil
		}
		if err := run.to(StateCrashed); err != nil {
			return ExecutionResult{}, err
		}
		logger.Warn("emulator exited abnormally", "exit_code", code, "elapsed", elapsed)
		return ExecutionResult{
			VariantName: variant.Name,
			Outcome:     OutcomeCrashed,
			Elapsed:     elapsed,
			ExitCode:    &code,
			StderrTail:  handle.StderrTail(),
		}, nil

	case <-timer.C:
		s.shutdown(handle, logger)
		elapsed := time.Since(start)
		if err := run.to(StateTimedOut); err != nil {
			return ExecutionResult{}, err
		}
		logger.Info("timeout reached, emulator terminated", "elapsed", elapsed)
		return ExecutionResult{
			VariantName: variant.Name,
			Outcome:     OutcomeTimedOut,
			Elapsed:     elapsed,
			StderrTail:  handle.StderrTail(),
		}, nil

	case <-ctx.Done():
		s.shutdown(handle, logger)
		logger.Warn("execution interrupted", "error", ctx.Err())
		return ExecutionResult{}, ctx.Err()
	}
}

// shutdown ends the emulator process group: graceful stop first, forced
// kill after the grace window. Returns only once the process has been
// observed to exit or the kill has been delivered.
func (s *Supervisor) shutdown(handle Handle, logger *slog.Logger) {
	grace := s.GraceWindow
	if grace <= 0 {
		grace = DefaultGraceWindow
	}

	if err := handle.Terminate(); err != nil {
		logger.Warn("graceful stop failed", "error", err)
	}
	select {
	case <-handle.Done():
		return
	case <-time.After(grace):
	}

	if err := handle.Kill(); err != nil {
		logger.Warn("forced kill failed", "error", err)
	}
	select {
	case <-handle.Done():
	case <-time.After(grace):
		logger.Error("emulator did not exit after forced kill")
	}
}

type lifecycle struct {
	state  State
	logger *slog.Logger
}

func (l *lifecycle) to(next State) error {
	if !allowedTransition(l.state, next) {
		return fmt.Errorf("invalid supervision transition %s -> %s", l.state, next)
	}
	l.logger.Debug("supervision state", "from", l.state, "to", next)
	l.state = next
	return nil
}

func appendLine(tail, line string) string {
	if tail == "" {
		return line
	}
	return tail + "\n" + line
}
