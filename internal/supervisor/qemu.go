package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/sectorlab/mbrlab/internal/logging"
)

const stderrTailBytes = 4 << 10

var qemuCandidates = []string{"qemu-system-i386", "qemu-system-x86_64"}

// FindQEMU resolves the system emulator from PATH, preferring the i386
// build since boot-sector payloads are 16-bit real-mode code.
func FindQEMU() (string, error) {
	for _, candidate := range qemuCandidates {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", &LaunchFailedError{Reason: "no qemu-system binary in PATH (install qemu-system-x86)"}
}

// QEMULauncher launches qemu-system as a child process group.
type QEMULauncher struct {
	// Binary is the emulator path; resolved via FindQEMU when empty.
	Binary string
	Logger *slog.Logger
}

// Launch spawns the emulator against diskPath with the policy translated
// into qemu flags. The returned handle controls the whole process group so
// helper processes qemu spawns are reachable for termination.
func (l *QEMULauncher) Launch(ctx context.Context, diskPath string, policy ExecutionPolicy) (Handle, error) {
	logger := logging.Ensure(l.Logger)

	binary := l.Binary
	if binary == "" {
		resolved, err := FindQEMU()
		if err != nil {
			return nil, err
		}
		binary = resolved
	}

	args := []string{
		"-hda", diskPath,
		"-m", fmt.Sprintf("%dM", policy.MemoryLimitMB),
		"-vga", "std",
		"-display", "none",
		"-monitor", "none",
	}
	if policy.SnapshotMode {
		args = append(args, "-snapshot")
	}
	if policy.NetworkIsolated {
		args = append(args, "-net", "none")
	}

	cmd := exec.Command(binary, args...)
	tail := newTailBuffer(stderrTailBytes)
	cmd.Stdout = tail
	cmd.Stderr = tail
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if ctx.Err() != nil {
		return nil, &LaunchFailedError{Reason: "context ended before launch", Err: ctx.Err()}
	}

	logger.Debug("spawning emulator", "binary", binary, "disk", diskPath,
		"snapshot", policy.SnapshotMode, "isolated", policy.NetworkIsolated,
		"memory_mb", policy.MemoryLimitMB)

	if err := cmd.Start(); err != nil {
		return nil, &LaunchFailedError{Reason: "spawn " + binary, Err: err}
	}

	handle := &qemuHandle{cmd: cmd, tail: tail, done: make(chan ExitStatus, 1)}
	go handle.wait()
	return handle, nil
}

type qemuHandle struct {
	cmd  *exec.Cmd
	tail *tailBuffer
	done chan ExitStatus
}

func (h *qemuHandle) wait() {
	err := h.cmd.Wait()
	status := ExitStatus{}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			status.Code = exitErr.ExitCode()
		} else {
			status.Code = -1
			status.Err = err
		}
	}
	h.done <- status
}

func (h *qemuHandle) Done() <-chan ExitStatus {
	return h.done
}

func (h *qemuHandle) Terminate() error {
	return h.signal(unix.SIGTERM)
}

func (h *qemuHandle) Kill() error {
	return h.signal(unix.SIGKILL)
}

func (h *qemuHandle) StderrTail() string {
	return h.tail.String()
}

// signal targets the negative pid so the whole process group receives it.
func (h *qemuHandle) signal(sig unix.Signal) error {
	if h.cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-h.cmd.Process.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
