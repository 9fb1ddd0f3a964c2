package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sectorlab/mbrlab/internal/builder"
	"github.com/sectorlab/mbrlab/internal/image"
	"github.com/sectorlab/mbrlab/internal/registry"
)

type stubHandle struct {
	mu         sync.Mutex
	done       chan ExitStatus
	stderr     string
	terminated bool
	killed     bool

	// exitOnTerminate makes Terminate deliver the exit status, modeling an
	// emulator that honors the graceful stop.
	exitOnTerminate bool
	// exitOnKill makes only Kill deliver the exit status.
	exitOnKill bool
}

func newStubHandle() *stubHandle {
	return &stubHandle{done: make(chan ExitStatus, 1)}
}

func (h *stubHandle) exit(status ExitStatus) { h.done <- status }

func (h *stubHandle) Done() <-chan ExitStatus { return h.done }

func (h *stubHandle) Terminate() error {
	h.mu.Lock()
	h.terminated = true
	h.mu.Unlock()
	if h.exitOnTerminate {
		h.done <- ExitStatus{Code: -1}
	}
	return nil
}

func (h *stubHandle) Kill() error {
	h.mu.Lock()
	h.killed = true
	h.mu.Unlock()
	if h.exitOnKill {
		h.done <- ExitStatus{Code: -1}
	}
	return nil
}

func (h *stubHandle) StderrTail() string { return h.stderr }

func (h *stubHandle) wasTerminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}

func (h *stubHandle) wasKilled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

type stubLauncher struct {
	handle     *stubHandle
	launchErr  error
	lastDisk   string
	lastPolicy ExecutionPolicy
}

func (l *stubLauncher) Launch(_ context.Context, diskPath string, policy ExecutionPolicy) (Handle, error) {
	l.lastDisk = diskPath
	l.lastPolicy = policy
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	return l.handle, nil
}

func scratchDisk(t *testing.T, level registry.SafetyLevel) image.DiskImage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scratch.img")
	if err := os.WriteFile(path, make([]byte, 1024), 0o644); err != nil {
		t.Fatalf("write scratch disk: %v", err)
	}
	return image.DiskImage{
		Artifact: builder.BuildArtifact{
			Variant: registry.Variant{Name: "probe", SafetyLevel: level, SourcePath: "probe/boot.asm"},
		},
		Path: path,
	}
}

func defaultTestPolicy() ExecutionPolicy {
	return ExecutionPolicy{
		Timeout:         time.Second,
		SnapshotMode:    true,
		NetworkIsolated: true,
		MemoryLimitMB:   64,
	}
}

func TestExecuteCompleted(t *testing.T) {
	handle := newStubHandle()
	handle.stderr = "booted\n"
	handle.exit(ExitStatus{Code: 0})

	s := &Supervisor{Launcher: &stubLauncher{handle: handle}}
	disk := scratchDisk(t, registry.SafetySafe)

	result, err := s.Execute(context.Background(), disk, defaultTestPolicy())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Outcome != OutcomeCompleted {
		t.Errorf("outcome = %s", result.Outcome)
	}
	if result.ExitCode == nil || *result.ExitCode != 0 {
		t.Errorf("exit code = %v", result.ExitCode)
	}
	if result.StderrTail != "booted\n" {
		t.Errorf("stderr tail = %q", result.StderrTail)
	}
	if _, err := os.Stat(disk.Path); !os.IsNotExist(err) {
		t.Error("scratch disk not reclaimed after run")
	}
}

func TestExecuteCrashed(t *testing.T) {
	handle := newStubHandle()
	handle.exit(ExitStatus{Code: 3})

	s := &Supervisor{Launcher: &stubLauncher{handle: handle}}
	result, err := s.Execute(context.Background(), scratchDisk(t, registry.SafetySafe), defaultTestPolicy())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Outcome != OutcomeCrashed {
		t.Errorf("outcome = %s", result.Outcome)
	}
	if result.ExitCode == nil || *result.ExitCode != 3 {
		t.Errorf("exit code = %v", result.ExitCode)
	}
}

func TestExecuteTimedOut(t *testing.T) {
	handle := newStubHandle()
	handle.exitOnTerminate = true

	s := &Supervisor{Launcher: &stubLauncher{handle: handle}, GraceWindow: 100 * time.Millisecond}
	policy := defaultTestPolicy()
	policy.Timeout = 50 * time.Millisecond
	disk := scratchDisk(t, registry.SafetySafe)

	start := time.Now()
	result, err := s.Execute(context.Background(), disk, policy)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Outcome != OutcomeTimedOut {
		t.Errorf("outcome = %s", result.Outcome)
	}
	if !handle.wasTerminated() {
		t.Error("emulator was not asked to stop on timeout")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout handling took %s", elapsed)
	}
	if _, err := os.Stat(disk.Path); !os.IsNotExist(err) {
		t.Error("scratch disk not reclaimed after timeout")
	}
}

func TestExecuteForceKillsStubbornEmulator(t *testing.T) {
	handle := newStubHandle()
	handle.exitOnKill = true

	s := &Supervisor{Launcher: &stubLauncher{handle: handle}, GraceWindow: 20 * time.Millisecond}
	policy := defaultTestPolicy()
	policy.Timeout = 20 * time.Millisecond

	result, err := s.Execute(context.Background(), scratchDisk(t, registry.SafetySafe), policy)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Outcome != OutcomeTimedOut {
		t.Errorf("outcome = %s", result.Outcome)
	}
	if !handle.wasTerminated() || !handle.wasKilled() {
		t.Errorf("terminated=%v killed=%v, expected both", handle.wasTerminated(), handle.wasKilled())
	}
}

func TestExecuteLaunchFailed(t *testing.T) {
	s := &Supervisor{Launcher: &stubLauncher{launchErr: errors.New("emulator binary vanished")}}
	disk := scratchDisk(t, registry.SafetySafe)

	result, err := s.Execute(context.Background(), disk, defaultTestPolicy())
	if err != nil {
		t.Fatalf("launch failure must be a result, not an error: %v", err)
	}
	if result.Outcome != OutcomeLaunchFailed {
		t.Errorf("outcome = %s", result.Outcome)
	}
	if !strings.Contains(result.StderrTail, "vanished") {
		t.Errorf("stderr tail %q does not carry the launch diagnostic", result.StderrTail)
	}
	if _, err := os.Stat(disk.Path); !os.IsNotExist(err) {
		t.Error("scratch disk not reclaimed after launch failure")
	}
}

func TestExecuteRefusesUnsafeConfiguration(t *testing.T) {
	cases := []struct {
		name    string
		level   registry.SafetyLevel
		policy  func(p ExecutionPolicy) ExecutionPolicy
		refused bool
	}{
		{
			name:    "destructive without snapshot or acknowledgement",
			level:   registry.SafetyDestructive,
			policy:  func(p ExecutionPolicy) ExecutionPolicy { p.SnapshotMode = false; return p },
			refused: true,
		},
		{
			name:  "destructive without snapshot but acknowledged",
			level: registry.SafetyDestructive,
			policy: func(p ExecutionPolicy) ExecutionPolicy {
				p.SnapshotMode = false
				p.RiskAcknowledged = true
				return p
			},
			refused: false,
		},
		{
			name:    "destructive with snapshot",
			level:   registry.SafetyDestructive,
			policy:  func(p ExecutionPolicy) ExecutionPolicy { return p },
			refused: false,
		},
		{
			name:    "safe without snapshot",
			level:   registry.SafetySafe,
			policy:  func(p ExecutionPolicy) ExecutionPolicy { p.SnapshotMode = false; return p },
			refused: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handle := newStubHandle()
			handle.exit(ExitStatus{Code: 0})
			s := &Supervisor{Launcher: &stubLauncher{handle: handle}}

			_, err := s.Execute(context.Background(), scratchDisk(t, tc.level), tc.policy(defaultTestPolicy()))

			var unsafeErr *UnsafeConfigurationError
			if tc.refused {
				if !errors.As(err, &unsafeErr) {
					t.Fatalf("expected UnsafeConfigurationError, got %v", err)
				}
				if unsafeErr.Variant != "probe" {
					t.Errorf("error names variant %q", unsafeErr.Variant)
				}
			} else if err != nil {
				t.Fatalf("unexpected refusal: %v", err)
			}
		})
	}
}

func TestExecuteKeepsDiskWhenRequested(t *testing.T) {
	handle := newStubHandle()
	handle.exit(ExitStatus{Code: 0})

	s := &Supervisor{Launcher: &stubLauncher{handle: handle}}
	disk := scratchDisk(t, registry.SafetySafe)
	policy := defaultTestPolicy()
	policy.KeepDiskImage = true

	if _, err := s.Execute(context.Background(), disk, policy); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := os.Stat(disk.Path); err != nil {
		t.Errorf("disk image should persist: %v", err)
	}
}

func TestExecuteInterrupted(t *testing.T) {
	handle := newStubHandle()
	handle.exitOnTerminate = true

	s := &Supervisor{Launcher: &stubLauncher{handle: handle}, GraceWindow: 100 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Execute(ctx, scratchDisk(t, registry.SafetySafe), defaultTestPolicy())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !handle.wasTerminated() {
		t.Error("emulator left running after interruption")
	}
}

func TestAllowedTransitions(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StateNotStarted, StateLaunching},
		{StateLaunching, StateRunning},
		{StateLaunching, StateLaunchFailed},
		{StateRunning, StateCompleted},
		{StateRunning, StateTimedOut},
		{StateRunning, StateCrashed},
	}
	for _, tr := range allowed {
		if !allowedTransition(tr.from, tr.to) {
			t.Errorf("%s -> %s should be allowed", tr.from, tr.to)
		}
	}

	forbidden := []struct{ from, to State }{
		{StateNotStarted, StateRunning},
		{StateRunning, StateLaunchFailed},
		{StateCompleted, StateRunning},
		{StateTimedOut, StateCompleted},
		{StateLaunchFailed, StateRunning},
	}
	for _, tr := range forbidden {
		if allowedTransition(tr.from, tr.to) {
			t.Errorf("%s -> %s should be rejected", tr.from, tr.to)
		}
	}
}
