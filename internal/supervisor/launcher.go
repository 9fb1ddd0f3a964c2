package supervisor

import (
	"context"
	"sync"
)

// ExitStatus is the observed end of an emulator process.
type ExitStatus struct {
	// Code is the process exit code; -1 when the process was ended by a
	// signal.
	Code int
	// Err is set when waiting on the process itself failed.
	Err error
}

// Handle supervises one spawned emulator process.
type Handle interface {
	// Done delivers the exit status exactly once when the process ends.
	Done() <-chan ExitStatus
	// Terminate requests a graceful stop of the process group.
	Terminate() error
	// Kill forcibly ends the process group.
	Kill() error
	// StderrTail returns the captured tail of the process's error output.
	StderrTail() string
}

// Launcher spawns the external emulator against a composed disk image
// under a policy. Implementations translate the policy into the emulator's
// argument set.
type Launcher interface {
	Launch(ctx context.Context, diskPath string, policy ExecutionPolicy) (Handle, error)
}

// tailBuffer keeps the last capacity bytes written to it. The emulator can
// emit unbounded output; only the tail is worth keeping for diagnostics.
type tailBuffer struct {
	mu       sync.Mutex
	buf      []byte
	capacity int
}

func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{capacity: capacity}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if len(t.buf) > t.capacity {
		t.buf = t.buf[len(t.buf)-t.capacity:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
