package supervisor

import (
	"time"

	"github.com/sectorlab/mbrlab/internal/registry"
)

// ExecutionPolicy bounds one emulator run. Immutable for the duration of
// the execution it governs.
type ExecutionPolicy struct {
	// Timeout is the wall-clock bound on guest execution. Most payloads
	// end in an intentional halt loop, so hitting the timeout is the
	// normal way a run ends.
	Timeout time.Duration

	// SnapshotMode redirects all guest disk writes to ephemeral storage
	// so nothing reaches the backing file. Enabled by default; the
	// primary safety guarantee.
	SnapshotMode bool

	// NetworkIsolated omits the guest NIC entirely so the emulated
	// machine has no reachable interface.
	NetworkIsolated bool

	// MemoryLimitMB caps guest memory.
	MemoryLimitMB int

	// KeepDiskImage leaves the scratch disk in place after the run.
	KeepDiskImage bool

	// RiskAcknowledged is the explicit opt-in required to run a
	// destructive variant without snapshot mode.
	RiskAcknowledged bool
}

// DefaultPolicy derives the execution policy for a variant from its
// registered test options, with both isolation guarantees enabled.
func DefaultPolicy(opts registry.TestOptions) ExecutionPolicy {
	timeout := opts.TimeoutSeconds
	if timeout <= 0 {
		timeout = registry.DefaultTimeoutSeconds
	}
	memory := opts.MemoryMB
	if memory <= 0 {
		memory = registry.DefaultMemoryMB
	}
	return ExecutionPolicy{
		Timeout:         time.Duration(timeout) * time.Second,
		SnapshotMode:    true,
		NetworkIsolated: true,
		MemoryLimitMB:   memory,
	}
}
