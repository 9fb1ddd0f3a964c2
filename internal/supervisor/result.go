package supervisor

import "time"

// Outcome is the terminal classification of one execution attempt.
type Outcome string

// Terminal outcomes.
const (
	// OutcomeCompleted means the emulator exited cleanly before the
	// timeout. Rare; most payloads loop forever.
	OutcomeCompleted Outcome = "completed"
	// OutcomeTimedOut means the timeout elapsed and the emulator was
	// terminated. The expected end state for halt-loop payloads.
	OutcomeTimedOut Outcome = "timed_out"
	// OutcomeCrashed means the emulator exited abnormally before the
	// timeout.
	OutcomeCrashed Outcome = "crashed"
	// OutcomeLaunchFailed means the emulator could not be located or
	// spawned.
	OutcomeLaunchFailed Outcome = "launch_failed"
	// OutcomeBuildFailed means the variant never reached execution
	// because its build failed.
	OutcomeBuildFailed Outcome = "build_failed"
	// OutcomeSkipped means execution was not attempted.
	OutcomeSkipped Outcome = "skipped"
)

// ExecutionResult records the terminal state of one attempted variant
// execution. Produced exactly once per attempt and never mutated after.
type ExecutionResult struct {
	VariantName string
	Outcome     Outcome
	Elapsed     time.Duration
	// ExitCode is nil when the process never exited on its own.
	ExitCode   *int
	StderrTail string
}
