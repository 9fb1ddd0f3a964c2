package supervisor

import "fmt"

// UnsafeConfigurationError reports an attempt to run a destructive variant
// without snapshot protection and without the explicit risk acknowledgment.
// It is always fatal and never downgraded to a per-variant failure.
type UnsafeConfigurationError struct {
	Variant string
}

func (e *UnsafeConfigurationError) Error() string {
	return fmt.Sprintf("refusing to run destructive variant %s without snapshot mode; "+
		"pass the risk acknowledgment flag to override", e.Variant)
}

// LaunchFailedError reports that the emulator process could not be spawned.
type LaunchFailedError struct {
	Reason string
	Err    error
}

func (e *LaunchFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("emulator launch failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("emulator launch failed: %s", e.Reason)
}

func (e *LaunchFailedError) Unwrap() error {
	return e.Err
}
