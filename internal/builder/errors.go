package builder

import "fmt"

// ToolchainMissingError reports that a required external tool could not be
// located on the host.
type ToolchainMissingError struct {
	Tool string
	Hint string
}

func (e *ToolchainMissingError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s not found (%s)", e.Tool, e.Hint)
	}
	return fmt.Sprintf("%s not found", e.Tool)
}

// AssemblyError reports a non-zero exit from the external assembler,
// carrying the tool's diagnostic output.
type AssemblyError struct {
	Variant    string
	Diagnostic string
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assembly of %s failed: %s", e.Variant, e.Diagnostic)
}

// OversizeError reports a payload exceeding the boot-sector payload limit.
// The limit is intrinsic to the boot-sector format, not a tunable.
type OversizeError struct {
	Variant string
	Size    int
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("payload of %s is %d bytes, exceeds the %d-byte boot sector payload limit",
		e.Variant, e.Size, PayloadSize)
}
