package harness

import (
	"fmt"
	"io"

	"github.com/sectorlab/mbrlab/internal/builder"
	"github.com/sectorlab/mbrlab/internal/supervisor"
)

// CheckReport is the result of probing every external tool.
type CheckReport struct {
	Build []builder.ToolStatus
	QEMU  builder.ToolStatus
}

// BuildToolsOK reports whether the assembler is available. The C++
// compiler is only needed for native-helper variants and is reported but
// not required.
func (r CheckReport) BuildToolsOK() bool {
	for _, tool := range r.Build {
		if tool.Name == "nasm" && !tool.Available {
			return false
		}
	}
	return true
}

// Check probes the external toolchain and emulator.
func Check() CheckReport {
	report := CheckReport{Build: builder.CheckTools()}

	report.QEMU = builder.ToolStatus{Name: "qemu", Hint: "install qemu-system-x86"}
	if path, err := supervisor.FindQEMU(); err == nil {
		report.QEMU.Path = path
		report.QEMU.Available = true
	}
	return report
}

// WriteText renders the check report for terminal consumption.
func (r CheckReport) WriteText(w io.Writer) {
	fmt.Fprintln(w, "Build tools:")
	for _, tool := range r.Build {
		writeToolStatus(w, tool)
	}
	fmt.Fprintln(w, "Testing tools:")
	writeToolStatus(w, r.QEMU)
}

func writeToolStatus(w io.Writer, tool builder.ToolStatus) {
	if tool.Available {
		fmt.Fprintf(w, "  [ok] %-14s %s\n", tool.Name, tool.Path)
		return
	}
	fmt.Fprintf(w, "  [missing] %-9s %s\n", tool.Name, tool.Hint)
}
