package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sectorlab/mbrlab/internal/builder"
	"github.com/sectorlab/mbrlab/internal/registry"
	"github.com/sectorlab/mbrlab/internal/supervisor"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"usage", fmt.Errorf("--list with --build: %w", ErrUsage), 2},
		{"unknown variant", &registry.NotFoundError{Name: "nope"}, 2},
		{"missing tool", &builder.ToolchainMissingError{Tool: "nasm"}, 2},
		{"unsafe configuration", &supervisor.UnsafeConfigurationError{Variant: "empty"}, 2},
		{"wrapped precondition", fmt.Errorf("test: %w", &registry.NotFoundError{Name: "x"}), 2},
		{"build failure", &builder.AssemblyError{Variant: "empty", Diagnostic: "bad opcode"}, 1},
		{"plain error", errors.New("boom"), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExitCode(tc.err); got != tc.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestNewRegistersBuiltins(t *testing.T) {
	h, err := New(Options{SourceDir: "assets/variants"})
	if err != nil {
		t.Fatalf("new harness: %v", err)
	}

	names := h.Registry.Names()
	want := []string{"custom_message", "empty", "memz"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("builtin variants = %v, want %v", names, want)
	}
}

func TestNewLoadsCatalog(t *testing.T) {
	dir := t.TempDir()
	catalog := filepath.Join(dir, "catalog.yaml")
	doc := `variants:
  - name: stripes
    display_name: Stripes
    description: Paints color stripes.
    safety_level: safe
    source_path: stripes/boot.asm
`
	if err := os.WriteFile(catalog, []byte(doc), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	h, err := New(Options{CatalogPath: catalog})
	if err != nil {
		t.Fatalf("new harness: %v", err)
	}
	v, err := h.Registry.Get("stripes")
	if err != nil {
		t.Fatalf("catalog variant not registered: %v", err)
	}
	if v.SourcePath != filepath.Join(dir, "stripes/boot.asm") {
		t.Errorf("source path = %s", v.SourcePath)
	}
}

func TestListVariants(t *testing.T) {
	h, err := New(Options{})
	if err != nil {
		t.Fatalf("new harness: %v", err)
	}

	var plain bytes.Buffer
	h.ListVariants(&plain, false)
	out := plain.String()
	for _, want := range []string{"custom_message [safe]", "empty [destructive]", "memz [experimental]"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "timeout:") {
		t.Error("plain listing should not include test info")
	}

	var detailed bytes.Buffer
	h.ListVariants(&detailed, true)
	if !strings.Contains(detailed.String(), "timeout:") {
		t.Error("detailed listing missing execution policy")
	}
	if !strings.Contains(detailed.String(), "snapshot: true") {
		t.Error("detailed listing missing snapshot default")
	}
}

func TestCheckReportWriteText(t *testing.T) {
	report := CheckReport{
		Build: []builder.ToolStatus{
			{Name: "nasm", Path: "/usr/bin/nasm", Available: true},
			{Name: "g++", Hint: "install g++ or clang++", Available: false},
		},
		QEMU: builder.ToolStatus{Name: "qemu", Hint: "install qemu-system-x86"},
	}

	var buf bytes.Buffer
	report.WriteText(&buf)
	out := buf.String()

	if !strings.Contains(out, "[ok] nasm") {
		t.Errorf("available tool not marked ok:\n%s", out)
	}
	if !strings.Contains(out, "[missing] g++") || !strings.Contains(out, "[missing] qemu") {
		t.Errorf("missing tools not reported:\n%s", out)
	}
}

func TestCheckReportBuildToolsOK(t *testing.T) {
	report := CheckReport{Build: []builder.ToolStatus{
		{Name: "nasm", Available: true},
		{Name: "g++", Available: false},
	}}
	if !report.BuildToolsOK() {
		t.Error("missing helper compiler should not fail the check")
	}

	report.Build[0].Available = false
	if report.BuildToolsOK() {
		t.Error("missing assembler must fail the check")
	}
}
