package builder

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Assembler turns an assembly source file into a raw binary.
type Assembler interface {
	Assemble(ctx context.Context, sourcePath, outputPath string) ([]byte, error)
}

// NasmAssembler invokes the NASM assembler with flat binary output.
type NasmAssembler struct {
	// Path is the resolved nasm executable.
	Path string
}

// Assemble runs nasm against sourcePath and returns the produced bytes.
func (a *NasmAssembler) Assemble(ctx context.Context, sourcePath, outputPath string) ([]byte, error) {
	if a.Path == "" {
		return nil, &ToolchainMissingError{Tool: "nasm", Hint: "install NASM from https://www.nasm.us/"}
	}
	if _, err := os.Stat(sourcePath); err != nil {
		return nil, fmt.Errorf("assembly source %s: %w", sourcePath, err)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, a.Path, sourcePath, "-f", "bin", "-o", outputPath)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		diagnostic := strings.TrimSpace(stderr.String())
		if diagnostic == "" {
			diagnostic = err.Error()
		}
		return nil, &AssemblyError{Variant: sourcePath, Diagnostic: diagnostic}
	}

	raw, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("read assembler output %s: %w", outputPath, err)
	}
	return raw, nil
}
