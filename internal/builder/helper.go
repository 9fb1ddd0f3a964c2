package builder

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// HelperCompiler builds the companion writer executable embedding a boot
// image. The executable writes the image to a target device after an
// explicit confirmation prompt; it is a deployment aid and not part of the
// image-producing contract.
type HelperCompiler interface {
	Compile(ctx context.Context, variantName string, image []byte, outputDir string) (string, error)
}

// CXXHelperCompiler generates a C++ source embedding the image and compiles
// it with the configured compiler.
type CXXHelperCompiler struct {
	Path string
}

// Compile writes and compiles the helper, returning the executable path.
func (c *CXXHelperCompiler) Compile(ctx context.Context, variantName string, image []byte, outputDir string) (string, error) {
	if c.Path == "" {
		return "", &ToolchainMissingError{Tool: "c++ compiler", Hint: "install g++ or clang++"}
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create helper output directory: %w", err)
	}

	sourcePath := filepath.Join(outputDir, variantName+"_writer.cpp")
	if err := os.WriteFile(sourcePath, []byte(helperSource(variantName, image)), 0o644); err != nil {
		return "", fmt.Errorf("write helper source: %w", err)
	}

	exePath := filepath.Join(outputDir, variantName+"_writer")
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Path, "-O2", sourcePath, "-o", exePath)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		diagnostic := strings.TrimSpace(stderr.String())
		if diagnostic == "" {
			diagnostic = err.Error()
		}
		return "", fmt.Errorf("compile helper for %s: %s", variantName, diagnostic)
	}

	_ = os.Remove(sourcePath)
	return exePath, nil
}

func helperSource(variantName string, image []byte) string {
	var hex strings.Builder
	for i, b := range image {
		if i > 0 {
			hex.WriteString(", ")
			if i%12 == 0 {
				hex.WriteString("\n    ")
			}
		}
		fmt.Fprintf(&hex, "0x%02X", b)
	}

	return fmt.Sprintf(`#include <cstdio>
#include <cstring>
#include <string>
#include <fcntl.h>
#include <unistd.h>

static const unsigned char bootSector[512] = {
    %s
};

int main(int argc, char* argv[]) {
    if (argc != 2) {
        std::fprintf(stderr, "usage: %%s <target-device>\n", argv[0]);
        return 1;
    }

    std::fprintf(stderr, "variant: %s\n");
    std::fprintf(stderr, "target: %%s\n", argv[1]);
    std::fprintf(stderr, "This overwrites the target's boot sector. Type YES to continue: ");

    char confirmation[16] = {0};
    if (!std::fgets(confirmation, sizeof(confirmation), stdin) ||
        std::strncmp(confirmation, "YES", 3) != 0) {
        std::fprintf(stderr, "cancelled\n");
        return 0;
    }

    int fd = open(argv[1], O_WRONLY);
    if (fd < 0) {
        std::fprintf(stderr, "cannot open %%s\n", argv[1]);
        return 1;
    }

    ssize_t written = write(fd, bootSector, sizeof(bootSector));
    close(fd);
    if (written != sizeof(bootSector)) {
        std::fprintf(stderr, "short write\n");
        return 1;
    }
    return 0;
}
`, hex.String(), variantName)
}
