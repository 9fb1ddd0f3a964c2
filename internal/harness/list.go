package harness

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sectorlab/mbrlab/internal/builder"
	"github.com/sectorlab/mbrlab/internal/registry"
	"github.com/sectorlab/mbrlab/internal/supervisor"
)

// ErrUsage marks an invalid flag combination. Callers exit with the
// precondition status when they see it.
var ErrUsage = errors.New("invalid usage")

// ExitCode maps an error to the process exit status: 0 for success, 2 for
// precondition failures (unknown variant, missing toolchain, invalid or
// unsafe flag combinations), 1 for everything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var (
		notFound   *registry.NotFoundError
		noTool     *builder.ToolchainMissingError
		unsafeConf *supervisor.UnsafeConfigurationError
	)
	switch {
	case errors.Is(err, ErrUsage),
		errors.As(err, &notFound),
		errors.As(err, &noTool),
		errors.As(err, &unsafeConf):
		return 2
	}
	return 1
}

// ListVariants prints the registry contents. withTestInfo adds the
// per-variant default execution policy.
func (h *Harness) ListVariants(w io.Writer, withTestInfo bool) {
	for _, v := range h.Registry.List() {
		fmt.Fprintf(w, "%s [%s]\n", v.Name, v.SafetyLevel)
		fmt.Fprintf(w, "    %s\n", v.DisplayName)
		fmt.Fprintf(w, "    %s\n", v.Description)
		if v.Category != "" {
			fmt.Fprintf(w, "    category: %s\n", v.Category)
		}
		if len(v.Features) > 0 {
			fmt.Fprintf(w, "    features: %s\n", strings.Join(v.Features, ", "))
		}
		if withTestInfo {
			policy := supervisor.DefaultPolicy(v.TestOptions)
			fmt.Fprintf(w, "    timeout: %s  memory: %dMB  snapshot: %t  isolated: %t\n",
				policy.Timeout, policy.MemoryLimitMB, policy.SnapshotMode, policy.NetworkIsolated)
		}
		fmt.Fprintln(w)
	}
}
