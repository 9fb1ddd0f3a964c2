package aggregator

import (
	"fmt"
	"io"
	"time"

	"github.com/sectorlab/mbrlab/internal/registry"
	"github.com/sectorlab/mbrlab/internal/supervisor"
)

// VerdictTable maps (outcome, safety level) to pass/fail. It is an explicit
// configuration rather than something inferred from flag defaults, so the
// pass semantics of a timeout are auditable and testable.
type VerdictTable map[supervisor.Outcome]map[registry.SafetyLevel]bool

// DefaultVerdictTable returns the shipped policy: a clean exit passes, and
// so does a timeout, because halt-loop payloads end that way by design at
// every safety level. Everything else fails.
func DefaultVerdictTable() VerdictTable {
	pass := map[registry.SafetyLevel]bool{
		registry.SafetySafe:         true,
		registry.SafetyExperimental: true,
		registry.SafetyDestructive:  true,
	}
	return VerdictTable{
		supervisor.OutcomeCompleted: pass,
		supervisor.OutcomeTimedOut:  pass,
	}
}

// Pass reports whether the outcome counts as success for the safety level.
// Unlisted combinations fail.
func (t VerdictTable) Pass(level registry.SafetyLevel, outcome supervisor.Outcome) bool {
	byLevel, ok := t[outcome]
	if !ok {
		return false
	}
	return byLevel[level]
}

// RunReport is the ordered collection of results from one aggregator run,
// one entry per requested variant.
type RunReport struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []supervisor.ExecutionResult
	Succeeded  int
	Failed     int
}

// Ok reports whether every requested variant succeeded.
func (r RunReport) Ok() bool {
	return r.Failed == 0
}

// WriteText renders the human-readable summary.
func (r RunReport) WriteText(w io.Writer) {
	for _, result := range r.Results {
		line := fmt.Sprintf("%-20s %-13s", result.VariantName, result.Outcome)
		if result.Elapsed > 0 {
			line += fmt.Sprintf(" %8s", result.Elapsed.Round(time.Millisecond))
		}
		if result.ExitCode != nil {
			line += fmt.Sprintf(" exit=%d", *result.ExitCode)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "\n%d succeeded, %d failed\n", r.Succeeded, r.Failed)
}
