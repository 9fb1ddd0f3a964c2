// Package aggregator drives the build/compose/execute pipeline across one
// or many variants and owns the pass/fail semantics of the outcomes.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sectorlab/mbrlab/internal/builder"
	"github.com/sectorlab/mbrlab/internal/image"
	"github.com/sectorlab/mbrlab/internal/logging"
	"github.com/sectorlab/mbrlab/internal/registry"
	"github.com/sectorlab/mbrlab/internal/supervisor"
)

// PolicyOverrides are the caller-requested deviations from each variant's
// default execution policy.
type PolicyOverrides struct {
	// Timeout replaces the variant's default timeout when set.
	Timeout *time.Duration
	// DisableSnapshot turns off the copy-on-write safety default.
	DisableSnapshot bool
	// DisableIsolation re-enables the guest network device.
	DisableIsolation bool
	// RiskAcknowledged is required alongside DisableSnapshot for
	// destructive variants.
	RiskAcknowledged bool
}

// Recorder persists finished run reports. Optional.
type Recorder interface {
	Record(ctx context.Context, report RunReport) error
}

// ArtifactBuilder produces a boot image for one variant.
type ArtifactBuilder interface {
	Build(ctx context.Context, v registry.Variant) (builder.BuildArtifact, error)
}

// Executor runs one composed disk image under one policy.
type Executor interface {
	Execute(ctx context.Context, disk image.DiskImage, policy supervisor.ExecutionPolicy) (supervisor.ExecutionResult, error)
}

// Runner executes variants strictly one at a time in registry order.
type Runner struct {
	Registry   *registry.Registry
	Builder    ArtifactBuilder
	Supervisor Executor

	// DiskSize is the scratch container size; DefaultDiskSize when zero.
	DiskSize int64
	// Verdicts maps outcomes to pass/fail; DefaultVerdictTable when nil.
	Verdicts VerdictTable
	// History receives the finished report when configured.
	History Recorder
	Logger  *slog.Logger
}

// Run builds, composes and executes every requested variant. An empty name
// list means every registered variant. Per-variant build and launch
// failures are recorded in the report and do not abort the batch; unknown
// names and unsafe configurations are fatal.
func (r *Runner) Run(ctx context.Context, names []string, overrides PolicyOverrides) (RunReport, error) {
	logger := logging.Ensure(r.Logger)

	variants, err := r.resolve(names)
	if err != nil {
		return RunReport{}, err
	}

	report := RunReport{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
	}
	verdicts := r.Verdicts
	if verdicts == nil {
		verdicts = DefaultVerdictTable()
	}

	scratchDir, err := os.MkdirTemp("", "mbrlab-run-*")
	if err != nil {
		return RunReport{}, fmt.Errorf("create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratchDir)

	logger.Info("starting run", "run_id", report.ID, "variants", len(variants))

	for _, variant := range variants {
		result, fatal := r.runOne(ctx, variant, overrides, scratchDir)
		if fatal != nil {
			report.FinishedAt = time.Now()
			return report, fatal
		}
		report.Results = append(report.Results, result)
		if verdicts.Pass(variant.SafetyLevel, result.Outcome) {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}

	report.FinishedAt = time.Now()
	logger.Info("run finished", "run_id", report.ID,
		"succeeded", report.Succeeded, "failed", report.Failed)

	if r.History != nil {
		if err := r.History.Record(ctx, report); err != nil {
			logger.Warn("recording run history failed", "error", err)
		}
	}
	return report, nil
}

func (r *Runner) runOne(ctx context.Context, variant registry.Variant, overrides PolicyOverrides, scratchDir string) (supervisor.ExecutionResult, error) {
	logger := logging.Ensure(r.Logger).With("variant", variant.Name)

	if variant.SafetyLevel != registry.SafetySafe {
		logger.Warn("safety notice", "level", variant.SafetyLevel, "warning", variant.SafetyWarning())
	}

	policy := supervisor.DefaultPolicy(variant.TestOptions)
	if overrides.Timeout != nil {
		policy.Timeout = *overrides.Timeout
	}
	if overrides.DisableSnapshot {
		policy.SnapshotMode = false
	}
	if overrides.DisableIsolation {
		policy.NetworkIsolated = false
	}
	policy.RiskAcknowledged = overrides.RiskAcknowledged

	artifact, err := r.Builder.Build(ctx, variant)
	if err != nil {
		logger.Error("build failed", "error", err)
		return supervisor.ExecutionResult{
			VariantName: variant.Name,
			Outcome:     supervisor.OutcomeBuildFailed,
			StderrTail:  err.Error(),
		}, nil
	}

	diskPath := filepath.Join(scratchDir, fmt.Sprintf("%s-%s.img", variant.Name, uuid.NewString()[:8]))
	size := r.DiskSize
	if size <= 0 {
		size = image.DefaultDiskSize
	}
	disk, err := image.Compose(artifact, size, diskPath)
	if err != nil {
		logger.Error("compose failed", "error", err)
		return supervisor.ExecutionResult{
			VariantName: variant.Name,
			Outcome:     supervisor.OutcomeSkipped,
			StderrTail:  err.Error(),
		}, nil
	}

	// Unsafe configurations and interrupts abort the batch; the scratch
	// disk has already been reclaimed by the supervisor.
	result, err := r.Supervisor.Execute(ctx, disk, policy)
	if err != nil {
		return supervisor.ExecutionResult{}, err
	}
	return result, nil
}

// resolve maps requested names to variants in registry order. Unknown
// names fail before any file I/O happens.
func (r *Runner) resolve(names []string) ([]registry.Variant, error) {
	if len(names) == 0 {
		return r.Registry.List(), nil
	}

	requested := make(map[string]bool, len(names))
	for _, name := range names {
		if _, err := r.Registry.Get(name); err != nil {
			return nil, err
		}
		requested[name] = true
	}

	var variants []registry.Variant
	for _, variant := range r.Registry.List() {
		if requested[variant.Name] {
			variants = append(variants, variant)
		}
	}
	return variants, nil
}
