// Package harness wires the registry, builder, supervisor and aggregator
// into the end-to-end flows behind the two command-line drivers.
package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sectorlab/mbrlab/internal/aggregator"
	"github.com/sectorlab/mbrlab/internal/builder"
	"github.com/sectorlab/mbrlab/internal/history"
	"github.com/sectorlab/mbrlab/internal/image"
	"github.com/sectorlab/mbrlab/internal/logging"
	"github.com/sectorlab/mbrlab/internal/registry"
	"github.com/sectorlab/mbrlab/internal/supervisor"
)

// Default locations, relative to the working directory like the rest of
// the build tree.
const (
	DefaultSourceDir   = "assets/variants"
	DefaultDistDir     = "dist"
	DefaultSuiteDir    = "tests"
	DefaultHistoryPath = ".mbrlab/history.db"
)

// Options configure a harness instance.
type Options struct {
	SourceDir   string
	DistDir     string
	SuiteDir    string
	CatalogPath string
	HistoryPath string
	Logger      *slog.Logger
}

func (o *Options) fillDefaults() {
	if o.SourceDir == "" {
		o.SourceDir = DefaultSourceDir
	}
	if o.DistDir == "" {
		o.DistDir = DefaultDistDir
	}
	if o.SuiteDir == "" {
		o.SuiteDir = DefaultSuiteDir
	}
	if o.HistoryPath == "" {
		o.HistoryPath = DefaultHistoryPath
	}
}

// Harness holds the wired components for one invocation.
type Harness struct {
	Registry *registry.Registry
	Options  Options
	Logger   *slog.Logger
}

// New constructs a harness with the builtin variants plus any catalog.
func New(opts Options) (*Harness, error) {
	opts.fillDefaults()
	logger := logging.Ensure(opts.Logger)

	reg, err := registry.Builtin(opts.SourceDir)
	if err != nil {
		return nil, err
	}
	if opts.CatalogPath != "" {
		if err := registry.LoadCatalog(reg, opts.CatalogPath); err != nil {
			return nil, err
		}
	}
	return &Harness{Registry: reg, Options: opts, Logger: logger}, nil
}

// newBuilder resolves the toolchain and constructs the artifact builder.
func (h *Harness) newBuilder() (*builder.Builder, error) {
	toolchain, err := builder.LocateToolchain()
	if err != nil {
		return nil, err
	}
	b := &builder.Builder{
		OutputDir: h.Options.DistDir,
		Assembler: &builder.NasmAssembler{Path: toolchain.Nasm},
		Logger:    h.Logger.With("component", "builder"),
	}
	if toolchain.CXX != "" {
		b.Helper = &builder.CXXHelperCompiler{Path: toolchain.CXX}
	}
	return b, nil
}

// Build assembles the named variants (all when names is empty) and returns
// the artifacts in registry order.
func (h *Harness) Build(ctx context.Context, names []string) ([]builder.BuildArtifact, error) {
	b, err := h.newBuilder()
	if err != nil {
		return nil, err
	}

	variants, err := h.selectVariants(names)
	if err != nil {
		return nil, err
	}

	var artifacts []builder.BuildArtifact
	for _, variant := range variants {
		if variant.SafetyLevel != registry.SafetySafe {
			h.Logger.Warn("safety notice", "variant", variant.Name, "warning", variant.SafetyWarning())
		}
		artifact, err := b.Build(ctx, variant)
		if err != nil {
			return artifacts, err
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}

// Test runs the full pipeline for the named variants (all when names is
// empty) under the supplied overrides and records the run in history.
func (h *Harness) Test(ctx context.Context, names []string, overrides aggregator.PolicyOverrides) (aggregator.RunReport, error) {
	b, err := h.newBuilder()
	if err != nil {
		return aggregator.RunReport{}, err
	}
	if _, err := supervisor.FindQEMU(); err != nil {
		return aggregator.RunReport{}, err
	}

	runner := &aggregator.Runner{
		Registry: h.Registry,
		Builder:  b,
		Supervisor: &supervisor.Supervisor{
			Launcher: &supervisor.QEMULauncher{Logger: h.Logger.With("component", "qemu")},
			Logger:   h.Logger.With("component", "supervisor"),
		},
		Logger: h.Logger.With("component", "aggregator"),
	}

	store, err := history.Open(ctx, h.Options.HistoryPath)
	if err != nil {
		h.Logger.Warn("run history unavailable", "error", err)
	} else {
		defer store.Close()
		runner.History = store
	}

	return runner.Run(ctx, names, overrides)
}

// CreateImages builds the named variants and persists a disk image suite
// under the tests area, skipping execution.
func (h *Harness) CreateImages(ctx context.Context, names []string) (image.Suite, error) {
	artifacts, err := h.Build(ctx, names)
	if err != nil {
		return image.Suite{}, err
	}
	return image.BuildSuite(h.Options.SuiteDir, artifacts, image.DefaultDiskSize, h.Logger)
}

// History prints recent recorded runs.
func (h *Harness) History(ctx context.Context, w io.Writer, limit int) error {
	store, err := history.Open(ctx, h.Options.HistoryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "no recorded runs")
		return nil
	}
	for _, run := range runs {
		fmt.Fprintf(w, "%s  %s  %d succeeded, %d failed (%s)\n",
			run.ID, run.StartedAt.Format(time.RFC3339),
			run.Succeeded, run.Failed,
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	return nil
}

func (h *Harness) selectVariants(names []string) ([]registry.Variant, error) {
	if len(names) == 0 {
		return h.Registry.List(), nil
	}
	requested := make(map[string]bool, len(names))
	for _, name := range names {
		if _, err := h.Registry.Get(name); err != nil {
			return nil, err
		}
		requested[name] = true
	}
	var variants []registry.Variant
	for _, variant := range h.Registry.List() {
		if requested[variant.Name] {
			variants = append(variants, variant)
		}
	}
	return variants, nil
}
