// Command mbr-build assembles boot-sector variants into 512-byte boot
// images and optionally chains into sandboxed testing.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sectorlab/mbrlab/internal/aggregator"
	"github.com/sectorlab/mbrlab/internal/harness"
	"github.com/sectorlab/mbrlab/internal/logging"
)

const defaultLogLevel = "info"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.NewCLI(os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(logger, &levelVar)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		logger.Error("command failed", "error", err)
		os.Exit(harness.ExitCode(err))
	}
}

func newRootCommand(logger *slog.Logger, levelVar *slog.LevelVar) *cobra.Command {
	var (
		logLevel  = defaultLogLevel
		check     bool
		list      bool
		buildName string
		buildAll  bool
		test      bool
		sourceDir string
		distDir   string
		catalog   string
	)

	root := &cobra.Command{
		Use:           "mbr-build",
		Short:         "Build boot-sector variants into 512-byte boot images",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			actions := 0
			for _, set := range []bool{check, list, buildName != "", buildAll} {
				if set {
					actions++
				}
			}
			if actions == 0 {
				return cmd.Help()
			}
			if actions > 1 {
				return fmt.Errorf("%w: --check, --list, --build and --build-all are mutually exclusive", harness.ErrUsage)
			}
			if test && !buildAll && buildName == "" {
				return fmt.Errorf("%w: --test requires --build or --build-all", harness.ErrUsage)
			}

			if check {
				report := harness.Check()
				report.WriteText(cmd.OutOrStdout())
				if !report.BuildToolsOK() {
					return errors.New("missing build dependencies")
				}
				return nil
			}

			h, err := harness.New(harness.Options{
				SourceDir:   sourceDir,
				DistDir:     distDir,
				CatalogPath: catalog,
				Logger:      logger.With("command", "build"),
			})
			if err != nil {
				return err
			}

			if list {
				h.ListVariants(cmd.OutOrStdout(), false)
				return nil
			}

			var names []string
			if buildName != "" {
				names = []string{buildName}
			}

			artifacts, err := h.Build(cmd.Context(), names)
			if err != nil {
				return err
			}
			for _, artifact := range artifacts {
				fmt.Fprintf(cmd.OutOrStdout(), "built %-20s %s\n", artifact.Variant.Name, artifact.ImagePath)
			}

			if test {
				report, err := h.Test(cmd.Context(), names, aggregator.PolicyOverrides{})
				if err != nil {
					return err
				}
				report.WriteText(cmd.OutOrStdout())
				if !report.Ok() {
					return errors.New("one or more variant tests failed")
				}
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("%w: %v", harness.ErrUsage, err)
		}
		levelVar.Set(level)
		return nil
	}

	root.Flags().BoolVar(&check, "check", false, "Check build dependencies")
	root.Flags().BoolVar(&list, "list", false, "List available variants")
	root.Flags().StringVar(&buildName, "build", "", "Build the named variant")
	root.Flags().BoolVar(&buildAll, "build-all", false, "Build all variants")
	root.Flags().BoolVar(&test, "test", false, "Test variants after building (requires QEMU)")
	root.Flags().StringVar(&sourceDir, "source-dir", harness.DefaultSourceDir, "Directory holding variant assembly sources")
	root.Flags().StringVar(&distDir, "dist-dir", harness.DefaultDistDir, "Directory receiving build outputs")
	root.Flags().StringVar(&catalog, "catalog", "", "Optional YAML catalog with additional variants")

	return root
}
