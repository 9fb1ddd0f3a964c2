// Command mbr-test exercises built boot images inside QEMU under snapshot
// and network isolation, classifying each run.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sectorlab/mbrlab/internal/aggregator"
	"github.com/sectorlab/mbrlab/internal/harness"
	"github.com/sectorlab/mbrlab/internal/logging"
	"github.com/sectorlab/mbrlab/internal/supervisor"
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
		logLevel     = defaultLogLevel
		checkQEMU    bool
		list         bool
		testName     string
		testAll      bool
		createImages bool
		showHistory  bool
		timeoutSecs  int
		noSnapshot   bool
		riskAck      bool
		noIsolation  bool
		sourceDir    string
		distDir      string
		suiteDir     string
		catalog      string
		historyPath  string
	)

	root := &cobra.Command{
		Use:           "mbr-test",
		Short:         "Test boot-sector variants safely inside QEMU",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			actions := 0
			for _, set := range []bool{checkQEMU, list, testName != "", testAll, createImages, showHistory} {
				if set {
					actions++
				}
			}
			if actions == 0 {
				return cmd.Help()
			}
			if actions > 1 {
				return fmt.Errorf("%w: pick exactly one of --check-qemu, --list, --test, --test-all, --create-images, --history", harness.ErrUsage)
			}

			if checkQEMU {
				path, err := supervisor.FindQEMU()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "qemu available: %s\n", path)
				return nil
			}

			h, err := harness.New(harness.Options{
				SourceDir:   sourceDir,
				DistDir:     distDir,
				SuiteDir:    suiteDir,
				CatalogPath: catalog,
				HistoryPath: historyPath,
				Logger:      logger.With("command", "test"),
			})
			if err != nil {
				return err
			}

			switch {
			case list:
				h.ListVariants(cmd.OutOrStdout(), true)
				return nil

			case showHistory:
				return h.History(cmd.Context(), cmd.OutOrStdout(), 20)

			case createImages:
				suite, err := h.CreateImages(cmd.Context(), nil)
				if err != nil {
					return err
				}
				for _, disk := range suite.Images {
					fmt.Fprintf(cmd.OutOrStdout(), "created %-20s %s\n", disk.Artifact.Variant.Name, disk.Path)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created companion iso    %s\n", suite.ISO)
				return nil
			}

			overrides := aggregator.PolicyOverrides{
				DisableSnapshot:  noSnapshot,
				DisableIsolation: noIsolation,
				RiskAcknowledged: riskAck,
			}
			if cmd.Flags().Changed("timeout") {
				if timeoutSecs <= 0 {
					return fmt.Errorf("%w: --timeout must be positive", harness.ErrUsage)
				}
				timeout := time.Duration(timeoutSecs) * time.Second
				overrides.Timeout = &timeout
			}

			var names []string
			if testName != "" {
				names = []string{testName}
			}

			report, err := h.Test(cmd.Context(), names, overrides)
			if err != nil {
				return err
			}
			report.WriteText(cmd.OutOrStdout())
			if !report.Ok() {
				return errors.New("one or more variant tests failed")
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

	root.Flags().BoolVar(&checkQEMU, "check-qemu", false, "Probe emulator availability and exit")
	root.Flags().BoolVar(&list, "list", false, "List variants with their default test policies")
	root.Flags().StringVar(&testName, "test", "", "Test the named variant")
	root.Flags().BoolVar(&testAll, "test-all", false, "Test all variants")
	root.Flags().BoolVar(&createImages, "create-images", false, "Build and persist disk images without executing them")
	root.Flags().BoolVar(&showHistory, "history", false, "Show recent recorded runs")
	root.Flags().IntVar(&timeoutSecs, "timeout", 0, "Override the per-variant timeout in seconds")
	root.Flags().BoolVar(&noSnapshot, "no-snapshot", false, "Disable snapshot mode (guest writes reach the scratch disk)")
	root.Flags().BoolVar(&riskAck, "i-understand-the-risk", false, "Required with --no-snapshot for destructive variants")
	root.Flags().BoolVar(&noIsolation, "no-isolation", false, "Disable network isolation")
	root.Flags().StringVar(&sourceDir, "source-dir", harness.DefaultSourceDir, "Directory holding variant assembly sources")
	root.Flags().StringVar(&distDir, "dist-dir", harness.DefaultDistDir, "Directory receiving build outputs")
	root.Flags().StringVar(&suiteDir, "suite-dir", harness.DefaultSuiteDir, "Directory receiving persisted test images")
	root.Flags().StringVar(&catalog, "catalog", "", "Optional YAML catalog with additional variants")
	root.Flags().StringVar(&historyPath, "history-db", harness.DefaultHistoryPath, "Path of the run history database")

	return root
}
