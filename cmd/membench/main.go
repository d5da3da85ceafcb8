// Command membench evaluates memory providers against benchmark suites.
//
// Subcommands:
//
//	eval        run selected provider × benchmark combinations
//	providers   list registered providers
//	benchmarks  list discovered benchmarks
//	runs        list run directories, newest first
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sdamache/memorybench/internal/bench"
	"github.com/sdamache/memorybench/internal/engine"
	"github.com/sdamache/memorybench/internal/llm"
	"github.com/sdamache/memorybench/internal/manifest"
	"github.com/sdamache/memorybench/internal/protocol"
	"github.com/sdamache/memorybench/internal/provider/localstore"
	"github.com/sdamache/memorybench/internal/registry"
	"github.com/sdamache/memorybench/internal/results"
	"github.com/sdamache/memorybench/internal/runner"
	"github.com/sdamache/memorybench/internal/types"
	"github.com/sdamache/memorybench/internal/ui"
)

const localstoreVersion = "1.0.0"

type rootFlags struct {
	runsDir      string
	benchmarkDir string
	dbPath       string
	verbose      bool
}

func main() {
	_ = godotenv.Load(".env")

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "membench",
		Short:         "Evaluate memory providers against benchmark suites",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			level := slog.LevelWarn
			if flags.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	home, _ := os.UserHomeDir()
	root.PersistentFlags().StringVar(&flags.runsDir, "runs-dir", "runs", "directory for run records")
	root.PersistentFlags().StringVar(&flags.benchmarkDir, "benchmark-dir", "benchmarks", "directory of benchmark manifests (*.json)")
	root.PersistentFlags().StringVar(&flags.dbPath, "db", filepath.Join(home, ".cache", "membench", "localstore"), "localstore LevelDB path")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newEvalCmd(flags), newProvidersCmd(flags), newBenchmarksCmd(flags), newRunsCmd(flags))
	return root
}

func newEvalCmd(flags *rootFlags) *cobra.Command {
	var (
		providers   []string
		benchmarks  []string
		concurrency int
		resumeID    string
	)
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run provider × benchmark combinations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, cleanup, err := buildRegistry(flags)
			if err != nil {
				return err
			}
			defer cleanup()

			printer := ui.NewPrinter(os.Stdout, os.Getenv("NO_COLOR") == "")
			eng := engine.New(reg, engine.Options{
				RunsDir:  flags.runsDir,
				Retry:    runner.DefaultRetryPolicy(),
				OnPlan:   printer.PrintPlan,
				Progress: printer,
				CLIArgs:  os.Args,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Omitted flags mean "everything registered"; the expansion
			// happens here so the planner only ever sees explicit names.
			sel := types.Selection{Providers: providers, Benchmarks: benchmarks, Concurrency: concurrency}
			if len(sel.Providers) == 0 {
				sel.Providers = reg.ProviderNames()
			}
			if len(sel.Benchmarks) == 0 {
				sel.Benchmarks = reg.BenchmarkNames()
			}
			var summary types.MetricsSummary
			if resumeID != "" {
				summary, err = eng.Resume(ctx, resumeID, sel)
			} else {
				summary, err = eng.Run(ctx, sel)
			}
			if err != nil {
				return err
			}
			printer.PrintSummary(summary)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&providers, "providers", nil, "providers to evaluate (default: all)")
	cmd.Flags().StringSliceVar(&benchmarks, "benchmarks", nil, "benchmarks to run (default: all)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "cases in flight per batch")
	cmd.Flags().StringVar(&resumeID, "resume", "", "resume a previous run by ID")
	return cmd
}

func newProvidersCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List registered providers",
		RunE: func(*cobra.Command, []string) error {
			reg, cleanup, err := buildRegistry(flags)
			if err != nil {
				return err
			}
			defer cleanup()
			for _, name := range reg.ProviderNames() {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func newBenchmarksCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "benchmarks",
		Short: "List discovered benchmarks",
		RunE: func(*cobra.Command, []string) error {
			reg, cleanup, err := buildRegistry(flags)
			if err != nil {
				return err
			}
			defer cleanup()
			for _, name := range reg.BenchmarkNames() {
				e := reg.Benchmark(name)
				meta := e.Benchmark.Meta()
				fmt.Printf("%s %s  %s\n", name, meta.Version, meta.Description)
			}
			return nil
		},
	}
}

func newRunsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List runs, newest first",
		RunE: func(*cobra.Command, []string) error {
			runs, err := results.ListRuns(flags.runsDir)
			if err != nil {
				return err
			}
			for _, id := range runs {
				fmt.Println(id)
			}
			return nil
		},
	}
}

// buildRegistry registers the built-in localstore provider and every
// manifest benchmark under --benchmark-dir (non-recursive *.json).
func buildRegistry(flags *rootFlags) (*registry.Registry, func(), error) {
	reg := registry.New()

	store, err := localstore.Open(flags.dbPath)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { store.Close() }
	if err := reg.RegisterProvider(registry.ProviderEntry{Provider: store, Version: localstoreVersion}); err != nil {
		cleanup()
		return nil, nil, err
	}

	if err := registerBenchmarks(reg, flags.benchmarkDir); err != nil {
		cleanup()
		return nil, nil, err
	}
	return reg, cleanup, nil
}

func registerBenchmarks(reg *registry.Registry, dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		slog.Warn("[CLI] benchmark directory missing", "dir", dir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read benchmark dir %s: %w", dir, err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read manifest %s: %w", path, err)
		}
		m, err := manifest.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		hash, err := registry.CanonicalHash(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		opts := bench.Options{}
		if m.Evaluation.Protocol == manifest.ProtocolLLMAsJudge {
			judge := llm.NewTier("JUDGE")
			if err := judge.Validate(); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			opts.Judge = judge
			synth := llm.NewTier("SYNTH")
			if synth.Validate() == nil {
				opts.Synthesizer = protocol.NewLLMSynthesizer(synth)
			}
		}

		b, err := bench.New(m, dir, opts)
		if err != nil {
			return err
		}
		if err := reg.RegisterBenchmark(registry.BenchmarkEntry{Benchmark: b, ManifestHash: hash}); err != nil {
			return err
		}
	}
	return nil
}
