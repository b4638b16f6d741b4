package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jbctechsolutions/mizan/config"
	"github.com/jbctechsolutions/mizan/mcp"
	"github.com/jbctechsolutions/mizan/routing"
	"github.com/jbctechsolutions/mizan/telemetry"
)

var (
	configDir string
	dbPath    string
	verbose   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mizan",
		Short: "Model routing and consensus engine for Arabic text analysis",
		Long: "Routes analysis requests to the best-fit backend using text features\n" +
			"and task context, with bounded fallback and optional multi-backend consensus.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			var logger *zap.Logger
			if verbose {
				logger, _ = zap.NewDevelopment()
			} else {
				logger, _ = zap.NewProduction()
			}
			zap.ReplaceGlobals(logger)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configDir, "config", "config", "directory containing backends.yaml, scoring.yaml, lexicon.yaml")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", filepath.Join(os.TempDir(), "mizan-telemetry.db"), "telemetry database path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(featuresCmd())
	rootCmd.AddCommand(backendsCmd())
	rootCmd.AddCommand(decisionsCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(mcpCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// readText returns the first positional argument, or stdin when none given.
func readText(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

// openTelemetry opens the collector at dbPath; a failure disables telemetry
// with a warning rather than preventing the command from running.
func openTelemetry() *telemetry.Collector {
	tel, err := telemetry.NewCollector(dbPath)
	if err != nil {
		zap.L().Warn("telemetry disabled", zap.Error(err))
		return nil
	}
	return tel
}

func analyzeCmd() *cobra.Command {
	var (
		task      string
		priority  string
		cost      string
		deadline  time.Duration
		consensus bool
	)

	cmd := &cobra.Command{
		Use:   "analyze [text]",
		Short: "Route a text to the best backend and print the analysis result",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(args)
			if err != nil {
				return err
			}

			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}

			tel := openTelemetry()
			if tel != nil {
				defer tel.Close()
			}

			registry := routing.NewRegistryFromConfig(cfg)
			caller := routing.NewProviderCaller(cfg)
			router := routing.NewRouter(cfg, registry, caller, tel, zap.L())

			result, err := router.Analyze(cmd.Context(), text, routing.TaskContext{
				TaskType:        routing.TaskType(task),
				Priority:        routing.Level(priority),
				CostSensitivity: routing.Level(cost),
				Deadline:        deadline,
				WantConsensus:   consensus,
			})
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	cmd.Flags().StringVar(&task, "task", string(routing.TaskGeneric), "task type: quick_classification, deep_analysis, cultural_analysis, generic")
	cmd.Flags().StringVar(&priority, "priority", string(routing.LevelMedium), "priority: low, medium, high")
	cmd.Flags().StringVar(&cost, "cost", string(routing.LevelMedium), "cost sensitivity: low, medium, high")
	cmd.Flags().DurationVar(&deadline, "deadline", 30*time.Second, "max time to wait")
	cmd.Flags().BoolVar(&consensus, "consensus", false, "force multi-strategy consensus")

	return cmd
}

func featuresCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "features [text]",
		Short: "Extract the routing feature vector from a text (offline)",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(args)
			if err != nil {
				return err
			}

			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}

			f := routing.NewExtractor(cfg.Lexicon).Extract(text)
			return printJSON(map[string]interface{}{
				"length_tokens":    f.LengthTokens,
				"script_ratio":     f.ScriptRatio,
				"dialect_density":  f.DialectDensity,
				"complexity_score": f.ComplexityScore,
				"detected_region":  f.Region,
			})
		},
	}
}

func backendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List configured backends with strengths and limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}
			return printJSON(routing.NewRegistryFromConfig(cfg).List())
		},
	}
}

func decisionsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Show recent analysis decisions from telemetry",
		RunE: func(cmd *cobra.Command, args []string) error {
			tel, err := telemetry.NewCollector(dbPath)
			if err != nil {
				return err
			}
			defer tel.Close()

			events, err := tel.RecentEvents(limit)
			if err != nil {
				return err
			}
			return printJSON(events)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of decisions to show")
	return cmd
}

func statsCmd() *cobra.Command {
	var backend string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate routing statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			tel, err := telemetry.NewCollector(dbPath)
			if err != nil {
				return err
			}
			defer tel.Close()

			stats, err := tel.GetStats(backend)
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "", "filter stats by backend ID")
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve engine tools over the Model Context Protocol (stdio)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}

			tel := openTelemetry()
			if tel != nil {
				defer tel.Close()
			}

			registry := routing.NewRegistryFromConfig(cfg)
			caller := routing.NewProviderCaller(cfg)
			router := routing.NewRouter(cfg, registry, caller, tel, zap.L())

			return mcp.NewMCPServer(cfg, router, registry, tel).Start()
		},
	}
}
