package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ratlabs/vecstore/internal/config"
	"github.com/ratlabs/vecstore/internal/vectorstore"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/ratlabs/vecstore/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		" __   _____ ___ ___ _____ ___  ___ ___\n" +
		" \\ \\ / / __/ __/ __|_   _/ _ \\| _ \\ __|\n" +
		"  \\ V /| _| (__\\__ \\ | || (_) |   / _|\n" +
		"   \\_/ |___\\___|___/ |_| \\___/|_|_\\___|\n"
)

var (
	logLevel   string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "vecstore",
	Short: "vecstore - hosted vector index client and tools",
	Long:  color.CyanString(logo) + "\nManage vector indexes, run semantic search and serve it over HTTP and Slack.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd.ErrOrStderr(), logLevel)
	},
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print machine-readable JSON")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
}

func setupLogging(w io.Writer, level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return fmt.Errorf("invalid --log-level %q", level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
	return nil
}

func printHeader(w io.Writer, title string) {
	if jsonOutput {
		return
	}
	fmt.Fprintln(w, color.CyanString(logo))
	if title != "" {
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, "─────────────────────")
	}
}

// printResult writes v as indented JSON under --json, otherwise calls human.
func printResult(cmd *cobra.Command, v any, human func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(w)
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newClient builds a vector store client from the loaded configuration.
func newClient(cfg *config.Config) (*vectorstore.Client, error) {
	vs := cfg.VectorStore
	return vectorstore.NewClient(vectorstore.ClientConfig{
		APIKey:        vs.APIKey,
		Environment:   vs.Environment,
		ProjectName:   vs.ProjectName,
		ControllerURL: vs.ControllerURL,
		Retry: vectorstore.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay(),
			Multiplier:  cfg.Retry.Multiplier,
			MaxDelay:    cfg.Retry.MaxDelay(),
		},
		BatchSize:         vs.BatchSize,
		UpsertConcurrency: vs.UpsertConcurrency,
		HTTPClient:        httpClient(vs.TimeoutSeconds),
		Logger:            slog.Default(),
	})
}

func clientFromConfig() (*config.Config, *vectorstore.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	c, err := newClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, c, nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
