package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ratlabs/vecstore/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader(cmd.OutOrStdout(), "vecstore version")
		fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and connectivity status",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		printHeader(w, "vecstore status")
		fmt.Fprintf(w, "Version:     %s\n", version)

		cfgPath, _ := config.ConfigPath()
		if _, err := os.Stat(cfgPath); err == nil {
			fmt.Fprintf(w, "Config:      %s (%s)\n", color.GreenString("found"), cfgPath)
		} else {
			fmt.Fprintf(w, "Config:      %s (run 'vecstore config set' or 'vecstore doctor')\n", color.YellowString("not found"))
		}

		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(w, "Config load: %s %v\n", color.RedString("failed"), err)
			return err
		}
		fmt.Fprintf(w, "Environment: %s\n", cfg.VectorStore.Environment)
		fmt.Fprintf(w, "Embedding:   %s/%s (key %s)\n", cfg.Embedding.Provider, cfg.Embedding.Model, presence(cfg.Embedding.APIKey))
		fmt.Fprintf(w, "Search:      index=%s metric=%s\n", cfg.Search.Index, cfg.Search.Metric)
		if strings.TrimSpace(cfg.VectorStore.APIKey) == "" {
			fmt.Fprintf(w, "API key:     %s\n", color.RedString("missing"))
			return nil
		}

		c, err := newClient(cfg)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmdContext(cmd), seconds(cfg.VectorStore.TimeoutSeconds))
		defer cancel()
		who, err := c.WhoAmI(ctx)
		if err != nil {
			fmt.Fprintf(w, "Controller:  %s %v\n", color.RedString("unreachable"), err)
			return nil
		}
		fmt.Fprintf(w, "Controller:  %s (project %s)\n", color.GreenString("ok"), who.ProjectName)
		return nil
	},
}

func presence(s string) string {
	if strings.TrimSpace(s) == "" {
		return color.RedString("missing")
	}
	return color.GreenString("set")
}

func httpClient(timeoutSeconds int) *http.Client {
	if timeoutSeconds <= 0 {
		return nil
	}
	return &http.Client{Timeout: seconds(timeoutSeconds)}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
