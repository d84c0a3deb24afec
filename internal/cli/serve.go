package cli

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ratlabs/vecstore/internal/embedding"
	"github.com/ratlabs/vecstore/internal/gateway"
	"github.com/ratlabs/vecstore/internal/slackbot"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP search gateway (and the Slack command when enabled)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cfg, err := newSearchService()
		if err != nil {
			return err
		}
		host := firstNonEmpty(serveHost, cfg.Gateway.Host)
		port := cfg.Gateway.Port
		if servePort > 0 {
			port = servePort
		}

		opts := gateway.Options{
			Addr:            net.JoinHostPort(host, strconv.Itoa(port)),
			AuthToken:       cfg.Gateway.AuthToken,
			ShutdownTimeout: seconds(cfg.Gateway.ShutdownTimeoutSeconds),
			Logger:          slog.Default(),
		}
		var classifier *embedding.CohereClassifier
		if cfg.Sentiment.Configured() {
			if classifier, err = embedding.NewClassifier(cfg.Sentiment); err != nil {
				return fmt.Errorf("sentiment: %w", err)
			}
			opts.Classifier = classifier
		}
		var slackHandler *slackbot.Handler
		if cfg.Slack.Enabled {
			if cfg.Slack.BotToken == "" || cfg.Slack.SigningSecret == "" {
				return fmt.Errorf("slack is enabled but slack.botToken or slack.signingSecret is empty")
			}
			api := slackbot.NewAPI(cfg.Slack.BotToken, cfg.Slack.APIURL)
			history := slackbot.NewHistory(api, cfg.Slack.HistoryLimit, slog.Default())
			slackOpts := slackbot.Options{
				SigningSecret: cfg.Slack.SigningSecret,
				DefaultQuery:  cfg.Slack.DefaultQuery,
				TopK:          cfg.Search.TopK,
				Timeout:       2 * time.Minute,
				Logger:        slog.Default(),
			}
			if classifier != nil {
				slackOpts.Classifier = classifier
			}
			slackHandler = slackbot.NewHandler(history, svc, slackOpts)
			opts.Slack = slackHandler
		}

		ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		printHeader(cmd.OutOrStdout(), "vecstore gateway")
		fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s (index %s)\n", opts.Addr, svc.IndexName())
		if classifier != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Sentiment: POST /sentiment")
		}
		if cfg.Slack.Enabled {
			fmt.Fprintln(cmd.OutOrStdout(), "Slack command: POST /slack/commands")
		}

		err = gateway.New(svc, opts).Run(ctx)
		if slackHandler != nil {
			slackHandler.Wait()
		}
		return err
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default gateway.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default gateway.port)")
	rootCmd.AddCommand(serveCmd)
}
