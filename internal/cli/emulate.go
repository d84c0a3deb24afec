package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ratlabs/vecstore/internal/config"
	"github.com/ratlabs/vecstore/internal/emulator"
)

var (
	emulatePort   int
	emulateDB     string
	emulateMemory bool
)

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Run a local emulator of the vector index service",
	Long: "Serves the control and data plane on one port, backed by SQLite.\n" +
		"Point vectorStore.controllerUrl at it to develop without a hosted account.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ec := cfg.Emulator
		dbPath := firstNonEmpty(emulateDB, ec.DBPath)
		if emulateMemory || dbPath == "" {
			dbPath = ":memory:"
		}
		if dbPath != ":memory:" {
			if err := config.EnsureDir(filepath.Dir(dbPath)); err != nil {
				return fmt.Errorf("emulator db dir: %w", err)
			}
		}
		store, err := emulator.NewStore(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		port := ec.Port
		if emulatePort > 0 {
			port = emulatePort
		}
		addr := net.JoinHostPort(ec.Host, strconv.Itoa(port))
		handler := emulator.NewServer(store, emulator.Config{
			APIKey:      ec.APIKey,
			ProjectName: cfg.VectorStore.ProjectName,
			ReadyAfter:  ec.ReadyAfter(),
			MaxPods:     ec.MaxPods,
			Logger:      slog.Default(),
		})

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		printHeader(cmd.OutOrStdout(), "vecstore emulator")
		fmt.Fprintf(cmd.OutOrStdout(), "Controller: http://%s (db %s)\n", ln.Addr(), dbPath)
		return serveUntilDone(ctx, ln, handler)
	},
}

func serveUntilDone(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func init() {
	emulateCmd.Flags().IntVar(&emulatePort, "port", 0, "Listen port (default emulator.port)")
	emulateCmd.Flags().StringVar(&emulateDB, "db", "", "SQLite database path (default emulator.dbPath)")
	emulateCmd.Flags().BoolVar(&emulateMemory, "memory", false, "Keep all state in memory")
	rootCmd.AddCommand(emulateCmd)
}
