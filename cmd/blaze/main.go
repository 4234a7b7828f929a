// Blaze is a small shared task board with realtime sync between clients.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/madhatter5501/blaze/internal/auth"
	"github.com/madhatter5501/blaze/internal/config"
	"github.com/madhatter5501/blaze/internal/db"
	"github.com/madhatter5501/blaze/internal/hub"
	"github.com/madhatter5501/blaze/internal/web"
	"github.com/madhatter5501/blaze/kanban"
)

var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "blaze",
		Short:         "Blaze - realtime kanban board server",
		Version:       fmt.Sprintf("%s (commit: %s)", version, gitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := config.BindFlags(rootCmd.PersistentFlags())
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(flags)
	}

	rootCmd.AddCommand(serveCmd(flags))
	rootCmd.AddCommand(statusCmd(flags))
	rootCmd.AddCommand(historyCmd(flags))
	rootCmd.AddCommand(tokenCmd(flags))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd(flags *config.Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the board server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flags)
		},
	}
}

// loadConfig resolves and validates the layered configuration.
func loadConfig(flags *config.Flags) (*config.Config, error) {
	cfg, err := flags.Load(os.Getenv)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := cfg.Level()
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// openState opens the configured backend and loads the board. The returned
// closer releases the backend.
func openState(cfg *config.Config, publisher kanban.Publisher, logger *slog.Logger) (*kanban.State, func() error, error) {
	var backend kanban.Backend
	closer := func() error { return nil }

	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		database, err := db.Open(cfg.DBPath())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		backend = db.NewStore(database, cfg.Storage.History)
		closer = database.Close
	default:
		backend = kanban.NewFileBackend(cfg.BoardPath())
	}

	state := kanban.NewState(backend, publisher, logger)
	if err := state.Load(); err != nil {
		_ = closer()
		return nil, nil, err
	}
	return state, closer, nil
}

func runServe(flags *config.Flags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	checker, err := auth.Resolve(auth.Options{Token: cfg.Auth.Token, File: cfg.TokenPath()}, logger)
	if err != nil {
		return err
	}

	h := hub.New(hub.Config{
		PingInterval: cfg.Realtime.PingInterval,
		PongTimeout:  cfg.Realtime.PongTimeout,
		WriteTimeout: cfg.Realtime.WriteTimeout,
		SendBuffer:   cfg.Realtime.SendBuffer,
		SkipOrigin:   cfg.Realtime.SkipOrigin,
	}, logger)

	state, closeStore, err := openState(cfg, h, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	server := web.NewServer(kanban.NewService(state), h, checker, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Print(banner(cfg, checker))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	fmt.Println("\nShutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", "error", err)
	}
	return <-errCh
}

func banner(cfg *config.Config, checker *auth.Checker) string {
	storage := cfg.BoardPath()
	if cfg.Storage.Backend == config.BackendSQLite {
		storage = cfg.DBPath()
	}
	token := "from " + string(checker.Source())
	if checker.Source() != auth.SourceEnv {
		token += " (" + cfg.TokenPath() + ")"
	}
	url := cfg.Server.Addr
	if strings.HasPrefix(url, ":") {
		url = "localhost" + url
	}
	return fmt.Sprintf(`
╔═══════════════════════════════════════════════════════════════╗
║                         Blaze Board                           ║
╠═══════════════════════════════════════════════════════════════╣
  Server:   http://%s
  Storage:  %s (%s)
  Token:    %s
╚═══════════════════════════════════════════════════════════════╝

`, url, storage, cfg.Storage.Backend, token)
}
