package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/DoyleJ11/pokeroster/internal/app"
	"github.com/DoyleJ11/pokeroster/internal/config"
	"github.com/DoyleJ11/pokeroster/internal/controller"
	"github.com/DoyleJ11/pokeroster/internal/localstate"
	"github.com/DoyleJ11/pokeroster/internal/logging"
	"github.com/DoyleJ11/pokeroster/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pokeroster",
	Short: "Track a Pokémon team, reserve and cemetery per session",
	Long: `pokeroster keeps three lists of caught Pokémon (team, reserve, cemetery)
under a short session code. Any number of clients can watch a session and see
every change as it is written.

Run "pokeroster serve" for the HTTP and websocket API, or use the session and
roster commands directly against the configured store.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.Logging.Level, cfg.Logging.Development, verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (or set POKEROSTER_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(rosterCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(catalogCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	return a, nil
}

// requirePersistentStore refuses the memory driver, whose sessions vanish
// when the command that created them exits.
func requirePersistentStore() error {
	if cfg.Storage.Driver == store.DriverMemory {
		return fmt.Errorf("storage driver %q does not outlive one command; set storage.driver (POKEROSTER_STORAGE_DRIVER) to postgres or mongo, or talk to \"pokeroster serve\" over HTTP", cfg.Storage.Driver)
	}
	return nil
}

// withController runs fn against a controller that remembers its session in
// the local state file. When fn returns, the controller lets go of its
// subscriptions but the session stays remembered.
func withController(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, c *controller.Controller) error) error {
	if err := requirePersistentStore(); err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close app", zap.Error(err))
		}
	}()

	c := a.NewController(ctx, localstate.NewFile(cfg.StatePath))
	defer func() {
		if err := c.Release(); err != nil {
			logger.Warn("release session", zap.Error(err))
		}
	}()
	return fn(ctx, a, c)
}

// requireSession resumes the remembered session or explains how to get one.
func requireSession(ctx context.Context, c *controller.Controller) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	if c.Session() == "" {
		if c.View().InvalidSession {
			return fmt.Errorf("remembered session no longer exists; run \"pokeroster session create\" or \"session use\"")
		}
		return fmt.Errorf("no session; run \"pokeroster session create\" or \"session use\"")
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
