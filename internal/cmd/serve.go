package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	appLog "meetcal/internal/log"
	"meetcal/internal/web"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve the JSON API (schedule, overlap, recommendations, refresh) along
with /health and /metrics until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (overrides config if set)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := appConfig
	if serveListen != "" {
		cfg.Listen = serveListen
	}

	appLog.Info("meetcal starting",
		"version", Version,
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"database", cfg.DatabasePath,
		"fetch_timeout", cfg.Fetch.Timeout.String(),
		"fetch_workers", cfg.Fetch.Workers,
		"cache_ttl", cfg.Cache.TTL.String(),
	)

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.cache.StartSweeper(cfg.Cache.Sweep); err != nil {
		return err
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := web.NewServer(cfg, a.service).WithHealthCheck(a.store.HealthCheck).Run(ctx); err != nil {
		appLog.Error("HTTP server failed", err)
		return err
	}
	appLog.Info("meetcal exiting")
	return nil
}
