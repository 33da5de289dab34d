package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tacore/tacore/pkg/broker"
	"github.com/tacore/tacore/pkg/config"
	"github.com/tacore/tacore/pkg/health"
	"github.com/tacore/tacore/pkg/log"
	"github.com/tacore/tacore/pkg/metrics"
	"github.com/tacore/tacore/pkg/pool"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the broker daemon",
	Long: `Start the dispatch core, the worker pool and the health monitor.

All sockets are bound before any worker process is spawned, so a port
conflict aborts startup with a non-zero exit and no stray workers. On
SIGINT/SIGTERM the broker stops accepting requests, terminates the pool,
joins the health monitor and exits 0.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})
		logger := log.WithComponent("serve")

		b := broker.New(broker.Options{
			FrontendEndpoint: cfg.FrontendEndpoint(),
			BackendEndpoint:  cfg.BackendEndpoint(),
		})
		if err := b.Start(); err != nil {
			return fmt.Errorf("broker startup failed: %w", err)
		}
		logger.Info().
			Str("frontend", cfg.FrontendEndpoint()).
			Str("backend", cfg.BackendEndpoint()).
			Msg("dispatch core started")

		monitor := health.New(cfg.HealthEndpoint(), b)
		if err := monitor.Start(); err != nil {
			b.Stop()
			return fmt.Errorf("health monitor startup failed: %w", err)
		}
		logger.Info().Str("endpoint", cfg.HealthEndpoint()).Msg("health monitor started")

		metricsSrv := metrics.Serve(cfg.MetricsPort)
		logger.Info().Int("port", cfg.MetricsPort).Msg("metrics server started")

		workers := pool.NewManager(pool.Options{
			BackendEndpoint: cfg.BackendConnectEndpoint(),
		})
		if err := workers.StartPool(cfg.Workers); err != nil {
			_ = metricsSrv.Close()
			monitor.Stop()
			b.Stop()
			return fmt.Errorf("worker pool startup failed: %w", err)
		}
		logger.Info().Int("workers", cfg.Workers).Msg("worker pool started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")

		stopSequence(logger,
			b.Stop,
			func() error { return workers.StopPool(cfg.StopTimeout) },
			monitor.Stop,
			metricsSrv.Close,
		)

		logger.Info().Msg("shutdown complete")
		return nil
	},
}

// stopSequence tears the daemon down in order: the dispatch core first, so
// no new client requests are accepted or queued while the pool drains, then
// the pool, the health monitor and the metrics listener.
func stopSequence(logger zerolog.Logger, stopBroker func(), stopPool func() error, stopMonitor func(), closeMetrics func() error) {
	stopBroker()
	if err := stopPool(); err != nil {
		logger.Warn().Err(err).Msg("pool shutdown failed")
	}
	stopMonitor()
	_ = closeMetrics()
}

func init() {
	serveCmd.Flags().String("config", "", "path to YAML config file (optional)")
}
