package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tacore/tacore/pkg/config"
	"github.com/tacore/tacore/pkg/log"
	"github.com/tacore/tacore/pkg/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a single pool worker process",
	Long: `Run one worker process. Normally spawned by the broker's pool manager
rather than invoked by hand: the broker re-executes its own binary with
this subcommand, one process per pool slot.

The built-in handler echoes payloads; real deployments embed pkg/worker
with their own computation handler.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		index, _ := cmd.Flags().GetInt("index")
		endpoint, _ := cmd.Flags().GetString("endpoint")

		cfg, err := config.Load("")
		if err != nil {
			return err
		}
		if endpoint == "" {
			endpoint = cfg.BackendConnectEndpoint()
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})

		w, err := worker.New(worker.Options{
			Index:    index,
			Endpoint: endpoint,
			Handler:  worker.EchoHandler,
		})
		if err != nil {
			return err
		}
		if err := w.Start(); err != nil {
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		w.Stop()
		return nil
	},
}

func init() {
	workerCmd.Flags().Int("index", 0, "pool slot index (stable for the process lifetime)")
	workerCmd.Flags().String("endpoint", "", "broker backend endpoint to dial")
}
