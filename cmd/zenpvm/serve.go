package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pbinitiative/zenpvm/internal/config"
	"github.com/pbinitiative/zenpvm/internal/log"
	"github.com/pbinitiative/zenpvm/internal/otel"
	"github.com/pbinitiative/zenpvm/internal/profile"
	"github.com/pbinitiative/zenpvm/internal/rest"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API",
	Long:  `Reads conf.yaml (or the file named by CONFIG_FILE, or the environment) and serves the engine over HTTP until interrupted.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(cmd.Context()); err != nil {
			log.Error("%s", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	profile.InitProfile()
	log.Init()
	defer log.Sync()

	if ctx == nil {
		ctx = context.Background()
	}
	appContext, ctxCancel := context.WithCancel(ctx)
	defer ctxCancel()

	conf := config.InitConfig()

	openTelemetry, err := otel.SetupOtel(conf.Tracing)
	if err != nil {
		log.Error("Failed to set up OTEL: %s", err)
		return err
	}
	defer openTelemetry.Stop(appContext)
	metrics, err := openTelemetry.EngineMetrics()
	if err != nil {
		return err
	}

	deps, err := newEngine(appContext, conf, metrics, openTelemetry.Tracer())
	if err != nil {
		log.Error("Failed to start engine: %s", err)
		return err
	}
	deps.engine.Start(appContext)

	// Start the public API
	svr := rest.NewServer(deps.engine, conf)
	svr.Start()

	appStop := make(chan os.Signal, 2)
	handleSigterm(appStop, appContext)

	// cleanup
	svr.Stop(appContext)
	deps.engine.Stop()
	if err := deps.close(); err != nil {
		log.Error("failed to properly stop engine: %s", err)
	}
	return nil
}

func handleSigterm(appStop chan os.Signal, ctx context.Context) {
	signal.Notify(appStop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-appStop
	log.Infof(ctx, "Received %s. Shutting down", sig.String())
}
