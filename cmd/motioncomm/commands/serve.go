package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/motioncomm/internal/api"
	"github.com/bryanchriswhite/motioncomm/internal/capture"
	"github.com/bryanchriswhite/motioncomm/internal/logger"
	"github.com/bryanchriswhite/motioncomm/internal/motion"
	"github.com/bryanchriswhite/motioncomm/internal/output"
	"github.com/bryanchriswhite/motioncomm/internal/stream"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MotionComm server",
	Long: `Start the MotionComm HTTP server.

The server exposes the Motion daemon's cameras over a REST API, runs frame
captures on request and re-streams captured frames per destination.`,
	Example: `  # Start server on default port (8090)
  motioncomm serve

  # Start server on custom port against a remote daemon
  motioncomm serve --port 9090 --motion-host nvr.local

  # Start with debug logging
  motioncomm serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig(os.Stdout)
	if err != nil {
		return err
	}
	cfg := configMgr.Get()
	log := logger.WithComponent("serve")

	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")

	client := motion.NewClient(cfg.MotionClientConfig())
	log.Info().Str("webcontrol", client.BaseURL()).Msg("Using Motion daemon")

	captureCfg := cfg.CaptureConfig()
	format, err := capture.ParseFormat(string(captureCfg.Encoder.Format))
	if err != nil {
		return err
	}

	// Outputs
	mjpegOut := output.NewMJPEGOutput(format.ContentType())
	hub := output.NewHub()
	outputs := []output.Output{mjpegOut, hub}
	for _, o := range outputs {
		if err := o.Start(); err != nil {
			return fmt.Errorf("failed to start %s: %w", o.Name(), err)
		}
	}
	listeners := output.Multi{mjpegOut, hub}
	client.SetListener(listeners)

	coordinator, err := capture.NewCoordinator(stream.NewHTTPSource(client), listeners, captureCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize capture coordinator: %w", err)
	}

	emulator := motion.NewEmulator(client)

	server := api.NewServer(api.Deps{
		Motion:    client,
		Capture:   coordinator,
		Emulator:  emulator,
		Events:    hub,
		Stream:    mjpegOut,
		ConfigMgr: configMgr,
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(cfg.ServerPort)
	}()

	log.Info().
		Str("api", fmt.Sprintf("http://localhost:%d/api", cfg.ServerPort)).
		Str("streams", fmt.Sprintf("http://localhost:%d/stats", cfg.ServerPort)).
		Msg("MotionComm is running, press Ctrl+C to stop")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully")
	case serveErr = <-errChan:
		log.Error().Err(serveErr).Msg("Server error")
	}

	// Streaming handlers only return once their output closes them
	for _, o := range outputs {
		if err := o.Stop(); err != nil {
			log.Warn().Err(err).Str("output", o.Name()).Msg("Failed to stop output")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}

	emulator.Stop()
	coordinator.Close()
	return serveErr
}
