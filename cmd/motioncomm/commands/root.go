package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/bryanchriswhite/motioncomm/internal/config"
	"github.com/bryanchriswhite/motioncomm/internal/logger"
	"github.com/bryanchriswhite/motioncomm/internal/motion"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "motioncomm",
		Short: "MotionComm - Motion daemon control and frame capture",
		Long: `MotionComm talks to a Motion daemon over its webcontrol interface and
captures frames from its camera streams.

Features:
  • List cameras and inspect their settings
  • Start, pause and query motion detection
  • Trigger snapshots and emulated motion events
  • Capture N frames per camera for any number of destinations
    while sharing one upstream connection per camera
  • Re-stream captured frames over MJPEG and push events over WebSocket
  • Persistent configuration
  • REST API for integration`,
		SilenceUsage: true,
	}
)

// flagKeys are the config keys the global flags override.
var flagKeys = []string{"server_port", "log_level", "motion.host", "motion.control_port"}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/motioncomm/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8090)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("motion-host", "", "Motion daemon host (default is localhost)")
	rootCmd.PersistentFlags().Int("motion-port", 0, "Motion webcontrol port (default is 8080)")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("motion.host", rootCmd.PersistentFlags().Lookup("motion-host"))
	viper.BindPFlag("motion.control_port", rootCmd.PersistentFlags().Lookup("motion-port"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig opens the config file, applies flags given on the command line
// for this run only and initializes logging to w.
func loadConfig(w io.Writer) (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	for _, key := range flagKeys {
		if !viper.IsSet(key) {
			continue
		}
		if err := configMgr.Override(key, viper.Get(key)); err != nil {
			return nil, fmt.Errorf("invalid --%s: %w", key, err)
		}
	}

	cfg := configMgr.Get()
	if w == os.Stdout && cfg.LogPretty {
		logger.Init(cfg.LogLevel, true)
	} else {
		logger.InitWriter(w, cfg.LogLevel)
	}
	return configMgr, nil
}

// newMotionClient loads the config with logs on stderr, keeping stdout for
// command output.
func newMotionClient() (*motion.Client, *config.Manager, error) {
	configMgr, err := loadConfig(os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	cfg := configMgr.Get()
	return motion.NewClient(cfg.MotionClientConfig()), configMgr, nil
}

// confirm turns an unconfirmed webcontrol action into an error.
func confirm(action, cameraID string, ok bool, err error) error {
	if err != nil {
		return fmt.Errorf("%s on camera %s failed: %w", action, cameraID, err)
	}
	if !ok {
		return fmt.Errorf("%s on camera %s was not confirmed by the daemon", action, cameraID)
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
