package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/bryanchriswhite/motioncomm/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and change the motion and capture settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show [motion|capture|server]",
	Short: "Show effective settings and where each one comes from",
	Long: `Show the effective settings after flags, MOTIONCOMM_* environment
variables and the config file are applied. The table format marks the source
of every value; yaml and json print the decoded section only.`,
	Example: `  motioncomm config show motion
  motioncomm --motion-host nvr.local config show
  motioncomm config show capture --format json`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: configSections,
	RunE:      runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Persist a setting to the config file",
	Long:  `Persist a setting. The file is only written if the resulting config is valid.`,
	Example: `  motioncomm config set motion.host nvr.local
  motioncomm config set capture.format png`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Print the effective value of one setting",
	Example: `  motioncomm config get motion.control_port
  motioncomm config get capture.sink_buffer --source`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path and whether it exists",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

var configSections = []string{"motion", "capture", "server"}

var (
	formatFlag string
	sourceFlag bool
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)

	configShowCmd.Flags().StringVarP(&formatFlag, "format", "f", "table", "output format (table, yaml or json)")
	configGetCmd.Flags().BoolVar(&sourceFlag, "source", false, "also print where the value comes from")
}

// sourceLabel names the environment variable for env-sourced keys.
func sourceLabel(mgr *config.Manager, key string) string {
	source := mgr.Source(key)
	if source == config.SourceEnv {
		return source + " (" + config.EnvVar(key) + ")"
	}
	return source
}

func writeConfigTable(w io.Writer, mgr *config.Manager, section string) error {
	v := mgr.GetViper()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tVALUE\tSOURCE")
	for _, key := range mgr.Keys(section) {
		fmt.Fprintf(tw, "%s\t%v\t%s\n", key, v.Get(key), sourceLabel(mgr, key))
	}
	return tw.Flush()
}

// sectionValue returns the decoded config for section, or all of it.
func sectionValue(cfg *config.Config, section string) interface{} {
	switch section {
	case "motion":
		return cfg.Motion
	case "capture":
		return cfg.Capture
	case "server":
		return struct {
			ServerPort int    `json:"server_port" yaml:"server_port"`
			LogLevel   string `json:"log_level" yaml:"log_level"`
			LogPretty  bool   `json:"log_pretty" yaml:"log_pretty"`
		}{cfg.ServerPort, cfg.LogLevel, cfg.LogPretty}
	default:
		return cfg
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	section := ""
	if len(args) == 1 {
		section = args[0]
		if !validSection(section) {
			return fmt.Errorf("unknown section %q (use motion, capture or server)", section)
		}
	}

	configMgr, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	switch formatFlag {
	case "table":
		return writeConfigTable(out, configMgr, section)
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(sectionValue(configMgr.Get(), section))
	case "yaml":
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		return encoder.Encode(sectionValue(configMgr.Get(), section))
	default:
		return fmt.Errorf("unsupported format: %s (use table, yaml or json)", formatFlag)
	}
}

func validSection(section string) bool {
	for _, s := range configSections {
		if s == section {
			return true
		}
	}
	return false
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if !configMgr.GetViper().IsSet(key) {
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	// Values are strings here; decoding into Config converts and validates them
	if err := configMgr.Set(key, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration updated: %s = %s\n", key, value)
	if env := config.EnvVar(key); os.Getenv(env) != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Note: %s is set and takes precedence over the file\n", env)
	}
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	configMgr, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}

	v := configMgr.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key not found: %s", key)
	}

	if sourceFlag {
		fmt.Fprintf(cmd.OutOrStdout(), "%v\t%s\n", v.Get(key), sourceLabel(configMgr, key))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), v.Get(key))
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	state := "exists"
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		state = "not created yet"
	} else if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", path, state)
	return nil
}
