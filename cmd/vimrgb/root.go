package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/vimrgb-core/internal/infrastructure/config"
)

// defaultConfigPath is used when neither --config nor VIMRGB_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

type rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "vimrgb",
		Short: "Editor-mode keyboard lighting daemon",
		Long: `vimrgb colours keyboard LEDs by editor mode.

The daemon listens for mode changes over MQTT and the local HTTP API,
resolves the configured theme for each mode and writes it to the LED
hardware.`,
		Example: `  vimrgb run --config /etc/vimrgb/config.yaml
  vimrgb check
  vimrgb mode insert`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "",
		"Path to the configuration file (default $VIMRGB_CONFIG or "+defaultConfigPath+")")

	cmd.AddCommand(
		newRunCmd(&flags),
		newCheckCmd(&flags),
		newModeCmd(&flags),
		newReloadCmd(&flags),
		newVersionCmd(),
	)
	return cmd
}

// path resolves the config file: flag, then VIMRGB_CONFIG, then default.
func (f *rootFlags) path() string {
	if f.configPath != "" {
		return f.configPath
	}
	if p := os.Getenv("VIMRGB_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

// load reads the config file. A missing default file falls back to the
// built-in defaults so a bare "vimrgb run" works out of the box; an
// explicitly named file must exist.
func (f *rootFlags) load() (*config.Config, string, error) {
	path := f.path()
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}

	explicit := f.configPath != "" || os.Getenv("VIMRGB_CONFIG") != ""
	if _, statErr := os.Stat(path); !explicit && os.IsNotExist(statErr) {
		cfg = config.Default()
		if vErr := cfg.Validate(); vErr != nil {
			return nil, "", fmt.Errorf("validating default config: %w", vErr)
		}
		return cfg, "", nil
	}
	return nil, "", fmt.Errorf("loading config: %w", err)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vimrgb version %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Commit: %s\n", commit)
			fmt.Fprintf(cmd.OutOrStdout(), "Built: %s\n", date)
		},
	}
}
