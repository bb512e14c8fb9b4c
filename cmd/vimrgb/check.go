package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/vimrgb-core/internal/hardware"
	"github.com/nerrad567/vimrgb-core/internal/infrastructure/config"
	"github.com/nerrad567/vimrgb-core/internal/layout"
	"github.com/nerrad567/vimrgb-core/internal/theme"
)

func newCheckCmd(flags *rootFlags) *cobra.Command {
	var themePath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load and compile the theme, then print a per-mode summary",
		Long: `Load the theme, expand its groupings against the configured devices
and resolve every mode. Warnings are printed but do not fail the check;
a theme that cannot be read or parsed does.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := flags.load()
			if err != nil {
				return err
			}
			if themePath != "" {
				cfg.Theme.Path = themePath
			}
			return check(cmd.OutOrStdout(), cfg)
		},
	}

	cmd.Flags().StringVarP(&themePath, "theme", "t", "", "Theme file to check instead of theme.path")
	return cmd
}

// check writes the summary for cfg's theme and devices to w.
func check(w io.Writer, cfg *config.Config) error {
	raw, err := theme.LoadFile(cfg.Theme.Path)
	if err != nil {
		return err
	}

	devices := hardware.DevicesFromConfig(cfg.Hardware)
	opts := theme.CompileOptions{}
	if len(devices) > 0 {
		opts.KnownKeys = hardware.KnownKeys(devices)
	}

	warnings := theme.Validate(raw)
	compiled, compileWarnings := theme.Compile(raw, opts)
	warnings = append(warnings, compileWarnings...)

	fmt.Fprintf(w, "theme:   %s\n", cfg.Theme.Path)
	fmt.Fprintf(w, "devices: %d (%d LEDs)\n", len(devices), hardware.LEDCount(devices))
	fmt.Fprintf(w, "groups:  %d\n\n", len(compiled.Groupings))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODE\tKEYS\tASSIGNED\tUNASSIGNED")
	for _, mode := range compiled.ModeNames() {
		l := layout.Resolve(compiled, mode, devices)
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", mode, len(compiled.Modes[mode]), len(l.Assignments), len(l.Unassigned))
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}

	if len(warnings) > 0 {
		fmt.Fprintf(w, "\n%d warning(s):\n", len(warnings))
		for _, warn := range warnings {
			fmt.Fprintf(w, "  - %v\n", warn)
		}
	}
	return nil
}
