// Command water-sim runs the water treatment scan-cycle simulation and
// provides operator tools for its tag store.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sweeney/water-sim/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFile    string
	daemonURL  string
}

func (g *globalFlags) load() (config.Config, error) {
	return config.Load(g.configPath, g.envFile)
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "water-sim",
		Short: "Water treatment plant scan-cycle simulator",
		Long: `water-sim runs a 2 second scan cycle over a tag store: fault evaluation, ` +
			`tank fill requests, valve arbitration, pump control with anti-short-cycle ` +
			`interlocks, level integration and the backwash timer.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", "", "env file with WATERSIM_* overrides")
	root.PersistentFlags().StringVar(&g.daemonURL, "daemon", "",
		`daemon URL for operator commands (default from the HTTP address, "off" to use the store directly)`)

	root.AddCommand(
		newRunCmd(g),
		newStateCmd(g),
		newSeedCmd(g),
		newBackwashCmd(g),
		newSetCmd(g),
	)
	return root
}
