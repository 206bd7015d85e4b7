// Command hooksync patches a host process for synchronized two player
// sessions, or plays a session on a simulated host.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/k2io/hooksync"
	"github.com/k2io/hooksync/internal/config"
	"github.com/k2io/hooksync/internal/layout"
)

// set at build time
var version = "dev"

type globalFlags struct {
	config string
	debug  bool
}

func main() {
	var g globalFlags
	rootCmd := &cobra.Command{
		Use:           "hooksync",
		Short:         "Synchronize two instances of a host program",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if g.debug {
				hooksync.SetDebug(true)
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&g.config, "config", "c", config.DefaultFile, "configuration file")
	rootCmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "log patched bytes and debug messages")

	rootCmd.AddCommand(
		playCmd(&g),
		patchCmd(&g),
		symbolsCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func (g *globalFlags) logger() *slog.Logger {
	level := slog.LevelInfo
	if g.debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// load reads the configuration and the layout it describes.
func (g *globalFlags) load(log *slog.Logger) (config.Config, layout.Layout, error) {
	cfg, err := config.Load(g.config)
	if err != nil {
		return cfg, layout.Layout{}, err
	}
	l := layout.Default()
	if cfg.Layout.Symbols != "" {
		syms, err := hooksync.GetSymbols(cfg.Layout.Symbols)
		if err != nil {
			return cfg, l, fmt.Errorf("symbols: %w", err)
		}
		log.Debug("layout from symbols", "file", cfg.Layout.Symbols, "fields", l.ApplySymbols(syms))
	}
	if err := l.Apply(cfg.Layout.Overrides); err != nil {
		return cfg, l, err
	}
	return cfg, l, nil
}
