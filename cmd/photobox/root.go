package main

import (
	"fmt"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cjeanneret/photobox/internal/config"
	"github.com/cjeanneret/photobox/internal/debug"
)

// app carries the state shared by every subcommand.
type app struct {
	cfgPath string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "photobox",
		Short: "Photobooth: countdown capture sessions composed into collages",
		Long: `Photobox drives a camera through timed capture sessions and composes
the photos of each session into a collage following the selected layout.

Run "photobox serve" for the booth web interface, or "photobox shoot" to run
a single session from the terminal.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	cmd.PersistentFlags().StringVar(&a.cfgPath, "config", filepath.Join("configs", "default.yaml"), "path to config file")

	cmd.AddCommand(newServeCmd(a), newShootCmd(a), newLayoutsCmd(a))
	return cmd
}

func (a *app) load() error {
	// .env is optional
	_ = godotenv.Load()

	if err := config.ValidateConfigPath(a.cfgPath); err != nil {
		return err
	}
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", a.cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	a.cfg = cfg
	return nil
}
