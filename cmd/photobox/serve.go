package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cjeanneret/photobox/internal/debug"
	"github.com/cjeanneret/photobox/internal/web"
)

func newServeCmd(a *app) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the booth web interface",
		Long: `Starts the booth web interface. The page picks a layout, starts sessions
and follows the countdown live over server-sent events. When the trigger is
enabled in the config, the GPIO button starts sessions too.`,
		Example: `  # Start on the configured port (8080 by default)
  photobox serve

  # Start on a custom port with a mock GPIO setup
  PHOTOBOX_MOCK_GPIO=true photobox serve --port 8980`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("port") {
				if port <= 0 || port > 65535 {
					return fmt.Errorf("port must be 1-65535, got %d", port)
				}
				cfg.Web.Port = port
			}

			g, err := openGPIO(cfg)
			if err != nil {
				return err
			}
			defer closeGPIO(g)

			b, err := newBooth(cfg, g)
			if err != nil {
				return err
			}
			defer func() {
				if err := b.Close(); err != nil {
					debug.Error(fmt.Errorf("closing booth failed: %w", err))
				}
			}()

			broadcaster := web.NewStatusBroadcaster()
			debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
			defer debug.Sync()
			b.Subscribe(web.EventPublisher(broadcaster))

			ctx := cmd.Context()
			if cfg.Trigger.Enabled {
				stop, err := startTrigger(ctx, cfg, g, b)
				if err != nil {
					return err
				}
				defer stop()
			}

			srv := web.NewServer(fmt.Sprintf(":%d", cfg.Web.Port), broadcaster, b, web.ClientConfig{
				Title:         cfg.Collage.Title,
				DefaultLayout: cfg.Session.DefaultLayout,
				CountdownFrom: cfg.Session.CountdownFrom,
				TickMs:        cfg.Session.TickMs,
			})
			return srv.Run(ctx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides web.port)")
	return cmd
}
