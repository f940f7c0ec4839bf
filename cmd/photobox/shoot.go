package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/cjeanneret/photobox/internal/booth"
	"github.com/cjeanneret/photobox/internal/debug"
	"github.com/cjeanneret/photobox/internal/logic/compose"
)

func newShootCmd(a *app) *cobra.Command {
	var (
		layoutID string
		outDir   string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "shoot",
		Short: "Run one capture session and write the exported collage",
		Example: `  # Shoot the default layout into collage.output_dir
  photobox shoot

  # Shoot the 4-photo layout into /tmp
  photobox shoot --layout L_4_SQUARE --out /tmp`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outDir == "" {
				outDir = a.cfg.Collage.OutputDir
			}

			g, err := openGPIO(a.cfg)
			if err != nil {
				return err
			}
			defer closeGPIO(g)

			b, err := newBooth(a.cfg, g)
			if err != nil {
				return err
			}
			defer func() {
				if err := b.Close(); err != nil {
					debug.Error(fmt.Errorf("closing booth failed: %w", err))
				}
			}()
			b.Subscribe(statusPrinter(cmd.ErrOrStderr()))

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if _, err := b.Start(ctx, layoutID); err != nil {
				return err
			}
			c, err := b.WaitCollage(ctx)
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("no collage after %v", timeout)
			}
			if err != nil {
				return err
			}
			if c.Degraded() {
				debug.Warn("Collage is degraded: failed photos %v, overlay error %q", c.Failed, c.OverlayErr)
			}

			e, err := b.Export()
			if err != nil {
				return err
			}
			path, err := writeExport(outDir, e)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&layoutID, "layout", "l", "", "layout id (default: session.default_layout)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default: collage.output_dir)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "give up when no collage is ready after this long")
	return cmd
}

// statusPrinter writes each new session status line to w.
func statusPrinter(w io.Writer) func(booth.Event) {
	var (
		mu   sync.Mutex
		last string
	)
	return func(ev booth.Event) {
		if ev.Kind != booth.EventSession {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if ev.Session.Status == last {
			return
		}
		last = ev.Session.Status
		fmt.Fprintln(w, last)
	}
}

// writeExport stores e under dir and returns the file path.
func writeExport(dir string, e *compose.Export) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, e.Filename)
	if err := os.WriteFile(path, e.PNG, 0o644); err != nil {
		return "", fmt.Errorf("write collage: %w", err)
	}
	debug.Info("Collage written to %s", path)
	return path, nil
}
