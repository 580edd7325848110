// File: cmd/screenshot.go
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/averell-dev/deskrover/internal/screen"
)

var (
	screenshotOut string
	screenshotAll bool
)

var screenshotCmd = &cobra.Command{
	Use:   "screenshot",
	Short: "Capture the screen to a PNG file",
	RunE:  takeScreenshot,
}

func init() {
	screenshotCmd.Flags().StringVarP(&screenshotOut, "out", "o", "screenshot.png", "output file (or name prefix with --all)")
	screenshotCmd.Flags().BoolVar(&screenshotAll, "all", false, "capture every attached display concurrently")
	rootCmd.AddCommand(screenshotCmd)
}

func takeScreenshot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if !screenshotAll {
		r, err := newRover()
		if err != nil {
			return err
		}
		defer r.Close(ctx)

		frame, err := r.Screenshot(ctx)
		if err != nil {
			return err
		}
		if err := os.WriteFile(screenshotOut, frame.PNG, 0o644); err != nil {
			return fmt.Errorf("cannot write %s: %w", screenshotOut, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%dx%d)\n", screenshotOut, frame.Width, frame.Height)
		return nil
	}

	grabber := screen.NewGrabber(logger)
	count := screen.DisplayCount()
	if count == 0 {
		return fmt.Errorf("no displays detected")
	}

	prefix := strings.TrimSuffix(screenshotOut, filepath.Ext(screenshotOut))
	g, gctx := errgroup.WithContext(ctx)
	for display := 0; display < count; display++ {
		g.Go(func() error {
			frame, err := grabber.Capture(gctx, display)
			if err != nil {
				return err
			}
			path := fmt.Sprintf("%s-%d.png", prefix, display)
			if err := os.WriteFile(path, frame.PNG, 0o644); err != nil {
				return fmt.Errorf("cannot write %s: %w", path, err)
			}
			logger.Info("Display captured",
				zap.Int("display", display),
				zap.String("path", path),
				zap.Int("width", frame.Width),
				zap.Int("height", frame.Height))
			return nil
		})
	}
	return g.Wait()
}
