package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayusman/steadyscan/internal/app"
	"github.com/ayusman/steadyscan/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan the camera and serve changes over HTTP until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.StaticDir == "" {
			cfg.StaticDir = findWebDir(cfg.DataDir)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.New(cfg, app.Options{})
		if err != nil {
			return err
		}
		if err := a.Start(ctx); err != nil {
			a.Stop()
			return err
		}

		<-a.Done()
		if ctx.Err() == nil {
			logging.For("cmd").Info().Msg("camera source ended")
		}
		return a.Stop()
	},
}

func init() {
	f := runCmd.Flags()
	f.String("camera", "0", "camera index, video file or stream URL")
	f.Int("fps", 15, "scan rate while the scene is changing")
	f.Int("idle-fps", 5, "scan rate while the scene is still")
	f.Bool("motion", true, "slow down to idle-fps while nothing moves")
	f.StringSlice("symbologies", []string{"qr"}, "symbologies to look for")
	f.Duration("deletion-delay", 500*time.Millisecond, "how long a code must be out of view before it is reported gone")
	f.Bool("smoothing", true, "hold back deletions for the deletion delay")
	f.String("addr", "127.0.0.1:8080", "HTTP listen address; empty disables the server")
	f.String("static-dir", "", "directory of static files to serve")

	for key, name := range map[string]string{
		"camera":         "camera",
		"scan_fps":       "fps",
		"idle_fps":       "idle-fps",
		"motion":         "motion",
		"symbologies":    "symbologies",
		"deletion_delay": "deletion-delay",
		"smoothing":      "smoothing",
		"addr":           "addr",
		"static_dir":     "static-dir",
	} {
		cobra.CheckErr(v.BindPFlag(key, f.Lookup(name)))
	}
}

// findWebDir looks for a web directory next to the working directory and
// then under the data directory. It returns "" when none exists.
func findWebDir(dataDir string) string {
	for _, p := range []string{"web", "../web", filepath.Join(dataDir, "web")} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}
