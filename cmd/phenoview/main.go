// Command phenoview turns specimen photos into navigable point clouds.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"phenoviewer/internal/cloud"
	"phenoviewer/internal/colormode"
	"phenoviewer/internal/config"
	"phenoviewer/internal/logging"
	"phenoviewer/internal/sampler"
	"phenoviewer/internal/viewer"
)

var (
	configFile string
	verbose    bool
	flags      config.Flags

	logger *zap.Logger
	cfg    config.Config
)

var rootCmd = &cobra.Command{
	Use:   "phenoview",
	Short: "Explore a specimen photo as a pseudo-3D point cloud",
	Long: `phenoview samples a still photograph onto a fixed grid and lifts every
pixel into a point whose depth is its luminance. The cloud can be orbited in
a window, rendered as RGB, heatmap or x-ray, and captured to PNG or WebP.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(verbose)
		if err != nil {
			return err
		}
		if configFile != "" {
			if cfg, err = config.Load(configFile); err != nil {
				return err
			}
		}
		cfg.Resolve(flags)
		return cfg.Validate()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "path to a JSON or YAML config file")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	pf.IntVar(&flags.GridSize, "grid-size", 0, "sampling grid edge length (default 300)")
	pf.StringVar(&flags.Mode, "mode", "", "initial render mode: rgb, heatmap or xray")
	pf.BoolVar(&flags.NoAutoRotate, "no-rotate", false, "start with auto-rotation off")
	pf.IntVar(&flags.Width, "width", 0, "viewport width (default 800)")
	pf.IntVar(&flags.Height, "height", 0, "viewport height (default 500)")
	pf.StringVar(&flags.CaptureFormat, "format", "", "capture format: png or webp")
	pf.IntVar(&flags.Supersample, "supersample", 0, "supersampling factor for headless captures")
	pf.IntVar(&flags.Workers, "workers", 0, "batch workers (default NumCPU)")
	pf.StringVarP(&flags.OutputDir, "output-dir", "d", "", "directory for captures")

	rootCmd.AddCommand(viewCmd, snapshotCmd, batchCmd)
}

// viewerOptions maps the resolved config onto viewer options.
func viewerOptions() viewer.Options {
	opts := viewer.DefaultOptions()
	opts.Logger = logger
	opts.Decoder = sampler.NewCache(sampler.New(cfg.GridSize, time.Duration(cfg.FetchTimeout)), sampler.DefaultCacheEntries)
	opts.Cloud = cloud.Params{Spread: float32(*cfg.Spread), AlphaThreshold: float32(*cfg.AlphaThreshold)}
	opts.Mode, _ = colormode.ParseMode(cfg.Mode)
	opts.AutoRotate = *cfg.AutoRotate
	opts.Format, _ = viewer.ParseFormat(cfg.CaptureFormat)
	return opts
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
