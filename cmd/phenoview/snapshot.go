package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"phenoviewer/internal/frameloop"
	"phenoviewer/internal/postprocess"
	"phenoviewer/internal/raster"
	"phenoviewer/internal/sampler"
	"phenoviewer/internal/viewer"
)

var (
	snapshotOut    string
	snapshotFrames int
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot IMAGE",
	Short: "Render one photo headlessly and save a capture",
	Long: `Loads IMAGE (a path, http(s) URL or data: URL), advances the given number
of frames and writes the view. Without -o the capture goes to the output
directory under a generated name.`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshot,
}

func init() {
	snapshotCmd.Flags().StringVarP(&snapshotOut, "out", "o", "", "output file; .png or .webp picks the format")
	snapshotCmd.Flags().IntVar(&snapshotFrames, "frames", 0, "frames to advance before capturing")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	opts := viewerOptions()
	ss := cfg.Supersample
	opts.Engine.PixelRatio = float64(ss)
	if snapshotOut != "" {
		f, err := viewer.FormatForPath(snapshotOut, opts.Format)
		if err != nil {
			return err
		}
		opts.Format = f
	}

	backend, err := raster.New(cfg.Width*ss, cfg.Height*ss)
	if err != nil {
		return err
	}
	defer backend.Close()

	ticks := frameloop.NewManual()
	opts.Ticks = ticks
	v, err := viewer.New(backend, opts)
	if err != nil {
		return err
	}
	defer v.Close()

	p, err := v.Load(ctx, sampler.Ref(args[0]))
	if err != nil {
		return err
	}
	if err := p.Wait(ctx); err != nil {
		return err
	}
	ticks.Step(snapshotFrames)

	if snapshotOut == "" && ss == 1 {
		sink := &viewer.DirSink{Dir: cfg.OutputDir}
		if _, err := v.Capture(ctx, sink); err != nil {
			return err
		}
		fmt.Println(sink.Path)
		return nil
	}

	img, err := v.CaptureImage()
	if err != nil {
		return err
	}
	if ss > 1 {
		img = postprocess.Downsample(img, cfg.Width, cfg.Height)
	}
	snap, err := viewer.NewSnapshot(img, opts.Format)
	if err != nil {
		return err
	}
	out := snapshotOut
	if out == "" {
		out = filepath.Join(cfg.OutputDir, "phenotype-scan-"+snap.ID+snap.Format.Ext())
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(out, snap.Data, 0644); err != nil {
		return err
	}
	logger.Info("snapshot written", zap.String("path", out), zap.Int("bytes", len(snap.Data)))
	fmt.Println(out)
	return nil
}
