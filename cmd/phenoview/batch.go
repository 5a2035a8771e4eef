package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"phenoviewer/internal/batch"
)

var batchFrames int

var batchCmd = &cobra.Command{
	Use:   "batch DIR",
	Short: "Capture every photo in a directory",
	Long: `Captures each image directly inside DIR with a pool of headless viewers
and writes the captures plus manifest.json to the output directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().IntVar(&batchFrames, "frames", 0, "frames to advance before each capture")
}

func runBatch(cmd *cobra.Command, args []string) error {
	paths, err := batch.Discover(args[0])
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no images in %s", args[0])
	}

	opts := viewerOptions()
	fmt.Printf("Capturing %d images with %d workers...\n", len(paths), cfg.Workers)

	results, err := batch.Run(cmd.Context(), batch.Config{
		OutputDir:   cfg.OutputDir,
		Format:      opts.Format,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Supersample: cfg.Supersample,
		Workers:     cfg.Workers,
		Frames:      batchFrames,
		Viewer:      opts,
		Log:         logger,
	}, paths)
	if err != nil {
		return err
	}

	var ok, failed int
	for _, r := range results {
		if r.Success {
			ok++
		} else {
			failed++
			fmt.Printf("  FAIL %s: %s\n", r.Name, r.Error)
		}
	}

	manifest := filepath.Join(cfg.OutputDir, "manifest.json")
	if err := batch.WriteManifest(manifest, results); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	fmt.Printf("Done: %d ok, %d failed. Manifest: %s\n", ok, failed, manifest)
	return nil
}
