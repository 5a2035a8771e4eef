// Package batch captures many specimen photos headlessly with a worker
// pool and records the results in a manifest.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"phenoviewer/internal/frameloop"
	"phenoviewer/internal/postprocess"
	"phenoviewer/internal/raster"
	"phenoviewer/internal/sampler"
	"phenoviewer/internal/viewer"
)

// Config holds all shared settings for a batch run.
type Config struct {
	OutputDir   string
	Format      viewer.Format
	Width       int
	Height      int
	Supersample int
	Workers     int
	Frames      int // frames advanced before capture
	Viewer      viewer.Options
	Log         *zap.Logger
}

// Result holds the outcome of capturing one photo.
type Result struct {
	Name    string
	Source  string
	Image   string
	Points  int
	Visible int
	Success bool
	Error   string
}

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".bmp": true, ".tif": true, ".tiff": true, ".tga": true,
}

// Discover lists the decodable images directly inside dir, sorted by name.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Run captures every path using cfg.Workers concurrent viewers. Per-photo
// failures are reported in the results; the returned error is only set when
// ctx ends the run early.
func Run(ctx context.Context, cfg Config, paths []string) ([]Result, error) {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Supersample <= 0 {
		cfg.Supersample = 1
	}

	total := len(paths)
	results := make([]Result, total)
	var processed atomic.Int64
	start := time.Now()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if p := processed.Load(); p > 0 {
					rate := float64(p) / time.Since(start).Seconds()
					log.Info("progress", zap.Int64("done", p), zap.Int("total", total), zap.Float64("per_sec", rate))
				}
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = processItem(gctx, cfg, log, path)
			processed.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("batch: %w", err)
	}

	log.Info("batch finished", zap.Int("total", total), zap.Duration("elapsed", time.Since(start)))
	return results, nil
}

func processItem(ctx context.Context, cfg Config, log *zap.Logger, path string) Result {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	res := Result{Name: name, Source: path}
	fail := func(err error) Result {
		res.Error = err.Error()
		log.Warn("capture failed", zap.String("source", path), zap.Error(err))
		return res
	}

	ss := cfg.Supersample
	backend, err := raster.New(cfg.Width*ss, cfg.Height*ss)
	if err != nil {
		return fail(err)
	}
	defer backend.Close()

	ticks := frameloop.NewManual()
	opts := cfg.Viewer
	opts.Ticks = ticks
	opts.Logger = log
	opts.Engine.PixelRatio = float64(ss)
	v, err := viewer.New(backend, opts)
	if err != nil {
		return fail(err)
	}
	defer v.Close()

	p, err := v.Load(ctx, sampler.Ref(path))
	if err != nil {
		return fail(err)
	}
	if err := p.Wait(ctx); err != nil {
		return fail(err)
	}
	ticks.Step(cfg.Frames)

	img, err := v.CaptureImage()
	if err != nil {
		return fail(err)
	}
	if ss > 1 {
		img = postprocess.Downsample(img, cfg.Width, cfg.Height)
	}

	file := name + cfg.Format.Ext()
	outPath := filepath.Join(cfg.OutputDir, file)
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fail(err)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return fail(err)
	}
	defer f.Close()
	if err := viewer.Encode(f, img, cfg.Format); err != nil {
		return fail(fmt.Errorf("encode %s: %w", cfg.Format, err))
	}

	info := v.Info()
	res.Image = file
	res.Points = info.Cloud.Points
	res.Visible = info.Cloud.Visible
	res.Success = true
	return res
}
