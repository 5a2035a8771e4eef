package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"phenoviewer/internal/colormode"
	"phenoviewer/internal/frameloop"
	"phenoviewer/internal/raster"
	"phenoviewer/internal/sampler"
	"phenoviewer/internal/viewer"
	"phenoviewer/internal/watch"
)

var viewWatch bool

var viewCmd = &cobra.Command{
	Use:   "view IMAGE",
	Short: "Open a window onto the point cloud of a photo",
	Long: `Opens IMAGE (a path, http(s) URL or data: URL) in a window.

  drag    orbit          wheel  zoom
  1/2/3   rgb/heatmap/xray
  R       toggle auto-rotation
  C       capture to the output directory
  Esc     quit`,
	Args: cobra.ExactArgs(1),
	RunE: runView,
}

func init() {
	viewCmd.Flags().BoolVar(&viewWatch, "watch", false, "reload when the image file changes")
}

func runView(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ref := args[0]

	backend, err := raster.New(cfg.Width, cfg.Height)
	if err != nil {
		return err
	}
	defer backend.Close()

	ticks := frameloop.NewManual()
	opts := viewerOptions()
	opts.Ticks = ticks
	v, err := viewer.New(backend, opts)
	if err != nil {
		return err
	}
	defer v.Close()

	if _, err := v.Load(ctx, sampler.Ref(ref)); err != nil {
		return err
	}

	if viewWatch && !strings.Contains(ref, "://") && !strings.HasPrefix(ref, "data:") {
		w, err := watch.New(ref, 0, func(path string) {
			if _, err := v.Load(ctx, sampler.Ref(path)); err != nil {
				logger.Warn("reload", zap.Error(err))
			}
		}, logger)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	g := &hostGame{
		ctx:    ctx,
		v:      v,
		ticks:  ticks,
		sink:   &viewer.DirSink{Dir: cfg.OutputDir},
		width:  cfg.Width,
		height: cfg.Height,
	}
	ebiten.SetWindowTitle("phenoview - " + filepath.Base(ref))
	ebiten.SetWindowSize(cfg.Width, cfg.Height)
	ebiten.SetTPS(60)
	err = ebiten.RunGame(g)
	if errors.Is(err, ebiten.Termination) {
		return nil
	}
	return err
}

// hostGame drives the viewer's frame loop from the window's update tick and
// shows its framebuffer.
type hostGame struct {
	ctx   context.Context
	v     *viewer.Viewer
	ticks *frameloop.Manual
	sink  *viewer.DirSink

	width, height int
	fbImg         *ebiten.Image

	dragging     bool
	lastX, lastY int
	status       string
}

func (g *hostGame) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}
	g.input()
	g.ticks.Fire()
	return nil
}

func (g *hostGame) input() {
	x, y := ebiten.CursorPosition()
	if ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft) {
		if g.dragging {
			_ = g.v.Orbit(float64(x-g.lastX), float64(y-g.lastY))
		}
		g.dragging = true
	} else {
		g.dragging = false
	}
	g.lastX, g.lastY = x, y

	if _, wy := ebiten.Wheel(); wy != 0 {
		_ = g.v.Zoom(wy)
	}

	for key, m := range map[ebiten.Key]colormode.Mode{
		ebiten.Key1: colormode.RGB,
		ebiten.Key2: colormode.Heatmap,
		ebiten.Key3: colormode.XRay,
	} {
		if inpututil.IsKeyJustPressed(key) {
			_ = g.v.SetMode(m)
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyR) {
		_ = g.v.SetAutoRotate(!g.v.Info().AutoRotate)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyC) {
		if _, err := g.v.Capture(g.ctx, g.sink); err != nil {
			g.status = err.Error()
		} else {
			g.status = "saved " + g.sink.Path
		}
	}
}

func (g *hostGame) Draw(screen *ebiten.Image) {
	if g.fbImg == nil {
		g.fbImg = ebiten.NewImage(g.width, g.height)
	}
	if img, err := g.v.LastFrame(); err == nil {
		// Frames are opaque, so straight and premultiplied alpha agree.
		g.fbImg.WritePixels(img.Pix)
		screen.DrawImage(g.fbImg, nil)
	}
	ebitenutil.DebugPrint(screen, g.overlay())
}

func (g *hostGame) overlay() string {
	in := g.v.Info()
	var b strings.Builder
	switch in.State {
	case viewer.Loading:
		b.WriteString("Initializing Phenotyping Engine...\n")
	case viewer.Failed:
		fmt.Fprintf(&b, "Could not load image: %v\n", in.Err)
	default:
		fmt.Fprintf(&b, "Mode: %s  Auto-rotate: %t\n", strings.ToUpper(in.Mode.String()), in.AutoRotate)
		fmt.Fprintf(&b, "Cloud Density: %.1fk points\n", float64(in.Cloud.Points)/1000)
		fmt.Fprintf(&b, "Depth: %.3f - %.3f\n", in.Cloud.MinDepth, in.Cloud.MaxDepth)
	}
	fmt.Fprintf(&b, "FPS: %.0f\n", ebiten.ActualFPS())
	if g.status != "" {
		b.WriteString(g.status)
	}
	return b.String()
}

func (g *hostGame) Layout(outsideWidth, outsideHeight int) (int, int) {
	return g.width, g.height
}
