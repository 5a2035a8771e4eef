// Package viewer owns the lifecycle of one point-cloud display: loading an
// image into a scene, swapping scenes when the image changes, driving the
// frame loop and capturing the viewport.
package viewer

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"phenoviewer/internal/cloud"
	"phenoviewer/internal/colormode"
	"phenoviewer/internal/engine"
	"phenoviewer/internal/frameloop"
	"phenoviewer/internal/gpu"
	"phenoviewer/internal/sampler"
)

// Decoder turns an image source into a sampled grid.
type Decoder interface {
	Sample(ctx context.Context, src sampler.Source) (*sampler.Grid, error)
}

// Options configure a viewer. Start from DefaultOptions.
type Options struct {
	Logger  *zap.Logger
	Decoder Decoder
	Ticks   frameloop.Source
	Engine  engine.Options
	Cloud   cloud.Params

	Mode       colormode.Mode
	AutoRotate bool
	Format     Format

	// OnState observes every transition. It runs with the viewer locked and
	// must not call back into the viewer.
	OnState func(s State, err error)
}

// DefaultOptions returns the stock viewer configuration.
func DefaultOptions() Options {
	return Options{
		Decoder:    sampler.New(sampler.DefaultSize, 30*time.Second),
		Engine:     engine.DefaultOptions(),
		Cloud:      cloud.DefaultParams(),
		Mode:       colormode.RGB,
		AutoRotate: true,
		Format:     FormatPNG,
	}
}

// Viewer is safe for concurrent use.
type Viewer struct {
	id      string
	log     *zap.Logger
	backend gpu.Backend
	eng     *engine.Engine
	loop    *frameloop.Loop
	decoder Decoder
	params  cloud.Params
	format  Format
	observe func(State, error)

	mu         sync.Mutex
	state      State
	err        error
	gen        uint64
	cancel     context.CancelFunc
	scene      *engine.Scene
	mode       colormode.Mode
	autoRotate bool

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates an idle viewer drawing into backend. The caller keeps
// ownership of the backend and closes it after the viewer.
func New(backend gpu.Backend, opts Options) (*Viewer, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.NewString()
	log = log.With(zap.String("viewer", id))

	eng, err := engine.New(backend, opts.Engine, log)
	if err != nil {
		return nil, err
	}
	if opts.Decoder == nil {
		opts.Decoder = sampler.New(sampler.DefaultSize, 30*time.Second)
	}
	if opts.Ticks == nil {
		opts.Ticks = frameloop.NewInterval(60)
	}
	if opts.Format == "" {
		opts.Format = FormatPNG
	}

	v := &Viewer{
		id:         id,
		log:        log,
		backend:    backend,
		eng:        eng,
		decoder:    opts.Decoder,
		params:     opts.Cloud,
		format:     opts.Format,
		observe:    opts.OnState,
		mode:       opts.Mode,
		autoRotate: opts.AutoRotate,
	}
	v.loop = frameloop.New(opts.Ticks, v.step)
	return v, nil
}

// ID identifies the viewer in logs.
func (v *Viewer) ID() string {
	return v.id
}

// setState must be called with v.mu held.
func (v *Viewer) setState(s State, err error) {
	prev := v.state
	v.state, v.err = s, err
	if err != nil {
		v.log.Warn("state change", zap.Stringer("from", prev), zap.Stringer("to", s), zap.Error(err))
	} else {
		v.log.Debug("state change", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
	if v.observe != nil {
		v.observe(s, err)
	}
}

// disposeScene must be called with v.mu held.
func (v *Viewer) disposeScene() {
	if v.scene == nil {
		return
	}
	if err := v.scene.Dispose(); err != nil {
		v.log.Error("dispose scene", zap.Error(err))
	}
	v.scene = nil
}

// Load replaces the displayed image. The frame loop stops and any load in
// flight is superseded before Load returns; decoding continues in the
// background. The current scene stays alive, undrawn, until its successor
// is installed. ctx bounds the fetch and decode.
func (v *Viewer) Load(ctx context.Context, src sampler.Source) (*Pending, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == Disposed {
		return nil, ErrDisposed
	}

	v.loop.Stop()
	if v.cancel != nil {
		v.cancel()
	}
	v.gen++
	gen := v.gen
	lctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.log.Info("load", zap.Stringer("source", src), zap.Uint64("generation", gen))
	v.setState(Loading, nil)

	p := newPending(gen)
	v.wg.Add(1)
	go v.build(lctx, cancel, gen, src, p)
	return p, nil
}

func (v *Viewer) build(ctx context.Context, cancel context.CancelFunc, gen uint64, src sampler.Source, p *Pending) {
	defer v.wg.Done()
	defer cancel()

	start := time.Now()
	var scene *engine.Scene
	grid, err := v.decoder.Sample(ctx, src)
	if err == nil {
		scene, err = v.eng.BuildScene(cloud.Build(grid, v.params))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if gen != v.gen || v.state == Disposed {
		if scene != nil {
			if derr := scene.Dispose(); derr != nil {
				v.log.Error("dispose stale scene", zap.Uint64("generation", gen), zap.Error(derr))
			}
		}
		v.log.Debug("discard stale load", zap.Uint64("generation", gen))
		p.finish(ErrSuperseded, true)
		return
	}
	v.cancel = nil

	if err == nil {
		if err = v.eng.ApplyMode(scene, v.mode); err != nil {
			if derr := scene.Dispose(); derr != nil {
				v.log.Error("dispose unapplied scene", zap.Error(derr))
			}
		}
	}
	if err != nil {
		v.disposeScene()
		v.setState(Failed, err)
		p.finish(err, false)
		return
	}

	old := v.scene
	v.scene = scene
	v.eng.ResetCamera()
	if old != nil {
		if derr := old.Dispose(); derr != nil {
			v.log.Error("dispose replaced scene", zap.Error(derr))
		}
	}
	v.log.Info("cloud ready",
		zap.Uint64("generation", gen),
		zap.Int("points", scene.Buffer.Len()),
		zap.Duration("elapsed", time.Since(start)))
	v.setState(Ready, nil)
	v.loop.Start()
	p.finish(nil, false)
}

// step is the per-refresh frame callback.
func (v *Viewer) step() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != Ready || v.scene == nil {
		return
	}
	if err := v.eng.Frame(v.scene, v.autoRotate); err != nil {
		v.log.Error("frame", zap.Error(err))
	}
}

// ready must be called with v.mu held.
func (v *Viewer) ready() error {
	switch v.state {
	case Ready:
		return nil
	case Disposed:
		return ErrDisposed
	}
	return ErrNotReady
}

// SetMode switches the render mode of the displayed cloud.
func (v *Viewer) SetMode(m colormode.Mode) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.ready(); err != nil {
		return err
	}
	if err := v.eng.ApplyMode(v.scene, m); err != nil {
		return err
	}
	v.mode = m
	v.log.Debug("mode", zap.Stringer("mode", m))
	return nil
}

// SetAutoRotate turns the idle spin about the vertical axis on or off.
func (v *Viewer) SetAutoRotate(on bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.ready(); err != nil {
		return err
	}
	v.autoRotate = on
	return nil
}

// Orbit feeds a pointer drag in pixels to the camera controls.
func (v *Viewer) Orbit(dx, dy float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == Disposed {
		return ErrDisposed
	}
	v.eng.Controls().Drag(dx, dy)
	return nil
}

// Zoom dollies the camera; positive steps move closer.
func (v *Viewer) Zoom(steps float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == Disposed {
		return ErrDisposed
	}
	v.eng.Controls().Zoom(steps)
	return nil
}

// CaptureImage renders the current view once and returns the raw pixels.
// Camera, rotation and mode are left untouched.
func (v *Viewer) CaptureImage() (*image.NRGBA, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != Ready {
		return nil, &CaptureError{State: v.state, Err: ErrNotReady}
	}
	img, err := v.eng.Snapshot(v.scene)
	if err != nil {
		return nil, &CaptureError{State: v.state, Err: err}
	}
	return img, nil
}

// Capture encodes the current view in the configured format and hands it
// to sink.
func (v *Viewer) Capture(ctx context.Context, sink Sink) (*Snapshot, error) {
	img, err := v.CaptureImage()
	if err != nil {
		return nil, err
	}
	snap, err := NewSnapshot(img, v.format)
	if err != nil {
		return nil, &CaptureError{State: Ready, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &CaptureError{State: Ready, Err: err}
	}
	if sink != nil {
		if err := sink.Receive(ctx, snap); err != nil {
			return nil, err
		}
	}
	v.log.Info("captured", zap.String("snapshot", snap.ID), zap.Int("bytes", len(snap.Data)))
	return snap, nil
}

// LastFrame returns the most recently rendered pixels for display hosts.
func (v *Viewer) LastFrame() (*image.NRGBA, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == Disposed {
		return nil, ErrDisposed
	}
	return v.backend.ReadPixels()
}

// Info is a point-in-time view of the viewer.
type Info struct {
	ID         string
	State      State
	Err        error
	Mode       colormode.Mode
	AutoRotate bool
	Generation uint64
	Frames     uint64
	Cloud      cloud.Stats
}

// Info reports the viewer's current status.
func (v *Viewer) Info() Info {
	v.mu.Lock()
	defer v.mu.Unlock()
	in := Info{
		ID:         v.id,
		State:      v.state,
		Err:        v.err,
		Mode:       v.mode,
		AutoRotate: v.autoRotate,
		Generation: v.gen,
		Frames:     v.loop.Frames(),
	}
	if v.scene != nil {
		in.Cloud = v.scene.Buffer.Stats()
	}
	return in
}

// State returns the lifecycle state.
func (v *Viewer) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Close stops the loop, supersedes in-flight loads, releases the scene and
// waits for background work. It is idempotent.
func (v *Viewer) Close() error {
	v.closeOnce.Do(func() {
		v.mu.Lock()
		v.loop.Stop()
		if v.cancel != nil {
			v.cancel()
			v.cancel = nil
		}
		v.gen++
		v.disposeScene()
		v.setState(Disposed, nil)
		v.mu.Unlock()

		v.wg.Wait()
	})
	return nil
}
