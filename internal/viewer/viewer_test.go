package viewer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/draw"
	"image/png"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/image/webp"

	"phenoviewer/internal/cloud"
	"phenoviewer/internal/colormode"
	"phenoviewer/internal/engine"
	"phenoviewer/internal/frameloop"
	"phenoviewer/internal/gpu"
	"phenoviewer/internal/gpu/gputest"
	"phenoviewer/internal/mathutil"
	"phenoviewer/internal/raster"
	"phenoviewer/internal/sampler"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func solidGrid(n int, r, g, b, a uint8) *sampler.Grid {
	grid := &sampler.Grid{Width: n, Height: n, Pix: make([]uint8, n*n*4)}
	for i := 0; i < len(grid.Pix); i += 4 {
		grid.Pix[i], grid.Pix[i+1], grid.Pix[i+2], grid.Pix[i+3] = r, g, b, a
	}
	return grid
}

type gate struct {
	release   chan struct{}
	grid      *sampler.Grid
	err       error
	ignoreCtx bool // simulate a decoder that finishes after being superseded
}

func openGate(grid *sampler.Grid, err error) *gate {
	g := &gate{release: make(chan struct{}), grid: grid, err: err}
	close(g.release)
	return g
}

func closedGate(grid *sampler.Grid) *gate {
	return &gate{release: make(chan struct{}), grid: grid}
}

// gatedDecoder serves grids by source ref once their gate is released.
type gatedDecoder map[string]*gate

func (d gatedDecoder) Sample(ctx context.Context, src sampler.Source) (*sampler.Grid, error) {
	g := d[src.Ref]
	if g.ignoreCtx {
		<-g.release
	} else {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, &sampler.DecodeError{Ref: src.Ref, Err: ctx.Err()}
		}
	}
	if g.err != nil {
		return nil, &sampler.DecodeError{Ref: src.Ref, Err: g.err}
	}
	return g.grid, nil
}

type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) observe(s State, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) get() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func newViewer(t *testing.T, b gpu.Backend, dec Decoder, mutate ...func(*Options)) (*Viewer, *frameloop.Manual) {
	t.Helper()
	ticks := frameloop.NewManual()
	opts := DefaultOptions()
	opts.Logger = zaptest.NewLogger(t)
	opts.Decoder = dec
	opts.Ticks = ticks
	for _, fn := range mutate {
		fn(&opts)
	}
	v, err := New(b, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v, ticks
}

func load(t *testing.T, v *Viewer, ref string) error {
	t.Helper()
	p, err := v.Load(context.Background(), sampler.Ref(ref))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.Wait(ctx)
}

func TestNewWithoutBackend(t *testing.T) {
	_, err := New(nil, DefaultOptions())
	assert.ErrorIs(t, err, gpu.ErrUnsupportedAcceleratedRendering)
}

func TestLoadReachesReady(t *testing.T) {
	b := gputest.New(64, 48)
	rec := &recorder{}
	v, ticks := newViewer(t, b, gatedDecoder{"a": openGate(solidGrid(2, 255, 0, 0, 255), nil)},
		func(o *Options) { o.OnState = rec.observe })

	assert.Equal(t, Uninitialized, v.State())
	require.NoError(t, load(t, v, "a"))
	assert.Equal(t, []State{Loading, Ready}, rec.get())

	assert.Equal(t, 3, ticks.Step(3))
	assert.Equal(t, 3, b.FrameCount())

	info := v.Info()
	assert.Equal(t, Ready, info.State)
	assert.EqualValues(t, 1, info.Generation)
	assert.EqualValues(t, 3, info.Frames)
	assert.Equal(t, 4, info.Cloud.Points)
	assert.Equal(t, 4, info.Cloud.Visible)
	assert.Equal(t, colormode.RGB, info.Mode)
	assert.True(t, info.AutoRotate)
}

func TestNewerLoadWins(t *testing.T) {
	b := gputest.New(64, 48)
	ga := closedGate(solidGrid(2, 255, 0, 0, 255))
	ga.ignoreCtx = true
	gb := closedGate(solidGrid(3, 0, 0, 255, 255))
	v, _ := newViewer(t, b, gatedDecoder{"a": ga, "b": gb})

	pa, err := v.Load(context.Background(), sampler.Ref("a"))
	require.NoError(t, err)
	pb, err := v.Load(context.Background(), sampler.Ref("b"))
	require.NoError(t, err)
	assert.Greater(t, pb.Generation(), pa.Generation())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	close(gb.release)
	require.NoError(t, pb.Wait(ctx))
	assert.Equal(t, 9, v.Info().Cloud.Points)

	close(ga.release)
	assert.ErrorIs(t, pa.Wait(ctx), ErrSuperseded)
	assert.True(t, pa.Stale())
	assert.False(t, pb.Stale())

	assert.Equal(t, Ready, v.State())
	assert.Equal(t, 9, v.Info().Cloud.Points, "late result for the old image is discarded")
	assert.Equal(t, gpu.Stats{Geometries: 1, Materials: 1, Meshes: 1, Grids: 1}, b.Stats())
	assert.Equal(t, 2, b.Created[gpu.KindGeometry])
	assert.Equal(t, 1, b.Released[gpu.KindGeometry])
}

func TestStaleSceneDisposeFailureIsLogged(t *testing.T) {
	b := gputest.New(64, 48)
	ga := closedGate(solidGrid(2, 255, 0, 0, 255))
	ga.ignoreCtx = true
	gb := openGate(solidGrid(3, 0, 0, 255, 255), nil)
	core, logs := observer.New(zapcore.ErrorLevel)
	v, _ := newViewer(t, b, gatedDecoder{"a": ga, "b": gb}, func(o *Options) {
		o.Logger = zap.New(core)
	})

	pa, err := v.Load(context.Background(), sampler.Ref("a"))
	require.NoError(t, err)
	require.NoError(t, load(t, v, "b"))

	b.FailRelease[gpu.KindMesh] = errors.New("context lost")
	close(ga.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.ErrorIs(t, pa.Wait(ctx), ErrSuperseded)

	entries := logs.FilterMessage("dispose stale scene").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["error"], "context lost")
	assert.Equal(t, Ready, v.State())
}

func TestNoFramesWhileLoading(t *testing.T) {
	b := gputest.New(64, 48)
	gb := closedGate(solidGrid(2, 0, 255, 0, 255))
	v, ticks := newViewer(t, b, gatedDecoder{
		"a": openGate(solidGrid(2, 255, 0, 0, 255), nil),
		"b": gb,
	})
	require.NoError(t, load(t, v, "a"))
	ticks.Step(2)

	p, err := v.Load(context.Background(), sampler.Ref("b"))
	require.NoError(t, err)
	assert.Equal(t, Loading, v.State())
	assert.False(t, ticks.Pending())
	assert.Zero(t, ticks.Step(5))
	assert.Equal(t, 2, b.FrameCount())
	assert.Equal(t, 4, b.Stats().Live(), "previous scene is kept until the new one is installed")

	close(gb.release)
	require.NoError(t, p.Wait(context.Background()))
	assert.True(t, ticks.Pending())
	assert.Equal(t, 1, ticks.Step(1))
	assert.Equal(t, 3, b.FrameCount())
}

func TestHandleCountStableAcrossSwaps(t *testing.T) {
	b := gputest.New(64, 48)
	v, ticks := newViewer(t, b, gatedDecoder{"a": openGate(solidGrid(2, 200, 100, 50, 255), nil)})

	for i := 0; i < 10; i++ {
		require.NoError(t, load(t, v, "a"))
		ticks.Step(1)
		assert.Equal(t, gpu.Stats{Geometries: 1, Materials: 1, Meshes: 1, Grids: 1}, b.Stats())
	}
	assert.Equal(t, 10, b.Created[gpu.KindMesh])
	assert.Equal(t, 9, b.Released[gpu.KindMesh])

	require.NoError(t, v.Close())
	assert.Zero(t, b.Stats().Live())
}

func TestDecodeFailureEntersError(t *testing.T) {
	b := gputest.New(64, 48)
	bad := errors.New("not an image")
	v, ticks := newViewer(t, b, gatedDecoder{
		"a":   openGate(solidGrid(2, 255, 0, 0, 255), nil),
		"bad": openGate(nil, bad),
	})
	require.NoError(t, load(t, v, "a"))

	err := load(t, v, "bad")
	var de *sampler.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "bad", de.Ref)
	assert.ErrorIs(t, err, bad)

	info := v.Info()
	assert.Equal(t, Failed, info.State)
	assert.ErrorIs(t, info.Err, bad)
	assert.Zero(t, b.Stats().Live())
	assert.False(t, ticks.Pending())

	_, err = v.Capture(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, load(t, v, "a"))
	assert.Equal(t, Ready, v.State())
}

func TestBuildFailureEntersError(t *testing.T) {
	b := gputest.New(64, 48)
	boom := errors.New("context lost")
	b.Fail[gpu.KindMesh] = boom
	v, _ := newViewer(t, b, gatedDecoder{"a": openGate(solidGrid(2, 255, 0, 0, 255), nil)})

	assert.ErrorIs(t, load(t, v, "a"), boom)
	assert.Equal(t, Failed, v.State())
	assert.Zero(t, b.Stats().Live())
}

func TestOperationsRequireReady(t *testing.T) {
	v, _ := newViewer(t, gputest.New(64, 48), gatedDecoder{})

	assert.ErrorIs(t, v.SetMode(colormode.Heatmap), ErrNotReady)
	assert.ErrorIs(t, v.SetAutoRotate(false), ErrNotReady)
	assert.NoError(t, v.Orbit(5, 5))
	assert.NoError(t, v.Zoom(1))

	_, err := v.Capture(context.Background(), nil)
	var ce *CaptureError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, Uninitialized, ce.State)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestSetModeAndAutoRotate(t *testing.T) {
	b := gputest.New(64, 48)
	v, ticks := newViewer(t, b, gatedDecoder{"a": openGate(solidGrid(2, 255, 0, 0, 255), nil)},
		func(o *Options) { o.Mode = colormode.XRay })
	require.NoError(t, load(t, v, "a"))
	assert.Equal(t, colormode.XRay, v.Info().Mode, "configured mode applies to the first cloud")

	require.NoError(t, v.SetMode(colormode.Heatmap))
	assert.Equal(t, colormode.Heatmap, v.Info().Mode)

	meshModel := func() mathutil.Mat4 {
		f, ok := b.LastFrame()
		require.True(t, ok)
		return f.Draws[1].Model
	}

	ticks.Step(1)
	first := meshModel()
	ticks.Step(1)
	assert.NotEqual(t, first, meshModel())

	require.NoError(t, v.SetAutoRotate(false))
	ticks.Step(1)
	still := meshModel()
	ticks.Step(1)
	assert.Equal(t, still, meshModel())
	assert.False(t, v.Info().AutoRotate)
}

func decodeNRGBA(t *testing.T, f Format, data []byte) *image.NRGBA {
	t.Helper()
	var (
		img image.Image
		err error
	)
	switch f {
	case FormatPNG:
		img, err = png.Decode(bytes.NewReader(data))
	case FormatWebP:
		img, err = webp.Decode(bytes.NewReader(data))
	}
	require.NoError(t, err)
	out := image.NewNRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out
}

func TestCaptureMatchesReferenceRender(t *testing.T) {
	grid := solidGrid(4, 255, 0, 0, 255)

	refBackend, err := raster.New(48, 32)
	require.NoError(t, err)
	ref, err := engine.New(refBackend, engine.DefaultOptions(), nil)
	require.NoError(t, err)
	scene, err := ref.BuildScene(cloud.Build(grid, cloud.DefaultParams()))
	require.NoError(t, err)
	want, err := ref.Snapshot(scene)
	require.NoError(t, err)

	for _, f := range []Format{FormatPNG, FormatWebP} {
		t.Run(string(f), func(t *testing.T) {
			b, err := raster.New(48, 32)
			require.NoError(t, err)
			v, _ := newViewer(t, b, gatedDecoder{"a": openGate(grid, nil)},
				func(o *Options) { o.Format = f })
			require.NoError(t, load(t, v, "a"))

			before := v.Info()
			var got *Snapshot
			snap, err := v.Capture(context.Background(), SinkFunc(func(_ context.Context, s *Snapshot) error {
				got = s
				return nil
			}))
			require.NoError(t, err)
			require.Same(t, snap, got)

			assert.Equal(t, f, snap.Format)
			assert.Equal(t, 48, snap.Width)
			assert.Equal(t, 32, snap.Height)
			assert.NotEmpty(t, snap.ID)
			assert.True(t, strings.HasPrefix(snap.DataURL(), "data:image/"+string(f)+";base64,"))
			assert.Equal(t, want.Pix, decodeNRGBA(t, f, snap.Data).Pix)
			assert.Equal(t, before, v.Info(), "capture leaves viewer state alone")
		})
	}
}

func TestCaptureSinkError(t *testing.T) {
	v, _ := newViewer(t, gputest.New(16, 16), gatedDecoder{"a": openGate(solidGrid(2, 255, 0, 0, 255), nil)})
	require.NoError(t, load(t, v, "a"))

	full := errors.New("disk full")
	_, err := v.Capture(context.Background(), SinkFunc(func(context.Context, *Snapshot) error { return full }))
	assert.ErrorIs(t, err, full)
}

func TestCloseIsIdempotent(t *testing.T) {
	b := gputest.New(64, 48)
	rec := &recorder{}
	v, ticks := newViewer(t, b, gatedDecoder{"a": openGate(solidGrid(2, 255, 0, 0, 255), nil)},
		func(o *Options) { o.OnState = rec.observe })
	require.NoError(t, load(t, v, "a"))

	require.NoError(t, v.Close())
	require.NoError(t, v.Close())
	assert.Equal(t, []State{Loading, Ready, Disposed}, rec.get())
	assert.Zero(t, b.Stats().Live())
	assert.False(t, ticks.Pending())

	_, err := v.Load(context.Background(), sampler.Ref("a"))
	assert.ErrorIs(t, err, ErrDisposed)
	assert.ErrorIs(t, v.SetMode(colormode.RGB), ErrDisposed)
	assert.ErrorIs(t, v.Orbit(1, 1), ErrDisposed)
	assert.ErrorIs(t, v.Zoom(1), ErrDisposed)
	_, err = v.Capture(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestCloseSupersedesInFlightLoad(t *testing.T) {
	b := gputest.New(64, 48)
	v, _ := newViewer(t, b, gatedDecoder{"a": closedGate(solidGrid(2, 255, 0, 0, 255))})

	p, err := v.Load(context.Background(), sampler.Ref("a"))
	require.NoError(t, err)
	require.NoError(t, v.Close())

	assert.ErrorIs(t, p.Wait(context.Background()), ErrSuperseded)
	assert.Equal(t, Disposed, v.State())
	assert.Zero(t, b.Stats().Live())
}

func TestDirSink(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	snap, err := NewSnapshot(img, FormatPNG)
	require.NoError(t, err)

	sink := &DirSink{Dir: t.TempDir()}
	require.NoError(t, sink.Receive(context.Background(), snap))
	assert.Contains(t, sink.Path, "phenotype-scan-"+snap.ID+".png")

	data, err := os.ReadFile(sink.Path)
	require.NoError(t, err)
	assert.Equal(t, snap.Data, data)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" WebP ")
	require.NoError(t, err)
	assert.Equal(t, FormatWebP, f)
	assert.Equal(t, "image/webp", f.MIME())

	_, err = ParseFormat("gif")
	assert.Error(t, err)
}

func TestFormatForPath(t *testing.T) {
	f, err := FormatForPath("scan.WEBP", FormatPNG)
	require.NoError(t, err)
	assert.Equal(t, FormatWebP, f)

	f, err = FormatForPath("out/scan", FormatWebP)
	require.NoError(t, err)
	assert.Equal(t, FormatWebP, f)

	_, err = FormatForPath("scan.jpg", FormatPNG)
	assert.ErrorContains(t, err, "scan.jpg")
}
