package sampler

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

var red = color.NRGBA{R: 255, A: 255}

func TestSampleBytesSameSize(t *testing.T) {
	s := New(2, time.Second)
	g, err := s.Sample(context.Background(), Bytes(pngBytes(t, 2, 2, red)))
	require.NoError(t, err)

	assert.Equal(t, 2, g.Width)
	assert.Equal(t, 2, g.Height)
	assert.Equal(t, []uint8{255, 0, 0, 255, 255, 0, 0, 255, 255, 0, 0, 255, 255, 0, 0, 255}, g.Pix)

	p := g.At(1, 0)
	assert.Equal(t, PixelSample{Row: 1, Col: 0, R: 1, G: 0, B: 0, A: 1}, p)
}

func TestSampleNormalizesResolution(t *testing.T) {
	c := color.NRGBA{R: 10, G: 200, B: 90, A: 255}
	s := New(8, time.Second)
	for _, dim := range [][2]int{{3, 5}, {64, 16}, {8, 8}} {
		g, err := s.Sample(context.Background(), Bytes(pngBytes(t, dim[0], dim[1], c)))
		require.NoError(t, err)
		require.Len(t, g.Pix, 8*8*4)
		for i := 0; i < len(g.Pix); i += 4 {
			assert.InDelta(t, int(c.R), int(g.Pix[i]), 1)
			assert.InDelta(t, int(c.G), int(g.Pix[i+1]), 1)
			assert.InDelta(t, int(c.B), int(g.Pix[i+2]), 1)
			assert.Equal(t, uint8(255), g.Pix[i+3])
		}
	}
}

func TestSampleKeepsTransparency(t *testing.T) {
	s := New(4, time.Second)
	g, err := s.Sample(context.Background(), Bytes(pngBytes(t, 16, 16, color.NRGBA{})))
	require.NoError(t, err)
	for i := 3; i < len(g.Pix); i += 4 {
		assert.Zero(t, g.Pix[i])
	}
}

func TestSampleDataURL(t *testing.T) {
	ref := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, 2, 2, red))
	g, err := New(2, time.Second).Sample(context.Background(), Ref(ref))
	require.NoError(t, err)
	assert.Equal(t, uint8(255), g.Pix[0])
}

func TestSampleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leaf.png")
	require.NoError(t, os.WriteFile(path, pngBytes(t, 5, 5, red), 0o644))

	g, err := New(3, time.Second).Sample(context.Background(), Ref(path))
	require.NoError(t, err)
	assert.Len(t, g.Pix, 3*3*4)

	_, err = New(3, time.Second).Sample(context.Background(), Ref(filepath.Join(t.TempDir(), "missing.png")))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestSampleHTTP(t *testing.T) {
	body := pngBytes(t, 4, 4, red)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/leaf.png" {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(body)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	s := New(2, time.Second)
	g, err := s.Sample(context.Background(), Ref(srv.URL+"/leaf.png"))
	require.NoError(t, err)
	assert.Equal(t, uint8(255), g.Pix[0])

	g, err = s.Sample(context.Background(), Ref(srv.URL+"/nope.png"))
	assert.Nil(t, g)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Error(), "404")
}

func TestSampleFailures(t *testing.T) {
	s := New(2, time.Second)

	cases := map[string]Source{
		"garbage":      Bytes([]byte("definitely not an image")),
		"empty":        Bytes([]byte{}),
		"empty ref":    Ref(""),
		"bad data url": Ref("data:image/png;base64,%%%"),
		"no comma":     Ref("data:image/png;base64"),
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			g, err := s.Sample(context.Background(), src)
			assert.Nil(t, g)
			var de *DecodeError
			assert.ErrorAs(t, err, &de)
		})
	}
}

func TestSampleCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(2, time.Second).Sample(ctx, Bytes(pngBytes(t, 2, 2, red)))
	assert.True(t, errors.Is(err, context.Canceled))
}
