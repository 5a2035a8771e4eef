package viewer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/HugoSmits86/nativewebp"
	"github.com/google/uuid"
)

// Format is a snapshot encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
)

// ParseFormat accepts "png" or "webp" in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatPNG, FormatWebP:
		return f, nil
	}
	return "", fmt.Errorf("viewer: unknown capture format %q", s)
}

// FormatForPath picks the format from an output file's extension. A path
// without an extension gets fallback; any other extension must name a
// supported format.
func FormatForPath(path string, fallback Format) (Format, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return fallback, nil
	}
	f, err := ParseFormat(strings.TrimPrefix(ext, "."))
	if err != nil {
		return "", fmt.Errorf("viewer: output %s: %w", path, err)
	}
	return f, nil
}

// MIME is the media type of the encoding.
func (f Format) MIME() string {
	return "image/" + string(f)
}

// Ext is the file extension including the dot.
func (f Format) Ext() string {
	return "." + string(f)
}

// Encode writes img to w. WebP output is lossless.
func Encode(w io.Writer, img image.Image, f Format) error {
	switch f {
	case FormatPNG:
		return png.Encode(w, img)
	case FormatWebP:
		return nativewebp.Encode(w, img, nil)
	}
	return fmt.Errorf("viewer: unknown capture format %q", string(f))
}

// Snapshot is one encoded capture of the viewport.
type Snapshot struct {
	ID      string
	Format  Format
	Width   int
	Height  int
	Data    []byte
	Created time.Time
}

// NewSnapshot encodes img.
func NewSnapshot(img image.Image, f Format) (*Snapshot, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, f); err != nil {
		return nil, err
	}
	b := img.Bounds()
	return &Snapshot{
		ID:      uuid.NewString(),
		Format:  f,
		Width:   b.Dx(),
		Height:  b.Dy(),
		Data:    buf.Bytes(),
		Created: time.Now(),
	}, nil
}

// DataURL returns the snapshot as a base64 data: URL.
func (s *Snapshot) DataURL() string {
	return "data:" + s.Format.MIME() + ";base64," + base64.StdEncoding.EncodeToString(s.Data)
}

// Sink receives finished snapshots.
type Sink interface {
	Receive(ctx context.Context, s *Snapshot) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, s *Snapshot) error

func (f SinkFunc) Receive(ctx context.Context, s *Snapshot) error {
	return f(ctx, s)
}

// DirSink writes each snapshot to Dir as <Prefix>-<id><ext>.
type DirSink struct {
	Dir    string
	Prefix string

	// Path is set to the last file written.
	Path string
}

func (d *DirSink) Receive(_ context.Context, s *Snapshot) error {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("viewer: create %s: %w", d.Dir, err)
	}
	prefix := d.Prefix
	if prefix == "" {
		prefix = "phenotype-scan"
	}
	path := filepath.Join(d.Dir, prefix+"-"+s.ID+s.Format.Ext())
	if err := os.WriteFile(path, s.Data, 0o644); err != nil {
		return fmt.Errorf("viewer: write %s: %w", path, err)
	}
	d.Path = path
	return nil
}
