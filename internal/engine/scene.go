package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"phenoviewer/internal/cloud"
	"phenoviewer/internal/colormode"
	"phenoviewer/internal/gpu"
)

// ErrSceneDisposed is returned when drawing a scene after Dispose.
var ErrSceneDisposed = errors.New("engine: scene disposed")

// Scene is the set of backend resources for one image: the point geometry,
// its material and mesh, and the reference grid. A scene belongs to exactly
// one viewer and is never shared across images.
type Scene struct {
	Buffer *cloud.Buffer

	Geometry gpu.Handle
	Material gpu.Handle
	Mesh     gpu.Handle
	Grid     gpu.Handle

	Mode     colormode.Mode
	Rotation float64 // radians about +Y

	backend  gpu.Backend
	once     sync.Once
	disposed atomic.Bool
	err      error
}

// Dispose releases every handle the scene acquired. Safe to call any number
// of times; later calls return the first call's result.
func (s *Scene) Dispose() error {
	s.once.Do(func() {
		s.disposed.Store(true)
		var errs []error
		for _, h := range []gpu.Handle{s.Mesh, s.Material, s.Geometry, s.Grid} {
			if h == 0 {
				continue
			}
			if err := s.backend.Release(h); err != nil {
				errs = append(errs, fmt.Errorf("release %d: %w", h, err))
			}
		}
		s.err = errors.Join(errs...)
	})
	return s.err
}

// Disposed reports whether Dispose has been called.
func (s *Scene) Disposed() bool {
	return s.disposed.Load()
}
