// Package volume holds the in-memory voxel grids shared by the
// rasterizer, the scorer and the loaders. Grids are dense, stored in
// NIfTI column-major order (x fastest), and carry their geometry so
// consumers can verify alignment before combining two volumes.
package volume

import (
	"fmt"

	"github.com/contour-quest/contour.quest/internal/geom"
)

// Background is the reserved label value for unlabelled voxels.
const Background = 0

// Volume is a scalar intensity grid, typically CT in Hounsfield units.
// Immutable once loaded: nothing in this repository writes to a CT
// volume after the loader returns it.
type Volume struct {
	Geom geom.Geometry
	Data []float32
}

// NewVolume allocates a zero-filled intensity grid.
func NewVolume(g geom.Geometry) *Volume {
	return &Volume{Geom: g, Data: make([]float32, g.Shape.NumVoxels())}
}

// Index returns the flat offset for voxel (i,j,k).
func (v *Volume) Index(i, j, k int) int {
	s := v.Geom.Shape
	return i + s.X*(j+s.Y*k)
}

// At returns the intensity at (i,j,k).
func (v *Volume) At(i, j, k int) float32 {
	return v.Data[v.Index(i, j, k)]
}

// LabelVolume is an integer label grid. Each voxel holds exactly one
// label ID or Background; overlap is resolved before a value is
// written, never stored.
type LabelVolume struct {
	Geom geom.Geometry
	Data []uint8
}

// NewLabelVolume allocates an all-background label grid.
func NewLabelVolume(g geom.Geometry) *LabelVolume {
	return &LabelVolume{Geom: g, Data: make([]uint8, g.Shape.NumVoxels())}
}

// Index returns the flat offset for voxel (i,j,k).
func (m *LabelVolume) Index(i, j, k int) int {
	s := m.Geom.Shape
	return i + s.X*(j+s.Y*k)
}

// At returns the label at (i,j,k).
func (m *LabelVolume) At(i, j, k int) uint8 {
	return m.Data[m.Index(i, j, k)]
}

// Set writes label v at (i,j,k).
func (m *LabelVolume) Set(i, j, k int, v uint8) {
	m.Data[m.Index(i, j, k)] = v
}

// Clone returns a deep copy sharing no storage with the receiver.
func (m *LabelVolume) Clone() *LabelVolume {
	out := &LabelVolume{Geom: m.Geom, Data: make([]uint8, len(m.Data))}
	copy(out.Data, m.Data)
	return out
}

// Count returns the number of voxels holding the given label.
func (m *LabelVolume) Count(label uint8) int {
	n := 0
	for _, v := range m.Data {
		if v == label {
			n++
		}
	}
	return n
}

// SliceOffset returns the flat offset of the first voxel of axial
// slice k, and the slice length. Axial slices are contiguous runs in
// column-major storage, which keeps per-slice rasterization a single
// subslice operation.
func (m *LabelVolume) SliceOffset(k int) (offset, length int) {
	s := m.Geom.Shape
	length = s.X * s.Y
	return k * length, length
}

// Slice returns the axial slice k as a subslice of the underlying
// storage. Mutations write through to the volume.
func (m *LabelVolume) Slice(k int) ([]uint8, error) {
	s := m.Geom.Shape
	if k < 0 || k >= s.Z {
		return nil, fmt.Errorf("slice index %d out of range [0,%d)", k, s.Z)
	}
	off, n := m.SliceOffset(k)
	return m.Data[off : off+n], nil
}

// Equal reports whether two label volumes match voxel for voxel and
// share the same geometry.
func (m *LabelVolume) Equal(other *LabelVolume) bool {
	if !geom.Same(m.Geom, other.Geom) {
		return false
	}
	for i := range m.Data {
		if m.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}
