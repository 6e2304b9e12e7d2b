// Package geom maps between voxel index space and the physical
// millimetre space described by a volume's affine transform. Alignment
// between a CT volume and its ground-truth labels is an input
// precondition: nothing in this package resamples, it only verifies.
package geom

import (
	"errors"
	"fmt"
	"math"
)

// Tolerance for comparing affine elements, in millimetres. Scanner
// exports round-trip through float32 headers, so exact equality is too
// strict; anything past this is a data-preparation error.
const Tolerance = 1e-3

// ErrGeometryMismatch indicates two volumes disagree in shape or affine
// beyond Tolerance. Callers must abort loading rather than resample.
var ErrGeometryMismatch = errors.New("geometry mismatch")

// Shape is the voxel grid extent along each axis.
type Shape struct {
	X, Y, Z int
}

// NumVoxels returns the total voxel count of the grid.
func (s Shape) NumVoxels() int {
	return s.X * s.Y * s.Z
}

// Contains reports whether the voxel index (i,j,k) lies inside the grid.
func (s Shape) Contains(i, j, k int) bool {
	return i >= 0 && i < s.X && j >= 0 && j < s.Y && k >= 0 && k < s.Z
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.X, s.Y, s.Z)
}

// Point is a position in physical space, in millimetres.
type Point struct {
	X, Y, Z float64
}

// Affine is a homogeneous voxel-to-physical transform in row-major
// order, as stored in a NIfTI-1 header (srow_x/y/z plus the implicit
// [0 0 0 1] bottom row).
type Affine [4][4]float64

// Identity returns an affine with unit spacing and zero origin.
func Identity() Affine {
	return Affine{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// Scaled returns an affine with the given voxel spacing and zero origin.
func Scaled(sx, sy, sz float64) Affine {
	return Affine{
		{sx, 0, 0, 0},
		{0, sy, 0, 0},
		{0, 0, sz, 0},
		{0, 0, 0, 1},
	}
}

// ToPhysical maps a voxel index to its physical position.
func (a Affine) ToPhysical(i, j, k int) Point {
	fi, fj, fk := float64(i), float64(j), float64(k)
	return Point{
		X: a[0][0]*fi + a[0][1]*fj + a[0][2]*fk + a[0][3],
		Y: a[1][0]*fi + a[1][1]*fj + a[1][2]*fk + a[1][3],
		Z: a[2][0]*fi + a[2][1]*fj + a[2][2]*fk + a[2][3],
	}
}

// ToVoxel maps a physical point to continuous voxel coordinates by
// inverting the affine. Returns an error when the rotation/scale block
// is singular, which only happens with corrupt headers.
func (a Affine) ToVoxel(p Point) (x, y, z float64, err error) {
	inv, err := a.invert()
	if err != nil {
		return 0, 0, 0, err
	}
	x = inv[0][0]*p.X + inv[0][1]*p.Y + inv[0][2]*p.Z + inv[0][3]
	y = inv[1][0]*p.X + inv[1][1]*p.Y + inv[1][2]*p.Z + inv[1][3]
	z = inv[2][0]*p.X + inv[2][1]*p.Y + inv[2][2]*p.Z + inv[2][3]
	return x, y, z, nil
}

// Spacing returns the physical size of one voxel along each axis: the
// column norms of the rotation/scale block.
func (a Affine) Spacing() (sx, sy, sz float64) {
	sx = math.Sqrt(a[0][0]*a[0][0] + a[1][0]*a[1][0] + a[2][0]*a[2][0])
	sy = math.Sqrt(a[0][1]*a[0][1] + a[1][1]*a[1][1] + a[2][1]*a[2][1])
	sz = math.Sqrt(a[0][2]*a[0][2] + a[1][2]*a[1][2] + a[2][2]*a[2][2])
	return sx, sy, sz
}

// VoxelVolume returns the physical volume of a single voxel in mm³.
func (a Affine) VoxelVolume() float64 {
	sx, sy, sz := a.Spacing()
	return sx * sy * sz
}

// invert computes the inverse of the affine, exploiting the fixed
// [0 0 0 1] bottom row: invert the 3x3 block, then fold the
// translation through it.
func (a Affine) invert() (Affine, error) {
	det := a[0][0]*(a[1][1]*a[2][2]-a[1][2]*a[2][1]) -
		a[0][1]*(a[1][0]*a[2][2]-a[1][2]*a[2][0]) +
		a[0][2]*(a[1][0]*a[2][1]-a[1][1]*a[2][0])
	if math.Abs(det) < 1e-12 {
		return Affine{}, errors.New("singular affine transform")
	}
	d := 1.0 / det
	var inv Affine
	inv[0][0] = (a[1][1]*a[2][2] - a[1][2]*a[2][1]) * d
	inv[0][1] = (a[0][2]*a[2][1] - a[0][1]*a[2][2]) * d
	inv[0][2] = (a[0][1]*a[1][2] - a[0][2]*a[1][1]) * d
	inv[1][0] = (a[1][2]*a[2][0] - a[1][0]*a[2][2]) * d
	inv[1][1] = (a[0][0]*a[2][2] - a[0][2]*a[2][0]) * d
	inv[1][2] = (a[0][2]*a[1][0] - a[0][0]*a[1][2]) * d
	inv[2][0] = (a[1][0]*a[2][1] - a[1][1]*a[2][0]) * d
	inv[2][1] = (a[0][1]*a[2][0] - a[0][0]*a[2][1]) * d
	inv[2][2] = (a[0][0]*a[1][1] - a[0][1]*a[1][0]) * d
	for r := 0; r < 3; r++ {
		inv[r][3] = -(inv[r][0]*a[0][3] + inv[r][1]*a[1][3] + inv[r][2]*a[2][3])
	}
	inv[3] = [4]float64{0, 0, 0, 1}
	return inv, nil
}

// Geometry pairs a grid shape with its affine. Every volume type in
// this repository embeds one.
type Geometry struct {
	Shape  Shape
	Affine Affine
}

// Same reports whether two geometries agree: identical shapes and
// affines equal elementwise within Tolerance.
func Same(a, b Geometry) bool {
	if a.Shape != b.Shape {
		return false
	}
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			if math.Abs(a.Affine[r][c]-b.Affine[r][c]) > Tolerance {
				return false
			}
		}
	}
	return true
}

// Check returns ErrGeometryMismatch (wrapped with detail) when a and b
// differ. Loading code calls this before pairing a CT volume with a
// ground-truth volume.
func Check(a, b Geometry) error {
	if Same(a, b) {
		return nil
	}
	if a.Shape != b.Shape {
		return fmt.Errorf("%w: shape %s vs %s", ErrGeometryMismatch, a.Shape, b.Shape)
	}
	return fmt.Errorf("%w: affines differ beyond %g mm", ErrGeometryMismatch, Tolerance)
}
