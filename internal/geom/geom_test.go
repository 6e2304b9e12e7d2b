package geom

import (
	"errors"
	"math"
	"testing"
)

func TestToPhysicalRoundTrip(t *testing.T) {
	a := Affine{
		{0.8, 0, 0, -120.5},
		{0, 0.8, 0, -98.2},
		{0, 0, 2.5, -301.0},
		{0, 0, 0, 1},
	}

	p := a.ToPhysical(10, 20, 5)
	x, y, z, err := a.ToVoxel(p)
	if err != nil {
		t.Fatalf("ToVoxel failed: %v", err)
	}
	if math.Abs(x-10) > 1e-9 || math.Abs(y-20) > 1e-9 || math.Abs(z-5) > 1e-9 {
		t.Errorf("round trip gave (%f, %f, %f), want (10, 20, 5)", x, y, z)
	}
}

func TestSpacing(t *testing.T) {
	a := Scaled(0.8, 0.8, 2.5)
	sx, sy, sz := a.Spacing()
	if math.Abs(sx-0.8) > 1e-9 || math.Abs(sy-0.8) > 1e-9 || math.Abs(sz-2.5) > 1e-9 {
		t.Errorf("spacing = (%f, %f, %f), want (0.8, 0.8, 2.5)", sx, sy, sz)
	}
	if v := a.VoxelVolume(); math.Abs(v-1.6) > 1e-9 {
		t.Errorf("voxel volume = %f, want 1.6", v)
	}
}

func TestSpacingWithRotation(t *testing.T) {
	// 90 degree rotation in-plane preserves column norms.
	a := Affine{
		{0, -1.5, 0, 0},
		{2.0, 0, 0, 0},
		{0, 0, 3.0, 0},
		{0, 0, 0, 1},
	}
	sx, sy, sz := a.Spacing()
	if math.Abs(sx-2.0) > 1e-9 || math.Abs(sy-1.5) > 1e-9 || math.Abs(sz-3.0) > 1e-9 {
		t.Errorf("spacing = (%f, %f, %f), want (2.0, 1.5, 3.0)", sx, sy, sz)
	}
}

func TestSameGeometry(t *testing.T) {
	base := Geometry{Shape: Shape{64, 64, 32}, Affine: Scaled(1, 1, 2)}

	tests := []struct {
		name  string
		other Geometry
		want  bool
	}{
		{"identical", Geometry{Shape: Shape{64, 64, 32}, Affine: Scaled(1, 1, 2)}, true},
		{"within tolerance", func() Geometry {
			g := Geometry{Shape: Shape{64, 64, 32}, Affine: Scaled(1, 1, 2)}
			g.Affine[0][3] += 5e-4
			return g
		}(), true},
		{"beyond tolerance", func() Geometry {
			g := Geometry{Shape: Shape{64, 64, 32}, Affine: Scaled(1, 1, 2)}
			g.Affine[0][3] += 0.01
			return g
		}(), false},
		{"different shape", Geometry{Shape: Shape{64, 64, 33}, Affine: Scaled(1, 1, 2)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Same(base, tt.other); got != tt.want {
				t.Errorf("Same() = %v, want %v", got, tt.want)
			}
			err := Check(base, tt.other)
			if tt.want && err != nil {
				t.Errorf("Check() = %v, want nil", err)
			}
			if !tt.want && !errors.Is(err, ErrGeometryMismatch) {
				t.Errorf("Check() = %v, want ErrGeometryMismatch", err)
			}
		})
	}
}

func TestShapeContains(t *testing.T) {
	s := Shape{10, 10, 10}
	if !s.Contains(0, 0, 0) || !s.Contains(9, 9, 9) {
		t.Error("expected corner voxels inside")
	}
	if s.Contains(-1, 0, 0) || s.Contains(0, 10, 0) || s.Contains(0, 0, 10) {
		t.Error("expected out-of-range voxels outside")
	}
}

func TestSingularAffine(t *testing.T) {
	var a Affine // all zeros is singular
	if _, _, _, err := a.ToVoxel(Point{1, 2, 3}); err == nil {
		t.Error("expected error for singular affine")
	}
}
