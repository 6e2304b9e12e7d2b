package raster

import (
	"math/rand"
	"testing"
	"time"

	"github.com/contour-quest/contour.quest/internal/geom"
	"github.com/contour-quest/contour.quest/internal/volume"
	"github.com/google/go-cmp/cmp"
)

func grid10() geom.Geometry {
	return geom.Geometry{Shape: geom.Shape{X: 10, Y: 10, Z: 10}, Affine: geom.Identity()}
}

// rect returns a closed rectangle polygon covering voxel centres
// [x0,x1] x [y0,y1] inclusive.
func rect(x0, y0, x1, y1 float64) []Point {
	return []Point{
		{X: x0 - 0.5, Y: y0 - 0.5},
		{X: x1 + 0.5, Y: y0 - 0.5},
		{X: x1 + 0.5, Y: y1 + 0.5},
		{X: x0 - 0.5, Y: y1 + 0.5},
	}
}

func TestPolygonFillRectangle(t *testing.T) {
	mask := volume.NewLabelVolume(grid10())
	s := Stroke{Seq: 1, Slice: 2, LabelID: 1, Op: OpAdd, Points: rect(2, 2, 4, 4)}
	if err := Apply(mask, s); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got := mask.Count(1); got != 9 {
		t.Errorf("filled %d voxels, want 9", got)
	}
	if mask.At(2, 2, 2) != 1 || mask.At(4, 4, 2) != 1 {
		t.Error("expected corners of the rectangle filled")
	}
	if mask.At(5, 2, 2) != 0 || mask.At(2, 2, 3) != 0 {
		t.Error("fill leaked outside the rectangle or the slice")
	}
}

func TestEraseClearsOnlyOwnLabel(t *testing.T) {
	mask := volume.NewLabelVolume(grid10())
	mustApply(t, mask, Stroke{Seq: 1, Slice: 0, LabelID: 1, Op: OpAdd, Points: rect(1, 1, 3, 3)})
	mustApply(t, mask, Stroke{Seq: 2, Slice: 0, LabelID: 2, Op: OpAdd, Points: rect(4, 1, 6, 3)})

	// Erase label 1 across both regions; label 2 must survive.
	mustApply(t, mask, Stroke{Seq: 3, Slice: 0, LabelID: 1, Op: OpErase, Points: rect(1, 1, 6, 3)})

	if got := mask.Count(1); got != 0 {
		t.Errorf("label 1 count after erase = %d, want 0", got)
	}
	if got := mask.Count(2); got != 9 {
		t.Errorf("label 2 count after erase = %d, want 9", got)
	}
}

func TestLaterStrokeWins(t *testing.T) {
	mask := volume.NewLabelVolume(grid10())
	mustApply(t, mask, Stroke{Seq: 1, Slice: 5, LabelID: 1, Op: OpAdd, Points: rect(2, 2, 5, 5)})
	mustApply(t, mask, Stroke{Seq: 2, Slice: 5, LabelID: 2, Op: OpAdd, Points: rect(4, 4, 6, 6)})

	if mask.At(4, 4, 5) != 2 {
		t.Error("overlapping voxel should hold the later label")
	}
	if mask.At(2, 2, 5) != 1 {
		t.Error("non-overlapping voxel should keep the earlier label")
	}
}

func TestBrushStamp(t *testing.T) {
	mask := volume.NewLabelVolume(grid10())
	s := Stroke{Seq: 1, Slice: 1, LabelID: 1, Op: OpAdd, Brush: 1.5,
		Points: []Point{{X: 5, Y: 5}}}
	if err := Apply(mask, s); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if mask.At(5, 5, 1) != 1 || mask.At(4, 5, 1) != 1 || mask.At(5, 6, 1) != 1 {
		t.Error("disk stamp should cover the centre and axis neighbours")
	}
	if mask.At(7, 5, 1) != 0 {
		t.Error("disk stamp leaked beyond its radius")
	}
}

func TestBrushPolylineContinuous(t *testing.T) {
	mask := volume.NewLabelVolume(grid10())
	s := Stroke{Seq: 1, Slice: 0, LabelID: 1, Op: OpAdd, Brush: 1,
		Points: []Point{{X: 1, Y: 1}, {X: 8, Y: 8}}}
	if err := Apply(mask, s); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	// Every point on the diagonal must be covered; no gaps.
	for i := 1; i <= 8; i++ {
		if mask.At(i, i, 0) != 1 {
			t.Errorf("gap in brush polyline at (%d,%d)", i, i)
		}
	}
}

func TestApplyRejectsBadStrokes(t *testing.T) {
	mask := volume.NewLabelVolume(grid10())
	mustApply(t, mask, Stroke{Seq: 1, Slice: 3, LabelID: 1, Op: OpAdd, Points: rect(2, 2, 4, 4)})
	before := mask.Clone()

	bad := []Stroke{
		{Seq: 2, Slice: 10, LabelID: 1, Op: OpAdd, Points: rect(1, 1, 2, 2)},
		{Seq: 3, Slice: -1, LabelID: 1, Op: OpAdd, Points: rect(1, 1, 2, 2)},
		{Seq: 4, Slice: 0, LabelID: 0, Op: OpAdd, Points: rect(1, 1, 2, 2)},
		{Seq: 5, Slice: 0, LabelID: 1, Op: Op("smudge"), Points: rect(1, 1, 2, 2)},
		{Seq: 6, Slice: 0, LabelID: 1, Op: OpAdd, Points: nil},
		{Seq: 7, Slice: 0, LabelID: 1, Op: OpAdd, Brush: -2, Points: rect(1, 1, 2, 2)},
	}
	for _, s := range bad {
		if err := Apply(mask, s); err == nil {
			t.Errorf("stroke %d: expected rejection", s.Seq)
		}
	}
	if !mask.Equal(before) {
		t.Error("rejected strokes must not modify the mask")
	}
}

func TestIncrementalEqualsFullRebuild(t *testing.T) {
	g := grid10()
	rng := rand.New(rand.NewSource(7))

	strokes := make([]Stroke, 0, 40)
	ss := NewStrokeSet()
	incremental := volume.NewLabelVolume(g)
	for n := 0; n < 40; n++ {
		op := OpAdd
		if rng.Intn(4) == 0 {
			op = OpErase
		}
		x0 := float64(rng.Intn(7))
		y0 := float64(rng.Intn(7))
		s := Stroke{
			Time:    time.Now(),
			Slice:   rng.Intn(g.Shape.Z),
			LabelID: uint8(1 + rng.Intn(3)),
			Op:      op,
			Points:  rect(x0, y0, x0+float64(rng.Intn(3)), y0+float64(rng.Intn(3))),
		}
		if rng.Intn(3) == 0 {
			s.Brush = 1 + rng.Float64()*2
		}
		stamped := ss.Append(s)
		if err := Apply(incremental, stamped); err != nil {
			t.Fatalf("incremental apply failed: %v", err)
		}
		strokes = append(strokes, stamped)
	}

	full, err := Rasterize(ss.Strokes(), g)
	if err != nil {
		t.Fatalf("Rasterize failed: %v", err)
	}
	if diff := cmp.Diff(full.Data, incremental.Data); diff != "" {
		t.Errorf("full rebuild differs from incremental (-full +incremental):\n%s", diff)
	}

	// Rebuild from a shuffled copy: only sequence order may matter.
	shuffled := make([]Stroke, len(strokes))
	copy(shuffled, strokes)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	rebuilt, err := Rasterize(shuffled, g)
	if err != nil {
		t.Fatalf("Rasterize of shuffled strokes failed: %v", err)
	}
	if !rebuilt.Equal(full) {
		t.Error("rebuild from permuted stroke order differs; result must depend only on Seq order")
	}
}

func TestStrokeSetSequencing(t *testing.T) {
	ss := NewStrokeSet()
	a := ss.Append(Stroke{Slice: 0, LabelID: 1, Op: OpAdd, Points: rect(0, 0, 1, 1)})
	b := ss.Append(Stroke{Slice: 0, LabelID: 1, Op: OpAdd, Points: rect(0, 0, 1, 1)})
	if a.Seq != 1 || b.Seq != 2 {
		t.Errorf("expected sequence 1,2 got %d,%d", a.Seq, b.Seq)
	}
	if ss.Len() != 2 {
		t.Errorf("Len() = %d, want 2", ss.Len())
	}
}

func mustApply(t *testing.T, mask *volume.LabelVolume, s Stroke) {
	t.Helper()
	if err := Apply(mask, s); err != nil {
		t.Fatalf("Apply(%+v) failed: %v", s, err)
	}
}
