package scoring

import (
	"math"
	"testing"

	"github.com/contour-quest/contour.quest/internal/geom"
	"github.com/contour-quest/contour.quest/internal/labelset"
	"github.com/contour-quest/contour.quest/internal/volume"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grid10() geom.Geometry {
	return geom.Geometry{Shape: geom.Shape{X: 10, Y: 10, Z: 10}, Affine: geom.Identity()}
}

// fill sets label id over the inclusive voxel box [x0,x1]x[y0,y1]x[z0,z1].
func fill(m *volume.LabelVolume, id uint8, x0, x1, y0, y1, z0, z1 int) {
	for k := z0; k <= z1; k++ {
		for j := y0; j <= y1; j++ {
			for i := x0; i <= x1; i++ {
				m.Set(i, j, k, id)
			}
		}
	}
}

func oneLabel(name string) *labelset.LabelSet {
	return &labelset.LabelSet{Labels: []labelset.Label{{Name: name, ID: 1}}}
}

func TestScoreIdentity(t *testing.T) {
	truth := volume.NewLabelVolume(grid10())
	fill(truth, 1, 2, 4, 2, 4, 2, 4)

	res := Score(truth.Clone(), truth, oneLabel("kidney"))
	require.Len(t, res.PerLabel, 1)
	ls := res.PerLabel[0]

	assert.Equal(t, 1.0, ls.Dice)
	assert.Equal(t, 1.0, ls.Jaccard)
	assert.Equal(t, 0.0, ls.VolumeErrorPct)
	assert.Equal(t, 1.0, res.Aggregate)
	require.NotNil(t, ls.SurfaceDistanceMM)
	assert.Equal(t, 0.0, *ls.SurfaceDistanceMM)
}

func TestScoreDisjoint(t *testing.T) {
	truth := volume.NewLabelVolume(grid10())
	fill(truth, 1, 0, 2, 0, 2, 0, 2)
	drawn := volume.NewLabelVolume(grid10())
	fill(drawn, 1, 6, 8, 6, 8, 6, 8)

	res := Score(drawn, truth, oneLabel("kidney"))
	ls := res.PerLabel[0]
	assert.Equal(t, 0.0, ls.Dice)
	assert.Equal(t, 0.0, ls.Jaccard)
	assert.Equal(t, 0.0, res.Aggregate)
}

func TestScoreSymmetry(t *testing.T) {
	a := volume.NewLabelVolume(grid10())
	fill(a, 1, 2, 5, 2, 5, 2, 5)
	b := volume.NewLabelVolume(grid10())
	fill(b, 1, 4, 7, 3, 6, 2, 5)

	ab := Score(a, b, oneLabel("kidney")).PerLabel[0]
	ba := Score(b, a, oneLabel("kidney")).PerLabel[0]
	assert.Equal(t, ab.Dice, ba.Dice)
	assert.Equal(t, ab.Jaccard, ba.Jaccard)
	assert.Equal(t, *ab.SurfaceDistanceMM, *ba.SurfaceDistanceMM)
}

func TestScoreReferenceScenario(t *testing.T) {
	// 10x10x10 at 1mm³; truth occupies [2:5,2:5,2:5] in half-open
	// notation, 27 voxels.
	truth := volume.NewLabelVolume(grid10())
	fill(truth, 1, 2, 4, 2, 4, 2, 4)

	t.Run("identical region", func(t *testing.T) {
		drawn := truth.Clone()
		ls := Score(drawn, truth, oneLabel("kidney")).PerLabel[0]
		assert.Equal(t, 1.0, ls.Dice)
		assert.Equal(t, 0.0, ls.VolumeErrorPct)
	})

	t.Run("one slice too deep", func(t *testing.T) {
		// [2:5,2:5,2:6]: 36 voxels, 27 overlapping.
		drawn := volume.NewLabelVolume(grid10())
		fill(drawn, 1, 2, 4, 2, 4, 2, 5)

		ls := Score(drawn, truth, oneLabel("kidney")).PerLabel[0]
		assert.Equal(t, 36, ls.DrawnVoxels)
		assert.Equal(t, 27, ls.OverlapVoxels)
		assert.InDelta(t, 2.0*27/(27+36), ls.Dice, 1e-9)
		assert.InDelta(t, 0.857, ls.Dice, 1e-3)
		assert.InDelta(t, 100.0*(36-27)/27, ls.VolumeErrorPct, 1e-9)
		assert.InDelta(t, 33.3, ls.VolumeErrorPct, 0.05)
	})
}

func TestScoreEmptyHandling(t *testing.T) {
	labels := &labelset.LabelSet{Labels: []labelset.Label{
		{Name: "present", ID: 1},
		{Name: "absent", ID: 2},
	}}

	truth := volume.NewLabelVolume(grid10())
	fill(truth, 1, 2, 4, 2, 4, 2, 4)

	t.Run("absent from both", func(t *testing.T) {
		drawn := truth.Clone()
		res := Score(drawn, truth, labels)
		absent := res.PerLabel[1]
		assert.Equal(t, 1.0, absent.Dice, "agreement on absence is perfect")
		assert.Equal(t, 1.0, absent.Jaccard)
		assert.True(t, math.IsNaN(absent.VolumeErrorPct))
		assert.False(t, absent.Present)
		assert.Nil(t, absent.SurfaceDistanceMM)
		// Aggregate excludes the absent label: only label 1's Dice.
		assert.Equal(t, 1.0, res.Aggregate)
	})

	t.Run("drawn but no truth", func(t *testing.T) {
		drawn := truth.Clone()
		fill(drawn, 2, 5, 9, 8, 8, 9, 9) // |D|=5 in a row, |T|=0
		res := Score(drawn, truth, labels)
		phantom := res.PerLabel[1]
		assert.Equal(t, 0.0, phantom.Dice)
		assert.Equal(t, 0.0, phantom.Jaccard)
		assert.True(t, math.IsNaN(phantom.VolumeErrorPct), "volume error undefined when truth empty")
		assert.True(t, phantom.Present)
		// Aggregate now averages 1.0 (label 1) and 0.0 (label 2).
		assert.InDelta(t, 0.5, res.Aggregate, 1e-9)
	})
}

func TestAllLabelsAbsent(t *testing.T) {
	res := Score(volume.NewLabelVolume(grid10()), volume.NewLabelVolume(grid10()), oneLabel("kidney"))
	assert.Equal(t, 1.0, res.Aggregate)
}

func TestPhysicalVolumes(t *testing.T) {
	g := geom.Geometry{Shape: geom.Shape{X: 10, Y: 10, Z: 10}, Affine: geom.Scaled(0.5, 0.5, 2)}
	truth := volume.NewLabelVolume(g)
	fill(truth, 1, 2, 4, 2, 4, 2, 4) // 27 voxels at 0.5mm³ each

	ls := Score(truth.Clone(), truth, oneLabel("kidney")).PerLabel[0]
	assert.InDelta(t, 27*0.5, ls.TruthVolumeMM3, 1e-9)
	assert.InDelta(t, 27*0.5, ls.DrawnVolumeMM3, 1e-9)
}

func TestSurfaceDistanceOffset(t *testing.T) {
	g := geom.Geometry{Shape: geom.Shape{X: 20, Y: 20, Z: 20}, Affine: geom.Scaled(2, 2, 2)}
	truth := volume.NewLabelVolume(g)
	fill(truth, 1, 5, 8, 5, 8, 5, 8)
	drawn := volume.NewLabelVolume(g)
	fill(drawn, 1, 6, 9, 5, 8, 5, 8) // shifted one voxel (2mm) along x

	ls := Score(drawn, truth, oneLabel("kidney")).PerLabel[0]
	require.NotNil(t, ls.SurfaceDistanceMM)
	assert.Greater(t, *ls.SurfaceDistanceMM, 0.0)
	assert.Less(t, *ls.SurfaceDistanceMM, 2.01, "one-voxel shift cannot exceed one spacing")
}

func TestScoreDeterministic(t *testing.T) {
	truth := volume.NewLabelVolume(grid10())
	fill(truth, 1, 2, 6, 3, 7, 1, 8)
	drawn := volume.NewLabelVolume(grid10())
	fill(drawn, 1, 3, 7, 2, 6, 2, 9)

	a := Score(drawn, truth, oneLabel("kidney"))
	b := Score(drawn, truth, oneLabel("kidney"))
	if diff := cmp.Diff(a, b, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("scoring is not deterministic:\n%s", diff)
	}
}

func TestSmoothnessBounds(t *testing.T) {
	drawn := volume.NewLabelVolume(grid10())
	fill(drawn, 1, 2, 6, 2, 6, 2, 6)

	ls := Score(drawn, volume.NewLabelVolume(grid10()), oneLabel("kidney")).PerLabel[0]
	assert.GreaterOrEqual(t, ls.AxialSmoothness, 0.0)
	assert.LessOrEqual(t, ls.AxialSmoothness, 1.0)
	assert.GreaterOrEqual(t, ls.VolumeSmoothness, 0.0)
	assert.LessOrEqual(t, ls.VolumeSmoothness, 1.0)
	// Five identical slices: perfect inter-slice Dice within the box,
	// two zero-scored entry/exit transitions, nine pairs total.
	assert.InDelta(t, (7.0/9+1)/2, ls.VolumeSmoothness, 1e-9)
}

func TestWeightedTotal(t *testing.T) {
	truth := volume.NewLabelVolume(grid10())
	fill(truth, 1, 2, 4, 2, 4, 2, 4)
	drawn := truth.Clone()

	ls := Score(drawn, truth, oneLabel("kidney")).PerLabel[0]
	want := WeightDice*ls.Dice + WeightAxialSmoothness*ls.AxialSmoothness + WeightVolumeSmoothness*ls.VolumeSmoothness
	assert.InDelta(t, want, ls.WeightedTotal, 1e-12)
}
