// Package scoring compares a finalized drawn mask against ground truth
// and produces the per-label and aggregate similarity metrics.
//
// Scoring is total over well-formed inputs: there is no error path.
// Undefined ratios (volume error against an empty ground truth) are
// represented as NaN sentinels, and identical inputs always produce
// bit-identical results.
package scoring

import (
	"math"

	"github.com/contour-quest/contour.quest/internal/labelset"
	"github.com/contour-quest/contour.quest/internal/volume"
)

// Weights of the composite per-label score: overlap dominates, the two
// smoothness terms discourage ragged or discontinuous contours.
const (
	WeightDice             = 0.6
	WeightAxialSmoothness  = 0.2
	WeightVolumeSmoothness = 0.2
)

// LabelScore holds every metric computed for one label.
type LabelScore struct {
	Name    string `json:"name"`
	LabelID uint8  `json:"label"`

	DrawnVoxels   int `json:"drawn_voxels"`
	TruthVoxels   int `json:"truth_voxels"`
	OverlapVoxels int `json:"overlap_voxels"`

	// Physical volumes in mm³, comparable across volumes with
	// different voxel spacing.
	DrawnVolumeMM3 float64 `json:"drawn_volume_mm3"`
	TruthVolumeMM3 float64 `json:"truth_volume_mm3"`

	Dice    float64 `json:"dice"`
	Jaccard float64 `json:"jaccard"`

	// VolumeErrorPct is NaN when the ground truth is empty; consumers
	// render the sentinel as "n/a".
	VolumeErrorPct float64 `json:"-"`

	// SurfaceDistanceMM is the mean symmetric surface distance, only
	// defined when both masks are non-empty.
	SurfaceDistanceMM *float64 `json:"surface_distance_mm,omitempty"`

	AxialSmoothness  float64 `json:"axial_smoothness"`
	VolumeSmoothness float64 `json:"volume_smoothness"`
	WeightedTotal    float64 `json:"weighted_total"`

	// Present is false when the label appears in neither mask; such
	// labels are excluded from the aggregate.
	Present bool `json:"present"`
}

// Result is the immutable score of one finalized session.
type Result struct {
	PerLabel []LabelScore `json:"per_label"`

	// Aggregate is the mean of per-label Dice, excluding labels absent
	// from both masks. Perfect agreement on total absence scores 1.
	Aggregate float64 `json:"aggregate"`

	// WeightedOverall averages the composite per-label totals; shown
	// to trainees alongside the plain Dice aggregate.
	WeightedOverall float64 `json:"weighted_overall"`
}

// Score computes the full result for one drawn/truth pair. Both masks
// must share geometry; callers have verified that before drawing ever
// started.
func Score(drawn, truth *volume.LabelVolume, labels *labelset.LabelSet) Result {
	voxelMM3 := drawn.Geom.Affine.VoxelVolume()

	res := Result{PerLabel: make([]LabelScore, 0, len(labels.Labels))}
	diceSum, diceN := 0.0, 0
	totalSum, totalN := 0.0, 0

	for _, l := range labels.Labels {
		ls := scoreLabel(drawn, truth, l, voxelMM3)
		res.PerLabel = append(res.PerLabel, ls)
		if ls.Present {
			diceSum += ls.Dice
			diceN++
			totalSum += ls.WeightedTotal
			totalN++
		}
	}

	if diceN > 0 {
		res.Aggregate = diceSum / float64(diceN)
		res.WeightedOverall = totalSum / float64(totalN)
	} else {
		// Every label absent from both masks: agreement is perfect.
		res.Aggregate = 1
		res.WeightedOverall = 1
	}
	return res
}

func scoreLabel(drawn, truth *volume.LabelVolume, l labelset.Label, voxelMM3 float64) LabelScore {
	ls := LabelScore{Name: l.Name, LabelID: l.ID}

	for i := range drawn.Data {
		d := drawn.Data[i] == l.ID
		t := truth.Data[i] == l.ID
		if d {
			ls.DrawnVoxels++
		}
		if t {
			ls.TruthVoxels++
		}
		if d && t {
			ls.OverlapVoxels++
		}
	}

	ls.DrawnVolumeMM3 = float64(ls.DrawnVoxels) * voxelMM3
	ls.TruthVolumeMM3 = float64(ls.TruthVoxels) * voxelMM3
	ls.Present = ls.DrawnVoxels > 0 || ls.TruthVoxels > 0

	ls.Dice = overlapRatio(2*float64(ls.OverlapVoxels),
		float64(ls.DrawnVoxels)+float64(ls.TruthVoxels))
	union := ls.DrawnVoxels + ls.TruthVoxels - ls.OverlapVoxels
	ls.Jaccard = overlapRatio(float64(ls.OverlapVoxels), float64(union))

	if ls.TruthVoxels > 0 {
		ls.VolumeErrorPct = (ls.DrawnVolumeMM3 - ls.TruthVolumeMM3) / ls.TruthVolumeMM3 * 100
	} else {
		ls.VolumeErrorPct = math.NaN()
	}

	if ls.DrawnVoxels > 0 && ls.TruthVoxels > 0 {
		d := meanSurfaceDistance(drawn, truth, l.ID)
		ls.SurfaceDistanceMM = &d
	}

	ls.AxialSmoothness = axialSmoothness(drawn, l.ID)
	ls.VolumeSmoothness = volumeSmoothness(drawn, l.ID)
	ls.WeightedTotal = WeightDice*ls.Dice +
		WeightAxialSmoothness*ls.AxialSmoothness +
		WeightVolumeSmoothness*ls.VolumeSmoothness

	return ls
}

// overlapRatio implements the shared zero-handling of Dice and
// Jaccard: both masks empty is perfect agreement, exactly one empty is
// total disagreement.
func overlapRatio(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 1
	}
	return numerator / denominator
}
