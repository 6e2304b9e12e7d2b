package scoring

import (
	"math"

	"github.com/contour-quest/contour.quest/internal/volume"
	"gonum.org/v1/gonum/stat"
)

// closingRadius is the disk radius used when judging slice raggedness:
// a contour that changes under a radius-2 morphological closing has
// concavities narrower than the brush itself.
const closingRadius = 2

// axialSmoothness measures, per axial slice, how compact and clean the
// label's in-plane contour is. Two terms per slice, averaged: the
// isoperimetric ratio against an ideal circle of the same area, and
// the fraction of the region unchanged by a small morphological
// closing. Empty slices are skipped; a label with no voxels scores 0.
func axialSmoothness(mask *volume.LabelVolume, id uint8) float64 {
	s := mask.Geom.Shape
	var scores []float64
	for k := 0; k < s.Z; k++ {
		plane := slicePlane(mask, id, k)
		area := countPlane(plane)
		if area == 0 {
			continue
		}

		idealRatio := 2 * math.Sqrt(math.Pi/float64(area))
		actualRatio := float64(planePerimeter(plane, s.X, s.Y)) / float64(area)
		ratioScore := math.Min(1, idealRatio/math.Max(actualRatio, 1e-6))

		closed := closePlane(plane, s.X, s.Y, closingRadius)
		changed := 0
		for i := range plane {
			if plane[i] != closed[i] {
				changed++
			}
		}
		closingScore := 1 - float64(changed)/float64(area)

		scores = append(scores, clamp01((ratioScore+closingScore)/2))
	}
	if len(scores) == 0 {
		return 0
	}
	return stat.Mean(scores, nil)
}

// volumeSmoothness measures continuity of a label through the stack:
// the mean inter-slice Dice between adjacent slices, averaged with a
// stability term penalising erratic per-slice area.
func volumeSmoothness(mask *volume.LabelVolume, id uint8) float64 {
	s := mask.Geom.Shape
	if mask.Count(id) == 0 {
		return 0
	}
	if s.Z < 2 {
		return 1
	}

	areas := make([]float64, s.Z)
	planes := make([][]bool, s.Z)
	for k := 0; k < s.Z; k++ {
		planes[k] = slicePlane(mask, id, k)
		areas[k] = float64(countPlane(planes[k]))
	}

	var continuity []float64
	for k := 0; k+1 < s.Z; k++ {
		a1, a2 := areas[k], areas[k+1]
		switch {
		case a1 == 0 && a2 == 0:
			continuity = append(continuity, 1)
		case a1 == 0 || a2 == 0:
			continuity = append(continuity, 0)
		default:
			inter := 0
			for i := range planes[k] {
				if planes[k][i] && planes[k+1][i] {
					inter++
				}
			}
			continuity = append(continuity, 2*float64(inter)/(a1+a2))
		}
	}

	var nonZero []float64
	for _, a := range areas {
		if a > 0 {
			nonZero = append(nonZero, a)
		}
	}
	stability := 1.0
	if len(nonZero) > 0 && s.Z > 2 {
		mean := stat.Mean(nonZero, nil)
		stability = math.Max(0, 1-popStdDev(nonZero, mean)/math.Max(mean, 1))
	}

	sliceContinuity := 0.0
	if len(continuity) > 0 {
		sliceContinuity = stat.Mean(continuity, nil)
	}
	return (sliceContinuity + stability) / 2
}

// popStdDev is the population standard deviation; gonum's StdDev is
// the sample estimator and would over-penalise short slice runs.
func popStdDev(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// slicePlane extracts axial slice k as a flat boolean plane for one
// label.
func slicePlane(mask *volume.LabelVolume, id uint8, k int) []bool {
	s := mask.Geom.Shape
	plane := make([]bool, s.X*s.Y)
	off := k * len(plane)
	for i := range plane {
		plane[i] = mask.Data[off+i] == id
	}
	return plane
}

func countPlane(plane []bool) int {
	n := 0
	for _, v := range plane {
		if v {
			n++
		}
	}
	return n
}

// planePerimeter counts exposed 4-neighbour edges, the discrete
// contour length in voxel units.
func planePerimeter(plane []bool, nx, ny int) int {
	per := 0
	at := func(x, y int) bool {
		if x < 0 || x >= nx || y < 0 || y >= ny {
			return false
		}
		return plane[x+nx*y]
	}
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			if !at(x, y) {
				continue
			}
			if !at(x-1, y) {
				per++
			}
			if !at(x+1, y) {
				per++
			}
			if !at(x, y-1) {
				per++
			}
			if !at(x, y+1) {
				per++
			}
		}
	}
	return per
}

// closePlane is morphological closing (dilate then erode) with a disk
// structuring element.
func closePlane(plane []bool, nx, ny, radius int) []bool {
	offsets := diskOffsets(radius)
	return erodePlane(dilatePlane(plane, nx, ny, offsets), nx, ny, offsets)
}

func diskOffsets(radius int) [][2]int {
	var offs [][2]int
	r2 := radius * radius
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= r2 {
				offs = append(offs, [2]int{dx, dy})
			}
		}
	}
	return offs
}

func dilatePlane(plane []bool, nx, ny int, offs [][2]int) []bool {
	out := make([]bool, len(plane))
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			if !plane[x+nx*y] {
				continue
			}
			for _, o := range offs {
				px, py := x+o[0], y+o[1]
				if px >= 0 && px < nx && py >= 0 && py < ny {
					out[px+nx*py] = true
				}
			}
		}
	}
	return out
}

func erodePlane(plane []bool, nx, ny int, offs [][2]int) []bool {
	out := make([]bool, len(plane))
	for y := 0; y < ny; y++ {
	next:
		for x := 0; x < nx; x++ {
			for _, o := range offs {
				px, py := x+o[0], y+o[1]
				if px < 0 || px >= nx || py < 0 || py >= ny || !plane[px+nx*py] {
					continue next
				}
			}
			out[x+nx*y] = true
		}
	}
	return out
}
