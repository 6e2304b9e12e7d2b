package scoring

import (
	"math"

	"github.com/contour-quest/contour.quest/internal/geom"
	"github.com/contour-quest/contour.quest/internal/volume"
)

// maxDistancePairs bounds the brute-force nearest-neighbour work.
// Boundary sets large enough to exceed it are subsampled with a
// deterministic stride, which keeps the metric stable across runs.
const maxDistancePairs = 50_000_000

// meanSurfaceDistance is the mean symmetric surface distance between
// the drawn and truth regions of one label, in millimetres. Boundary
// voxels are those with at least one face neighbour outside the
// region; distances are measured between physical voxel centres.
func meanSurfaceDistance(drawn, truth *volume.LabelVolume, id uint8) float64 {
	db := boundaryPoints(drawn, id)
	tb := boundaryPoints(truth, id)
	if len(db) == 0 || len(tb) == 0 {
		return 0
	}

	if len(db)*len(tb) > maxDistancePairs {
		db = subsample(db, maxDistancePairs/len(tb))
		tb = subsample(tb, maxDistancePairs/len(db))
	}

	sum := 0.0
	for _, p := range db {
		sum += nearest(p, tb)
	}
	for _, p := range tb {
		sum += nearest(p, db)
	}
	return sum / float64(len(db)+len(tb))
}

func nearest(p geom.Point, set []geom.Point) float64 {
	best := math.Inf(1)
	for _, q := range set {
		dx, dy, dz := p.X-q.X, p.Y-q.Y, p.Z-q.Z
		d := dx*dx + dy*dy + dz*dz
		if d < best {
			best = d
		}
	}
	return math.Sqrt(best)
}

func subsample(pts []geom.Point, target int) []geom.Point {
	if target < 1 {
		target = 1
	}
	if len(pts) <= target {
		return pts
	}
	stride := (len(pts) + target - 1) / target
	out := make([]geom.Point, 0, target)
	for i := 0; i < len(pts); i += stride {
		out = append(out, pts[i])
	}
	return out
}

// boundaryPoints returns the physical positions of the label's
// boundary voxels, using 6-connected face adjacency. Voxels on the
// volume edge count as boundary.
func boundaryPoints(mask *volume.LabelVolume, id uint8) []geom.Point {
	s := mask.Geom.Shape
	var pts []geom.Point
	for k := 0; k < s.Z; k++ {
		for j := 0; j < s.Y; j++ {
			for i := 0; i < s.X; i++ {
				if mask.At(i, j, k) != id {
					continue
				}
				if isBoundary(mask, id, i, j, k) {
					pts = append(pts, mask.Geom.Affine.ToPhysical(i, j, k))
				}
			}
		}
	}
	return pts
}

var faceNeighbors = [6][3]int{
	{1, 0, 0}, {-1, 0, 0},
	{0, 1, 0}, {0, -1, 0},
	{0, 0, 1}, {0, 0, -1},
}

func isBoundary(mask *volume.LabelVolume, id uint8, i, j, k int) bool {
	s := mask.Geom.Shape
	for _, n := range faceNeighbors {
		ni, nj, nk := i+n[0], j+n[1], k+n[2]
		if !s.Contains(ni, nj, nk) {
			return true
		}
		if mask.At(ni, nj, nk) != id {
			return true
		}
	}
	return false
}
