package raster

import (
	"fmt"
	"math"
	"sort"

	"github.com/contour-quest/contour.quest/internal/geom"
	"github.com/contour-quest/contour.quest/internal/volume"
)

// Apply rasterizes one stroke into the mask, touching only the
// stroke's own slice. Application is atomic: validation happens before
// any voxel is written, so a rejected stroke leaves the mask unchanged.
func Apply(mask *volume.LabelVolume, s Stroke) error {
	if err := s.Validate(); err != nil {
		return err
	}
	shape := mask.Geom.Shape
	if s.Slice < 0 || s.Slice >= shape.Z {
		return fmt.Errorf("slice index %d out of range [0,%d)", s.Slice, shape.Z)
	}

	region := rasterizeRegion(s, shape.X, shape.Y)
	plane, err := mask.Slice(s.Slice)
	if err != nil {
		return err
	}

	switch s.Op {
	case OpAdd:
		for idx, in := range region {
			if in {
				plane[idx] = s.LabelID
			}
		}
	case OpErase:
		// Erase clears only the stroke's own label: the eraser tool
		// operates on the active ROI, matching the capture surface.
		for idx, in := range region {
			if in && plane[idx] == s.LabelID {
				plane[idx] = volume.Background
			}
		}
	}
	return nil
}

// Rasterize rebuilds a full label volume from scratch by replaying the
// strokes in sequence order. The result is identical to incremental
// Apply calls in the same order; persistence and reload depend on that
// equivalence.
func Rasterize(strokes []Stroke, g geom.Geometry) (*volume.LabelVolume, error) {
	ordered := make([]Stroke, len(strokes))
	copy(ordered, strokes)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	mask := volume.NewLabelVolume(g)
	for _, s := range ordered {
		if err := Apply(mask, s); err != nil {
			return nil, fmt.Errorf("stroke %d: %w", s.Seq, err)
		}
	}
	return mask, nil
}

// rasterizeRegion computes the set of in-slice voxels a stroke covers,
// as a flat nx*ny boolean plane.
func rasterizeRegion(s Stroke, nx, ny int) []bool {
	region := make([]bool, nx*ny)
	if s.Brush > 0 {
		stampPolyline(region, nx, ny, s.Points, s.Brush)
	} else {
		fillPolygon(region, nx, ny, s.Points)
	}
	return region
}

// fillPolygon fills a closed polygon with the even-odd rule, sampling
// at integer voxel centres. The polygon closes implicitly from the
// last point back to the first.
func fillPolygon(region []bool, nx, ny int, pts []Point) {
	if len(pts) < 3 {
		// Degenerate polygons cover nothing; a dot or a line has zero
		// interior under the even-odd rule.
		return
	}
	minY, maxY := pts[0].Y, pts[0].Y
	for _, p := range pts[1:] {
		minY = math.Min(minY, p.Y)
		maxY = math.Max(maxY, p.Y)
	}
	jLo := int(math.Max(0, math.Ceil(minY)))
	jHi := int(math.Min(float64(ny-1), math.Floor(maxY)))

	var xs []float64
	for j := jLo; j <= jHi; j++ {
		y := float64(j)
		xs = xs[:0]
		for i := range pts {
			a := pts[i]
			b := pts[(i+1)%len(pts)]
			// Half-open edge test avoids double-counting vertices that
			// land exactly on a scanline.
			if (a.Y <= y) == (b.Y <= y) {
				continue
			}
			x := a.X + (y-a.Y)*(b.X-a.X)/(b.Y-a.Y)
			xs = append(xs, x)
		}
		sort.Float64s(xs)
		for p := 0; p+1 < len(xs); p += 2 {
			lo := int(math.Ceil(xs[p]))
			if lo < 0 {
				lo = 0
			}
			for x := lo; float64(x) < xs[p+1] && x < nx; x++ {
				region[x+nx*j] = true
			}
		}
	}
}

// stampPolyline stamps a disk of the given radius at close intervals
// along the polyline, covering freehand brush and eraser strokes. A
// single point stamps one disk.
func stampPolyline(region []bool, nx, ny int, pts []Point, radius float64) {
	const step = 0.5 // voxels between stamps; half-voxel leaves no gaps
	stamp := func(cx, cy float64) {
		r := radius
		iLo := int(math.Ceil(cx - r))
		iHi := int(math.Floor(cx + r))
		for i := iLo; i <= iHi; i++ {
			if i < 0 || i >= nx {
				continue
			}
			dx := float64(i) - cx
			span := math.Sqrt(r*r - dx*dx)
			jLo := int(math.Ceil(cy - span))
			jHi := int(math.Floor(cy + span))
			for j := jLo; j <= jHi; j++ {
				if j < 0 || j >= ny {
					continue
				}
				region[i+nx*j] = true
			}
		}
	}

	stamp(pts[0].X, pts[0].Y)
	for i := 1; i < len(pts); i++ {
		a, b := pts[i-1], pts[i]
		dist := math.Hypot(b.X-a.X, b.Y-a.Y)
		n := int(math.Ceil(dist / step))
		for t := 1; t <= n; t++ {
			f := float64(t) / float64(n)
			stamp(a.X+f*(b.X-a.X), a.Y+f*(b.Y-a.Y))
		}
	}
}
