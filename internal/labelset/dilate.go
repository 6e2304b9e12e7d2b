package labelset

import "github.com/contour-quest/contour.quest/internal/volume"

// Dilate grows the region holding labelID by n voxels using a
// 26-connected unit structuring element applied n times. The input is
// not modified. Dilation only claims background voxels; voxels already
// holding another label keep it, so adjacent ground-truth structures
// never bleed into each other.
func Dilate(mask *volume.LabelVolume, labelID uint8, n int) *volume.LabelVolume {
	out := mask.Clone()
	if n <= 0 {
		return out
	}
	s := out.Geom.Shape
	cur := out
	for pass := 0; pass < n; pass++ {
		next := cur.Clone()
		for k := 0; k < s.Z; k++ {
			for j := 0; j < s.Y; j++ {
				for i := 0; i < s.X; i++ {
					if cur.At(i, j, k) != volume.Background {
						continue
					}
					if hasNeighbor(cur, i, j, k, labelID) {
						next.Set(i, j, k, labelID)
					}
				}
			}
		}
		cur = next
	}
	return cur
}

func hasNeighbor(m *volume.LabelVolume, i, j, k int, labelID uint8) bool {
	s := m.Geom.Shape
	for dk := -1; dk <= 1; dk++ {
		for dj := -1; dj <= 1; dj++ {
			for di := -1; di <= 1; di++ {
				if di == 0 && dj == 0 && dk == 0 {
					continue
				}
				ni, nj, nk := i+di, j+dj, k+dk
				if !s.Contains(ni, nj, nk) {
					continue
				}
				if m.At(ni, nj, nk) == labelID {
					return true
				}
			}
		}
	}
	return false
}
