package labelset

import (
	"sync"

	"github.com/contour-quest/contour.quest/internal/geom"
)

// Loader loads ground truth with a process-lifetime cache. Ground
// truth is read-only, so a cached entry is shared by every session
// that references the same label-set path. Safe for concurrent use;
// the cache is never invalidated.
type Loader struct {
	mu    sync.RWMutex
	cache map[string]*GroundTruth
}

// NewLoader returns an empty Loader.
func NewLoader() *Loader {
	return &Loader{cache: make(map[string]*GroundTruth)}
}

// Load returns the post-processed ground truth for the given volume
// path, verifying its geometry against the CT volume's. The first call
// for a path reads and post-processes the files; later calls return
// the cached result after re-checking geometry, since different
// regions may pair the same label set with different CT volumes.
func (l *Loader) Load(volumePath string, ct geom.Geometry) (*GroundTruth, error) {
	l.mu.RLock()
	gt, ok := l.cache[volumePath]
	l.mu.RUnlock()
	if ok {
		if err := geom.Check(ct, gt.Mask.Geom); err != nil {
			return nil, err
		}
		return gt, nil
	}

	gt, err := load(volumePath, ct)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	// Another session may have raced the load; keep the first entry so
	// all readers share one mask.
	if prior, ok := l.cache[volumePath]; ok {
		gt = prior
	} else {
		l.cache[volumePath] = gt
	}
	l.mu.Unlock()
	return gt, nil
}
