package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/contour-quest/contour.quest/internal/config"
	"github.com/contour-quest/contour.quest/internal/labelset"
	"github.com/contour-quest/contour.quest/internal/monitoring"
	"github.com/contour-quest/contour.quest/internal/nifti"
	"github.com/contour-quest/contour.quest/internal/timeutil"
	"github.com/contour-quest/contour.quest/internal/volume"
)

// Manager owns the live session registry. It resolves region IDs to
// their CT and ground-truth inputs, caches loaded CT volumes, and hands
// out sessions keyed by ID.
type Manager struct {
	cfg       *config.Config
	loader    *labelset.Loader
	clock     timeutil.Clock
	persister Persister

	mu       sync.RWMutex
	sessions map[string]*Session
	ctCache  map[string]*volume.Volume
}

// NewManager builds a manager. A nil clock selects the wall clock; a
// nil persister leaves results in memory only.
func NewManager(cfg *config.Config, loader *labelset.Loader, clock timeutil.Clock, persister Persister) *Manager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Manager{
		cfg:       cfg,
		loader:    loader,
		clock:     clock,
		persister: persister,
		sessions:  make(map[string]*Session),
		ctCache:   make(map[string]*volume.Volume),
	}
}

// Start resolves a region and begins a drawing session. All input
// loading happens here: a session that exists is a session whose CT and
// ground truth are known good.
func (m *Manager) Start(userID, regionID string) (*Session, error) {
	region, err := m.cfg.Region(regionID)
	if err != nil {
		return nil, err
	}

	ct, err := m.loadCT(region.CT)
	if err != nil {
		return nil, fmt.Errorf("region %q: %w", regionID, err)
	}
	gt, err := m.loader.Load(region.GTLabel, ct.Geom)
	if err != nil {
		return nil, fmt.Errorf("region %q: %w", regionID, err)
	}

	s, err := Start(Config{
		UserID:      userID,
		RegionID:    regionID,
		CT:          ct,
		GroundTruth: gt,
		TimeLimit:   region.TimeLimit(),
		Clock:       m.clock,
		Persister:   m.persister,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	monitoring.Logf("session %s: started for user %q on region %q (limit %s)",
		s.ID, userID, regionID, region.TimeLimit())
	return s, nil
}

// loadCT reads a CT volume, caching by path. Regions share CT volumes
// across sessions; the voxel data is read-only after load.
func (m *Manager) loadCT(path string) (*volume.Volume, error) {
	m.mu.RLock()
	ct, ok := m.ctCache[path]
	m.mu.RUnlock()
	if ok {
		return ct, nil
	}

	ct, err := nifti.ReadVolume(path)
	if err != nil {
		return nil, fmt.Errorf("loading CT volume: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.ctCache[path]; ok {
		return cached, nil
	}
	m.ctCache[path] = ct
	return ct, nil
}

// Get looks up a live or finished session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// IDs returns all registered session IDs, sorted for stable listings.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown expires every session still drawing. Finalization keeps
// running in the background; callers that need the records on disk
// wait on each session's Done channel.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()
	for _, s := range sessions {
		s.Expire()
	}
}
