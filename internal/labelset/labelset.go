// Package labelset loads expert-authored ground-truth label volumes and
// their label-definition tables, and applies per-label post-processing.
package labelset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/contour-quest/contour.quest/internal/geom"
	"github.com/contour-quest/contour.quest/internal/nifti"
	"github.com/contour-quest/contour.quest/internal/volume"
)

// ErrLabelSetNotFound indicates the label-definition document for a
// ground-truth volume is missing or unreadable.
var ErrLabelSetNotFound = errors.New("label set not found")

// Postprocess is the optional per-label rule applied once at load time.
// A zero value means no post-processing.
type Postprocess struct {
	// DilateVoxels grows the label region by this many voxels using a
	// 26-connected structuring element, isotropic in voxel space.
	DilateVoxels int `json:"dilate_voxels,omitempty"`
}

// Label is one entry of a label-definition table.
type Label struct {
	Name        string      `json:"name"`
	ID          uint8       `json:"label"`
	Color       string      `json:"color,omitempty"`
	Postprocess Postprocess `json:"postprocess,omitempty"`
}

// LabelSet is the ordered label table paired with one ground-truth
// volume. IDs are unique and >= 1; 0 is reserved for background.
type LabelSet struct {
	Labels []Label `json:"labels"`
}

// ByID returns the label with the given ID, if present.
func (s *LabelSet) ByID(id uint8) (Label, bool) {
	for _, l := range s.Labels {
		if l.ID == id {
			return l, true
		}
	}
	return Label{}, false
}

// ByName returns the label with the given name, if present.
func (s *LabelSet) ByName(name string) (Label, bool) {
	for _, l := range s.Labels {
		if l.Name == name {
			return l, true
		}
	}
	return Label{}, false
}

// Validate checks the label table invariants.
func (s *LabelSet) Validate() error {
	if len(s.Labels) == 0 {
		return errors.New("label set has no labels")
	}
	seen := make(map[uint8]string, len(s.Labels))
	for _, l := range s.Labels {
		if l.ID == volume.Background {
			return fmt.Errorf("label %q uses reserved background ID 0", l.Name)
		}
		if prev, dup := seen[l.ID]; dup {
			return fmt.Errorf("labels %q and %q share ID %d", prev, l.Name, l.ID)
		}
		seen[l.ID] = l.Name
		if l.Postprocess.DilateVoxels < 0 {
			return fmt.Errorf("label %q has negative dilation %d", l.Name, l.Postprocess.DilateVoxels)
		}
	}
	return nil
}

// DefinitionPath derives the label-definition JSON path from a
// ground-truth volume path, following the <name>_labels.json pairing
// convention.
func DefinitionPath(volumePath string) string {
	base := strings.TrimSuffix(strings.TrimSuffix(volumePath, ".gz"), ".nii")
	return base + "_labels.json"
}

// ParseDefinition decodes and validates a label-definition document.
func ParseDefinition(data []byte) (*LabelSet, error) {
	var s LabelSet
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid label definition: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func loadDefinition(volumePath string) (*LabelSet, error) {
	path := DefinitionPath(volumePath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrLabelSetNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrLabelSetNotFound, path, err)
	}
	return ParseDefinition(data)
}

// GroundTruth is a loaded, post-processed ground-truth mask with its
// label table. Read-only after construction.
type GroundTruth struct {
	Mask   *volume.LabelVolume
	Labels *LabelSet
}

// load reads the raw mask, validates geometry against the CT, and
// applies each label's post-processing rule exactly once.
func load(volumePath string, ct geom.Geometry) (*GroundTruth, error) {
	labels, err := loadDefinition(volumePath)
	if err != nil {
		return nil, err
	}
	mask, err := nifti.ReadLabelVolume(volumePath)
	if err != nil {
		return nil, err
	}
	if err := geom.Check(ct, mask.Geom); err != nil {
		return nil, fmt.Errorf("ground truth %s: %w", volumePath, err)
	}
	for _, l := range labels.Labels {
		if n := l.Postprocess.DilateVoxels; n > 0 {
			mask = Dilate(mask, l.ID, n)
		}
	}
	return &GroundTruth{Mask: mask, Labels: labels}, nil
}
