// Package raster converts per-slice freehand strokes into a 3-D label
// volume. Strokes replay in append order; later strokes win per voxel.
package raster

import (
	"fmt"
	"sync"
	"time"
)

// Op says whether a stroke paints its label or erases it.
type Op string

const (
	OpAdd   Op = "add"
	OpErase Op = "erase"
)

// Point is an in-slice position in voxel coordinates. Fractional
// values are allowed: the capture surface reports scene positions, not
// snapped voxel indices.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is one drawing action on a single axial slice. With Brush > 0
// the points form an open polyline stamped with a disk of that radius
// (the brush/eraser tools); with Brush == 0 the points form a closed
// polygon filled with the even-odd rule.
type Stroke struct {
	Seq     int64     `json:"seq"`
	Time    time.Time `json:"time"`
	Slice   int       `json:"slice"`
	LabelID uint8     `json:"label"`
	Op      Op        `json:"op"`
	Brush   float64   `json:"brush,omitempty"`
	Points  []Point   `json:"points"`
}

// Validate rejects malformed strokes before they touch any state.
func (s Stroke) Validate() error {
	if s.Op != OpAdd && s.Op != OpErase {
		return fmt.Errorf("unknown stroke op %q", s.Op)
	}
	if s.LabelID == 0 {
		return fmt.Errorf("stroke must target a label ID >= 1")
	}
	if len(s.Points) == 0 {
		return fmt.Errorf("stroke has no points")
	}
	if s.Brush < 0 {
		return fmt.Errorf("negative brush radius %g", s.Brush)
	}
	return nil
}

// StrokeSet is the append-only, sequence-ordered record of all strokes
// in one session. Safe for a single appender with concurrent readers.
type StrokeSet struct {
	mu      sync.RWMutex
	strokes []Stroke
	nextSeq int64
}

// NewStrokeSet returns an empty stroke record.
func NewStrokeSet() *StrokeSet {
	return &StrokeSet{nextSeq: 1}
}

// Append stamps the stroke with the next sequence number and records
// it. The stamped stroke is returned so callers can apply exactly what
// was stored.
func (ss *StrokeSet) Append(s Stroke) Stroke {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s.Seq = ss.nextSeq
	ss.nextSeq++
	ss.strokes = append(ss.strokes, s)
	return s
}

// Len returns the number of recorded strokes.
func (ss *StrokeSet) Len() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.strokes)
}

// Strokes returns a copy of the recorded strokes in sequence order.
func (ss *StrokeSet) Strokes() []Stroke {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	out := make([]Stroke, len(ss.strokes))
	copy(out, ss.strokes)
	return out
}
