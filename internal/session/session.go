// Package session governs the lifecycle of one contouring attempt:
// countdown, stroke accumulation, forced termination, finalization.
//
// The state machine is Idle → Drawing → (TimedOut | Submitted) →
// Finalized. There is no path back into Drawing: an expired or
// submitted session cannot resume, which is what makes the time limit
// enforceable rather than advisory.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/contour-quest/contour.quest/internal/geom"
	"github.com/contour-quest/contour.quest/internal/labelset"
	"github.com/contour-quest/contour.quest/internal/monitoring"
	"github.com/contour-quest/contour.quest/internal/raster"
	"github.com/contour-quest/contour.quest/internal/scoring"
	"github.com/contour-quest/contour.quest/internal/timeutil"
	"github.com/contour-quest/contour.quest/internal/volume"
	"github.com/google/uuid"
)

// State of a session.
type State string

const (
	StateIdle      State = "idle"
	StateDrawing   State = "drawing"
	StateTimedOut  State = "timed_out"
	StateSubmitted State = "submitted"
	StateFinalized State = "finalized"
)

// Outcome says how drawing ended.
type Outcome string

const (
	OutcomeSubmitted Outcome = "submitted"
	OutcomeTimedOut  Outcome = "timed_out"
)

var (
	// ErrExpiredSession rejects stroke mutations at or past the
	// deadline. Expected terminal signal, not an application error.
	ErrExpiredSession = errors.New("session expired")

	// ErrSessionState rejects operations invalid in the current state.
	ErrSessionState = errors.New("invalid session state")
)

// FinalRecord is the immutable bundle handed to the persister once a
// session finishes: ownership of the mask and strokes transfers here
// and nothing mutates them afterwards.
type FinalRecord struct {
	SessionID    string
	UserID       string
	RegionID     string
	StartedAt    time.Time
	FinishedAt   time.Time
	TimeLimit    time.Duration
	DurationUsed time.Duration
	Outcome      Outcome
	Mask         *volume.LabelVolume
	Strokes      []raster.Stroke
	Labels       *labelset.LabelSet
	Score        scoring.Result
}

// Persister makes a FinalRecord durable. Implementations retry
// internally; an error here marks the result unsaved but does not
// discard it.
type Persister interface {
	Persist(rec *FinalRecord) error
}

// Result is what a finalized session surfaces to the trainee.
type Result struct {
	Outcome Outcome        `json:"outcome"`
	Score   scoring.Result `json:"score"`

	// Unsaved is set when persistence failed after retries: the score
	// still stands but is not in durable storage.
	Unsaved bool `json:"unsaved,omitempty"`
}

// Config binds one session to its resolved inputs. All loading happens
// before a Session exists; construction cannot fail on I/O.
type Config struct {
	UserID      string
	RegionID    string
	CT          *volume.Volume
	GroundTruth *labelset.GroundTruth
	TimeLimit   time.Duration
	Clock       timeutil.Clock
	Persister   Persister
}

// Session is one contouring attempt. Safe for concurrent use: the
// capture surface, the deadline timer and result readers may all call
// in simultaneously.
type Session struct {
	ID       string
	UserID   string
	RegionID string

	clock     timeutil.Clock
	persister Persister

	mu        sync.Mutex
	state     State
	ct        *volume.Volume
	gt        *labelset.GroundTruth
	strokes   *raster.StrokeSet
	mask      *volume.LabelVolume
	startTime time.Time
	deadline  time.Time
	endTime   time.Time
	timer     timeutil.Timer
	result    *Result

	done chan struct{}
}

// Start creates a session and begins the countdown. The deadline timer
// runs independently of stroke traffic so an idle trainee's session
// still expires.
func Start(cfg Config) (*Session, error) {
	if cfg.CT == nil || cfg.GroundTruth == nil {
		return nil, fmt.Errorf("%w: session requires a CT volume and ground truth", ErrSessionState)
	}
	if cfg.TimeLimit <= 0 {
		return nil, fmt.Errorf("%w: non-positive time limit", ErrSessionState)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	now := clock.Now()
	s := &Session{
		ID:        uuid.New().String(),
		UserID:    cfg.UserID,
		RegionID:  cfg.RegionID,
		clock:     clock,
		persister: cfg.Persister,
		state:     StateDrawing,
		ct:        cfg.CT,
		gt:        cfg.GroundTruth,
		strokes:   raster.NewStrokeSet(),
		mask:      volume.NewLabelVolume(cfg.CT.Geom),
		startTime: now,
		deadline:  now.Add(cfg.TimeLimit),
		done:      make(chan struct{}),
	}

	s.timer = clock.NewTimer(cfg.TimeLimit)
	go s.watchDeadline()
	return s, nil
}

func (s *Session) watchDeadline() {
	select {
	case <-s.timer.C():
		s.Expire()
	case <-s.done:
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Deadline returns the moment mutations stop being accepted.
func (s *Session) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// StrokeCount returns the number of accepted strokes.
func (s *Session) StrokeCount() int {
	return s.strokes.Len()
}

// Geometry returns the voxel grid the session draws into.
func (s *Session) Geometry() geom.Geometry {
	return s.ct.Geom
}

// Labels returns the label set the session is scored against.
func (s *Session) Labels() *labelset.LabelSet {
	return s.gt.Labels
}

// StartedAt returns the session start time.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startTime
}

// Remaining returns the drawing time left, floored at zero.
func (s *Session) Remaining() time.Duration {
	s.mu.Lock()
	deadline := s.deadline
	s.mu.Unlock()
	if d := deadline.Sub(s.clock.Now()); d > 0 {
		return d
	}
	return 0
}

// AddStroke paints a stroke. The stroke's Op is forced to add.
func (s *Session) AddStroke(stroke raster.Stroke) error {
	stroke.Op = raster.OpAdd
	return s.applyStroke(stroke)
}

// EraseStroke erases with a stroke. The stroke's Op is forced to erase.
func (s *Session) EraseStroke(stroke raster.Stroke) error {
	stroke.Op = raster.OpErase
	return s.applyStroke(stroke)
}

// applyStroke validates, records and rasterizes one stroke atomically.
// A rejected stroke leaves both the stroke record and the working mask
// untouched.
func (s *Session) applyStroke(stroke raster.Stroke) error {
	s.mu.Lock()
	if state := s.state; state != StateDrawing {
		s.mu.Unlock()
		if state == StateTimedOut {
			return ErrExpiredSession
		}
		return fmt.Errorf("%w: %s", ErrSessionState, state)
	}
	// Opportunistic deadline check; the timer covers the idle case.
	if !s.clock.Now().Before(s.deadline) {
		s.mu.Unlock()
		s.Expire()
		return ErrExpiredSession
	}

	// Validate against a throwaway error before touching state; Apply
	// itself is atomic but a failed stroke must not enter the record.
	if err := stroke.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	if stroke.Slice < 0 || stroke.Slice >= s.mask.Geom.Shape.Z {
		s.mu.Unlock()
		return fmt.Errorf("slice index %d out of range [0,%d)", stroke.Slice, s.mask.Geom.Shape.Z)
	}

	stroke.Time = s.clock.Now()
	stamped := s.strokes.Append(stroke)
	err := raster.Apply(s.mask, stamped)
	s.mu.Unlock()
	if err != nil {
		// Unreachable after the checks above; logged loudly because it
		// would mean record and mask have diverged.
		monitoring.Logf("session %s: stroke %d failed after validation: %v", s.ID, stamped.Seq, err)
	}
	return err
}

// Submit finishes drawing early. Idempotent errors: submitting a
// session that already left Drawing reports the terminal signal.
func (s *Session) Submit() error {
	return s.finish(StateSubmitted, OutcomeSubmitted)
}

// Expire forces the timeout transition. Called by the deadline timer
// and opportunistically on stroke traffic; only the first call wins.
func (s *Session) Expire() {
	_ = s.finish(StateTimedOut, OutcomeTimedOut)
}

func (s *Session) finish(next State, outcome Outcome) error {
	s.mu.Lock()
	if state := s.state; state != StateDrawing {
		s.mu.Unlock()
		if next == StateSubmitted && state == StateTimedOut {
			return ErrExpiredSession
		}
		return fmt.Errorf("%w: %s", ErrSessionState, state)
	}
	s.state = next
	s.endTime = s.clock.Now()
	if s.endTime.After(s.deadline) {
		s.endTime = s.deadline
	}
	timer := s.timer
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}

	// Scoring and persistence are CPU/IO bound; they run off the
	// interactive path. The single Drawing→(next) transition above
	// guarantees at most one finalization per session.
	go s.finalize(outcome)
	return nil
}

// finalize scores the mask and persists the record, then marks the
// session Finalized. Runs exactly once per session.
func (s *Session) finalize(outcome Outcome) {
	s.mu.Lock()
	mask := s.mask
	gt := s.gt
	started := s.startTime
	ended := s.endTime
	deadline := s.deadline
	strokes := s.strokes.Strokes()
	s.mu.Unlock()

	score := scoring.Score(mask, gt.Mask, gt.Labels)

	rec := &FinalRecord{
		SessionID:    s.ID,
		UserID:       s.UserID,
		RegionID:     s.RegionID,
		StartedAt:    started,
		FinishedAt:   ended,
		TimeLimit:    deadline.Sub(started),
		DurationUsed: ended.Sub(started),
		Outcome:      outcome,
		Mask:         mask,
		Strokes:      strokes,
		Labels:       gt.Labels,
		Score:        score,
	}

	res := &Result{Outcome: outcome, Score: score}
	if s.persister != nil {
		if err := s.persister.Persist(rec); err != nil {
			// The score must still reach the trainee even when durable
			// storage failed; it is flagged so the operator can
			// re-persist from the session log.
			monitoring.Logf("session %s: persistence failed, score kept in memory: %v", s.ID, err)
			res.Unsaved = true
		}
	}

	s.mu.Lock()
	s.state = StateFinalized
	s.result = res
	s.mu.Unlock()
	close(s.done)
}

// Done closes once the session is finalized and its result readable.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Result returns the finalized result, or false while scoring and
// persistence are still in flight.
func (s *Session) Result() (*Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return nil, false
	}
	return s.result, true
}
