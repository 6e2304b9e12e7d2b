package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/contour-quest/contour.quest/internal/labelset"
	"github.com/contour-quest/contour.quest/internal/raster"
	"github.com/contour-quest/contour.quest/internal/record"
	"github.com/contour-quest/contour.quest/internal/session"
	"github.com/contour-quest/contour.quest/internal/version"
)

// maxBodyBytes caps request bodies. Strokes are small; anything near
// this limit is a client bug.
const maxBodyBytes = 1 << 20

type startRequest struct {
	User   string `json:"user"`
	Region string `json:"region"`
}

type sessionView struct {
	SessionID    string           `json:"session_id"`
	User         string           `json:"user"`
	Region       string           `json:"region"`
	State        session.State    `json:"state"`
	StartedAt    time.Time        `json:"started_at"`
	Deadline     time.Time        `json:"deadline"`
	RemainingSec float64          `json:"remaining_sec"`
	StrokeCount  int              `json:"stroke_count"`
	Shape        [3]int           `json:"shape"`
	Labels       []labelset.Label `json:"labels"`
	Result       *resultView      `json:"result,omitempty"`
}

type resultView struct {
	Outcome         session.Outcome    `json:"outcome"`
	Aggregate       float64            `json:"aggregate"`
	WeightedOverall float64            `json:"weighted_overall"`
	Labels          []record.LabelView `json:"labels"`
	Unsaved         bool               `json:"unsaved,omitempty"`
}

func (s *Server) sessionView(sn *session.Session) sessionView {
	g := sn.Geometry()
	v := sessionView{
		SessionID:    sn.ID,
		User:         sn.UserID,
		Region:       sn.RegionID,
		State:        sn.State(),
		StartedAt:    sn.StartedAt(),
		Deadline:     sn.Deadline(),
		RemainingSec: sn.Remaining().Seconds(),
		StrokeCount:  sn.StrokeCount(),
		Shape:        [3]int{g.Shape.X, g.Shape.Y, g.Shape.Z},
		Labels:       sn.Labels().Labels,
	}
	if res, ok := sn.Result(); ok {
		v.Result = &resultView{
			Outcome:         res.Outcome,
			Aggregate:       res.Score.Aggregate,
			WeightedOverall: res.Score.WeightedOverall,
			Labels:          record.LabelViews(res.Score.PerLabel),
			Unsaved:         res.Unsaved,
		}
	}
	return v
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.User == "" || req.Region == "" {
		s.writeJSONError(w, http.StatusBadRequest, "user and region are required")
		return
	}

	sn, err := s.sessions.Start(req.User, req.Region)
	if err != nil {
		s.sessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, s.sessionView(sn))
}

func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	sn, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.sessionView(sn))
}

func (s *Server) addStroke(w http.ResponseWriter, r *http.Request) {
	sn, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var stroke raster.Stroke
	if err := decodeJSON(r, &stroke); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	var err error
	switch stroke.Op {
	case raster.OpErase:
		err = sn.EraseStroke(stroke)
	case raster.OpAdd, "":
		err = sn.AddStroke(stroke)
	default:
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown stroke op %q", stroke.Op))
		return
	}
	if err != nil {
		s.sessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"stroke_count":  sn.StrokeCount(),
		"remaining_sec": sn.Remaining().Seconds(),
	})
}

func (s *Server) submitSession(w http.ResponseWriter, r *http.Request) {
	sn, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if err := sn.Submit(); err != nil {
		s.sessionError(w, err)
		return
	}

	// Finalization is off the interactive path but short; wait briefly
	// so the common case returns the score in one round trip.
	select {
	case <-sn.Done():
		s.writeJSON(w, http.StatusOK, s.sessionView(sn))
	case <-time.After(30 * time.Second):
		s.writeJSON(w, http.StatusAccepted, s.sessionView(sn))
	}
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	recs, err := s.db.RecentRecords(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("failed to list records: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, recs)
}

func (s *Server) showRecord(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.db.GetRecord(id)
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no record %q", id))
		return
	}
	labels, err := s.db.LabelScores(id)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("failed to load label scores: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"record": rec,
		"labels": record.LabelViews(labels),
	})
}

// regionView is the client-facing region catalogue entry; file paths
// stay server side.
type regionView struct {
	Region       string `json:"region"`
	TimeLimitSec int    `json:"time_limit_sec"`
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	regions := make([]regionView, 0, len(s.cfg.Regions))
	for id, region := range s.cfg.Regions {
		regions = append(regions, regionView{
			Region:       id,
			TimeLimitSec: int(region.TimeLimit() / time.Second),
		})
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Region < regions[j].Region })

	s.writeJSON(w, http.StatusOK, map[string]any{
		"version": version.String(),
		"year":    s.cfg.Year,
		"regions": regions,
	})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
