// Package record makes finalized sessions durable. Each session leaves
// four artifacts: the drawn mask as NIfTI, a JSON score detail, a row
// in the SQLite store and a line in the host-tagged tabular score log,
// plus a best-effort HTML report. Artifacts are written in that order
// so a record row never points at files that do not exist.
package record

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/contour-quest/contour.quest/internal/fsutil"
	"github.com/contour-quest/contour.quest/internal/monitoring"
	"github.com/contour-quest/contour.quest/internal/nifti"
	"github.com/contour-quest/contour.quest/internal/raster"
	"github.com/contour-quest/contour.quest/internal/report"
	"github.com/contour-quest/contour.quest/internal/scoring"
	"github.com/contour-quest/contour.quest/internal/security"
	"github.com/contour-quest/contour.quest/internal/session"
	"github.com/contour-quest/contour.quest/internal/store"
)

// ErrPersistence wraps every failure to make a record durable. Callers
// treat it as "score stands, storage did not".
var ErrPersistence = errors.New("record persistence failed")

// writeAttempts bounds retries per artifact before giving up.
const writeAttempts = 3

// Writer persists finalized sessions. It implements session.Persister.
type Writer struct {
	fs   fsutil.FileSystem
	db   *store.DB
	dir  string
	year int
	host string

	// RetryDelay separates attempts on a failed write. Tests set zero.
	RetryDelay time.Duration

	// csvMu serializes score-log appends across concurrent
	// finalizations; the log is a single shared file.
	csvMu sync.Mutex
}

// NewWriter builds a record writer rooted at dir. The score log is
// tagged with the machine's hostname so logs collected from several
// workstations never collide.
func NewWriter(fs fsutil.FileSystem, db *store.DB, dir string, year int) (*Writer, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating records dir: %v", ErrPersistence, err)
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Writer{
		fs:         fs,
		db:         db,
		dir:        dir,
		year:       year,
		host:       sanitizeHost(host),
		RetryDelay: 250 * time.Millisecond,
	}, nil
}

// sanitizeHost reduces a hostname to a filename-safe tag.
func sanitizeHost(h string) string {
	return security.SanitizeFilename(strings.ToLower(strings.TrimSpace(h)))
}

// BaseName returns the unique artifact stem for a session. The region
// ID comes out of an operator-edited config file, so it is sanitized
// before being embedded in a filename.
func BaseName(regionID, sessionID string) string {
	return fmt.Sprintf("%s_%s", security.SanitizeFilename(regionID), security.SanitizeFilename(sessionID))
}

// ScoreLogPath returns the path of the shared tabular score log.
func (w *Writer) ScoreLogPath() string {
	return filepath.Join(w.dir, fmt.Sprintf("CQ_%d_%s.csv", w.year, w.host))
}

// Persist writes all artifacts for one finalized session. Mask and
// detail files are created exclusively and never overwritten; the HTML
// report is best effort and cannot fail the record.
func (w *Writer) Persist(rec *session.FinalRecord) error {
	base := BaseName(rec.RegionID, rec.SessionID)
	maskPath := filepath.Join(w.dir, base+".nii.gz")
	detailPath := filepath.Join(w.dir, base+".json")

	if err := w.retry(func() error { return w.writeMask(maskPath, rec) }); err != nil {
		return fmt.Errorf("%w: mask %s: %v", ErrPersistence, maskPath, err)
	}
	if err := w.retry(func() error { return w.writeDetail(detailPath, rec) }); err != nil {
		return fmt.Errorf("%w: detail %s: %v", ErrPersistence, detailPath, err)
	}

	row := store.Record{
		RecordID:        rec.SessionID,
		UserID:          rec.UserID,
		RegionID:        rec.RegionID,
		StartedAt:       rec.StartedAt,
		FinishedAt:      rec.FinishedAt,
		DurationUsedSec: rec.DurationUsed.Seconds(),
		Outcome:         string(rec.Outcome),
		Aggregate:       rec.Score.Aggregate,
		WeightedOverall: rec.Score.WeightedOverall,
		MaskPath:        maskPath,
		DetailPath:      detailPath,
	}
	if err := w.retry(func() error { return w.db.InsertRecord(row, rec.Score.PerLabel) }); err != nil {
		return fmt.Errorf("%w: database row %s: %v", ErrPersistence, rec.SessionID, err)
	}

	if err := w.retry(func() error { return w.appendScoreLog(rec) }); err != nil {
		return fmt.Errorf("%w: score log: %v", ErrPersistence, err)
	}

	if err := w.writeReport(filepath.Join(w.dir, base+".html"), rec); err != nil {
		monitoring.Logf("record %s: report render failed (record is durable): %v", rec.SessionID, err)
	}
	return nil
}

func (w *Writer) retry(fn func() error) error {
	var err error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt < writeAttempts && w.RetryDelay > 0 {
			time.Sleep(w.RetryDelay)
		}
	}
	return err
}

func (w *Writer) writeMask(path string, rec *session.FinalRecord) error {
	f, err := w.fs.CreateNew(path)
	if err != nil {
		return err
	}
	if err := nifti.EncodeLabelVolume(f, rec.Mask); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LabelView renders one label's metrics with the NaN sentinel spelled
// out, so the JSON is valid and downstream parsers see "n/a" rather
// than a missing key. The API uses the same rendering.
type LabelView struct {
	scoring.LabelScore
	VolumeErrorPct string `json:"volume_error_pct"`
}

// LabelViews converts raw label scores to their JSON rendering.
func LabelViews(labels []scoring.LabelScore) []LabelView {
	out := make([]LabelView, 0, len(labels))
	for _, ls := range labels {
		out = append(out, LabelView{
			LabelScore:     ls,
			VolumeErrorPct: formatVolumeError(ls.VolumeErrorPct),
		})
	}
	return out
}

type detail struct {
	SessionID       string          `json:"session_id"`
	UserID          string          `json:"user_id"`
	RegionID        string          `json:"region_id"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
	TimeLimitSec    float64         `json:"time_limit_sec"`
	DurationUsedSec float64         `json:"duration_used_sec"`
	Outcome         session.Outcome `json:"outcome"`
	Aggregate       float64         `json:"aggregate"`
	WeightedOverall float64         `json:"weighted_overall"`
	Labels          []LabelView     `json:"labels"`
	Strokes         []raster.Stroke `json:"strokes"`
}

func (w *Writer) writeDetail(path string, rec *session.FinalRecord) error {
	d := detail{
		SessionID:       rec.SessionID,
		UserID:          rec.UserID,
		RegionID:        rec.RegionID,
		StartedAt:       rec.StartedAt,
		FinishedAt:      rec.FinishedAt,
		TimeLimitSec:    rec.TimeLimit.Seconds(),
		DurationUsedSec: rec.DurationUsed.Seconds(),
		Outcome:         rec.Outcome,
		Aggregate:       rec.Score.Aggregate,
		WeightedOverall: rec.Score.WeightedOverall,
		Strokes:         rec.Strokes,
		Labels:          LabelViews(rec.Score.PerLabel),
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	f, err := w.fs.CreateNew(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatVolumeError(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// scoreLogHeader is written once when the host's log file is first
// created. The leaderboard collator matches columns by this header.
var scoreLogHeader = []string{
	"finished_at", "user", "region", "session", "outcome",
	"duration_sec", "aggregate", "weighted_overall",
}

func (w *Writer) appendScoreLog(rec *session.FinalRecord) error {
	w.csvMu.Lock()
	defer w.csvMu.Unlock()

	path := w.ScoreLogPath()
	writeHeader := !w.fs.Exists(path)

	f, err := w.fs.Append(path)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(f)
	if writeHeader {
		if err := cw.Write(scoreLogHeader); err != nil {
			f.Close()
			return err
		}
	}
	row := []string{
		rec.FinishedAt.UTC().Format(time.RFC3339),
		rec.UserID,
		rec.RegionID,
		rec.SessionID,
		string(rec.Outcome),
		strconv.FormatFloat(rec.DurationUsed.Seconds(), 'f', 1, 64),
		strconv.FormatFloat(rec.Score.Aggregate, 'f', 4, 64),
		strconv.FormatFloat(rec.Score.WeightedOverall, 'f', 4, 64),
	}
	if err := cw.Write(row); err != nil {
		f.Close()
		return err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (w *Writer) writeReport(path string, rec *session.FinalRecord) error {
	f, err := w.fs.CreateNew(path)
	if err != nil {
		return err
	}
	if err := report.WriteSessionReport(f, rec); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
