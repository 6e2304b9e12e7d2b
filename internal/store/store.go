// Package store persists finalized score records to SQLite. The store
// is the queryable index over the per-session artifacts on disk; the
// leaderboard collator and the reconciliation tool both read it.
package store

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/contour-quest/contour.quest/internal/scoring"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle with the record schema.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the score database and runs any
// pending migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; finalizations from concurrent sessions
	// serialize here rather than erroring.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{sqlDB}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Record is one finalized session as stored in the records table.
type Record struct {
	RecordID        string    `json:"record_id"`
	UserID          string    `json:"user_id"`
	RegionID        string    `json:"region_id"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	DurationUsedSec float64   `json:"duration_used_sec"`
	Outcome         string    `json:"outcome"`
	Aggregate       float64   `json:"aggregate"`
	WeightedOverall float64   `json:"weighted_overall"`
	MaskPath        string    `json:"mask_path"`
	DetailPath      string    `json:"detail_path"`
}

// InsertRecord writes the record row and its per-label score rows in
// one transaction. Undefined volume errors (NaN) are stored as NULL.
func (db *DB) InsertRecord(rec Record, labels []scoring.LabelScore) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO records (
			record_id, user_id, region_id, started_at, finished_at,
			duration_used_sec, outcome, aggregate, weighted_overall,
			mask_path, detail_path
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RecordID, rec.UserID, rec.RegionID, rec.StartedAt, rec.FinishedAt,
		rec.DurationUsedSec, rec.Outcome, rec.Aggregate, rec.WeightedOverall,
		rec.MaskPath, rec.DetailPath,
	)
	if err != nil {
		return fmt.Errorf("failed to insert record %s: %w", rec.RecordID, err)
	}

	for _, ls := range labels {
		volErr := sql.NullFloat64{Float64: ls.VolumeErrorPct, Valid: !math.IsNaN(ls.VolumeErrorPct)}
		surf := sql.NullFloat64{}
		if ls.SurfaceDistanceMM != nil {
			surf = sql.NullFloat64{Float64: *ls.SurfaceDistanceMM, Valid: true}
		}
		_, err = tx.Exec(
			`INSERT INTO label_scores (
				record_id, label_id, name, dice, jaccard, volume_error_pct,
				surface_distance_mm, axial_smoothness, volume_smoothness,
				weighted_total, present
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.RecordID, ls.LabelID, ls.Name, ls.Dice, ls.Jaccard, volErr,
			surf, ls.AxialSmoothness, ls.VolumeSmoothness,
			ls.WeightedTotal, ls.Present,
		)
		if err != nil {
			return fmt.Errorf("failed to insert label score %s/%s: %w", rec.RecordID, ls.Name, err)
		}
	}

	return tx.Commit()
}

// RecentRecords returns up to limit finalized records, newest first.
// A non-positive limit returns everything.
func (db *DB) RecentRecords(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1 // SQLite: LIMIT -1 means no limit
	}
	rows, err := db.Query(
		`SELECT record_id, user_id, region_id, started_at, finished_at,
			duration_used_sec, outcome, aggregate, weighted_overall,
			mask_path, detail_path
		FROM records ORDER BY created_at DESC, record_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(
			&r.RecordID, &r.UserID, &r.RegionID, &r.StartedAt, &r.FinishedAt,
			&r.DurationUsedSec, &r.Outcome, &r.Aggregate, &r.WeightedOverall,
			&r.MaskPath, &r.DetailPath,
		); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// GetRecord fetches one record by ID.
func (db *DB) GetRecord(recordID string) (*Record, error) {
	var r Record
	err := db.QueryRow(
		`SELECT record_id, user_id, region_id, started_at, finished_at,
			duration_used_sec, outcome, aggregate, weighted_overall,
			mask_path, detail_path
		FROM records WHERE record_id = ?`, recordID).Scan(
		&r.RecordID, &r.UserID, &r.RegionID, &r.StartedAt, &r.FinishedAt,
		&r.DurationUsedSec, &r.Outcome, &r.Aggregate, &r.WeightedOverall,
		&r.MaskPath, &r.DetailPath,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// LabelScores returns the per-label rows of one record in insert
// order. NULL volume errors come back as NaN, matching the scoring
// sentinel.
func (db *DB) LabelScores(recordID string) ([]scoring.LabelScore, error) {
	rows, err := db.Query(
		`SELECT label_id, name, dice, jaccard, volume_error_pct,
			surface_distance_mm, axial_smoothness, volume_smoothness,
			weighted_total, present
		FROM label_scores WHERE record_id = ? ORDER BY rowid`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []scoring.LabelScore
	for rows.Next() {
		var ls scoring.LabelScore
		var volErr, surf sql.NullFloat64
		if err := rows.Scan(
			&ls.LabelID, &ls.Name, &ls.Dice, &ls.Jaccard, &volErr,
			&surf, &ls.AxialSmoothness, &ls.VolumeSmoothness,
			&ls.WeightedTotal, &ls.Present,
		); err != nil {
			return nil, err
		}
		if volErr.Valid {
			ls.VolumeErrorPct = volErr.Float64
		} else {
			ls.VolumeErrorPct = math.NaN()
		}
		if surf.Valid {
			v := surf.Float64
			ls.SurfaceDistanceMM = &v
		}
		out = append(out, ls)
	}
	return out, rows.Err()
}

// RecordedMaskPaths returns every mask path referenced by a record
// row. The reconciliation tool compares these against the records
// directory to find artifacts from crashed finalizations.
func (db *DB) RecordedMaskPaths() (map[string]bool, error) {
	rows, err := db.Query(`SELECT mask_path FROM records`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths[p] = true
	}
	return paths, rows.Err()
}
