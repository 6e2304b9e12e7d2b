// Command rescore audits the records directory against the score
// database. It re-reads each persisted drawn mask, recomputes its score
// against today's ground truth, and reports rows that drifted, rows
// whose files are missing, and mask files no row points at.
//
// The tool is read-only: drift is reported, never rewritten. Scores
// were shown to trainees at session time; silently changing them would
// make the leaderboard lie.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/contour-quest/contour.quest/internal/config"
	"github.com/contour-quest/contour.quest/internal/fsutil"
	"github.com/contour-quest/contour.quest/internal/labelset"
	"github.com/contour-quest/contour.quest/internal/nifti"
	"github.com/contour-quest/contour.quest/internal/scoring"
	"github.com/contour-quest/contour.quest/internal/security"
	"github.com/contour-quest/contour.quest/internal/store"
)

var (
	configPath = flag.String("config", "config.json", "Path to the region configuration file")
	tolerance  = flag.Float64("tolerance", 1e-6, "Aggregate drift beyond which a record is flagged")
	verbose    = flag.Bool("v", false, "Print every record, not only problems")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open score database: %v", err)
	}
	defer db.Close()

	problems := 0
	problems += auditRecords(cfg, db)
	problems += auditDanglingFiles(cfg, db)

	if problems > 0 {
		fmt.Printf("%d problem(s) found\n", problems)
		os.Exit(1)
	}
	fmt.Println("records and database are consistent")
}

// auditRecords recomputes the score of every stored record from its
// persisted mask.
func auditRecords(cfg *config.Config, db *store.DB) int {
	recs, err := db.RecentRecords(0)
	if err != nil {
		log.Fatalf("Failed to list records: %v", err)
	}

	loader := labelset.NewLoader()
	problems := 0
	for _, rec := range recs {
		// Paths are read back out of the database; refuse any row that
		// points outside the records tree.
		if err := security.ValidatePathWithinDirectory(rec.MaskPath, cfg.RecordsDir); err != nil {
			fmt.Printf("UNSAFE   %s: %v\n", rec.RecordID, err)
			problems++
			continue
		}
		if _, err := os.Stat(rec.MaskPath); err != nil {
			fmt.Printf("MISSING  %s: mask file %s is gone\n", rec.RecordID, rec.MaskPath)
			problems++
			continue
		}
		if _, err := os.Stat(rec.DetailPath); err != nil {
			fmt.Printf("MISSING  %s: detail file %s is gone\n", rec.RecordID, rec.DetailPath)
			problems++
		}

		region, err := cfg.Region(rec.RegionID)
		if err != nil {
			fmt.Printf("ORPHAN   %s: region %q no longer configured\n", rec.RecordID, rec.RegionID)
			problems++
			continue
		}

		mask, err := nifti.ReadLabelVolume(rec.MaskPath)
		if err != nil {
			fmt.Printf("BROKEN   %s: %v\n", rec.RecordID, err)
			problems++
			continue
		}
		gt, err := loader.Load(region.GTLabel, mask.Geom)
		if err != nil {
			fmt.Printf("BROKEN   %s: ground truth: %v\n", rec.RecordID, err)
			problems++
			continue
		}

		fresh := scoring.Score(mask, gt.Mask, gt.Labels)
		drift := math.Abs(fresh.Aggregate - rec.Aggregate)
		switch {
		case drift > *tolerance:
			fmt.Printf("DRIFT    %s: stored aggregate %.6f, recomputed %.6f (ground truth changed?)\n",
				rec.RecordID, rec.Aggregate, fresh.Aggregate)
			problems++
		case *verbose:
			fmt.Printf("OK       %s: aggregate %.6f\n", rec.RecordID, rec.Aggregate)
		}
	}
	return problems
}

// auditDanglingFiles finds mask artifacts no database row points at,
// the footprint of a finalization that died between file write and row
// insert.
func auditDanglingFiles(cfg *config.Config, db *store.DB) int {
	recorded, err := db.RecordedMaskPaths()
	if err != nil {
		log.Fatalf("Failed to list recorded mask paths: %v", err)
	}

	names, err := fsutil.OSFileSystem{}.List(cfg.RecordsDir)
	if err != nil {
		log.Fatalf("Failed to list records directory: %v", err)
	}

	problems := 0
	for _, name := range names {
		if !strings.HasSuffix(name, ".nii.gz") {
			continue
		}
		path := filepath.Join(cfg.RecordsDir, name)
		if !recorded[path] {
			fmt.Printf("DANGLING %s: mask file has no database row\n", path)
			problems++
		}
	}
	return problems
}
