package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/contour-quest/contour.quest/internal/scoring"
	"github.com/contour-quest/contour.quest/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSessionReport(t *testing.T) {
	rec := &session.FinalRecord{
		SessionID:    "abc",
		UserID:       "resident1",
		RegionID:     "c_spine",
		DurationUsed: 42 * time.Second,
		Outcome:      session.OutcomeSubmitted,
		StartedAt:    time.Unix(1000, 0),
		Score: scoring.Result{
			PerLabel: []scoring.LabelScore{
				{Name: "cord", LabelID: 1, Dice: 0.91, Jaccard: 0.83, AxialSmoothness: 0.8, VolumeSmoothness: 0.7, WeightedTotal: 0.85, Present: true},
				{Name: "esophagus", LabelID: 2, Dice: 0.62, Jaccard: 0.45, AxialSmoothness: 0.5, VolumeSmoothness: 0.6, WeightedTotal: 0.59, Present: true},
			},
			Aggregate:       0.765,
			WeightedOverall: 0.72,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteSessionReport(&buf, rec))

	html := buf.String()
	assert.Contains(t, html, "cord")
	assert.Contains(t, html, "esophagus")
	assert.Contains(t, html, "Overlap per label")
	assert.Contains(t, html, "Composite score per label")
}
