// Package report renders a per-session HTML score report. The report
// is a convenience artifact written next to the durable record files;
// failing to render one never fails a session.
package report

import (
	"fmt"
	"io"
	"math"

	"github.com/contour-quest/contour.quest/internal/scoring"
	"github.com/contour-quest/contour.quest/internal/session"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WriteSessionReport renders the score charts for one finalized
// session to w as a standalone HTML page.
func WriteSessionReport(w io.Writer, rec *session.FinalRecord) error {
	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("Contouring score: %s / %s", rec.UserID, rec.RegionID)
	page.AddCharts(overlapChart(rec), compositeChart(rec))
	return page.Render(w)
}

// overlapChart shows Dice and Jaccard per label, the metrics trainees
// compare attempt to attempt.
func overlapChart(rec *session.FinalRecord) components.Charter {
	var labels []string
	var dice, jaccard []opts.BarData
	for _, ls := range rec.Score.PerLabel {
		labels = append(labels, ls.Name)
		dice = append(dice, opts.BarData{Value: round3(ls.Dice)})
		jaccard = append(jaccard, opts.BarData{Value: round3(ls.Jaccard)})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: "Overlap per label",
			Subtitle: fmt.Sprintf("%s on %s, %s (%.0fs used), aggregate %.3f",
				rec.UserID, rec.RegionID, rec.Outcome,
				rec.DurationUsed.Seconds(), rec.Score.Aggregate),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)
	bar.SetXAxis(labels).
		AddSeries("dice", dice,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		).
		AddSeries("jaccard", jaccard)
	return bar
}

// compositeChart breaks the weighted total into its terms so a low
// score points at what to practice.
func compositeChart(rec *session.FinalRecord) components.Charter {
	var labels []string
	var axial, vol, total []opts.BarData
	for _, ls := range rec.Score.PerLabel {
		labels = append(labels, ls.Name)
		axial = append(axial, opts.BarData{Value: round3(ls.AxialSmoothness)})
		vol = append(vol, opts.BarData{Value: round3(ls.VolumeSmoothness)})
		total = append(total, opts.BarData{Value: round3(ls.WeightedTotal)})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: "Composite score per label",
			Subtitle: fmt.Sprintf("weights: dice %.1f, axial %.1f, volume %.1f",
				scoring.WeightDice, scoring.WeightAxialSmoothness, scoring.WeightVolumeSmoothness),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)
	bar.SetXAxis(labels).
		AddSeries("axial smoothness", axial).
		AddSeries("volume smoothness", vol).
		AddSeries("weighted total", total,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

func round3(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Round(v*1000) / 1000
}
