package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

const (
	maxBarLabelLength = 30
	maxNumericLabelLength = 20
	barTopRows = 15
	pieMaxRows = 12
	unsuitableRowThreshold = 50
)

var (
	heatmapMarkers = []string{"heatmap", "heat map", "matrix", "correlation"}
	lineMarkers    = []string{"trend", "over time", "history", "by month", "by year", "by quarter"}
	pieMarkers     = []string{"breakdown", "share", "distribution", "percentage", "proportion"}
)

// Visualizer is stage 8: decide whether a chart is appropriate, pick a
// chart type, and render it to a PNG file. Rendering never fails the
// pipeline — any problem is reported as ReasonIfNone.
type Visualizer struct {
	dir       string
	dpi       float64
	maxPoints int
}

// NewVisualizer builds a visualizer writing PNGs under dir.
func NewVisualizer(dir string, cfg VisualizerConfig) *Visualizer {
	dpi := float64(cfg.DPI)
	if dpi <= 0 {
		dpi = 150
	}
	maxPoints := cfg.MaxPoints
	if maxPoints <= 0 {
		maxPoints = barTopRows
	}
	return &Visualizer{dir: dir, dpi: dpi, maxPoints: maxPoints}
}

// Visualize runs the suitability check, picks a chart kind, and renders it.
func (v *Visualizer) Visualize(question *UserQuestion, results *QueryResults) *VisualizationArtifact {
	numericCol := -1
	for i, t := range results.ColumnTypes {
		if t == ColumnTypeInteger || t == ColumnTypeDecimal {
			numericCol = i
			break
		}
	}

	if results.RowCount < 2 {
		return &VisualizationArtifact{ChartKind: ChartKindNone, ReasonIfNone: "fewer than two rows"}
	}
	if len(results.ColumnNames) < 2 {
		return &VisualizationArtifact{ChartKind: ChartKindNone, ReasonIfNone: "fewer than two columns"}
	}
	if numericCol < 0 {
		return &VisualizationArtifact{ChartKind: ChartKindNone, ReasonIfNone: "no numeric column present"}
	}

	kind := selectChartKind(question.NormalizedText, results)
	if results.RowCount > unsuitableRowThreshold && kind != ChartKindBar {
		return &VisualizationArtifact{ChartKind: ChartKindNone, ReasonIfNone: "more than 50 rows and the chosen chart type does not summarize well at that size"}
	}

	path, err := v.render(question, results, kind, numericCol)
	if err != nil {
		return &VisualizationArtifact{ChartKind: ChartKindNone, ReasonIfNone: "rendering failed: " + err.Error()}
	}
	return &VisualizationArtifact{PNGPath: path, ChartKind: kind}
}

// selectChartKind applies the four ordered rules; the first match wins.
func selectChartKind(question string, results *QueryResults) ChartKind {
	q := strings.ToLower(question)

	if containsAny(q, heatmapMarkers) || countsForHeatmap(results) {
		return ChartKindHeatmap
	}

	for _, t := range results.ColumnTypes {
		if t == ColumnTypeDate || t == ColumnTypeDateTime {
			return ChartKindLine
		}
	}
	if containsAny(q, lineMarkers) {
		return ChartKindLine
	}

	if containsAny(q, pieMarkers) && results.RowCount <= pieMaxRows {
		return ChartKindPie
	}

	return ChartKindBar
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// countsForHeatmap implements the "≥ 3 columns with two categorical and one
// numeric" cross-tabulation trigger.
func countsForHeatmap(results *QueryResults) bool {
	if len(results.ColumnTypes) < 3 {
		return false
	}
	categorical, numeric := 0, 0
	for _, t := range results.ColumnTypes {
		switch t {
		case ColumnTypeInteger, ColumnTypeDecimal:
			numeric++
		case ColumnTypeText, ColumnTypeOther, ColumnTypeBoolean:
			categorical++
		}
	}
	return categorical >= 2 && numeric >= 1
}

func (v *Visualizer) render(question *UserQuestion, results *QueryResults, kind ChartKind, numericCol int) (string, error) {
	if err := os.MkdirAll(v.dir, 0o755); err != nil {
		return "", err
	}

	labelCol := 0
	if labelCol == numericCol && len(results.ColumnNames) > 1 {
		labelCol = 1
	}

	rows := results.Rows
	if (kind == ChartKindBar || kind == ChartKindPie) && len(rows) > v.maxPoints {
		limit := v.maxPoints
		if kind == ChartKindBar && limit > barTopRows {
			limit = barTopRows
		}
		rows = rows[:limit]
	}

	labels := make([]string, 0, len(rows))
	values := make([]float64, 0, len(rows))
	for _, row := range rows {
		labels = append(labels, truncateLabel(fmt.Sprintf("%v", row[labelCol]), maxBarLabelLength))
		f, _ := toFloat(row[numericCol])
		values = append(values, f)
	}

	var renderErr error
	stamp := question.ReceivedAt.UTC().Format("20060102_150405")
	path := filepath.Join(v.dir, fmt.Sprintf("chart_%s.png", stamp))

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	switch kind {
	case ChartKindPie:
		renderErr = renderPie(f, labels, values, v.dpi)
	case ChartKindLine:
		renderErr = renderLine(f, labels, values, v.dpi)
	case ChartKindHeatmap:
		// go-chart has no native heatmap; the cross-tabulation is drawn as
		// a plain bar chart of the numeric column, which is the closest this
		// library gets without a bespoke grid renderer.
		renderErr = renderBar(f, labels, values, v.dpi)
	default:
		renderErr = renderBar(f, labels, values, v.dpi)
	}

	if renderErr != nil {
		os.Remove(path)
		return "", renderErr
	}
	return path, nil
}

func truncateLabel(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func renderBar(w *os.File, labels []string, values []float64, dpi float64) error {
	bars := make([]chart.Value, len(values))
	for i := range values {
		bars[i] = chart.Value{Label: truncateNumericLabel(labels[i]), Value: values[i]}
	}
	graph := chart.BarChart{
		Height:   512,
		DPI:      dpi,
		Bars:     bars,
		BarWidth: 30,
	}
	return graph.Render(chart.PNG, w)
}

func renderLine(w *os.File, labels []string, values []float64, dpi float64) error {
	xvalues := make([]float64, len(values))
	for i := range values {
		xvalues[i] = float64(i)
	}
	graph := chart.Chart{
		DPI: dpi,
		XAxis: chart.XAxis{
			ValueFormatter: func(v interface{}) string {
				if idx, ok := v.(float64); ok && int(idx) >= 0 && int(idx) < len(labels) {
					return labels[int(idx)]
				}
				return ""
			},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{XValues: xvalues, YValues: values},
		},
	}
	return graph.Render(chart.PNG, w)
}

func renderPie(w *os.File, labels []string, values []float64, dpi float64) error {
	vals := make([]chart.Value, len(values))
	palette := []drawing.Color{chart.ColorBlue, chart.ColorGreen, chart.ColorRed, chart.ColorOrange, chart.ColorYellow}
	for i := range values {
		vals[i] = chart.Value{Label: labels[i], Value: values[i], Style: chart.Style{FillColor: palette[i%len(palette)]}}
	}
	graph := chart.PieChart{Height: 512, Width: 512, DPI: dpi, Values: vals}
	return graph.Render(chart.PNG, w)
}

func truncateNumericLabel(s string) string {
	return truncateLabel(s, maxNumericLabelLength)
}
