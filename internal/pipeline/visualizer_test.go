package pipeline

import (
	"os"
	"testing"
	"time"
)

func questionAt(text string, when time.Time) *UserQuestion {
	return &UserQuestion{NormalizedText: text, ReceivedAt: when}
}

func TestVisualizer_TooFewRowsIsUnsuitable(t *testing.T) {
	v := NewVisualizer(t.TempDir(), VisualizerConfig{Enabled: true, DPI: 150, MaxPoints: 15})
	results := &QueryResults{ColumnNames: []string{"a", "b"}, ColumnTypes: []ColumnDataType{ColumnTypeText, ColumnTypeInteger}, Rows: [][]any{{"x", 1}}, RowCount: 1}

	artifact := v.Visualize(questionAt("totals", time.Now()), results)
	if artifact.ChartKind != ChartKindNone {
		t.Fatalf("expected chart_kind=none, got %s", artifact.ChartKind)
	}
	if artifact.ReasonIfNone == "" {
		t.Errorf("expected a reason_if_none")
	}
}

func TestVisualizer_NoNumericColumnIsUnsuitable(t *testing.T) {
	v := NewVisualizer(t.TempDir(), VisualizerConfig{Enabled: true, DPI: 150, MaxPoints: 15})
	results := &QueryResults{
		ColumnNames: []string{"a", "b"},
		ColumnTypes: []ColumnDataType{ColumnTypeText, ColumnTypeText},
		Rows:        [][]any{{"x", "y"}, {"z", "w"}},
		RowCount:    2,
	}
	artifact := v.Visualize(questionAt("totals", time.Now()), results)
	if artifact.ChartKind != ChartKindNone {
		t.Fatalf("expected chart_kind=none, got %s", artifact.ChartKind)
	}
}

func TestVisualizer_PicksBarByDefault(t *testing.T) {
	v := NewVisualizer(t.TempDir(), VisualizerConfig{Enabled: true, DPI: 150, MaxPoints: 15})
	results := &QueryResults{
		ColumnNames: []string{"region", "total"},
		ColumnTypes: []ColumnDataType{ColumnTypeText, ColumnTypeInteger},
		Rows:        [][]any{{"west", 42}, {"east", 17}},
		RowCount:    2,
	}
	artifact := v.Visualize(questionAt("totals by region", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)), results)
	if artifact.ChartKind != ChartKindBar {
		t.Fatalf("expected bar chart, got %s (%s)", artifact.ChartKind, artifact.ReasonIfNone)
	}
	if _, err := os.Stat(artifact.PNGPath); err != nil {
		t.Errorf("expected a PNG file to exist at %s: %v", artifact.PNGPath, err)
	}
}

func TestVisualizer_PicksLineForDateColumn(t *testing.T) {
	v := NewVisualizer(t.TempDir(), VisualizerConfig{Enabled: true, DPI: 150, MaxPoints: 15})
	results := &QueryResults{
		ColumnNames: []string{"month", "total"},
		ColumnTypes: []ColumnDataType{ColumnTypeDate, ColumnTypeInteger},
		Rows:        [][]any{{"2026-01", 10}, {"2026-02", 20}, {"2026-03", 15}},
		RowCount:    3,
	}
	artifact := v.Visualize(questionAt("totals per month", time.Now()), results)
	if artifact.ChartKind != ChartKindLine {
		t.Fatalf("expected line chart for a date column, got %s (%s)", artifact.ChartKind, artifact.ReasonIfNone)
	}
}

func TestVisualizer_PicksPieForBreakdownQuestionUnderRowCap(t *testing.T) {
	v := NewVisualizer(t.TempDir(), VisualizerConfig{Enabled: true, DPI: 150, MaxPoints: 15})
	results := &QueryResults{
		ColumnNames: []string{"region", "share"},
		ColumnTypes: []ColumnDataType{ColumnTypeText, ColumnTypeDecimal},
		Rows:        [][]any{{"west", 0.6}, {"east", 0.4}},
		RowCount:    2,
	}
	artifact := v.Visualize(questionAt("what is the breakdown of sales by region?", time.Now()), results)
	if artifact.ChartKind != ChartKindPie {
		t.Fatalf("expected pie chart, got %s (%s)", artifact.ChartKind, artifact.ReasonIfNone)
	}
}

func TestVisualizer_PicksHeatmapForKeyword(t *testing.T) {
	v := NewVisualizer(t.TempDir(), VisualizerConfig{Enabled: true, DPI: 150, MaxPoints: 15})
	results := &QueryResults{
		ColumnNames: []string{"region", "total"},
		ColumnTypes: []ColumnDataType{ColumnTypeText, ColumnTypeInteger},
		Rows:        [][]any{{"west", 42}, {"east", 17}},
		RowCount:    2,
	}
	artifact := v.Visualize(questionAt("show me a correlation heatmap of sales", time.Now()), results)
	if artifact.ChartKind != ChartKindHeatmap {
		t.Fatalf("expected heatmap chart, got %s (%s)", artifact.ChartKind, artifact.ReasonIfNone)
	}
}

func TestVisualizer_OverFiftyRowsUnsuitableUnlessBar(t *testing.T) {
	v := NewVisualizer(t.TempDir(), VisualizerConfig{Enabled: true, DPI: 150, MaxPoints: 15})
	rows := make([][]any, 60)
	for i := range rows {
		rows[i] = []any{"2026-01", i}
	}
	results := &QueryResults{
		ColumnNames: []string{"month", "total"},
		ColumnTypes: []ColumnDataType{ColumnTypeDate, ColumnTypeInteger},
		Rows:        rows,
		RowCount:    60,
	}
	artifact := v.Visualize(questionAt("trend over time", time.Now()), results)
	if artifact.ChartKind != ChartKindNone {
		t.Fatalf("expected chart_kind=none for >50 rows selecting a non-bar chart, got %s", artifact.ChartKind)
	}
}
