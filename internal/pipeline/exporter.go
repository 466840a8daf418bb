package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"
)

// DataExporter is stage 7: write the result set to disk as CSV and as a
// styled spreadsheet. Export failures are always non-fatal: the orchestrator
// surfaces them as warnings and continues to stage 8.
type DataExporter struct {
	dir string
}

// NewDataExporter builds an exporter writing under dir.
func NewDataExporter(dir string) *DataExporter {
	return &DataExporter{dir: dir}
}

// Export writes both formats for one result set, named with the question's
// receipt time to the second; two questions received within the same
// second write to the same paths.
func (e *DataExporter) Export(question *UserQuestion, results *QueryResults) (*ExportArtifacts, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, newError(ErrExportFailed, StageExporter, "could not create export directory", err)
	}

	stamp := question.ReceivedAt.UTC().Format("20060102_150405")
	csvPath := filepath.Join(e.dir, fmt.Sprintf("query_results_%s.csv", stamp))
	xlsxPath := filepath.Join(e.dir, fmt.Sprintf("query_results_%s.xlsx", stamp))

	if err := writeCSV(csvPath, question, results); err != nil {
		return nil, newError(ErrExportFailed, StageExporter, "csv export failed", err)
	}
	if err := writeSpreadsheet(xlsxPath, question, results); err != nil {
		return nil, newError(ErrExportFailed, StageExporter, "spreadsheet export failed", err)
	}

	return &ExportArtifacts{
		CSVPath:         csvPath,
		SpreadsheetPath: xlsxPath,
		RowCount:        results.RowCount,
		CreatedAt:       time.Now(),
	}, nil
}

// writeCSV follows RFC 4180, with two leading "#"-prefixed metadata comment
// lines (normalized question and capture timestamp) before the header row.
func writeCSV(path string, question *UserQuestion, results *QueryResults) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "# question: %s\n", question.NormalizedText); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "# generated_at: %s\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write(results.ColumnNames); err != nil {
		return err
	}
	for _, row := range results.Rows {
		record := make([]string, len(row))
		for i, v := range row {
			typ := ColumnDataType("")
			if i < len(results.ColumnTypes) {
				typ = results.ColumnTypes[i]
			}
			record[i] = formatCSVCell(v, typ)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatCSVCell(v any, typ ColumnDataType) string {
	if v == nil {
		return ""
	}
	switch typ {
	case ColumnTypeDecimal:
		if f, ok := toFloat(v); ok {
			return fmt.Sprintf("%.6f", f)
		}
	case ColumnTypeDateTime, ColumnTypeDate:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return fmt.Sprintf("%v", v)
}

// writeSpreadsheet builds a single "Results" sheet: row 1 carries the
// question merged across the data width, row 3 is a styled, frozen header,
// and data starts at row 4.
func writeSpreadsheet(path string, question *UserQuestion, results *QueryResults) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Results"
	f.SetSheetName(f.GetSheetName(0), sheet)

	lastCol, err := excelize.ColumnNumberToName(len(results.ColumnNames))
	if err != nil {
		lastCol = "A"
	}

	f.SetCellValue(sheet, "A1", question.NormalizedText)
	if len(results.ColumnNames) > 1 {
		f.MergeCell(sheet, "A1", lastCol+"1")
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	for i, col := range results.ColumnNames {
		cell, _ := excelize.CoordinatesToCellName(i+1, 3)
		f.SetCellValue(sheet, cell, col)
		f.SetCellStyle(sheet, cell, cell, headerStyle)
	}
	f.SetPanes(sheet, &excelize.Panes{Freeze: true, Split: false, XSplit: 0, YSplit: 3, TopLeftCell: "A4", ActivePane: "bottomLeft"})

	dateStyle, _ := f.NewStyle(&excelize.Style{NumFmt: 22})
	numStyle, _ := f.NewStyle(&excelize.Style{NumFmt: 2})

	for r, row := range results.Rows {
		excelRow := r + 4
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, excelRow)
			typ := ColumnDataType("")
			if c < len(results.ColumnTypes) {
				typ = results.ColumnTypes[c]
			}
			switch typ {
			case ColumnTypeDateTime, ColumnTypeDate:
				if t, ok := v.(time.Time); ok {
					f.SetCellValue(sheet, cell, t)
					f.SetCellStyle(sheet, cell, cell, dateStyle)
					continue
				}
			case ColumnTypeDecimal, ColumnTypeInteger:
				if fl, ok := toFloat(v); ok {
					f.SetCellValue(sheet, cell, fl)
					if typ == ColumnTypeDecimal {
						f.SetCellStyle(sheet, cell, cell, numStyle)
					}
					continue
				}
			}
			if v == nil {
				continue
			}
			f.SetCellValue(sheet, cell, fmt.Sprintf("%v", v))
		}
	}

	for i, col := range results.ColumnNames {
		width := len(col) + 2
		for _, row := range results.Rows {
			if i < len(row) {
				if l := len(fmt.Sprintf("%v", row[i])); l+2 > width {
					width = l + 2
				}
			}
		}
		if width > 50 {
			width = 50
		}
		colName, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, colName, colName, float64(width))
	}

	return f.SaveAs(path)
}
