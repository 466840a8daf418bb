package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"reactsql/internal/llm"
)

const (
	defaultNarrativeMaxLength = 2000
	sampleFullThreshold       = 50
	sampleRowLimit            = 25
)

// ResultsInterpreter is stage 6: a single LLM call that narrates a
// QueryResults in natural language, with a post-processor enforcing length
// and numeric-literal grounding.
type ResultsInterpreter struct {
	client            llm.CompletionClient
	narrativeMaxLength int
}

// NewResultsInterpreter builds an interpreter; narrativeMaxLength <= 0
// falls back to defaultNarrativeMaxLength.
func NewResultsInterpreter(client llm.CompletionClient, narrativeMaxLength int) *ResultsInterpreter {
	if narrativeMaxLength <= 0 {
		narrativeMaxLength = defaultNarrativeMaxLength
	}
	return &ResultsInterpreter{client: client, narrativeMaxLength: narrativeMaxLength}
}

// Interpret produces an Interpretation plus any non-fatal warnings
// (duplicate rows, NULL-heavy columns, suspected hallucinated figures).
func (ri *ResultsInterpreter) Interpret(ctx context.Context, question *UserQuestion, validated *ValidatedSQL, results *QueryResults) (*Interpretation, []string, error) {
	sample, groundTruth := buildSample(results)
	var warnings []string
	if w := checkDuplicateRows(results); w != "" {
		warnings = append(warnings, w)
	}
	if w := checkNullHeavy(results); w != "" {
		warnings = append(warnings, w)
	}

	sections := []llm.PromptSection{
		{Role: "system", Content: "You are a data analyst. Narrate the query result in plain language, grounded only in the sample provided. Suggest 0-5 short imperative follow-up questions, one per line, prefixed with '- '."},
		{Role: "question", Content: question.NormalizedText},
		{Role: "sql", Content: validated.StatementText},
		{Role: "result_sample", Content: sample},
	}

	response, err := ri.client.Complete(ctx, sections, llm.GenerationOptions{Temperature: 0.2})
	if err != nil {
		return nil, warnings, newError(ErrInterpretationUnavailable, StageInterpreter, "llm call failed", err)
	}

	narrative, followUps := splitNarrativeAndFollowUps(response)
	if strings.TrimSpace(narrative) == "" {
		return nil, warnings, newError(ErrInterpretationUnavailable, StageInterpreter, "model returned an empty narrative", nil)
	}
	if len(narrative) > ri.narrativeMaxLength {
		narrative = narrative[:ri.narrativeMaxLength]
	}
	if len(followUps) > 5 {
		followUps = followUps[:5]
	}

	if w := checkHallucinatedFigures(narrative, groundTruth); w != "" {
		warnings = append(warnings, w)
	}

	return &Interpretation{NarrativeText: narrative, FollowUpSuggestions: followUps}, warnings, nil
}

// buildSample renders the result sample per the contract: the full result
// if row_count <= 50, otherwise the first 25 rows plus summary statistics.
// It also returns the set of numeric literals (as strings) that legitimately
// appear in the sample/summary, used by the hallucination check.
func buildSample(results *QueryResults) (string, map[string]struct{}) {
	ground := make(map[string]struct{})
	var sb strings.Builder

	fmt.Fprintf(&sb, "columns: %s\n", strings.Join(results.ColumnNames, ", "))
	fmt.Fprintf(&sb, "row_count: %d, truncated: %v\n", results.RowCount, results.Truncated)

	rowsToRender := results.Rows
	full := results.RowCount <= sampleFullThreshold
	if !full && len(rowsToRender) > sampleRowLimit {
		rowsToRender = rowsToRender[:sampleRowLimit]
	}

	for _, row := range rowsToRender {
		parts := make([]string, len(row))
		for i, v := range row {
			s := fmt.Sprintf("%v", v)
			parts[i] = s
			recordNumericLiterals(s, ground)
		}
		sb.WriteString(strings.Join(parts, " | "))
		sb.WriteString("\n")
	}

	if !full {
		stats := summaryStatistics(results)
		sb.WriteString("summary statistics:\n")
		for _, col := range results.ColumnNames {
			if s, ok := stats[col]; ok {
				sb.WriteString("  " + col + ": " + s.String() + "\n")
				recordNumericLiterals(s.String(), ground)
			}
		}
	}

	return sb.String(), ground
}

// columnStats holds the min/max/mean/distinct-count figures §4.6 requires
// for numeric and categorical columns in the compacted sample.
type columnStats struct {
	numeric     bool
	min, max, mean float64
	distinct    int
}

func (s columnStats) String() string {
	if s.numeric {
		return fmt.Sprintf("min=%g max=%g mean=%g", s.min, s.max, s.mean)
	}
	return fmt.Sprintf("distinct=%d", s.distinct)
}

// summaryStatistics computes the min/max/mean/distinct-count figures over
// the in-memory result set. Unlike the teacher's per-column value-stats
// cache (which issues fresh SQL queries per column), this operates purely
// on the QueryResults already materialized by the executor — the
// interpreter never touches the database.
func summaryStatistics(results *QueryResults) map[string]columnStats {
	out := make(map[string]columnStats, len(results.ColumnNames))
	for i, col := range results.ColumnNames {
		isNumeric := i < len(results.ColumnTypes) && (results.ColumnTypes[i] == ColumnTypeInteger || results.ColumnTypes[i] == ColumnTypeDecimal)

		if isNumeric {
			var sum float64
			var count int
			min, max := 0.0, 0.0
			first := true
			for _, row := range results.Rows {
				f, ok := toFloat(row[i])
				if !ok {
					continue
				}
				if first {
					min, max = f, f
					first = false
				}
				if f < min {
					min = f
				}
				if f > max {
					max = f
				}
				sum += f
				count++
			}
			mean := 0.0
			if count > 0 {
				mean = sum / float64(count)
			}
			out[col] = columnStats{numeric: true, min: min, max: max, mean: mean}
			continue
		}

		seen := make(map[string]struct{})
		for _, row := range results.Rows {
			seen[fmt.Sprintf("%v", row[i])] = struct{}{}
		}
		out[col] = columnStats{distinct: len(seen)}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

var numericLiteralPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

func recordNumericLiterals(s string, into map[string]struct{}) {
	for _, m := range numericLiteralPattern.FindAllString(s, -1) {
		into[m] = struct{}{}
		into[normalizeRounded(m)] = struct{}{}
	}
}

// normalizeRounded maps a literal to its nearest-integer string so "modulo
// integer rounding" grounding (per §8.7) doesn't flag e.g. 41.7 vs 42.
func normalizeRounded(s string) string {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	if f < 0 {
		return strconv.Itoa(int(f - 0.5))
	}
	return strconv.Itoa(int(f + 0.5))
}

// checkHallucinatedFigures flags the warning (never fatal) when the
// narrative contains a numeric literal absent from the grounded sample.
func checkHallucinatedFigures(narrative string, ground map[string]struct{}) string {
	for _, lit := range numericLiteralPattern.FindAllString(narrative, -1) {
		_, direct := ground[lit]
		_, rounded := ground[normalizeRounded(lit)]
		if !direct && !rounded {
			return fmt.Sprintf("narrative mentions figure %q not found in the result sample or summary statistics", lit)
		}
	}
	return ""
}

// splitNarrativeAndFollowUps separates the model's narrative paragraph from
// its "- " prefixed follow-up suggestion lines.
func splitNarrativeAndFollowUps(response string) (string, []string) {
	lines := strings.Split(strings.TrimSpace(response), "\n")
	var narrative []string
	var followUps []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") {
			followUps = append(followUps, strings.TrimSpace(strings.TrimPrefix(trimmed, "- ")))
		} else if trimmed != "" {
			narrative = append(narrative, trimmed)
		}
	}
	return strings.Join(narrative, " "), followUps
}

// checkDuplicateRows flags result sets whose rows are not unique, adapted
// from the teacher's checkDuplicateRows (there it compares string-rendered
// rows from a map-based QueryResult; here it compares the already
// column-ordered tuples).
func checkDuplicateRows(results *QueryResults) string {
	if len(results.Rows) <= 1 {
		return ""
	}
	seen := make(map[string]bool, len(results.Rows))
	for _, row := range results.Rows {
		key := fmt.Sprintf("%v", row)
		if seen[key] {
			return fmt.Sprintf("query returned duplicate rows (e.g. %v); consider DISTINCT if duplicates are unwanted", row)
		}
		seen[key] = true
	}
	return ""
}

// checkNullHeavy flags columns where more than half the sampled rows are
// NULL, adapted from the teacher's NULL scan in verify_sql_tool.go.
func checkNullHeavy(results *QueryResults) string {
	if len(results.Rows) == 0 {
		return ""
	}
	var heavy []string
	for i, col := range results.ColumnNames {
		nullCount := 0
		for _, row := range results.Rows {
			if row[i] == nil {
				nullCount++
			}
		}
		if float64(nullCount)/float64(len(results.Rows)) > 0.5 {
			heavy = append(heavy, col)
		}
	}
	if len(heavy) == 0 {
		return ""
	}
	sort.Strings(heavy)
	return "columns with mostly NULL values: " + strings.Join(heavy, ", ")
}
