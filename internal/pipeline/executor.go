package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"reactsql/internal/adapter"
)

// QueryExecutor is stage 5: open a read-only connection, run the
// statement, and materialize rows through the DatabaseGateway.
type QueryExecutor struct {
	gateway          adapter.DBAdapter
	statementTimeout time.Duration
	maxColumns       int
	retryTransient   bool
}

// NewQueryExecutor builds an executor bound to one DatabaseGateway.
func NewQueryExecutor(gateway adapter.DBAdapter, cfg ExecutorConfig) *QueryExecutor {
	return &QueryExecutor{
		gateway:          gateway,
		statementTimeout: cfg.StatementTimeout,
		maxColumns:       cfg.MaxColumns,
		retryTransient:   cfg.RetryTransient,
	}
}

// transientBackoff mirrors the teacher's backoff-retry idiom used
// elsewhere for LLM calls, reused here for the one allowed retry on a
// transient driver error.
const transientBackoff = 500 * time.Millisecond

var transientMarkers = []string{
	"connection reset", "broken pipe", "deadlock", "timeout", "timed out",
	"connection refused", "driver: bad connection", "eof",
}

func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Execute runs validated.StatementText with rowCap+1 materialization so
// Truncated can be reported accurately. token is a caller-chosen identifier
// that a concurrent Cancel(token) call can use to abort the query.
func (e *QueryExecutor) Execute(ctx context.Context, validated *ValidatedSQL, rowCap int, token string) (*QueryResults, error) {
	if token == "" {
		token = uuid.NewString()
	}

	start := time.Now()
	result, err := e.gateway.RunReadOnly(ctx, token, validated.StatementText, e.statementTimeout, rowCap)
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(ErrCancelled, StageExecutor, "execution cancelled", ctx.Err())
		}
		if e.retryTransient && isTransient(err) {
			time.Sleep(transientBackoff)
			result, err = e.gateway.RunReadOnly(ctx, uuid.NewString(), validated.StatementText, e.statementTimeout, rowCap)
		}
		if err != nil {
			if isTimeoutErr(err) {
				return nil, newError(ErrQueryTimeout, StageExecutor, "statement exceeded the configured timeout", err)
			}
			return nil, newError(ErrExecutionFailed, StageExecutor, "query execution failed", err)
		}
	}

	if len(result.Columns) > e.maxColumns {
		return nil, newError(ErrResultShapeRejected, StageExecutor,
			"result has more columns than the configured maximum", nil)
	}

	return toQueryResults(result, rowCap, time.Since(start)), nil
}

func isTimeoutErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context deadline exceeded") || strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out")
}

// toQueryResults converts the adapter's map-per-row QueryResult into the
// column-ordered tuple form QueryResults requires, capping at rowCap rows
// (the adapter materializes rowCap+1 so Truncated can be derived here).
func toQueryResults(result *adapter.QueryResult, rowCap int, elapsed time.Duration) *QueryResults {
	truncated := result.Truncated
	rowsToKeep := result.Rows
	if len(rowsToKeep) > rowCap {
		rowsToKeep = rowsToKeep[:rowCap]
		truncated = true
	}

	rows := make([][]any, 0, len(rowsToKeep))
	for _, row := range rowsToKeep {
		tuple := make([]any, len(result.Columns))
		for i, col := range result.Columns {
			tuple[i] = row[col]
		}
		rows = append(rows, tuple)
	}

	columnTypes := make([]ColumnDataType, len(result.ColumnTypes))
	for i, t := range result.ColumnTypes {
		columnTypes[i] = classifyDataType(t, "")
	}

	return &QueryResults{
		ColumnNames: result.Columns,
		ColumnTypes: columnTypes,
		Rows:        rows,
		RowCount:    len(rows),
		Truncated:   truncated,
		Elapsed:     elapsed,
	}
}

// Cancel forwards to the underlying gateway's cooperative cancellation.
func (e *QueryExecutor) Cancel(token string) {
	e.gateway.Cancel(token)
}
