package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"reactsql/internal/adapter"
)

type scriptedGateway struct {
	fakeGateway
	results []*adapter.QueryResult
	errs    []error
	calls   int
	cancels []string
}

func (g *scriptedGateway) RunReadOnly(ctx context.Context, token, query string, timeout time.Duration, rowCap int) (*adapter.QueryResult, error) {
	i := g.calls
	g.calls++
	if i >= len(g.errs) {
		i = len(g.errs) - 1
	}
	if g.errs[i] != nil {
		return nil, g.errs[i]
	}
	return g.results[i], nil
}

func (g *scriptedGateway) Cancel(token string) {
	g.cancels = append(g.cancels, token)
}

func validatedStatement(sql string) *ValidatedSQL {
	return &ValidatedSQL{StatementText: sql}
}

func TestExecutor_Success(t *testing.T) {
	gw := &scriptedGateway{
		results: []*adapter.QueryResult{{
			Columns:     []string{"id"},
			ColumnTypes: []string{"integer"},
			Rows:        []map[string]interface{}{{"id": 1}, {"id": 2}},
		}},
		errs: []error{nil},
	}
	exec := NewQueryExecutor(gw, ExecutorConfig{StatementTimeout: time.Second, MaxColumns: 10, RetryTransient: true})

	results, err := exec.Execute(context.Background(), validatedStatement("SELECT id FROM orders"), 100, "")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if results.RowCount != 2 {
		t.Errorf("expected 2 rows, got %d", results.RowCount)
	}
	if results.Rows[0][0] != 1 {
		t.Errorf("expected first row id=1, got %v", results.Rows[0][0])
	}
}

func TestExecutor_RetriesTransientError(t *testing.T) {
	gw := &scriptedGateway{
		results: []*adapter.QueryResult{nil, {Columns: []string{"id"}, Rows: []map[string]interface{}{{"id": 1}}}},
		errs:    []error{errors.New("connection reset by peer"), nil},
	}
	exec := NewQueryExecutor(gw, ExecutorConfig{StatementTimeout: time.Second, MaxColumns: 10, RetryTransient: true})

	results, err := exec.Execute(context.Background(), validatedStatement("SELECT id FROM orders"), 100, "")
	if err != nil {
		t.Fatalf("expected the transient error to be retried successfully, got: %v", err)
	}
	if gw.calls != 2 {
		t.Errorf("expected exactly 2 calls (1 retry), got %d", gw.calls)
	}
	if results.RowCount != 1 {
		t.Errorf("expected 1 row after retry, got %d", results.RowCount)
	}
}

func TestExecutor_NonTransientFailsAsExecutionFailed(t *testing.T) {
	gw := &scriptedGateway{errs: []error{errors.New("syntax error near FROM")}}
	exec := NewQueryExecutor(gw, ExecutorConfig{StatementTimeout: time.Second, MaxColumns: 10, RetryTransient: true})

	_, err := exec.Execute(context.Background(), validatedStatement("SELECT id FROM orders"), 100, "")
	pe, ok := err.(*Error)
	if !ok || pe.Kind != ErrExecutionFailed {
		t.Fatalf("expected ErrExecutionFailed, got %v", err)
	}
}

func TestExecutor_TimeoutClassified(t *testing.T) {
	gw := &scriptedGateway{errs: []error{errors.New("context deadline exceeded")}}
	exec := NewQueryExecutor(gw, ExecutorConfig{StatementTimeout: time.Second, MaxColumns: 10, RetryTransient: false})

	_, err := exec.Execute(context.Background(), validatedStatement("SELECT id FROM orders"), 100, "")
	pe, ok := err.(*Error)
	if !ok || pe.Kind != ErrQueryTimeout {
		t.Fatalf("expected ErrQueryTimeout, got %v", err)
	}
}

func TestExecutor_CancelledContext(t *testing.T) {
	gw := &scriptedGateway{errs: []error{errors.New("cancelled")}}
	exec := NewQueryExecutor(gw, ExecutorConfig{StatementTimeout: time.Second, MaxColumns: 10})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Execute(ctx, validatedStatement("SELECT id FROM orders"), 100, "")
	pe, ok := err.(*Error)
	if !ok || pe.Kind != ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestExecutor_RejectsTooManyColumns(t *testing.T) {
	cols := make([]string, 5)
	for i := range cols {
		cols[i] = "c"
	}
	gw := &scriptedGateway{
		results: []*adapter.QueryResult{{Columns: cols, Rows: []map[string]interface{}{}}},
		errs:    []error{nil},
	}
	exec := NewQueryExecutor(gw, ExecutorConfig{StatementTimeout: time.Second, MaxColumns: 2})

	_, err := exec.Execute(context.Background(), validatedStatement("SELECT * FROM orders"), 100, "")
	pe, ok := err.(*Error)
	if !ok || pe.Kind != ErrResultShapeRejected {
		t.Fatalf("expected ErrResultShapeRejected, got %v", err)
	}
}

func TestExecutor_TruncationReportedWhenOverRowCap(t *testing.T) {
	rows := []map[string]interface{}{{"id": 1}, {"id": 2}, {"id": 3}}
	gw := &scriptedGateway{
		results: []*adapter.QueryResult{{Columns: []string{"id"}, Rows: rows}},
		errs:    []error{nil},
	}
	exec := NewQueryExecutor(gw, ExecutorConfig{StatementTimeout: time.Second, MaxColumns: 10})

	results, err := exec.Execute(context.Background(), validatedStatement("SELECT id FROM orders"), 2, "")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !results.Truncated {
		t.Errorf("expected Truncated=true when the adapter returns more than rowCap rows")
	}
	if results.RowCount != 2 {
		t.Errorf("expected rows capped at 2, got %d", results.RowCount)
	}
}

func TestExecutor_CancelForwardsToken(t *testing.T) {
	gw := &scriptedGateway{}
	exec := NewQueryExecutor(gw, ExecutorConfig{StatementTimeout: time.Second})
	exec.Cancel("tok-123")
	if len(gw.cancels) != 1 || gw.cancels[0] != "tok-123" {
		t.Errorf("expected Cancel to forward the token, got %v", gw.cancels)
	}
}
