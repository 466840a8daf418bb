package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"reactsql/internal/adapter"
	"reactsql/internal/logger"
)

func testOrchestratorConfig(t *testing.T) *Config {
	cfg := DefaultConfig()
	cfg.SchemaCache.Directory = t.TempDir()
	cfg.Exporter.Directory = t.TempDir()
	cfg.Visualizer.Directory = t.TempDir()
	cfg.Executor.StatementTimeout = time.Second
	return cfg
}

func TestOrchestrator_HappyPath(t *testing.T) {
	gw := &scriptedGateway{
		fakeGateway: fakeGateway{dialect: "postgresql", tables: sampleCatalog()},
		results: []*adapter.QueryResult{{
			Columns:     []string{"id"},
			ColumnTypes: []string{"integer"},
			Rows:        []map[string]interface{}{{"id": 1}, {"id": 2}},
		}},
		errs: []error{nil},
	}
	client := &fakeCompletionClient{responses: []string{
		"```sql\nSELECT id FROM orders\n```",
		"There are 2 orders.",
	}}

	orch := NewOrchestrator(gw, client, "srv", "db", testOrchestratorConfig(t), logger.NewNop())
	result := orch.Run(context.Background(), "how many orders are there?", nil)

	if !result.Success {
		t.Fatalf("expected success, got failure: kind=%s stage=%s message=%s", result.ErrorKind, result.Stage, result.Message)
	}
	if result.Interpretation == nil {
		t.Fatal("expected an interpretation")
	}
	if result.Exports == nil {
		t.Error("expected export artifacts for a non-empty result")
	}
}

func TestOrchestrator_EmptyQuestionFailsFast(t *testing.T) {
	gw := &scriptedGateway{fakeGateway: fakeGateway{dialect: "postgresql", tables: sampleCatalog()}}
	client := &fakeCompletionClient{}

	orch := NewOrchestrator(gw, client, "srv", "db", testOrchestratorConfig(t), logger.NewNop())
	result := orch.Run(context.Background(), "   ", nil)

	if result.Success {
		t.Fatal("expected failure for an empty question")
	}
	if result.ErrorKind != ErrEmptyQuestion {
		t.Errorf("expected ErrEmptyQuestion, got %s", result.ErrorKind)
	}
	if result.Stage != StageNormalizer {
		t.Errorf("expected failure attributed to the normalizer, got %s", result.Stage)
	}
}

// twoCallGatewayWithFirstFailure fails the first execution with a
// non-transient error (triggering the bounded stage-5-to-3 regeneration
// loop), then succeeds on the second.
type twoCallGateway struct {
	fakeGateway
	calls int
}

func (g *twoCallGateway) RunReadOnly(ctx context.Context, token, query string, timeout time.Duration, rowCap int) (*adapter.QueryResult, error) {
	g.calls++
	if g.calls == 1 {
		return nil, errors.New("unknown column foo")
	}
	return &adapter.QueryResult{Columns: []string{"id"}, Rows: []map[string]interface{}{{"id": 1}}}, nil
}

func (g *twoCallGateway) Cancel(token string) {}

func TestOrchestrator_RegeneratesOnceOnExecutionFailure(t *testing.T) {
	gw := &twoCallGateway{fakeGateway: fakeGateway{dialect: "postgresql", tables: sampleCatalog()}}
	client := &fakeCompletionClient{responses: []string{
		"```sql\nSELECT foo FROM orders\n```",
		"```sql\nSELECT id FROM orders\n```",
		"There is 1 order.",
	}}

	orch := NewOrchestrator(gw, client, "srv", "db", testOrchestratorConfig(t), logger.NewNop())
	result := orch.Run(context.Background(), "how many orders?", nil)

	if !result.Success {
		t.Fatalf("expected the regeneration loop to recover, got failure: kind=%s message=%s", result.ErrorKind, result.Message)
	}
	if gw.calls != 2 {
		t.Errorf("expected exactly 2 execution attempts, got %d", gw.calls)
	}
}

// capturingGateway records the rowCap argument RunReadOnly was called with
// and returns exactly that many rows, so a test can assert the cap the
// executor actually used against the one the validator clamped/embedded.
type capturingGateway struct {
	fakeGateway
	gotRowCap int
}

func (g *capturingGateway) RunReadOnly(ctx context.Context, token, query string, timeout time.Duration, rowCap int) (*adapter.QueryResult, error) {
	g.gotRowCap = rowCap
	rows := make([]map[string]interface{}, rowCap)
	for i := range rows {
		rows[i] = map[string]interface{}{"id": i}
	}
	return &adapter.QueryResult{Columns: []string{"id"}, Rows: rows}, nil
}

func (g *capturingGateway) Cancel(token string) {}

func TestOrchestrator_ExecutorRowCapMatchesValidatorClampedLimit(t *testing.T) {
	gw := &capturingGateway{fakeGateway: fakeGateway{dialect: "postgresql", tables: sampleCatalog()}}
	client := &fakeCompletionClient{responses: []string{
		"```sql\nSELECT id FROM orders\n```",
		"Found some orders.",
	}}

	cfg := testOrchestratorConfig(t)
	cfg.Validator.RowCapDefault = 1000
	cfg.Validator.RowCapMax = 5 // deliberately tiny and non-default

	orch := NewOrchestrator(gw, client, "srv", "db", cfg, logger.NewNop())
	oversizedHint := 9999
	result := orch.Run(context.Background(), "list orders", &oversizedHint)

	if !result.Success {
		t.Fatalf("expected success, got failure: kind=%s message=%s", result.ErrorKind, result.Message)
	}
	if gw.gotRowCap != cfg.Validator.RowCapMax {
		t.Errorf("expected the executor to use the validator's clamped cap (%d), got %d", cfg.Validator.RowCapMax, gw.gotRowCap)
	}
}

func TestOrchestrator_OriginalFailureWinsWhenRegenerationAlsoFails(t *testing.T) {
	gw := &scriptedGateway{
		fakeGateway: fakeGateway{dialect: "postgresql", tables: sampleCatalog()},
		errs:        []error{errors.New("unknown column foo")},
	}
	client := &fakeCompletionClient{responses: []string{
		"```sql\nSELECT foo FROM orders\n```",
		"```sql\nSELECT id FROM orders\n```",
	}}

	orch := NewOrchestrator(gw, client, "srv", "db", testOrchestratorConfig(t), logger.NewNop())
	result := orch.Run(context.Background(), "how many orders?", nil)

	if result.Success {
		t.Fatal("expected failure when both the original and regenerated execution fail")
	}
	if result.ErrorKind != ErrExecutionFailed {
		t.Errorf("expected the original ExecutionFailed to win, got %s", result.ErrorKind)
	}
}
