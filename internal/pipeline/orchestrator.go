package pipeline

import (
	"context"

	"go.uber.org/zap"

	"reactsql/internal/adapter"
	"reactsql/internal/llm"
	"reactsql/internal/logger"
)

// Result is the orchestrator's discriminated outcome: exactly one of the
// success fields or the failure fields is populated.
type Result struct {
	Success bool

	// Populated when Success.
	Interpretation *Interpretation
	Exports        *ExportArtifacts
	Visualization  *VisualizationArtifact

	// Populated when !Success.
	ErrorKind ErrorKind
	Stage     Stage
	Message   string

	// Always populated: every non-fatal warning collected up to the point
	// of success or failure.
	Warnings []string
}

// Orchestrator wires the eight stages into the strict left-to-right
// pipeline, with the single bounded stage-5-to-3 regeneration loop on
// execution failure.
type Orchestrator struct {
	gateway     adapter.DBAdapter
	serverID    string
	databaseID  string
	cache       *SchemaCache
	normalizer  *Normalizer
	generator   *SQLGenerator
	validator   *SQLValidator
	executor    *QueryExecutor
	interpreter *ResultsInterpreter
	exporter    *DataExporter
	visualizer  *Visualizer
	log         *logger.Logger

	exporterEnabled   bool
	visualizerEnabled bool
}

// NewOrchestrator wires every stage from cfg and the two collaborators
// (gateway, completionClient). serverID/databaseID identify the connection
// for schema-cache keying. log is where every stage reports its
// StartTask/CompleteTask/FailTask events; pass logger.NewNop() to discard
// them (as the test suite does).
func NewOrchestrator(gateway adapter.DBAdapter, completionClient llm.CompletionClient, serverID, databaseID string, cfg *Config, log *logger.Logger) *Orchestrator {
	dialect := gateway.GetDatabaseType()
	return &Orchestrator{
		gateway:           gateway,
		serverID:          serverID,
		databaseID:        databaseID,
		cache:             NewSchemaCache(cfg.SchemaCache.Directory, cfg.SchemaCache.TTL, cfg.SchemaCache.Enabled),
		normalizer:        NewNormalizer(DefaultQuestionMaxLength),
		generator:         NewSQLGenerator(completionClient, dialect, 0),
		validator:         NewSQLValidator(dialect, cfg.Validator),
		executor:          NewQueryExecutor(gateway, cfg.Executor),
		interpreter:       NewResultsInterpreter(completionClient, defaultNarrativeMaxLength),
		exporter:          NewDataExporter(cfg.Exporter.Directory),
		visualizer:        NewVisualizer(cfg.Visualizer.Directory, cfg.Visualizer),
		log:               log,
		exporterEnabled:   cfg.Exporter.Enabled,
		visualizerEnabled: cfg.Visualizer.Enabled,
	}
}

// Run executes one question end to end. It never panics or returns a Go
// error: every failure mode is folded into the returned Result.
func (o *Orchestrator) Run(ctx context.Context, rawQuestion string, maxRowsHint *int) *Result {
	var warnings []string
	o.log.SetPhase("Run")

	o.log.StartTask(string(StageNormalizer))
	question, err := o.normalizer.Normalize(rawQuestion, maxRowsHint)
	if err != nil {
		o.log.FailTask(string(StageNormalizer), err)
		return failureResult(err, warnings)
	}
	o.log.CompleteTask(string(StageNormalizer))

	o.log.StartTask(string(StageSchemaCache))
	snapshot, cacheSource, err := o.cache.Get(ctx, o.serverID, o.databaseID, o.gateway)
	if err != nil {
		o.log.FailTask(string(StageSchemaCache), err)
		return failureResult(err, warnings)
	}
	o.log.CompleteTask(string(StageSchemaCache), zap.String("source", string(cacheSource)), zap.Int("tables", len(snapshot.Tables)))

	o.log.StartTask(string(StageSQLGenerator))
	generated, genWarnings, err := o.generator.Generate(ctx, question, snapshot, "")
	warnings = append(warnings, genWarnings...)
	if err != nil {
		o.log.FailTask(string(StageSQLGenerator), err)
		return failureResult(err, warnings)
	}
	o.log.CompleteTask(string(StageSQLGenerator), zap.Int("warnings", len(genWarnings)))

	validated, results, err := o.validateAndExecute(ctx, question, generated, snapshot, question.MaxRowsHint, &warnings)
	if err != nil {
		return failureResult(err, warnings)
	}

	o.log.StartTask(string(StageInterpreter))
	interpretation, interpWarnings, err := o.interpreter.Interpret(ctx, question, validated, results)
	warnings = append(warnings, interpWarnings...)
	if err != nil {
		o.log.FailTask(string(StageInterpreter), err)
		return failureResult(err, warnings)
	}
	o.log.CompleteTask(string(StageInterpreter), zap.Int("warnings", len(interpWarnings)))

	var exports *ExportArtifacts
	if o.exporterEnabled && results.RowCount > 0 {
		o.log.StartTask(string(StageExporter))
		artifacts, exportErr := o.exporter.Export(question, results)
		if exportErr != nil {
			if pe, ok := exportErr.(*Error); ok {
				warnings = append(warnings, pe.Message)
			}
			o.log.FailTask(string(StageExporter), exportErr)
		} else {
			exports = artifacts
			o.log.CompleteTask(string(StageExporter), zap.String("csv", artifacts.CSVPath))
		}
	}

	var visualization *VisualizationArtifact
	if o.visualizerEnabled {
		o.log.StartTask(string(StageVisualizer))
		visualization = o.visualizer.Visualize(question, results)
		o.log.CompleteTask(string(StageVisualizer), zap.String("chart_kind", string(visualization.ChartKind)))
	}

	o.log.Info("pipeline succeeded", zap.Int("row_count", results.RowCount), zap.Int("warnings", len(warnings)))

	return &Result{
		Success:        true,
		Interpretation: interpretation,
		Exports:        exports,
		Visualization:  visualization,
		Warnings:       warnings,
	}
}

// validateAndExecute runs stage 4 then stage 5, with the single bounded
// regeneration loop back through stage 3 when stage 5 fails with
// ExecutionFailed (never on a validator rejection, per the resolved open
// question on retry scope).
func (o *Orchestrator) validateAndExecute(ctx context.Context, question *UserQuestion, generated *GeneratedSQL, snapshot *SchemaSnapshot, userRowCap *int, warnings *[]string) (*ValidatedSQL, *QueryResults, error) {
	o.log.StartTask(string(StageValidator))
	validated, err := o.validator.Validate(generated, snapshot, userRowCap)
	if err != nil {
		o.log.FailTask(string(StageValidator), err)
		return nil, nil, err
	}
	*warnings = append(*warnings, validated.Warnings...)
	o.log.CompleteTask(string(StageValidator), zap.Int("row_cap", validated.EffectiveRowCap), zap.Int("warnings", len(validated.Warnings)))

	// The executor must materialize against the exact cap the validator
	// already clamped and embedded into StatementText's LIMIT/TOP clause;
	// recomputing a separate cap here could disagree with it and corrupt
	// the row_count/Truncated invariant.
	o.log.StartTask(string(StageExecutor))
	results, err := o.executor.Execute(ctx, validated, validated.EffectiveRowCap, "")
	if err == nil {
		o.log.CompleteTask(string(StageExecutor), zap.Int("row_count", results.RowCount), zap.Bool("truncated", results.Truncated))
		return validated, results, nil
	}

	pe, ok := err.(*Error)
	if !ok || pe.Kind != ErrExecutionFailed {
		o.log.FailTask(string(StageExecutor), err)
		return nil, nil, err
	}
	o.log.FailTask(string(StageExecutor), err)

	// one bounded regeneration attempt, feeding the failure back to the
	// generator
	o.log.StartTask(string(StageSQLGenerator)+":regenerate")
	regenerated, genWarnings, genErr := o.generator.Generate(ctx, question, snapshot, pe.Error())
	*warnings = append(*warnings, genWarnings...)
	if genErr != nil {
		o.log.FailTask(string(StageSQLGenerator)+":regenerate", genErr)
		return nil, nil, err // original failure wins
	}
	o.log.CompleteTask(string(StageSQLGenerator)+":regenerate")

	revalidated, valErr := o.validator.Validate(regenerated, snapshot, userRowCap)
	if valErr != nil {
		return nil, nil, err // original failure wins
	}
	*warnings = append(*warnings, revalidated.Warnings...)

	o.log.StartTask(string(StageExecutor)+":retry")
	reresults, reErr := o.executor.Execute(ctx, revalidated, revalidated.EffectiveRowCap, "")
	if reErr != nil {
		o.log.FailTask(string(StageExecutor)+":retry", reErr)
		return nil, nil, err // original failure wins
	}
	o.log.CompleteTask(string(StageExecutor)+":retry", zap.Int("row_count", reresults.RowCount))
	return revalidated, reresults, nil
}

// Cancel requests cooperative cancellation of the in-flight query, if any.
func (o *Orchestrator) Cancel(token string) {
	o.executor.Cancel(token)
}

func failureResult(err error, warnings []string) *Result {
	pe, ok := err.(*Error)
	if !ok {
		return &Result{Success: false, ErrorKind: ErrExecutionFailed, Stage: StageOrchestrator, Message: err.Error(), Warnings: warnings}
	}
	msg := pe.Message
	if pe.cause != nil {
		msg += ": " + pe.cause.Error()
	}
	return &Result{Success: false, ErrorKind: pe.Kind, Stage: pe.Stage, Message: msg, Warnings: warnings}
}
