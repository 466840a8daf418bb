package pipeline

import "fmt"

// ErrorKind is a sentinel identifying one of the taxonomy entries in the
// error handling design: which failure mode a stage hit.
type ErrorKind string

const (
	ErrEmptyQuestion    ErrorKind = "EmptyQuestion"
	ErrQuestionTooLong  ErrorKind = "QuestionTooLong"

	ErrCatalogFetchFailed ErrorKind = "CatalogFetchFailed"
	ErrCacheCorrupt       ErrorKind = "CacheCorrupt"

	ErrGenerationUnavailable ErrorKind = "GenerationUnavailable"
	ErrGenerationMalformed   ErrorKind = "GenerationMalformed"

	ErrMultipleStatements ErrorKind = "MultipleStatements"
	ErrNonReadOnly        ErrorKind = "NonReadOnly"
	ErrUnknownTable       ErrorKind = "UnknownTable"
	ErrStatementTooLarge  ErrorKind = "StatementTooLarge"
	ErrUnknownColumn      ErrorKind = "UnknownColumn" // warning only

	ErrExecutionFailed     ErrorKind = "ExecutionFailed"
	ErrQueryTimeout        ErrorKind = "QueryTimeout"
	ErrResultShapeRejected ErrorKind = "ResultShapeRejected"

	ErrHallucinatedFigureSuspected ErrorKind = "HallucinatedFigureSuspected" // warning
	ErrInterpretationUnavailable  ErrorKind = "InterpretationUnavailable"

	ErrExportFailed ErrorKind = "ExportFailed" // warning

	ErrCancelled ErrorKind = "Cancelled"
)

// fatal reports whether an ErrorKind always terminates the run. Mirrors the
// warning-only kinds called out in the error taxonomy: UnknownColumn,
// HallucinatedFigureSuspected, ExportFailed are never fatal on their own.
func (k ErrorKind) fatal() bool {
	switch k {
	case ErrUnknownColumn, ErrHallucinatedFigureSuspected, ErrExportFailed:
		return false
	default:
		return true
	}
}

// Stage names a pipeline component for error attribution.
type Stage string

const (
	StageNormalizer   Stage = "Normalizer"
	StageSchemaCache  Stage = "SchemaRetriever"
	StageSQLGenerator Stage = "SQLGenerator"
	StageValidator    Stage = "Validator"
	StageExecutor     Stage = "QueryExecutor"
	StageInterpreter  Stage = "ResultsInterpreter"
	StageExporter     Stage = "DataExporter"
	StageVisualizer   Stage = "Visualizer"
	StageOrchestrator Stage = "Orchestrator"
)

// Error is the one error type every stage returns. Message is the stage's
// own summary and never includes LLM prompt text. A database or driver
// error, when there is one, is kept as the wrapped cause; its text is part
// of Error() and of the orchestrator's failure Result.Message.
type Error struct {
	Kind    ErrorKind
	Stage   Stage
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Stage, e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Stage, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is supports errors.Is(err, pipeline.ErrX-shaped sentinel) by comparing kinds.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// newError builds a stage error, optionally wrapping a lower-level cause.
func newError(kind ErrorKind, stage Stage, message string, cause error) *Error {
	return &Error{Kind: kind, Stage: stage, Message: message, cause: cause}
}

// Sentinel returns a comparable *Error carrying only a Kind, for use with
// errors.Is(err, pipeline.Sentinel(pipeline.ErrNonReadOnly)).
func Sentinel(kind ErrorKind) *Error {
	return &Error{Kind: kind}
}
