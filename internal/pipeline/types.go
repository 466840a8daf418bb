// Package pipeline implements the eight-stage natural-language-to-SQL
// execution pipeline: Normalize, SchemaRetrieve, SQLGen, Validate, Execute,
// Interpret, Export, Visualize.
package pipeline

import "time"

// UserQuestion is the input to the pipeline, before and after normalization.
type UserQuestion struct {
	RawText        string
	NormalizedText string
	ReceivedAt     time.Time
	MaxRowsHint    *int
}

// ColumnDataType is the pipeline's dialect-independent classification of a
// column's storage type.
type ColumnDataType string

const (
	ColumnTypeInteger  ColumnDataType = "integer"
	ColumnTypeDecimal  ColumnDataType = "decimal"
	ColumnTypeText     ColumnDataType = "text"
	ColumnTypeDate     ColumnDataType = "date"
	ColumnTypeDateTime ColumnDataType = "datetime"
	ColumnTypeBoolean  ColumnDataType = "boolean"
	ColumnTypeBinary   ColumnDataType = "binary"
	ColumnTypeOther    ColumnDataType = "other"
)

// ColumnDescriptor describes one column of one table in a SchemaSnapshot.
type ColumnDescriptor struct {
	Name         string
	DataType     ColumnDataType
	Nullable     bool
	IsPrimaryKey bool
}

// TableKind distinguishes base tables from views.
type TableKind string

const (
	TableKindTable TableKind = "table"
	TableKindView  TableKind = "view"
)

// ForeignKeyDescriptor describes one foreign key constraint, possibly
// spanning multiple columns.
type ForeignKeyDescriptor struct {
	LocalColumns      []string
	ReferencedSchema  string
	ReferencedTable   string
	ReferencedColumns []string
}

// TableDescriptor describes one table or view in a SchemaSnapshot.
type TableDescriptor struct {
	SchemaName  string
	TableName   string
	Kind        TableKind
	Columns     []ColumnDescriptor
	PrimaryKey  []string
	ForeignKeys []ForeignKeyDescriptor
}

// SchemaSnapshot is the catalog of a database at a point in time, keyed by
// "schema.table".
type SchemaSnapshot struct {
	ServerID    string
	DatabaseID  string
	CapturedAt  time.Time
	Tables      map[string]*TableDescriptor
	Fingerprint string
}

// CacheSource records which tier of the schema cache served a snapshot.
type CacheSource string

const (
	CacheSourceMemory CacheSource = "memory"
	CacheSourceFile   CacheSource = "file"
)

// SchemaCacheEntry wraps a cached SchemaSnapshot with cache bookkeeping.
type SchemaCacheEntry struct {
	Snapshot *SchemaSnapshot
	StoredAt time.Time
	Source   CacheSource
}

// GeneratedSQL is stage 3's output: an LLM-produced statement plus the
// tables/columns it claims to reference, used by the validator's
// grounded-reference check.
type GeneratedSQL struct {
	StatementText     string
	ModelRationale    string
	ReferencedTables  map[string]struct{}
	ReferencedColumns map[string]struct{}
}

// ValidatedSQL is stage 4's output: the (possibly rewritten) statement plus
// any rule violations and non-fatal warnings collected along the way.
type ValidatedSQL struct {
	StatementText string
	ViolatedRules []string
	Warnings      []string
	// EffectiveRowCap is the row cap actually embedded in StatementText's
	// LIMIT/TOP clause (post-clamp), the same bound the executor must use
	// for its own rowCap+1 truncation-detection materialization.
	EffectiveRowCap int
}

// QueryResults is stage 5's output.
type QueryResults struct {
	ColumnNames []string
	ColumnTypes []ColumnDataType
	Rows        [][]any
	RowCount    int
	Truncated   bool
	Elapsed     time.Duration
}

// Interpretation is stage 6's output.
type Interpretation struct {
	NarrativeText       string
	FollowUpSuggestions []string
}

// ExportArtifacts is stage 7's output.
type ExportArtifacts struct {
	CSVPath         string
	SpreadsheetPath string
	RowCount        int
	CreatedAt       time.Time
}

// ChartKind is the chart type stage 8 selected, or "none" if the result
// shape wasn't suitable for any chart.
type ChartKind string

const (
	ChartKindBar     ChartKind = "bar"
	ChartKindLine    ChartKind = "line"
	ChartKindPie     ChartKind = "pie"
	ChartKindHeatmap ChartKind = "heatmap"
	ChartKindNone    ChartKind = "none"
)

// VisualizationArtifact is stage 8's output.
type VisualizationArtifact struct {
	PNGPath      string
	ChartKind    ChartKind
	ReasonIfNone string
}
