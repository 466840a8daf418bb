package adapter

import (
	"context"
	"sync"
	"time"
)

// DatabaseType database type enum
type DatabaseType string

const (
	MySQL      DatabaseType = "mysql"
	PostgreSQL DatabaseType = "postgresql"
	SQLite     DatabaseType = "sqlite"
)

// DBAdapter is the DatabaseGateway collaborator: connection lifecycle,
// catalog introspection, and bounded read-only execution. No adapter
// implementation here ever issues a write statement.
type DBAdapter interface {
	// Connect connects to database
	Connect(ctx context.Context) error

	// Close closes connection
	Close() error

	// ExecuteQuery runs a query with no timeout or row cap. Used for
	// adapter-internal bookkeeping (GetDatabaseVersion); the pipeline's
	// executor stage always goes through RunReadOnly instead.
	ExecuteQuery(ctx context.Context, query string) (*QueryResult, error)

	// RunReadOnly executes a single read-only statement under a statement
	// timeout, materializing at most rowCap+1 rows so the caller can detect
	// truncation. token identifies the call for a later Cancel.
	RunReadOnly(ctx context.Context, token, query string, timeout time.Duration, rowCap int) (*QueryResult, error)

	// Cancel aborts the in-flight RunReadOnly call registered under token,
	// if any is still running. A stale or unknown token is a no-op.
	Cancel(token string)

	// GetDatabaseType gets database type
	// Returns: "MySQL", "PostgreSQL", "SQLite" etc.
	GetDatabaseType() string

	// GetDatabaseVersion gets database version (optional)
	GetDatabaseVersion(ctx context.Context) (string, error)

	// DescribeCatalog introspects every table/view reachable on the current
	// connection, dialect-specific metadata still in raw form (the pipeline's
	// catalog builder turns this into TableDescriptor/ColumnDescriptor).
	DescribeCatalog(ctx context.Context) ([]RawCatalogTable, error)
}

// QueryResult query result (unified structure)
type QueryResult struct {
	Columns       []string                 // Column name
	ColumnTypes   []string                 // driver-reported type name per column, same order as Columns
	Rows          []map[string]interface{} // Data rows (unified map format)
	RowCount      int                      // Row count
	Truncated     bool                     // true if RunReadOnly stopped after rowCap+1 rows with more still unread
	ExecutionTime int64                    // Execution time (ms)
	Error         string                   // Error message (if any)
}

// RawCatalogColumn is one column row as reported by a dialect's
// introspection query/pragma, before dialect-specific type mapping.
type RawCatalogColumn struct {
	Name     string
	DBType   string // e.g. "varchar(255)", "int(11)", "TEXT"
	Nullable bool
}

// RawCatalogForeignKey is one foreign key constraint as reported by a
// dialect's introspection query.
type RawCatalogForeignKey struct {
	LocalColumns      []string
	ReferencedSchema  string
	ReferencedTable   string
	ReferencedColumns []string
}

// RawCatalogTable is one table or view as reported by DescribeCatalog,
// before conversion into pipeline.TableDescriptor.
type RawCatalogTable struct {
	Schema      string
	Name        string
	Kind        string // "table" | "view"
	Columns     []RawCatalogColumn
	PrimaryKey  []string
	ForeignKeys []RawCatalogForeignKey
}

// DBConfig database connection config (generic)
type DBConfig struct {
	Type     string // Database type: "mysql", "postgresql", "sqlite"
	Host     string // Host address
	Port     int    // Port
	Database string // Database name
	User     string // Username
	Password string // Password
	SSLMode  string // PostgreSQL only

	// SQLite specific
	FilePath string // SQLite file path

	// Connection pool config (optional)
	MaxOpenConns int // Max open connections
	MaxIdleConns int // Max idle connections
}

// NewAdapter factory: creates adapter based on config
func NewAdapter(config *DBConfig) (DBAdapter, error) {
	switch config.Type {
	case "mysql":
		return NewMySQLAdapter(&MySQLConfig{
			Host:     config.Host,
			Port:     config.Port,
			Database: config.Database,
			User:     config.User,
			Password: config.Password,
		}), nil
	case "postgresql":
		return NewPostgreSQLAdapter(&PostgreSQLConfig{
			Host:     config.Host,
			Port:     config.Port,
			Database: config.Database,
			User:     config.User,
			Password: config.Password,
			SSLMode:  config.SSLMode,
		}), nil
	case "sqlite":
		return NewSQLiteAdapter(&SQLiteConfig{
			FilePath: config.FilePath,
		}), nil
	default:
		return nil, &UnsupportedDatabaseError{Type: config.Type}
	}
}

// UnsupportedDatabaseError unsupported database type error
type UnsupportedDatabaseError struct {
	Type string
}

func (e *UnsupportedDatabaseError) Error() string {
	return "unsupported database type: " + e.Type
}

// cancelRegistry is the shared bookkeeping behind RunReadOnly/Cancel: every
// adapter implementation embeds one instead of reimplementing the map/mutex
// pair around context cancellation.
type cancelRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{cancels: make(map[string]context.CancelFunc)}
}

func (r *cancelRegistry) register(token string, cancel context.CancelFunc) {
	if token == "" {
		return
	}
	r.mu.Lock()
	r.cancels[token] = cancel
	r.mu.Unlock()
}

func (r *cancelRegistry) release(token string) {
	if token == "" {
		return
	}
	r.mu.Lock()
	delete(r.cancels, token)
	r.mu.Unlock()
}

func (r *cancelRegistry) Cancel(token string) {
	r.mu.Lock()
	cancel, ok := r.cancels[token]
	delete(r.cancels, token)
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// withTimeoutAndToken derives a cancellable, timeout-bound context for a
// single RunReadOnly call and returns the cleanup the caller must defer.
func (r *cancelRegistry) withTimeoutAndToken(parent context.Context, token string, timeout time.Duration) (context.Context, func()) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	r.register(token, cancel)
	return ctx, func() {
		cancel()
		r.release(token)
	}
}
