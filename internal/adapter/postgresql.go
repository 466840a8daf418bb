package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// PostgreSQLAdapter PostgreSQL adapter
type PostgreSQLAdapter struct {
	db       *sql.DB
	config   *PostgreSQLConfig
	inflight *cancelRegistry
}

// PostgreSQLConfig PostgreSQL connection config
type PostgreSQLConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string // disable, require, verify-ca, verify-full
}

// NewPostgreSQLAdapter creates PostgreSQL adapter
func NewPostgreSQLAdapter(config *PostgreSQLConfig) *PostgreSQLAdapter {
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}
	return &PostgreSQLAdapter{
		config:   config,
		inflight: newCancelRegistry(),
	}
}

// Connect connects to database
func (a *PostgreSQLAdapter) Connect(ctx context.Context) error {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		a.config.Host,
		a.config.Port,
		a.config.User,
		a.config.Password,
		a.config.Database,
		a.config.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	a.db = db
	return nil
}

// Close closes connection
func (a *PostgreSQLAdapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// ExecuteQuery executes query
func (a *PostgreSQLAdapter) ExecuteQuery(ctx context.Context, query string) (*QueryResult, error) {
	return scanRows(ctx, a.db, query, -1)
}

// RunReadOnly executes query under a statement timeout, stopping after
// rowCap+1 rows so the caller can detect truncation.
func (a *PostgreSQLAdapter) RunReadOnly(ctx context.Context, token, query string, timeout time.Duration, rowCap int) (*QueryResult, error) {
	tctx, cleanup := a.inflight.withTimeoutAndToken(ctx, token, timeout)
	defer cleanup()
	return scanRows(tctx, a.db, query, rowCap)
}

// Cancel aborts the RunReadOnly call registered under token, if still running.
func (a *PostgreSQLAdapter) Cancel(token string) {
	a.inflight.Cancel(token)
}

// GetDatabaseType gets database type
func (a *PostgreSQLAdapter) GetDatabaseType() string {
	return "PostgreSQL"
}

// GetDatabaseVersion gets database version
func (a *PostgreSQLAdapter) GetDatabaseVersion(ctx context.Context) (string, error) {
	result, err := a.ExecuteQuery(ctx, "SELECT version() as version")
	if err != nil {
		return "", err
	}
	if result.Error != "" {
		return "", fmt.Errorf(result.Error)
	}
	if len(result.Rows) > 0 {
		if version, ok := result.Rows[0]["version"].(string); ok {
			return version, nil
		}
	}
	return "unknown", nil
}

// DescribeCatalog introspects every base table and view in the "public"
// schema via information_schema, including primary keys and foreign keys.
func (a *PostgreSQLAdapter) DescribeCatalog(ctx context.Context) ([]RawCatalogTable, error) {
	names, err := a.ExecuteQuery(ctx, `
		SELECT table_name, table_type
		FROM information_schema.tables
		WHERE table_schema = 'public'
		ORDER BY table_name`)
	if err != nil {
		return nil, err
	}

	tables := make([]RawCatalogTable, 0, len(names.Rows))
	for _, row := range names.Rows {
		name, _ := row["table_name"].(string)
		kind := "table"
		if tt, _ := row["table_type"].(string); strings.Contains(strings.ToUpper(tt), "VIEW") {
			kind = "view"
		}

		columns, err := a.describeColumns(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("describe columns for %s: %w", name, err)
		}
		pk, err := a.describePrimaryKey(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("describe primary key for %s: %w", name, err)
		}
		fks, err := a.describeForeignKeys(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("describe foreign keys for %s: %w", name, err)
		}

		tables = append(tables, RawCatalogTable{
			Schema:      "public",
			Name:        name,
			Kind:        kind,
			Columns:     columns,
			PrimaryKey:  pk,
			ForeignKeys: fks,
		})
	}
	return tables, nil
}

func (a *PostgreSQLAdapter) describeColumns(ctx context.Context, table string) ([]RawCatalogColumn, error) {
	result, err := a.ExecuteQuery(ctx, fmt.Sprintf(`
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = '%s'
		ORDER BY ordinal_position`, escapePGLiteral(table)))
	if err != nil {
		return nil, err
	}

	columns := make([]RawCatalogColumn, 0, len(result.Rows))
	for _, row := range result.Rows {
		name, _ := row["column_name"].(string)
		dbType, _ := row["data_type"].(string)
		nullable, _ := row["is_nullable"].(string)
		columns = append(columns, RawCatalogColumn{
			Name:     name,
			DBType:   dbType,
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	return columns, nil
}

func (a *PostgreSQLAdapter) describePrimaryKey(ctx context.Context, table string) ([]string, error) {
	result, err := a.ExecuteQuery(ctx, fmt.Sprintf(`
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = 'public' AND tc.table_name = '%s'
		ORDER BY kcu.ordinal_position`, escapePGLiteral(table)))
	if err != nil {
		return nil, err
	}
	pk := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		if name, ok := row["column_name"].(string); ok {
			pk = append(pk, name)
		}
	}
	return pk, nil
}

func (a *PostgreSQLAdapter) describeForeignKeys(ctx context.Context, table string) ([]RawCatalogForeignKey, error) {
	result, err := a.ExecuteQuery(ctx, fmt.Sprintf(`
		SELECT
		  kcu.column_name AS local_column,
		  ccu.table_schema AS referenced_schema,
		  ccu.table_name AS referenced_table,
		  ccu.column_name AS referenced_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = 'public' AND tc.table_name = '%s'
		ORDER BY kcu.ordinal_position`, escapePGLiteral(table)))
	if err != nil {
		return nil, err
	}

	var fks []RawCatalogForeignKey
	for _, row := range result.Rows {
		local, _ := row["local_column"].(string)
		refSchema, _ := row["referenced_schema"].(string)
		refTable, _ := row["referenced_table"].(string)
		refCol, _ := row["referenced_column"].(string)
		fks = append(fks, RawCatalogForeignKey{
			LocalColumns:      []string{local},
			ReferencedSchema:  refSchema,
			ReferencedTable:   refTable,
			ReferencedColumns: []string{refCol},
		})
	}
	return fks, nil
}

func escapePGLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
