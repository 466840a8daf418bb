package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLAdapter MySQL adapter
type MySQLAdapter struct {
	db       *sql.DB
	config   *MySQLConfig
	inflight *cancelRegistry
}

// MySQLConfig MySQL connection config
type MySQLConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// NewMySQLAdapter creates MySQL adapter
func NewMySQLAdapter(config *MySQLConfig) *MySQLAdapter {
	return &MySQLAdapter{
		config:   config,
		inflight: newCancelRegistry(),
	}
}

// Connect connects to database
func (a *MySQLAdapter) Connect(ctx context.Context) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		a.config.User,
		a.config.Password,
		a.config.Host,
		a.config.Port,
		a.config.Database,
	)

	db, err := sql.Open("mysql", dsn)
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
func (a *MySQLAdapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// ExecuteQuery executes query
func (a *MySQLAdapter) ExecuteQuery(ctx context.Context, query string) (*QueryResult, error) {
	return scanRows(ctx, a.db, query, -1)
}

// RunReadOnly executes query under a statement timeout, stopping after
// rowCap+1 rows so the caller can detect truncation.
func (a *MySQLAdapter) RunReadOnly(ctx context.Context, token, query string, timeout time.Duration, rowCap int) (*QueryResult, error) {
	tctx, cleanup := a.inflight.withTimeoutAndToken(ctx, token, timeout)
	defer cleanup()
	return scanRows(tctx, a.db, query, rowCap)
}

// Cancel aborts the RunReadOnly call registered under token, if still running.
func (a *MySQLAdapter) Cancel(token string) {
	a.inflight.Cancel(token)
}

// GetDatabaseType gets database type
func (a *MySQLAdapter) GetDatabaseType() string {
	return "MySQL"
}

// GetDatabaseVersion gets database version
func (a *MySQLAdapter) GetDatabaseVersion(ctx context.Context) (string, error) {
	result, err := a.ExecuteQuery(ctx, "SELECT VERSION() as version")
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

// DescribeCatalog introspects every base table and view in the connected
// schema via information_schema, and recovers foreign keys by parsing
// SHOW CREATE TABLE output (information_schema.key_column_usage alone
// does not distinguish FKs from plain unique keys on older MySQL).
func (a *MySQLAdapter) DescribeCatalog(ctx context.Context) ([]RawCatalogTable, error) {
	names, err := a.ExecuteQuery(ctx, `
		SELECT table_name, table_type
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		ORDER BY table_name`)
	if err != nil {
		return nil, err
	}

	tables := make([]RawCatalogTable, 0, len(names.Rows))
	for _, row := range names.Rows {
		name, _ := row["table_name"].(string)
		kind := "table"
		if tt, _ := row["table_type"].(string); strings.EqualFold(tt, "VIEW") {
			kind = "view"
		}

		columns, pk, err := a.describeColumns(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("describe columns for %s: %w", name, err)
		}

		fks, err := a.describeForeignKeys(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("describe foreign keys for %s: %w", name, err)
		}

		tables = append(tables, RawCatalogTable{
			Schema:      a.config.Database,
			Name:        name,
			Kind:        kind,
			Columns:     columns,
			PrimaryKey:  pk,
			ForeignKeys: fks,
		})
	}
	return tables, nil
}

func (a *MySQLAdapter) describeColumns(ctx context.Context, table string) ([]RawCatalogColumn, []string, error) {
	result, err := a.ExecuteQuery(ctx, fmt.Sprintf("DESCRIBE `%s`", table))
	if err != nil {
		return nil, nil, err
	}

	var columns []RawCatalogColumn
	var pk []string
	for _, row := range result.Rows {
		name, _ := row["Field"].(string)
		dbType, _ := row["Type"].(string)
		nullStr, _ := row["Null"].(string)
		key, _ := row["Key"].(string)

		columns = append(columns, RawCatalogColumn{
			Name:     name,
			DBType:   dbType,
			Nullable: strings.EqualFold(nullStr, "YES"),
		})
		if strings.EqualFold(key, "PRI") {
			pk = append(pk, name)
		}
	}
	return columns, pk, nil
}

var mysqlFKPattern = regexp.MustCompile("(?i)CONSTRAINT\\s+`[^`]+`\\s+FOREIGN KEY\\s*\\(([^)]+)\\)\\s*REFERENCES\\s+`([^`]+)`\\s*\\(([^)]+)\\)")

func (a *MySQLAdapter) describeForeignKeys(ctx context.Context, table string) ([]RawCatalogForeignKey, error) {
	result, err := a.ExecuteQuery(ctx, fmt.Sprintf("SHOW CREATE TABLE `%s`", table))
	if err != nil {
		return nil, err
	}
	if len(result.Rows) == 0 {
		return nil, nil
	}
	ddl, _ := result.Rows[0]["Create Table"].(string)

	var fks []RawCatalogForeignKey
	for _, m := range mysqlFKPattern.FindAllStringSubmatch(ddl, -1) {
		fks = append(fks, RawCatalogForeignKey{
			LocalColumns:      splitBacktickedColumns(m[1]),
			ReferencedSchema:  a.config.Database,
			ReferencedTable:   m[2],
			ReferencedColumns: splitBacktickedColumns(m[3]),
		})
	}
	return fks, nil
}

func splitBacktickedColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	cols := make([]string, 0, len(parts))
	for _, p := range parts {
		cols = append(cols, strings.Trim(strings.TrimSpace(p), "`"))
	}
	return cols
}

// scanRows runs query and materializes rows, stopping after rowCap+1 rows
// when rowCap >= 0 (rowCap < 0 means unbounded, used by internal callers
// like GetDatabaseVersion).
func scanRows(ctx context.Context, db *sql.DB, query string, rowCap int) (*QueryResult, error) {
	start := time.Now()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return &QueryResult{
			Error:         err.Error(),
			ExecutionTime: time.Since(start).Milliseconds(),
		}, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	typeNames := make([]string, len(colTypes))
	for i, ct := range colTypes {
		typeNames[i] = ct.DatabaseTypeName()
	}

	var result []map[string]interface{}
	truncated := false
	for rows.Next() {
		if rowCap >= 0 && len(result) >= rowCap+1 {
			truncated = true
			break
		}

		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			val := values[i]
			if b, ok := val.([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = val
			}
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &QueryResult{
		Columns:       columns,
		ColumnTypes:   typeNames,
		Rows:          result,
		RowCount:      len(result),
		Truncated:     truncated,
		ExecutionTime: time.Since(start).Milliseconds(),
	}, nil
}
