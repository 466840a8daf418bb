package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteAdapter SQLite adapter
type SQLiteAdapter struct {
	db       *sql.DB
	config   *SQLiteConfig
	inflight *cancelRegistry
}

// SQLiteConfig SQLite connection config
type SQLiteConfig struct {
	FilePath string // DB file path, ":memory:" for in-memory
}

// NewSQLiteAdapter creates SQLite adapter
func NewSQLiteAdapter(config *SQLiteConfig) *SQLiteAdapter {
	return &SQLiteAdapter{
		config:   config,
		inflight: newCancelRegistry(),
	}
}

// Connect connects to database
func (a *SQLiteAdapter) Connect(ctx context.Context) error {
	db, err := sql.Open("sqlite3", a.config.FilePath)
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
func (a *SQLiteAdapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// ExecuteQuery executes query
func (a *SQLiteAdapter) ExecuteQuery(ctx context.Context, query string) (*QueryResult, error) {
	return scanRows(ctx, a.db, query, -1)
}

// RunReadOnly executes query under a statement timeout, stopping after
// rowCap+1 rows so the caller can detect truncation.
func (a *SQLiteAdapter) RunReadOnly(ctx context.Context, token, query string, timeout time.Duration, rowCap int) (*QueryResult, error) {
	tctx, cleanup := a.inflight.withTimeoutAndToken(ctx, token, timeout)
	defer cleanup()
	return scanRows(tctx, a.db, query, rowCap)
}

// Cancel aborts the RunReadOnly call registered under token, if still running.
func (a *SQLiteAdapter) Cancel(token string) {
	a.inflight.Cancel(token)
}

// GetDatabaseType gets database type
func (a *SQLiteAdapter) GetDatabaseType() string {
	return "SQLite"
}

// GetDatabaseVersion gets database version
func (a *SQLiteAdapter) GetDatabaseVersion(ctx context.Context) (string, error) {
	result, err := a.ExecuteQuery(ctx, "SELECT sqlite_version() as version")
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

// DescribeCatalog introspects every table and view via sqlite_master plus
// the PRAGMA table_info/foreign_key_list pragmas.
func (a *SQLiteAdapter) DescribeCatalog(ctx context.Context) ([]RawCatalogTable, error) {
	names, err := a.ExecuteQuery(ctx, `
		SELECT name, type FROM sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, err
	}

	tables := make([]RawCatalogTable, 0, len(names.Rows))
	for _, row := range names.Rows {
		name, _ := row["name"].(string)
		kind, _ := row["type"].(string)

		columns, pk, err := a.describeColumns(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("describe columns for %s: %w", name, err)
		}
		fks, err := a.describeForeignKeys(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("describe foreign keys for %s: %w", name, err)
		}

		tables = append(tables, RawCatalogTable{
			Schema:      "main",
			Name:        name,
			Kind:        kind,
			Columns:     columns,
			PrimaryKey:  pk,
			ForeignKeys: fks,
		})
	}
	return tables, nil
}

func (a *SQLiteAdapter) describeColumns(ctx context.Context, table string) ([]RawCatalogColumn, []string, error) {
	result, err := a.ExecuteQuery(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteSQLiteIdent(table)))
	if err != nil {
		return nil, nil, err
	}

	var columns []RawCatalogColumn
	var pk []string
	for _, row := range result.Rows {
		name, _ := row["name"].(string)
		dbType, _ := row["type"].(string)
		notNull := asInt64(row["notnull"])
		pkOrder := asInt64(row["pk"])

		columns = append(columns, RawCatalogColumn{
			Name:     name,
			DBType:   dbType,
			Nullable: notNull == 0,
		})
		if pkOrder > 0 {
			pk = append(pk, name)
		}
	}
	return columns, pk, nil
}

func (a *SQLiteAdapter) describeForeignKeys(ctx context.Context, table string) ([]RawCatalogForeignKey, error) {
	result, err := a.ExecuteQuery(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", quoteSQLiteIdent(table)))
	if err != nil {
		return nil, err
	}

	// group rows by "id" — a composite FK spans several PRAGMA rows
	grouped := make(map[int64]*RawCatalogForeignKey)
	var order []int64
	for _, row := range result.Rows {
		id := asInt64(row["id"])
		refTable, _ := row["table"].(string)
		from, _ := row["from"].(string)
		to, _ := row["to"].(string)

		fk, ok := grouped[id]
		if !ok {
			fk = &RawCatalogForeignKey{ReferencedSchema: "main", ReferencedTable: refTable}
			grouped[id] = fk
			order = append(order, id)
		}
		fk.LocalColumns = append(fk.LocalColumns, from)
		fk.ReferencedColumns = append(fk.ReferencedColumns, to)
	}

	fks := make([]RawCatalogForeignKey, 0, len(order))
	for _, id := range order {
		fks = append(fks, *grouped[id])
	}
	return fks, nil
}

func quoteSQLiteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		var out int64
		fmt.Sscanf(n, "%d", &out)
		return out
	default:
		return 0
	}
}
