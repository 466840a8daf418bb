package adapter

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

func TestCancelRegistry_RegisterAndCancelInvokesFunc(t *testing.T) {
	r := newCancelRegistry()
	called := false
	r.register("tok", func() { called = true })
	r.Cancel("tok")
	if !called {
		t.Error("expected the registered cancel func to be invoked")
	}
}

func TestCancelRegistry_CancelUnknownTokenIsNoOp(t *testing.T) {
	r := newCancelRegistry()
	r.Cancel("no-such-token") // must not panic
}

func TestCancelRegistry_ReleaseWithoutCancelDoesNotInvoke(t *testing.T) {
	r := newCancelRegistry()
	called := false
	r.register("tok", func() { called = true })
	r.release("tok")
	r.Cancel("tok")
	if called {
		t.Error("expected release to remove the token before Cancel could invoke it")
	}
}

func TestCancelRegistry_EmptyTokenIsIgnored(t *testing.T) {
	r := newCancelRegistry()
	r.register("", func() { t.Error("should never be invoked") })
	r.release("")
	r.Cancel("")
}

func TestCancelRegistry_WithTimeoutAndTokenCleansUp(t *testing.T) {
	r := newCancelRegistry()
	ctx, cleanup := r.withTimeoutAndToken(context.Background(), "tok", time.Second)
	if ctx.Err() != nil {
		t.Fatal("context should not be done yet")
	}
	cleanup()
	r.mu.Lock()
	_, stillRegistered := r.cancels["tok"]
	r.mu.Unlock()
	if stillRegistered {
		t.Error("expected cleanup to release the token")
	}
}

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestScanRows_ReturnsColumnsAndRows(t *testing.T) {
	db := openMemoryDB(t)
	if _, err := db.Exec(`CREATE TABLE widgets (id INTEGER, name TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO widgets VALUES (1, 'a'), (2, 'b')`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	result, err := scanRows(context.Background(), db, "SELECT id, name FROM widgets ORDER BY id", -1)
	if err != nil {
		t.Fatalf("scanRows failed: %v", err)
	}
	if result.RowCount != 2 || result.Truncated {
		t.Errorf("expected 2 untruncated rows, got %d (truncated=%v)", result.RowCount, result.Truncated)
	}
	if result.Rows[0]["name"] != "a" {
		t.Errorf("expected first row name 'a', got %v", result.Rows[0]["name"])
	}
}

func TestScanRows_TruncatesAtRowCap(t *testing.T) {
	db := openMemoryDB(t)
	if _, err := db.Exec(`CREATE TABLE widgets (id INTEGER)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := db.Exec(`INSERT INTO widgets VALUES (?)`, i); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	result, err := scanRows(context.Background(), db, "SELECT id FROM widgets ORDER BY id", 2)
	if err != nil {
		t.Fatalf("scanRows failed: %v", err)
	}
	if !result.Truncated {
		t.Error("expected Truncated=true when rows exceed rowCap")
	}
	if result.RowCount != 3 {
		t.Errorf("expected exactly rowCap+1 (3) rows materialized, got %d", result.RowCount)
	}
}

func TestScanRows_UnboundedRowCapReturnsEverything(t *testing.T) {
	db := openMemoryDB(t)
	if _, err := db.Exec(`CREATE TABLE widgets (id INTEGER)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := db.Exec(`INSERT INTO widgets VALUES (?)`, i); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	result, err := scanRows(context.Background(), db, "SELECT id FROM widgets", -1)
	if err != nil {
		t.Fatalf("scanRows failed: %v", err)
	}
	if result.Truncated || result.RowCount != 5 {
		t.Errorf("expected all 5 rows untruncated, got %d (truncated=%v)", result.RowCount, result.Truncated)
	}
}

func TestScanRows_QueryErrorIsReturned(t *testing.T) {
	db := openMemoryDB(t)
	if _, err := scanRows(context.Background(), db, "SELECT * FROM nonexistent_table", -1); err == nil {
		t.Fatal("expected an error querying a nonexistent table")
	}
}

func TestSQLiteAdapter_DescribeCatalogGroupsCompositeForeignKeys(t *testing.T) {
	a := NewSQLiteAdapter(&SQLiteConfig{FilePath: ":memory:"})
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer a.Close()

	ddl := []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, region TEXT)`,
		`CREATE TABLE orders (
			order_id INTEGER,
			customer_id INTEGER,
			customer_region TEXT,
			PRIMARY KEY (order_id),
			FOREIGN KEY (customer_id, customer_region) REFERENCES customers(id, region)
		)`,
	}
	for _, stmt := range ddl {
		if _, err := a.db.Exec(stmt); err != nil {
			t.Fatalf("ddl %q: %v", stmt, err)
		}
	}

	tables, err := a.DescribeCatalog(context.Background())
	if err != nil {
		t.Fatalf("DescribeCatalog failed: %v", err)
	}

	var orders *RawCatalogTable
	for i := range tables {
		if tables[i].Name == "orders" {
			orders = &tables[i]
		}
	}
	if orders == nil {
		t.Fatal("expected an 'orders' table in the catalog")
	}
	if len(orders.ForeignKeys) != 1 {
		t.Fatalf("expected the composite FK to collapse into 1 entry, got %d", len(orders.ForeignKeys))
	}
	fk := orders.ForeignKeys[0]
	if len(fk.LocalColumns) != 2 || len(fk.ReferencedColumns) != 2 {
		t.Errorf("expected 2 local and 2 referenced columns in the composite key, got %+v", fk)
	}
	if fk.ReferencedTable != "customers" {
		t.Errorf("expected the FK to reference 'customers', got %q", fk.ReferencedTable)
	}
}

func TestSQLiteAdapter_DescribeCatalogMarksPrimaryKey(t *testing.T) {
	a := NewSQLiteAdapter(&SQLiteConfig{FilePath: ":memory:"})
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer a.Close()

	if _, err := a.db.Exec(`CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`); err != nil {
		t.Fatalf("ddl: %v", err)
	}

	tables, err := a.DescribeCatalog(context.Background())
	if err != nil {
		t.Fatalf("DescribeCatalog failed: %v", err)
	}
	if len(tables) != 1 {
		t.Fatalf("expected exactly 1 table, got %d", len(tables))
	}
	widgets := tables[0]
	if len(widgets.PrimaryKey) != 1 || widgets.PrimaryKey[0] != "id" {
		t.Errorf("expected primary key [id], got %v", widgets.PrimaryKey)
	}
	for _, col := range widgets.Columns {
		if col.Name == "name" && col.Nullable {
			t.Error("expected 'name' to be reported not-nullable")
		}
	}
}

func TestMySQLFKPattern_ExtractsLocalAndReferencedColumns(t *testing.T) {
	ddl := "CREATE TABLE `orders` (\n  `id` int,\n  `customer_id` int,\n" +
		"  CONSTRAINT `fk_customer` FOREIGN KEY (`customer_id`) REFERENCES `customers` (`id`)\n) ENGINE=InnoDB"

	matches := mysqlFKPattern.FindAllStringSubmatch(ddl, -1)
	if len(matches) != 1 {
		t.Fatalf("expected exactly 1 FK match, got %d", len(matches))
	}
	local := splitBacktickedColumns(matches[0][1])
	referenced := splitBacktickedColumns(matches[0][3])
	if len(local) != 1 || local[0] != "customer_id" {
		t.Errorf("expected local column 'customer_id', got %v", local)
	}
	if matches[0][2] != "customers" {
		t.Errorf("expected referenced table 'customers', got %q", matches[0][2])
	}
	if len(referenced) != 1 || referenced[0] != "id" {
		t.Errorf("expected referenced column 'id', got %v", referenced)
	}
}

func TestSplitBacktickedColumns_MultipleColumns(t *testing.T) {
	cols := splitBacktickedColumns("`a`, `b`, `c`")
	if len(cols) != 3 || cols[0] != "a" || cols[1] != "b" || cols[2] != "c" {
		t.Errorf("expected [a b c], got %v", cols)
	}
}

func TestEscapePGLiteral_DoublesSingleQuotes(t *testing.T) {
	out := escapePGLiteral("o'brien")
	if out != "o''brien" {
		t.Errorf("expected o''brien, got %q", out)
	}
}

func TestNewAdapter_UnsupportedTypeIsAnError(t *testing.T) {
	_, err := NewAdapter(&DBConfig{Type: "mongodb"})
	if err == nil {
		t.Fatal("expected an error for an unsupported database type")
	}
	if _, ok := err.(*UnsupportedDatabaseError); !ok {
		t.Errorf("expected *UnsupportedDatabaseError, got %T", err)
	}
}

func TestNewAdapter_DispatchesByType(t *testing.T) {
	cases := []struct {
		dbType string
		want   string
	}{
		{"mysql", "MySQL"},
		{"postgresql", "PostgreSQL"},
		{"sqlite", "SQLite"},
	}
	for _, c := range cases {
		a, err := NewAdapter(&DBConfig{Type: c.dbType, FilePath: ":memory:"})
		if err != nil {
			t.Fatalf("NewAdapter(%q) failed: %v", c.dbType, err)
		}
		if a.GetDatabaseType() != c.want {
			t.Errorf("expected %q, got %q", c.want, a.GetDatabaseType())
		}
	}
}
