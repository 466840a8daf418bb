package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"reactsql/internal/adapter"
)

// buildSnapshot runs a full catalog fetch through gateway and converts the
// raw, dialect-specific rows into a SchemaSnapshot. This is the only place
// a RawCatalogTable is turned into a TableDescriptor.
func buildSnapshot(ctx context.Context, gateway adapter.DBAdapter, serverID, databaseID string) (*SchemaSnapshot, error) {
	raw, err := gateway.DescribeCatalog(ctx)
	if err != nil {
		return nil, newError(ErrCatalogFetchFailed, StageSchemaCache, "catalog fetch failed", err)
	}

	dialect := gateway.GetDatabaseType()
	tables := make(map[string]*TableDescriptor, len(raw))
	for _, rt := range raw {
		td := convertTable(rt, dialect)
		key := td.SchemaName + "." + td.TableName
		tables[key] = td
	}

	snapshot := &SchemaSnapshot{
		ServerID:   serverID,
		DatabaseID: databaseID,
		CapturedAt: time.Now(),
		Tables:     tables,
	}
	snapshot.Fingerprint = fingerprint(snapshot)
	return snapshot, nil
}

func convertTable(rt adapter.RawCatalogTable, dialect string) *TableDescriptor {
	kind := TableKindTable
	if strings.EqualFold(rt.Kind, "view") {
		kind = TableKindView
	}

	pkSet := make(map[string]struct{}, len(rt.PrimaryKey))
	for _, c := range rt.PrimaryKey {
		pkSet[c] = struct{}{}
	}

	columns := make([]ColumnDescriptor, 0, len(rt.Columns))
	for _, c := range rt.Columns {
		_, isPK := pkSet[c.Name]
		columns = append(columns, ColumnDescriptor{
			Name:         c.Name,
			DataType:     classifyDataType(c.DBType, dialect),
			Nullable:     c.Nullable,
			IsPrimaryKey: isPK,
		})
	}

	fks := make([]ForeignKeyDescriptor, 0, len(rt.ForeignKeys))
	for _, fk := range rt.ForeignKeys {
		fks = append(fks, ForeignKeyDescriptor{
			LocalColumns:      fk.LocalColumns,
			ReferencedSchema:  fk.ReferencedSchema,
			ReferencedTable:   fk.ReferencedTable,
			ReferencedColumns: fk.ReferencedColumns,
		})
	}

	return &TableDescriptor{
		SchemaName:  rt.Schema,
		TableName:   rt.Name,
		Kind:        kind,
		Columns:     columns,
		PrimaryKey:  append([]string{}, rt.PrimaryKey...),
		ForeignKeys: fks,
	}
}

// classifyDataType maps a dialect's raw type name to the logical category
// every downstream stage reasons about. Each dialect names its types
// differently (MySQL's DESCRIBE "int(11)"/"varchar(255)", PostgreSQL's
// information_schema "integer"/"character varying", SQLite's loose PRAGMA
// affinities "INTEGER"/"TEXT"/"NUMERIC") so this is a substring match
// against the lower-cased type name rather than an exact enum lookup.
func classifyDataType(dbType, dialect string) ColumnDataType {
	t := strings.ToLower(dbType)

	switch {
	case strings.Contains(t, "bool"):
		return ColumnTypeBoolean
	case strings.Contains(t, "datetime"), strings.Contains(t, "timestamp"):
		return ColumnTypeDateTime
	case strings.Contains(t, "date"):
		return ColumnTypeDate
	case strings.Contains(t, "blob"), strings.Contains(t, "binary"), strings.Contains(t, "bytea"):
		return ColumnTypeBinary
	case strings.Contains(t, "int"), strings.Contains(t, "serial"):
		return ColumnTypeInteger
	case strings.Contains(t, "decimal"), strings.Contains(t, "numeric"), strings.Contains(t, "float"),
		strings.Contains(t, "double"), strings.Contains(t, "real"):
		return ColumnTypeDecimal
	case strings.Contains(t, "char"), strings.Contains(t, "text"), strings.Contains(t, "clob"),
		strings.Contains(t, "json"), strings.Contains(t, "uuid"), strings.Contains(t, "enum"):
		return ColumnTypeText
	default:
		return ColumnTypeOther
	}
}

// fingerprint hashes the structural contents of a snapshot (table set,
// column set, and types) — deterministic regardless of map iteration order.
func fingerprint(s *SchemaSnapshot) string {
	keys := make([]string, 0, len(s.Tables))
	for k := range s.Tables {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, key := range keys {
		t := s.Tables[key]
		fmt.Fprintf(h, "table:%s:%s:%s\n", t.SchemaName, t.TableName, t.Kind)
		for _, c := range t.Columns {
			fmt.Fprintf(h, "col:%s:%s:%v:%v\n", c.Name, c.DataType, c.Nullable, c.IsPrimaryKey)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
