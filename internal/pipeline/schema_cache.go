package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"reactsql/internal/adapter"
)

// SchemaCache is stage 2: the two-tier (memory + file) schema cache with
// singleflight-coalesced catalog fetches. Exactly one DescribeCatalog call
// is ever in flight per (server, database) key at a time, regardless of
// how many goroutines call Get concurrently for that key.
type SchemaCache struct {
	mu      sync.RWMutex
	memory  map[string]*SchemaCacheEntry
	group   singleflight.Group
	dir     string
	ttl     time.Duration
	enabled bool
}

// NewSchemaCache builds a cache rooted at dir with the given freshness
// window. enabled=false makes every Get perform a catalog fetch, per the
// schema_cache.enabled option.
func NewSchemaCache(dir string, ttl time.Duration, enabled bool) *SchemaCache {
	return &SchemaCache{
		memory:  make(map[string]*SchemaCacheEntry),
		dir:     dir,
		ttl:     ttl,
		enabled: enabled,
	}
}

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

func sanitize(s string) string {
	return nonAlnum.ReplaceAllString(s, "_")
}

func cacheKey(serverID, databaseID string) string {
	return serverID + "\x00" + databaseID
}

func (c *SchemaCache) filePath(serverID, databaseID string) string {
	return filepath.Join(c.dir, fmt.Sprintf("schema_%s_%s.json", sanitize(serverID), sanitize(databaseID)))
}

func (c *SchemaCache) isFresh(entry *SchemaCacheEntry) bool {
	return time.Since(entry.StoredAt) < c.ttl
}

// Get returns a SchemaSnapshot for (serverID, databaseID), following the
// lookup order: memory, file, catalog fetch via gateway.
func (c *SchemaCache) Get(ctx context.Context, serverID, databaseID string, gateway adapter.DBAdapter) (*SchemaSnapshot, CacheSource, error) {
	key := cacheKey(serverID, databaseID)

	if c.enabled {
		if entry, ok := c.memoryGet(key); ok {
			return entry.Snapshot, CacheSourceMemory, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if c.enabled {
			if entry, ok := c.memoryGet(key); ok {
				return &cacheHit{entry.Snapshot, CacheSourceMemory}, nil
			}
			if entry, ok := c.fileGet(serverID, databaseID); ok {
				c.memorySet(key, entry)
				return &cacheHit{entry.Snapshot, CacheSourceFile}, nil
			}
		}

		snapshot, err := buildSnapshot(ctx, gateway, serverID, databaseID)
		if err != nil {
			return nil, err
		}

		entry := &SchemaCacheEntry{Snapshot: snapshot, StoredAt: time.Now(), Source: CacheSourceMemory}
		if c.enabled {
			c.memorySet(key, entry)
			_ = c.fileSet(serverID, databaseID, entry) // best-effort; a failed write just means the next miss refetches
		}
		return &cacheHit{snapshot, CacheSourceFile}, nil
	})
	if err != nil {
		return nil, "", err
	}

	hit := v.(*cacheHit)
	return hit.snapshot, hit.source, nil
}

type cacheHit struct {
	snapshot *SchemaSnapshot
	source   CacheSource
}

func (c *SchemaCache) memoryGet(key string) (*SchemaCacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.memory[key]
	if !ok || !c.isFresh(entry) {
		return nil, false
	}
	return entry, true
}

func (c *SchemaCache) memorySet(key string, entry *SchemaCacheEntry) {
	c.mu.Lock()
	c.memory[key] = entry
	c.mu.Unlock()
}

// fileGet reads and parses the file tier. A missing, unreadable, or
// malformed file is treated as absent, never as an error.
func (c *SchemaCache) fileGet(serverID, databaseID string) (*SchemaCacheEntry, bool) {
	data, err := os.ReadFile(c.filePath(serverID, databaseID))
	if err != nil {
		return nil, false
	}

	var doc cacheFileV1
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false
	}

	snapshot, err := doc.toSnapshot()
	if err != nil {
		return nil, false
	}

	entry := &SchemaCacheEntry{Snapshot: snapshot, StoredAt: snapshot.CapturedAt, Source: CacheSourceFile}
	if !c.isFresh(entry) {
		return nil, false
	}
	return entry, true
}

// fileSet writes the file tier via write-to-temp + rename, so a crash mid
// write never leaves a partial file observable to readers.
func (c *SchemaCache) fileSet(serverID, databaseID string, entry *SchemaCacheEntry) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}

	doc := fromSnapshot(entry.Snapshot)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	finalPath := c.filePath(serverID, databaseID)
	tmp, err := os.CreateTemp(c.dir, ".schema_*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, finalPath)
}

// Invalidate clears both tiers for one key.
func (c *SchemaCache) Invalidate(serverID, databaseID string) {
	key := cacheKey(serverID, databaseID)
	c.mu.Lock()
	delete(c.memory, key)
	c.mu.Unlock()
	os.Remove(c.filePath(serverID, databaseID))
}

// ClearAll removes every entry from both tiers.
func (c *SchemaCache) ClearAll() {
	c.mu.Lock()
	c.memory = make(map[string]*SchemaCacheEntry)
	c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			os.Remove(filepath.Join(c.dir, e.Name()))
		}
	}
}

// cacheFileV1 is the on-disk JSON shape described in the filesystem layout:
// version 1, server/database identity, capture time, fingerprint, and the
// table list. Readers must accept unknown top-level keys, hence the
// permissive json.Unmarshal into a dedicated struct rather than decoding
// straight into SchemaSnapshot.
type cacheFileV1 struct {
	Version     int               `json:"version"`
	ServerID    string            `json:"server_id"`
	DatabaseID  string            `json:"database_id"`
	CapturedAt  string            `json:"captured_at"`
	Fingerprint string            `json:"fingerprint"`
	Tables      []cacheFileTable  `json:"tables"`
}

type cacheFileTable struct {
	Schema      string                `json:"schema"`
	Name        string                `json:"name"`
	Kind        string                `json:"kind"`
	Columns     []cacheFileColumn     `json:"columns"`
	PrimaryKey  []string              `json:"primary_key"`
	ForeignKeys []cacheFileForeignKey `json:"foreign_keys"`
}

type cacheFileColumn struct {
	Name         string `json:"name"`
	DataType     string `json:"data_type"`
	Nullable     bool   `json:"nullable"`
	IsPrimaryKey bool   `json:"is_primary_key"`
}

type cacheFileForeignKey struct {
	LocalColumns      []string `json:"local_columns"`
	ReferencedSchema  string   `json:"referenced_schema"`
	ReferencedTable   string   `json:"referenced_table"`
	ReferencedColumns []string `json:"referenced_columns"`
}

func fromSnapshot(s *SchemaSnapshot) cacheFileV1 {
	doc := cacheFileV1{
		Version:     1,
		ServerID:    s.ServerID,
		DatabaseID:  s.DatabaseID,
		CapturedAt:  s.CapturedAt.UTC().Format(time.RFC3339),
		Fingerprint: s.Fingerprint,
	}
	for _, t := range s.Tables {
		ft := cacheFileTable{
			Schema:     t.SchemaName,
			Name:       t.TableName,
			Kind:       string(t.Kind),
			PrimaryKey: t.PrimaryKey,
		}
		for _, c := range t.Columns {
			ft.Columns = append(ft.Columns, cacheFileColumn{
				Name: c.Name, DataType: string(c.DataType), Nullable: c.Nullable, IsPrimaryKey: c.IsPrimaryKey,
			})
		}
		for _, fk := range t.ForeignKeys {
			ft.ForeignKeys = append(ft.ForeignKeys, cacheFileForeignKey{
				LocalColumns: fk.LocalColumns, ReferencedSchema: fk.ReferencedSchema,
				ReferencedTable: fk.ReferencedTable, ReferencedColumns: fk.ReferencedColumns,
			})
		}
		doc.Tables = append(doc.Tables, ft)
	}
	return doc
}

func (doc *cacheFileV1) toSnapshot() (*SchemaSnapshot, error) {
	capturedAt, err := time.Parse(time.RFC3339, doc.CapturedAt)
	if err != nil {
		return nil, fmt.Errorf("parse captured_at: %w", err)
	}

	tables := make(map[string]*TableDescriptor, len(doc.Tables))
	for _, ft := range doc.Tables {
		td := &TableDescriptor{
			SchemaName: ft.Schema,
			TableName:  ft.Name,
			Kind:       TableKind(ft.Kind),
			PrimaryKey: ft.PrimaryKey,
		}
		for _, c := range ft.Columns {
			td.Columns = append(td.Columns, ColumnDescriptor{
				Name: c.Name, DataType: ColumnDataType(c.DataType), Nullable: c.Nullable, IsPrimaryKey: c.IsPrimaryKey,
			})
		}
		for _, fk := range ft.ForeignKeys {
			td.ForeignKeys = append(td.ForeignKeys, ForeignKeyDescriptor{
				LocalColumns: fk.LocalColumns, ReferencedSchema: fk.ReferencedSchema,
				ReferencedTable: fk.ReferencedTable, ReferencedColumns: fk.ReferencedColumns,
			})
		}
		tables[ft.Schema+"."+ft.Name] = td
	}

	return &SchemaSnapshot{
		ServerID:    doc.ServerID,
		DatabaseID:  doc.DatabaseID,
		CapturedAt:  capturedAt,
		Tables:      tables,
		Fingerprint: doc.Fingerprint,
	}, nil
}
