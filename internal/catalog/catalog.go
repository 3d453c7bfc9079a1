// Package catalog implements the process-wide table-name-to-Schema
// mapping (spec.md §3 "Catalog"). Catalog guards its in-memory map and
// on-disk persistence with its own readers-writer lock, taken by every
// method, matching spec.md §9's "model as a readers-writer guarded structure owned by
// the server process; never as ambient module-level mutable state."
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minisql/minisql/internal/schema"
)

// Catalog holds every table's Schema, persisted as one <table>.meta JSON
// file per table under dataDir/<engine>/ (spec.md §6 on-disk layout).
type Catalog struct {
	mu      sync.RWMutex
	dataDir string
	tables  map[string]*schema.Schema
}

// New constructs an empty catalog rooted at dataDir.
func New(dataDir string) *Catalog {
	return &Catalog{dataDir: dataDir, tables: make(map[string]*schema.Schema)}
}

func metaPath(dataDir, engine, table string) string {
	return filepath.Join(dataDir, strings.ToLower(engine), table+".meta")
}

// Load scans dataDir for every <engine>/<table>.meta file and populates
// the in-memory catalog, used at server startup before WAL recovery.
func (c *Catalog) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := os.ReadDir(c.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("catalog: read data dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "wal" {
			continue
		}
		engineDir := filepath.Join(c.dataDir, e.Name())
		files, err := os.ReadDir(engineDir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if !strings.HasSuffix(f.Name(), ".meta") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(engineDir, f.Name())) // #nosec G304 -- controlled path from our own directory listing
			if err != nil {
				return fmt.Errorf("catalog: read %s: %w", f.Name(), err)
			}
			var sch schema.Schema
			if err := json.Unmarshal(data, &sch); err != nil {
				return fmt.Errorf("catalog: decode %s: %w", f.Name(), err)
			}
			c.tables[strings.ToLower(sch.Table)] = &sch
		}
	}
	return nil
}

// Get returns the schema for table, case-insensitively.
func (c *Catalog) Get(table string) (*schema.Schema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.tables[strings.ToLower(table)]
	return s, ok
}

// All returns every registered table name.
func (c *Catalog) All() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for _, s := range c.tables {
		names = append(names, s.Table)
	}
	return names
}

// Put registers (or replaces) a table's schema in memory and persists
// it to its .meta file via write-temp-then-rename (spec.md §6 "Atomic
// file swaps use write-temp-then-rename on the same filesystem").
func (c *Catalog) Put(sch *schema.Schema) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.persist(sch); err != nil {
		return err
	}
	c.tables[strings.ToLower(sch.Table)] = sch
	return nil
}

// Remove deletes a table's catalog entry and its .meta file.
func (c *Catalog) Remove(table string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sch, ok := c.tables[strings.ToLower(table)]
	if !ok {
		return nil
	}
	delete(c.tables, strings.ToLower(table))
	path := metaPath(c.dataDir, sch.Engine, sch.Table)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("catalog: remove meta: %w", err)
	}
	return nil
}

func (c *Catalog) persist(sch *schema.Schema) error {
	dir := filepath.Join(c.dataDir, strings.ToLower(sch.Engine))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("catalog: mkdir %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(sch, "", "  ")
	if err != nil {
		return fmt.Errorf("catalog: encode %s: %w", sch.Table, err)
	}
	path := metaPath(c.dataDir, sch.Engine, sch.Table)
	tmp, err := os.CreateTemp(dir, sch.Table+".meta.tmp.*")
	if err != nil {
		return fmt.Errorf("catalog: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("catalog: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("catalog: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("catalog: rename meta: %w", err)
	}
	return nil
}

// BumpAutoIncrement advances a table's auto-increment counter, never
// decreasing it (spec.md §4.1 INSERT step 2), and persists the change.
func (c *Catalog) BumpAutoIncrement(table string, atLeast int64) (next int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sch, ok := c.tables[strings.ToLower(table)]
	if !ok {
		return 0, fmt.Errorf("catalog: unknown table %q", table)
	}
	if atLeast > sch.AutoIncrement {
		sch.AutoIncrement = atLeast
	}
	if err := c.persist(sch); err != nil {
		return 0, err
	}
	return sch.AutoIncrement, nil
}
