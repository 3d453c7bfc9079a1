package catalog

import (
	"testing"

	"github.com/minisql/minisql/internal/schema"
)

func TestPutThenGetRoundtrips(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)
	sch := &schema.Schema{Table: "widgets", Engine: "GRANITE", Columns: []schema.Column{{Name: "id"}}}
	if err := c.Put(sch); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok := c.Get("WIDGETS")
	if !ok {
		t.Fatalf("Get should find table case-insensitively")
	}
	if got.Table != "widgets" {
		t.Errorf("got table %q, want widgets", got.Table)
	}
}

func TestLoadReadsPersistedSchemasFromDisk(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)
	sch := &schema.Schema{Table: "widgets", Engine: "GRANITE", Columns: []schema.Column{{Name: "id"}}}
	if err := c.Put(sch); err != nil {
		t.Fatalf("Put: %v", err)
	}

	reloaded := New(dir)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, ok := reloaded.Get("widgets")
	if !ok {
		t.Fatalf("reloaded catalog should have widgets table")
	}
	if len(got.Columns) != 1 || got.Columns[0].Name != "id" {
		t.Errorf("reloaded schema columns = %v, want [id]", got.Columns)
	}
}

func TestLoadOnMissingDataDirIsNotAnError(t *testing.T) {
	c := New("/nonexistent/path/for/minisql/test")
	if err := c.Load(); err != nil {
		t.Errorf("Load on a missing data dir should succeed with an empty catalog, got %v", err)
	}
}

func TestRemoveDeletesCatalogEntryAndMetaFile(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)
	sch := &schema.Schema{Table: "widgets", Engine: "GRANITE"}
	if err := c.Put(sch); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Remove("widgets"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := c.Get("widgets"); ok {
		t.Errorf("widgets should no longer be in the catalog after Remove")
	}

	reloaded := New(dir)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := reloaded.Get("widgets"); ok {
		t.Errorf("widgets .meta file should be gone from disk after Remove")
	}
}

func TestBumpAutoIncrementNeverDecreases(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)
	sch := &schema.Schema{Table: "widgets", Engine: "GRANITE", AutoIncrement: 5}
	if err := c.Put(sch); err != nil {
		t.Fatalf("Put: %v", err)
	}

	next, err := c.BumpAutoIncrement("widgets", 3)
	if err != nil {
		t.Fatalf("BumpAutoIncrement: %v", err)
	}
	if next != 5 {
		t.Errorf("bumping below current value should keep it at 5, got %d", next)
	}

	next, err = c.BumpAutoIncrement("widgets", 10)
	if err != nil {
		t.Fatalf("BumpAutoIncrement: %v", err)
	}
	if next != 10 {
		t.Errorf("bumping above current value should advance to 10, got %d", next)
	}
}

func TestAllListsEveryRegisteredTable(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)
	_ = c.Put(&schema.Schema{Table: "a", Engine: "GRANITE"})
	_ = c.Put(&schema.Schema{Table: "b", Engine: "GRANITE"})
	names := c.All()
	if len(names) != 2 {
		t.Fatalf("All() returned %d names, want 2", len(names))
	}
}
