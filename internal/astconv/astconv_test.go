package astconv

import (
	"testing"

	"github.com/minisql/minisql/internal/ast"
)

func TestParseRecognizesVacuumBeforeTheRealParser(t *testing.T) {
	c := New()
	stmt, err := c.Parse("VACUUM widgets")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	v, ok := stmt.(*ast.VacuumStmt)
	if !ok {
		t.Fatalf("Parse(VACUUM widgets) = %T, want *ast.VacuumStmt", stmt)
	}
	if v.Table != "widgets" {
		t.Errorf("VacuumStmt.Table = %q, want widgets", v.Table)
	}
}

func TestParseVacuumWithNoTableMeansEveryTable(t *testing.T) {
	c := New()
	stmt, err := c.Parse("VACUUM")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	v, ok := stmt.(*ast.VacuumStmt)
	if !ok || v.Table != "" {
		t.Errorf("Parse(VACUUM) should yield an empty Table meaning every table, got %#v", stmt)
	}
}

func TestParseCreateTableCapturesColumnsAndConstraints(t *testing.T) {
	c := New()
	stmt, err := c.Parse("CREATE TABLE widgets (id INT PRIMARY KEY AUTO_INCREMENT, sku TEXT UNIQUE, name TEXT NOT NULL)")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ct, ok := stmt.(*ast.CreateTableStmt)
	if !ok {
		t.Fatalf("Parse(CREATE TABLE) = %T, want *ast.CreateTableStmt", stmt)
	}
	if ct.Table != "widgets" || len(ct.Columns) != 3 {
		t.Fatalf("unexpected CreateTableStmt: %#v", ct)
	}
	if !ct.Columns[0].PrimaryKey || !ct.Columns[0].AutoIncrement {
		t.Errorf("id column should be PRIMARY KEY AUTO_INCREMENT, got %#v", ct.Columns[0])
	}
	if !ct.Columns[1].Unique {
		t.Errorf("sku column should be UNIQUE, got %#v", ct.Columns[1])
	}
	if !ct.Columns[2].NotNull {
		t.Errorf("name column should be NOT NULL, got %#v", ct.Columns[2])
	}
}

func TestParseAlterTableEngine(t *testing.T) {
	c := New()
	stmt, err := c.Parse("ALTER TABLE widgets ENGINE = SANDSTONE")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	alt, ok := stmt.(*ast.AlterTableEngineStmt)
	if !ok {
		t.Fatalf("Parse(ALTER TABLE ... ENGINE) = %T, want *ast.AlterTableEngineStmt", stmt)
	}
	if alt.Table != "widgets" || alt.Engine != "SANDSTONE" {
		t.Errorf("unexpected AlterTableEngineStmt: %#v", alt)
	}
}

func TestParseRejectsMultipleStatements(t *testing.T) {
	c := New()
	if _, err := c.Parse("SELECT 1; SELECT 2;"); err == nil {
		t.Errorf("Parse should reject more than one statement per request")
	}
}

func TestParseSelectWithWhereAndOrderBy(t *testing.T) {
	c := New()
	stmt, err := c.Parse("SELECT id, name FROM widgets WHERE id > 1 ORDER BY name DESC LIMIT 5")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sel, ok := stmt.(*ast.SelectStmt)
	if !ok {
		t.Fatalf("Parse(SELECT) = %T, want *ast.SelectStmt", stmt)
	}
	if sel.From.Name != "widgets" {
		t.Errorf("From.Name = %q, want widgets", sel.From.Name)
	}
	if len(sel.Columns) != 2 {
		t.Errorf("expected 2 select columns, got %d", len(sel.Columns))
	}
	if sel.Where == nil {
		t.Errorf("expected a WHERE clause")
	}
	if len(sel.OrderBy) != 1 || !sel.OrderBy[0].Desc {
		t.Errorf("expected one DESC order item, got %#v", sel.OrderBy)
	}
	if sel.Limit == nil || *sel.Limit != 5 {
		t.Errorf("expected LIMIT 5, got %v", sel.Limit)
	}
}
