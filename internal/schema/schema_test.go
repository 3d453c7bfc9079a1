package schema

import "testing"

func TestParseDataType(t *testing.T) {
	cases := map[string]DataType{
		"INT":     TypeInteger,
		"BIGINT":  TypeInteger,
		"FLOAT":   TypeFloat,
		"DOUBLE":  TypeFloat,
		"JSON":    TypeJSON,
		"VARCHAR": TypeText,
		"unknown": TypeText,
	}
	for name, want := range cases {
		if got := ParseDataType(name); got != want {
			t.Errorf("ParseDataType(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestColumnIndexIsCaseInsensitive(t *testing.T) {
	s := &Schema{Table: "t", Columns: []Column{{Name: "Id"}, {Name: "Name"}}}
	if s.ColumnIndex("id") != 0 {
		t.Errorf("ColumnIndex(id) should match Id case-insensitively")
	}
	if s.ColumnIndex("NAME") != 1 {
		t.Errorf("ColumnIndex(NAME) should match Name case-insensitively")
	}
	if s.ColumnIndex("missing") != -1 {
		t.Errorf("ColumnIndex(missing) should be -1")
	}
}

func TestValidateRejectsDuplicateColumnNames(t *testing.T) {
	s := &Schema{Table: "t", Columns: []Column{{Name: "id"}, {Name: "ID"}}}
	if err := s.Validate(); err == nil {
		t.Errorf("Validate should reject case-insensitively duplicate column names")
	}
}

func TestValidateRejectsNonIntegerAutoIncrement(t *testing.T) {
	s := &Schema{Table: "t", Columns: []Column{{Name: "id", Type: TypeText, AutoIncrement: true, PrimaryKey: true}}}
	if err := s.Validate(); err == nil {
		t.Errorf("Validate should reject a non-INTEGER AUTO_INCREMENT column")
	}
}

func TestValidateRejectsAutoIncrementWithoutUniqueKey(t *testing.T) {
	s := &Schema{Table: "t", Columns: []Column{{Name: "id", Type: TypeInteger, AutoIncrement: true}}}
	if err := s.Validate(); err == nil {
		t.Errorf("Validate should reject AUTO_INCREMENT column not part of a unique key")
	}
}

func TestValidateRejectsMultipleAutoIncrementColumns(t *testing.T) {
	s := &Schema{Table: "t", Columns: []Column{
		{Name: "a", Type: TypeInteger, AutoIncrement: true, PrimaryKey: true},
		{Name: "b", Type: TypeInteger, AutoIncrement: true, Unique: true},
	}}
	if err := s.Validate(); err == nil {
		t.Errorf("Validate should reject more than one AUTO_INCREMENT column")
	}
}

func TestValidateAcceptsWellFormedSchema(t *testing.T) {
	s := &Schema{Table: "t", Columns: []Column{
		{Name: "id", Type: TypeInteger, AutoIncrement: true, PrimaryKey: true},
		{Name: "name", Type: TypeText},
	}}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate rejected a well-formed schema: %v", err)
	}
}

func TestEnsurePrimaryIndexAddsImplicitIndex(t *testing.T) {
	s := &Schema{Table: "widgets", Columns: []Column{{Name: "id", PrimaryKey: true}}}
	s.EnsurePrimaryIndex()
	if len(s.Indexes) != 1 {
		t.Fatalf("expected one implicit primary index, got %d", len(s.Indexes))
	}
	if s.Indexes[0].Name != PrimaryIndexName("widgets") {
		t.Errorf("implicit index name = %q, want %q", s.Indexes[0].Name, PrimaryIndexName("widgets"))
	}
	if !s.Indexes[0].Unique || !s.Indexes[0].IsPrimary {
		t.Errorf("implicit primary index must be unique and marked IsPrimary")
	}
}

func TestEnsurePrimaryIndexIsIdempotent(t *testing.T) {
	s := &Schema{Table: "widgets", Columns: []Column{{Name: "id", PrimaryKey: true}}}
	s.EnsurePrimaryIndex()
	s.EnsurePrimaryIndex()
	if len(s.Indexes) != 1 {
		t.Errorf("calling EnsurePrimaryIndex twice should not duplicate the index, got %d", len(s.Indexes))
	}
}

func TestEnsurePrimaryIndexNoOpWithoutPrimaryKey(t *testing.T) {
	s := &Schema{Table: "widgets", Columns: []Column{{Name: "id"}}}
	s.EnsurePrimaryIndex()
	if len(s.Indexes) != 0 {
		t.Errorf("EnsurePrimaryIndex should no-op when no column is a primary key")
	}
}

func TestCloneIsIndependentOfOriginal(t *testing.T) {
	s := &Schema{Table: "t", Columns: []Column{{Name: "id"}}, Indexes: []Index{{Name: "PRIMARY_t", Columns: []int{0}}}}
	cp := s.Clone()
	cp.Columns[0].Name = "changed"
	cp.Indexes[0].Columns[0] = 99
	if s.Columns[0].Name == "changed" {
		t.Errorf("mutating the clone's columns must not affect the original")
	}
	if s.Indexes[0].Columns[0] == 99 {
		t.Errorf("mutating the clone's index columns must not affect the original")
	}
}

func TestAutoIncrementColumnAndPrimaryKeyColumns(t *testing.T) {
	s := &Schema{Table: "t", Columns: []Column{
		{Name: "id", Type: TypeInteger, AutoIncrement: true, PrimaryKey: true},
		{Name: "other", PrimaryKey: true},
		{Name: "name"},
	}}
	if s.AutoIncrementColumn() != 0 {
		t.Errorf("AutoIncrementColumn() = %d, want 0", s.AutoIncrementColumn())
	}
	pk := s.PrimaryKeyColumns()
	if len(pk) != 2 || pk[0] != 0 || pk[1] != 1 {
		t.Errorf("PrimaryKeyColumns() = %v, want [0 1]", pk)
	}
}
