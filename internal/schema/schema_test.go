package schema

import "testing"

func TestAffinityFromTypeNameRuleOrder(t *testing.T) {
	cases := map[string]Affinity{
		"INTEGER":         AffinityInteger,
		"VARCHAR(10)":     AffinityText,
		"CLOB":            AffinityText,
		"BLOB":            AffinityBlob,
		"":                AffinityBlob,
		"REAL":            AffinityReal,
		"FLOAT":           AffinityReal,
		"DOUBLE":          AffinityReal,
		"NUMERIC":         AffinityNumeric,
		"DECIMAL(10,5)":   AffinityNumeric,
		"POINT":           AffinityInteger, // "POINT" contains INT -> INTEGER
		"BIGINT":          AffinityInteger, // contains INT before CHAR check
		"CHARINT":         AffinityInteger, // INT rule must win: appears first in SQLite's rule order
	}
	for typeName, want := range cases {
		if got := AffinityFromTypeName(typeName); got != want {
			t.Fatalf("AffinityFromTypeName(%q) = %v, want %v", typeName, got, want)
		}
	}
}

func TestParseCreateTableSimple(t *testing.T) {
	sqlText := `CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT, data BLOB)`
	e, err := ParseMasterSchemaEntry(1, "table", "t", "t", 2, sqlText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(e.Columns) != 3 {
		t.Fatalf("got %d columns, want 3: %+v", len(e.Columns), e.Columns)
	}
	if e.Columns[0].Name != "id" || e.Columns[0].Affinity != AffinityInteger {
		t.Fatalf("unexpected column 0: %+v", e.Columns[0])
	}
	if e.Columns[1].Name != "name" || e.Columns[1].Affinity != AffinityText {
		t.Fatalf("unexpected column 1: %+v", e.Columns[1])
	}
	if e.WithoutRowID {
		t.Fatal("did not expect WITHOUT ROWID")
	}
}

func TestParseCreateTableWithConstraintAndWithoutRowID(t *testing.T) {
	sqlText := `CREATE TABLE t (a INTEGER, b TEXT, PRIMARY KEY (a, b)) WITHOUT ROWID`
	e, err := ParseMasterSchemaEntry(1, "table", "t", "t", 2, sqlText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(e.Columns) != 2 {
		t.Fatalf("got %d columns, want 2: %+v", len(e.Columns), e.Columns)
	}
	if len(e.Constraints) != 1 {
		t.Fatalf("got %d constraints, want 1", len(e.Constraints))
	}
	if !e.WithoutRowID {
		t.Fatal("expected WITHOUT ROWID")
	}
}

func TestInternalObjectDetection(t *testing.T) {
	e, err := ParseMasterSchemaEntry(1, "table", "sqlite_sequence", "sqlite_sequence", 3, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !e.IsInternal {
		t.Fatal("expected sqlite_ prefixed name to be flagged internal")
	}
}

func TestIndexEntryHasNoColumns(t *testing.T) {
	e, err := ParseMasterSchemaEntry(2, "index", "idx_t_name", "t", 0, "CREATE INDEX idx_t_name ON t(name)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Kind != KindIndex {
		t.Fatalf("got kind %v, want index", e.Kind)
	}
	if len(e.Columns) != 0 {
		t.Fatalf("index entries should not parse column definitions, got %+v", e.Columns)
	}
}
