package dissect

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/sqlitedissect/core/internal/config"
)

// TestAgainstRealSQLiteFile builds an actual database file with the
// reference modernc.org/sqlite driver — exercising the real on-disk
// format end to end, not just the hand-built fixtures used elsewhere —
// then opens it through the facade and checks what comes back.
func TestAgainstRealSQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "real.sqlite")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT, price REAL)`); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO widgets (id, name, price) VALUES (1, 'sprocket', 4.5), (2, 'gizmo', 9.0)`); err != nil {
		t.Fatalf("INSERT: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close reference db: %v", err)
	}

	sess, err := OpenDatabase(path, config.Default(), nil)
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}
	defer sess.Close()
	if err := sess.BuildHistory(); err != nil {
		t.Fatalf("BuildHistory: %v", err)
	}

	tables := sess.ListTables()
	found := false
	for _, tbl := range tables {
		if tbl.Name == "widgets" {
			found = true
			if len(tbl.Columns) != 3 {
				t.Fatalf("expected 3 columns, got %d: %+v", len(tbl.Columns), tbl.Columns)
			}
		}
	}
	if !found {
		t.Fatalf("expected a widgets table among %+v", tables)
	}

	rows, err := sess.SnapshotTable("widgets", 0)
	if err != nil {
		t.Fatalf("SnapshotTable: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
}
