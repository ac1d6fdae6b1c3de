package dissect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sqlitedissect/core/internal/config"
)

// buildOneTableDatabase returns a 2-page, 512-byte-page-size database: page
// 1 is an sqlite_master leaf with one row describing table t (root page
// 2), page 2 is t's leaf holding one row {x: 42} at row_id 1.
func buildOneTableDatabase() []byte {
	const pageSize = 512
	data := make([]byte, 2*pageSize)

	page1 := data[:pageSize]
	copy(page1[0:16], "SQLite format 3\x00")
	page1[16] = 0x02 // page size hi byte -> 512
	page1[17] = 0x00
	page1[18] = 1
	page1[19] = 1
	page1[21] = 64
	page1[22] = 32
	page1[23] = 32
	page1[27] = 1 // file_change_counter
	page1[31] = 2 // database_size_pages = 2

	page1[100] = 0x0d // table leaf
	page1[103] = 0
	page1[104] = 1 // cell_count = 1
	page1[105] = byte(471 >> 8)
	page1[106] = byte(471)
	page1[107] = 0 // fragment_total
	page1[108] = byte(471 >> 8)
	page1[109] = byte(471)

	sqlText := "CREATE TABLE t(x INTEGER)"
	header := []byte{6, 23, 15, 15, 1, byte(13 + 2*len(sqlText))}
	body := []byte{}
	body = append(body, "table"...)
	body = append(body, "t"...)
	body = append(body, "t"...)
	body = append(body, 2) // rootpage = 2
	body = append(body, sqlText...)
	payload := append(header, body...)

	cell := page1[471:512]
	cell[0] = byte(len(payload)) // payload_size varint (single byte, <128)
	cell[1] = 1                  // row_id varint
	copy(cell[2:], payload)

	page2 := data[pageSize:]
	page2[0] = 0x0d // table leaf
	page2[3] = 0
	page2[4] = 1 // cell_count = 1
	page2[5] = byte(507 >> 8)
	page2[6] = byte(507)
	page2[7] = 0 // fragment_total
	page2[8] = byte(507 >> 8)
	page2[9] = byte(507)

	rowCell := page2[507:512]
	rowCell[0] = 0x03 // payload_size = 3
	rowCell[1] = 0x01 // row_id = 1
	rowCell[2] = 0x02 // record header byte count = 2
	rowCell[3] = 0x01 // serial type 1 (1-byte int)
	rowCell[4] = 42

	return data
}

func writeTempDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.sqlite")
	if err := os.WriteFile(path, buildOneTableDatabase(), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func openFixture(t *testing.T) *Session {
	t.Helper()
	path := writeTempDatabase(t)
	sess, err := OpenDatabase(path, config.Default(), nil)
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	if err := sess.BuildHistory(); err != nil {
		t.Fatalf("BuildHistory: %v", err)
	}
	return sess
}

func TestOpenDatabaseWithMmapOption(t *testing.T) {
	path := writeTempDatabase(t)
	opts := config.Default()
	opts.UseMmap = true
	sess, err := OpenDatabase(path, opts, nil)
	if err != nil {
		t.Fatalf("OpenDatabase with UseMmap: %v", err)
	}
	defer sess.Close()
	if err := sess.BuildHistory(); err != nil {
		t.Fatalf("BuildHistory: %v", err)
	}
	tables := sess.ListTables()
	if len(tables) != 1 {
		t.Fatalf("expected 1 table, got %d", len(tables))
	}
}

func TestOpenDatabaseAssignsSessionID(t *testing.T) {
	sess := openFixture(t)
	if sess.ID == "" {
		t.Fatal("expected a non-empty session ID")
	}
}

func TestListTablesDecodesMasterSchema(t *testing.T) {
	sess := openFixture(t)
	tables := sess.ListTables()
	if len(tables) != 1 {
		t.Fatalf("expected 1 table, got %d: %+v", len(tables), tables)
	}
	tbl := tables[0]
	if tbl.Name != "t" || tbl.RootPage != 2 {
		t.Fatalf("unexpected table entry: %+v", tbl)
	}
	if len(tbl.Columns) != 1 || tbl.Columns[0].Name != "x" {
		t.Fatalf("expected one column named x, got %+v", tbl.Columns)
	}
}

func TestSnapshotTableReturnsRow(t *testing.T) {
	sess := openFixture(t)
	rows, err := sess.SnapshotTable("t", 0)
	if err != nil {
		t.Fatalf("SnapshotTable: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].RowID != 1 {
		t.Fatalf("expected row_id 1, got %d", rows[0].RowID)
	}
	if rows[0].Record.Columns[0].Value.Integer != 42 {
		t.Fatalf("expected x=42, got %+v", rows[0].Record.Columns[0].Value)
	}
}

func TestSnapshotTableUnknownNameErrors(t *testing.T) {
	sess := openFixture(t)
	if _, err := sess.SnapshotTable("nope", 0); err == nil {
		t.Fatal("expected an error for an unknown table")
	}
}

func TestBuildTableSignatureObservesTheOneRow(t *testing.T) {
	sess := openFixture(t)
	sig, err := sess.BuildTableSignature("t")
	if err != nil {
		t.Fatalf("BuildTableSignature: %v", err)
	}
	if sig.UniqueRecords != 1 {
		t.Fatalf("expected 1 unique record, got %d", sig.UniqueRecords)
	}
}

func TestIterHistoryReportsBaseVersionAsAdded(t *testing.T) {
	sess := openFixture(t)
	commits, err := sess.IterHistory("t")
	if err != nil {
		t.Fatalf("IterHistory: %v", err)
	}
	if len(commits) != 1 {
		t.Fatalf("expected 1 version (base only, no WAL), got %d", len(commits))
	}
	if len(commits[0].Added) != 1 {
		t.Fatalf("expected 1 added row in the base version, got %d", len(commits[0].Added))
	}
}
