package historyparser

import (
	"testing"

	"github.com/sqlitedissect/core/internal/filehandle"
	"github.com/sqlitedissect/core/internal/headers"
	"github.com/sqlitedissect/core/internal/schema"
	"github.com/sqlitedissect/core/internal/version"
)

// buildTwoPageDatabase returns a 2-page, 512-byte-page database: page 1 is
// an empty sqlite_master leaf, page 2 is a table leaf holding a single row
// {x: 42} at row_id 1.
func buildTwoPageDatabase() []byte {
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
	page1[100] = byte(headers.PageKindTableLeaf)
	page1[105] = 0x02 // cell content offset = 512
	page1[106] = 0x00

	page2 := data[pageSize:]
	page2[0] = byte(headers.PageKindTableLeaf)
	page2[3] = 0
	page2[4] = 1 // cell_count = 1
	page2[5] = byte(507 >> 8)
	page2[6] = byte(507)
	page2[7] = 0 // fragment_total
	page2[8] = byte(507 >> 8)
	page2[9] = byte(507)

	cell := page2[507:512]
	cell[0] = 0x03 // payload_size = 3
	cell[1] = 0x01 // row_id = 1
	cell[2] = 0x02 // record header byte count = 2
	cell[3] = 0x01 // serial type 1 (1-byte int)
	cell[4] = 42

	return data
}

func buildBaseVersion(t *testing.T) *version.Version {
	t.Helper()
	data := buildTwoPageDatabase()
	fh, err := filehandle.OpenBytes(data, filehandle.KindDatabase)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	header, err := headers.ParseDatabaseHeader(data[:100])
	if err != nil {
		t.Fatalf("ParseDatabaseHeader: %v", err)
	}
	v, err := version.BuildBaseVersion(fh, 512, header, nil, "", false, false)
	if err != nil {
		t.Fatalf("BuildBaseVersion: %v", err)
	}
	return v
}

func tableEntry() *schema.MasterSchemaEntry {
	return &schema.MasterSchemaEntry{
		Kind:     schema.KindTable,
		Name:     "t",
		RootPage: 2,
		Columns:  []schema.ColumnDefinition{{Name: "x", Affinity: schema.AffinityInteger}},
	}
}

func TestParserFirstVersionReportsAllRowsAsAdded(t *testing.T) {
	v := buildBaseVersion(t)
	p := New(tableEntry(), nil, false)
	c, err := p.Next(v, 0, 1, 2, true)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(c.Added) != 1 {
		t.Fatalf("expected 1 added cell, got %d: %+v", len(c.Added), c.Added)
	}
	if len(c.Updated) != 0 || len(c.Deleted) != 0 {
		t.Fatalf("expected no updates/deletes on first version, got %+v / %+v", c.Updated, c.Deleted)
	}
	for _, e := range c.Added {
		if e.Cell.RowID != 1 {
			t.Fatalf("expected row_id 1, got %d", e.Cell.RowID)
		}
	}
	if !c.HasChanges() {
		t.Fatal("expected HasChanges to report true")
	}
}

func TestParserSecondCallWithUnchangedPagesReportsNoChanges(t *testing.T) {
	v := buildBaseVersion(t)
	p := New(tableEntry(), nil, false)
	if _, err := p.Next(v, 0, 1, 2, true); err != nil {
		t.Fatalf("first Next: %v", err)
	}
	// Re-scanning the same version and root again must diff to nothing:
	// the page contents have not changed since the first call.
	c2, err := p.Next(v, 0, 1, 2, false)
	if err != nil {
		t.Fatalf("second Next: %v", err)
	}
	if c2.HasChanges() {
		t.Fatalf("expected no changes on unchanged re-scan, got %+v", c2)
	}
}
