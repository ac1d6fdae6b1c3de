package version

import (
	"testing"

	"github.com/sqlitedissect/core/internal/filehandle"
	"github.com/sqlitedissect/core/internal/headers"
)

// buildMinimalDatabase returns a one-page, 512-byte-page-size database
// whose sqlite_master table (page 1) is empty, for exercising base-version
// construction without a WAL.
func buildMinimalDatabase() []byte {
	const pageSize = 512
	buf := make([]byte, pageSize)
	copy(buf[0:16], "SQLite format 3\x00")
	buf[16] = 0x02 // page size 512 hi byte
	buf[17] = 0x00
	buf[18] = 1 // write version
	buf[19] = 1 // read version
	buf[21] = 64
	buf[22] = 32
	buf[23] = 32
	// file_change_counter = 1
	buf[27] = 1
	// database_size_pages = 1
	buf[31] = 1
	// schema_format, text_encoding left at 0: empty database

	// B-tree table leaf header at offset 100 (page 1 special case).
	buf[100] = byte(headers.PageKindTableLeaf)
	buf[105] = 0x02 // cell content offset = 512
	buf[106] = 0x00
	return buf
}

func TestBuildBaseVersionMinimalDatabase(t *testing.T) {
	data := buildMinimalDatabase()
	fh, err := filehandle.OpenBytes(data, filehandle.KindDatabase)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	header, err := headers.ParseDatabaseHeader(data[:100])
	if err != nil {
		t.Fatalf("ParseDatabaseHeader: %v", err)
	}
	if !header.IsEmpty() {
		t.Fatal("expected empty database header")
	}

	v, err := BuildBaseVersion(fh, 512, header, nil, "", false, false)
	if err != nil {
		t.Fatalf("BuildBaseVersion: %v", err)
	}
	if v.DatabaseSizePages != 1 {
		t.Fatalf("got %d pages, want 1", v.DatabaseSizePages)
	}
	if !v.MasterSchemaPageNumbers[1] {
		t.Fatal("expected page 1 to be a master schema page")
	}
	if len(v.UpdatedBTreePageNumbers) != 0 {
		t.Fatalf("expected no user b-tree pages, got %v", v.UpdatedBTreePageNumbers)
	}
	if len(v.FreelistPageNumbers) != 0 {
		t.Fatalf("expected no freelist pages, got %v", v.FreelistPageNumbers)
	}
	if len(v.PointerMapPageNumbers) != 0 {
		t.Fatalf("expected no pointer-map pages (auto-vacuum off), got %v", v.PointerMapPageNumbers)
	}
}

func TestPointerMapPageNumbersDisabledWithoutAutoVacuum(t *testing.T) {
	pages := pointerMapPageNumbers(0, 100, 4096)
	if len(pages) != 0 {
		t.Fatalf("expected empty set, got %v", pages)
	}
}

func TestPointerMapPageNumbersLayout(t *testing.T) {
	pages := pointerMapPageNumbers(5, 2000, 512)
	if !pages[2] {
		t.Fatal("expected page 2 to be the first pointer-map page")
	}
	entriesPerPage := uint32(512 / 5)
	second := 2 + entriesPerPage + 1
	if !pages[second] {
		t.Fatalf("expected page %d to be the second pointer-map page", second)
	}
}

func TestSubtractKnownSets(t *testing.T) {
	all := map[uint32]bool{1: true, 2: true, 3: true}
	excluded := map[uint32]bool{2: true}
	got := subtractKnownSets(all, excluded)
	if len(got) != 2 || !got[1] || !got[3] {
		t.Fatalf("got %v", got)
	}
}
