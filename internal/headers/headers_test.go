package headers

import "testing"

func makeValidDatabaseHeader(pageSizeRaw uint16) []byte {
	buf := make([]byte, DatabaseHeaderSize)
	copy(buf[offMagic:], magic)
	buf[offPageSize] = byte(pageSizeRaw >> 8)
	buf[offPageSize+1] = byte(pageSizeRaw)
	buf[offWriteVersion] = 1
	buf[offReadVersion] = 1
	buf[offMaxEmbeddedPayloadFrac] = 64
	buf[offMinEmbeddedPayloadFrac] = 32
	buf[offLeafPayloadFrac] = 32
	return buf
}

func TestParseDatabaseHeaderValid(t *testing.T) {
	buf := makeValidDatabaseHeader(4096)
	h, err := ParseDatabaseHeader(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.PageSize != 4096 {
		t.Fatalf("got page size %d, want 4096", h.PageSize)
	}
	if !h.IsEmpty() {
		t.Fatal("expected empty database (zero schema format/text encoding)")
	}
}

func TestParseDatabaseHeaderPageSizeSentinel(t *testing.T) {
	buf := makeValidDatabaseHeader(1)
	h, err := ParseDatabaseHeader(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.PageSize != 65536 {
		t.Fatalf("got %d, want 65536 for the 1-sentinel", h.PageSize)
	}
}

func TestParseDatabaseHeaderBadMagic(t *testing.T) {
	buf := makeValidDatabaseHeader(4096)
	buf[0] = 'X'
	if _, err := ParseDatabaseHeader(buf); err == nil {
		t.Fatal("expected error on bad magic")
	}
}

func TestParseDatabaseHeaderRejectsReservedBytesPerPage(t *testing.T) {
	buf := makeValidDatabaseHeader(4096)
	buf[offReservedPerPage] = 8
	if _, err := ParseDatabaseHeader(buf); err == nil {
		t.Fatal("expected rejection of nonzero reserved-bytes-per-page")
	}
}

func TestParseBTreePageHeaderLeaf(t *testing.T) {
	buf := make([]byte, BTreeLeafHeaderSize)
	buf[0] = byte(PageKindTableLeaf)
	buf[3] = 0x00
	buf[4] = 0x02 // cell count = 2
	h, err := ParseBTreePageHeader(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.CellCount != 2 || h.Kind != PageKindTableLeaf {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestParseBTreePageHeaderCellContentZeroMeans65536(t *testing.T) {
	buf := make([]byte, BTreeLeafHeaderSize)
	buf[0] = byte(PageKindTableLeaf)
	// bytes 5:7 left zero -> cell content offset should resolve to 65536
	h, err := ParseBTreePageHeader(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.CellContentOffset != 65536 {
		t.Fatalf("got %d, want 65536", h.CellContentOffset)
	}
}

func TestParseWALHeaderBigEndianMagic(t *testing.T) {
	buf := make([]byte, WALHeaderSize)
	buf[0], buf[1], buf[2], buf[3] = 0x37, 0x7F, 0x06, 0x83
	buf[4], buf[5], buf[6], buf[7] = 0x00, 0x2D, 0xE2, 0x18 // 3007000
	buf[8], buf[9], buf[10], buf[11] = 0x00, 0x00, 0x10, 0x00 // page size 4096
	h, err := ParseWALHeader(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.BigEndianChecksums {
		t.Fatal("expected big-endian checksum flag")
	}
	if h.PageSize != 4096 {
		t.Fatalf("got page size %d, want 4096", h.PageSize)
	}
}
