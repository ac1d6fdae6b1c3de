package headers

import (
	"github.com/sqlitedissect/core/internal/bytesx"
	"github.com/sqlitedissect/core/internal/dberr"
)

// PageKind is the B-tree page-kind byte (spec §3 Page tagged union).
type PageKind uint8

const (
	PageKindIndexInterior PageKind = 2
	PageKindTableInterior PageKind = 5
	PageKindIndexLeaf     PageKind = 10
	PageKindTableLeaf     PageKind = 13
)

func (k PageKind) IsInterior() bool { return k == PageKindIndexInterior || k == PageKindTableInterior }
func (k PageKind) IsTable() bool    { return k == PageKindTableInterior || k == PageKindTableLeaf }
func (k PageKind) IsIndex() bool    { return k == PageKindIndexInterior || k == PageKindIndexLeaf }
func (k PageKind) Valid() bool {
	switch k {
	case PageKindIndexInterior, PageKindTableInterior, PageKindIndexLeaf, PageKindTableLeaf:
		return true
	default:
		return false
	}
}

// BTreeLeafHeaderSize and BTreeInteriorHeaderSize are the on-page header
// lengths (spec §4.3): 8 bytes for leaf pages, 12 for interior pages (the
// extra 4 bytes are the right-most child pointer).
const (
	BTreeLeafHeaderSize     = 8
	BTreeInteriorHeaderSize = 12
)

// BTreePageHeader is the parsed B-tree page header.
type BTreePageHeader struct {
	Kind                  PageKind
	FirstFreeblockOffset  uint16
	CellCount             uint16
	CellContentOffset     uint32 // 0 in the raw field means 65536
	FragmentTotal         uint8
	RightMostPointer      uint32 // only valid for interior pages
}

// HeaderSize returns the on-page size of this header kind.
func (h *BTreePageHeader) HeaderSize() int {
	if h.Kind.IsInterior() {
		return BTreeInteriorHeaderSize
	}
	return BTreeLeafHeaderSize
}

// ParseBTreePageHeader decodes a B-tree page header starting at buf[0].
// Callers are responsible for slicing past the 100-byte database header on
// page 1 before calling this.
func ParseBTreePageHeader(buf []byte) (*BTreePageHeader, error) {
	if len(buf) < BTreeLeafHeaderSize {
		return nil, dberr.New(dberr.KindMalformedPage, "short_page_header", "buffer shorter than 8 bytes")
	}
	kind := PageKind(buf[0])
	if !kind.Valid() {
		return nil, dberr.New(dberr.KindMalformedPage, "page_kind", "unknown B-tree page kind byte")
	}
	h := &BTreePageHeader{
		Kind:                 kind,
		FirstFreeblockOffset: bytesx.Uint16(buf[1:]),
		CellCount:            bytesx.Uint16(buf[3:]),
		FragmentTotal:        buf[7],
	}
	cco := bytesx.Uint16(buf[5:])
	if cco == 0 {
		h.CellContentOffset = 65536
	} else {
		h.CellContentOffset = uint32(cco)
	}
	if kind.IsInterior() {
		if len(buf) < BTreeInteriorHeaderSize {
			return nil, dberr.New(dberr.KindMalformedPage, "short_interior_header", "interior page header shorter than 12 bytes")
		}
		h.RightMostPointer = bytesx.Uint32(buf[8:])
	}
	return h, nil
}
