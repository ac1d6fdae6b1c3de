package page

import (
	"github.com/sqlitedissect/core/internal/bytesx"
	"github.com/sqlitedissect/core/internal/dberr"
)

// FreelistTrunkPage is {next_trunk, leaf_count, leaf_numbers[leaf_count]}
// (spec §3, §6.1).
type FreelistTrunkPage struct {
	PageNo      uint32
	NextTrunk   uint32
	LeafNumbers []uint32
}

// ParseFreelistTrunkPage decodes a freelist trunk page.
func ParseFreelistTrunkPage(pageNo uint32, raw []byte) (*FreelistTrunkPage, error) {
	if len(raw) < 8 {
		return nil, dberr.New(dberr.KindMalformedPage, "short_freelist_trunk", "freelist trunk page shorter than 8 bytes").WithPage(pageNo)
	}
	nextTrunk := bytesx.Uint32(raw)
	count := bytesx.Uint32(raw[4:])
	maxCount := uint32((len(raw) - 8) / 4)
	if count > maxCount {
		return nil, dberr.New(dberr.KindMalformedPage, "freelist_trunk_count", "leaf count exceeds page capacity").WithPage(pageNo)
	}
	leaves := make([]uint32, 0, count)
	for i := uint32(0); i < count; i++ {
		off := 8 + i*4
		leaves = append(leaves, bytesx.Uint32(raw[off:]))
	}
	return &FreelistTrunkPage{PageNo: pageNo, NextTrunk: nextTrunk, LeafNumbers: leaves}, nil
}

// FreelistLeafPage is an otherwise-unformatted page whose entire body is a
// carving target (spec §4.10 step 5, §4.12).
type FreelistLeafPage struct {
	PageNo uint32
	Raw    []byte
}

// PointerMapEntryKind identifies what kind of page a pointer-map entry
// describes (spec §6.1: page types 0x01..0x05).
type PointerMapEntryKind uint8

const (
	PtrMapRootPage          PointerMapEntryKind = 1
	PtrMapFreePage          PointerMapEntryKind = 2
	PtrMapOverflow1         PointerMapEntryKind = 3
	PtrMapOverflow2         PointerMapEntryKind = 4
	PtrMapBTreeNonRootPage  PointerMapEntryKind = 5
)

// PointerMapEntry is one 5-byte entry: {kind, parent page number}.
type PointerMapEntry struct {
	Kind   PointerMapEntryKind
	Parent uint32
}

// PointerMapPage is a decoded array of 5-byte pointer-map entries covering
// the pages following it until the next pointer-map page (spec §3, §6.1).
type PointerMapPage struct {
	PageNo  uint32
	Entries []PointerMapEntry
}

// ParsePointerMapPage decodes as many 5-byte entries as fit in raw.
func ParsePointerMapPage(pageNo uint32, raw []byte) (*PointerMapPage, error) {
	n := len(raw) / 5
	entries := make([]PointerMapEntry, 0, n)
	for i := 0; i < n; i++ {
		off := i * 5
		kind := PointerMapEntryKind(raw[off])
		if kind == 0 {
			continue // unwritten trailing entries
		}
		parent := bytesx.Uint32(raw[off+1:])
		entries = append(entries, PointerMapEntry{Kind: kind, Parent: parent})
	}
	return &PointerMapPage{PageNo: pageNo, Entries: entries}, nil
}
