// Package carver implements C12: scanning freeblocks, unallocated page
// gaps, and freelist leaf pages for byte sequences that decode as
// plausible records, using a table's Signature to reject candidates whose
// shape does not match anything ever legitimately observed in that table.
//
// Grounded on the teacher's internal/storage/pager overflow/freeblock
// accounting (the same Freeblock/UnallocatedBytes regions this package
// scans) plus internal/engine's row decode path, reused here as a
// "try to decode, keep only if it validates" loop instead of a
// known-good read.
package carver

import (
	"github.com/sqlitedissect/core/internal/bytesx"
	"github.com/sqlitedissect/core/internal/page"
	"github.com/sqlitedissect/core/internal/record"
	"github.com/sqlitedissect/core/internal/signature"
)

// SourceKind identifies which structure a carved cell was recovered from
// (spec §4.12).
type SourceKind int

const (
	SourceBTree SourceKind = iota
	SourceFreelist
)

// LocationKind identifies where within that structure the bytes sat.
type LocationKind int

const (
	LocationFreeblock LocationKind = iota
	LocationUnallocated
	LocationFreelistLeaf
)

func (k LocationKind) String() string {
	switch k {
	case LocationFreeblock:
		return "freeblock"
	case LocationUnallocated:
		return "unallocated"
	case LocationFreelistLeaf:
		return "freelist_leaf"
	default:
		return "unknown"
	}
}

// Provenance records where a carved cell's bytes physically came from
// (spec §4.12).
type Provenance struct {
	Source     SourceKind
	Location   LocationKind
	PageNo     uint32
	FileOffset int // byte offset within the page where the candidate record begins
}

// Candidate is one carved record with enough context to build a
// synthetic page.Cell.
type Candidate struct {
	RowID      int64 // 0 for index leaves or when no row_id was present
	Record     *record.Record
	Payload    []byte
	MD5        string
	Provenance Provenance
}

const minCandidateSize = 2 // shortest possible payload_size + header-byte-count pair

// scanRegion walks every candidate start offset in region (bytes belonging
// to pageNo, physically starting at region[0] == on-page offset
// regionBase) and returns every decode that validates against sig.
// tableLeaf selects the {payload_size, row_id, payload} layout; false
// selects the index-leaf {payload_size, payload} layout. seen is a
// cell-MD5 set shared across the whole history scan so the same bytes are
// never reported twice.
func scanRegion(pageNo uint32, region []byte, regionBase int, tableLeaf bool, sig *signature.Signature, loc LocationKind, source SourceKind, seen map[string]bool) []Candidate {
	var out []Candidate
	for o := 0; o+minCandidateSize <= len(region); o++ {
		payloadSize, n1, err := bytesx.Varint(region[o:])
		if err != nil || payloadSize == 0 || payloadSize > uint64(len(region)) {
			continue
		}
		pos := o + n1
		var rowID int64
		if tableLeaf {
			rid, n2, err := bytesx.Varint(region[pos:])
			if err != nil {
				continue
			}
			rowID = int64(rid)
			pos += n2
		}
		end := pos + int(payloadSize)
		if end > len(region) {
			continue // would require an overflow chain; carving never reconstructs one
		}
		payload := region[pos:end]
		rec, err := record.Decode(payload)
		if err != nil || len(rec.Columns) == 0 {
			continue
		}
		if !plausible(rec, sig) {
			continue
		}
		md5 := bytesx.MD5Hex(payload)
		if seen[md5] {
			continue
		}
		seen[md5] = true
		out = append(out, Candidate{
			RowID:   rowID,
			Record:  rec,
			Payload: payload,
			MD5:     md5,
			Provenance: Provenance{
				Source:     source,
				Location:   loc,
				PageNo:     pageNo,
				FileOffset: regionBase + o,
			},
		})
	}
	return out
}

// plausible reports whether every column of rec falls within sig's
// allowed serial types for its position (spec §4.12), as given by
// Signature.AllowedSerialTypes: the schema-affinity-derived complete set,
// or, when altered_columns is set, only the serial types observed for that
// column.
func plausible(rec *record.Record, sig *signature.Signature) bool {
	if sig == nil {
		return true
	}
	if !sig.AlteredColumns && len(sig.SchemaColumnSignatures) > 0 && len(rec.Columns) > len(sig.SchemaColumnSignatures) {
		return false
	}
	for i, col := range rec.Columns {
		allowed := sig.AllowedSerialTypes(i)
		if len(allowed) == 0 {
			continue // no observations for this column position yet; do not reject solely on that
		}
		st := record.SerialTypeSentinel(col.SerialType)
		if !allowed[st] {
			return false
		}
	}
	return true
}

// ScanBTreePage carves every freeblock and the unallocated gap of bp.
func ScanBTreePage(bp *page.BTreePage, tableLeaf bool, sig *signature.Signature, seen map[string]bool) []Candidate {
	var out []Candidate
	for _, fb := range bp.Freeblocks {
		body := bp.FreeblockBytes(fb)
		if len(body) <= 4 {
			continue
		}
		// the first 4 bytes of a freeblock are its own next-pointer/size
		// header, not carvable record bytes (spec §3).
		out = append(out, scanRegion(bp.PageNo, body[4:], int(fb.Offset)+4, tableLeaf, sig, LocationFreeblock, SourceBTree, seen)...)
	}
	out = append(out, scanRegion(bp.PageNo, bp.UnallocatedBytes(), int(bp.UnallocatedOffset), tableLeaf, sig, LocationUnallocated, SourceBTree, seen)...)
	return out
}

// ScanFreelistLeaf carves a freelist leaf page's entire body, which may
// hold the intact remains of a page that was table or index content
// before being freed (spec §4.10 step 5, §4.12).
func ScanFreelistLeaf(fl *page.FreelistLeafPage, tableLeaf bool, sig *signature.Signature, seen map[string]bool) []Candidate {
	return scanRegion(fl.PageNo, fl.Raw, 0, tableLeaf, sig, LocationFreelistLeaf, SourceFreelist, seen)
}
