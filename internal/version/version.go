// Package version implements C7 (Version), C8 (WAL commit record), and C9
// (version history): a consistent, immutable-after-construction view of
// the database at a given version number, the WAL-derived commit records
// that extend it, and the ordered history that chains them together.
//
// Grounded on the teacher's internal/storage/pager.Pager (page-version /
// page-cache bookkeeping) and internal/storage/wal_advanced.go (frame
// buffering and commit-boundary detection) — generalized from tinySQL's
// own invented WAL record format to real SQLite WAL frames, and from a
// single mutable pager to a sequence of frozen, independently addressable
// snapshots (spec §5: "each constructed Version is effectively frozen
// after its constructor returns").
package version

import (
	"fmt"

	"github.com/klauspost/compress/s2"

	"github.com/sqlitedissect/core/internal/btreewalk"
	"github.com/sqlitedissect/core/internal/dberr"
	"github.com/sqlitedissect/core/internal/diag"
	"github.com/sqlitedissect/core/internal/filehandle"
	"github.com/sqlitedissect/core/internal/headers"
	"github.com/sqlitedissect/core/internal/page"
)

// BaseVersionNo is the version number of the base database image, before
// any WAL commit is applied.
const BaseVersionNo = 0

// Version presents a consistent view of the database at VersionNo (spec
// §4.7). Implements page.Source so B-tree decoding can dispatch through it
// transparently, whatever version a page was last written in.
type Version struct {
	VersionNo               uint32
	PageSizeBytes           uint32
	DatabaseSizePages       uint32
	UpdatedPages            map[uint32]bool   // pages this version itself wrote
	PageVersionIndex        map[uint32]uint32 // page -> version that last wrote it (copied, not aliased)
	FreelistPageNumbers     map[uint32]bool
	PointerMapPageNumbers   map[uint32]bool
	MasterSchemaPageNumbers map[uint32]bool
	UpdatedBTreePageNumbers map[uint32]bool // UpdatedPages minus freelist/ptrmap/master-schema pages
	Header                  *headers.DatabaseHeader

	hist          *History // back-reference for cross-version page dispatch
	storeInMemory bool
	cache         map[uint32][]byte // present only when storeInMemory; s2-compressed page bytes
	formatOpts    page.Options
}

// PageSize implements page.Source.
func (v *Version) PageSize() uint32 { return v.PageSizeBytes }

// FormatOptions implements page.Source.
func (v *Version) FormatOptions() page.Options { return v.formatOpts }

// PageBytes implements page.Source: resolves page n by following
// PageVersionIndex to whichever version actually wrote it, then reading
// through that version's own backing store (db file for the base version,
// WAL frame for a commit).
func (v *Version) PageBytes(n uint32) ([]byte, error) {
	if v.storeInMemory {
		if c, ok := v.cache[n]; ok {
			return decompressPage(c)
		}
	}
	writer, ok := v.PageVersionIndex[n]
	if !ok {
		return nil, dberr.New(dberr.KindMalformedPage, "unknown_page", fmt.Sprintf("page %d has no known version", n))
	}
	raw, err := v.hist.readPageAtVersion(writer, n)
	if err != nil {
		return nil, err
	}
	if v.storeInMemory {
		v.cache[n] = compressPage(raw)
	}
	return raw, nil
}

// compile-time assertion that Version satisfies page.Source.
var _ page.Source = (*Version)(nil)

func compressPage(raw []byte) []byte { return s2.Encode(nil, raw) }
func decompressPage(enc []byte) ([]byte, error) {
	out, err := s2.Decode(nil, enc)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindIO, "s2_decode", "decompress cached page", err)
	}
	return out, nil
}

// BTreeRoot parses the page-kind byte (skipping the 100-byte database
// header on page 1) and constructs the typed B-tree page at pageNo,
// dispatching through this version's PageBytes.
func (v *Version) BTreeRoot(pageNo uint32) (*page.BTreePage, error) {
	raw, err := v.PageBytes(pageNo)
	if err != nil {
		return nil, err
	}
	return page.ParseBTreePage(pageNo, raw, v)
}

// BuildBaseVersion constructs V_0 from the main database file: every page
// is marked updated and owned by version 0 (spec §4.7). strict selects
// whether page-accounting mismatches (config.Options.StrictFormatChecking)
// fail the parse or are only reported through sink.
func BuildBaseVersion(db *filehandle.FileHandle, pageSize uint32, header *headers.DatabaseHeader, sink diag.Sink, sessionID string, strict bool, storeInMemory bool) (*Version, error) {
	dbSizePages := header.DatabaseSizePages
	if dbSizePages == 0 {
		computed := uint32(db.Size() / int64(pageSize))
		diag.Warnf(sink, sessionID, "version", "database header reports zero size_pages; using file-size-derived %d", computed)
		dbSizePages = computed
	} else if expected := uint32(db.Size() / int64(pageSize)); expected != dbSizePages && expected > 0 {
		diag.Warnf(sink, sessionID, "version", "database header size_pages=%d disagrees with file-size-derived %d", dbSizePages, expected)
	}

	v := &Version{
		VersionNo:         BaseVersionNo,
		PageSizeBytes:     pageSize,
		DatabaseSizePages: dbSizePages,
		PageVersionIndex:  map[uint32]uint32{},
		UpdatedPages:      map[uint32]bool{},
		Header:            header,
		storeInMemory:     storeInMemory,
		formatOpts:        page.Options{Strict: strict, Sink: sink, SessionID: sessionID},
	}
	if storeInMemory {
		v.cache = map[uint32][]byte{}
	}
	v.hist = &History{base: v, dbHandle: db}

	for p := uint32(1); p <= dbSizePages; p++ {
		v.PageVersionIndex[p] = BaseVersionNo
		v.UpdatedPages[p] = true
	}

	freelist, err := walkFreelist(header.FirstFreelistTrunk, v)
	if err != nil {
		return nil, err
	}
	v.FreelistPageNumbers = freelist

	v.PointerMapPageNumbers = pointerMapPageNumbers(header.LargestRootBTreePage, dbSizePages, pageSize)

	masterPages, _, err := btreewalk.Walk(1, v)
	if err != nil {
		return nil, fmt.Errorf("version: walking master schema b-tree: %w", err)
	}
	v.MasterSchemaPageNumbers = masterPages

	v.UpdatedBTreePageNumbers = subtractKnownSets(v.UpdatedPages, v.FreelistPageNumbers, v.PointerMapPageNumbers, v.MasterSchemaPageNumbers)

	return v, nil
}

// subtractKnownSets returns the pages in all minus any page present in one
// of the excluded sets (spec §4.7: "enumerated and removed... to leave the
// updated_b_tree_page_numbers").
func subtractKnownSets(all map[uint32]bool, excluded ...map[uint32]bool) map[uint32]bool {
	out := map[uint32]bool{}
	for p := range all {
		skip := false
		for _, ex := range excluded {
			if ex[p] {
				skip = true
				break
			}
		}
		if !skip {
			out[p] = true
		}
	}
	return out
}

// walkFreelist follows the freelist trunk chain from firstTrunk, collecting
// every trunk and leaf page number (spec §3 FreelistTrunkPage, §4.7).
func walkFreelist(firstTrunk uint32, v *Version) (map[uint32]bool, error) {
	pages := map[uint32]bool{}
	cur := firstTrunk
	seen := map[uint32]bool{}
	for cur != 0 {
		if seen[cur] {
			return nil, dberr.New(dberr.KindMalformedPage, "freelist_cycle", "freelist trunk chain cycle detected").WithPage(cur)
		}
		seen[cur] = true
		pages[cur] = true
		raw, err := v.PageBytes(cur)
		if err != nil {
			return nil, err
		}
		trunk, err := page.ParseFreelistTrunkPage(cur, raw)
		if err != nil {
			return nil, err
		}
		for _, leaf := range trunk.LeafNumbers {
			pages[leaf] = true
		}
		cur = trunk.NextTrunk
	}
	return pages, nil
}

// pointerMapPageNumbers computes the set of pointer-map page numbers for an
// auto-vacuum (or incremental-vacuum) database, per the standard layout:
// page 2 is the first pointer-map page, each one covers up to
// pageSize/5 following data pages, and the next pointer-map page follows
// immediately after that span (spec §6.1). Returns an empty set when
// auto-vacuum is not enabled (largestRoot == 0).
func pointerMapPageNumbers(largestRoot, dbSizePages, pageSize uint32) map[uint32]bool {
	pages := map[uint32]bool{}
	if largestRoot == 0 {
		return pages
	}
	entriesPerPage := pageSize / 5
	if entriesPerPage == 0 {
		return pages
	}
	next := uint32(2)
	for next <= dbSizePages {
		pages[next] = true
		next = next + entriesPerPage + 1
	}
	return pages
}
