// Package historyparser implements C10: given a schema entry and a
// version range, walks each version's B-tree for that entry and emits a
// per-commit Commit carrying added/updated/deleted (and, when a signature
// is supplied, carved) cell maps (spec §4.10).
//
// Grounded on the teacher's internal/engine diff/changefeed logic (the
// idea of comparing two enumerated row sets keyed by identity to produce
// an added/updated/deleted triple) — adapted from in-memory table rows to
// B-tree cells identified by content MD5, with the row-id-based "same
// identity, different bytes" refinement spec §4.10 requires for table
// leaves.
package historyparser

import (
	"github.com/sqlitedissect/core/internal/btreewalk"
	"github.com/sqlitedissect/core/internal/bytesx"
	"github.com/sqlitedissect/core/internal/carver"
	"github.com/sqlitedissect/core/internal/headers"
	"github.com/sqlitedissect/core/internal/page"
	"github.com/sqlitedissect/core/internal/schema"
	"github.com/sqlitedissect/core/internal/signature"
	"github.com/sqlitedissect/core/internal/version"
)

// CellEntry is one enumerated B-tree cell, keyed externally by its
// content MD5 (spec §3, §4.10).
type CellEntry struct {
	PageNo uint32
	Cell   *page.Cell
}

// CarvedCell is a cell recovered from freeblock/unallocated/freelist-leaf
// space, with provenance (spec §4.12).
type CarvedCell struct {
	CellEntry
	Provenance carver.Provenance
}

// Commit is the per-version diff emitted for one schema entry (spec
// §4.10).
type Commit struct {
	Name                 string
	FileType              string // "table" or "index"
	VersionNo             uint32
	TextEncoding          int
	PageType              headers.PageKind
	RootPage              uint32
	BTreePageNumbers      map[uint32]bool
	UpdatedBTreePageNumbers map[uint32]bool

	Added   map[string]CellEntry
	Updated map[string]CellEntry
	Deleted map[string]CellEntry
	Carved  map[string]CarvedCell
}

// HasChanges reports whether any of this commit's four maps is non-empty.
func (c *Commit) HasChanges() bool {
	return len(c.Added) > 0 || len(c.Updated) > 0 || len(c.Deleted) > 0 || len(c.Carved) > 0
}

// state is the running per-entry state threaded across versions: the
// previously-known cell set, root page, and b-tree page set.
type state struct {
	knownCells map[string]CellEntry // cell MD5 -> entry
	rootPage   uint32
	btreePages map[uint32]bool

	carvedSeen map[string]bool // cell MD5 of every carved cell ever emitted, for cross-commit dedup
}

// Parser iterates one schema entry's commits across a version range (spec
// §4.10).
type Parser struct {
	entry *schema.MasterSchemaEntry
	sig   *signature.Signature // nil disables carving
	carveFreelist bool
	st    state
}

// New constructs a Parser for entry, optionally carving with sig (pass nil
// to disable carving) and optionally also carving freelist leaf pages.
func New(entry *schema.MasterSchemaEntry, sig *signature.Signature, carveFreelist bool) *Parser {
	return &Parser{
		entry: entry,
		sig:   sig,
		carveFreelist: carveFreelist,
		st: state{
			knownCells: map[string]CellEntry{},
			carvedSeen: map[string]bool{},
		},
	}
}

// fileType reports "table" or "index" for the Commit.FileType field.
func (p *Parser) fileType() string {
	if p.entry.Kind == schema.KindIndex {
		return "index"
	}
	return "table"
}

// Next advances the parser by one version v, given v's root page for this
// entry (as recorded by the current master schema) and the Version/
// CommitRecord view to read pages through. isStart marks the first
// version in the requested range (spec §4.10 step 1a).
func (p *Parser) Next(v *version.Version, versionNo uint32, textEncoding int, rootPage uint32, isStart bool) (*Commit, error) {
	c := &Commit{
		Name:      p.entry.Name,
		FileType:  p.fileType(),
		VersionNo: versionNo,
		TextEncoding: textEncoding,
		RootPage:  rootPage,
		Added:     map[string]CellEntry{},
		Updated:   map[string]CellEntry{},
		Deleted:   map[string]CellEntry{},
		Carved:    map[string]CarvedCell{},
	}

	rootChanged := isStart || rootPage != p.st.rootPage
	pageOverlap := false
	if !rootChanged {
		for pn := range p.st.btreePages {
			if updatedSetOf(v)[pn] {
				pageOverlap = true
				break
			}
		}
	}
	updated := rootChanged || pageOverlap

	if updated {
		pages, leaves, err := btreewalk.Walk(rootPage, v)
		if err != nil {
			return nil, err
		}
		c.BTreePageNumbers = pages
		if len(leaves) > 0 {
			c.PageType = pageKindOf(leaves[0])
		}

		newCells := map[string]CellEntry{}
		for _, lc := range leaves {
			md5 := cellMD5(lc.Cell)
			newCells[md5] = CellEntry{PageNo: lc.PageNo, Cell: lc.Cell}
		}

		p.diff(c, newCells)
		p.st.knownCells = newCells
		p.st.rootPage = rootPage
		p.st.btreePages = pages
	} else {
		c.BTreePageNumbers = p.st.btreePages
	}

	c.UpdatedBTreePageNumbers = updatedBTreeSubset(v, c.BTreePageNumbers)

	if p.sig != nil && updated {
		if err := p.carvePages(c, v, c.UpdatedBTreePageNumbers); err != nil {
			return nil, err
		}
	}
	if p.sig != nil && p.carveFreelist {
		if err := p.carveFreelistLeaves(c, v); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// diff computes added/deleted, and for table leaves, reclassifies
// same-row_id matches as updated (spec §4.10 steps 2-3).
func (p *Parser) diff(c *Commit, newCells map[string]CellEntry) {
	isTableLeaf := p.entry.Kind != schema.KindIndex

	oldByRowID := map[int64]string{} // row_id -> md5, table leaves only
	if isTableLeaf {
		for md5, e := range p.st.knownCells {
			oldByRowID[e.Cell.RowID] = md5
		}
	}

	addedCandidates := map[string]CellEntry{}
	for md5, e := range newCells {
		if _, existed := p.st.knownCells[md5]; !existed {
			addedCandidates[md5] = e
		}
	}
	deletedCandidates := map[string]CellEntry{}
	for md5, e := range p.st.knownCells {
		if _, stillThere := newCells[md5]; !stillThere {
			deletedCandidates[md5] = e
		}
	}

	if isTableLeaf {
		for md5, e := range addedCandidates {
			if oldMD5, ok := oldByRowID[e.Cell.RowID]; ok {
				if _, stillDeleted := deletedCandidates[oldMD5]; stillDeleted {
					c.Updated[md5] = e
					delete(addedCandidates, md5)
					delete(deletedCandidates, oldMD5)
				}
			}
		}
	}

	c.Added = addedCandidates
	c.Deleted = deletedCandidates
}

func cellMD5(c *page.Cell) string {
	return bytesx.MD5Hex(c.FullPayload())
}

func pageKindOf(lc btreewalk.LeafCellRef) headers.PageKind {
	switch lc.Cell.Kind {
	case page.CellTableLeaf:
		return headers.PageKindTableLeaf
	case page.CellIndexLeaf:
		return headers.PageKindIndexLeaf
	default:
		return headers.PageKindTableLeaf
	}
}

// updatedSetOf adapts a *version.Version's UpdatedBTreePageNumbers (or, for
// a CommitRecord, the same promoted field) into a lookup set.
func updatedSetOf(v *version.Version) map[uint32]bool {
	if v.UpdatedBTreePageNumbers != nil {
		return v.UpdatedBTreePageNumbers
	}
	return map[uint32]bool{}
}

// updatedBTreeSubset intersects this entry's known b-tree pages with the
// version's updated-page set.
func updatedBTreeSubset(v *version.Version, pages map[uint32]bool) map[uint32]bool {
	out := map[uint32]bool{}
	upd := updatedSetOf(v)
	for pn := range pages {
		if upd[pn] {
			out[pn] = true
		}
	}
	return out
}
