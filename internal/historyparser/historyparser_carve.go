package historyparser

import (
	"github.com/sqlitedissect/core/internal/carver"
	"github.com/sqlitedissect/core/internal/headers"
	"github.com/sqlitedissect/core/internal/page"
	"github.com/sqlitedissect/core/internal/schema"
	"github.com/sqlitedissect/core/internal/version"
)

// leafKindFor returns the page.CellKind a carved cell should be tagged
// with, matching this entry's own leaf kind.
func (p *Parser) leafKindFor() page.CellKind {
	if p.entry.Kind == schema.KindIndex {
		return page.CellIndexLeaf
	}
	return page.CellTableLeaf
}

// addCarved folds one carver.Candidate into c.Carved unless its bytes are
// already accounted for as a live cell this commit.
func (p *Parser) addCarved(c *Commit, pageNo uint32, cand carver.Candidate) {
	if _, known := p.st.knownCells[cand.MD5]; known {
		return
	}
	cell := &page.Cell{
		Kind:        p.leafKindFor(),
		RowID:       cand.RowID,
		PayloadSize: uint64(len(cand.Payload)),
		BytesOnPage: cand.Payload,
	}
	c.Carved[cand.MD5] = CarvedCell{
		CellEntry:  CellEntry{PageNo: pageNo, Cell: cell},
		Provenance: cand.Provenance,
	}
}

// carvePages scans every page touched by this commit's b-tree subtree for
// freeblock and unallocated-space remnants (spec §4.12).
func (p *Parser) carvePages(c *Commit, v *version.Version, pages map[uint32]bool) error {
	tableLeaf := p.entry.Kind != schema.KindIndex
	wantKind := headers.PageKindTableLeaf
	if !tableLeaf {
		wantKind = headers.PageKindIndexLeaf
	}
	for pn := range pages {
		raw, err := v.PageBytes(pn)
		if err != nil {
			return err
		}
		bp, err := page.ParseBTreePage(pn, raw, v)
		if err != nil {
			return err
		}
		if bp.Header.Kind != wantKind {
			continue
		}
		for _, cand := range carver.ScanBTreePage(bp, tableLeaf, p.sig, p.st.carvedSeen) {
			p.addCarved(c, pn, cand)
		}
	}
	return nil
}

// carveFreelistLeaves scans every freelist leaf page (not trunk pages,
// whose layout is known-good and not a carving target) for remnants of
// whatever table or index page was freed into it (spec §4.10 step 5,
// §4.12).
func (p *Parser) carveFreelistLeaves(c *Commit, v *version.Version) error {
	if len(v.FreelistPageNumbers) == 0 {
		return nil
	}
	trunks, err := freelistTrunkPages(v)
	if err != nil {
		return err
	}
	tableLeaf := p.entry.Kind != schema.KindIndex
	for pn := range v.FreelistPageNumbers {
		if trunks[pn] {
			continue
		}
		raw, err := v.PageBytes(pn)
		if err != nil {
			return err
		}
		fl := &page.FreelistLeafPage{PageNo: pn, Raw: raw}
		for _, cand := range carver.ScanFreelistLeaf(fl, tableLeaf, p.sig, p.st.carvedSeen) {
			p.addCarved(c, pn, cand)
		}
	}
	return nil
}

// freelistTrunkPages re-walks the trunk chain (distinct from
// version.Version's combined trunk+leaf FreelistPageNumbers) so carving
// can skip the structurally-known trunk pages.
func freelistTrunkPages(v *version.Version) (map[uint32]bool, error) {
	trunks := map[uint32]bool{}
	if v.Header == nil {
		return trunks, nil
	}
	cur := v.Header.FirstFreelistTrunk
	for cur != 0 {
		if trunks[cur] {
			break
		}
		trunks[cur] = true
		raw, err := v.PageBytes(cur)
		if err != nil {
			return nil, err
		}
		trunk, err := page.ParseFreelistTrunkPage(cur, raw)
		if err != nil {
			return nil, err
		}
		cur = trunk.NextTrunk
	}
	return trunks, nil
}
