// Package btreewalk implements the shared B-tree descent shared by the
// base-version master-schema page enumeration (C7) and the per-commit
// version-history diff walk (C10): given a root page number and a page
// source, visit every page of the subtree and collect its leaf cells.
//
// Grounded on the teacher's internal/engine page-iterator (its explicit
// worklist-based descent, chosen over recursion to avoid unbounded stack
// depth on pathological trees) — the same iterative-stack idiom used for
// overflow-chain walking in internal/page.
package btreewalk

import (
	"github.com/sqlitedissect/core/internal/headers"
	"github.com/sqlitedissect/core/internal/page"
)

// LeafCellRef pairs a decoded leaf cell with the page number it lives on,
// needed for carving provenance and cell-MD5 identity.
type LeafCellRef struct {
	PageNo uint32
	Cell   *page.Cell
}

// Walk descends the B-tree rooted at root, returning every page number in
// the subtree (interior, leaf, and any overflow pages referenced by leaf
// cells) and the ordered list of leaf cells encountered.
func Walk(root uint32, src page.Source) (pages map[uint32]bool, leaves []LeafCellRef, err error) {
	pages = map[uint32]bool{}
	stack := []uint32{root}
	for len(stack) > 0 {
		n := len(stack) - 1
		pageNo := stack[n]
		stack = stack[:n]
		if pages[pageNo] {
			continue
		}
		pages[pageNo] = true

		raw, err := src.PageBytes(pageNo)
		if err != nil {
			return nil, nil, err
		}
		bp, err := page.ParseBTreePage(pageNo, raw, src)
		if err != nil {
			return nil, nil, err
		}

		switch {
		case bp.Header.Kind.IsInterior():
			for i := range bp.Cells {
				c := &bp.Cells[i]
				stack = append(stack, c.LeftChild)
			}
			if bp.Header.RightMostPointer != 0 {
				stack = append(stack, bp.Header.RightMostPointer)
			}
			// Index interior cells carry separator-key payloads that
			// duplicate a leaf entry; only overflow pages they reference
			// need to be tracked as subtree pages, the cells themselves
			// are not enumerated rows.
			if bp.Header.Kind == headers.PageKindIndexInterior {
				for i := range bp.Cells {
					markOverflow(pages, &bp.Cells[i])
				}
			}
		default: // leaf
			for i := range bp.Cells {
				c := &bp.Cells[i]
				leaves = append(leaves, LeafCellRef{PageNo: pageNo, Cell: c})
				markOverflow(pages, c)
			}
		}
	}
	return pages, leaves, nil
}

func markOverflow(pages map[uint32]bool, c *page.Cell) {
	if !c.HasOverflow || c.Overflow == nil {
		return
	}
	for pn := range c.Overflow.Pages {
		pages[pn] = true
	}
}
