// Package page implements C4: decoding every SQLite page kind (table/index
// interior and leaf B-tree pages, freelist trunk/leaf pages, pointer-map
// pages, overflow pages) from a raw page buffer, including overflow-chain
// walking, freeblock/fragment accounting, and the cell-size formulas for
// table and index pages.
//
// Grounded on the teacher's internal/storage/pager (page.go for the
// common-header/page-kind-dispatch idiom, btree_page.go for cell layout,
// overflow.go for chain walking, freelist.go for trunk/leaf layout) —
// adapted wholesale from tinySQL's invented fixed-size binary page format
// to the real SQLite on-disk format, which has a fundamentally different
// (but analogous) cell-pointer-array + variable-length-cell layout.
package page

import (
	"fmt"

	"github.com/sqlitedissect/core/internal/bytesx"
	"github.com/sqlitedissect/core/internal/dberr"
	"github.com/sqlitedissect/core/internal/diag"
	"github.com/sqlitedissect/core/internal/headers"
)

// Options configures the page-accounting checks of spec §4.4/§6.3: a
// fragment-total mismatch or an unbalanced accounted-space equation is a
// hard error in strict mode, a diagnostic warning otherwise. The zero
// value is lenient and reports nothing (Sink nil is a no-op).
type Options struct {
	Strict    bool
	Sink      diag.Sink
	SessionID string
}

// Source fetches the raw bytes of a page by 1-based page number, used to
// walk overflow chains and (by callers) to descend interior pages. It is
// implemented by the version package's Version/CommitRecord types.
type Source interface {
	PageBytes(pageNo uint32) ([]byte, error)
	PageSize() uint32
	// FormatOptions returns the strict-mode/diagnostic settings this
	// source's pages should be validated against (spec §6.3).
	FormatOptions() Options
}

// Fragment is an unlinked 1-3 byte freed span on a B-tree page (spec §3).
type Fragment struct {
	Offset uint16
	Size   uint8
}

// Freeblock is a linked >=4 byte freed span on a B-tree page (spec §3).
type Freeblock struct {
	Offset uint16
	Size   uint16
}

// OverflowPage is one page of an overflow chain (spec §3).
type OverflowPage struct {
	PageNo uint32
	Next   uint32
	Data   []byte // payload bytes on this page (excludes the 4-byte next pointer)
}

// OverflowChain is an eagerly-walked linked list of overflow pages, stored
// as a page_no -> OverflowPage map (spec §4.4: "stored in a
// Map<PageNo, OverflowPage> rather than linked objects" — the source
// explicitly moved away from recursive linked objects to avoid stack
// depth problems, spec §9).
type OverflowChain struct {
	First   uint32
	Pages   map[uint32]*OverflowPage
	Payload []byte // full stitched overflow payload, in chain order
}

// CellKind tags the four B-tree cell variants (spec §3).
type CellKind int

const (
	CellTableInterior CellKind = iota
	CellTableLeaf
	CellIndexInterior
	CellIndexLeaf
)

// Cell is the tagged union of B-tree cell variants (spec §3). Only the
// fields relevant to Kind are populated.
type Cell struct {
	Kind CellKind

	// TableInterior
	LeftChild uint32
	RowID     int64 // TableInterior, TableLeaf

	// Payload-bearing variants (TableLeaf, IndexInterior, IndexLeaf)
	PayloadSize    uint64 // full declared payload size
	BytesOnPage    []byte // payload bytes physically stored on this page
	Overflow       *OverflowChain
	HasOverflow    bool

	// Offset of the cell within the page, for carving provenance and
	// freeblock/fragment accounting.
	Offset uint16
}

// FullPayload returns the complete, stitched cell payload (on-page bytes
// plus any overflow bytes), matching PayloadSize.
func (c *Cell) FullPayload() []byte {
	if !c.HasOverflow || c.Overflow == nil {
		return c.BytesOnPage
	}
	out := make([]byte, 0, c.PayloadSize)
	out = append(out, c.BytesOnPage...)
	out = append(out, c.Overflow.Payload...)
	return out
}

// BTreePage is a decoded table/index interior/leaf page.
type BTreePage struct {
	PageNo       uint32
	Header       *headers.BTreePageHeader
	Cells        []Cell
	Freeblocks   []Freeblock
	Fragments    []Fragment
	UnallocatedOffset uint16 // start of the gap between cell pointer array and cell content
	UnallocatedLength uint16
	PageSize     uint32
	raw          []byte // full raw page bytes (including the 100-byte db header on page 1)
	headerBase   int    // offset of the B-tree header within raw (100 on page 1, else 0)
}

// Raw returns the full raw page bytes as read from disk.
func (p *BTreePage) Raw() []byte { return p.raw }

// UnallocatedBytes returns the unallocated gap between the cell-pointer
// array and the start of cell content — a carving target (spec §4.12).
func (p *BTreePage) UnallocatedBytes() []byte {
	return p.raw[p.UnallocatedOffset : p.UnallocatedOffset+p.UnallocatedLength]
}

// FreeblockBytes returns the full body (next pointer + size + free bytes)
// of one freeblock, a carving target.
func (p *BTreePage) FreeblockBytes(fb Freeblock) []byte {
	return p.raw[fb.Offset : fb.Offset+fb.Size]
}

// thresholds returns the maximum (maxLocal) and minimum (minLocal) on-page
// payload sizes from spec §4.4 for the given page size and whether the page
// holds table or index cells.
func thresholds(u uint32, table bool) (maxLocal, minLocal uint32) {
	if table {
		maxLocal = u - 35
	} else {
		maxLocal = ((u-12)*64)/255 - 23
	}
	minLocal = ((u-12)*32)/255 - 23
	return
}

// payloadSplit implements the cell-size formula of spec §4.4 verbatim: for
// table leaves the no-overflow ceiling is u-35; for index interior/leaf
// cells it is x = ((u-12)*64)/255 - 23. Both variants share the same
// "spill" formula once overflow is required.
func payloadSplit(u uint32, payloadSize uint64, table bool) (bytesOnPage int, hasOverflow bool) {
	maxLocal, m := thresholds(u, table)
	p := payloadSize
	if p <= uint64(maxLocal) {
		return int(p), false
	}
	b := m + uint32((p-uint64(m))%uint64(u-4))
	if b <= maxLocal {
		bytesOnPage = int(b)
	} else {
		bytesOnPage = int(m)
	}
	return bytesOnPage, true
}

// OverflowPageCount returns the number of overflow pages a cell with the
// given payload size and on-first-page byte count requires (spec §3, §8
// property 3): ceil((payloadSize - bytesOnFirstPage) / (pageSize - 4)).
func OverflowPageCount(payloadSize uint64, bytesOnFirstPage int, pageSize uint32) int {
	remaining := int64(payloadSize) - int64(bytesOnFirstPage)
	if remaining <= 0 {
		return 0
	}
	perPage := int64(pageSize) - 4
	return int((remaining + perPage - 1) / perPage)
}

// ParseBTreePage decodes a full B-tree page given its raw bytes, page
// number, and a Source for walking overflow chains. For page 1 the header
// begins after the 100-byte database header (spec §4.3).
func ParseBTreePage(pageNo uint32, raw []byte, src Source) (*BTreePage, error) {
	opts := src.FormatOptions()
	headerBase := 0
	if pageNo == 1 {
		headerBase = 100
	}
	if len(raw) <= headerBase {
		return nil, dberr.New(dberr.KindMalformedPage, "short_page", "page shorter than expected header offset").WithPage(pageNo)
	}
	bh, err := headers.ParseBTreePageHeader(raw[headerBase:])
	if err != nil {
		return nil, wrapPageErr(err, pageNo)
	}

	u := uint32(len(raw))
	hdrLen := headerBase + bh.HeaderSize()
	cellPtrArrayOff := hdrLen
	cellPtrArrayLen := int(bh.CellCount) * 2

	bp := &BTreePage{PageNo: pageNo, Header: bh, PageSize: u, raw: raw, headerBase: headerBase}

	for i := 0; i < int(bh.CellCount); i++ {
		ptrOff := cellPtrArrayOff + i*2
		if ptrOff+2 > len(raw) {
			return nil, dberr.New(dberr.KindMalformedPage, "cell_pointer_array", "cell pointer array runs past page").WithPage(pageNo)
		}
		cellOff := bytesx.Uint16(raw[ptrOff:])
		cell, err := parseCell(bh.Kind, raw, int(cellOff), u, src, pageNo)
		if err != nil {
			return nil, err
		}
		cell.Offset = cellOff
		bp.Cells = append(bp.Cells, *cell)
	}

	// Walk freeblocks starting at FirstFreeblockOffset, ascending order
	// (spec §4.4).
	next := bh.FirstFreeblockOffset
	seen := map[uint16]bool{}
	for next != 0 {
		if int(next)+4 > len(raw) {
			return nil, dberr.New(dberr.KindMalformedPage, "freeblock_chain", "freeblock pointer out of range").WithPage(pageNo)
		}
		if seen[next] {
			return nil, dberr.New(dberr.KindMalformedPage, "freeblock_chain", "freeblock chain cycle detected").WithPage(pageNo)
		}
		seen[next] = true
		fbNext := bytesx.Uint16(raw[next:])
		fbSize := bytesx.Uint16(raw[next+2:])
		if fbNext != 0 && fbNext <= next {
			return nil, dberr.New(dberr.KindMalformedPage, "freeblock_chain", "freeblock offsets must ascend").WithPage(pageNo)
		}
		bp.Freeblocks = append(bp.Freeblocks, Freeblock{Offset: next, Size: fbSize})
		next = fbNext
	}

	// preface_bytes = header_length (+100 if p=1) + 2*cell_count
	preface := hdrLen + cellPtrArrayLen
	bp.UnallocatedOffset = uint16(preface)
	if int(bh.CellContentOffset) >= preface {
		bp.UnallocatedLength = uint16(int(bh.CellContentOffset) - preface)
	}

	// Residual 1-3 byte gaps between placed cells/freeblocks that are not
	// linked become Fragments; their total must equal FragmentTotal (spec
	// §3), which checkAccounting below verifies.
	bp.Fragments = inferFragments(bp)

	if err := checkAccounting(bp, opts); err != nil {
		return nil, wrapPageErr(err, pageNo)
	}

	return bp, nil
}

// checkAccounting validates the two page-accounting facts spec §4.4/§8
// property 2 requires every B-tree page to satisfy: the fragment list's
// total size must equal the header's declared fragment_total, and
// preface + gap + Σcells + Σfreeblocks + Σfragments must equal the page
// size exactly — any shortfall is an unaccounted span of >=4 bytes that
// inferFragments deliberately does not absorb (a broken freeblock chain).
// In strict mode either mismatch is a hard error; otherwise it is only
// reported through opts.Sink and parsing continues.
func checkAccounting(bp *BTreePage, opts Options) error {
	fragTotal := 0
	for _, f := range bp.Fragments {
		fragTotal += int(f.Size)
	}
	if fragTotal != int(bp.Header.FragmentTotal) {
		msg := fmt.Sprintf("fragment bytes sum to %d, header declares fragment_total=%d", fragTotal, bp.Header.FragmentTotal)
		if opts.Strict {
			return dberr.New(dberr.KindMalformedPage, "fragment_total", msg)
		}
		diag.Warnf(opts.Sink, opts.SessionID, "page", "page %d: %s", bp.PageNo, msg)
	}

	cellsSum := 0
	for i := range bp.Cells {
		cellsSum += cellOnPageSize(bp.Header.Kind, bp, &bp.Cells[i])
	}
	freeblocksSum := 0
	for _, fb := range bp.Freeblocks {
		freeblocksSum += int(fb.Size)
	}
	accounted := int(bp.UnallocatedOffset) + int(bp.UnallocatedLength) + cellsSum + freeblocksSum + fragTotal
	if accounted != int(bp.PageSize) {
		msg := fmt.Sprintf("page accounting totals %d bytes, want page_size=%d (preface=%d gap=%d cells=%d freeblocks=%d fragments=%d)",
			accounted, bp.PageSize, bp.UnallocatedOffset, bp.UnallocatedLength, cellsSum, freeblocksSum, fragTotal)
		if opts.Strict {
			return dberr.New(dberr.KindMalformedPage, "page_accounting", msg)
		}
		diag.Warnf(opts.Sink, opts.SessionID, "page", "page %d: %s", bp.PageNo, msg)
	}
	return nil
}

func wrapPageErr(err error, pageNo uint32) error {
	var de *dberr.Error
	if e, ok := err.(*dberr.Error); ok {
		de = e
	} else {
		return fmt.Errorf("page %d: %w", pageNo, err)
	}
	return de.WithPage(pageNo)
}

// inferFragments derives the fragment list by scanning the gaps between
// cell-content-area start and end that are not accounted for by any cell
// or freeblock, grouping each contiguous unaccounted span of 1-3 bytes.
// Spans of >=4 unaccounted bytes indicate a freeblock-chain inconsistency
// and are reported by checkAccounting (an error in strict mode, a warning
// otherwise) rather than silently absorbed here.
func inferFragments(bp *BTreePage) []Fragment {
	occupied := make(map[uint16]bool)
	for _, c := range bp.Cells {
		size := cellOnPageSize(bp.Header.Kind, bp, &c)
		for i := 0; i < size; i++ {
			occupied[c.Offset+uint16(i)] = true
		}
	}
	for _, fb := range bp.Freeblocks {
		for i := 0; i < int(fb.Size); i++ {
			occupied[fb.Offset+uint16(i)] = true
		}
	}
	var frags []Fragment
	start := uint16(bp.Header.CellContentOffset)
	end := uint16(bp.PageSize)
	i := start
	for i < end {
		if occupied[i] {
			i++
			continue
		}
		spanStart := i
		for i < end && !occupied[i] {
			i++
		}
		span := i - spanStart
		if span > 0 && span <= 3 {
			frags = append(frags, Fragment{Offset: spanStart, Size: uint8(span)})
		}
	}
	return frags
}

// cellOnPageSize returns the number of bytes a cell physically occupies on
// the page (header fields + inline payload), used by fragment inference and
// by the page-accounting check.
func cellOnPageSize(kind headers.PageKind, bp *BTreePage, c *Cell) int {
	switch kind {
	case headers.PageKindTableInterior:
		return 4 + varintLen(uint64(c.RowID))
	case headers.PageKindTableLeaf:
		n := varintLen(c.PayloadSize) + varintLen(uint64(c.RowID)) + len(c.BytesOnPage)
		if c.HasOverflow {
			n += 4
		}
		return n
	case headers.PageKindIndexInterior:
		n := 4 + varintLen(c.PayloadSize) + len(c.BytesOnPage)
		if c.HasOverflow {
			n += 4
		}
		return n
	case headers.PageKindIndexLeaf:
		n := varintLen(c.PayloadSize) + len(c.BytesOnPage)
		if c.HasOverflow {
			n += 4
		}
		return n
	}
	return 0
}

func varintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
		if n == 9 {
			break
		}
	}
	return n
}

func parseCell(kind headers.PageKind, raw []byte, off int, pageSize uint32, src Source, pageNo uint32) (*Cell, error) {
	if off < 0 || off >= len(raw) {
		return nil, dberr.New(dberr.KindMalformedPage, "cell_offset", "cell offset out of range").WithPage(pageNo)
	}
	cur := raw[off:]

	switch kind {
	case headers.PageKindTableInterior:
		if len(cur) < 4 {
			return nil, dberr.New(dberr.KindMalformedPage, "cell_truncated", "table interior cell truncated").WithPage(pageNo)
		}
		leftChild := bytesx.Uint32(cur)
		rowID, n, err := bytesx.Varint(cur[4:])
		if err != nil {
			return nil, dberr.Wrap(dberr.KindMalformedPage, "cell_varint", "table interior row id", err).WithPage(pageNo)
		}
		_ = n
		return &Cell{Kind: CellTableInterior, LeftChild: leftChild, RowID: int64(rowID)}, nil

	case headers.PageKindTableLeaf:
		payloadSize, n1, err := bytesx.Varint(cur)
		if err != nil {
			return nil, dberr.Wrap(dberr.KindMalformedPage, "cell_varint", "table leaf payload size", err).WithPage(pageNo)
		}
		rowID, n2, err := bytesx.Varint(cur[n1:])
		if err != nil {
			return nil, dberr.Wrap(dberr.KindMalformedPage, "cell_varint", "table leaf row id", err).WithPage(pageNo)
		}
		bodyOff := n1 + n2
		return buildPayloadCell(CellTableLeaf, raw, off, bodyOff, payloadSize, pageSize, src, pageNo, int64(rowID), 0)

	case headers.PageKindIndexInterior:
		if len(cur) < 4 {
			return nil, dberr.New(dberr.KindMalformedPage, "cell_truncated", "index interior cell truncated").WithPage(pageNo)
		}
		leftChild := bytesx.Uint32(cur)
		payloadSize, n1, err := bytesx.Varint(cur[4:])
		if err != nil {
			return nil, dberr.Wrap(dberr.KindMalformedPage, "cell_varint", "index interior payload size", err).WithPage(pageNo)
		}
		return buildPayloadCell(CellIndexInterior, raw, off, 4+n1, payloadSize, pageSize, src, pageNo, 0, leftChild)

	case headers.PageKindIndexLeaf:
		payloadSize, n1, err := bytesx.Varint(cur)
		if err != nil {
			return nil, dberr.Wrap(dberr.KindMalformedPage, "cell_varint", "index leaf payload size", err).WithPage(pageNo)
		}
		return buildPayloadCell(CellIndexLeaf, raw, off, n1, payloadSize, pageSize, src, pageNo, 0, 0)
	}
	return nil, dberr.New(dberr.KindMalformedPage, "page_kind", "unreachable page kind").WithPage(pageNo)
}

func buildPayloadCell(kind CellKind, raw []byte, cellOff, bodyOff int, payloadSize uint64, pageSize uint32, src Source, pageNo uint32, rowID int64, leftChild uint32) (*Cell, error) {
	table := kind == CellTableLeaf
	bytesOnPage, hasOverflow := payloadSplit(pageSize, payloadSize, table)

	start := cellOff + bodyOff
	end := start + bytesOnPage
	if hasOverflow {
		end += 4 // room for the overflow-page pointer
	}
	if end > len(raw) {
		return nil, dberr.New(dberr.KindMalformedRecord, "cell_truncated", "cell payload runs past page").WithPage(pageNo)
	}

	c := &Cell{
		Kind:        kind,
		RowID:       rowID,
		LeftChild:   leftChild,
		PayloadSize: payloadSize,
		HasOverflow: hasOverflow,
	}
	if !hasOverflow {
		c.BytesOnPage = append([]byte(nil), raw[start:start+bytesOnPage]...)
		return c, nil
	}

	c.BytesOnPage = append([]byte(nil), raw[start:start+bytesOnPage]...)
	firstOverflowPage := bytesx.Uint32(raw[start+bytesOnPage:])
	chain, err := walkOverflowChain(firstOverflowPage, payloadSize, bytesOnPage, pageSize, src)
	if err != nil {
		return nil, wrapPageErr(err, pageNo)
	}
	c.Overflow = chain
	return c, nil
}

// walkOverflowChain eagerly follows an overflow chain into a
// page_no -> OverflowPage map (spec §4.4), verifying the last page's
// Next==0 and that the chain length matches OverflowPageCount.
func walkOverflowChain(first uint32, payloadSize uint64, bytesOnFirstPage int, pageSize uint32, src Source) (*OverflowChain, error) {
	wantPages := OverflowPageCount(payloadSize, bytesOnFirstPage, pageSize)
	chain := &OverflowChain{First: first, Pages: map[uint32]*OverflowPage{}}
	remaining := int64(payloadSize) - int64(bytesOnFirstPage)
	cur := first
	count := 0
	seen := map[uint32]bool{}
	for cur != 0 {
		if seen[cur] {
			return nil, dberr.New(dberr.KindMalformedPage, "overflow_chain", "overflow chain cycle detected").WithPage(cur)
		}
		seen[cur] = true
		raw, err := src.PageBytes(cur)
		if err != nil {
			return nil, dberr.Wrap(dberr.KindMalformedPage, "overflow_chain", "read overflow page", err)
		}
		if len(raw) < 4 {
			return nil, dberr.New(dberr.KindMalformedPage, "overflow_chain", "overflow page shorter than 4 bytes")
		}
		next := bytesx.Uint32(raw)
		capacity := int64(pageSize) - 4
		take := remaining
		if take > capacity {
			take = capacity
		}
		if take < 0 {
			take = 0
		}
		op := &OverflowPage{PageNo: cur, Next: next, Data: append([]byte(nil), raw[4:4+take]...)}
		chain.Pages[cur] = op
		chain.Payload = append(chain.Payload, op.Data...)
		remaining -= take
		count++
		if next == 0 {
			break
		}
		cur = next
	}
	if count != wantPages {
		return nil, dberr.New(dberr.KindMalformedPage, "overflow_length",
			fmt.Sprintf("overflow chain length %d != expected %d", count, wantPages))
	}
	if remaining != 0 {
		return nil, dberr.New(dberr.KindMalformedPage, "overflow_length", "overflow chain did not exhaust payload")
	}
	return chain, nil
}
