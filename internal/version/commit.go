package version

import (
	"fmt"

	"github.com/sqlitedissect/core/internal/btreewalk"
	"github.com/sqlitedissect/core/internal/bytesx"
	"github.com/sqlitedissect/core/internal/dberr"
	"github.com/sqlitedissect/core/internal/headers"
	"github.com/sqlitedissect/core/internal/page"
)

// HeaderDelta records the per-field modification flags computed by diffing
// two database headers across a commit (spec §4.8 step 5).
type HeaderDelta struct {
	FileChangeCounterIncremented        bool
	VersionValidForNumberIncremented    bool
	DatabaseSizeInPagesModified         bool
	ModifiedFirstFreelistTrunkPageNo    bool
	ModifiedNumberOfFreelistPages       bool
	ModifiedLargestRootBTreePageNo      bool
	SchemaCookieModified                bool
	SchemaFormatNumberModified           bool
	DatabaseTextEncodingModified         bool
	UserVersionModified                  bool
}

// CommitRecord is a Version subtype produced by flushing one committed WAL
// transaction's frames (spec §4.8).
type CommitRecord struct {
	Version // embeds VersionNo, PageSizeBytes, PageVersionIndex, etc.

	Frames            map[uint32]uint32 // page_no -> frame index within the WAL file, for this commit's frames
	Committed         bool
	CommittedPageSize uint32

	DatabaseHeaderModified   bool
	RootBTreePageModified    bool
	MasterSchemaModified     bool
	FreelistPagesModified    bool
	PointerMapPagesModified  bool
	HeaderDelta              HeaderDelta
}

// walFrame is one decoded frame plus its global position in the WAL file,
// used while buffering a commit's frames (spec §4.9).
type walFrame struct {
	globalNo uint32
	header   *headers.WALFrameHeader
	pageData []byte
}

// buildCommitRecord constructs a CommitRecord from one commit's ordered
// frames, threading forward the previous version's page-version index
// (copied, not aliased) and the previous database header/master-schema
// state (spec §4.8).
func buildCommitRecord(versionNo uint32, frames []walFrame, prevIndex map[uint32]uint32, prevFreelist, prevPointerMap, prevMasterSchema map[uint32]bool, prevHeader *headers.DatabaseHeader, pageSize uint32, hist *History, formatOpts page.Options, storeInMemory bool) (*CommitRecord, error) {
	seen := map[uint32]bool{}
	var committedPageSize uint32
	commitFrames := 0
	for _, f := range frames {
		if seen[f.header.PageNumber] {
			return nil, dberr.New(dberr.KindWalInconsistent, "repeated_page_in_commit",
				fmt.Sprintf("page %d appears more than once in one commit", f.header.PageNumber)).WithPage(f.header.PageNumber)
		}
		seen[f.header.PageNumber] = true
		if f.header.IsCommit() {
			committedPageSize = f.header.PageSizeAfterCommit
			commitFrames++
		}
	}
	if commitFrames != 1 {
		return nil, dberr.New(dberr.KindWalInconsistent, "commit_frame_count",
			fmt.Sprintf("expected exactly one commit frame, found %d", commitFrames))
	}

	newIndex := make(map[uint32]uint32, len(prevIndex)+len(frames))
	for k, v := range prevIndex {
		newIndex[k] = v
	}
	frameIndex := make(map[uint32]uint32, len(frames))
	updatedPages := make(map[uint32]bool, len(frames))
	for _, f := range frames {
		newIndex[f.header.PageNumber] = versionNo
		frameIndex[f.header.PageNumber] = f.globalNo
		updatedPages[f.header.PageNumber] = true
	}

	cr := &CommitRecord{
		Version: Version{
			VersionNo:         versionNo,
			PageSizeBytes:     pageSize,
			DatabaseSizePages: committedPageSize,
			PageVersionIndex:  newIndex,
			UpdatedPages:      updatedPages,
			hist:              hist,
			storeInMemory:     storeInMemory,
			formatOpts:        formatOpts,
		},
		Frames:            frameIndex,
		Committed:         true,
		CommittedPageSize: committedPageSize,
	}
	if storeInMemory {
		cr.Version.cache = map[uint32][]byte{}
	}
	hist.registerCommit(cr)

	if err := cr.classify(prevIndex, prevFreelist, prevPointerMap, prevMasterSchema, prevHeader); err != nil {
		return nil, err
	}

	currentHeader := prevHeader
	if cr.Header != nil {
		currentHeader = cr.Header
	}
	freelist, err := walkFreelist(currentHeader.FirstFreelistTrunk, &cr.Version)
	if err != nil {
		return nil, err
	}
	cr.FreelistPageNumbers = freelist
	cr.PointerMapPageNumbers = pointerMapPageNumbers(currentHeader.LargestRootBTreePage, committedPageSize, pageSize)
	masterPages, _, err := btreewalk.Walk(1, &cr.Version)
	if err != nil {
		return nil, err
	}
	cr.MasterSchemaPageNumbers = masterPages
	cr.UpdatedBTreePageNumbers = subtractKnownSets(cr.UpdatedPages, cr.FreelistPageNumbers, cr.PointerMapPageNumbers, cr.MasterSchemaPageNumbers)

	return cr, nil
}

// classify computes the modification flags of spec §4.8 steps 4-5 and
// applies the validation rules, failing with UnexpectedHeaderChange if any
// field difference is left unaccounted for.
func (cr *CommitRecord) classify(prevIndex map[uint32]uint32, prevFreelist, prevPointerMap, prevMasterSchema map[uint32]bool, prevHeader *headers.DatabaseHeader) error {
	page1Updated := cr.UpdatedPages[1]

	// database_header_modified and root_b_tree_page_modified are two
	// independent determinations, each an MD5 comparison of its own byte
	// range of page 1 against the previous version's same range: bytes
	// 0..100 (the header) and bytes 100..page_size (the root b-tree page).
	// Page 1 appearing in this commit's frames does not imply either
	// range actually changed.
	if page1Updated {
		prevWriter, ok := prevIndex[1]
		if !ok {
			return dberr.New(dberr.KindWalInconsistent, "unknown_page1_version", "no prior version recorded for page 1")
		}
		prevRaw, err := cr.hist.readPageAtVersion(prevWriter, 1)
		if err != nil {
			return err
		}
		newRaw, err := cr.PageBytes(1)
		if err != nil {
			return err
		}
		cr.DatabaseHeaderModified = bytesx.MD5Hex(prevRaw[:headers.DatabaseHeaderSize]) != bytesx.MD5Hex(newRaw[:headers.DatabaseHeaderSize])
		cr.RootBTreePageModified = bytesx.MD5Hex(prevRaw[headers.DatabaseHeaderSize:]) != bytesx.MD5Hex(newRaw[headers.DatabaseHeaderSize:])
	}

	for p := range cr.UpdatedPages {
		if prevFreelist[p] {
			cr.FreelistPagesModified = true
		}
		if prevPointerMap[p] {
			cr.PointerMapPagesModified = true
		}
		if prevMasterSchema[p] {
			cr.MasterSchemaModified = true
		}
	}

	if !cr.DatabaseHeaderModified {
		// No header change; nothing more to classify.
		var empty HeaderDelta
		cr.HeaderDelta = empty
		return nil
	}

	raw, err := cr.PageBytes(1)
	if err != nil {
		return err
	}
	newHeader, err := headers.ParseDatabaseHeader(raw)
	if err != nil {
		return err
	}
	cr.Header = newHeader

	diffFields := headers.FieldDiff(prevHeader, newHeader)
	accounted := map[string]bool{}

	mark := func(name string) {
		if diffFields[name] {
			accounted[name] = true
		}
	}

	d := &cr.HeaderDelta

	ccIncr := newHeader.FileChangeCounter == prevHeader.FileChangeCounter+1
	vvIncr := newHeader.VersionValidFor == prevHeader.VersionValidFor+1
	ccMoved := diffFields["file_change_counter"]
	vvMoved := diffFields["version_valid_for"]
	if ccMoved != vvMoved {
		return dberr.New(dberr.KindWalInconsistent, "counter_move_together",
			"file_change_counter and version_valid_for_number must move together")
	}
	if ccMoved && (!ccIncr || !vvIncr) {
		return dberr.New(dberr.KindWalInconsistent, "counter_increment",
			"file_change_counter and version_valid_for_number must each increment by exactly 1")
	}
	d.FileChangeCounterIncremented = ccMoved
	d.VersionValidForNumberIncremented = vvMoved
	mark("file_change_counter")
	mark("version_valid_for")

	d.DatabaseSizeInPagesModified = diffFields["database_size_pages"]
	mark("database_size_pages")

	d.ModifiedFirstFreelistTrunkPageNo = diffFields["first_freelist_trunk"]
	mark("first_freelist_trunk")
	d.ModifiedNumberOfFreelistPages = diffFields["freelist_pages"]
	mark("freelist_pages")

	rootChanged := diffFields["largest_root_b_tree_page"]
	if rootChanged {
		wasZero := prevHeader.LargestRootBTreePage == 0
		isZero := newHeader.LargestRootBTreePage == 0
		if wasZero != isZero {
			return dberr.New(dberr.KindWalInconsistent, "auto_vacuum_toggle",
				"largest_root_b_tree_page may not transition between zero and nonzero")
		}
	}
	d.ModifiedLargestRootBTreePageNo = rootChanged
	mark("largest_root_b_tree_page")

	d.SchemaCookieModified = diffFields["schema_cookie"]
	mark("schema_cookie")
	if d.SchemaCookieModified != cr.MasterSchemaModified {
		return dberr.New(dberr.KindWalInconsistent, "schema_cookie_master_schema",
			"schema_cookie_modified must equal master_schema_modified")
	}

	formatChanged := diffFields["schema_format"]
	encodingChanged := diffFields["text_encoding"]
	if formatChanged != encodingChanged {
		return dberr.New(dberr.KindWalInconsistent, "schema_format_encoding_move_together",
			"schema_format_number and database_text_encoding may only move together")
	}
	if formatChanged {
		if prevHeader.SchemaFormat != 0 || prevHeader.TextEncoding != 0 {
			return dberr.New(dberr.KindWalInconsistent, "schema_format_encoding_from_zero",
				"schema_format_number and database_text_encoding may only move from 0")
		}
		if prevHeader.DatabaseSizePages != 1 {
			return dberr.New(dberr.KindWalInconsistent, "schema_format_encoding_initial",
				"schema_format_number/database_text_encoding may only change when previous database_size_pages was 1")
		}
	}
	d.SchemaFormatNumberModified = formatChanged
	d.DatabaseTextEncodingModified = encodingChanged
	mark("schema_format")
	mark("text_encoding")

	d.UserVersionModified = diffFields["user_version"]
	mark("user_version")

	for name := range diffFields {
		if !accounted[name] {
			return dberr.New(dberr.KindWalInconsistent, "unexpected_header_change",
				fmt.Sprintf("header field %q changed with no accounting rule", name))
		}
	}
	return nil
}
