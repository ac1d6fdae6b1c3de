package version

import (
	"encoding/binary"
	"testing"

	"github.com/sqlitedissect/core/internal/filehandle"
	"github.com/sqlitedissect/core/internal/headers"
)

// buildWALFrame appends one 24-byte frame header plus a page-sized page
// image to buf, using the given salts so it validates against the WAL
// header's. commitSizePages is the post-commit database size in pages,
// per spec nonzero iff this frame commits its transaction (0 otherwise).
func buildWALFrame(buf []byte, pageNo uint32, page []byte, salt1, salt2, commitSizePages uint32) []byte {
	var fh [headers.WALFrameHeaderSize]byte
	binary.BigEndian.PutUint32(fh[0:], pageNo)
	binary.BigEndian.PutUint32(fh[4:], commitSizePages)
	binary.BigEndian.PutUint32(fh[8:], salt1)
	binary.BigEndian.PutUint32(fh[12:], salt2)
	buf = append(buf, fh[:]...)
	buf = append(buf, page...)
	return buf
}

// buildWALFile assembles a 32-byte WAL header followed by the given
// frames, all sharing one salt pair (no checkpoint in between).
func buildWALFile(pageSize uint32, frames [][]byte) []byte {
	const salt1, salt2 = uint32(111), uint32(222)
	var hdr [headers.WALHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:], 0x377F0683) // big-endian checksum magic
	binary.BigEndian.PutUint32(hdr[4:], 3007000)
	binary.BigEndian.PutUint32(hdr[8:], pageSize)
	binary.BigEndian.PutUint32(hdr[12:], 0) // checkpoint_seq
	binary.BigEndian.PutUint32(hdr[16:], salt1)
	binary.BigEndian.PutUint32(hdr[20:], salt2)

	buf := append([]byte{}, hdr[:]...)
	for _, f := range frames {
		buf = buildWALFrame(buf, 1, f, salt1, salt2, 1) // each commit leaves a 1-page database
	}
	return buf
}

// TestClassifyIndependentHeaderAndRootFlags exercises a two-commit WAL
// history where the first commit changes only the 100-byte database header
// and the second changes only the root b-tree page content, proving
// database_header_modified and root_b_tree_page_modified are determined
// independently rather than both following "page 1 is in this commit".
func TestClassifyIndependentHeaderAndRootFlags(t *testing.T) {
	const pageSize = 512
	base := buildMinimalDatabase()

	// Commit 1: bump file_change_counter, version_valid_for_number, and
	// schema_cookie (page 1 is always the master-schema root too, so
	// touching it requires schema_cookie_modified == master_schema_modified);
	// the root b-tree page area (bytes 100..512) is otherwise untouched.
	headerOnly := append([]byte{}, base...)
	headerOnly[27] = 2 // file_change_counter: 1 -> 2
	headerOnly[95] = 1 // version_valid_for_number: 0 -> 1
	headerOnly[43] = 1 // schema_cookie: 0 -> 1

	// Commit 2: leave the header exactly as commit 1 left it, but flip a
	// byte in the root page's unallocated gap (not covered by any field
	// the header-delta accounting would need to explain).
	rootOnly := append([]byte{}, headerOnly...)
	rootOnly[300] = 0xAB

	walBytes := buildWALFile(pageSize, [][]byte{headerOnly, rootOnly})

	dbFH, err := filehandle.OpenBytes(base, filehandle.KindDatabase)
	if err != nil {
		t.Fatalf("OpenBytes(db): %v", err)
	}
	walFH, err := filehandle.OpenBytes(walBytes, filehandle.KindWAL)
	if err != nil {
		t.Fatalf("OpenBytes(wal): %v", err)
	}

	header, err := headers.ParseDatabaseHeader(base[:headers.DatabaseHeaderSize])
	if err != nil {
		t.Fatalf("ParseDatabaseHeader: %v", err)
	}

	baseVersion, err := BuildBaseVersion(dbFH, pageSize, header, nil, "", false, false)
	if err != nil {
		t.Fatalf("BuildBaseVersion: %v", err)
	}

	hist, err := BuildHistory(baseVersion, walFH, nil, "", false)
	if err != nil {
		t.Fatalf("BuildHistory: %v", err)
	}

	commits := hist.Commits()
	if len(commits) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(commits))
	}

	c1, c2 := commits[0], commits[1]

	if !c1.DatabaseHeaderModified {
		t.Error("commit 1: expected database_header_modified = true")
	}
	if c1.RootBTreePageModified {
		t.Error("commit 1: expected root_b_tree_page_modified = false")
	}

	if c2.DatabaseHeaderModified {
		t.Error("commit 2: expected database_header_modified = false")
	}
	if !c2.RootBTreePageModified {
		t.Error("commit 2: expected root_b_tree_page_modified = true")
	}
}
