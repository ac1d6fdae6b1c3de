package version

import (
	"fmt"

	"github.com/sqlitedissect/core/internal/dberr"
	"github.com/sqlitedissect/core/internal/diag"
	"github.com/sqlitedissect/core/internal/filehandle"
	"github.com/sqlitedissect/core/internal/headers"
)

// History is the ordered chain [V_0, V_1, ..., V_N] of spec §4.9, plus
// enough bookkeeping to dispatch a page read to whichever version actually
// wrote it (base database file, or a specific commit's WAL frame).
type History struct {
	base     *Version
	dbHandle *filehandle.FileHandle
	walHandle *filehandle.FileHandle

	commits      []*CommitRecord
	commitByVer  map[uint32]*CommitRecord

	// InvalidFrameSalts buckets frames whose salt_1 did not match the WAL
	// header's (overwritten by a checkpoint), keyed by the observed salt,
	// for reporting only (spec §4.9).
	InvalidFrameSalts map[uint32]int
}

// Versions returns the full ordered history [V_0 .. V_N] as plain Versions
// (callers needing commit-specific fields use Commits()).
func (h *History) Versions() []*Version {
	out := make([]*Version, 0, len(h.commits)+1)
	out = append(out, h.base)
	for _, c := range h.commits {
		out = append(out, &c.Version)
	}
	return out
}

// Commits returns the ordered commit records V_1..V_N.
func (h *History) Commits() []*CommitRecord { return h.commits }

// Base returns V_0.
func (h *History) Base() *Version { return h.base }

func (h *History) registerCommit(cr *CommitRecord) {
	if h.commitByVer == nil {
		h.commitByVer = map[uint32]*CommitRecord{}
	}
	h.commits = append(h.commits, cr)
	h.commitByVer[cr.VersionNo] = cr
}

// readPageAtVersion reads page n's bytes as written by version writerVer:
// from the database file for the base version, or from the WAL frame the
// matching commit recorded for n.
func (h *History) readPageAtVersion(writerVer uint32, n uint32) ([]byte, error) {
	if writerVer == BaseVersionNo {
		off := int64(n-1) * int64(h.base.PageSizeBytes)
		return h.dbHandle.Read(off, int(h.base.PageSizeBytes))
	}
	cr, ok := h.commitByVer[writerVer]
	if !ok {
		return nil, dberr.New(dberr.KindWalInconsistent, "unknown_commit_version",
			fmt.Sprintf("no commit record for version %d", writerVer))
	}
	frameNo, ok := cr.Frames[n]
	if !ok {
		return nil, dberr.New(dberr.KindWalInconsistent, "frame_missing",
			fmt.Sprintf("commit version %d has no frame for page %d", writerVer, n)).WithPage(n)
	}
	pageSize := int64(h.base.PageSizeBytes)
	frameSpan := int64(headers.WALFrameHeaderSize) + pageSize
	off := int64(headers.WALHeaderSize) + int64(frameNo)*frameSpan + int64(headers.WALFrameHeaderSize)
	return h.walHandle.Read(off, int(pageSize))
}

// BuildHistory walks the WAL file frame by frame, accumulating frames into
// a buffer and flushing a CommitRecord each time a commit frame is seen
// (spec §4.9). Frames whose salt_1 differs from the WAL header's are
// invalid and bucketed by salt for reporting only. Trailing frames after
// the last commit are dropped with a warning.
func BuildHistory(base *Version, walHandle *filehandle.FileHandle, sink diag.Sink, sessionID string, storeInMemory bool) (*History, error) {
	hist := base.hist
	hist.walHandle = walHandle
	hist.InvalidFrameSalts = map[uint32]int{}

	if walHandle == nil {
		return hist, nil
	}

	walHeaderBuf, err := walHandle.Read(0, headers.WALHeaderSize)
	if err != nil {
		return nil, err
	}
	walHeader, err := headers.ParseWALHeader(walHeaderBuf)
	if err != nil {
		return nil, err
	}

	frameSpan := int64(headers.WALFrameHeaderSize) + int64(walHeader.PageSize)
	total := walHandle.Size()
	numFrames := (total - headers.WALHeaderSize) / frameSpan

	var buffer []walFrame
	versionNo := uint32(BaseVersionNo)
	prevIndex := base.PageVersionIndex
	prevFreelist := base.FreelistPageNumbers
	prevPointerMap := base.PointerMapPageNumbers
	prevMasterSchema := base.MasterSchemaPageNumbers
	prevHeader := base.Header
	pageSize := base.PageSizeBytes

	for i := int64(0); i < numFrames; i++ {
		frameOff := int64(headers.WALHeaderSize) + i*frameSpan
		fhBuf, err := walHandle.Read(frameOff, headers.WALFrameHeaderSize)
		if err != nil {
			return nil, err
		}
		fh, err := headers.ParseWALFrameHeader(fhBuf)
		if err != nil {
			return nil, err
		}
		if fh.Salt1 != walHeader.Salt1 {
			hist.InvalidFrameSalts[fh.Salt1]++
			continue
		}
		pageBuf, err := walHandle.Read(frameOff+int64(headers.WALFrameHeaderSize), int(walHeader.PageSize))
		if err != nil {
			return nil, err
		}
		buffer = append(buffer, walFrame{globalNo: uint32(i), header: fh, pageData: pageBuf})

		if fh.IsCommit() {
			versionNo++
			cr, err := buildCommitRecord(versionNo, buffer, prevIndex, prevFreelist, prevPointerMap, prevMasterSchema, prevHeader, pageSize, hist, base.formatOpts, storeInMemory)
			if err != nil {
				return nil, err
			}
			prevIndex = cr.PageVersionIndex
			prevFreelist = cr.FreelistPageNumbers
			prevPointerMap = cr.PointerMapPageNumbers
			prevMasterSchema = cr.MasterSchemaPageNumbers
			if cr.Header != nil {
				prevHeader = cr.Header
			}
			buffer = nil
		}
	}
	if len(buffer) > 0 {
		diag.Warnf(sink, sessionID, "history", "%d trailing WAL frames after the last commit frame were dropped", len(buffer))
	}

	return hist, nil
}
