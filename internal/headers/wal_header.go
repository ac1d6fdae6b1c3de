package headers

import (
	"encoding/binary"

	"github.com/sqlitedissect/core/internal/bytesx"
	"github.com/sqlitedissect/core/internal/dberr"
)

// WAL constants (spec §4.3, §6.1).
const (
	WALHeaderSize            = 32
	WALFrameHeaderSize       = 24
	walMagicBigEndian        = 0x377F0683
	walMagicLittleEndian     = 0x377F0682
	walFileFormatVersion3007 = 3007000
)

// WALHeader is the 32-byte WAL file header.
type WALHeader struct {
	BigEndianChecksums bool
	FileFormatVersion  uint32
	PageSize           uint32
	CheckpointSeq      uint32
	Salt1              uint32
	Salt2              uint32
	Checksum1          uint32
	Checksum2          uint32
}

// ParseWALHeader decodes the 32-byte WAL header.
func ParseWALHeader(buf []byte) (*WALHeader, error) {
	if len(buf) < WALHeaderSize {
		return nil, dberr.New(dberr.KindMalformedHeader, "short_wal_header", "WAL header shorter than 32 bytes")
	}
	magic := bytesx.Uint32(buf[0:])
	var bigEndian bool
	switch magic {
	case walMagicBigEndian:
		bigEndian = true
	case walMagicLittleEndian:
		bigEndian = false
	default:
		return nil, dberr.New(dberr.KindMalformedHeader, "wal_magic", "unrecognized WAL magic number")
	}
	ffv := bytesx.Uint32(buf[4:])
	if ffv != walFileFormatVersion3007 {
		return nil, dberr.New(dberr.KindMalformedHeader, "wal_format_version", "WAL file-format version must be 3007000")
	}
	rawPageSize := bytesx.Uint32(buf[8:])
	var pageSize uint32
	switch {
	case rawPageSize == 1:
		pageSize = 65536
	case rawPageSize >= 512 && (rawPageSize&(rawPageSize-1)) == 0:
		pageSize = rawPageSize
	default:
		return nil, dberr.New(dberr.KindMalformedHeader, "wal_page_size", "WAL page size invalid")
	}
	return &WALHeader{
		BigEndianChecksums: bigEndian,
		FileFormatVersion:  ffv,
		PageSize:           pageSize,
		CheckpointSeq:      bytesx.Uint32(buf[12:]),
		Salt1:              bytesx.Uint32(buf[16:]),
		Salt2:              bytesx.Uint32(buf[20:]),
		Checksum1:          bytesx.Uint32(buf[24:]),
		Checksum2:          bytesx.Uint32(buf[28:]),
	}, nil
}

// ByteOrder returns the endianness WAL checksums are computed in. Checksum
// verification itself is out of scope (spec §1 non-goals) but the byte
// order is still exposed for diagnostic completeness.
func (h *WALHeader) ByteOrder() binary.ByteOrder {
	if h.BigEndianChecksums {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// WALFrameHeader is the 24-byte header preceding each frame's page image.
type WALFrameHeader struct {
	PageNumber         uint32
	PageSizeAfterCommit uint32 // nonzero iff this frame commits a transaction
	Salt1              uint32
	Salt2              uint32
	Checksum1          uint32
	Checksum2          uint32
}

// IsCommit reports whether this frame is the commit frame of its transaction.
func (h *WALFrameHeader) IsCommit() bool { return h.PageSizeAfterCommit != 0 }

// ParseWALFrameHeader decodes a 24-byte WAL frame header.
func ParseWALFrameHeader(buf []byte) (*WALFrameHeader, error) {
	if len(buf) < WALFrameHeaderSize {
		return nil, dberr.New(dberr.KindMalformedHeader, "short_wal_frame_header", "WAL frame header shorter than 24 bytes")
	}
	return &WALFrameHeader{
		PageNumber:          bytesx.Uint32(buf[0:]),
		PageSizeAfterCommit: bytesx.Uint32(buf[4:]),
		Salt1:               bytesx.Uint32(buf[8:]),
		Salt2:               bytesx.Uint32(buf[12:]),
		Checksum1:           bytesx.Uint32(buf[16:]),
		Checksum2:           bytesx.Uint32(buf[20:]),
	}, nil
}
