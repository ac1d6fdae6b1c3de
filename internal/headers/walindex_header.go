package headers

import (
	"encoding/binary"

	"github.com/sqlitedissect/core/internal/dberr"
)

// WAL-index (shm) header (spec §6.1): two replicated 48-byte sub-headers,
// 24 bytes of checkpoint info, and 16 reserved lock bytes — 136 bytes
// total. It is decoded read-only for diagnostic completeness; BuildHistory
// never consults it (spec §4.9 builds history purely from WAL frame order).
// Multi-byte fields are decoded little-endian; the big-endian WAL-index layout is reserved but not implemented (spec §6.1,
// §7 Unsupported).
const (
	WALIndexSubHeaderSize   = 48
	WALIndexCheckpointSize  = 24
	WALIndexLocksSize       = 16
	WALIndexHeaderSize      = 2*WALIndexSubHeaderSize + WALIndexCheckpointSize + WALIndexLocksSize // 136
	walIndexVersion3007000  = 3007000
)

// WALIndexSubHeader mirrors one of the two replicated 48-byte sub-headers.
type WALIndexSubHeader struct {
	Version       uint32
	Unused        uint32
	Change        uint32
	IsInit        uint8
	BigEndianCkpt uint8
	PageSize      uint16
	LastValidFrame uint32
	NPages        uint32
	FrameChecksum1 uint32
	FrameChecksum2 uint32
	Salt1         uint32
	Salt2         uint32
	Checksum1     uint32
	Checksum2     uint32
}

// WALIndexHeader is the full 136-byte shm header.
type WALIndexHeader struct {
	Sub1, Sub2 WALIndexSubHeader
}

func parseWALIndexSubHeader(buf []byte) WALIndexSubHeader {
	le := binary.LittleEndian
	return WALIndexSubHeader{
		Version:        le.Uint32(buf[0:]),
		Unused:         le.Uint32(buf[4:]),
		Change:         le.Uint32(buf[8:]),
		IsInit:         buf[12],
		BigEndianCkpt:  buf[13],
		PageSize:       le.Uint16(buf[14:]),
		LastValidFrame: le.Uint32(buf[16:]),
		NPages:         le.Uint32(buf[20:]),
		FrameChecksum1: le.Uint32(buf[24:]),
		FrameChecksum2: le.Uint32(buf[28:]),
		Salt1:          le.Uint32(buf[32:]),
		Salt2:           le.Uint32(buf[36:]),
		Checksum1:       le.Uint32(buf[40:]),
		Checksum2:       le.Uint32(buf[44:]),
	}
}

// ParseWALIndexHeader decodes the 136-byte WAL-index header. Big-endian
// shm files (BigEndianCkpt set) are detected but not decoded further.
func ParseWALIndexHeader(buf []byte) (*WALIndexHeader, error) {
	if len(buf) < WALIndexHeaderSize {
		return nil, dberr.New(dberr.KindMalformedHeader, "short_walindex_header", "WAL-index header shorter than 136 bytes")
	}
	sub1 := parseWALIndexSubHeader(buf[0:WALIndexSubHeaderSize])
	sub2 := parseWALIndexSubHeader(buf[WALIndexSubHeaderSize : 2*WALIndexSubHeaderSize])
	if sub1.BigEndianCkpt != 0 || sub2.BigEndianCkpt != 0 {
		return nil, dberr.New(dberr.KindUnsupported, "walindex_big_endian", "big-endian WAL-index files are not implemented")
	}
	return &WALIndexHeader{Sub1: sub1, Sub2: sub2}, nil
}
