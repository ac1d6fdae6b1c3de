package headers

import (
	"github.com/sqlitedissect/core/internal/bytesx"
	"github.com/sqlitedissect/core/internal/dberr"
)

// Rollback-journal header (spec §6.1). Only the 28-byte header is decoded;
// page records are out of scope (spec §1, §9 open question) and any
// attempt to read one returns dberr.KindUnsupported.
const (
	JournalHeaderSize        = 28
	journalMagicHi    uint32 = 0xd9d505f9
	journalMagicLo    uint32 = 0x20a163d7
)

// JournalHeader is the decoded 28-byte rollback journal header.
type JournalHeader struct {
	PageCount    uint32
	Nonce        uint32
	InitialPages uint32
	SectorSize   uint32
	PageSize     uint32
}

// ParseJournalHeader decodes the 28-byte journal header. The 8-byte magic
// is the big-endian constant 0xd9d505f920a163d7.
func ParseJournalHeader(buf []byte) (*JournalHeader, error) {
	if len(buf) < JournalHeaderSize {
		return nil, dberr.New(dberr.KindMalformedHeader, "short_journal_header", "journal header shorter than 28 bytes")
	}
	hi := bytesx.Uint32(buf[0:])
	lo := bytesx.Uint32(buf[4:])
	if hi != journalMagicHi || lo != journalMagicLo {
		return nil, dberr.New(dberr.KindMalformedHeader, "journal_magic", "bad rollback journal magic")
	}
	return &JournalHeader{
		PageCount:    bytesx.Uint32(buf[8:]),
		Nonce:        bytesx.Uint32(buf[12:]),
		InitialPages: bytesx.Uint32(buf[16:]),
		SectorSize:   bytesx.Uint32(buf[20:]),
		PageSize:     bytesx.Uint32(buf[24:]),
	}, nil
}

// ReadPageRecord always fails: journal page records are not implemented,
// matching the Python original's own stub (spec §9).
func ReadPageRecord([]byte) error {
	return dberr.New(dberr.KindUnsupported, "journal_page_record", "rollback journal page records are not implemented")
}
