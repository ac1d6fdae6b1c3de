// Package headers implements C3: the typed header structures for the
// database file, B-tree pages, the WAL, WAL frames, the WAL-index, and the
// rollback journal. Grounded on the teacher's
// internal/storage/pager.Superblock (field-offset constants + a
// Marshal/Unmarshal pair per structure), adapted from tinySQL's invented
// 256-byte superblock to SQLite's real 100-byte database header.
package headers

import (
	"bytes"
	"fmt"

	"github.com/sqlitedissect/core/internal/bytesx"
	"github.com/sqlitedissect/core/internal/dberr"
)

// DatabaseHeaderSize is the fixed size of the database file header.
const DatabaseHeaderSize = 100

// magic is the 16-byte magic string every SQLite database begins with.
var magic = []byte("SQLite format 3\x00")

// Database header field offsets, per spec §4.3 / §6.1.
const (
	offMagic                  = 0  // 16 bytes
	offPageSize               = 16 // uint16 BE
	offWriteVersion           = 18 // 1 byte
	offReadVersion            = 19 // 1 byte
	offReservedPerPage        = 20 // 1 byte
	offMaxEmbeddedPayloadFrac = 21 // 1 byte, fixed 64
	offMinEmbeddedPayloadFrac = 22 // 1 byte, fixed 32
	offLeafPayloadFrac        = 23 // 1 byte, fixed 32
	offFileChangeCounter      = 24 // uint32 BE
	offDatabaseSizePages      = 28 // uint32 BE
	offFirstFreelistTrunk     = 32 // uint32 BE
	offFreelistPages          = 36 // uint32 BE
	offSchemaCookie           = 40 // uint32 BE
	offSchemaFormat           = 44 // uint32 BE
	offDefaultPageCacheSize   = 48 // uint32 BE
	offLargestRootBTreePage   = 52 // uint32 BE (auto-vacuum / incremental-vacuum)
	offTextEncoding           = 56 // uint32 BE
	offUserVersion            = 60 // uint32 BE
	offIncrementalVacuum      = 64 // uint32 BE
	offApplicationID          = 68 // uint32 BE
	offReservedZero           = 72 // 20 bytes, must be zero
	offVersionValidFor        = 92 // uint32 BE
	offSQLiteVersionNumber    = 96 // uint32 BE
)

// FileFormatVersion enumerates the read/write format version byte values.
type FileFormatVersion uint8

const (
	FormatRollbackJournal FileFormatVersion = 1
	FormatWAL             FileFormatVersion = 2
)

// DatabaseHeader is the parsed 100-byte database file header (spec §4.3).
type DatabaseHeader struct {
	PageSize                 uint32 // post 1->65536 expansion applied
	WriteVersion             FileFormatVersion
	ReadVersion              FileFormatVersion
	ReservedPerPage          uint8
	FileChangeCounter        uint32
	DatabaseSizePages        uint32
	FirstFreelistTrunk       uint32
	FreelistPages            uint32
	SchemaCookie             uint32
	SchemaFormat             uint32
	DefaultPageCacheSize     uint32
	LargestRootBTreePage     uint32
	TextEncoding             uint32 // 0 (empty db), 1=UTF-8, 2=UTF-16LE, 3=UTF-16BE
	UserVersion              uint32
	IncrementalVacuum        uint32
	ApplicationID            uint32
	VersionValidFor          uint32
	SQLiteVersionNumber      uint32
}

// IsEmpty reports whether this header describes a freshly-created, empty
// database (schema format and text encoding both zero, per spec §4.3).
func (h *DatabaseHeader) IsEmpty() bool {
	return h.SchemaFormat == 0 && h.TextEncoding == 0
}

// ParseDatabaseHeader decodes the 100-byte database header from buf, which
// must hold at least DatabaseHeaderSize bytes (typically the first 100
// bytes of page 1). Returns *dberr.Error (KindMalformedHeader) on any
// out-of-range field or violated invariant, except a nonzero
// reserved-bytes-per-page value, which returns KindUnsupported.
func ParseDatabaseHeader(buf []byte) (*DatabaseHeader, error) {
	if len(buf) < DatabaseHeaderSize {
		return nil, dberr.New(dberr.KindMalformedHeader, "short_header", "database header shorter than 100 bytes")
	}
	if !bytes.Equal(buf[offMagic:offMagic+16], magic) {
		return nil, dberr.New(dberr.KindMalformedHeader, "magic", "bad SQLite magic string")
	}

	rawPageSize := bytesx.Uint16(buf[offPageSize:])
	var pageSize uint32
	switch {
	case rawPageSize == 1:
		pageSize = 65536
	case rawPageSize >= 512 && (rawPageSize&(rawPageSize-1)) == 0:
		pageSize = uint32(rawPageSize)
	default:
		return nil, dberr.New(dberr.KindMalformedHeader, "page_size",
			fmt.Sprintf("page size %d is not a power of two in [512,32768] or the 1-sentinel for 65536", rawPageSize))
	}

	writeVer := FileFormatVersion(buf[offWriteVersion])
	readVer := FileFormatVersion(buf[offReadVersion])
	if writeVer != FormatRollbackJournal && writeVer != FormatWAL {
		return nil, dberr.New(dberr.KindMalformedHeader, "write_version", "write format version must be 1 or 2")
	}
	if readVer != FormatRollbackJournal && readVer != FormatWAL {
		return nil, dberr.New(dberr.KindMalformedHeader, "read_version", "read format version must be 1 or 2")
	}

	reserved := buf[offReservedPerPage]
	if reserved != 0 {
		return nil, dberr.New(dberr.KindUnsupported, "reserved_bytes_per_page",
			"reserved-bytes-per-page feature is not supported")
	}

	if buf[offMaxEmbeddedPayloadFrac] != 64 || buf[offMinEmbeddedPayloadFrac] != 32 || buf[offLeafPayloadFrac] != 32 {
		return nil, dberr.New(dberr.KindMalformedHeader, "payload_fractions",
			"embedded payload fractions must be fixed at 64/32/32")
	}

	schemaFormat := bytesx.Uint32(buf[offSchemaFormat:])
	textEncoding := bytesx.Uint32(buf[offTextEncoding:])
	if schemaFormat != 0 && (schemaFormat < 1 || schemaFormat > 4) {
		return nil, dberr.New(dberr.KindMalformedHeader, "schema_format", "schema format must be 1..4")
	}
	if textEncoding != 0 && (textEncoding < 1 || textEncoding > 3) {
		return nil, dberr.New(dberr.KindMalformedHeader, "text_encoding", "text encoding must be 1..3")
	}

	for _, b := range buf[offReservedZero : offReservedZero+20] {
		if b != 0 {
			return nil, dberr.New(dberr.KindMalformedHeader, "reserved_zero", "reserved header bytes 72..92 must be zero")
		}
	}

	h := &DatabaseHeader{
		PageSize:             pageSize,
		WriteVersion:         writeVer,
		ReadVersion:          readVer,
		ReservedPerPage:      reserved,
		FileChangeCounter:    bytesx.Uint32(buf[offFileChangeCounter:]),
		DatabaseSizePages:    bytesx.Uint32(buf[offDatabaseSizePages:]),
		FirstFreelistTrunk:   bytesx.Uint32(buf[offFirstFreelistTrunk:]),
		FreelistPages:        bytesx.Uint32(buf[offFreelistPages:]),
		SchemaCookie:         bytesx.Uint32(buf[offSchemaCookie:]),
		SchemaFormat:         schemaFormat,
		DefaultPageCacheSize: bytesx.Uint32(buf[offDefaultPageCacheSize:]),
		LargestRootBTreePage: bytesx.Uint32(buf[offLargestRootBTreePage:]),
		TextEncoding:         textEncoding,
		UserVersion:          bytesx.Uint32(buf[offUserVersion:]),
		IncrementalVacuum:    bytesx.Uint32(buf[offIncrementalVacuum:]),
		ApplicationID:        bytesx.Uint32(buf[offApplicationID:]),
		VersionValidFor:      bytesx.Uint32(buf[offVersionValidFor:]),
		SQLiteVersionNumber:  bytesx.Uint32(buf[offSQLiteVersionNumber:]),
	}
	return h, nil
}

// FieldDiff lists which of ten header fields differ between two
// DatabaseHeaders, keyed by field name: file change counter, database size,
// first freelist trunk, freelist page count, schema cookie, schema format,
// largest root b-tree page, text encoding, user version and
// version-valid-for. Page size, read/write format versions, reserved bytes,
// default page cache size, incremental vacuum, application ID and SQLite
// version number are not compared. Used by the WAL commit-record
// classifier (spec §4.8) to drive the per-field modification flags and to
// check that no difference among the compared fields is left unaccounted.
func FieldDiff(prev, next *DatabaseHeader) map[string]bool {
	d := map[string]bool{}
	mark := func(name string, changed bool) {
		if changed {
			d[name] = true
		}
	}
	mark("file_change_counter", prev.FileChangeCounter != next.FileChangeCounter)
	mark("database_size_pages", prev.DatabaseSizePages != next.DatabaseSizePages)
	mark("first_freelist_trunk", prev.FirstFreelistTrunk != next.FirstFreelistTrunk)
	mark("freelist_pages", prev.FreelistPages != next.FreelistPages)
	mark("schema_cookie", prev.SchemaCookie != next.SchemaCookie)
	mark("schema_format", prev.SchemaFormat != next.SchemaFormat)
	mark("largest_root_b_tree_page", prev.LargestRootBTreePage != next.LargestRootBTreePage)
	mark("text_encoding", prev.TextEncoding != next.TextEncoding)
	mark("user_version", prev.UserVersion != next.UserVersion)
	mark("version_valid_for", prev.VersionValidFor != next.VersionValidFor)
	return d
}
