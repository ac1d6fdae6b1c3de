// Package dissect is the public entry point: open a SQLite database (plus
// its optional WAL), reconstruct its version history, enumerate tables and
// indexes from the decoded master schema, and build per-table signatures,
// snapshots, commit diffs, and carved recoveries on top of it.
//
// Grounded on the teacher's top-level tinysql.go (the thin "open, then
// expose the pieces other packages built" facade over its own engine/
// storage split) — generalized from an in-memory SQL engine facade to a
// read-only forensic one over the decoding packages built underneath it.
package dissect

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/sqlitedissect/core/internal/btreewalk"
	"github.com/sqlitedissect/core/internal/carver"
	"github.com/sqlitedissect/core/internal/config"
	"github.com/sqlitedissect/core/internal/dberr"
	"github.com/sqlitedissect/core/internal/diag"
	"github.com/sqlitedissect/core/internal/filehandle"
	"github.com/sqlitedissect/core/internal/headers"
	"github.com/sqlitedissect/core/internal/historyparser"
	"github.com/sqlitedissect/core/internal/page"
	"github.com/sqlitedissect/core/internal/record"
	"github.com/sqlitedissect/core/internal/schema"
	"github.com/sqlitedissect/core/internal/signature"
	"github.com/sqlitedissect/core/internal/version"
)

// Session is one opened database: its file handles, header, reconstructed
// history, and decoded master schema.
type Session struct {
	Options config.Options
	Sink    diag.Sink

	// ID identifies this session in diagnostic messages (spec §5, §7); a
	// fresh one is assigned per OpenDatabase call so a caller running
	// several sessions concurrently can tell their warnings apart.
	ID string

	dbPath  string
	dbFile  *filehandle.FileHandle
	walFile *filehandle.FileHandle

	Header  *headers.DatabaseHeader
	History *version.History
	Schema  []*schema.MasterSchemaEntry
}

// OpenDatabase opens path (and, if present, path+"-wal") and parses the
// database header, but does not yet reconstruct history or schema — call
// BuildHistory afterward (spec §4.2, §6.3's "open, then decode" sequence).
func OpenDatabase(path string, opts config.Options, sink diag.Sink) (*Session, error) {
	openFile := filehandle.Open
	if opts.UseMmap {
		openFile = filehandle.OpenMmap
	}
	dbFile, err := openFile(path, filehandle.KindDatabase)
	if err != nil {
		return nil, err
	}
	headerBuf, err := dbFile.Read(0, 100)
	if err != nil {
		return nil, err
	}
	header, err := headers.ParseDatabaseHeader(headerBuf)
	if err != nil {
		return nil, err
	}
	dbFile.TextEncoding = int(header.TextEncoding)

	s := &Session{
		Options: opts,
		Sink:    sink,
		ID:      uuid.NewString(),
		dbPath:  path,
		dbFile:  dbFile,
		Header:  header,
	}

	if walFile, err := openWALIfPresent(path, openFile); err != nil {
		return nil, err
	} else {
		s.walFile = walFile
	}

	return s, nil
}

// openWALIfPresent opens path+"-wal" when that file exists, returning a
// nil handle (not an error) otherwise.
func openWALIfPresent(dbPath string, openFile func(string, filehandle.Kind) (*filehandle.FileHandle, error)) (*filehandle.FileHandle, error) {
	walPath := dbPath + "-wal"
	if _, err := os.Stat(walPath); err != nil {
		return nil, nil
	}
	return openFile(walPath, filehandle.KindWAL)
}

// Close releases the underlying file handles.
func (s *Session) Close() error {
	var firstErr error
	if s.walFile != nil {
		if err := s.walFile.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.dbFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// BuildHistory reconstructs the version chain and decodes the master
// schema from the base version (spec §4.7, §4.9).
func (s *Session) BuildHistory() error {
	base, err := version.BuildBaseVersion(s.dbFile, s.Header.PageSize, s.Header, s.Sink, s.ID, s.Options.StrictFormatChecking, s.Options.StoreInMemory)
	if err != nil {
		return err
	}
	hist, err := version.BuildHistory(base, s.walFile, s.Sink, s.ID, s.Options.StoreInMemory)
	if err != nil {
		return err
	}
	s.History = hist

	entries, err := decodeMasterSchema(base, s.Header.TextEncoding)
	if err != nil {
		return err
	}
	s.Schema = entries
	return nil
}

// decodeMasterSchema walks page 1's b-tree (sqlite_master) and decodes
// every row's standard five columns: type, name, tbl_name, rootpage, sql
// (spec §4.6).
func decodeMasterSchema(src page.Source, textEncoding uint32) ([]*schema.MasterSchemaEntry, error) {
	_, leaves, err := btreewalk.Walk(1, src)
	if err != nil {
		return nil, err
	}
	entries := make([]*schema.MasterSchemaEntry, 0, len(leaves))
	for _, lc := range leaves {
		rec, err := record.Decode(lc.Cell.FullPayload())
		if err != nil {
			return nil, err
		}
		entry, err := masterSchemaEntryFromRecord(lc.Cell.RowID, rec, textEncoding)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func masterSchemaEntryFromRecord(rowID int64, rec *record.Record, textEncoding uint32) (*schema.MasterSchemaEntry, error) {
	if len(rec.Columns) < 5 {
		return nil, dberr.New(dberr.KindSchemaParse, "short_master_row",
			fmt.Sprintf("sqlite_master row has %d columns, want 5", len(rec.Columns)))
	}
	kindStr := textOf(rec.Columns[0], textEncoding)
	name := textOf(rec.Columns[1], textEncoding)
	tableName := textOf(rec.Columns[2], textEncoding)
	rootPage := uint32(rec.Columns[3].Value.Integer)
	sqlText := textOf(rec.Columns[4], textEncoding)
	return schema.ParseMasterSchemaEntry(rowID, kindStr, name, tableName, rootPage, sqlText)
}

func textOf(c record.Column, textEncoding uint32) string {
	if c.Value.Kind != record.KindText {
		return ""
	}
	s, err := record.DecodeText(c.Value, textEncoding)
	if err != nil {
		return string(c.Value.Bytes)
	}
	return s
}

// ListTables returns every table entry, including sqlite_-prefixed internal
// tables (marked by IsInternal).
func (s *Session) ListTables() []*schema.MasterSchemaEntry {
	return s.entriesOfKind(schema.KindTable)
}

// ListIndexes returns every index entry.
func (s *Session) ListIndexes() []*schema.MasterSchemaEntry {
	return s.entriesOfKind(schema.KindIndex)
}

func (s *Session) entriesOfKind(kind schema.EntryKind) []*schema.MasterSchemaEntry {
	var out []*schema.MasterSchemaEntry
	for _, e := range s.Schema {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (s *Session) findEntry(name string) (*schema.MasterSchemaEntry, error) {
	for _, e := range s.Schema {
		if e.Name == name {
			return e, nil
		}
	}
	return nil, dberr.New(dberr.KindSchemaParse, "unknown_entry", fmt.Sprintf("no schema entry named %q", name))
}

// Row is one decoded record plus its row_id (0 for index entries, which
// have none).
type Row struct {
	RowID  int64
	Record *record.Record
}

// SnapshotTable decodes every row of entry name as it exists at versionNo
// (spec §4.10's "the current state of the table at a version" notion,
// without the added/updated/deleted framing).
func (s *Session) SnapshotTable(name string, versionNo uint32) ([]Row, error) {
	entry, err := s.findEntry(name)
	if err != nil {
		return nil, err
	}
	v, err := s.versionAt(versionNo)
	if err != nil {
		return nil, err
	}
	_, leaves, err := btreewalk.Walk(entry.RootPage, v)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(leaves))
	for _, lc := range leaves {
		rec, err := record.Decode(lc.Cell.FullPayload())
		if err != nil {
			return nil, err
		}
		rows = append(rows, Row{RowID: lc.Cell.RowID, Record: rec})
	}
	return rows, nil
}

func (s *Session) versionAt(versionNo uint32) (*version.Version, error) {
	if versionNo == version.BaseVersionNo {
		return s.History.Base(), nil
	}
	for _, cr := range s.History.Commits() {
		if cr.VersionNo == versionNo {
			return &cr.Version, nil
		}
	}
	return nil, dberr.New(dberr.KindWalInconsistent, "unknown_version", fmt.Sprintf("no version %d in history", versionNo))
}

// BuildTableSignature folds every row ever observed for entry name, across
// every version in history, into a Signature (spec §4.11).
func (s *Session) BuildTableSignature(name string) (*signature.Signature, error) {
	entry, err := s.findEntry(name)
	if err != nil {
		return nil, err
	}
	sig := signature.New(entry)
	for _, v := range s.History.Versions() {
		rootPage := entry.RootPage
		if rootPage == 0 {
			continue
		}
		_, leaves, err := btreewalk.Walk(rootPage, v)
		if err != nil {
			return nil, err
		}
		for _, lc := range leaves {
			rec, err := record.Decode(lc.Cell.FullPayload())
			if err != nil {
				continue // unparseable cells are skipped for signature purposes, not fatal
			}
			sig.Observe(rec)
		}
	}
	sig.Finalize()
	return sig, nil
}

// CarvedRecord is one recovered cell with its carving provenance.
type CarvedRecord struct {
	VersionNo  uint32
	Row        Row
	Provenance carver.Provenance
}

// CarveTable replays entry name's whole history through historyparser with
// carving enabled, returning every carved cell across every version
// (spec §4.12).
func (s *Session) CarveTable(name string) ([]CarvedRecord, error) {
	entry, err := s.findEntry(name)
	if err != nil {
		return nil, err
	}
	sig, err := s.BuildTableSignature(name)
	if err != nil {
		return nil, err
	}
	p := historyparser.New(entry, sig, s.Options.CarveFreelistPages)

	var out []CarvedRecord
	for i, v := range s.History.Versions() {
		commit, err := p.Next(v, v.VersionNo, s.dbFile.TextEncoding, entry.RootPage, i == 0)
		if err != nil {
			return nil, err
		}
		for _, cc := range commit.Carved {
			rec, err := record.Decode(cc.Cell.FullPayload())
			if err != nil {
				continue
			}
			out = append(out, CarvedRecord{
				VersionNo:  commit.VersionNo,
				Row:        Row{RowID: cc.Cell.RowID, Record: rec},
				Provenance: cc.Provenance,
			})
		}
	}
	return out, nil
}

// IterHistory replays entry name's whole history through historyparser
// without carving, returning one Commit per version (spec §4.10).
func (s *Session) IterHistory(name string) ([]*historyparser.Commit, error) {
	entry, err := s.findEntry(name)
	if err != nil {
		return nil, err
	}
	p := historyparser.New(entry, nil, false)

	var out []*historyparser.Commit
	for i, v := range s.History.Versions() {
		commit, err := p.Next(v, v.VersionNo, s.dbFile.TextEncoding, entry.RootPage, i == 0)
		if err != nil {
			return nil, err
		}
		out = append(out, commit)
	}
	return out, nil
}
