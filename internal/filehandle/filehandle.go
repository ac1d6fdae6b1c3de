// Package filehandle implements C2: open-only random-access readers over
// the database, WAL, WAL-index, and rollback-journal files. Grounded on the
// teacher's internal/storage/pager.Pager, which centralizes all file I/O so
// that every other layer reads through one seam (there: for CRC/WAL
// bookkeeping; here: for header validation and the 2^30 lock-byte-page
// guard).
package filehandle

import (
	"fmt"
	"io"
	"os"

	"github.com/sqlitedissect/core/internal/dberr"
)

// maxFileSize is the largest file this reader supports. SQLite databases at
// or above 2^30 bytes contain a lock-byte page, which spec §4.2 declares
// unsupported.
const maxFileSize = 1 << 30

// Backend abstracts the byte source so a memory-mapped implementation can
// be swapped in for the default os.File-backed one (spec §5: "memory-mapped
// or seekable file backends").
type Backend interface {
	ReadAt(p []byte, off int64) (int, error)
	Size() int64
	Close() error
}

// osBackend is the default, portable Backend using os.File.ReadAt.
type osBackend struct {
	f    *os.File
	size int64
}

func openOSBackend(path string) (*osBackend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("filehandle: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("filehandle: stat %s: %w", path, err)
	}
	return &osBackend{f: f, size: fi.Size()}, nil
}

func (b *osBackend) ReadAt(p []byte, off int64) (int, error) { return b.f.ReadAt(p, off) }
func (b *osBackend) Size() int64                              { return b.size }
func (b *osBackend) Close() error                             { return b.f.Close() }

// memBackend wraps an in-memory byte slice, used when the caller already
// has the file contents (e.g. test fixtures, or bytes retrieved remotely).
type memBackend struct{ data []byte }

func (b *memBackend) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b.data)) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
func (b *memBackend) Size() int64 { return int64(len(b.data)) }
func (b *memBackend) Close() error { return nil }

// Kind identifies which on-disk format a FileHandle validates on open.
type Kind int

const (
	KindDatabase Kind = iota
	KindWAL
	KindWALIndex
	KindJournal
)

// FileHandle is an open-only, random-access reader over one file. On open
// it only enforces the 2^30 size ceiling; it does not read or validate the
// file's header (callers parse those bytes with the headers package). It
// supports Read(offset, n) with dberr.ErrEndOfFile on out-of-range reads.
type FileHandle struct {
	backend Backend
	kind    Kind

	// TextEncoding is the database text encoding (1=UTF-8, 2=UTF-16LE,
	// 3=UTF-16BE), discovered from the database header when non-zero and
	// otherwise settable later by the first WAL commit that establishes a
	// schema (spec §4.2).
	TextEncoding int
}

// Open validates and wraps path as a FileHandle of the given kind. Header
// validation itself is performed by the headers package once the caller
// reads the header bytes; Open only enforces the size ceiling common to all
// kinds.
func Open(path string, kind Kind) (*FileHandle, error) {
	b, err := openOSBackend(path)
	if err != nil {
		return nil, err
	}
	return wrap(b, kind)
}

// OpenBytes wraps an in-memory buffer as a FileHandle, e.g. for a database
// or WAL already loaded by the caller.
func OpenBytes(data []byte, kind Kind) (*FileHandle, error) {
	return wrap(&memBackend{data: data}, kind)
}

func wrap(b Backend, kind Kind) (*FileHandle, error) {
	if b.Size() >= maxFileSize {
		b.Close()
		return nil, dberr.New(dberr.KindUnsupported, "lock_byte_page",
			fmt.Sprintf("file size %d >= 2^30: lock-byte page not supported", b.Size()))
	}
	return &FileHandle{backend: b, kind: kind}, nil
}

// Size returns the total file size in bytes.
func (h *FileHandle) Size() int64 { return h.backend.Size() }

// Kind returns which file this handle was opened as.
func (h *FileHandle) Kind() Kind { return h.kind }

// Read returns exactly n bytes starting at offset, or dberr.ErrEndOfFile if
// the range is out of bounds.
func (h *FileHandle) Read(offset int64, n int) ([]byte, error) {
	if offset < 0 || n < 0 || offset+int64(n) > h.backend.Size() {
		return nil, dberr.ErrEndOfFile.WithOffset(offset)
	}
	buf := make([]byte, n)
	read, err := h.backend.ReadAt(buf, offset)
	if err != nil && !(err == io.EOF && read == n) {
		if read == n {
			return buf, nil
		}
		return nil, dberr.Wrap(dberr.KindIO, "short_read", "short read", err).WithOffset(offset)
	}
	return buf, nil
}

// Close releases the underlying file descriptor or mapping.
func (h *FileHandle) Close() error { return h.backend.Close() }
