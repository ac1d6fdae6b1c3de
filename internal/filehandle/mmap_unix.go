//go:build unix

// Memory-mapped Backend for unix platforms, answering spec §5's "memory-mapped
// or seekable file backends" explicitly. The portable os.File-backed
// Backend in filehandle.go remains the default everywhere; this one is
// opt-in via OpenMmap for large files where repeated ReadAt syscalls are
// undesirable.
package filehandle

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mmapBackend memory-maps the whole file read-only.
type mmapBackend struct {
	f    *os.File
	data []byte
}

// OpenMmap opens path and memory-maps its contents read-only, wrapping it
// as a FileHandle of the given kind.
func OpenMmap(path string, kind Kind) (*FileHandle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("filehandle: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("filehandle: stat %s: %w", path, err)
	}
	size := fi.Size()
	if size == 0 {
		// mmap of a zero-length file fails; treat as an empty in-memory backend.
		f.Close()
		return wrap(&memBackend{}, kind)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("filehandle: mmap %s: %w", path, err)
	}
	return wrap(&mmapBackend{f: f, data: data}, kind)
}

func (b *mmapBackend) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b.data)) {
		return 0, fmt.Errorf("filehandle: mmap read out of range at %d", off)
	}
	n := copy(p, b.data[off:])
	return n, nil
}

func (b *mmapBackend) Size() int64 { return int64(len(b.data)) }

func (b *mmapBackend) Close() error {
	err := unix.Munmap(b.data)
	if cerr := b.f.Close(); err == nil {
		err = cerr
	}
	return err
}
