//go:build !unix

// Non-unix fallback: OpenMmap degrades to the portable os.File-backed
// Backend rather than failing outright, since golang.org/x/sys/unix's
// Mmap/Munmap have no portable equivalent here.
package filehandle

// OpenMmap opens path through the default Backend; memory-mapping is a
// unix-only optimization (spec §5), not a behavioral guarantee.
func OpenMmap(path string, kind Kind) (*FileHandle, error) {
	return Open(path, kind)
}
