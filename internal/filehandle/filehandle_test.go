package filehandle

import "testing"

func TestOpenBytesReadRoundTrip(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	h, err := OpenBytes(data, KindDatabase)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer h.Close()

	got, err := h.Read(10, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, b := range got {
		if b != byte(10+i) {
			t.Fatalf("byte %d: got %d want %d", i, b, 10+i)
		}
	}
}

func TestReadOutOfRangeIsEndOfFile(t *testing.T) {
	h, err := OpenBytes(make([]byte, 10), KindDatabase)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	if _, err := h.Read(5, 10); err == nil {
		t.Fatal("expected end-of-file error")
	}
}

type hugeBackend struct{}

func (hugeBackend) ReadAt(p []byte, off int64) (int, error) { return 0, nil }
func (hugeBackend) Size() int64                              { return maxFileSize }
func (hugeBackend) Close() error                              { return nil }

func TestRejectsLockBytePageSize(t *testing.T) {
	_, err := wrap(hugeBackend{}, KindDatabase)
	if err == nil {
		t.Fatal("expected rejection of file >= 2^30 bytes")
	}
}
