package bytesx

import "testing"

func TestVarintSingleByte(t *testing.T) {
	v, n, err := Varint([]byte{0x7f, 0xAA})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0x7f || n != 1 {
		t.Fatalf("got (%d, %d), want (127, 1)", v, n)
	}
}

func TestVarintMultiByte(t *testing.T) {
	// 0x81 0x00 -> continuation bit set then 0 -> value 128, length 2.
	v, n, err := Varint([]byte{0x81, 0x00})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 128 || n != 2 {
		t.Fatalf("got (%d, %d), want (128, 2)", v, n)
	}
}

func TestVarintNineBytes(t *testing.T) {
	buf := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	v, n, err := Varint(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 9 {
		t.Fatalf("got length %d, want 9", n)
	}
	want := ^uint64(0)
	if v != want {
		t.Fatalf("got %d, want %d", v, want)
	}
}

func TestVarintTruncated(t *testing.T) {
	_, _, err := Varint([]byte{0x81})
	if err == nil {
		t.Fatal("expected error on truncated varint")
	}
}

func TestInt64BESignExtend(t *testing.T) {
	if got := Int64BE([]byte{0xff}, 1); got != -1 {
		t.Fatalf("got %d, want -1", got)
	}
	if got := Int64BE([]byte{0x00, 0x01}, 2); got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
}

func TestMD5Hex(t *testing.T) {
	if MD5Hex([]byte("abc")) != "900150983cd24fb0d6963f7d28e17f72" {
		t.Fatal("unexpected MD5 of 'abc'")
	}
}
