package record

import "testing"

func TestContentSizeTable(t *testing.T) {
	cases := []struct {
		st   uint64
		want int
	}{
		{0, 0}, {1, 1}, {2, 2}, {3, 3}, {4, 4}, {5, 6}, {6, 8}, {7, 8},
		{8, 0}, {9, 0}, {12, 0}, {14, 1}, {13, 0}, {15, 1},
	}
	for _, c := range cases {
		got, err := ContentSize(c.st)
		if err != nil {
			t.Fatalf("serial type %d: unexpected error %v", c.st, err)
		}
		if got != c.want {
			t.Fatalf("serial type %d: got %d, want %d", c.st, got, c.want)
		}
	}
}

func TestContentSizeReservedTypesError(t *testing.T) {
	for _, st := range []uint64{10, 11} {
		if _, err := ContentSize(st); err == nil {
			t.Fatalf("serial type %d: expected error", st)
		}
	}
}

func TestSerialTypeSentinel(t *testing.T) {
	if SerialTypeSentinel(13) != -2 {
		t.Fatal("serial type 13 (text len 0) should sentinel to -2")
	}
	if SerialTypeSentinel(12) != -1 {
		t.Fatal("serial type 12 (blob len 0) should sentinel to -1")
	}
	if SerialTypeSentinel(4) != 4 {
		t.Fatal("integer serial types pass through unchanged")
	}
}

func TestDecodeNullAndIntegerAndText(t *testing.T) {
	// header byte count=4, serial types: [0 (null), 1 (1-byte int)], text len 3 (serial 13+2*3=19)
	// header bytes: hbc(1) + st0(1) + st1(1) + st2(1) = 4 -> hbc value must equal total header len
	header := []byte{0, 1, 19}
	hbc := byte(1 + len(header))
	payload := append([]byte{hbc}, header...)
	payload = append(payload, 7)            // integer body: value 7
	payload = append(payload, 'a', 'b', 'c') // text body
	rec, err := Decode(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.Columns) != 3 {
		t.Fatalf("got %d columns, want 3", len(rec.Columns))
	}
	if rec.Columns[0].Value.Kind != KindNull {
		t.Fatal("column 0 should be null")
	}
	if rec.Columns[1].Value.Kind != KindInteger || rec.Columns[1].Value.Integer != 7 {
		t.Fatalf("column 1: got %+v", rec.Columns[1].Value)
	}
	if rec.Columns[2].Value.Kind != KindText || string(rec.Columns[2].Value.Bytes) != "abc" {
		t.Fatalf("column 2: got %+v", rec.Columns[2].Value)
	}
}

func TestDecodeTruncatedPayload(t *testing.T) {
	payload := []byte{3, 4} // declares a 4-byte integer body that isn't present
	if _, err := Decode(payload); err == nil {
		t.Fatal("expected truncation error")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rec := &Record{Columns: []Column{
		{SerialType: 0, Value: Value{Kind: KindNull}},
		{SerialType: 1, Value: Value{Kind: KindInteger, Integer: 9}},
		{SerialType: 13, Value: Value{Kind: KindText, Bytes: []byte("x")}},
	}}
	enc, err := Encode(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec, err := Decode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(dec.Columns) != 3 {
		t.Fatalf("got %d columns, want 3", len(dec.Columns))
	}
	if dec.Columns[1].Value.Integer != 9 {
		t.Fatalf("got %d, want 9", dec.Columns[1].Value.Integer)
	}
	if string(dec.Columns[2].Value.Bytes) != "x" {
		t.Fatalf("got %q, want %q", dec.Columns[2].Value.Bytes, "x")
	}
}
