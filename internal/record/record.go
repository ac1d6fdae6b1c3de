// Package record implements C5: decoding a record payload (the
// concatenation of on-page bytes and stitched overflow bytes) into an
// ordered list of typed columns, per spec §4.1 and §4.5.
//
// Grounded on the teacher's internal/storage/pager.RowCodec
// (MarshalRow/UnmarshalRow's tag-then-payload binary format) — adapted
// from tinySQL's invented 6-tag wire format to SQLite's real serial-type
// scheme, which has many more type codes and a separate header/body split.
package record

import (
	"fmt"
	"math"

	"golang.org/x/text/encoding/unicode"

	"github.com/sqlitedissect/core/internal/bytesx"
	"github.com/sqlitedissect/core/internal/dberr"
)

// ValueKind tags a decoded column's kind (spec §3).
type ValueKind int

const (
	KindNull ValueKind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
)

// Value is one decoded column value.
type Value struct {
	Kind    ValueKind
	Integer int64
	Real    float64
	Bytes   []byte // raw bytes for Text/Blob; text encoding applied at presentation time
}

// SerialTypeSentinel reduces a serial type to the sentinel used in a
// record's serial-type signature (spec §3): TEXT=-2, BLOB=-1, others pass
// through unchanged.
func SerialTypeSentinel(serialType uint64) int64 {
	switch {
	case serialType >= 13 && serialType%2 == 1:
		return -2 // TEXT
	case serialType >= 12 && serialType%2 == 0:
		return -1 // BLOB
	default:
		return int64(serialType)
	}
}

// ContentSize returns the number of body bytes a serial type occupies,
// per the canonical table in spec §4.1. Serial types 10 and 11 are
// reserved and return an error.
func ContentSize(serialType uint64) (int, error) {
	switch {
	case serialType == 0:
		return 0, nil
	case serialType >= 1 && serialType <= 4:
		return int(serialType), nil
	case serialType == 5:
		return 6, nil
	case serialType == 6, serialType == 7:
		return 8, nil
	case serialType == 8, serialType == 9:
		return 0, nil // constants 0 and 1, zero stored bytes
	case serialType == 10 || serialType == 11:
		return 0, dberr.ErrReservedSerialType
	case serialType >= 12 && serialType%2 == 0:
		return int((serialType - 12) / 2), nil // blob
	default: // serialType >= 13, odd
		return int((serialType - 13) / 2), nil // text
	}
}

// Column is one decoded column together with its serial type.
type Column struct {
	SerialType uint64
	Value      Value
}

// Record is an ordered list of typed columns (spec §3).
type Record struct {
	Columns []Column
}

// SerialTypeSignature returns the tuple of serial-type codes with text/blob
// reduced to sentinels (spec §3), used by signatures and the carver.
func (r *Record) SerialTypeSignature() []int64 {
	out := make([]int64, len(r.Columns))
	for i, c := range r.Columns {
		out[i] = SerialTypeSentinel(c.SerialType)
	}
	return out
}

// Decode parses payload (already-stitched on-page + overflow bytes) into a
// Record: a varint header-byte-count, a sequence of varint serial types
// filling that many bytes, then the column bodies in order (spec §4.5).
func Decode(payload []byte) (*Record, error) {
	headerByteCount, n, err := bytesx.Varint(payload)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindMalformedRecord, "record_header_varint", "record header byte count", err)
	}
	if int(headerByteCount) > len(payload) {
		return nil, dberr.ErrRecordTruncated
	}

	var serialTypes []uint64
	pos := n
	for pos < int(headerByteCount) {
		st, sn, err := bytesx.Varint(payload[pos:])
		if err != nil {
			return nil, dberr.Wrap(dberr.KindMalformedRecord, "serial_type_varint", "serial type", err)
		}
		serialTypes = append(serialTypes, st)
		pos += sn
	}
	if pos != int(headerByteCount) {
		return nil, dberr.New(dberr.KindMalformedRecord, "record_header_misaligned",
			fmt.Sprintf("serial types consumed %d bytes, header declared %d", pos, headerByteCount))
	}

	rec := &Record{Columns: make([]Column, len(serialTypes))}
	bodyPos := int(headerByteCount)
	for i, st := range serialTypes {
		size, err := ContentSize(st)
		if err != nil {
			return nil, err
		}
		if bodyPos+size > len(payload) {
			return nil, dberr.ErrRecordTruncated
		}
		body := payload[bodyPos : bodyPos+size]
		val, err := decodeValue(st, body)
		if err != nil {
			return nil, err
		}
		rec.Columns[i] = Column{SerialType: st, Value: val}
		bodyPos += size
	}
	return rec, nil
}

func decodeValue(serialType uint64, body []byte) (Value, error) {
	switch {
	case serialType == 0:
		return Value{Kind: KindNull}, nil
	case serialType >= 1 && serialType <= 6:
		return Value{Kind: KindInteger, Integer: bytesx.Int64BE(body, len(body))}, nil
	case serialType == 7:
		bits := bytesx.Uint64(body)
		return Value{Kind: KindReal, Real: math.Float64frombits(bits)}, nil
	case serialType == 8:
		// §9 open question resolved per spec: materialize as Integer(0)
		// regardless of zero stored bytes.
		return Value{Kind: KindInteger, Integer: 0}, nil
	case serialType == 9:
		return Value{Kind: KindInteger, Integer: 1}, nil
	case serialType >= 12 && serialType%2 == 0:
		return Value{Kind: KindBlob, Bytes: append([]byte(nil), body...)}, nil
	default: // >=13, odd: text
		return Value{Kind: KindText, Bytes: append([]byte(nil), body...)}, nil
	}
}

// DecodeText converts a TEXT column's raw stored bytes to a Go string
// according to the database's text_encoding (1=UTF-8, 2=UTF-16LE,
// 3=UTF-16BE; headers.DatabaseHeader.TextEncoding). UTF-8 databases — the overwhelming majority —
// pass through unchanged; UTF-16 databases are transcoded via x/text.
func DecodeText(v Value, textEncoding uint32) (string, error) {
	if v.Kind != KindText {
		return "", dberr.New(dberr.KindMalformedRecord, "decode_text_wrong_kind", "DecodeText called on a non-TEXT column")
	}
	switch textEncoding {
	case 0, 1:
		return string(v.Bytes), nil
	case 2:
		return decodeUTF16(v.Bytes, unicode.LittleEndian)
	case 3:
		return decodeUTF16(v.Bytes, unicode.BigEndian)
	default:
		return "", dberr.New(dberr.KindMalformedRecord, "unknown_text_encoding", fmt.Sprintf("text_encoding %d is not 1, 2, or 3", textEncoding))
	}
}

func decodeUTF16(raw []byte, endian unicode.Endianness) (string, error) {
	decoder := unicode.UTF16(endian, unicode.IgnoreBOM).NewDecoder()
	out, err := decoder.Bytes(raw)
	if err != nil {
		return "", dberr.Wrap(dberr.KindMalformedRecord, "utf16_decode", "decode UTF-16 text column", err)
	}
	return string(out), nil
}

// Encode re-serializes a Record back into its wire bytes, used by the
// round-trip testable property (spec §8 property 1: re-encoding must
// MD5-match the pre-decode bytes, modulo overflow stitching — callers
// compare against the original on-page+overflow concatenation, not a
// single page's bytes).
func Encode(r *Record) ([]byte, error) {
	var header []byte
	var body []byte
	for _, c := range r.Columns {
		header = appendVarint(header, c.SerialType)
		size, err := ContentSize(c.SerialType)
		if err != nil {
			return nil, err
		}
		switch c.Value.Kind {
		case KindNull:
			// nothing
		case KindInteger:
			body = append(body, encodeIntBody(c.SerialType, c.Value.Integer)...)
		case KindReal:
			var buf [8]byte
			bitsPut(buf[:], math.Float64bits(c.Value.Real))
			body = append(body, buf[:]...)
		case KindText, KindBlob:
			if len(c.Value.Bytes) != size {
				return nil, dberr.New(dberr.KindMalformedRecord, "encode_size_mismatch", "text/blob length does not match serial type")
			}
			body = append(body, c.Value.Bytes...)
		}
	}
	headerByteCountField := appendVarint(nil, uint64(0))
	// Header length must include itself; find the fixed point.
	hlen := len(header) + len(headerByteCountField)
	for {
		hbc := appendVarint(nil, uint64(hlen))
		if len(hbc)+len(header) == hlen {
			headerByteCountField = hbc
			break
		}
		hlen = len(hbc) + len(header)
	}
	out := make([]byte, 0, len(headerByteCountField)+len(header)+len(body))
	out = append(out, headerByteCountField...)
	out = append(out, header...)
	out = append(out, body...)
	return out, nil
}

func encodeIntBody(serialType uint64, v int64) []byte {
	n, _ := ContentSize(serialType)
	buf := make([]byte, n)
	uv := uint64(v)
	for i := n - 1; i >= 0; i-- {
		buf[i] = byte(uv)
		uv >>= 8
	}
	return buf
}

func bitsPut(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func appendVarint(buf []byte, v uint64) []byte {
	var tmp [9]byte
	if v <= 0x7f {
		return append(buf, byte(v))
	}
	// Encode 9-byte form if it doesn't fit in 8*7 bits.
	if v > (uint64(1)<<56)-1 {
		tmp[8] = byte(v)
		v >>= 8
		for i := 7; i >= 0; i-- {
			tmp[i] = byte(v&0x7f) | 0x80
			if i == 0 {
				tmp[i] &^= 0x80
			}
			v >>= 7
		}
		return append(buf, tmp[:9]...)
	}
	// Variable length 7-bits-per-byte big-endian encoding.
	var bytesOut []byte
	for v > 0 {
		bytesOut = append([]byte{byte(v & 0x7f)}, bytesOut...)
		v >>= 7
	}
	for i := 0; i < len(bytesOut)-1; i++ {
		bytesOut[i] |= 0x80
	}
	return append(buf, bytesOut...)
}
