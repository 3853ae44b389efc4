// Package tlv implements the length-prefixed binary record format used
// throughout the signature stream (spec.md §4.1): a type/length/value codec
// operating on both in-memory records and a streaming reader/writer, plus a
// variable-length big-endian unsigned-integer codec and a sub-record
// cursor for decoding a record's payload as nested TLVs.
package tlv

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/logledger/sigverify/internal/verifyerr"
)

const (
	longFormBit  = 0x80
	flagsMask    = 0x60
	shortTypeMax = 0x1F // 5 bits
	longTypeMax  = 0x1FFF // 13 bits
	shortLenMax  = 0xFF
	longLenMax   = 0xFFFF
)

// Record is one decoded TLV: its raw header bytes, type, length, and
// payload.
type Record struct {
	HeaderBytes []byte
	Type        uint16
	Length      int
	Payload     []byte
}

// ReadRecord reads one TLV record from r. A clean io.EOF at a record
// boundary (no bytes read yet) is returned verbatim so callers can
// distinguish "no more records" from a truncated stream, which is
// surfaced as verifyerr.IO.
func ReadRecord(r io.Reader) (*Record, error) {
	var hdr [2]byte
	n, err := io.ReadFull(r, hdr[:1])
	if n == 0 && err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, verifyerr.Wrap(verifyerr.IO, "tlv.ReadRecord", err)
	}

	headerBytes := []byte{hdr[0]}
	var typ uint16
	long := hdr[0]&longFormBit != 0
	if hdr[0]&flagsMask != 0 {
		return nil, verifyerr.New(verifyerr.Fmt, "tlv.ReadRecord: non-zero flag bits")
	}

	if long {
		if _, err := io.ReadFull(r, hdr[1:2]); err != nil {
			return nil, verifyerr.Wrap(verifyerr.IO, "tlv.ReadRecord: long header byte 2", err)
		}
		headerBytes = append(headerBytes, hdr[1])
		typ = (uint16(hdr[0]&shortTypeMax) << 8) | uint16(hdr[1])
	} else {
		typ = uint16(hdr[0] & shortTypeMax)
	}

	var length int
	if long {
		var lb [2]byte
		if _, err := io.ReadFull(r, lb[:]); err != nil {
			return nil, verifyerr.Wrap(verifyerr.IO, "tlv.ReadRecord: long length", err)
		}
		headerBytes = append(headerBytes, lb[:]...)
		length = int(binary.BigEndian.Uint16(lb[:]))
	} else {
		var lb [1]byte
		if _, err := io.ReadFull(r, lb[:]); err != nil {
			return nil, verifyerr.Wrap(verifyerr.IO, "tlv.ReadRecord: short length", err)
		}
		headerBytes = append(headerBytes, lb[:]...)
		length = int(lb[0])
	}

	var payload []byte
	if length > 0 {
		payload = make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, verifyerr.Wrap(verifyerr.IO, "tlv.ReadRecord: payload", err)
		}
	}

	return &Record{HeaderBytes: headerBytes, Type: typ, Length: length, Payload: payload}, nil
}

// WriteRecord encodes and writes a TLV record for (typ, payload), choosing
// the short or long form automatically.
func WriteRecord(w io.Writer, typ uint16, payload []byte) error {
	header, err := EncodeHeader(typ, len(payload))
	if err != nil {
		return err
	}
	if _, err := w.Write(header); err != nil {
		return verifyerr.Wrap(verifyerr.IO, "tlv.WriteRecord: header", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return verifyerr.Wrap(verifyerr.IO, "tlv.WriteRecord: payload", err)
		}
	}
	return nil
}

// EncodeHeader returns the header+length bytes (without payload) for a
// record of the given type and payload length.
func EncodeHeader(typ uint16, length int) ([]byte, error) {
	if length < 0 || length > longLenMax {
		return nil, verifyerr.New(verifyerr.Fmt, "tlv.EncodeHeader: length out of range")
	}
	if typ > longTypeMax {
		return nil, verifyerr.New(verifyerr.Fmt, "tlv.EncodeHeader: type out of range")
	}

	useLong := typ > shortTypeMax || length > shortLenMax
	if !useLong {
		return []byte{byte(typ), byte(length)}, nil
	}

	buf := make([]byte, 4)
	buf[0] = longFormBit | byte(typ>>8)
	buf[1] = byte(typ)
	binary.BigEndian.PutUint16(buf[2:4], uint16(length))
	return buf, nil
}

// Encode returns the full wire bytes (header + payload) for (typ, payload).
func Encode(typ uint16, payload []byte) ([]byte, error) {
	header, err := EncodeHeader(typ, len(payload))
	if err != nil {
		return nil, err
	}
	return append(header, payload...), nil
}

// EncodeUint serializes n big-endian using exactly as many bytes as needed
// (spec.md §4.1 "Integer encoding"); n==0 encodes as a single zero byte.
func EncodeUint(n uint64) []byte {
	if n == 0 {
		return []byte{0}
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	i := 0
	for i < 7 && buf[i] == 0 {
		i++
	}
	return buf[i:]
}

// DecodeUint parses a big-endian minimal-length unsigned integer. A leading
// zero byte on a multi-byte encoding is rejected as verifyerr.Fmt, per the
// "no leading zero bytes except the value 0" invariant.
func DecodeUint(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, verifyerr.New(verifyerr.Fmt, "tlv.DecodeUint: empty")
	}
	if len(b) > 8 {
		return 0, verifyerr.New(verifyerr.Fmt, "tlv.DecodeUint: too long")
	}
	if len(b) > 1 && b[0] == 0 {
		return 0, verifyerr.New(verifyerr.Fmt, "tlv.DecodeUint: leading zero byte")
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

// Cursor decodes a record's payload as a sequence of nested TLVs, letting
// callers pull children by expected type in order (spec.md §4.1
// "sub-record decoder").
type Cursor struct {
	data []byte
	pos  int
}

// NewCursor wraps payload for sub-record decoding.
func NewCursor(payload []byte) *Cursor {
	return &Cursor{data: payload}
}

// Next decodes the next child TLV, or returns io.EOF when the cursor is
// exhausted.
func (c *Cursor) Next() (*Record, error) {
	if c.pos >= len(c.data) {
		return nil, io.EOF
	}
	rec, n, err := decodeAt(c.data[c.pos:])
	if err != nil {
		return nil, err
	}
	c.pos += n
	return rec, nil
}

// Expect decodes the next child TLV and requires it to have the given type,
// returning verifyerr.InvalidType otherwise.
func (c *Cursor) Expect(typ uint16) (*Record, error) {
	rec, err := c.Next()
	if err != nil {
		if err == io.EOF {
			return nil, verifyerr.New(verifyerr.Len, fmt.Sprintf("tlv.Cursor.Expect: missing child type 0x%04x", typ))
		}
		return nil, err
	}
	if rec.Type != typ {
		return nil, verifyerr.New(verifyerr.InvalidType, fmt.Sprintf("tlv.Cursor.Expect: want 0x%04x got 0x%04x", typ, rec.Type))
	}
	return rec, nil
}

// Done requires the cursor to have consumed the entire payload, returning
// verifyerr.Len on unexpected trailing bytes.
func (c *Cursor) Done() error {
	if c.pos != len(c.data) {
		return verifyerr.New(verifyerr.Len, fmt.Sprintf("tlv.Cursor.Done: %d trailing bytes", len(c.data)-c.pos))
	}
	return nil
}

// Remaining reports whether the cursor has more TLVs to decode.
func (c *Cursor) Remaining() bool {
	return c.pos < len(c.data)
}

func decodeAt(buf []byte) (*Record, int, error) {
	if len(buf) < 1 {
		return nil, 0, verifyerr.New(verifyerr.Len, "tlv.decodeAt: truncated header")
	}
	if buf[0]&flagsMask != 0 {
		return nil, 0, verifyerr.New(verifyerr.Fmt, "tlv.decodeAt: non-zero flag bits")
	}
	long := buf[0]&longFormBit != 0

	headerLen := 2
	if long {
		headerLen = 4
	}
	if len(buf) < headerLen {
		return nil, 0, verifyerr.New(verifyerr.Len, "tlv.decodeAt: truncated header")
	}

	var typ uint16
	var length int
	if long {
		typ = (uint16(buf[0]&shortTypeMax) << 8) | uint16(buf[1])
		length = int(binary.BigEndian.Uint16(buf[2:4]))
	} else {
		typ = uint16(buf[0] & shortTypeMax)
		length = int(buf[1])
	}

	total := headerLen + length
	if len(buf) < total {
		return nil, 0, verifyerr.New(verifyerr.Len, "tlv.decodeAt: child overruns parent")
	}

	rec := &Record{
		HeaderBytes: append([]byte(nil), buf[:headerLen]...),
		Type:        typ,
		Length:      length,
		Payload:     append([]byte(nil), buf[headerLen:total]...),
	}
	return rec, total, nil
}
