// Package objects translates TLV records into the typed domain objects of
// spec.md §4.2 (block header, record/tree imprints, block signature,
// hash-chain excerpt) and back.
package objects

import (
	"fmt"
	"io"

	"github.com/logledger/sigverify/internal/hashalgo"
	"github.com/logledger/sigverify/internal/tlv"
	"github.com/logledger/sigverify/internal/verifyerr"
	"github.com/logledger/sigverify/pkg/types"
)

// Top-level and child TLV type codes (spec.md §4.2).
const (
	TypeBlockHeader  uint16 = 0x0901
	TypeRecordHash   uint16 = 0x0902
	TypeTreeHash     uint16 = 0x0903
	TypeBlockSig     uint16 = 0x0904
	TypeExcerptSig   uint16 = 0x0905 // stand-alone, and non-extended inner child
	TypeExtendedInner uint16 = 0x0906 // extended inner signature child only
	TypeHashChain    uint16 = 0x0907

	childHashAlgo   uint16 = 0x01
	childIV         uint16 = 0x02
	childLastHash   uint16 = 0x03
	childRecordCount uint16 = 0x04 // block signature's 4th sub-record (spec.md §4.7)
	childRecordHash uint16 = 0x01
	childLeftStep   uint16 = 0x02
	childRightStep  uint16 = 0x03
	childLevelCorr  uint16 = 0x01
	childSibling    uint16 = 0x02
)

// EncodeImprintPayload returns the wire payload for an imprint: a single
// algorithm byte followed by the digest (spec.md §4.2).
func EncodeImprintPayload(im types.Imprint) []byte {
	out := make([]byte, 1+len(im.Data))
	out[0] = byte(im.Algo)
	copy(out[1:], im.Data)
	return out
}

// DecodeImprintPayload parses an imprint payload, validating that its
// length equals 1+digest_length(algo_id).
func DecodeImprintPayload(payload []byte) (types.Imprint, error) {
	if len(payload) < 1 {
		return types.Imprint{}, verifyerr.New(verifyerr.Fmt, "objects.DecodeImprintPayload: empty payload")
	}
	algo := hashalgo.ID(payload[0])
	n, err := hashalgo.DigestLength(algo)
	if err != nil {
		return types.Imprint{}, verifyerr.Wrap(verifyerr.InvalidRecHashID, "objects.DecodeImprintPayload", err)
	}
	if len(payload)-1 != n {
		return types.Imprint{}, verifyerr.New(verifyerr.Fmt, fmt.Sprintf("objects.DecodeImprintPayload: algo 0x%02x wants %d bytes, got %d", byte(algo), n, len(payload)-1))
	}
	data := make([]byte, n)
	copy(data, payload[1:])
	return types.Imprint{Algo: algo, Data: data}, nil
}

// EncodeBlockHeader encodes a BlockHeader as TLV 0x0901.
func EncodeBlockHeader(h types.BlockHeader) ([]byte, error) {
	if err := h.LastHash.Validate(); err != nil && !h.LastHash.IsZero() {
		return nil, verifyerr.Wrap(verifyerr.Fmt, "objects.EncodeBlockHeader: last_hash", err)
	}
	digestLen, err := hashalgo.DigestLength(h.HashAlgo)
	if err != nil {
		return nil, verifyerr.Wrap(verifyerr.InvalidHeader, "objects.EncodeBlockHeader: hash_algo", err)
	}
	if len(h.IV) != digestLen {
		return nil, verifyerr.New(verifyerr.Fmt, "objects.EncodeBlockHeader: iv length mismatch")
	}

	algoChild, err := tlv.Encode(childHashAlgo, []byte{byte(h.HashAlgo)})
	if err != nil {
		return nil, err
	}
	ivChild, err := tlv.Encode(childIV, h.IV)
	if err != nil {
		return nil, err
	}
	lastHashChild, err := tlv.Encode(childLastHash, EncodeImprintPayload(h.LastHash))
	if err != nil {
		return nil, err
	}

	payload := concat(algoChild, ivChild, lastHashChild)
	return tlv.Encode(TypeBlockHeader, payload)
}

// DecodeBlockHeader decodes a previously-read TLV 0x0901 record.
func DecodeBlockHeader(rec *tlv.Record) (types.BlockHeader, error) {
	if rec.Type != TypeBlockHeader {
		return types.BlockHeader{}, verifyerr.New(verifyerr.InvalidType, "objects.DecodeBlockHeader: wrong type")
	}
	c := tlv.NewCursor(rec.Payload)

	algoRec, err := c.Expect(childHashAlgo)
	if err != nil {
		return types.BlockHeader{}, err
	}
	if len(algoRec.Payload) != 1 {
		return types.BlockHeader{}, verifyerr.New(verifyerr.Fmt, "objects.DecodeBlockHeader: hash_algo must be 1 byte")
	}
	algo := hashalgo.ID(algoRec.Payload[0])
	digestLen, err := hashalgo.DigestLength(algo)
	if err != nil {
		return types.BlockHeader{}, verifyerr.Wrap(verifyerr.InvalidHeader, "objects.DecodeBlockHeader: hash_algo", err)
	}

	ivRec, err := c.Expect(childIV)
	if err != nil {
		return types.BlockHeader{}, err
	}
	if len(ivRec.Payload) != digestLen {
		return types.BlockHeader{}, verifyerr.New(verifyerr.Fmt, "objects.DecodeBlockHeader: iv length mismatch")
	}

	lastHashRec, err := c.Expect(childLastHash)
	if err != nil {
		return types.BlockHeader{}, err
	}
	lastHash, err := DecodeImprintPayload(lastHashRec.Payload)
	if err != nil {
		return types.BlockHeader{}, err
	}

	if err := c.Done(); err != nil {
		return types.BlockHeader{}, err
	}

	return types.BlockHeader{HashAlgo: algo, IV: append([]byte(nil), ivRec.Payload...), LastHash: lastHash}, nil
}

// EncodeLeafImprint encodes a per-record leaf imprint as TLV 0x0902.
func EncodeLeafImprint(im types.Imprint) ([]byte, error) {
	return tlv.Encode(TypeRecordHash, EncodeImprintPayload(im))
}

// EncodeTreeImprint encodes an intermediate tree-hash imprint as TLV 0x0903.
func EncodeTreeImprint(im types.Imprint) ([]byte, error) {
	return tlv.Encode(TypeTreeHash, EncodeImprintPayload(im))
}

// DecodeImprintRecord decodes a top-level 0x0902/0x0903 record into an
// Imprint, requiring rec.Type == wantType.
func DecodeImprintRecord(rec *tlv.Record, wantType uint16) (types.Imprint, error) {
	if rec.Type != wantType {
		return types.Imprint{}, verifyerr.New(verifyerr.InvalidType, "objects.DecodeImprintRecord: unexpected type")
	}
	return DecodeImprintPayload(rec.Payload)
}

// EncodeBlockSignature encodes a BlockSignature as TLV 0x0904, with the
// five sub-records spec.md §4.7 names: hash_algo, block_iv, last_hash,
// rec_count, inner signature.
func EncodeBlockSignature(sig types.BlockSignature) ([]byte, error) {
	if sig.RecordCount > types.MaxRecordCount {
		return nil, verifyerr.New(verifyerr.Fmt, "objects.EncodeBlockSignature: record_count exceeds 2^56-1")
	}
	digestLen, err := hashalgo.DigestLength(sig.HashAlgo)
	if err != nil {
		return nil, verifyerr.Wrap(verifyerr.InvalidHeader, "objects.EncodeBlockSignature: hash_algo", err)
	}
	if len(sig.IV) != digestLen {
		return nil, verifyerr.New(verifyerr.Fmt, "objects.EncodeBlockSignature: iv length mismatch")
	}

	algoChild, err := tlv.Encode(childHashAlgo, []byte{byte(sig.HashAlgo)})
	if err != nil {
		return nil, err
	}
	ivChild, err := tlv.Encode(childIV, sig.IV)
	if err != nil {
		return nil, err
	}
	lastHashChild, err := tlv.Encode(childLastHash, EncodeImprintPayload(sig.LastHash))
	if err != nil {
		return nil, err
	}
	countChild, err := tlv.Encode(childRecordCount, tlv.EncodeUint(sig.RecordCount))
	if err != nil {
		return nil, err
	}
	innerType := TypeExcerptSig
	if sig.Extended {
		innerType = TypeExtendedInner
	}
	sigChild, err := tlv.Encode(innerType, sig.SignatureBytes)
	if err != nil {
		return nil, err
	}
	payload := concat(algoChild, ivChild, lastHashChild, countChild, sigChild)
	return tlv.Encode(TypeBlockSig, payload)
}

// DecodeBlockSignature decodes a previously-read TLV 0x0904 record.
func DecodeBlockSignature(rec *tlv.Record) (types.BlockSignature, error) {
	if rec.Type != TypeBlockSig {
		return types.BlockSignature{}, verifyerr.New(verifyerr.InvalidType, "objects.DecodeBlockSignature: wrong type")
	}
	c := tlv.NewCursor(rec.Payload)

	algoRec, err := c.Expect(childHashAlgo)
	if err != nil {
		return types.BlockSignature{}, err
	}
	if len(algoRec.Payload) != 1 {
		return types.BlockSignature{}, verifyerr.New(verifyerr.Fmt, "objects.DecodeBlockSignature: hash_algo must be 1 byte")
	}
	algo := hashalgo.ID(algoRec.Payload[0])
	digestLen, err := hashalgo.DigestLength(algo)
	if err != nil {
		return types.BlockSignature{}, verifyerr.Wrap(verifyerr.InvalidHeader, "objects.DecodeBlockSignature: hash_algo", err)
	}

	ivRec, err := c.Expect(childIV)
	if err != nil {
		return types.BlockSignature{}, err
	}
	if len(ivRec.Payload) != digestLen {
		return types.BlockSignature{}, verifyerr.New(verifyerr.Fmt, "objects.DecodeBlockSignature: iv length mismatch")
	}

	lastHashRec, err := c.Expect(childLastHash)
	if err != nil {
		return types.BlockSignature{}, err
	}
	lastHash, err := DecodeImprintPayload(lastHashRec.Payload)
	if err != nil {
		return types.BlockSignature{}, err
	}

	countRec, err := c.Expect(childRecordCount)
	if err != nil {
		return types.BlockSignature{}, err
	}
	count, err := tlv.DecodeUint(countRec.Payload)
	if err != nil {
		return types.BlockSignature{}, err
	}
	if count > types.MaxRecordCount {
		return types.BlockSignature{}, verifyerr.New(verifyerr.Fmt, "objects.DecodeBlockSignature: record_count exceeds 2^56-1")
	}

	sigRec, err := c.Next()
	if err != nil {
		if err == io.EOF {
			return types.BlockSignature{}, verifyerr.New(verifyerr.MissBlockSig, "objects.DecodeBlockSignature: missing signature child")
		}
		return types.BlockSignature{}, err
	}
	var extended bool
	switch sigRec.Type {
	case TypeExcerptSig:
		extended = false
	case TypeExtendedInner:
		extended = true
	default:
		return types.BlockSignature{}, verifyerr.New(verifyerr.InvalidType, "objects.DecodeBlockSignature: unexpected signature child type")
	}

	if err := c.Done(); err != nil {
		return types.BlockSignature{}, err
	}

	return types.BlockSignature{
		HashAlgo:       algo,
		IV:             append([]byte(nil), ivRec.Payload...),
		LastHash:       lastHash,
		RecordCount:    count,
		SignatureBytes: append([]byte(nil), sigRec.Payload...),
		Extended:       extended,
	}, nil
}

// EncodeExcerptSignature encodes a stand-alone excerpt signature as TLV
// 0x0905.
func EncodeExcerptSignature(signatureBytes []byte) ([]byte, error) {
	return tlv.Encode(TypeExcerptSig, signatureBytes)
}

// DecodeExcerptSignature decodes a top-level TLV 0x0905 record.
func DecodeExcerptSignature(rec *tlv.Record) ([]byte, error) {
	if rec.Type != TypeExcerptSig {
		return nil, verifyerr.New(verifyerr.InvalidType, "objects.DecodeExcerptSignature: wrong type")
	}
	return append([]byte(nil), rec.Payload...), nil
}

// EncodeHashChain encodes a HashChain as TLV 0x0907.
func EncodeHashChain(c types.HashChain) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, verifyerr.Wrap(verifyerr.Fmt, "objects.EncodeHashChain", err)
	}
	recHashChild, err := tlv.Encode(childRecordHash, EncodeImprintPayload(c.RecordHash))
	if err != nil {
		return nil, err
	}
	leftPayload, err := encodeStep(c.Left)
	if err != nil {
		return nil, err
	}
	leftChild, err := tlv.Encode(childLeftStep, leftPayload)
	if err != nil {
		return nil, err
	}
	rightPayload, err := encodeStep(c.Right)
	if err != nil {
		return nil, err
	}
	rightChild, err := tlv.Encode(childRightStep, rightPayload)
	if err != nil {
		return nil, err
	}

	payload := concat(recHashChild, leftChild, rightChild)
	return tlv.Encode(TypeHashChain, payload)
}

// DecodeHashChain decodes a previously-read TLV 0x0907 record.
func DecodeHashChain(rec *tlv.Record) (types.HashChain, error) {
	if rec.Type != TypeHashChain {
		return types.HashChain{}, verifyerr.New(verifyerr.InvalidType, "objects.DecodeHashChain: wrong type")
	}
	c := tlv.NewCursor(rec.Payload)

	recHashRec, err := c.Expect(childRecordHash)
	if err != nil {
		return types.HashChain{}, err
	}
	recHash, err := DecodeImprintPayload(recHashRec.Payload)
	if err != nil {
		return types.HashChain{}, err
	}

	leftRec, err := c.Expect(childLeftStep)
	if err != nil {
		return types.HashChain{}, err
	}
	left, err := decodeStep(leftRec.Payload)
	if err != nil {
		return types.HashChain{}, err
	}

	rightRec, err := c.Expect(childRightStep)
	if err != nil {
		return types.HashChain{}, err
	}
	right, err := decodeStep(rightRec.Payload)
	if err != nil {
		return types.HashChain{}, err
	}

	if err := c.Done(); err != nil {
		return types.HashChain{}, err
	}

	chain := types.HashChain{RecordHash: recHash, Left: left, Right: right}
	if err := chain.Validate(); err != nil {
		return types.HashChain{}, verifyerr.Wrap(verifyerr.Fmt, "objects.DecodeHashChain", err)
	}
	return chain, nil
}

func encodeStep(s types.Step) ([]byte, error) {
	corrChild, err := tlv.Encode(childLevelCorr, []byte{s.LevelCorrection})
	if err != nil {
		return nil, err
	}
	sibChild, err := tlv.Encode(childSibling, EncodeImprintPayload(s.Sibling))
	if err != nil {
		return nil, err
	}
	return concat(corrChild, sibChild), nil
}

func decodeStep(payload []byte) (types.Step, error) {
	c := tlv.NewCursor(payload)
	corrRec, err := c.Expect(childLevelCorr)
	if err != nil {
		return types.Step{}, err
	}
	if len(corrRec.Payload) != 1 {
		return types.Step{}, verifyerr.New(verifyerr.Fmt, "objects.decodeStep: level_correction must be 1 byte")
	}
	sibRec, err := c.Expect(childSibling)
	if err != nil {
		return types.Step{}, err
	}
	sibling, err := DecodeImprintPayload(sibRec.Payload)
	if err != nil {
		return types.Step{}, err
	}
	if err := c.Done(); err != nil {
		return types.Step{}, err
	}
	return types.Step{LevelCorrection: corrRec.Payload[0], Sibling: sibling}, nil
}

// RewriteExtendedSignature implements spec.md §4.7: given a previously
// decoded 0x0904 record and the serialized bytes of a freshly extended
// signature, it copies hash_algo, block_iv, last_hash and rec_count
// verbatim and replaces only the inner signature, re-encoding a
// self-contained 0x0904 TLV (recomputing length and header bytes) ready
// to emit to the output stream.
func RewriteExtendedSignature(sig types.BlockSignature, extendedBytes []byte) ([]byte, error) {
	rewritten := sig
	rewritten.SignatureBytes = append([]byte(nil), extendedBytes...)
	rewritten.Extended = true
	return EncodeBlockSignature(rewritten)
}

func concat(parts ...[]byte) []byte {
	var total int
	for _, p := range parts {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// FileMagicLength is the length of the 8-byte ASCII magic opening every
// signature/excerpt file (spec.md §4.2).
const FileMagicLength = 8
