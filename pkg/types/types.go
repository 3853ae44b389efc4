// Package types holds the plain value types shared across the
// log-signature core: imprints, block headers, block signatures and
// hash-chain excerpts (spec.md §3 "Data model"). None of these types carry
// behavior beyond basic validation; codecs live in internal/objects.
package types

import (
	"bytes"
	"fmt"

	"github.com/logledger/sigverify/internal/hashalgo"
)

// SigID identifies the signature scheme carried by a BlockSignature.
type SigID uint8

const (
	SigUnknown SigID = 0
	SigRFC3161 SigID = 1
)

// Imprint is a hash value tagged with its hash-algorithm id (spec.md §3).
// Every Imprint exclusively owns its Data buffer (spec.md §3 "Ownership
// rule"); callers that need to retain a copy past the call that produced it
// must Clone it.
type Imprint struct {
	Algo hashalgo.ID
	Data []byte
}

// Validate checks the length invariant: len(Data) == digest_length(Algo).
func (im Imprint) Validate() error {
	n, err := hashalgo.DigestLength(im.Algo)
	if err != nil {
		return err
	}
	if len(im.Data) != n {
		return fmt.Errorf("imprint: algo 0x%02x wants %d bytes, got %d", uint8(im.Algo), n, len(im.Data))
	}
	return nil
}

// Equal reports whether two imprints carry the same algo id and digest.
func (im Imprint) Equal(other Imprint) bool {
	return im.Algo == other.Algo && bytes.Equal(im.Data, other.Data)
}

// Clone returns an imprint that owns a fresh copy of Data.
func (im Imprint) Clone() Imprint {
	data := make([]byte, len(im.Data))
	copy(data, im.Data)
	return Imprint{Algo: im.Algo, Data: data}
}

// IsZero reports whether the imprint is the zero value (no algo, no data) —
// used to detect an unset "last_hash" / "prev_root" field.
func (im Imprint) IsZero() bool {
	return im.Algo == 0 && len(im.Data) == 0
}

// IsAllZero reports whether Data is present but every byte is zero, marking
// a fresh hash-chain start per spec.md §3 ("a last_hash.data of all zero
// bytes marks a fresh chain start").
func (im Imprint) IsAllZero() bool {
	if len(im.Data) == 0 {
		return false
	}
	for _, b := range im.Data {
		if b != 0 {
			return false
		}
	}
	return true
}

// BlockHeader is the per-block chaining header (spec.md §3, TLV 0x0901).
type BlockHeader struct {
	HashAlgo hashalgo.ID
	IV       []byte
	LastHash Imprint
}

// BlockSignature is the terminating per-block signature record (spec.md §3,
// TLV 0x0904). §4.7 describes its sub-records as hash_algo, block_iv,
// last_hash, rec_count, inner signature — a superset of §4.2's shorter
// listing — so the type carries the header fields needed to rewrite a
// self-contained record during extension.
type BlockSignature struct {
	HashAlgo hashalgo.ID
	IV       []byte
	LastHash Imprint

	RecordCount    uint64 // <= 2^56-1
	SigID          SigID
	SignatureBytes []byte
	// Extended is set once SignatureBytes has been replaced by an extended
	// token (spec.md §4.7); it controls whether the inner TLV child is
	// encoded as 0x0905 or 0x0906.
	Extended bool
}

// MaxRecordCount is 2^56-1 per spec.md §3.
const MaxRecordCount = 1<<56 - 1

// Step is one hop of a hash-chain (spec.md §3).
type Step struct {
	LevelCorrection uint8
	Sibling         Imprint
}

// HashChain is a self-contained Merkle path for a single record (spec.md §3,
// TLV 0x0907).
type HashChain struct {
	RecordHash Imprint
	Left       Step
	Right      Step
}

// Validate checks that both siblings share RecordHash's algo id.
func (c HashChain) Validate() error {
	if c.Left.Sibling.Algo != c.RecordHash.Algo || c.Right.Sibling.Algo != c.RecordHash.Algo {
		return fmt.Errorf("hash chain: sibling algo ids must match record_hash algo 0x%02x", uint8(c.RecordHash.Algo))
	}
	return nil
}
