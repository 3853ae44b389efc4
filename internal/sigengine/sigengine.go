// Package sigengine provides ReferenceEngine, a runnable stand-in for the
// external signature engine described in spec.md §4.5 and §6. Production
// callers supply their own adapter over a real RFC3161/KSI-style
// timestamping client (explicitly out of this module's scope, spec.md
// §1); ReferenceEngine exists so this repository's own tests can drive a
// complete verification session end to end. Its Ed25519 signing is
// modeled on the teacher's Ed25519KeyPair/Ed25519Signer/Ed25519Verifier.
package sigengine

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/logledger/sigverify/internal/hashalgo"
	"github.com/logledger/sigverify/internal/verifyerr"
	"github.com/logledger/sigverify/pkg/interfaces"
	"github.com/logledger/sigverify/pkg/types"
)

// ReferenceSignature is the parsed token ReferenceEngine hands back from
// ParseSignature. It carries everything needed to re-verify itself: the
// root hash it attests to, the public key that signed it, and the
// signature bytes.
type ReferenceSignature struct {
	Algo      hashalgo.ID
	RootHash  []byte
	PublicKey ed25519.PublicKey
	Sig       []byte
	Extended  bool
}

// AlgoID implements interfaces.Signature.
func (s *ReferenceSignature) AlgoID() uint8 { return uint8(s.Algo) }

// ReferenceEngine is an Ed25519-backed SignatureEngine. It holds two
// trusted key pairs: the original publication key and the "extending"
// service's key, mirroring spec.md §4.7's re-timestamping against a later
// publication.
type ReferenceEngine struct {
	Algo hashalgo.ID

	pubKey  ed25519.PublicKey
	pubPriv ed25519.PrivateKey
	extKey  ed25519.PublicKey
	extPriv ed25519.PrivateKey
}

var _ interfaces.SignatureEngine = (*ReferenceEngine)(nil)

// New generates a fresh publication key pair and a fresh extending-service
// key pair for algo.
func New(algo hashalgo.ID) (*ReferenceEngine, error) {
	pubPub, pubPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sigengine.New: generate publication key: %w", err)
	}
	extPub, extPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sigengine.New: generate extending key: %w", err)
	}
	return &ReferenceEngine{
		Algo:    algo,
		pubKey:  pubPub,
		pubPriv: pubPriv,
		extKey:  extPub,
		extPriv: extPriv,
	}, nil
}

// Sign produces a fresh, non-extended ReferenceSignature attesting to
// root (used by tests acting as the "writer" that originally produced the
// signature stream).
func (e *ReferenceEngine) Sign(root types.Imprint) (*ReferenceSignature, error) {
	if root.Algo != e.Algo {
		return nil, verifyerr.New(verifyerr.InvalidSignature, "sigengine.Sign: algo mismatch")
	}
	sig := ed25519.Sign(e.pubPriv, root.Data)
	return &ReferenceSignature{
		Algo:      e.Algo,
		RootHash:  append([]byte(nil), root.Data...),
		PublicKey: append(ed25519.PublicKey(nil), e.pubKey...),
		Sig:       sig,
	}, nil
}

// ParseSignature decodes the wire form written by SerializeSignature:
// [algo(1)][pubkey_len(1)][pubkey][sig_len(1)][sig][extended(1)][roothash_len(1)][roothash].
func (e *ReferenceEngine) ParseSignature(raw []byte) (interfaces.Signature, error) {
	pos := 0
	readByte := func(op string) (byte, error) {
		if pos >= len(raw) {
			return 0, verifyerr.New(verifyerr.Fmt, "sigengine.ParseSignature: "+op)
		}
		b := raw[pos]
		pos++
		return b, nil
	}
	readBlock := func(op string) ([]byte, error) {
		n, err := readByte(op + " length")
		if err != nil {
			return nil, err
		}
		if pos+int(n) > len(raw) {
			return nil, verifyerr.New(verifyerr.Fmt, "sigengine.ParseSignature: "+op+" overruns buffer")
		}
		b := raw[pos : pos+int(n)]
		pos += int(n)
		return b, nil
	}

	algoByte, err := readByte("algo")
	if err != nil {
		return nil, err
	}
	pubKey, err := readBlock("pubkey")
	if err != nil {
		return nil, err
	}
	sigBytes, err := readBlock("sig")
	if err != nil {
		return nil, err
	}
	extendedByte, err := readByte("extended flag")
	if err != nil {
		return nil, err
	}
	rootHash, err := readBlock("roothash")
	if err != nil {
		return nil, err
	}
	if pos != len(raw) {
		return nil, verifyerr.New(verifyerr.Len, "sigengine.ParseSignature: trailing bytes")
	}

	return &ReferenceSignature{
		Algo:      hashalgo.ID(algoByte),
		RootHash:  append([]byte(nil), rootHash...),
		PublicKey: append(ed25519.PublicKey(nil), pubKey...),
		Sig:       append([]byte(nil), sigBytes...),
		Extended:  extendedByte != 0,
	}, nil
}

// SerializeSignature returns the wire bytes for sig.
func (e *ReferenceEngine) SerializeSignature(sig interfaces.Signature) ([]byte, error) {
	rs, ok := sig.(*ReferenceSignature)
	if !ok {
		return nil, verifyerr.New(verifyerr.DerEncode, "sigengine.SerializeSignature: not a ReferenceSignature")
	}
	if len(rs.PublicKey) > 255 || len(rs.Sig) > 255 || len(rs.RootHash) > 255 {
		return nil, verifyerr.New(verifyerr.DerEncode, "sigengine.SerializeSignature: field too long")
	}
	out := make([]byte, 0, 4+len(rs.PublicKey)+len(rs.Sig)+len(rs.RootHash))
	out = append(out, byte(rs.Algo))
	out = append(out, byte(len(rs.PublicKey)))
	out = append(out, rs.PublicKey...)
	out = append(out, byte(len(rs.Sig)))
	out = append(out, rs.Sig...)
	if rs.Extended {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	out = append(out, byte(len(rs.RootHash)))
	out = append(out, rs.RootHash...)
	return out, nil
}

// VerifySignature checks that sig is a well-formed token signed by one of
// this engine's trusted keys (the publication key, or the extending
// key once extended).
func (e *ReferenceEngine) VerifySignature(sig interfaces.Signature) error {
	rs, ok := sig.(*ReferenceSignature)
	if !ok {
		return verifyerr.New(verifyerr.InvalidSignature, "sigengine.VerifySignature: not a ReferenceSignature")
	}
	trusted := e.pubKey
	if rs.Extended {
		trusted = e.extKey
	}
	if !ed25519.Verify(trusted, rs.RootHash, rs.Sig) {
		return verifyerr.New(verifyerr.InvalidSignature, "sigengine.VerifySignature: signature does not verify under trusted key")
	}
	return nil
}

// VerifyAgainstHash verifies sig is well-formed and attests to hash.
func (e *ReferenceEngine) VerifyAgainstHash(sig interfaces.Signature, hash types.Imprint) error {
	if err := e.VerifySignature(sig); err != nil {
		return err
	}
	rs := sig.(*ReferenceSignature)
	if rs.Algo != hash.Algo {
		return verifyerr.New(verifyerr.InvalidSignature, "sigengine.VerifyAgainstHash: algo mismatch")
	}
	if string(rs.RootHash) != string(hash.Data) {
		return verifyerr.New(verifyerr.InvalidSignature, "sigengine.VerifyAgainstHash: root hash mismatch").
			WithContext(verifyerr.Context{Computed: hash.Data, FileHash: rs.RootHash})
	}
	return nil
}

// ExtendSignature re-signs the same root hash under the engine's
// extending key, returning a new token with Extended set (spec.md §4.7).
// Re-extending an already-extended signature is idempotent: the result
// still verifies and still attests to the same root (spec.md §8 property
// 5), since it is simply re-signed under the same extending key again.
func (e *ReferenceEngine) ExtendSignature(sig interfaces.Signature) (interfaces.Signature, error) {
	rs, ok := sig.(*ReferenceSignature)
	if !ok {
		return nil, verifyerr.New(verifyerr.SigExtend, "sigengine.ExtendSignature: not a ReferenceSignature")
	}
	newSig := ed25519.Sign(e.extPriv, rs.RootHash)
	return &ReferenceSignature{
		Algo:      rs.Algo,
		RootHash:  append([]byte(nil), rs.RootHash...),
		PublicKey: append(ed25519.PublicKey(nil), e.extKey...),
		Sig:       newSig,
		Extended:  true,
	}, nil
}

// HashLeaf computes the leaf mask and hash per the original writer's
// scheme supplemented from original_source (SPEC_FULL.md §12): the mask
// folds in iv, prev_root and the 1-based record index, then the leaf
// hash covers mask||rec_bytes.
func (e *ReferenceEngine) HashLeaf(iv []byte, prevRoot types.Imprint, nRecords uint64, rec []byte) (types.Imprint, error) {
	h, err := hashalgo.New(e.Algo)
	if err != nil {
		return types.Imprint{}, err
	}
	h.Write(iv)
	h.Write(prevRoot.Data)
	var nbuf [8]byte
	binary.BigEndian.PutUint64(nbuf[:], nRecords)
	h.Write(nbuf[:])
	mask := h.Sum(nil)

	h2, err := hashalgo.New(e.Algo)
	if err != nil {
		return types.Imprint{}, err
	}
	h2.Write(mask)
	h2.Write(rec)
	return types.Imprint{Algo: e.Algo, Data: h2.Sum(nil)}, nil
}

// HashNode computes an internal Merkle node hash, domain-separated by
// level (spec.md §4.3).
func (e *ReferenceEngine) HashNode(left, right types.Imprint, level int) (types.Imprint, error) {
	h, err := hashalgo.New(e.Algo)
	if err != nil {
		return types.Imprint{}, err
	}
	var lbuf [2]byte
	binary.BigEndian.PutUint16(lbuf[:], uint16(level))
	h.Write(lbuf[:])
	h.Write(left.Data)
	h.Write(right.Data)
	return types.Imprint{Algo: e.Algo, Data: h.Sum(nil)}, nil
}
