// Package excerpt implements the independent verification path spec.md §4.9
// describes: given a stand-alone excerpt signature, a hash-chain, and the
// original log record it was extracted for, it replays the chain and asks
// the signature engine to verify the reconstructed root. §4.6's excerpt
// pre-scan (pairing each 0x0905 with the 0x0907 chains that follow it) lives
// here too, since both operate on the same (0x0905, 0x0907+) file shape
// spec.md §6 describes for excerpt files.
package excerpt

import (
	"io"

	"github.com/google/uuid"

	"github.com/logledger/sigverify/internal/diag"
	"github.com/logledger/sigverify/internal/extractor"
	"github.com/logledger/sigverify/internal/objects"
	"github.com/logledger/sigverify/internal/tlv"
	"github.com/logledger/sigverify/internal/verifyerr"
	"github.com/logledger/sigverify/pkg/interfaces"
	"github.com/logledger/sigverify/pkg/types"
)

// Block pairs one stand-alone excerpt signature with the hash chains that
// follow it, per spec.md §4.6's pairing rule: "each 0x0905 ... with the
// 0x0907 hash-chain records that follow it up to the next 0x0905 or EOF".
type Block struct {
	SignatureBytes []byte
	Chains         []types.HashChain
}

// Scan reads every (0x0905, 0x0907+) pair from stream (spec.md §6
// `excerpt.scan`). Unknown top-level types are ignored with a logged
// warning, matching the block pre-scan's tolerance (spec.md §4.6). A clean
// io.EOF before any 0x0905 is read back is returned verbatim.
func Scan(stream io.Reader, logger *diag.Logger) ([]Block, error) {
	var blocks []Block
	var cur *Block

	for {
		rec, err := tlv.ReadRecord(stream)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch rec.Type {
		case objects.TypeExcerptSig:
			sigBytes, err := objects.DecodeExcerptSignature(rec)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, Block{SignatureBytes: sigBytes})
			cur = &blocks[len(blocks)-1]
		case objects.TypeHashChain:
			if cur == nil {
				return nil, verifyerr.New(verifyerr.InvalidType, "excerpt.Scan: hash chain before any signature")
			}
			chain, err := objects.DecodeHashChain(rec)
			if err != nil {
				return nil, err
			}
			cur.Chains = append(cur.Chains, chain)
		default:
			if logger != nil {
				logger.Warn("unknown top-level TLV type during excerpt scan, skipping", map[string]interface{}{"type": rec.Type})
			}
		}
	}

	if len(blocks) == 0 {
		return nil, io.EOF
	}
	return blocks, nil
}

// ScanCounts reports, for a single paired block, the values spec.md §4.6
// says the pre-scan derives for an excerpt block: record_count is the
// number of paired chains, and algo_id is taken from the first chain's
// record_hash. Returns an error if the block carries no chains (record_count
// would be zero, and there is no algo id to derive).
func ScanCounts(b Block) (recordCount uint64, algo uint8, err error) {
	if len(b.Chains) == 0 {
		return 0, 0, verifyerr.New(verifyerr.InvalidRecordCount, "excerpt.ScanCounts: signature has no paired chains")
	}
	return uint64(len(b.Chains)), uint8(b.Chains[0].RecordHash.Algo), nil
}

// Verifier replays hash-chain excerpts against the original record bytes
// and a parsed stand-alone signature (spec.md §4.9).
//
// record_hash in a hash-chain excerpt is, by construction (internal/extractor
// captures it straight from the live block session's forest leaf), the same
// per-record value the block verifier checks against a TLV 0x0902: the
// full leaf hash produced by the signature engine's HashLeaf, not a plain
// digest of the record bytes alone. Reconstructing it therefore needs the
// same three block-level inputs HashLeaf takes (IV, previous block's final
// root, and the record's 1-based index within its block) even though the
// 0x0907 wire record itself doesn't carry them — spec.md §9(a) flags this
// area as ambiguous and leaves the exact resolution to the implementation.
// A caller of VerifyRecord is expected to retain those three values
// alongside whatever excerpt file it received, exactly as it must already
// retain the chain, the record line, and the stand-alone signature.
type Verifier struct {
	engine   interfaces.SignatureEngine
	logger   *diag.Logger
	Session  uuid.UUID
	filename string
}

// New creates an excerpt Verifier driven by engine.
func New(engine interfaces.SignatureEngine, logger *diag.Logger) *Verifier {
	return &Verifier{engine: engine, logger: logger, Session: uuid.New()}
}

// SetFilename records the filename used in diagnostic error contexts.
func (v *Verifier) SetFilename(name string) {
	v.filename = name
}

func (v *Verifier) fail(err *verifyerr.Error) error {
	ctx := err.Ctx
	ctx.File = v.filename
	return err.WithContext(ctx)
}

// VerifyRecord replays chain against rec using sigBytes (spec.md §6
// `excerpt.verify_record`, §4.9 steps 1-5):
//
//  1. hash rec (plus iv/prevRoot/nRecords, see type doc) to produce line_hash
//  2. require line_hash == chain.RecordHash (the same check a block
//     verifier makes against a 0x0902 record; this is the point at which
//     substituting a different rec is caught)
//  3. root := combine(line_hash, chain.Left) climbing one level
//  4. root := combine(root, chain.Right) climbing the next level
//  5. ask the engine to verify root against the parsed signature
//
// Steps 3 and 4 use internal/extractor's direction bit to decide H_node's
// operand order: a step captured with the target's running value as the
// left operand of the real combine must be replayed the same way, not
// with the sibling forced to one side.
func (v *Verifier) VerifyRecord(chain types.HashChain, rec []byte, sigBytes []byte, iv []byte, prevRoot types.Imprint, nRecords uint64) error {
	if err := chain.Validate(); err != nil {
		return v.fail(verifyerr.Wrap(verifyerr.Fmt, "excerpt.VerifyRecord: invalid chain", err))
	}

	lineHash, err := v.engine.HashLeaf(iv, prevRoot, nRecords, rec)
	if err != nil {
		return v.fail(verifyerr.Wrap(verifyerr.CreateHash, "excerpt.VerifyRecord: hash_leaf", err))
	}
	if !lineHash.Equal(chain.RecordHash) {
		return v.fail(verifyerr.New(verifyerr.InvalidRecHash, "excerpt.VerifyRecord: record hash mismatch").WithContext(verifyerr.Context{
			Computed: lineHash.Data, FileHash: chain.RecordHash.Data, Algo: lineHash.Algo,
		}))
	}

	root, err := v.combine(lineHash, chain.Left, int(extractor.Correction(chain.Left))+1)
	if err != nil {
		return v.fail(verifyerr.Wrap(verifyerr.CreateHash, "excerpt.VerifyRecord: hash_node left", err))
	}

	root, err = v.combine(root, chain.Right, int(extractor.Correction(chain.Right)))
	if err != nil {
		return v.fail(verifyerr.Wrap(verifyerr.CreateHash, "excerpt.VerifyRecord: hash_node right", err))
	}

	sig, err := v.engine.ParseSignature(sigBytes)
	if err != nil {
		return v.fail(verifyerr.Wrap(verifyerr.InvalidSignature, "excerpt.VerifyRecord: parse", err))
	}
	if err := v.engine.VerifyAgainstHash(sig, root); err != nil {
		return v.fail(verifyerr.Wrap(verifyerr.InvalidSignature, "excerpt.VerifyRecord: verify_against_hash", err))
	}
	return nil
}

// combine folds running into step.Sibling at level, placing running on
// whichever H_node side it occupied in the original block's combine
// (extractor.TargetOnLeft).
func (v *Verifier) combine(running types.Imprint, step types.Step, level int) (types.Imprint, error) {
	if extractor.TargetOnLeft(step) {
		return v.engine.HashNode(running, step.Sibling, level)
	}
	return v.engine.HashNode(step.Sibling, running, level)
}
