// Package verifier drives the block-verification state machine spec.md
// §4.4 describes: interleaving a log record stream, the binary signature
// stream, and the Merkle forest, then checking the folded block root
// against the block's signature. Session identity follows the teacher's
// preference for google/uuid-tagged state where a request/session needs
// a stable external handle.
package verifier

import (
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/logledger/sigverify/internal/diag"
	"github.com/logledger/sigverify/internal/merkle"
	"github.com/logledger/sigverify/internal/objects"
	"github.com/logledger/sigverify/internal/tlv"
	"github.com/logledger/sigverify/internal/verifyerr"
	"github.com/logledger/sigverify/pkg/interfaces"
	"github.com/logledger/sigverify/pkg/types"
)

type state int

const (
	stateStart state = iota
	stateInBlock
	stateEndOfRecords
	stateFinalize
	stateDone
	stateFail
)

// Observer lets a side channel (the extractor, spec.md §4.8) watch a
// verification session without the verifier depending on it directly.
type Observer interface {
	// OnLeaf is called once per record, after its leaf hash is computed
	// and checked but before any combine steps.
	OnLeaf(recordIndex int, leaf types.Imprint)
	// OnCombine is called once per forest combine step produced by the
	// record at recordIndex, in the order they occurred, and once per
	// Finalize fold step at block end (with the block's last record index).
	OnCombine(recordIndex int, step merkle.CombineStep)
	// OnBlockSignature is called once the block's 0x0904 has been decoded
	// and the root has verified successfully.
	OnBlockSignature(sig types.BlockSignature, root types.Imprint)
}

// Verifier is a single verification session's state (spec.md §3 "Verifier
// state"). It is not safe for concurrent use; concurrent sessions over
// different files are safe if the signature engine is.
type Verifier struct {
	engine   interfaces.SignatureEngine
	logger   *diag.Logger
	Session  uuid.UUID
	observer Observer

	stream io.Reader

	state         state
	header        types.BlockHeader
	hasRecHashes  bool
	hasTreeHashes bool
	forest        *merkle.Forest

	filename      string
	blockIndex    int
	recordIndex   int
	recordInFile  int64
	blockStartRec int64
}

// New creates a verification session driven by engine, logging through
// logger (may be nil to discard all logging).
func New(engine interfaces.SignatureEngine, logger *diag.Logger) *Verifier {
	return &Verifier{engine: engine, logger: logger, Session: uuid.New(), state: stateStart}
}

// SetObserver attaches (or clears, with nil) the extractor side channel.
func (v *Verifier) SetObserver(o Observer) {
	v.observer = o
}

// SetFilename records the filename used in diagnostic error contexts.
func (v *Verifier) SetFilename(name string) {
	v.filename = name
}

func (v *Verifier) fail(err *verifyerr.Error) error {
	v.state = stateFail
	ctx := err.Ctx
	ctx.File = v.filename
	ctx.BlockIndex = v.blockIndex
	ctx.RecordIndex = v.recordIndex
	ctx.RecordInFile = v.recordInFile
	ctx.BlockStartRec = v.blockStartRec
	return err.WithContext(ctx)
}

// ReadFileHeader reads and checks the 8-byte file magic, remembering
// stream for subsequent calls (spec.md §6 `verifier.read_file_header`).
func (v *Verifier) ReadFileHeader(stream io.Reader, expectedMagic string) error {
	v.stream = stream
	return objects.ReadFileHeader(stream, expectedMagic)
}

// ScanBlockParams performs the §4.6 pre-scan: it reads forward through
// one block collecting the header, the block signature, and whether
// per-record/tree hashes are present. With rewind set, it seeks the stream
// back to the position just after the block header, not to the offset it
// had on entry, so that VerifyRecord resumes at the block's first
// 0x0902/0x0903; without rewind, the stream is left after the 0x0904.
// A clean io.EOF before any bytes
// of a new block header are read is returned verbatim (spec.md §7: EOF
// between blocks is terminal, not an error).
func (v *Verifier) ScanBlockParams(stream io.ReadSeeker, rewind bool) (types.BlockHeader, types.BlockSignature, bool, bool, error) {
	v.stream = stream

	headerRec, err := tlv.ReadRecord(stream)
	if err == io.EOF {
		return types.BlockHeader{}, types.BlockSignature{}, false, false, io.EOF
	}
	if err != nil {
		return types.BlockHeader{}, types.BlockSignature{}, false, false, err
	}
	header, err := objects.DecodeBlockHeader(headerRec)
	if err != nil {
		return types.BlockHeader{}, types.BlockSignature{}, false, false, err
	}

	// Capture the position right after the header: this is where
	// VerifyRecord expects to resume reading 0x0902/0x0903/0x0904, since
	// InitBlock takes the already-decoded header as a parameter rather
	// than re-reading it.
	var startOffset int64
	if rewind {
		startOffset, err = stream.Seek(0, io.SeekCurrent)
		if err != nil {
			return types.BlockHeader{}, types.BlockSignature{}, false, false, verifyerr.Wrap(verifyerr.IO, "scan_block_params: seek", err)
		}
	}

	var recCount int
	var sawTreeHash bool
	var blockSig types.BlockSignature
	for {
		rec, err := tlv.ReadRecord(stream)
		if err == io.EOF {
			return types.BlockHeader{}, types.BlockSignature{}, false, false, verifyerr.New(verifyerr.MissBlockSig, "scan_block_params: EOF before 0x0904")
		}
		if err != nil {
			return types.BlockHeader{}, types.BlockSignature{}, false, false, err
		}
		switch rec.Type {
		case objects.TypeRecordHash:
			recCount++
		case objects.TypeTreeHash:
			sawTreeHash = true
		case objects.TypeBlockSig:
			blockSig, err = objects.DecodeBlockSignature(rec)
			if err != nil {
				return types.BlockHeader{}, types.BlockSignature{}, false, false, err
			}
			goto scanned
		default:
			if v.logger != nil {
				v.logger.Warn("unknown top-level TLV type during pre-scan, skipping", map[string]interface{}{"type": fmt.Sprintf("0x%04x", rec.Type)})
			}
		}
	}
scanned:

	hasRecHashes := recCount > 0
	if hasRecHashes && uint64(recCount) != blockSig.RecordCount {
		return types.BlockHeader{}, types.BlockSignature{}, false, false, verifyerr.New(verifyerr.InvalidRecordCount, "scan_block_params: record hash count mismatch")
	}

	if rewind {
		if _, err := stream.Seek(startOffset, io.SeekStart); err != nil {
			return types.BlockHeader{}, types.BlockSignature{}, false, false, verifyerr.Wrap(verifyerr.IO, "scan_block_params: rewind", err)
		}
	}

	return header, blockSig, hasRecHashes, sawTreeHash, nil
}

// InitBlock starts a new block using the given header and presence bits
// discovered by ScanBlockParams, constructing a fresh Merkle forest keyed
// by the header's IV and last_hash.
func (v *Verifier) InitBlock(header types.BlockHeader, hasRecHashes, hasTreeHashes bool) error {
	if v.state != stateStart && v.state != stateDone {
		return v.fail(verifyerr.New(verifyerr.Fmt, "init_block: invalid state"))
	}
	v.header = header
	v.hasRecHashes = hasRecHashes
	v.hasTreeHashes = hasTreeHashes
	v.forest = merkle.New(v.engine, header.IV, header.LastHash)
	v.recordIndex = 0
	v.blockStartRec = v.recordInFile
	v.blockIndex++
	v.state = stateInBlock
	return nil
}

// VerifyRecord hashes recBytes as the next leaf, consuming and checking
// the matching 0x0902/0x0903 TLVs from the signature stream as the
// header's presence bits require (spec.md §4.4 IN_BLOCK step).
func (v *Verifier) VerifyRecord(recBytes []byte) error {
	if v.state != stateInBlock {
		return v.fail(verifyerr.New(verifyerr.Fmt, "verify_record: invalid state"))
	}

	leaf, steps, err := v.forest.Append(recBytes)
	if err != nil {
		return v.fail(verifyerr.Wrap(verifyerr.CreateHash, "verify_record: append", err))
	}

	if v.hasRecHashes {
		rec, err := tlv.ReadRecord(v.stream)
		if err == io.EOF {
			return v.fail(verifyerr.New(verifyerr.MissRecHash, "verify_record: missing 0x0902"))
		}
		if err != nil {
			return v.fail(verifyerr.Wrap(verifyerr.MissRecHash, "verify_record: read 0x0902", err))
		}
		fileImprint, err := objects.DecodeImprintRecord(rec, objects.TypeRecordHash)
		if err != nil {
			return v.fail(verifyerr.Wrap(verifyerr.InvalidRecHashID, "verify_record: decode 0x0902", err))
		}
		if fileImprint.Algo != leaf.Algo {
			return v.fail(verifyerr.New(verifyerr.InvalidRecHashID, "verify_record: record hash algo mismatch"))
		}
		if !fileImprint.Equal(leaf) {
			return v.fail(verifyerr.New(verifyerr.InvalidRecHash, "verify_record: record hash mismatch").WithContext(verifyerr.Context{
				Computed: leaf.Data, FileHash: fileImprint.Data, Algo: leaf.Algo,
			}))
		}
	}

	if v.observer != nil {
		v.observer.OnLeaf(v.recordIndex, leaf)
	}

	for _, step := range steps {
		if v.hasTreeHashes {
			rec, err := tlv.ReadRecord(v.stream)
			if err == io.EOF {
				return v.fail(verifyerr.New(verifyerr.MissTreeHash, "verify_record: missing 0x0903"))
			}
			if err != nil {
				return v.fail(verifyerr.Wrap(verifyerr.MissTreeHash, "verify_record: read 0x0903", err))
			}
			fileImprint, err := objects.DecodeImprintRecord(rec, objects.TypeTreeHash)
			if err != nil {
				return v.fail(verifyerr.Wrap(verifyerr.InvalidTreeHashID, "verify_record: decode 0x0903", err))
			}
			if fileImprint.Algo != step.Result.Algo {
				return v.fail(verifyerr.New(verifyerr.InvalidTreeHashID, "verify_record: tree hash algo mismatch"))
			}
			if !fileImprint.Equal(step.Result) {
				return v.fail(verifyerr.New(verifyerr.InvalidTreeHash, "verify_record: tree hash mismatch").WithContext(verifyerr.Context{
					Computed: step.Result.Data, FileHash: fileImprint.Data, Algo: step.Result.Algo,
				}))
			}
		}
		if v.observer != nil {
			v.observer.OnCombine(v.recordIndex, step)
		}
	}

	v.recordIndex++
	v.recordInFile++
	return nil
}

// VerifyBlockSignature reads the terminating 0x0904, folds the forest,
// checks record_count and the signature against the computed root, and —
// when extend is true — asks the engine to re-timestamp the signature
// and writes the rewritten 0x0904 to out (spec.md §4.4 FINALIZE, §4.7).
func (v *Verifier) VerifyBlockSignature(expectedRecCount uint64, extend bool, out interfaces.OutputStream) error {
	if v.state != stateInBlock {
		return v.fail(verifyerr.New(verifyerr.Fmt, "verify_block_signature: invalid state"))
	}
	v.state = stateEndOfRecords

	rec, err := tlv.ReadRecord(v.stream)
	if err != nil {
		return v.fail(verifyerr.Wrap(verifyerr.MissBlockSig, "verify_block_signature: read 0x0904", err))
	}
	sig, err := objects.DecodeBlockSignature(rec)
	if err != nil {
		return v.fail(verifyerr.Wrap(verifyerr.MissBlockSig, "verify_block_signature: decode 0x0904", err))
	}

	v.state = stateFinalize
	root, finalizeSteps, err := v.forest.Finalize()
	if err != nil {
		return v.fail(verifyerr.Wrap(verifyerr.CreateHash, "verify_block_signature: finalize", err))
	}
	if v.observer != nil {
		for _, step := range finalizeSteps {
			v.observer.OnCombine(v.recordIndex-1, step)
		}
	}

	if uint64(v.recordIndex) != sig.RecordCount || sig.RecordCount != expectedRecCount {
		return v.fail(verifyerr.New(verifyerr.InvalidRecordCount, "verify_block_signature: record_count mismatch"))
	}

	parsedSig, err := v.engine.ParseSignature(sig.SignatureBytes)
	if err != nil {
		return v.fail(verifyerr.Wrap(verifyerr.InvalidSignature, "verify_block_signature: parse", err))
	}

	rootImprint := types.Imprint{Algo: v.header.HashAlgo, Data: root.Data}
	if err := v.engine.VerifyAgainstHash(parsedSig, rootImprint); err != nil {
		return v.fail(verifyerr.Wrap(verifyerr.InvalidSignature, "verify_block_signature: verify_against_hash", err))
	}

	if extend {
		extended, err := v.engine.ExtendSignature(parsedSig)
		if err != nil {
			return v.fail(verifyerr.Wrap(verifyerr.SigExtend, "verify_block_signature: extend", err))
		}
		extendedBytes, err := v.engine.SerializeSignature(extended)
		if err != nil {
			return v.fail(verifyerr.Wrap(verifyerr.DerEncode, "verify_block_signature: serialize extended", err))
		}
		rewritten, err := objects.RewriteExtendedSignature(sig, extendedBytes)
		if err != nil {
			return v.fail(verifyerr.Wrap(verifyerr.DerEncode, "verify_block_signature: rewrite", err))
		}
		if out != nil {
			if _, werr := out.Write(rewritten); werr != nil {
				return v.fail(verifyerr.Wrap(verifyerr.IO, "verify_block_signature: write extended", werr))
			}
		}
	}

	if v.observer != nil {
		v.observer.OnBlockSignature(sig, rootImprint)
	}

	v.state = stateDone
	return nil
}
