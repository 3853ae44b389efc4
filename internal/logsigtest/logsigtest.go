// Package logsigtest builds deterministic, in-memory signature streams for
// exercising the verifier, extractor and excerpt packages without a real
// external timestamping service — modeled on the teacher's
// internal/testutil fixtures/mocks split (fixtures build domain values,
// mocks stand in for external services). sigengine.ReferenceEngine already
// plays the mock-service role here, so this package only needs the fixture
// half: encoding blocks and whole files around it.
package logsigtest

import (
	"bytes"

	"github.com/logledger/sigverify/internal/hashalgo"
	"github.com/logledger/sigverify/internal/merkle"
	"github.com/logledger/sigverify/internal/objects"
	"github.com/logledger/sigverify/internal/sigengine"
	"github.com/logledger/sigverify/pkg/types"
)

// FillBytes returns an n-byte slice filled with fill, for building
// deterministic IVs.
func FillBytes(n int, fill byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = fill
	}
	return b
}

// ChainStart returns the all-zero-digest imprint marking a fresh hash-chain
// start (types.Imprint.IsAllZero), the value a file's first block's
// last_hash must carry.
func ChainStart(algo hashalgo.ID) (types.Imprint, error) {
	n, err := hashalgo.DigestLength(algo)
	if err != nil {
		return types.Imprint{}, err
	}
	return types.Imprint{Algo: algo, Data: make([]byte, n)}, nil
}

// Records returns n deterministic log records ("rec0".."rec9", repeating
// after ten, so they are distinct only for n <= 10), suitable as block
// contents when the actual bytes don't matter to the scenario under test.
func Records(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte{'r', 'e', 'c', byte('0' + i%10)}
	}
	return out
}

// Block is one block's worth of fixture input: its records, and the IV the
// writer used for it (spec.md §3: the IV is chosen per block, not derived).
type Block struct {
	IV      []byte
	Records [][]byte
}

// File builds a complete signature file (spec.md §4.2): the file magic,
// followed by each block in order, each carrying the folded root of the
// block before it as its last_hash (the all-zero chain-start imprint for
// the first block). It returns the encoded bytes and, per block, the
// folded root — callers building extraction fixtures need the per-block
// root to replay hash chains against the right context.
func File(engine *sigengine.ReferenceEngine, blocks []Block) ([]byte, []types.Imprint, error) {
	var buf bytes.Buffer
	if err := objects.WriteFileHeader(&buf, objects.SignatureFileMagic); err != nil {
		return nil, nil, err
	}

	prevRoot, err := ChainStart(engine.Algo)
	if err != nil {
		return nil, nil, err
	}

	roots := make([]types.Imprint, len(blocks))
	for i, block := range blocks {
		blockBytes, root, err := EncodeBlock(engine, block.IV, prevRoot, block.Records)
		if err != nil {
			return nil, nil, err
		}
		buf.Write(blockBytes)
		roots[i] = root
		prevRoot = root
	}
	return buf.Bytes(), roots, nil
}

// EncodeBlock writes one complete block — header, per-record and tree
// hashes, and a signed terminating block signature — for records, keyed by
// iv and prevRoot (spec.md §4.2, §4.3). It returns the encoded bytes and
// the block's folded root.
func EncodeBlock(engine *sigengine.ReferenceEngine, iv []byte, prevRoot types.Imprint, records [][]byte) ([]byte, types.Imprint, error) {
	var buf bytes.Buffer

	header := types.BlockHeader{HashAlgo: engine.Algo, IV: iv, LastHash: prevRoot}
	headerBytes, err := objects.EncodeBlockHeader(header)
	if err != nil {
		return nil, types.Imprint{}, err
	}
	buf.Write(headerBytes)

	forest := merkle.New(engine, iv, prevRoot)
	for _, rec := range records {
		leaf, steps, err := forest.Append(rec)
		if err != nil {
			return nil, types.Imprint{}, err
		}
		leafBytes, err := objects.EncodeLeafImprint(leaf)
		if err != nil {
			return nil, types.Imprint{}, err
		}
		buf.Write(leafBytes)

		for _, step := range steps {
			treeBytes, err := objects.EncodeTreeImprint(step.Result)
			if err != nil {
				return nil, types.Imprint{}, err
			}
			buf.Write(treeBytes)
		}
	}

	root, _, err := forest.Finalize()
	if err != nil {
		return nil, types.Imprint{}, err
	}

	sig, err := engine.Sign(root)
	if err != nil {
		return nil, types.Imprint{}, err
	}
	sigBytes, err := engine.SerializeSignature(sig)
	if err != nil {
		return nil, types.Imprint{}, err
	}

	blockSig := types.BlockSignature{
		HashAlgo:       engine.Algo,
		IV:             iv,
		LastHash:       prevRoot,
		RecordCount:    uint64(len(records)),
		SignatureBytes: sigBytes,
	}
	blockSigBytes, err := objects.EncodeBlockSignature(blockSig)
	if err != nil {
		return nil, types.Imprint{}, err
	}
	buf.Write(blockSigBytes)

	return buf.Bytes(), root, nil
}
