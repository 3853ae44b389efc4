package verifier

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logledger/sigverify/internal/hashalgo"
	"github.com/logledger/sigverify/internal/merkle"
	"github.com/logledger/sigverify/internal/objects"
	"github.com/logledger/sigverify/internal/sigengine"
	"github.com/logledger/sigverify/internal/tlv"
	"github.com/logledger/sigverify/internal/verifyerr"
	"github.com/logledger/sigverify/pkg/types"
)

// buildBlock writes one complete block (header, per-record hashes, tree
// hashes, and a signed block signature) for records, returning the
// encoded bytes and the folded root.
func buildBlock(t *testing.T, engine *sigengine.ReferenceEngine, iv []byte, prevRoot types.Imprint, records [][]byte) ([]byte, types.Imprint) {
	t.Helper()
	var buf bytes.Buffer

	header := types.BlockHeader{HashAlgo: engine.Algo, IV: iv, LastHash: prevRoot}
	headerBytes, err := objects.EncodeBlockHeader(header)
	require.NoError(t, err)
	buf.Write(headerBytes)

	forest := merkle.New(engine, iv, prevRoot)
	for _, rec := range records {
		leaf, steps, err := forest.Append(rec)
		require.NoError(t, err)

		leafBytes, err := objects.EncodeLeafImprint(leaf)
		require.NoError(t, err)
		buf.Write(leafBytes)

		for _, step := range steps {
			treeBytes, err := objects.EncodeTreeImprint(step.Result)
			require.NoError(t, err)
			buf.Write(treeBytes)
		}
	}

	root, _, err := forest.Finalize()
	require.NoError(t, err)

	sig, err := engine.Sign(root)
	require.NoError(t, err)
	sigBytes, err := engine.SerializeSignature(sig)
	require.NoError(t, err)

	blockSig := types.BlockSignature{
		HashAlgo:       engine.Algo,
		IV:             iv,
		LastHash:       prevRoot,
		RecordCount:    uint64(len(records)),
		SignatureBytes: sigBytes,
	}
	blockSigBytes, err := objects.EncodeBlockSignature(blockSig)
	require.NoError(t, err)
	buf.Write(blockSigBytes)

	return buf.Bytes(), root
}

func runBlock(t *testing.T, v *Verifier, stream io.Reader, records [][]byte, expectedRecCount uint64) error {
	t.Helper()
	header, sig, hasRec, hasTree, err := v.ScanBlockParams(stream.(io.ReadSeeker), true)
	require.NoError(t, err)
	_ = sig

	if err := v.InitBlock(header, hasRec, hasTree); err != nil {
		return err
	}
	for _, rec := range records {
		if err := v.VerifyRecord(rec); err != nil {
			return err
		}
	}
	return v.VerifyBlockSignature(expectedRecCount, false, nil)
}

func TestVerifierSingleBlockRoundTrip(t *testing.T) {
	engine, err := sigengine.New(hashalgo.SHA256)
	require.NoError(t, err)
	iv := bytesOf(32, 0x11)
	records := [][]byte{[]byte("alpha")}

	blockBytes, _ := buildBlock(t, engine, iv, chainStart(hashalgo.SHA256), records)

	stream := bytes.NewReader(blockBytes)
	v := New(engine, nil)
	err = runBlock(t, v, stream, records, 1)
	assert.NoError(t, err)
}

func TestVerifierTwoRecordBlockRoundTrip(t *testing.T) {
	engine, err := sigengine.New(hashalgo.SHA256)
	require.NoError(t, err)
	iv := bytesOf(32, 0x22)
	records := [][]byte{[]byte("alpha"), []byte("beta")}

	blockBytes, _ := buildBlock(t, engine, iv, chainStart(hashalgo.SHA256), records)

	stream := bytes.NewReader(blockBytes)
	v := New(engine, nil)
	err = runBlock(t, v, stream, records, 2)
	assert.NoError(t, err)
}

func TestVerifierDetectsTamperedRecordHash(t *testing.T) {
	engine, err := sigengine.New(hashalgo.SHA256)
	require.NoError(t, err)
	iv := bytesOf(32, 0x33)
	records := [][]byte{[]byte("alpha"), []byte("beta")}

	blockBytes, _ := buildBlock(t, engine, iv, chainStart(hashalgo.SHA256), records)

	// Flip a byte inside the first 0x0902 record hash payload. The block
	// header is encoded first; the first record hash TLV follows it.
	headerRec, err := tlv.ReadRecord(bytes.NewReader(blockBytes))
	require.NoError(t, err)
	headerLen := len(headerRec.HeaderBytes) + len(headerRec.Payload)
	tampered := append([]byte(nil), blockBytes...)
	// The following 0x0902 record has a 4-byte long-form header, then a
	// 1-byte algo id, then the digest; corrupt a digest byte so decoding
	// still succeeds but the hash comparison fails.
	tampered[headerLen+5] ^= 0xFF

	stream := bytes.NewReader(tampered)
	v := New(engine, nil)
	err = runBlock(t, v, stream, records, 2)
	require.Error(t, err)
	verr, ok := err.(*verifyerr.Error)
	require.True(t, ok)
	assert.Equal(t, verifyerr.InvalidRecHash, verr.Kind)
}

func TestVerifierRejectsRecordCountMismatch(t *testing.T) {
	engine, err := sigengine.New(hashalgo.SHA256)
	require.NoError(t, err)
	iv := bytesOf(32, 0x44)
	records := [][]byte{[]byte("alpha")}

	blockBytes, _ := buildBlock(t, engine, iv, chainStart(hashalgo.SHA256), records)

	stream := bytes.NewReader(blockBytes)
	v := New(engine, nil)
	err = runBlock(t, v, stream, records, 2)
	require.Error(t, err)
	verr, ok := err.(*verifyerr.Error)
	require.True(t, ok)
	assert.Equal(t, verifyerr.InvalidRecordCount, verr.Kind)
}

func TestVerifierExtendsSignatureAndWritesRewrittenRecord(t *testing.T) {
	engine, err := sigengine.New(hashalgo.SHA256)
	require.NoError(t, err)
	iv := bytesOf(32, 0x55)
	records := [][]byte{[]byte("alpha")}

	blockBytes, _ := buildBlock(t, engine, iv, chainStart(hashalgo.SHA256), records)

	stream := bytes.NewReader(blockBytes)
	v := New(engine, nil)

	header, _, hasRec, hasTree, err := v.ScanBlockParams(stream, true)
	require.NoError(t, err)
	require.NoError(t, v.InitBlock(header, hasRec, hasTree))
	for _, rec := range records {
		require.NoError(t, v.VerifyRecord(rec))
	}

	var out bytes.Buffer
	require.NoError(t, v.VerifyBlockSignature(1, true, &out))
	assert.NotEmpty(t, out.Bytes())

	rewritten, err := tlv.ReadRecord(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	rewrittenSig, err := objects.DecodeBlockSignature(rewritten)
	require.NoError(t, err)
	assert.True(t, rewrittenSig.Extended)
}

func TestScanBlockParamsReturnsEOFBetweenBlocks(t *testing.T) {
	engine, err := sigengine.New(hashalgo.SHA256)
	require.NoError(t, err)
	v := New(engine, nil)
	_, _, _, _, err = v.ScanBlockParams(bytes.NewReader(nil), false)
	assert.ErrorIs(t, err, io.EOF)
}

func bytesOf(n int, fill byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = fill
	}
	return b
}

// chainStart returns the all-zero-digest imprint marking a fresh
// hash-chain start (pkg/types.Imprint.IsAllZero), as opposed to the
// unrelated bare zero value.
func chainStart(algo hashalgo.ID) types.Imprint {
	n, err := hashalgo.DigestLength(algo)
	if err != nil {
		panic(err)
	}
	return types.Imprint{Algo: algo, Data: make([]byte, n)}
}
