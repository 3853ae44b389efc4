package diag

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/logledger/sigverify/internal/hashalgo"
	"github.com/logledger/sigverify/internal/verifyerr"
)

func TestLoggerLevelGating(t *testing.T) {
	var buf bytes.Buffer
	l := New("verifier", LevelWarn, &buf)

	l.Debug("should not appear")
	l.Info("should not appear either")
	assert.Empty(t, buf.String())

	l.Warn("unknown top-level TLV type, skipping", map[string]interface{}{"type": "0x0A"})
	assert.Contains(t, buf.String(), "WARN")
	assert.Contains(t, buf.String(), "type=0x0A")
}

func TestFormatFailureIncludesHashesAndCounters(t *testing.T) {
	err := verifyerr.New(verifyerr.InvalidTreeHash, "verifier.verify_record").WithContext(verifyerr.Context{
		File:          "audit.log.gz.logsig",
		BlockIndex:    3,
		RecordIndex:   5,
		RecordInFile:  42,
		BlockStartRec: 37,
		Computed:      []byte{0xAA, 0xBB},
		FileHash:      []byte{0xCC, 0xDD},
	})

	out := FormatFailure(err)
	assert.Contains(t, out, "INVALID_TREE_HASH")
	assert.Contains(t, out, "audit.log.gz.logsig")
	assert.Contains(t, out, "block: 3")
	assert.Contains(t, out, "aabb")
	assert.Contains(t, out, "ccdd")
	assert.NotContains(t, out, "adapter_url")
}

func TestFormatFailureRendersCIDForKnownAlgo(t *testing.T) {
	err := verifyerr.New(verifyerr.InvalidRecHash, "verifier.verify_record").WithContext(verifyerr.Context{
		Computed: bytesOfLen(32, 0xAA),
		FileHash: bytesOfLen(32, 0xBB),
		Algo:     hashalgo.SHA256,
	})

	out := FormatFailure(err)
	assert.Contains(t, out, "computed_cid: ")
	assert.Contains(t, out, "file_cid:     ")
}

func TestFormatFailureOmitsCIDForAlgoWithNoMultihashCode(t *testing.T) {
	err := verifyerr.New(verifyerr.InvalidRecHash, "verifier.verify_record").WithContext(verifyerr.Context{
		Computed: bytesOfLen(32, 0xAA),
		FileHash: bytesOfLen(32, 0xBB),
		Algo:     hashalgo.BLAKE3_256,
	})

	out := FormatFailure(err)
	assert.NotContains(t, out, "_cid:")
}

func bytesOfLen(n int, fill byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = fill
	}
	return b
}

func TestFormatFailureIncludesAdapterInfoForSignatureFailures(t *testing.T) {
	err := verifyerr.New(verifyerr.InvalidSignature, "verifier.verify_block_signature").WithContext(verifyerr.Context{
		AdapterURL:  "https://publications.example/2026",
		AdapterCode: 7,
	})

	out := FormatFailure(err)
	assert.Contains(t, out, "adapter_url: https://publications.example/2026")
	assert.Contains(t, out, "adapter_code: 7")
}
