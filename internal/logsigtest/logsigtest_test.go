package logsigtest

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logledger/sigverify/internal/hashalgo"
	"github.com/logledger/sigverify/internal/objects"
	"github.com/logledger/sigverify/internal/sigengine"
	"github.com/logledger/sigverify/internal/verifier"
)

func TestFileRoundTripAcrossTwoChainedBlocks(t *testing.T) {
	engine, err := sigengine.New(hashalgo.SHA256)
	require.NoError(t, err)

	fileBytes, roots, err := File(engine, []Block{
		{IV: FillBytes(32, 0x01), Records: Records(3)},
		{IV: FillBytes(32, 0x02), Records: Records(2)},
	})
	require.NoError(t, err)
	require.Len(t, roots, 2)

	stream := bytes.NewReader(fileBytes)
	require.NoError(t, objects.ReadFileHeader(stream, objects.SignatureFileMagic))

	v := verifier.New(engine, nil)
	for _, recCount := range []uint64{3, 2} {
		header, _, hasRec, hasTree, err := v.ScanBlockParams(stream, true)
		require.NoError(t, err)
		require.NoError(t, v.InitBlock(header, hasRec, hasTree))
		for _, rec := range Records(int(recCount)) {
			require.NoError(t, v.VerifyRecord(rec))
		}
		require.NoError(t, v.VerifyBlockSignature(recCount, false, nil))
	}

	_, _, _, _, err = v.ScanBlockParams(stream, false)
	assert.ErrorIs(t, err, io.EOF)
}
