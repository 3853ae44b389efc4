package merkle

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logledger/sigverify/internal/hashalgo"
	"github.com/logledger/sigverify/pkg/interfaces"
	"github.com/logledger/sigverify/pkg/types"
)

// fakeEngine implements enough of interfaces.SignatureEngine to exercise
// the forest in isolation: hash_leaf and hash_node follow a simple,
// deterministic scheme so tests can recompute expected values by hand.
type fakeEngine struct{}

func (fakeEngine) ParseSignature(raw []byte) (interfaces.Signature, error) { panic("unused") }
func (fakeEngine) VerifySignature(sig interfaces.Signature) error         { panic("unused") }
func (fakeEngine) VerifyAgainstHash(sig interfaces.Signature, hash types.Imprint) error {
	panic("unused")
}
func (fakeEngine) ExtendSignature(sig interfaces.Signature) (interfaces.Signature, error) {
	panic("unused")
}
func (fakeEngine) SerializeSignature(sig interfaces.Signature) ([]byte, error) { panic("unused") }

func (fakeEngine) HashLeaf(iv []byte, prevRoot types.Imprint, nRecords uint64, rec []byte) (types.Imprint, error) {
	h := sha256.New()
	h.Write(iv)
	h.Write(prevRoot.Data)
	h.Write(encodeUint(nRecords))
	h.Write(rec)
	return types.Imprint{Algo: hashalgo.SHA256, Data: h.Sum(nil)}, nil
}

func (fakeEngine) HashNode(left, right types.Imprint, level int) (types.Imprint, error) {
	h := sha256.New()
	h.Write([]byte{byte(level)})
	h.Write(left.Data)
	h.Write(right.Data)
	return types.Imprint{Algo: hashalgo.SHA256, Data: h.Sum(nil)}, nil
}

func encodeUint(n uint64) []byte {
	var buf [8]byte
	for i := 7; i >= 0; i-- {
		buf[i] = byte(n)
		n >>= 8
	}
	return buf[:]
}

func zeroRoot() types.Imprint {
	return types.Imprint{Algo: hashalgo.SHA256, Data: make([]byte, 32)}
}

func TestSingleRecordBlock(t *testing.T) {
	// S4: one record, no combine steps; the block root equals the leaf.
	engine := fakeEngine{}
	iv := bytesOf(32, 0xFF)
	f := New(engine, iv, zeroRoot())

	leaf, steps, err := f.Append([]byte("hello"))
	require.NoError(t, err)
	assert.Empty(t, steps)

	wantLeaf, err := engine.HashLeaf(iv, zeroRoot(), 1, []byte("hello"))
	require.NoError(t, err)
	assert.True(t, leaf.Equal(wantLeaf))

	root, _, err := f.Finalize()
	require.NoError(t, err)
	assert.True(t, root.Equal(leaf))
}

func TestTwoRecordBlock(t *testing.T) {
	// S5: records "a", "b" combine into a single height-1 node via one
	// combine step at level 2.
	engine := fakeEngine{}
	iv := bytesOf(32, 0x01)
	f := New(engine, iv, zeroRoot())

	leafA, stepsA, err := f.Append([]byte("a"))
	require.NoError(t, err)
	assert.Empty(t, stepsA)

	leafB, stepsB, err := f.Append([]byte("b"))
	require.NoError(t, err)
	require.Len(t, stepsB, 1)
	assert.Equal(t, 2, stepsB[0].Level)
	assert.True(t, stepsB[0].Left.Equal(leafA))
	assert.True(t, stepsB[0].Right.Equal(leafB))

	wantNode, err := engine.HashNode(leafA, leafB, 2)
	require.NoError(t, err)
	assert.True(t, stepsB[0].Result.Equal(wantNode))

	root, _, err := f.Finalize()
	require.NoError(t, err)
	assert.True(t, root.Equal(wantNode))
}

func TestFiveRecordBlockFoldsLowToHigh(t *testing.T) {
	engine := fakeEngine{}
	iv := bytesOf(32, 0x02)
	f := New(engine, iv, zeroRoot())

	var lastLeaf, firstFour types.Imprint
	for i, rec := range [][]byte{[]byte("1"), []byte("2"), []byte("3"), []byte("4"), []byte("5")} {
		leaf, steps, err := f.Append(rec)
		require.NoError(t, err)
		if i == 3 {
			require.NotEmpty(t, steps)
			firstFour = steps[len(steps)-1].Result
		}
		if i == 4 {
			lastLeaf = leaf
		}
	}
	require.EqualValues(t, 5, f.NRecords())

	// After 5 appends: slot0 holds leaf "5" (height 0), slot2 holds the
	// combined subtree over "1".."4" (height 2). Finalize must combine
	// them with the taller/older slot2 as the left operand so record
	// order ("1234" before "5") is preserved.
	root, finalSteps, err := f.Finalize()
	require.NoError(t, err)
	assert.NotEqual(t, lastLeaf.Data, root.Data)
	require.Len(t, finalSteps, 1)
	assert.True(t, finalSteps[0].Left.Equal(firstFour))
	assert.True(t, finalSteps[0].Right.Equal(lastLeaf))
	assert.True(t, root.Equal(finalSteps[0].Result))
}

func TestAppendPropagatesEngineError(t *testing.T) {
	// Sanity: engine errors propagate as CREATE_HASH.
	engine := errEngine{}
	f := New(engine, bytesOf(32, 0), zeroRoot())
	_, _, err := f.Append([]byte("x"))
	assert.Error(t, err)
}

type errEngine struct{ fakeEngine }

func (errEngine) HashLeaf(iv []byte, prevRoot types.Imprint, nRecords uint64, rec []byte) (types.Imprint, error) {
	return types.Imprint{}, assertError{}
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func bytesOf(n int, fill byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = fill
	}
	return b
}
