package sigengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logledger/sigverify/internal/hashalgo"
	"github.com/logledger/sigverify/pkg/types"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	engine, err := New(hashalgo.SHA256)
	require.NoError(t, err)

	root := types.Imprint{Algo: hashalgo.SHA256, Data: bytesOf(32, 0x7A)}
	sig, err := engine.Sign(root)
	require.NoError(t, err)

	require.NoError(t, engine.VerifySignature(sig))
	require.NoError(t, engine.VerifyAgainstHash(sig, root))
}

func TestVerifyAgainstHashRejectsWrongRoot(t *testing.T) {
	engine, err := New(hashalgo.SHA256)
	require.NoError(t, err)

	root := types.Imprint{Algo: hashalgo.SHA256, Data: bytesOf(32, 0x01)}
	sig, err := engine.Sign(root)
	require.NoError(t, err)

	other := types.Imprint{Algo: hashalgo.SHA256, Data: bytesOf(32, 0x02)}
	assert.Error(t, engine.VerifyAgainstHash(sig, other))
}

func TestSerializeParseRoundTrip(t *testing.T) {
	engine, err := New(hashalgo.SHA256)
	require.NoError(t, err)

	root := types.Imprint{Algo: hashalgo.SHA256, Data: bytesOf(32, 0x11)}
	sig, err := engine.Sign(root)
	require.NoError(t, err)

	raw, err := engine.SerializeSignature(sig)
	require.NoError(t, err)

	parsed, err := engine.ParseSignature(raw)
	require.NoError(t, err)
	require.NoError(t, engine.VerifyAgainstHash(parsed, root))
}

func TestExtensionIdempotence(t *testing.T) {
	// Property 5: extending an already-extended signature and verifying
	// yields SUCCESS with an equal Merkle root.
	engine, err := New(hashalgo.SHA256)
	require.NoError(t, err)

	root := types.Imprint{Algo: hashalgo.SHA256, Data: bytesOf(32, 0x55)}
	sig, err := engine.Sign(root)
	require.NoError(t, err)

	extended, err := engine.ExtendSignature(sig)
	require.NoError(t, err)
	require.NoError(t, engine.VerifyAgainstHash(extended, root))

	twiceExtended, err := engine.ExtendSignature(extended)
	require.NoError(t, err)
	require.NoError(t, engine.VerifyAgainstHash(twiceExtended, root))

	rs := twiceExtended.(*ReferenceSignature)
	assert.Equal(t, root.Data, rs.RootHash)
}

func TestHashLeafAndHashNodeDeterministic(t *testing.T) {
	engine, err := New(hashalgo.SHA256)
	require.NoError(t, err)

	iv := bytesOf(32, 0xFF)
	prevRoot := types.Imprint{Algo: hashalgo.SHA256, Data: make([]byte, 32)}

	l1, err := engine.HashLeaf(iv, prevRoot, 1, []byte("hello"))
	require.NoError(t, err)
	l2, err := engine.HashLeaf(iv, prevRoot, 1, []byte("hello"))
	require.NoError(t, err)
	assert.True(t, l1.Equal(l2))

	l3, err := engine.HashLeaf(iv, prevRoot, 2, []byte("hello"))
	require.NoError(t, err)
	assert.False(t, l1.Equal(l3))

	n1, err := engine.HashNode(l1, l3, 2)
	require.NoError(t, err)
	n2, err := engine.HashNode(l3, l1, 2)
	require.NoError(t, err)
	assert.False(t, n1.Equal(n2))
}

func bytesOf(n int, fill byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = fill
	}
	return b
}
