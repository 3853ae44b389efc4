// Package merkle implements the in-block incremental binary Merkle forest
// (spec.md §4.3): a carry-save accumulator of subtree roots that consumes
// leaf hashes one at a time and folds to a single block root on demand.
package merkle

import (
	"github.com/logledger/sigverify/internal/verifyerr"
	"github.com/logledger/sigverify/pkg/interfaces"
	"github.com/logledger/sigverify/pkg/types"
)

// MaxRoots bounds the forest's slot array. A block's record_count is
// bounded at 2^56-1 (types.MaxRecordCount), so no conforming block ever
// needs a subtree taller than 56; 64 leaves headroom without being
// unbounded.
const MaxRoots = 64

// CombineStep records one H_node application: either one performed while
// appending a leaf (two equal-height operands folding into one taller
// subtree) or one fold of Finalize (operands of different heights). The
// extractor consumes these to find the sibling of a target record's
// carried hash at each step (spec.md §4.8).
type CombineStep struct {
	Level  int
	Left   types.Imprint
	Right  types.Imprint
	Result types.Imprint
}

// Forest is the per-block Merkle accumulator. It owns no I/O; the block
// verifier drives it with leaf bytes and consumes the leaf/intermediate
// hashes it produces to check them against the signature stream.
type Forest struct {
	engine   interfaces.SignatureEngine
	iv       []byte
	prevRoot types.Imprint

	nRecords uint64
	nRoots   int
	roots    [MaxRoots]types.Imprint
	valid    [MaxRoots]bool
}

// New creates a forest for a block keyed by iv and prevRoot (the previous
// block's final root, or a zero imprint at chain start).
func New(engine interfaces.SignatureEngine, iv []byte, prevRoot types.Imprint) *Forest {
	return &Forest{engine: engine, iv: iv, prevRoot: prevRoot}
}

// NRecords reports how many leaves have been appended so far.
func (f *Forest) NRecords() uint64 {
	return f.nRecords
}

// Append hashes rec as the next leaf (spec.md §4.3 step 1: x =
// H(mask||rec_bytes), with the mask derivation delegated to the adapter)
// and folds it into the forest, returning the leaf hash and the ordered
// combine steps this append produced — zero steps if the leaf landed in
// an empty slot without combining.
func (f *Forest) Append(rec []byte) (leaf types.Imprint, steps []CombineStep, err error) {
	leaf, err = f.engine.HashLeaf(f.iv, f.prevRoot, f.nRecords+1, rec)
	if err != nil {
		return types.Imprint{}, nil, verifyerr.Wrap(verifyerr.CreateHash, "merkle.Append: hash_leaf", err)
	}

	x := leaf
	j := 0
	for {
		if j >= MaxRoots {
			return types.Imprint{}, nil, verifyerr.New(verifyerr.Fmt, "merkle.Append: forest exceeded MAX_ROOTS")
		}
		if !f.valid[j] {
			f.roots[j] = x
			f.valid[j] = true
			if j+1 > f.nRoots {
				f.nRoots = j + 1
			}
			break
		}
		level := j + 2 // leaves are level 1; this combine yields a height-(j+1) node
		result, herr := f.engine.HashNode(f.roots[j], x, level)
		if herr != nil {
			return types.Imprint{}, nil, verifyerr.Wrap(verifyerr.CreateHash, "merkle.Append: hash_node", herr)
		}
		steps = append(steps, CombineStep{Level: level, Left: f.roots[j], Right: x, Result: result})
		f.valid[j] = false
		x = result
		j++
	}

	f.nRecords++
	return leaf, steps, nil
}

// Finalize folds all valid slots from lowest to highest into the block's
// Merkle root (spec.md §4.3 "Finalization"). The lowest-indexed valid
// slot holds the most recently appended (and smallest) subtree; higher
// slots hold older, larger ones. Preserving record order therefore means
// each fold takes the older/taller slot as the left operand and the
// running accumulator (the newer slots folded so far) as the right
// operand — the open question this design resolves is documented in
// DESIGN.md. Returns the zero imprint if no records were appended.
func (f *Forest) Finalize() (types.Imprint, []CombineStep, error) {
	if f.nRecords == 0 {
		return types.Imprint{}, nil, nil
	}

	var acc types.Imprint
	var steps []CombineStep
	started := false
	for j := 0; j < f.nRoots; j++ {
		if !f.valid[j] {
			continue
		}
		if !started {
			acc = f.roots[j]
			started = true
			continue
		}
		level := j + 2
		result, err := f.engine.HashNode(f.roots[j], acc, level)
		if err != nil {
			return types.Imprint{}, nil, verifyerr.Wrap(verifyerr.CreateHash, "merkle.Finalize: hash_node", err)
		}
		steps = append(steps, CombineStep{Level: level, Left: f.roots[j], Right: acc, Result: result})
		acc = result
	}
	return acc, steps, nil
}
