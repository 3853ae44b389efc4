// Package extractor implements the side channel spec.md §4.8 describes:
// while a block is being verified, it watches the same leaf and combine
// events the verifier produces and, for a chosen set of target record
// indices, assembles a self-contained hash-chain excerpt for each one.
package extractor

import (
	"github.com/logledger/sigverify/internal/diag"
	"github.com/logledger/sigverify/internal/merkle"
	"github.com/logledger/sigverify/internal/objects"
	"github.com/logledger/sigverify/internal/verifyerr"
	"github.com/logledger/sigverify/pkg/types"
)

// directionBit marks a captured Step where the target's running value was
// the left (resident) H_node operand rather than the right (incoming) one
// — the excerpt replay formula spec.md §4.9 gives always treats the
// sibling as the left operand, so a step captured with the target on the
// left must be replayed with the operands swapped. This is this
// implementation's resolution of the ambiguity spec.md §9(a) flags: the
// wire format only has room for a single level_correction byte per step,
// so the sign of the real combine is folded into its high bit instead of
// adding a new sub-record.
const directionBit = 0x80
const correctionMask = 0x7F

// TargetOnLeft reports whether step was captured with the target's
// running value as the H_node left operand.
func TargetOnLeft(s types.Step) bool {
	return s.LevelCorrection&directionBit != 0
}

// Correction returns the plain numeric level correction, with the
// direction bit masked off.
func Correction(s types.Step) uint8 {
	return s.LevelCorrection & correctionMask
}

type capture struct {
	recordIndex int
	recordHash  types.Imprint
	anchor      types.Imprint
	left        *types.Step
	right       *types.Step
	overflowed  bool
}

// Extractor assembles hash-chain excerpts for a chosen set of record
// indices within one block. It implements verifier.Observer so a Verifier
// can drive it directly; wire it with Verifier.SetObserver.
type Extractor struct {
	logger  *diag.Logger
	targets map[int]*capture
	order   []int
}

// New creates an Extractor; logger may be nil.
func New(logger *diag.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// BeginBlock starts capturing hash chains for the given 0-based record
// indices within the next block (spec.md §6 `extractor.begin_block`).
func (e *Extractor) BeginBlock(targetIndices []int) {
	e.targets = make(map[int]*capture, len(targetIndices))
	e.order = append([]int(nil), targetIndices...)
	for _, idx := range targetIndices {
		e.targets[idx] = &capture{recordIndex: idx}
	}
}

// OnLeaf implements verifier.Observer, recording a target's leaf hash as
// both its record_hash and the initial value of its running anchor.
func (e *Extractor) OnLeaf(recordIndex int, leaf types.Imprint) {
	c, ok := e.targets[recordIndex]
	if !ok {
		return
	}
	c.recordHash = leaf.Clone()
	c.anchor = leaf.Clone()
}

// OnCombine implements verifier.Observer. Every active target's anchor is
// checked against both operands of every combine step in the block (not
// only the ones produced by its own record's append): whichever target
// matches has the step folded into its chain and its anchor advanced to
// the combine's result.
func (e *Extractor) OnCombine(_ int, step merkle.CombineStep) {
	for _, c := range e.targets {
		if c.anchor.IsZero() && c.recordHash.IsZero() {
			continue // this target's own leaf hasn't been seen yet
		}

		var sibling types.Imprint
		var targetWasLeft bool
		switch {
		case step.Right.Equal(c.anchor):
			sibling, targetWasLeft = step.Left, false
		case step.Left.Equal(c.anchor):
			sibling, targetWasLeft = step.Right, true
		default:
			continue
		}

		// The offset (+1 for the chain's left slot, +0 for its right
		// slot) follows spec.md §4.9's replay formula and depends only
		// on which slot this capture fills, not on operand direction.
		var corr uint8
		switch {
		case c.left == nil:
			corr = uint8(step.Level - 1)
		case c.right == nil:
			corr = uint8(step.Level)
		default:
			c.overflowed = true
			c.anchor = step.Result.Clone()
			continue
		}
		if targetWasLeft {
			corr |= directionBit
		}

		s := types.Step{LevelCorrection: corr, Sibling: sibling.Clone()}
		if c.left == nil {
			c.left = &s
		} else {
			c.right = &s
		}
		c.anchor = step.Result.Clone()
	}
}

// OnBlockSignature implements verifier.Observer. The block signature itself
// is supplied directly to EndBlock by the caller (the verifier has already
// decoded it by the time a session finishes), so this is a no-op; it exists
// only so Extractor satisfies the Observer interface.
func (e *Extractor) OnBlockSignature(sig types.BlockSignature, root types.Imprint) {}

// EmitIfTarget reports whether recordIndex was requested for extraction
// and, if so, whether its chain is ready to emit. A chain only becomes
// ready once the block's combine events have carried its anchor all the
// way to a step recorded in both left and right (spec.md §6
// `extractor.emit_if_target`); callers are expected to call this once per
// record and collect the ready chains, or simply call EndBlock once, which
// encodes every ready chain.
func (e *Extractor) EmitIfTarget(recordIndex int) (types.HashChain, bool, error) {
	c, ok := e.targets[recordIndex]
	if !ok {
		return types.HashChain{}, false, nil
	}
	return e.chainFor(c)
}

func (e *Extractor) chainFor(c *capture) (types.HashChain, bool, error) {
	if c.overflowed {
		return types.HashChain{}, false, verifyerr.New(verifyerr.ExtractHash,
			"extractor: record's Merkle path needs more than two combine steps, not representable as a hash chain")
	}
	if c.left == nil || c.right == nil {
		return types.HashChain{}, false, nil
	}
	chain := types.HashChain{RecordHash: c.recordHash.Clone(), Left: *c.left, Right: *c.right}
	if err := chain.Validate(); err != nil {
		return types.HashChain{}, false, verifyerr.Wrap(verifyerr.ExtractHash, "extractor: assembled chain", err)
	}
	return chain, true, nil
}

// EndBlock finalizes extraction for the block: it encodes the block's
// signature as a stand-alone 0x0905 record followed by one 0x0907 hash
// chain per target whose path was fully captured, in target order
// (spec.md §4.8: "the block's signature TLV ... is emitted once per
// block before its chains"). Targets whose chain never completed (e.g. a
// path deeper than two combines) are skipped with a logged warning
// rather than failing the whole block.
func (e *Extractor) EndBlock(sig types.BlockSignature) ([]byte, error) {
	var out []byte

	sigBytes, err := objects.EncodeExcerptSignature(sig.SignatureBytes)
	if err != nil {
		return nil, err
	}
	out = append(out, sigBytes...)

	for _, idx := range e.order {
		c := e.targets[idx]
		chain, ready, err := e.chainFor(c)
		if err != nil {
			if e.logger != nil {
				e.logger.Warn("extractor: dropping unrepresentable chain", map[string]interface{}{"record_index": idx})
			}
			continue
		}
		if !ready {
			if e.logger != nil {
				e.logger.Warn("extractor: target record never combined into the block root", map[string]interface{}{"record_index": idx})
			}
			continue
		}
		chainBytes, err := objects.EncodeHashChain(chain)
		if err != nil {
			return nil, err
		}
		out = append(out, chainBytes...)
	}

	e.targets = nil
	e.order = nil
	return out, nil
}
