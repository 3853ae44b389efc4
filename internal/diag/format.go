package diag

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/logledger/sigverify/internal/hashalgo"
	"github.com/logledger/sigverify/internal/verifyerr"
)

// FormatFailure renders the user-visible failure report spec.md §7
// requires: filename, block/record/record-in-file counters, error code,
// block start record, record in question, computed and file hashes, and —
// for signature-related failures — adapter URLs and the adapter's
// numeric state.
func FormatFailure(err *verifyerr.Error) string {
	if err == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "verification failed: %s\n", err.Kind)
	if err.Ctx.File != "" {
		fmt.Fprintf(&b, "  file: %s\n", err.Ctx.File)
	}
	fmt.Fprintf(&b, "  block: %d  record: %d  record_in_file: %d  block_start_record: %d\n",
		err.Ctx.BlockIndex, err.Ctx.RecordIndex, err.Ctx.RecordInFile, err.Ctx.BlockStartRec)
	if err.Ctx.Computed != nil || err.Ctx.FileHash != nil {
		fmt.Fprintf(&b, "  computed: %s\n  file:     %s\n", hex.EncodeToString(err.Ctx.Computed), hex.EncodeToString(err.Ctx.FileHash))
		if computedCID, ok := imprintCID(err.Ctx.Algo, err.Ctx.Computed); ok {
			fmt.Fprintf(&b, "  computed_cid: %s\n", computedCID)
		}
		if fileCID, ok := imprintCID(err.Ctx.Algo, err.Ctx.FileHash); ok {
			fmt.Fprintf(&b, "  file_cid:     %s\n", fileCID)
		}
	}
	if err.Ctx.Left != nil || err.Ctx.Right != nil {
		fmt.Fprintf(&b, "  left: %s\n  right: %s\n", hex.EncodeToString(err.Ctx.Left), hex.EncodeToString(err.Ctx.Right))
	}
	if isSignatureKind(err.Kind) && (err.Ctx.AdapterURL != "" || err.Ctx.AdapterCode != 0) {
		fmt.Fprintf(&b, "  adapter_url: %s  adapter_code: %d\n", err.Ctx.AdapterURL, err.Ctx.AdapterCode)
	}
	if err.Err != nil {
		fmt.Fprintf(&b, "  cause: %s\n", err.Err.Error())
	}
	return b.String()
}

// imprintCID renders digest as a raw-codec CIDv1 under algo's multihash
// code, for a more easily diffed/copyable diagnostic identifier than bare
// hex when comparing a mismatched hash against a reference log elsewhere.
// ok is false when digest is empty or algo has no multihash analogue
// (hashalgo.ToMultihashCode, e.g. BLAKE3_256).
func imprintCID(algo hashalgo.ID, digest []byte) (string, bool) {
	if len(digest) == 0 {
		return "", false
	}
	code, ok := hashalgo.ToMultihashCode(algo)
	if !ok {
		return "", false
	}
	mh, err := multihash.Encode(digest, code)
	if err != nil {
		return "", false
	}
	return cid.NewCidV1(cid.Raw, mh).String(), true
}

func isSignatureKind(k verifyerr.Kind) bool {
	switch k {
	case verifyerr.InvalidSignature, verifyerr.SigExtend:
		return true
	default:
		return false
	}
}
