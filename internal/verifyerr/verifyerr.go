// Package verifyerr defines the error kinds and diagnostic context used
// throughout the log-signature core.
package verifyerr

import (
	"encoding/hex"
	"fmt"

	"github.com/logledger/sigverify/internal/hashalgo"
)

// Kind is one of the exhaustive error kinds a verification session can
// produce.
type Kind string

const (
	EOF                  Kind = "EOF"
	IO                   Kind = "IO"
	OOM                  Kind = "OOM"
	InvalidHeader        Kind = "INVALID_HEADER"
	InvalidType          Kind = "INVALID_TYPE"
	Len                  Kind = "LEN"
	Fmt                  Kind = "FMT"
	MissBlockSig         Kind = "MISS_BLOCKSIG"
	MissRecHash          Kind = "MISS_REC_HASH"
	MissTreeHash         Kind = "MISS_TREE_HASH"
	InvalidRecHashID     Kind = "INVALID_REC_HASHID"
	InvalidRecHash       Kind = "INVALID_REC_HASH"
	InvalidTreeHashID    Kind = "INVALID_TREE_HASHID"
	InvalidTreeHash      Kind = "INVALID_TREE_HASH"
	InvalidRecordCount   Kind = "INVALID_RECORD_COUNT"
	InvalidSignature     Kind = "INVALID_SIGNATURE"
	SigExtend            Kind = "SIG_EXTEND"
	CreateHash           Kind = "CREATE_HASH"
	DerEncode            Kind = "DER_ENCODE"
	ExtractHash          Kind = "EXTRACT_HASH"
	Success              Kind = "SUCCESS"
)

// Context carries the diagnostic identity of the current file/block/record
// plus the left/right/computed/file hashes attached by the check that
// failed (spec "Error context"). All byte slices are non-owning references
// borrowed for the duration of a single verification call; copy them before
// retaining past that call.
type Context struct {
	File          string
	BlockIndex    int
	RecordIndex   int
	RecordInFile  int64
	BlockStartRec int64

	Left     []byte
	Right    []byte
	Computed []byte
	FileHash []byte
	// Algo names the hash algorithm Computed/FileHash were produced with,
	// letting a diagnostic formatter render them as multihash-backed CIDs
	// instead of bare hex. Zero value means "unknown", not SHA256.
	Algo hashalgo.ID

	// AdapterURL and AdapterCode describe the signature engine adapter for
	// signature-related failures (spec §7). Nothing in this module sets
	// them: the verifier and excerpt verifier wrap engine errors without
	// filling them in, and the formatter prints them only when a caller has.
	AdapterURL  string
	AdapterCode int
}

// Error is the error type returned by the codec, object, forest, verifier,
// extractor and excerpt operations. A clean end of stream is reported as a
// bare io.EOF; config, hashalgo and sigengine.New return their own errors.
type Error struct {
	Kind Kind
	Op   string
	Ctx  Context
	Err  error
}

func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) WithContext(ctx Context) *Error {
	e.Ctx = ctx
	return e
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Ctx.File != "" {
		msg += fmt.Sprintf(" (file=%s block=%d record=%d)", e.Ctx.File, e.Ctx.BlockIndex, e.Ctx.RecordIndex)
	}
	if e.Ctx.Computed != nil || e.Ctx.FileHash != nil {
		msg += fmt.Sprintf(" computed=%s file=%s", hex.EncodeToString(e.Ctx.Computed), hex.EncodeToString(e.Ctx.FileHash))
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Kind, allowing
// errors.Is(err, verifyerr.New(verifyerr.Len, "")) style checks against a
// kind regardless of context.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}
