// Package interfaces holds the narrow collaborator contracts the core
// depends on, per spec.md §6: a log source yielding record bytes, and a
// signature engine adapter over an external timestamp library. Concrete
// production implementations (a real log-file reader, a real RFC3161
// client) are explicitly out of this module's scope (spec.md §1); only the
// ReferenceEngine in internal/sigengine ships as a runnable test double.
package interfaces

import (
	"io"

	"github.com/logledger/sigverify/pkg/types"
)

// LogSource yields successive raw record bytes from the log file being
// verified. Implementations decide what "one record" means (e.g. one line);
// the core only ever asks for the next record.
type LogSource interface {
	// NextRecord returns the next record's raw bytes, or io.EOF when the
	// source is exhausted.
	NextRecord() ([]byte, error)
}

// SignatureEngine is the thin contract over the external timestamp library
// described in spec.md §4.5. The core never interprets signature bytes or
// numeric failure codes itself; it only calls through this interface and
// stores whatever diagnostic information the engine returns.
type SignatureEngine interface {
	// ParseSignature parses a previously-serialized signature token.
	ParseSignature(raw []byte) (Signature, error)

	// VerifySignature verifies a parsed signature is a well-formed,
	// trusted token (independent of any particular hash).
	VerifySignature(sig Signature) error

	// VerifyAgainstHash verifies that sig attests to the given hash.
	VerifyAgainstHash(sig Signature, hash types.Imprint) error

	// ExtendSignature re-timestamps sig against a later publication,
	// possibly performing network I/O against an extending service.
	ExtendSignature(sig Signature) (Signature, error)

	// SerializeSignature returns the wire bytes for sig.
	SerializeSignature(sig Signature) ([]byte, error)

	// HashLeaf computes the record leaf hash using the mask derivation
	// described in spec.md §4.3, which only the writer/adapter knows how
	// to reproduce.
	HashLeaf(iv []byte, prevRoot types.Imprint, nRecords uint64, rec []byte) (types.Imprint, error)

	// HashNode computes an internal Merkle node hash at the given tree
	// level (spec.md §4.3).
	HashNode(left, right types.Imprint, level int) (types.Imprint, error)
}

// Signature is an opaque parsed timestamp token. The core treats it as a
// handle; only the SignatureEngine implementation knows its concrete type.
type Signature interface {
	// AlgoID reports the hash algorithm this signature was produced over.
	// The verifier and excerpt verifier do not call it.
	AlgoID() uint8
}

// OutputStream is the destination for rewritten/extended records (spec.md
// §4.7). It is a superset of io.Writer so callers can pass *os.File
// directly.
type OutputStream interface {
	io.Writer
}
