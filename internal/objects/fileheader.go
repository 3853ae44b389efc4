package objects

import (
	"io"

	"github.com/logledger/sigverify/internal/verifyerr"
)

// SignatureFileMagic and ExcerptFileMagic are the 8-byte ASCII magic
// strings opening a full signature file and a stand-alone excerpt file,
// respectively. These are the current format's values; callers may pass
// any expected_magic to ReadFileHeader (e.g. "LOGSIG10" for the legacy
// block format) since the format version is an external constant, not
// something this package hardcodes (spec.md §4.2).
const (
	SignatureFileMagic = "LOGSIG11"
	ExcerptFileMagic   = "LOGHCH01"
)

// ReadFileHeader reads FileMagicLength bytes from r and compares them
// against want. On a mismatch it seeks the underlying stream back to its
// starting position (when r implements io.Seeker) and returns
// verifyerr.InvalidHeader, per scenario S1: "read_file_header with an
// unexpected magic returns INVALID_HEADER and leaves the stream position
// restored to where it started."
func ReadFileHeader(r io.Reader, want string) error {
	buf := make([]byte, FileMagicLength)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		if n == 0 && err == io.EOF {
			return verifyerr.Wrap(verifyerr.EOF, "objects.ReadFileHeader", err)
		}
		return verifyerr.Wrap(verifyerr.IO, "objects.ReadFileHeader", err)
	}
	if string(buf) == want {
		return nil
	}
	if seeker, ok := r.(io.Seeker); ok {
		if _, serr := seeker.Seek(-int64(n), io.SeekCurrent); serr == nil {
			// position restored
		}
	}
	return verifyerr.New(verifyerr.InvalidHeader, "objects.ReadFileHeader: unexpected magic")
}

// WriteFileHeader writes the 8-byte magic to w.
func WriteFileHeader(w io.Writer, magic string) error {
	if _, err := w.Write([]byte(magic)); err != nil {
		return verifyerr.Wrap(verifyerr.IO, "objects.WriteFileHeader", err)
	}
	return nil
}
