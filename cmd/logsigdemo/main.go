// Command logsigdemo wires the log-signature core's pieces together over a
// real file on disk: it opens a signature stream, drives Verifier block by
// block, and prints either a success summary or a formatted failure report
// (spec.md §7). Argument parsing is deliberately bare (os.Args, no flag
// library) since CLI plumbing itself is an external collaborator concern
// this module does not specify (spec.md §1); this binary exists to show
// the pieces wired together, not to be the shipped CLI.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/logledger/sigverify/internal/config"
	"github.com/logledger/sigverify/internal/diag"
	"github.com/logledger/sigverify/internal/hashalgo"
	"github.com/logledger/sigverify/internal/objects"
	"github.com/logledger/sigverify/internal/sigengine"
	"github.com/logledger/sigverify/internal/verifier"
	"github.com/logledger/sigverify/internal/verifyerr"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: logsigdemo <signature-file> <log-file>")
		os.Exit(2)
	}
	if err := run(os.Args[1], os.Args[2]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(sigPath, logPath string) error {
	settings := config.FromEnv(config.DefaultSettings())
	if err := settings.Validate(); err != nil {
		// DebugLevel still drives the demo's logger even without a real
		// publication/extender URL configured; only warn.
		fmt.Fprintln(os.Stderr, "config: "+err.Error())
	}

	logger := diag.New("logsigdemo", diag.Level(settings.DebugLevel), os.Stderr)

	logFile, err := os.Open(logPath)
	if err != nil {
		return err
	}
	defer logFile.Close()
	lines := bufio.NewScanner(logFile)
	lines.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	// ReferenceEngine stands in for the real RFC3161/KSI adapter a
	// production caller would supply (spec.md §1, §6), so the demo needs no
	// network timestamping service. Its key pairs are generated fresh on
	// each run, so a block signature written by any other engine instance
	// fails the signature check with INVALID_SIGNATURE; the record and
	// tree hash checks before it are unaffected.
	engine, err := sigengine.New(hashalgo.SHA256)
	if err != nil {
		return err
	}

	stream, err := os.Open(sigPath)
	if err != nil {
		return err
	}
	defer stream.Close()
	if err := objects.ReadFileHeader(stream, objects.SignatureFileMagic); err != nil {
		return err
	}

	v := verifier.New(engine, logger)
	v.SetFilename(sigPath)

	var blocks, records int
	for {
		header, sig, hasRec, hasTree, err := v.ScanBlockParams(stream, true)
		if err == io.EOF {
			break
		}
		if err != nil {
			return reportAndReturn(err)
		}
		if err := v.InitBlock(header, hasRec, hasTree); err != nil {
			return reportAndReturn(err)
		}

		for i := uint64(0); i < sig.RecordCount; i++ {
			if !lines.Scan() {
				return fmt.Errorf("logsigdemo: log file ran out before block's record_count")
			}
			if err := v.VerifyRecord(lines.Bytes()); err != nil {
				return reportAndReturn(err)
			}
			records++
		}
		if err := v.VerifyBlockSignature(sig.RecordCount, false, nil); err != nil {
			return reportAndReturn(err)
		}
		blocks++
	}

	fmt.Printf("verification succeeded: %d block(s), %d record(s)\n", blocks, records)
	return nil
}

func reportAndReturn(err error) error {
	if verr, ok := err.(*verifyerr.Error); ok {
		fmt.Fprint(os.Stderr, diag.FormatFailure(verr))
	}
	return err
}
