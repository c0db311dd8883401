// Command pdfcore is a thin CLI over this module's object store, security
// handler, writer and signer packages. Its per-command flag parsing style
// follows the teacher's own single-file decode/decompress tools; its batch
// mode follows the retrieved sassoftware-pdf-xtract processor's bounded
// concurrency pattern.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "inspect":
		err = runInspect(os.Args[2:])
	case "decrypt":
		err = runDecrypt(os.Args[2:])
	case "sign":
		err = runSign(os.Args[2:])
	case "batch-inspect":
		err = runBatchInspect(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "pdfcore:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: pdfcore <command> [flags]

commands:
  inspect        print trailer, xref and encryption summary for one file
  decrypt        write a decrypted copy of an encrypted file
  sign           reserve and fill in a digital signature
  batch-inspect  run inspect over many files, bounded concurrency`)
}
