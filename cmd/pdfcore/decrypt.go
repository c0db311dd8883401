package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/benoitkugler/pdfcore/crypt"
	"github.com/benoitkugler/pdfcore/model"
	"github.com/benoitkugler/pdfcore/pdferr"
	"github.com/benoitkugler/pdfcore/writer"
	"github.com/benoitkugler/pdfcore/xref"
)

func runDecrypt(args []string) error {
	fs := flag.NewFlagSet("decrypt", flag.ExitOnError)
	password := fs.String("password", "", "user or owner password")
	out := fs.String("o", "", "output path (defaults to <input>.decrypted.pdf)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("decrypt: missing input file")
	}
	input := fs.Arg(0)
	output := *out
	if output == "" {
		output = input + ".decrypted.pdf"
	}

	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}

	store, err := xref.Load(data)
	if err != nil {
		return err
	}

	trailer := store.Trailer()
	encRef, ok := trailer.Get("Encrypt").(model.Reference)
	if !ok {
		return fmt.Errorf("decrypt: %s is not encrypted", input)
	}

	encObj, err := store.Resolve(encRef)
	if err != nil {
		return err
	}
	encDict, ok := encObj.(model.Dictionary)
	if !ok {
		return &pdferr.EncryptionError{Reason: "/Encrypt is not a dictionary"}
	}

	var id0 []byte
	if idArr, ok := trailer.Get("ID").(model.Array); ok && len(idArr) > 0 {
		if s, ok := idArr[0].(model.String); ok {
			id0 = s.Value
		}
	}

	dict, err := crypt.DictFromPDF(encDict, id0)
	if err != nil {
		return err
	}
	handler, err := crypt.NewHandlerFromDict(dict, *password)
	if err != nil {
		return err
	}

	objects, err := store.Iterate(false)
	if err != nil {
		return err
	}

	entries := make([]writer.Entry, 0, len(objects))
	for _, o := range objects {
		if o.Ref == encRef || o.Value == nil {
			continue
		}
		plain, err := handler.DecryptObject(o.Ref, o.Value)
		if err != nil {
			return err
		}
		entries = append(entries, writer.Entry{Ref: o.Ref, Value: plain})
	}

	newTrailer := trailer.Clone().(model.Dictionary)
	newTrailer.Delete("Encrypt")

	outBytes, err := writer.Write(entries, newTrailer, writer.Options{Version: "1.7"})
	if err != nil {
		return err
	}

	return os.WriteFile(output, outBytes, 0o644)
}
