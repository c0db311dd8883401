package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/benoitkugler/pdfcore/crypt"
	"github.com/benoitkugler/pdfcore/model"
	"github.com/benoitkugler/pdfcore/xref"
)

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("inspect: missing input file")
	}

	summary, err := inspectFile(fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Print(summary)
	return nil
}

func inspectFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	store, err := xref.Load(data)
	if err != nil {
		return "", err
	}

	trailer := store.Trailer()
	oids := store.AllObjectNumbers()
	live := 0
	for _, oid := range oids {
		if store.ObjectExists(oid) {
			live++
		}
	}

	out := fmt.Sprintf("file: %s\n", path)
	out += fmt.Sprintf("revisions: %d\n", len(store.Revisions))
	out += fmt.Sprintf("objects: %d\n", live)
	if root, ok := trailer.Get("Root").(model.Reference); ok {
		out += fmt.Sprintf("root: %d %d R\n", root.Oid, root.Gen)
	}

	if encObj, ok := trailer.Get("Encrypt").(model.Reference); ok {
		resolved, err := store.Resolve(encObj)
		if err != nil {
			return out, err
		}
		encDict, _ := resolved.(model.Dictionary)
		var id0 []byte
		if idArr, ok := trailer.Get("ID").(model.Array); ok && len(idArr) > 0 {
			if s, ok := idArr[0].(model.String); ok {
				id0 = s.Value
			}
		}
		dict, err := crypt.DictFromPDF(encDict, id0)
		if err != nil {
			return out, err
		}
		out += fmt.Sprintf("encrypted: yes (filter=%s V=%d R=%d length=%d bits)\n", dict.Filter, dict.V, dict.R, dict.Length)
	} else {
		out += "encrypted: no\n"
	}

	return out, nil
}
