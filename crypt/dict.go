package crypt

import (
	"fmt"

	"github.com/benoitkugler/pdfcore/model"
	"github.com/benoitkugler/pdfcore/pdferr"
)

// DictFromPDF reads the fields NewHandlerFromDict needs out of a resolved
// /Encrypt dictionary and the trailer's /ID first element, the same
// field-by-field extraction the teacher's reader/file/encryption.go
// processEncryptDict does against its own Dict type.
func DictFromPDF(encrypt model.Dictionary, id0 []byte) (Dict, error) {
	var out Dict

	if filter, ok := encrypt.Get("Filter").(model.Name); ok {
		out.Filter = filter
	}
	if out.Filter != "" && out.Filter != "Standard" {
		return out, &pdferr.UnsupportedFeature{Feature: fmt.Sprintf("security handler filter %q", out.Filter)}
	}

	if v, ok := encrypt.Get("V").(model.Integer); ok {
		out.V = int(v)
	}
	if r, ok := encrypt.Get("R").(model.Integer); ok {
		out.R = int(r)
	}
	if length, ok := encrypt.Get("Length").(model.Integer); ok {
		out.Length = int(length)
	} else {
		out.Length = 40
	}
	if p, ok := encrypt.Get("P").(model.Integer); ok {
		out.P = int32(p)
	}
	if meta, ok := encrypt.Get("EncryptMetadata").(model.Boolean); ok {
		out.EncryptMetadata = bool(meta)
	} else {
		out.EncryptMetadata = true
	}

	out.O = stringBytes(encrypt.Get("O"))
	out.U = stringBytes(encrypt.Get("U"))
	out.OE = stringBytes(encrypt.Get("OE"))
	out.UE = stringBytes(encrypt.Get("UE"))
	out.Perms = stringBytes(encrypt.Get("Perms"))
	out.ID0 = id0

	return out, nil
}

func stringBytes(o model.Object) []byte {
	s, ok := o.(model.String)
	if !ok {
		return nil
	}
	return s.Value
}
