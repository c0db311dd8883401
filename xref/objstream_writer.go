package xref

import (
	"fmt"

	"github.com/benoitkugler/pdfcore/model"
)

// Eligible reports whether an object may be packed into an object stream
// on write (§4.6): generation must be 0, and the object must not itself
// be a stream, the encryption dictionary, or an xref stream (those three
// must always be directly accessible without unpacking another object
// first).
func Eligible(ref model.Reference, obj model.Object, isEncryptDict bool) bool {
	if ref.Gen != 0 {
		return false
	}
	if isEncryptDict {
		return false
	}
	if _, isStream := obj.(model.Stream); isStream {
		return false
	}
	return true
}

// PackedObject is one entry bound for an object stream: its final object
// number (generation is implicitly 0) and value.
type PackedObject struct {
	Oid   uint32
	Value model.Object
}

// PackObjectStream serializes objs into the body of an /Type ObjStm
// stream (§4.6): a prolog of "oid offset" pairs (relative to /First),
// followed by the objects' own PDF text back to back. The caller is
// responsible for compressing Content with the desired filter and for
// assigning the container its own object number.
func PackObjectStream(objs []PackedObject) model.Stream {
	var prolog, body []byte
	for _, o := range objs {
		offset := len(body)
		prolog = append(prolog, []byte(fmt.Sprintf("%d %d ", o.Oid, offset))...)
		body = append(body, []byte(o.Value.PDFString())...)
		body = append(body, ' ')
	}

	dict := model.NewDictionary()
	dict.Set("Type", model.Name("ObjStm"))
	dict.Set("N", model.Integer(len(objs)))
	dict.Set("First", model.Integer(len(prolog)))

	content := append(append([]byte(nil), prolog...), body...)
	return model.Stream{Dict: dict, Content: content}
}
