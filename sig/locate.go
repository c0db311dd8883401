package sig

import (
	"bytes"
	"fmt"

	"github.com/benoitkugler/pdfcore/model"
	"github.com/benoitkugler/pdfcore/pdferr"
)

// locateObject finds the "oid gen obj" header written by writer.Write
// for ref and returns its start offset plus the bytes up to (and
// including) "endobj", for locating the /Contents and /ByteRange slots
// without re-parsing the whole object.
func locateObject(data []byte, ref model.Reference) (start int, objText []byte, err error) {
	header := []byte(fmt.Sprintf("%d %d obj", ref.Oid, ref.Gen))
	idx := bytes.Index(data, header)
	if idx < 0 {
		return 0, nil, &pdferr.SignatureError{Reason: fmt.Sprintf("signature object %d %d not found in output", ref.Oid, ref.Gen)}
	}
	end := bytes.Index(data[idx:], []byte("endobj"))
	if end < 0 {
		return 0, nil, &pdferr.SignatureError{Reason: "signature object has no endobj"}
	}
	return idx, data[idx : idx+end+len("endobj")], nil
}

// locateContentsHex returns the offset (within objText) of the first
// hex digit after "/Contents<" and the number of hex digits reserved,
// as written by NewSignatureDict's zero-filled model.NewHexString.
func locateContentsHex(objText []byte) (offset, length int, err error) {
	contentsIdx := bytes.Index(objText, []byte("/Contents"))
	if contentsIdx < 0 {
		return 0, 0, &pdferr.SignatureError{Reason: "/Contents not found in signature object"}
	}
	rest := objText[contentsIdx:]
	lt := bytes.IndexByte(rest, '<')
	if lt < 0 {
		return 0, 0, &pdferr.SignatureError{Reason: "/Contents value is not a hex string"}
	}
	gt := bytes.IndexByte(rest[lt:], '>')
	if gt < 0 {
		return 0, 0, &pdferr.SignatureError{Reason: "/Contents hex string is not closed"}
	}
	start := contentsIdx + lt + 1
	hexLen := gt - 1
	return start, hexLen, nil
}

// locateByteRangeSlot returns the offset (within objText) and length of
// the placeholder array value written after "/ByteRange ".
func locateByteRangeSlot(objText []byte) (offset, length int, err error) {
	key := []byte("/ByteRange")
	idx := bytes.Index(objText, key)
	if idx < 0 {
		return 0, 0, &pdferr.SignatureError{Reason: "/ByteRange not found in signature object"}
	}
	rest := objText[idx:]
	open := bytes.IndexByte(rest, '[')
	if open < 0 {
		return 0, 0, &pdferr.SignatureError{Reason: "/ByteRange value is not an array"}
	}
	close := bytes.IndexByte(rest[open:], ']')
	if close < 0 {
		return 0, 0, &pdferr.SignatureError{Reason: "/ByteRange array is not closed"}
	}
	return idx + open, close + 1, nil
}
