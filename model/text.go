package model

import "golang.org/x/text/encoding/unicode"

// utf16Enc mirrors the teacher's write.go dual-path text string encoder:
// plain ASCII stays a byte string, anything else becomes UTF-16BE with a
// leading byte-order mark (§3, PDF "text string" type).
var utf16Enc = unicode.UTF16(unicode.BigEndian, unicode.UseBOM)

// NewTextString encodes s as a PDF text string (§3): ASCII content is
// written as a plain literal string for a smaller file, anything outside
// ASCII is transcoded to UTF-16BE with a byte-order mark, the same
// fallback the teacher's pdfWriter.EncodeString(..., TextString, ...)
// uses (there simplified from the teacher's PDFDocEncoding table, which
// this module does not otherwise need, to a plain ASCII check).
func NewTextString(s string) (String, error) {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			encoded, err := utf16Enc.NewEncoder().String(s)
			if err != nil {
				return String{}, err
			}
			return NewLiteralString([]byte(encoded)), nil
		}
	}
	return NewLiteralString([]byte(s)), nil
}
