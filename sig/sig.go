// Package sig orchestrates digital-signature placement: reserving
// /ByteRange and /Contents space inside a signature dictionary before
// the document's bytes are final, computing the actual byte range once
// the file size is known, invoking a pluggable signer over the digest,
// and patching the reserved hex string in place.
//
// Grounded on the "reserve a fixed-width placeholder, hash everything
// except the hole, patch the hex digits back in" pattern found in the
// retrieved wudi-pdfkit signer (exact /ByteRange format string and hole
// math) and the digitorus/pdfsign SignContext/SignData shape (signer
// abstraction, certificate chain, appearance, TSA fields) — adapted
// from a mutable in-process object table to this engine's
// xref.Store/writer.Entry model.
package sig

import (
	"crypto"
	"fmt"
	"time"

	"github.com/benoitkugler/pdfcore/model"
	"github.com/benoitkugler/pdfcore/pdferr"
)

// Signer produces a detached signature (typically CMS/PKCS#7) over the
// document's signed content (every byte outside the /Contents hole).
// CMS-based signers (see CMSSigner) hash content themselves as part of
// building the SignedData's messageDigest attribute, so Sign receives
// the raw bytes rather than a pre-computed digest — the same shape as
// the retrieved pjanx-pdf-simple-sign and wudi-pdfkit signers, both of
// which feed pkcs7.NewSignedData the content directly.
type Signer interface {
	Sign(content []byte) (cms []byte, err error)
}

// Config describes the signature field's visible metadata (§4.9) and
// how much space to reserve for the CMS blob.
type Config struct {
	Reason, Location, ContactInfo string
	Name                          string
	SignTime                      time.Time
	SubFilter                     model.Name // e.g. "adbe.pkcs7.detached" or "ETSI.CAdES.detached"
	ContentsSize                  int         // bytes reserved for the (binary) CMS blob; hex-encoded this doubles
	DigestAlgorithm               crypto.Hash
}

const defaultContentsSize = 8192

// byteRangeFormat keeps the four numbers at a stable textual width so
// reserving space for /ByteRange before the real offsets are known
// never changes the file's later byte layout — the same fixed-width
// trick the wudi-pdfkit signer uses.
const byteRangeFormat = "[0 %019d %019d %019d]"

// Placeholder is a signature dictionary with /ByteRange and /Contents
// reserved but not yet resolved to real offsets.
type Placeholder struct {
	Dict model.Dictionary
}

// NewSignatureDict builds a /Type /Sig dictionary with placeholder
// /ByteRange and zero-filled /Contents, sized per cfg.
func NewSignatureDict(cfg Config) Placeholder {
	size := cfg.ContentsSize
	if size == 0 {
		size = defaultContentsSize
	}
	subFilter := cfg.SubFilter
	if subFilter == "" {
		subFilter = "adbe.pkcs7.detached"
	}

	d := model.NewDictionary()
	d.Set("Type", model.Name("Sig"))
	d.Set("Filter", model.Name("Adobe.PPKLite"))
	d.Set("SubFilter", subFilter)
	if cfg.Reason != "" {
		d.Set("Reason", textString(cfg.Reason))
	}
	if cfg.Location != "" {
		d.Set("Location", textString(cfg.Location))
	}
	if cfg.ContactInfo != "" {
		d.Set("ContactInfo", textString(cfg.ContactInfo))
	}
	if cfg.Name != "" {
		d.Set("Name", textString(cfg.Name))
	}
	t := cfg.SignTime
	if t.IsZero() {
		t = time.Unix(0, 0).UTC()
	}
	d.Set("M", model.NewLiteralString([]byte(formatDate(t))))

	d.Set("ByteRange", rawLiteral(fmt.Sprintf(byteRangeFormat, 0, 0, 0)))
	d.Set("Contents", model.NewHexString(make([]byte, size)))

	return Placeholder{Dict: d}
}

// textString encodes a signature dictionary's text field (§3 text
// string), falling back to a raw literal if it is not valid UTF-8 —
// these fields are informational, never worth failing signing over.
func textString(s string) model.String {
	v, err := model.NewTextString(s)
	if err != nil {
		return model.NewLiteralString([]byte(s))
	}
	return v
}

// rawLiteral emits its own text verbatim, with no further escaping —
// used only for the /ByteRange placeholder, whose reserved width must
// stay byte-for-byte identical between the first write and the later
// patch in Sign.
type rawLiteral string

func (r rawLiteral) Clone() model.Object { return r }
func (r rawLiteral) PDFString() string   { return string(r) }

func formatDate(t time.Time) string {
	_, offset := t.Zone()
	sign := byte('+')
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	h, m := offset/3600, (offset%3600)/60
	return fmt.Sprintf("D:%04d%02d%02d%02d%02d%02d%c%02d'%02d'",
		t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), sign, h, m)
}

// Sign takes documentBytes, in which sigRef's object holds the
// placeholder signature dictionary, computes the real /ByteRange around
// the reserved /Contents hole, digests everything outside the hole,
// invokes signer, and patches the /ByteRange and the hex-encoded CMS blob
// in place; the returned slice is documentBytes itself. documentBytes must
// already contain a fully-serialized file (e.g. the output of
// writer.Write or writer.WriteIncremental) in which sigRef's object was
// written using placeholder.Dict — this function only patches bytes, it
// never re-serializes.
func Sign(documentBytes []byte, sigRef model.Reference, signer Signer) ([]byte, error) {
	objStart, dictText, err := locateObject(documentBytes, sigRef)
	if err != nil {
		return nil, err
	}

	contentsOffset, contentsHexLen, err := locateContentsHex(dictText)
	if err != nil {
		return nil, err
	}
	byteRangeOffset, byteRangeLen, err := locateByteRangeSlot(dictText)
	if err != nil {
		return nil, err
	}

	holeStart := int64(objStart + contentsOffset)
	holeEnd := holeStart + int64(contentsHexLen)
	fileLen := int64(len(documentBytes))

	byteRangeStr := fmt.Sprintf(byteRangeFormat, holeStart, holeEnd, fileLen-holeEnd)
	if len(byteRangeStr) != byteRangeLen {
		return nil, &pdferr.SignatureError{Reason: "ByteRange placeholder width mismatch; NewSignatureDict/Sign are out of sync"}
	}
	copy(documentBytes[objStart+byteRangeOffset:objStart+byteRangeOffset+byteRangeLen], byteRangeStr)

	signedContent := make([]byte, 0, len(documentBytes)-int(holeEnd-holeStart))
	signedContent = append(signedContent, documentBytes[:holeStart]...)
	signedContent = append(signedContent, documentBytes[holeEnd:]...)

	cms, err := signer.Sign(signedContent)
	if err != nil {
		return nil, &pdferr.SignatureError{Reason: fmt.Sprintf("signer: %v", err)}
	}
	hexDigits := contentsHexLen
	if len(cms)*2 > hexDigits {
		return nil, &pdferr.SignatureError{Reason: fmt.Sprintf("signature too large: %d bytes, reserved %d hex digits", len(cms), hexDigits)}
	}

	hexBuf := make([]byte, hexDigits)
	const hextable = "0123456789abcdef"
	for i, b := range cms {
		hexBuf[2*i] = hextable[b>>4]
		hexBuf[2*i+1] = hextable[b&0xf]
	}
	for i := len(cms) * 2; i < hexDigits; i++ {
		hexBuf[i] = '0'
	}
	copy(documentBytes[holeStart:holeEnd], hexBuf)

	return documentBytes, nil
}
