package sig

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"strings"
	"testing"
	"time"

	"go.mozilla.org/pkcs7"

	"github.com/benoitkugler/pdfcore/model"
	"github.com/benoitkugler/pdfcore/writer"
)

func TestNewSignatureDictDefaults(t *testing.T) {
	ph := NewSignatureDict(Config{})
	d := ph.Dict
	if d.Get("Type") != model.Name("Sig") {
		t.Fatalf("Type = %v, want Sig", d.Get("Type"))
	}
	if d.Get("Filter") != model.Name("Adobe.PPKLite") {
		t.Fatalf("Filter = %v", d.Get("Filter"))
	}
	if d.Get("SubFilter") != model.Name("adbe.pkcs7.detached") {
		t.Fatalf("SubFilter = %v, want the default", d.Get("SubFilter"))
	}
	contents, ok := d.Get("Contents").(model.String)
	if !ok || len(contents.Value) != defaultContentsSize {
		t.Fatalf("Contents = %v, want %d zero bytes", d.Get("Contents"), defaultContentsSize)
	}
	byteRange := d.Get("ByteRange").(rawLiteral)
	if !strings.HasPrefix(string(byteRange), "[0 ") {
		t.Fatalf("ByteRange placeholder = %q", byteRange)
	}
}

func TestNewSignatureDictCustomSize(t *testing.T) {
	ph := NewSignatureDict(Config{ContentsSize: 16, Reason: "testing"})
	contents := ph.Dict.Get("Contents").(model.String)
	if len(contents.Value) != 16 {
		t.Fatalf("Contents size = %d, want 16", len(contents.Value))
	}
	reason, ok := ph.Dict.Get("Reason").(model.String)
	if !ok || string(reason.Value) != "testing" {
		t.Fatalf("Reason = %v, want %q", ph.Dict.Get("Reason"), "testing")
	}
}

func TestFormatDate(t *testing.T) {
	tm := time.Date(2026, 7, 30, 12, 5, 9, 0, time.UTC)
	got := formatDate(tm)
	want := "D:20260730120509+00'00'"
	if got != want {
		t.Fatalf("formatDate() = %q, want %q", got, want)
	}
}

// fakeSigner returns a fixed byte slice regardless of content, for testing
// Sign's byte-patching orchestration independent of any real CMS library.
type fakeSigner struct {
	out []byte
	err error
}

func (f *fakeSigner) Sign(content []byte) ([]byte, error) { return f.out, f.err }

func buildSignedDocument(t *testing.T, placeholderSize int) (doc []byte, sigRef model.Reference) {
	t.Helper()
	ph := NewSignatureDict(Config{ContentsSize: placeholderSize})
	sigRef = model.Reference{Oid: 1}

	catalog := model.NewDictionary()
	catalog.Set("Type", model.Name("Catalog"))

	entries := []writer.Entry{
		{Ref: model.Reference{Oid: 1}, Value: ph.Dict},
		{Ref: model.Reference{Oid: 2}, Value: catalog},
	}
	trailer := model.NewDictionary()
	trailer.Set("Root", model.Reference{Oid: 2})

	out, err := writer.Write(entries, trailer, writer.Options{})
	if err != nil {
		t.Fatalf("writer.Write: %v", err)
	}
	return out, sigRef
}

func TestSignPatchesByteRangeAndContents(t *testing.T) {
	doc, sigRef := buildSignedDocument(t, 16)
	signer := &fakeSigner{out: []byte{0xDE, 0xAD, 0xBE, 0xEF}}

	signed, err := Sign(doc, sigRef, signer)
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Contains(signed, []byte("[0 0000000000000000000 0000000000000000000 0000000000000000000]")) {
		t.Fatal("ByteRange placeholder was not patched")
	}
	if !bytes.Contains(signed, []byte("deadbeef")) {
		t.Fatal("hex-encoded signature bytes not found in patched output")
	}
	// the rest of the reserved /Contents space must be zero-padded.
	idx := bytes.Index(signed, []byte("deadbeef"))
	tail := signed[idx+8 : idx+8+24]
	if !bytes.Equal(tail, bytes.Repeat([]byte("0"), 24)) {
		t.Fatalf("trailing hex digits should be zero-padded, got %q", tail)
	}
}

func TestSignByteRangeCoversWholeFileExceptHole(t *testing.T) {
	doc, sigRef := buildSignedDocument(t, 16)
	signer := &fakeSigner{out: []byte{1, 2, 3}}

	signed, err := Sign(doc, sigRef, signer)
	if err != nil {
		t.Fatal(err)
	}

	objStart, dictText, err := locateObject(signed, sigRef)
	if err != nil {
		t.Fatal(err)
	}
	brOffset, brLen, err := locateByteRangeSlot(dictText)
	if err != nil {
		t.Fatal(err)
	}
	brText := string(signed[objStart+brOffset : objStart+brOffset+brLen])

	// byteRangeFormat is "[0 holeStart holeEnd fileLen-holeEnd]": the first
	// range covers [0, holeStart) and the second [holeEnd, fileLen).
	var start1, holeStart, holeEnd, length2 int64
	n, err := parseByteRange(brText, &start1, &holeStart, &holeEnd, &length2)
	if err != nil || n != 4 {
		t.Fatalf("could not parse patched ByteRange %q: %v", brText, err)
	}
	if start1 != 0 {
		t.Fatalf("first range should start at 0, got %d", start1)
	}
	if holeEnd+length2 != int64(len(signed)) {
		t.Fatalf("second range should reach the end of the file: %d+%d != %d", holeEnd, length2, len(signed))
	}
	if holeEnd <= holeStart {
		t.Fatalf("the /Contents hole should have positive width: start=%d end=%d", holeStart, holeEnd)
	}
}

// parseByteRange is a tiny hand-rolled scanner since fmt.Sscanf does not
// handle the fixed-width zero-padded integers Sign produces predictably
// across Go versions; it mirrors the format Sign writes.
func parseByteRange(s string, start1, end1, start2, len2 *int64) (int, error) {
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	fields := strings.Fields(s)
	if len(fields) != 4 {
		return 0, nil
	}
	vals := make([]int64, 4)
	for i, f := range fields {
		v := new(big.Int)
		if _, ok := v.SetString(f, 10); !ok {
			return i, nil
		}
		vals[i] = v.Int64()
	}
	*start1, *end1, *start2, *len2 = vals[0], vals[1], vals[2], vals[3]
	return 4, nil
}

func TestSignErrorsWhenSignatureTooLarge(t *testing.T) {
	doc, sigRef := buildSignedDocument(t, 2)
	signer := &fakeSigner{out: bytes.Repeat([]byte{1}, 100)}
	if _, err := Sign(doc, sigRef, signer); err == nil {
		t.Fatal("expected an error when the signature does not fit in the reserved /Contents space")
	}
}

func TestSignErrorsWhenObjectNotFound(t *testing.T) {
	doc, _ := buildSignedDocument(t, 16)
	signer := &fakeSigner{out: []byte{1}}
	if _, err := Sign(doc, model.Reference{Oid: 99}, signer); err == nil {
		t.Fatal("expected an error for a signature reference not present in the document")
	}
}

func TestSignPropagatesSignerError(t *testing.T) {
	doc, sigRef := buildSignedDocument(t, 16)
	boom := errTest("signer failed")
	signer := &fakeSigner{err: boom}
	if _, err := Sign(doc, sigRef, signer); err == nil {
		t.Fatal("expected Sign to propagate the signer's error")
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }

func TestRawRSASignerSignsDigest(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	signer := &RawRSASigner{Signer: key}

	content := []byte("the byte range covered by this signature")
	out, err := signer.Sign(content)
	if err != nil {
		t.Fatal(err)
	}

	digest := sha256.Sum256(content)
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], out); err != nil {
		t.Fatalf("signature does not verify: %v", err)
	}
}

func generateTestCert(t *testing.T) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "pdfcore test signer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return cert, key
}

func TestCMSSignerProducesParseablePKCS7(t *testing.T) {
	cert, key := generateTestCert(t)
	signer := &CMSSigner{Certificate: cert, PrivateKey: key}

	content := []byte("the byte range covered by this signature")
	out, err := signer.Sign(content)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) == 0 {
		t.Fatal("CMSSigner.Sign returned no bytes")
	}

	p7, err := pkcs7.Parse(out)
	if err != nil {
		t.Fatalf("the produced CMS blob does not parse as PKCS#7: %v", err)
	}
	if len(p7.Certificates) == 0 {
		t.Fatal("expected the signer's certificate to be embedded in the SignedData")
	}
	// the signature is detached (Sign calls Detach before Finish), so the
	// original content must be supplied back before verifying.
	p7.Content = content
	if err := p7.Verify(); err != nil {
		t.Fatalf("detached signature does not verify against the signed content: %v", err)
	}
}

func TestCMSSignerEndToEndWithSign(t *testing.T) {
	cert, key := generateTestCert(t)
	signer := &CMSSigner{Certificate: cert, PrivateKey: key}

	doc, sigRef := buildSignedDocument(t, 4096)
	orig := append([]byte(nil), doc...)
	signed, err := Sign(doc, sigRef, signer)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(signed, orig) {
		t.Fatal("Sign should have patched the document in place")
	}
}
