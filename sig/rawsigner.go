package sig

import (
	"crypto"
	"crypto/rand"
	"crypto/sha256"
)

// RawRSASigner signs the content digest directly with an RSA key,
// producing a bare PKCS#1v1.5 signature instead of a full CMS envelope
// — the "signature-only" mode referenced by the retrieved wudi-pdfkit
// security.Signer/RSASigner pair, generalized here to any crypto.Signer
// (so an HSM-backed key works the same as an in-process *rsa.PrivateKey).
// Not a valid Adobe.PPKLite /adbe.pkcs7.detached signature on its own —
// intended for callers building their own PAdES/CMS wrapping downstream
// of the raw signature bytes.
type RawRSASigner struct {
	Signer crypto.Signer
	Hash   crypto.Hash // defaults to SHA-256
}

func (s *RawRSASigner) Sign(content []byte) ([]byte, error) {
	h := s.Hash
	if h == 0 {
		h = crypto.SHA256
	}
	var digest []byte
	if h == crypto.SHA256 {
		sum := sha256.Sum256(content)
		digest = sum[:]
	} else {
		hasher := h.New()
		hasher.Write(content)
		digest = hasher.Sum(nil)
	}
	return s.Signer.Sign(rand.Reader, digest, h)
}
