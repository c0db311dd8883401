package sig

import (
	"crypto"
	"crypto/x509"

	"go.mozilla.org/pkcs7"
)

// CMSSigner wraps a certificate/private-key pair into a Signer that
// produces a detached PKCS#7 SignedData blob (§4.9, the "adbe.pkcs7.detached"
// SubFilter), grounded directly on the retrieved pjanx-pdf-simple-sign
// signer: NewSignedData(content), SetDigestAlgorithm(SHA-256),
// AddSignerChain, Detach, Finish.
type CMSSigner struct {
	Certificate *x509.Certificate
	// Chain holds any intermediate certificates after Certificate,
	// mirroring AddSignerChain's trailing chain argument.
	Chain      []*x509.Certificate
	PrivateKey crypto.Signer
}

// Sign implements Signer: content is the document's signed byte range
// (everything outside the /Contents hole); go.mozilla.org/pkcs7 hashes
// it internally while building the SignedData's messageDigest attribute.
func (s *CMSSigner) Sign(content []byte) ([]byte, error) {
	signedData, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, err
	}
	signedData.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := signedData.AddSignerChain(s.Certificate, s.PrivateKey, s.Chain, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, err
	}
	signedData.Detach()
	return signedData.Finish()
}
