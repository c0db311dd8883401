package sig

import (
	"crypto"
	"crypto/x509"
	"fmt"

	"golang.org/x/crypto/pkcs12"
)

// LoadPKCS12 parses a PKCS#12 (.p12/.pfx) bundle into a signing key and its
// certificate chain (leaf first), grounded on the retrieved
// pjanx-pdf-simple-sign PKCS12Parse: golang.org/x/crypto/pkcs12.ToPEM does
// not reassemble a multi-certificate bundle into usable Go values on its
// own, so the PEM blocks it returns are split back out by block type.
func LoadPKCS12(p12 []byte, password string) (crypto.PrivateKey, []*x509.Certificate, error) {
	blocks, err := pkcs12.ToPEM(p12, password)
	if err != nil {
		return nil, nil, fmt.Errorf("pkcs12: %w", err)
	}

	var keyDER []byte
	var certDERs [][]byte
	for _, b := range blocks {
		switch b.Type {
		case "PRIVATE KEY":
			keyDER = b.Bytes
		case "CERTIFICATE":
			certDERs = append(certDERs, b.Bytes)
		}
	}
	if keyDER == nil {
		return nil, nil, fmt.Errorf("pkcs12: bundle has no private key")
	}
	if len(certDERs) == 0 {
		return nil, nil, fmt.Errorf("pkcs12: bundle has no certificate")
	}

	key, err := parsePrivateKey(keyDER)
	if err != nil {
		return nil, nil, fmt.Errorf("pkcs12: %w", err)
	}

	certs := make([]*x509.Certificate, 0, len(certDERs))
	for _, der := range certDERs {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, nil, fmt.Errorf("pkcs12: %w", err)
		}
		certs = append(certs, cert)
	}

	return key, certs, nil
}

func parsePrivateKey(der []byte) (crypto.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("unrecognized private key encoding")
}
