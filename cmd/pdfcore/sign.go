package main

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/benoitkugler/pdfcore/config"
	"github.com/benoitkugler/pdfcore/model"
	"github.com/benoitkugler/pdfcore/sig"
	"github.com/benoitkugler/pdfcore/writer"
	"github.com/benoitkugler/pdfcore/xref"
)

func runSign(args []string) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	certPath := fs.String("cert", "", "PEM certificate chain file (leaf first)")
	keyPath := fs.String("key", "", "PEM private key file")
	p12Path := fs.String("p12", "", "PKCS#12 (.p12/.pfx) bundle, alternative to -cert/-key")
	p12Password := fs.String("p12-password", "", "password for -p12")
	reason := fs.String("reason", "", "/Reason field")
	location := fs.String("location", "", "/Location field")
	out := fs.String("o", "", "output path (defaults to <input>.signed.pdf)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("sign: missing input file")
	}
	haveCertKey := *certPath != "" && *keyPath != ""
	havePKCS12 := *p12Path != ""
	if !haveCertKey && !havePKCS12 {
		return fmt.Errorf("sign: either -cert/-key or -p12 are required")
	}
	input := fs.Arg(0)
	output := *out
	if output == "" {
		output = input + ".signed.pdf"
	}

	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}

	leaf, chain, rawSigner, err := loadSigningCredentials(haveCertKey, *certPath, *keyPath, *p12Path, *p12Password)
	if err != nil {
		return err
	}
	signer, ok := rawSigner.(crypto.Signer)
	if !ok {
		return fmt.Errorf("sign: private key does not implement crypto.Signer")
	}

	store, err := xref.Load(data)
	if err != nil {
		return err
	}

	cfg := config.NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("sign: invalid config: %w", err)
	}

	placeholder := sig.NewSignatureDict(sig.Config{
		Reason:       *reason,
		Location:     *location,
		SignTime:     time.Now(),
		ContentsSize: cfg.SignatureReservation,
	})
	sigRef := store.Add(placeholder.Dict)

	trailer := store.Trailer()
	root, ok := trailer.Get("Root").(model.Reference)
	if !ok {
		return fmt.Errorf("sign: document has no /Root")
	}
	catalogObj, err := store.Resolve(root)
	if err != nil {
		return err
	}
	catalog, ok := catalogObj.(model.Dictionary)
	if !ok {
		return fmt.Errorf("sign: /Root is not a dictionary")
	}
	catalog = catalog.Clone().(model.Dictionary)

	field := fieldDict(sigRef)
	fieldRef := store.Add(field)

	acroForm := model.NewDictionary()
	acroForm.Set("Fields", model.Array{fieldRef})
	acroForm.Set("SigFlags", model.Integer(3))
	acroFormRef := store.Add(acroForm)
	catalog.Set("AcroForm", acroFormRef)

	changed := []writer.Entry{
		{Ref: sigRef, Value: placeholder.Dict},
		{Ref: fieldRef, Value: field},
		{Ref: acroFormRef, Value: acroForm},
		{Ref: root, Value: catalog},
	}

	withPlaceholder, err := writer.WriteIncremental(data, store, changed, nil, writeModeToOptions(cfg.WriteMode))
	if err != nil {
		return err
	}

	cmsSigner := &sig.CMSSigner{Certificate: leaf, Chain: chain, PrivateKey: signer}
	signed, err := sig.Sign(withPlaceholder, sigRef, cmsSigner)
	if err != nil {
		return err
	}

	return os.WriteFile(output, signed, 0o644)
}

// loadSigningCredentials resolves the signing certificate chain and key
// from either a PEM cert+key pair or a PKCS#12 bundle.
func loadSigningCredentials(haveCertKey bool, certPath, keyPath, p12Path, p12Password string) (*x509.Certificate, []*x509.Certificate, crypto.PrivateKey, error) {
	if haveCertKey {
		pair, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, nil, nil, err
		}
		leaf, err := x509.ParseCertificate(pair.Certificate[0])
		if err != nil {
			return nil, nil, nil, err
		}
		var chain []*x509.Certificate
		for _, der := range pair.Certificate[1:] {
			c, err := x509.ParseCertificate(der)
			if err != nil {
				return nil, nil, nil, err
			}
			chain = append(chain, c)
		}
		return leaf, chain, pair.PrivateKey, nil
	}

	p12, err := os.ReadFile(p12Path)
	if err != nil {
		return nil, nil, nil, err
	}
	key, certs, err := sig.LoadPKCS12(p12, p12Password)
	if err != nil {
		return nil, nil, nil, err
	}
	return certs[0], certs[1:], key, nil
}

func writeModeToOptions(mode config.WriteMode) writer.Options {
	opts := writer.Options{Version: "1.7"}
	switch mode {
	case config.XRefStream:
		opts.UseXRefStream = true
	case config.Hybrid:
		opts.UseXRefStream = true
	}
	return opts
}

// fieldDict builds the minimal unsigned-appearance-free signature form
// field, linking back to the /Sig dictionary via /V.
func fieldDict(sigRef model.Reference) model.Dictionary {
	d := model.NewDictionary()
	d.Set("FT", model.Name("Sig"))
	d.Set("Type", model.Name("Annot"))
	d.Set("Subtype", model.Name("Widget"))
	d.Set("Rect", model.Array{model.Integer(0), model.Integer(0), model.Integer(0), model.Integer(0)})
	d.Set("T", model.NewLiteralString([]byte("Signature1")))
	d.Set("V", sigRef)
	d.Set("F", model.Integer(132)) // Print | Locked
	return d
}
