// Package config defines run options: how to write (xref stream vs.
// classic table, object streams), how to authenticate an encrypted
// document, and how much work a batch run may do concurrently. The
// library packages take their own option values and do not read a
// Config; within this module only the CLI's sign subcommand builds one.
//
// Grounded on the retrieved sassoftware-pdf-xtract Config: a plain
// struct with go-playground/validator struct tags and a Validate
// method, rather than functional options or a builder.
package config

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// WriteMode selects the cross-reference format a document is written
// with (§4.2).
type WriteMode string

const (
	ClassicXRef WriteMode = "classic"
	XRefStream  WriteMode = "xref-stream"
	Hybrid      WriteMode = "hybrid"
)

// Config holds the run options described in the package comment. Zero
// value is not valid; use NewDefaultConfig.
type Config struct {
	// WriteMode selects the xref format Write uses.
	WriteMode WriteMode `validate:"oneof=classic xref-stream hybrid"`

	// PackObjectStreams enables object-stream packing of eligible
	// objects; only meaningful when WriteMode is not ClassicXRef.
	PackObjectStreams bool

	// CompressStreams is the filter name new content/xref/object
	// streams are compressed with (typically FlateDecode).
	CompressStreams string `validate:"required"`

	// UserPassword/OwnerPassword authenticate an encrypted document on
	// read, or set up a new standard security handler on write.
	UserPassword  string
	OwnerPassword string

	// RecoverOnXRefError records whether an unparsable cross-reference
	// subsystem may fall back to a whole-file object scan
	// (xref.Store.recover, §7 Recovery policy). xref.Load does not read
	// it: it always falls back.
	RecoverOnXRefError bool

	// MaxConcurrentDocuments is a bound on documents processed in
	// parallel by a batch run. batch-inspect does not read it; its bound
	// comes from the -j flag.
	MaxConcurrentDocuments int `validate:"min=1,max=64"`

	// OperationTimeout is a per-document processing time limit for batch
	// mode. batch-inspect does not read it and sets no timeout.
	OperationTimeout time.Duration `validate:"required"`

	// SignatureReservation is the default number of bytes reserved for
	// a signature's /Contents hex string (see sig.Config.ContentsSize).
	SignatureReservation int `validate:"min=256"`
}

// NewDefaultConfig returns a Config with the same kind of conservative
// defaults as the retrieved sassoftware-pdf-xtract NewDefaultConfig.
func NewDefaultConfig() *Config {
	return &Config{
		WriteMode:               Hybrid,
		PackObjectStreams:       true,
		CompressStreams:         "FlateDecode",
		RecoverOnXRefError:      true,
		MaxConcurrentDocuments:  4,
		OperationTimeout:        30 * time.Second,
		SignatureReservation:    8192,
	}
}

// Validate checks the struct tags above and reports the first
// violation, mirroring the retrieved sassoftware-pdf-xtract
// Config.Validate.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
