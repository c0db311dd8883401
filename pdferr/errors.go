// Package pdferr collects the error taxonomy shared by the layers of the
// engine: tokenizer, xref loader, security handler, writer and signer
// return the types below for their failure classes, so that callers can
// use errors.As to branch on them. A few paths (locating startxref, the
// incremental writer, PKCS#12 loading) return plain fmt.Errorf errors.
package pdferr

import "golang.org/x/exp/errors/fmt"

// SyntaxError reports malformed PDF bytes at a given offset.
type SyntaxError struct {
	Offset int64
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("pdf: syntax error at offset %d: %s", e.Offset, e.Reason)
}

// XrefError reports an inconsistent or unreachable cross-reference chain.
type XrefError struct {
	Reason string
}

func (e *XrefError) Error() string { return fmt.Sprintf("pdf: xref error: %s", e.Reason) }

// UnsupportedFeature reports a filter, /V value or sub-filter the engine
// does not implement.
type UnsupportedFeature struct {
	Feature string
}

func (e *UnsupportedFeature) Error() string {
	return fmt.Sprintf("pdf: unsupported feature: %s", e.Feature)
}

// EncryptionError reports a failure in the standard security handler:
// invalid password, /Perms mismatch, missing /ID, unsupported /R.
type EncryptionError struct {
	Reason string
}

func (e *EncryptionError) Error() string { return fmt.Sprintf("pdf: encryption error: %s", e.Reason) }

// IntegrityError reports a stream /Length mismatch, checksum failure, or a
// signature byte range pointing outside the file.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string { return fmt.Sprintf("pdf: integrity error: %s", e.Reason) }

// SignatureError reports a failure specific to the signing pipeline:
// reserved /Contents too small, unreachable TSA, bad certificate.
type SignatureError struct {
	Reason   string
	Reserved int
	Required int
}

func (e *SignatureError) Error() string {
	if e.Required > 0 {
		return fmt.Sprintf("pdf: signature error: %s (reserved %d, required %d)", e.Reason, e.Reserved, e.Required)
	}
	return fmt.Sprintf("pdf: signature error: %s", e.Reason)
}

// SignatureTooLarge is returned when the DER-encoded signature does not fit
// the space reserved in /Contents (see §4.9).
func SignatureTooLarge(reserved, required int) error {
	return &SignatureError{Reason: "signature does not fit reserved /Contents", Reserved: reserved, Required: required}
}

// IoError wraps a failure of the underlying byte source or sink.
type IoError struct {
	Err error
}

func (e *IoError) Error() string { return fmt.Sprintf("pdf: io error: %s", e.Err) }
func (e *IoError) Unwrap() error { return e.Err }

// CancelledError reports that an operation was aborted via a caller
// supplied deadline or cancellation token (see §5 Cancellation).
type CancelledError struct {
	Op string
}

func (e *CancelledError) Error() string { return fmt.Sprintf("pdf: %s cancelled", e.Op) }
