package filter

import (
	"bytes"
	"fmt"

	"golang.org/x/image/ccitt"

	"github.com/benoitkugler/pdfcore/model"
)

// ValidateCCITT sanity-checks a CCITTFaxDecode stream's /DecodeParms
// against the actual encoded bytes without materializing a decoded image:
// the engine treats CCITT payload as opaque (§4.4, passthrough filters),
// but a corrupt /Columns or /K value is a common real-world integrity
// problem worth catching before the bytes are copied verbatim into a
// rewritten file (§7 Recovery policy favors failing loudly over silently
// propagating corruption).
func ValidateCCITT(s model.Stream) error {
	columns := 1728
	if v, ok := s.Dict.Get("Columns").(model.Integer); ok {
		columns = int(v)
	}
	k := 0
	if v, ok := s.Dict.Get("K").(model.Integer); ok {
		k = int(v)
	}
	blackIs1 := false
	if v, ok := s.Dict.Get("BlackIs1").(model.Boolean); ok {
		blackIs1 = bool(v)
	}

	mode := ccitt.Group4
	switch {
	case k < 0:
		mode = ccitt.Group4
	case k == 0:
		mode = ccitt.Group3_1D
	default:
		mode = ccitt.Group3_2D
	}

	opts := &ccitt.Options{Invert: blackIs1}
	r := ccitt.NewReader(bytes.NewReader(s.Content), ccitt.MSB, mode, columns, 1<<20, opts)
	// Decoding a single row is enough to catch a mismatched Columns/K
	// without paying the cost of decoding the whole opaque image.
	buf := make([]byte, (columns+7)/8)
	if _, err := r.Read(buf); err != nil {
		return fmt.Errorf("CCITTFaxDecode sanity check failed: %w", err)
	}
	return nil
}
