package writer

import (
	"github.com/benoitkugler/pdfcore/internal/filter"
	"github.com/benoitkugler/pdfcore/model"
)

// compressWith applies a single named filter to data with no
// /DecodeParms, the common case for xref and object streams.
func compressWith(data []byte, name model.Name) ([]byte, error) {
	return filter.Encode(data, []model.Name{name}, nil)
}
