package filter

import (
	"bytes"
	"fmt"
	"io"

	"github.com/benoitkugler/pdfcore/model"
)

// predictorParams mirrors the /DecodeParms entries recognized for the
// Predictor function applied after Flate/LZW decoding (§4.4): Predictor,
// Colors, BitsPerComponent, Columns.
type predictorParams struct {
	predictor int
	colors    int
	bpc       int
	columns   int
}

func parsePredictorParams(d model.Dictionary) (predictorParams, error) {
	p := predictorParams{predictor: 1, colors: 1, bpc: 8, columns: 1}
	if v, ok := d.Get("Predictor").(model.Integer); ok {
		p.predictor = int(v)
	}
	switch p.predictor {
	case 0, 1, 2, 10, 11, 12, 13, 14, 15:
	default:
		return p, fmt.Errorf("unexpected Predictor %d", p.predictor)
	}
	if v, ok := d.Get("Colors").(model.Integer); ok {
		if v <= 0 {
			return p, fmt.Errorf("Colors must be > 0, got %d", v)
		}
		p.colors = int(v)
	}
	if v, ok := d.Get("BitsPerComponent").(model.Integer); ok {
		switch v {
		case 1, 2, 4, 8, 16:
			p.bpc = int(v)
		default:
			return p, fmt.Errorf("unexpected BitsPerComponent %d", v)
		}
	}
	if v, ok := d.Get("Columns").(model.Integer); ok {
		p.columns = int(v)
	}
	return p, nil
}

func (p predictorParams) rowSize() int { return p.bpc * p.colors * p.columns / 8 }

// applyPredictor reverses the Predictor function named in parm, if any.
func applyPredictor(data []byte, parm model.Dictionary) ([]byte, error) {
	p, err := parsePredictorParams(parm)
	if err != nil {
		return nil, err
	}
	if p.predictor == 0 || p.predictor == 1 {
		return data, nil
	}

	bytesPerPixel := (p.bpc*p.colors + 7) / 8
	rowSize := p.rowSize()
	if p.predictor != 2 {
		rowSize++ // PNG rows are prefixed with a filter-type byte
	}

	cr := make([]byte, rowSize)
	pr := make([]byte, rowSize)
	r := bytes.NewReader(data)

	var out []byte
	for {
		if _, err := io.ReadFull(r, cr); err != nil {
			if err == io.ErrUnexpectedEOF || err == io.EOF {
				break
			}
			return nil, err
		}
		d, err := unpredictRow(pr, cr, p.predictor, bytesPerPixel)
		if err != nil {
			return nil, err
		}
		out = append(out, d...)
		pr, cr = cr, pr
	}

	if p.rowSize() > 0 && len(out)%p.rowSize() != 0 {
		return nil, fmt.Errorf("predictor postprocessing failed: got %d bytes, row size %d", len(out), p.rowSize())
	}
	return out, nil
}

// predictorReader reverses the Predictor function row-by-row as bytes are
// pulled from r (a zlib or LZW decoder), so DecodeProducer never needs the
// whole decompressed payload resident to undo prediction — the same
// row-diffing logic as applyPredictor, driven by Read instead of a full
// buffer.
type predictorReader struct {
	r             io.Reader
	predictor     int
	bytesPerPixel int
	cr, pr        []byte
	pending       []byte
	err           error
}

// newPredictorReader returns r unchanged when parm names no predictor (or
// predictor 1, the identity), so the caller's reader chain pays nothing
// for the common case of an unpredicted Flate/LZW stream.
func newPredictorReader(r io.Reader, parm model.Dictionary) (io.Reader, error) {
	p, err := parsePredictorParams(parm)
	if err != nil {
		return nil, err
	}
	if p.predictor == 0 || p.predictor == 1 {
		return r, nil
	}
	readRowSize := p.rowSize()
	if p.predictor != 2 {
		readRowSize++
	}
	return &predictorReader{
		r:             r,
		predictor:     p.predictor,
		bytesPerPixel: (p.bpc*p.colors + 7) / 8,
		cr:            make([]byte, readRowSize),
		pr:            make([]byte, readRowSize),
	}, nil
}

func (pr *predictorReader) Read(buf []byte) (int, error) {
	for len(pr.pending) == 0 {
		if pr.err != nil {
			return 0, pr.err
		}
		if _, err := io.ReadFull(pr.r, pr.cr); err != nil {
			if err == io.ErrUnexpectedEOF || err == io.EOF {
				pr.err = io.EOF
			} else {
				pr.err = err
			}
			return 0, pr.err
		}
		d, err := unpredictRow(pr.pr, pr.cr, pr.predictor, pr.bytesPerPixel)
		if err != nil {
			pr.err = err
			return 0, err
		}
		pr.pending = append([]byte(nil), d...)
		pr.pr, pr.cr = pr.cr, pr.pr
	}
	n := copy(buf, pr.pending)
	pr.pending = pr.pending[n:]
	return n, nil
}

// predictEncode applies the Predictor function named in parm before the
// stream is compressed, the write-side counterpart to applyPredictor.
// Only PNG-Up (predictor 12, pdfcpu's and most writers' default choice)
// and the no-op predictors are supported on the encode side: the other
// PNG filter types and TIFF prediction are read-only conveniences for
// decoding third-party files, not something this engine chooses to emit.
func predictEncode(data []byte, parm model.Dictionary) ([]byte, error) {
	p, err := parsePredictorParams(parm)
	if err != nil {
		return nil, err
	}
	if p.predictor == 0 || p.predictor == 1 {
		return data, nil
	}
	if p.predictor != 12 {
		return nil, fmt.Errorf("encoding with predictor %d is not supported, only PNG-Up (12)", p.predictor)
	}

	rowSize := p.rowSize()
	if rowSize <= 0 || len(data)%rowSize != 0 {
		return nil, fmt.Errorf("data length %d is not a multiple of row size %d", len(data), rowSize)
	}

	var out bytes.Buffer
	prev := make([]byte, rowSize)
	for off := 0; off < len(data); off += rowSize {
		row := data[off : off+rowSize]
		out.WriteByte(2) // PNG "Up" filter type
		for i, b := range row {
			out.WriteByte(b - prev[i])
		}
		prev = row
	}
	return out.Bytes(), nil
}

func unpredictRow(pr, cr []byte, predictor, bytesPerPixel int) ([]byte, error) {
	if predictor == 2 {
		return applyHorizontalDiff(cr, bytesPerPixel), nil
	}

	cdat := cr[1:]
	pdat := pr[1:]
	filterType := int(cr[0])

	switch filterType {
	case 0:
		// no-op
	case 1:
		for i := bytesPerPixel; i < len(cdat); i++ {
			cdat[i] += cdat[i-bytesPerPixel]
		}
	case 2:
		for i, p := range pdat {
			cdat[i] += p
		}
	case 3:
		for i := 0; i < bytesPerPixel && i < len(cdat); i++ {
			cdat[i] += pdat[i] / 2
		}
		for i := bytesPerPixel; i < len(cdat); i++ {
			cdat[i] += uint8((int(cdat[i-bytesPerPixel]) + int(pdat[i])) / 2)
		}
	case 4:
		paethFilter(cdat, pdat, bytesPerPixel)
	default:
		return nil, fmt.Errorf("unknown PNG filter type %d", filterType)
	}
	return cdat, nil
}

func applyHorizontalDiff(row []byte, bytesPerPixel int) []byte {
	for i := bytesPerPixel; i < len(row); i++ {
		row[i] += row[i-bytesPerPixel]
	}
	return row
}

func paethFilter(cdat, pdat []byte, bytesPerPixel int) {
	var a, b, c, pa, pb, pc int32
	for i := 0; i < bytesPerPixel; i++ {
		a, c = 0, 0
		for j := i; j < len(cdat); j += bytesPerPixel {
			b = int32(pdat[j])
			pa = abs32(b - c)
			pb = abs32(a - c)
			pc = abs32(b - c + a - c)
			var pred int32
			switch {
			case pa <= pb && pa <= pc:
				pred = a
			case pb <= pc:
				pred = b
			default:
				pred = c
			}
			a = (pred + int32(cdat[j])) & 0xff
			cdat[j] = uint8(a)
			c = b
		}
	}
}

func abs32(x int32) int32 {
	if x < 0 {
		return -x
	}
	return x
}
