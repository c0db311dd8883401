// Package objparser turns a token stream from package tokenizer into
// model.Object values: arrays, dictionaries, numbers, strings, names,
// booleans, null and indirect references (§4.1). It also recognizes the
// "N G obj" header of an indirect object definition and, given a stream
// length, slices out the raw (still-filtered) stream content.
//
// This package deliberately knows nothing about xref tables, encryption or
// filters: it is the pure grammar layer, the way the teacher's own `parser`
// package separates object grammar from file-level concerns in `reader`.
package objparser

import (
	"github.com/benoitkugler/pdfcore/internal/tokenizer"
	"github.com/benoitkugler/pdfcore/model"
	"github.com/benoitkugler/pdfcore/pdferr"
)

// Parser parses a chunk of PDF bytes (an object definition, an array
// literal, …) into model.Object values.
type Parser struct {
	tokens tokenizer.Tokenizer

	// ContentStreamMode is unused by this module (content-stream operators
	// are out of scope) but kept as a field so a future caller that feeds
	// us operator bytes fails predictably instead of silently misparsing.
	ContentStreamMode bool
}

// NewParser builds a Parser reading from data.
func NewParser(data []byte) *Parser {
	return &Parser{tokens: tokenizer.NewTokenizer(data)}
}

// CurrentPosition exposes the underlying tokenizer's cursor, used by the
// stream-length lookup once a dictionary has just been parsed.
func (p *Parser) CurrentPosition() int { return p.tokens.CurrentPosition() }

// Bytes returns the remaining unparsed input.
func (p *Parser) Bytes() []byte { return p.tokens.Bytes() }

// SkipBytes consumes n raw bytes (the stream body) starting at the current
// position and resumes lexing after them.
func (p *Parser) SkipBytes(n int) []byte { return p.tokens.SkipBytes(n) }

var tokenReference = tokenizer.Token{Kind: tokenizer.Other, Value: "R"}

// ParseObject parses the next complete object from the stream. A PDF
// /Null entry or the `null` keyword both yield a nil Object, per §3: a
// missing dictionary entry and an explicit null are equivalent.
func (p *Parser) ParseObject() (model.Object, error) {
	tk, err := p.tokens.NextToken()
	if err != nil {
		return nil, err
	}

	switch tk.Kind {
	case tokenizer.EOF:
		return nil, p.errAt("unexpected end of input while parsing an object")
	case tokenizer.Name:
		return model.Name(tk.Value), nil
	case tokenizer.String:
		return model.NewLiteralString([]byte(tk.Value)), nil
	case tokenizer.StringHex:
		return model.NewHexString([]byte(tk.Value)), nil
	case tokenizer.StartArray:
		return p.parseArray()
	case tokenizer.StartDic:
		return p.parseDict()
	case tokenizer.Float:
		f, err := tk.Float()
		if err != nil {
			return nil, p.errAt("malformed real number")
		}
		return model.Real(f), nil
	case tokenizer.Other:
		return p.parseKeywordOrOperator(tk.Value)
	default:
		return p.parseNumericOrIndirectRef(tk)
	}
}

func (p *Parser) errAt(reason string) error {
	return &pdferr.SyntaxError{Offset: int64(p.tokens.CurrentPosition()), Reason: reason}
}

func (p *Parser) parseArray() (model.Array, error) {
	a := model.Array{}
	for {
		tk, err := p.tokens.PeekToken()
		if err != nil {
			return nil, err
		}
		switch tk.Kind {
		case tokenizer.EndArray:
			_, _ = p.tokens.NextToken()
			return a, nil
		case tokenizer.EOF:
			return nil, p.errAt("unterminated array")
		default:
			obj, err := p.ParseObject()
			if err != nil {
				return nil, err
			}
			a = append(a, obj)
		}
	}
}

func (p *Parser) parseDict() (model.Dictionary, error) {
	d := model.NewDictionary()
	for {
		tk, err := p.tokens.PeekToken()
		if err != nil {
			return d, err
		}
		switch tk.Kind {
		case tokenizer.EndDic:
			_, _ = p.tokens.NextToken()
			return d, nil
		case tokenizer.EOF:
			return d, p.errAt("unterminated dictionary")
		case tokenizer.Name:
			key := model.Name(tk.Value)
			_, _ = p.tokens.NextToken() // consume the key

			obj, err := p.ParseObject()
			if err != nil {
				return d, err
			}
			// A null value is equivalent to an absent key (§3).
			if obj != nil {
				d.Set(key, obj)
			}
		default:
			return d, p.errAt("dictionary key must be a name")
		}
	}
}

func (p *Parser) parseKeywordOrOperator(kw string) (model.Object, error) {
	switch kw {
	case "null":
		return nil, nil
	case "true":
		return model.Boolean(true), nil
	case "false":
		return model.Boolean(false), nil
	default:
		return nil, p.errAt("unexpected keyword " + kw)
	}
}

func (p *Parser) parseNumericOrIndirectRef(first tokenizer.Token) (model.Object, error) {
	if first.Kind != tokenizer.Integer {
		return nil, p.errAt("expected a number")
	}
	i, err := first.Int()
	if err != nil {
		return nil, p.errAt("malformed integer")
	}

	next, err := p.tokens.PeekToken()
	if err != nil || next.Kind != tokenizer.Integer {
		return model.Integer(i), nil
	}
	gen, genErr := next.Int()
	if genErr != nil {
		return model.Integer(i), nil
	}

	nextNext, err := p.tokens.PeekPeekToken()
	if err != nil || nextNext != tokenReference {
		return model.Integer(i), nil
	}

	_, _ = p.tokens.NextToken() // consume generation
	_, _ = p.tokens.NextToken() // consume "R"
	return model.Reference{Oid: uint32(i), Gen: uint16(gen)}, nil
}

// ObjectHeader describes the "N G obj" preamble of an indirect object
// definition (§3 Indirect object identity).
type ObjectHeader struct {
	Oid uint32
	Gen uint16
}

// ParseObjectHeader parses the "N G obj" tokens and leaves the cursor
// positioned at the start of the object's value.
func (p *Parser) ParseObjectHeader() (ObjectHeader, error) {
	oidTok, err := p.tokens.NextToken()
	if err != nil {
		return ObjectHeader{}, err
	}
	oid, err := oidTok.Int()
	if oidTok.Kind != tokenizer.Integer || err != nil {
		return ObjectHeader{}, p.errAt("expected object number")
	}

	genTok, err := p.tokens.NextToken()
	if err != nil {
		return ObjectHeader{}, err
	}
	gen, err := genTok.Int()
	if genTok.Kind != tokenizer.Integer || err != nil {
		return ObjectHeader{}, p.errAt("expected generation number")
	}

	kw, err := p.tokens.NextToken()
	if err != nil {
		return ObjectHeader{}, err
	}
	if !kw.IsOther("obj") {
		return ObjectHeader{}, p.errAt(`expected "obj" keyword`)
	}

	return ObjectHeader{Oid: uint32(oid), Gen: uint16(gen)}, nil
}

// ParseIndirectObject parses an "N G obj" header and the value after it;
// the closing "endobj" keyword is not consumed. If the value is a
// dictionary immediately followed by the "stream" keyword, resolveLength
// resolves /Length (which may itself be an indirect reference the caller
// must look up) and the raw content bytes are read out; the caller is
// responsible for running them through the filter pipeline.
func (p *Parser) ParseIndirectObject(resolveLength func(model.Object) (int, bool)) (ObjectHeader, model.Object, error) {
	header, err := p.ParseObjectHeader()
	if err != nil {
		return header, nil, err
	}

	value, err := p.ParseObject()
	if err != nil {
		return header, nil, err
	}

	dict, isDict := value.(model.Dictionary)
	tk, err := p.tokens.PeekToken()
	if err == nil && isDict && tk.IsOther("stream") {
		_, _ = p.tokens.NextToken() // consume "stream"
		content, err := p.readStreamBody(dict, resolveLength)
		if err != nil {
			return header, nil, err
		}
		return header, model.Stream{Dict: dict, Content: content}, nil
	}

	return header, value, nil
}

// readStreamBody implements §4.1's stream-body scanning rule: the keyword
// "stream" is followed by CRLF or LF (a bare CR is also accepted), then exactly
// /Length bytes. When /Length is missing, unresolvable, or does not land
// on "endstream", the body is recovered by scanning forward for the
// literal "endstream" keyword instead (§7 Recovery policy).
func (p *Parser) readStreamBody(dict model.Dictionary, resolveLength func(model.Object) (int, bool)) ([]byte, error) {
	raw := p.tokens.Bytes()
	offset := 0
	if len(raw) >= 2 && raw[0] == '\r' && raw[1] == '\n' {
		offset = 2
	} else if len(raw) >= 1 && raw[0] == '\n' {
		offset = 1
	} else if len(raw) >= 1 && raw[0] == '\r' {
		offset = 1
	}

	length, ok := 0, false
	if lengthObj := dict.Get("Length"); lengthObj != nil {
		length, ok = resolveLength(lengthObj)
	}

	if ok && offset+length <= len(raw) {
		content := raw[offset : offset+length]
		p.tokens.SetPosition(p.tokens.CurrentPosition() + offset + length)
		if p.consumeEndstream() {
			return content, nil
		}
	}

	// Recovery: scan for the next "endstream" keyword.
	body := raw[offset:]
	idx := indexOf(body, "endstream")
	if idx < 0 {
		return nil, p.errAt("stream has no matching endstream")
	}
	content := body[:idx]
	// trim a single trailing EOL inserted before "endstream" by convention
	content = trimTrailingEOL(content)
	p.tokens.SetPosition(p.tokens.CurrentPosition() + offset + idx)
	p.consumeEndstream()
	return content, nil
}

func (p *Parser) consumeEndstream() bool {
	tk, err := p.tokens.NextToken()
	return err == nil && tk.IsOther("endstream")
}

func indexOf(haystack []byte, needle string) int {
	n := len(needle)
	for i := 0; i+n <= len(haystack); i++ {
		if string(haystack[i:i+n]) == needle {
			return i
		}
	}
	return -1
}

func trimTrailingEOL(b []byte) []byte {
	if len(b) >= 2 && b[len(b)-2] == '\r' && b[len(b)-1] == '\n' {
		return b[:len(b)-2]
	}
	if len(b) >= 1 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		return b[:len(b)-1]
	}
	return b
}
