package filter

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/benoitkugler/pdfcore/model"
)

func streamWithFilter(content []byte, names ...model.Name) model.Stream {
	d := model.NewDictionary()
	if len(names) == 1 {
		d.Set("Filter", names[0])
	} else if len(names) > 1 {
		arr := make(model.Array, len(names))
		for i, n := range names {
			arr[i] = n
		}
		d.Set("Filter", arr)
	}
	return model.Stream{Dict: d, Content: content}
}

func TestFlateRoundTrip(t *testing.T) {
	input := []byte("the quick brown fox jumps over the lazy dog, repeated: " +
		"the quick brown fox jumps over the lazy dog")
	encoded, err := Encode(input, []model.Name{FlateDecode}, []model.Dictionary{{}})
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(streamWithFilter(encoded, FlateDecode))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, input) {
		t.Fatalf("round trip mismatch: got %q, want %q", decoded, input)
	}
}

func TestLZWRoundTrip(t *testing.T) {
	input := []byte("aaaaaaaaaabbbbbbbbbbccccccccccaaaaaaaaaabbbbbbbbbb")
	encoded, err := Encode(input, []model.Name{LZWDecode}, []model.Dictionary{{}})
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(streamWithFilter(encoded, LZWDecode))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, input) {
		t.Fatalf("round trip mismatch: got %q, want %q", decoded, input)
	}
}

func TestASCII85RoundTrip(t *testing.T) {
	input := make([]byte, 256)
	for i := range input {
		input[i] = byte(i)
	}
	encoded, err := Encode(input, []model.Name{ASCII85Decode}, []model.Dictionary{{}})
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(streamWithFilter(encoded, ASCII85Decode))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, input) {
		t.Fatalf("round trip mismatch: got % x, want % x", decoded, input)
	}
}

func TestASCIIHexRoundTrip(t *testing.T) {
	input := []byte("hello, world!")
	encoded, err := Encode(input, []model.Name{ASCIIHexDecode}, []model.Dictionary{{}})
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(streamWithFilter(encoded, ASCIIHexDecode))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, input) {
		t.Fatalf("round trip mismatch: got %q, want %q", decoded, input)
	}
}

func TestASCIIHexDecodeIgnoresWhitespace(t *testing.T) {
	decoded, err := asciiHexDecode([]byte("68 65 6c\n6c 6f>"))
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded) != "hello" {
		t.Fatalf("got %q, want %q", decoded, "hello")
	}
}

func TestRunLengthRoundTrip(t *testing.T) {
	inputs := [][]byte{
		[]byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		[]byte("abcdefghijklmnop"),
		[]byte(""),
		append([]byte("aaaa"), []byte("bcdefgh")...),
	}
	for _, input := range inputs {
		encoded, err := Encode(input, []model.Name{RunLength}, []model.Dictionary{{}})
		if err != nil {
			t.Fatal(err)
		}
		decoded, err := Decode(streamWithFilter(encoded, RunLength))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(decoded, input) {
			t.Fatalf("round trip mismatch for %q: got %q", input, decoded)
		}
	}
}

func TestRunLengthRoundTripRandom(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		input := make([]byte, r.Intn(500))
		_, _ = r.Read(input)
		encoded, err := Encode(input, []model.Name{RunLength}, []model.Dictionary{{}})
		if err != nil {
			t.Fatal(err)
		}
		decoded, err := Decode(streamWithFilter(encoded, RunLength))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(decoded, input) {
			t.Fatalf("round trip mismatch: got %d bytes, want %d", len(decoded), len(input))
		}
	}
}

func TestDecodePipeline(t *testing.T) {
	input := []byte("some repeated text some repeated text some repeated text")
	flated, err := Encode(input, []model.Name{FlateDecode}, []model.Dictionary{{}})
	if err != nil {
		t.Fatal(err)
	}
	hexed, err := Encode(flated, []model.Name{ASCIIHexDecode}, []model.Dictionary{{}})
	if err != nil {
		t.Fatal(err)
	}

	s := streamWithFilter(hexed, ASCIIHexDecode, FlateDecode)
	decoded, err := Decode(s)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, input) {
		t.Fatalf("pipeline mismatch: got %q, want %q", decoded, input)
	}
}

func TestDecodePassthroughStopsAtImageFilter(t *testing.T) {
	raw := []byte("\xff\xd8opaque jpeg bytes\xff\xd9")
	s := streamWithFilter(raw, DCTDecode)
	decoded, err := Decode(s)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, raw) {
		t.Fatalf("DCTDecode payload must pass through unchanged")
	}
}

func TestEncodeRejectsPassthroughFilter(t *testing.T) {
	_, err := Encode([]byte("data"), []model.Name{CCITTFaxDecode}, []model.Dictionary{{}})
	if err == nil {
		t.Fatal("expected an error encoding into an opaque image filter")
	}
}

func TestDecodeUnknownFilter(t *testing.T) {
	s := streamWithFilter([]byte("data"), model.Name("BogusDecode"))
	_, err := Decode(s)
	if err == nil {
		t.Fatal("expected an error for an unknown filter")
	}
}
