package writer

import (
	"bytes"
	"testing"

	"github.com/benoitkugler/pdfcore/crypt"
	"github.com/benoitkugler/pdfcore/model"
	"github.com/benoitkugler/pdfcore/xref"
)

func sampleEntries() []Entry {
	catalog := model.NewDictionary()
	catalog.Set("Type", model.Name("Catalog"))
	catalog.Set("Pages", model.Reference{Oid: 2})

	pages := model.NewDictionary()
	pages.Set("Type", model.Name("Pages"))
	pages.Set("Kids", model.Array{model.Reference{Oid: 3}})
	pages.Set("Count", model.Integer(1))

	page := model.NewDictionary()
	page.Set("Type", model.Name("Page"))
	page.Set("Parent", model.Reference{Oid: 2})

	contentDict := model.NewDictionary()
	contentStream := model.Stream{Dict: contentDict, Content: []byte("BT ET")}

	return []Entry{
		{Ref: model.Reference{Oid: 1}, Value: catalog},
		{Ref: model.Reference{Oid: 2}, Value: pages},
		{Ref: model.Reference{Oid: 3}, Value: page},
		{Ref: model.Reference{Oid: 4}, Value: contentStream},
	}
}

func sampleTrailer() model.Dictionary {
	t := model.NewDictionary()
	t.Set("Root", model.Reference{Oid: 1})
	return t
}

func TestWriteClassicXRefRoundTrip(t *testing.T) {
	out, err := Write(sampleEntries(), sampleTrailer(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF-1.7\n")) {
		t.Fatalf("missing PDF header: %q", out[:20])
	}
	if !bytes.Contains(out, []byte("xref\n0 5\n")) {
		t.Fatalf("expected a classic xref table with 5 rows, got:\n%s", out)
	}

	store, err := xref.Load(out)
	if err != nil {
		t.Fatalf("xref.Load: %v", err)
	}
	root, err := store.Resolve(model.Reference{Oid: 1})
	if err != nil {
		t.Fatal(err)
	}
	dict, ok := root.(model.Dictionary)
	if !ok || dict.Get("Type") != model.Name("Catalog") {
		t.Fatalf("Root = %v, want a Catalog dictionary", root)
	}

	content, err := store.Resolve(model.Reference{Oid: 4})
	if err != nil {
		t.Fatal(err)
	}
	stream, ok := content.(model.Stream)
	if !ok || string(stream.Content) != "BT ET" {
		t.Fatalf("content stream = %v, want %q", content, "BT ET")
	}
}

func TestWriteClassicXRefOffsetsMatchEntries(t *testing.T) {
	out, err := Write(sampleEntries(), sampleTrailer(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	store, err := xref.Load(out)
	if err != nil {
		t.Fatal(err)
	}
	rev := store.Revisions[len(store.Revisions)-1]
	for oid := uint32(1); oid <= 4; oid++ {
		entry, ok := rev.Entries[oid]
		if !ok || entry.Kind != xref.EntryInUse {
			t.Fatalf("object %d: entry = %+v, want an in-use entry", oid, entry)
		}
		marker := []byte(out[entry.Offset:])
		want := []byte{'0' + byte(oid)}
		if !bytes.HasPrefix(marker, want) {
			t.Fatalf("object %d offset %d does not point at its own header: %q", oid, entry.Offset, marker[:10])
		}
	}
}

func TestWriteXRefStreamRoundTrip(t *testing.T) {
	out, err := Write(sampleEntries(), sampleTrailer(), Options{UseXRefStream: true})
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(out, []byte("\nxref\n")) {
		t.Fatalf("UseXRefStream must not emit a classic xref table")
	}

	store, err := xref.Load(out)
	if err != nil {
		t.Fatalf("xref.Load: %v", err)
	}
	root, err := store.Resolve(model.Reference{Oid: 1})
	if err != nil {
		t.Fatal(err)
	}
	if dict, ok := root.(model.Dictionary); !ok || dict.Get("Type") != model.Name("Catalog") {
		t.Fatalf("Root = %v, want a Catalog dictionary", root)
	}
}

func TestWriteXRefStreamCompressed(t *testing.T) {
	out, err := Write(sampleEntries(), sampleTrailer(), Options{UseXRefStream: true, XRefStreamFilter: "FlateDecode"})
	if err != nil {
		t.Fatal(err)
	}
	store, err := xref.Load(out)
	if err != nil {
		t.Fatalf("xref.Load with a compressed xref stream: %v", err)
	}
	if _, err := store.Resolve(model.Reference{Oid: 1}); err != nil {
		t.Fatal(err)
	}
}

func TestWriteObjectStreamsPacksEligibleObjects(t *testing.T) {
	out, err := Write(sampleEntries(), sampleTrailer(), Options{UseXRefStream: true, ObjectStreams: true})
	if err != nil {
		t.Fatal(err)
	}

	store, err := xref.Load(out)
	if err != nil {
		t.Fatal(err)
	}
	rev := store.Revisions[len(store.Revisions)-1]

	// the content stream (object 4) is itself a Stream, so it is never
	// eligible for packing and must stay a plain indirect object.
	streamEntry, ok := rev.Entries[4]
	if !ok || streamEntry.Kind != xref.EntryInUse {
		t.Fatalf("object 4 (a stream) must not be packed, got %+v", streamEntry)
	}

	// the catalog (object 1) has no stream content and generation 0, so it
	// should have been packed into an object stream.
	catalogEntry, ok := rev.Entries[1]
	if !ok || catalogEntry.Kind != xref.EntryCompressed {
		t.Fatalf("object 1 should be packed into an object stream, got %+v", catalogEntry)
	}

	root, err := store.Resolve(model.Reference{Oid: 1})
	if err != nil {
		t.Fatal(err)
	}
	if dict, ok := root.(model.Dictionary); !ok || dict.Get("Type") != model.Name("Catalog") {
		t.Fatalf("Root (resolved through an object stream) = %v, want a Catalog dictionary", root)
	}
}

func TestWriteEncryptsObjectsExceptEncryptDict(t *testing.T) {
	h, gen, err := crypt.NewRC4AES128(crypt.R3, 16, "", "owner-pw", -4, []byte("0123456789012345"), true)
	if err != nil {
		t.Fatal(err)
	}

	encryptDict := model.NewDictionary()
	encryptDict.Set("Filter", model.Name("Standard"))
	encryptDict.Set("V", model.Integer(2))
	encryptDict.Set("R", model.Integer(3))
	encryptDict.Set("O", model.NewHexString(gen.O))
	encryptDict.Set("U", model.NewHexString(gen.U))
	encryptDict.Set("P", model.Integer(-4))

	encryptRef := model.Reference{Oid: 5}
	entries := append(sampleEntries(), Entry{Ref: encryptRef, Value: encryptDict})

	out, err := Write(entries, sampleTrailer(), Options{Encrypt: h, EncryptRef: encryptRef})
	if err != nil {
		t.Fatal(err)
	}

	// the plaintext literal string "BT ET" must not appear verbatim in the
	// encrypted content stream's bytes.
	if bytes.Contains(out, []byte("BT ET")) {
		t.Fatal("content stream should have been encrypted, found plaintext in output")
	}

	store, err := xref.Load(out)
	if err != nil {
		t.Fatal(err)
	}
	// the /Encrypt dictionary itself must be readable without decryption.
	raw, err := store.Resolve(encryptRef)
	if err != nil {
		t.Fatal(err)
	}
	if dict, ok := raw.(model.Dictionary); !ok || dict.Get("Filter") != model.Name("Standard") {
		t.Fatalf("Encrypt dict should be written in the clear, got %v", raw)
	}

	content, err := store.Resolve(model.Reference{Oid: 4})
	if err != nil {
		t.Fatal(err)
	}
	stream := content.(model.Stream)
	decrypted, err := h.DecryptBytes(model.Reference{Oid: 4}, crypt.CipherRC4, stream.Content)
	if err != nil {
		t.Fatal(err)
	}
	if string(decrypted) != "BT ET" {
		t.Fatalf("decrypted content = %q, want %q", decrypted, "BT ET")
	}
}

func TestWriteIncrementalAppendsAndChainsPrev(t *testing.T) {
	original, err := Write(sampleEntries(), sampleTrailer(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	store, err := xref.Load(original)
	if err != nil {
		t.Fatal(err)
	}

	updatedPage := model.NewDictionary()
	updatedPage.Set("Type", model.Name("Page"))
	updatedPage.Set("Parent", model.Reference{Oid: 2})
	updatedPage.Set("Rotate", model.Integer(90))

	changed := []Entry{{Ref: model.Reference{Oid: 3}, Value: updatedPage}}

	updated, err := WriteIncremental(original, store, changed, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(updated, original) {
		t.Fatal("an incremental update must preserve every byte of the original file")
	}

	store2, err := xref.Load(updated)
	if err != nil {
		t.Fatalf("xref.Load(updated): %v", err)
	}
	if len(store2.Revisions) < 2 {
		t.Fatalf("expected at least 2 revisions after an incremental update, got %d", len(store2.Revisions))
	}

	page, err := store2.Resolve(model.Reference{Oid: 3})
	if err != nil {
		t.Fatal(err)
	}
	dict, ok := page.(model.Dictionary)
	if !ok || dict.Get("Rotate") != model.Integer(90) {
		t.Fatalf("expected the updated page with /Rotate 90, got %v", page)
	}

	// the untouched catalog must still resolve through the original revision.
	root, err := store2.Resolve(model.Reference{Oid: 1})
	if err != nil {
		t.Fatal(err)
	}
	if dict, ok := root.(model.Dictionary); !ok || dict.Get("Type") != model.Name("Catalog") {
		t.Fatalf("Root = %v, want the original Catalog dictionary still resolvable", root)
	}
}

func TestWriteIncrementalDeletesObject(t *testing.T) {
	original, err := Write(sampleEntries(), sampleTrailer(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	store, err := xref.Load(original)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Delete(3, xref.ScopeCurrent, true); err != nil {
		t.Fatalf("store.Delete: %v", err)
	}
	changed := []Entry{{Ref: model.Reference{Oid: 3}, Value: nil}}
	updated, err := WriteIncremental(original, store, changed, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}

	store2, err := xref.Load(updated)
	if err != nil {
		t.Fatal(err)
	}
	obj, err := store2.Resolve(model.Reference{Oid: 3})
	if err != nil {
		t.Fatal(err)
	}
	if obj != nil {
		t.Fatalf("a deleted object should resolve to nil, got %v", obj)
	}

	// The free list must form a single cycle starting and ending at
	// object 0: 0 -> 3 -> 0, since object 3 is the only freed object.
	visited := map[uint32]bool{}
	oid := uint32(0)
	for i := 0; i < 10; i++ {
		if visited[oid] {
			break
		}
		visited[oid] = true
		e, err := store2.LookupEntry(oid)
		if err != nil {
			t.Fatalf("LookupEntry(%d): %v", oid, err)
		}
		if e.Kind != xref.EntryFree {
			t.Fatalf("oid %d: expected a free entry, got %v", oid, e.Kind)
		}
		oid = e.NextFree
	}
	if !visited[0] || !visited[3] {
		t.Fatalf("free-list cycle did not visit both object 0 and object 3: %v", visited)
	}
}
