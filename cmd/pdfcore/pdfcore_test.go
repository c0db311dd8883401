package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/benoitkugler/pdfcore/crypt"
	"github.com/benoitkugler/pdfcore/model"
	"github.com/benoitkugler/pdfcore/writer"
	"github.com/benoitkugler/pdfcore/xref"
)

func writeSamplePDF(t *testing.T, path string) {
	t.Helper()
	catalog := model.NewDictionary()
	catalog.Set("Type", model.Name("Catalog"))
	catalog.Set("Pages", model.Reference{Oid: 2})

	pages := model.NewDictionary()
	pages.Set("Type", model.Name("Pages"))
	pages.Set("Count", model.Integer(0))

	entries := []writer.Entry{
		{Ref: model.Reference{Oid: 1}, Value: catalog},
		{Ref: model.Reference{Oid: 2}, Value: pages},
	}
	trailer := model.NewDictionary()
	trailer.Set("Root", model.Reference{Oid: 1})

	out, err := writer.Write(entries, trailer, writer.Options{})
	if err != nil {
		t.Fatalf("writer.Write: %v", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeEncryptedSamplePDF(t *testing.T, path, userPassword string) {
	t.Helper()
	id0 := []byte("0123456789012345")
	h, gen, err := crypt.NewRC4AES128(crypt.R3, 16, userPassword, "owner-pw", -4, id0, true)
	if err != nil {
		t.Fatal(err)
	}

	catalog := model.NewDictionary()
	catalog.Set("Type", model.Name("Catalog"))
	title := model.NewLiteralString([]byte("secret title"))
	catalog.Set("Title", title)

	encDict := model.NewDictionary()
	encDict.Set("Filter", model.Name("Standard"))
	encDict.Set("V", model.Integer(2))
	encDict.Set("R", model.Integer(3))
	encDict.Set("Length", model.Integer(128))
	encDict.Set("O", model.NewHexString(gen.O))
	encDict.Set("U", model.NewHexString(gen.U))
	encDict.Set("P", model.Integer(-4))

	encRef := model.Reference{Oid: 2}
	entries := []writer.Entry{
		{Ref: model.Reference{Oid: 1}, Value: catalog},
		{Ref: encRef, Value: encDict},
	}

	trailer := model.NewDictionary()
	trailer.Set("Root", model.Reference{Oid: 1})
	trailer.Set("Encrypt", encRef)
	trailer.Set("ID", model.Array{model.NewHexString(id0), model.NewHexString(id0)})

	out, err := writer.Write(entries, trailer, writer.Options{Encrypt: h, EncryptRef: encRef})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestInspectFileUnencrypted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.pdf")
	writeSamplePDF(t, path)

	summary, err := inspectFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains([]byte(summary), []byte("encrypted: no")) {
		t.Fatalf("summary = %q, want it to report no encryption", summary)
	}
	if !bytes.Contains([]byte(summary), []byte("root: 1 0 R")) {
		t.Fatalf("summary = %q, want root: 1 0 R", summary)
	}
	if !bytes.Contains([]byte(summary), []byte("objects: 2")) {
		t.Fatalf("summary = %q, want objects: 2", summary)
	}
}

func TestInspectFileEncrypted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "encrypted.pdf")
	writeEncryptedSamplePDF(t, path, "user-pw")

	summary, err := inspectFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains([]byte(summary), []byte("encrypted: yes")) {
		t.Fatalf("summary = %q, want it to report encryption", summary)
	}
	if !bytes.Contains([]byte(summary), []byte("R=3")) {
		t.Fatalf("summary = %q, want R=3", summary)
	}
}

func TestInspectFileMissing(t *testing.T) {
	if _, err := inspectFile(filepath.Join(t.TempDir(), "does-not-exist.pdf")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestRunInspectMissingArg(t *testing.T) {
	if err := runInspect(nil); err == nil {
		t.Fatal("expected an error when no input file is given")
	}
}

func TestRunDecryptRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "encrypted.pdf")
	out := filepath.Join(dir, "out.pdf")
	writeEncryptedSamplePDF(t, in, "user-pw")

	if err := runDecrypt([]string{"-password", "user-pw", "-o", out, in}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	store, err := xref.Load(data)
	if err != nil {
		t.Fatalf("decrypted output did not parse: %v", err)
	}
	trailer := store.Trailer()
	if _, stillEncrypted := trailer.Get("Encrypt").(model.Reference); stillEncrypted {
		t.Fatal("decrypted output should not have an /Encrypt entry")
	}
	root, err := store.Resolve(model.Reference{Oid: 1})
	if err != nil {
		t.Fatal(err)
	}
	dict, ok := root.(model.Dictionary)
	if !ok {
		t.Fatalf("Root = %v, want a dictionary", root)
	}
	title, ok := dict.Get("Title").(model.String)
	if !ok || string(title.Value) != "secret title" {
		t.Fatalf("Title = %v, want the decrypted plaintext %q", dict.Get("Title"), "secret title")
	}
}

func TestRunDecryptWrongPasswordFails(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "encrypted.pdf")
	out := filepath.Join(dir, "out.pdf")
	writeEncryptedSamplePDF(t, in, "user-pw")

	if err := runDecrypt([]string{"-password", "wrong", "-o", out, in}); err == nil {
		t.Fatal("expected an error when decrypting with the wrong password")
	}
}

func TestRunDecryptRejectsUnencryptedFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "plain.pdf")
	writeSamplePDF(t, in)

	if err := runDecrypt([]string{in}); err == nil {
		t.Fatal("expected an error when decrypting a file that is not encrypted")
	}
}

func TestRunBatchInspectMultipleFiles(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "a.pdf")
	p2 := filepath.Join(dir, "b.pdf")
	writeSamplePDF(t, p1)
	writeSamplePDF(t, p2)

	if err := runBatchInspect([]string{"-j", "2", p1, p2}); err != nil {
		t.Fatal(err)
	}
}

func TestRunBatchInspectReportsFailure(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.pdf")
	writeSamplePDF(t, good)
	missing := filepath.Join(dir, "missing.pdf")

	if err := runBatchInspect([]string{good, missing}); err == nil {
		t.Fatal("expected an error when one of the batch's files cannot be read")
	}
}

func TestRunBatchInspectNoFiles(t *testing.T) {
	if err := runBatchInspect(nil); err == nil {
		t.Fatal("expected an error when no files are given")
	}
}
