package writer

import (
	"context"
	"fmt"

	"github.com/benoitkugler/pdfcore/model"
	"github.com/benoitkugler/pdfcore/xref"
)

// WriteIncremental appends only changed (and newly-added or deleted)
// objects to original, producing a self-contained incremental update
// (§4.8): a new xref section whose /Prev points at the original file's
// last xref offset, chaining back through the whole revision history
// instead of rewriting it.
//
// This is grounded on the "IncrementalSave" pattern (write only the
// modified objects, then a small xref section with /Prev pointing at
// the prior cross-reference offset) found in the retrieved gopdf
// example, generalized from that library's mutable object array to
// store.Store's (oid,gen)-addressed revisions.
func WriteIncremental(original []byte, store *xref.Store, changed []Entry, extraTrailer model.Dictionary, opts Options) ([]byte, error) {
	return WriteIncrementalContext(context.Background(), original, store, changed, extraTrailer, opts)
}

// WriteIncrementalContext is WriteIncremental with a cancellation/deadline
// token (§5 Cancellation).
func WriteIncrementalContext(ctx context.Context, original []byte, store *xref.Store, changed []Entry, extraTrailer model.Dictionary, opts Options) ([]byte, error) {
	if len(store.Revisions) == 0 {
		return nil, fmt.Errorf("incremental update requires at least one existing revision")
	}
	prevXRefOffset := store.Revisions[len(store.Revisions)-1].StartXRefOffset

	out := &output{offsets: make(map[uint32]int64)}
	out.write(original)
	if len(original) > 0 && original[len(original)-1] != '\n' {
		out.write([]byte("\n"))
	}
	baseLen := out.pos()

	var toWrite []Entry
	var packable []xref.PackedObject
	freeEntries := map[uint32]bool{}
	maxOid := store.NextFreeObjectNumber() - 1
	for _, e := range changed {
		if e.Ref.Oid > maxOid {
			maxOid = e.Ref.Oid
		}
		if e.Value == nil {
			freeEntries[e.Ref.Oid] = true
			continue
		}
		isEncrypt := opts.Encrypt != nil && e.Ref == opts.EncryptRef
		if opts.UseXRefStream && opts.ObjectStreams && xref.Eligible(e.Ref, e.Value, isEncrypt) {
			packable = append(packable, xref.PackedObject{Oid: e.Ref.Oid, Value: e.Value})
			continue
		}
		toWrite = append(toWrite, e)
	}

	if err := writeObjects(ctx, out, toWrite, opts); err != nil {
		return nil, err
	}

	var objStmRef model.Reference
	if len(packable) > 0 {
		objStmRef = model.Reference{Oid: maxOid + 1}
		if err := writeObjectStream(out, objStmRef, packable, opts); err != nil {
			return nil, err
		}
		maxOid = objStmRef.Oid
	}

	xrefRef := model.Reference{Oid: maxOid + 1}
	size := xrefRef.Oid + 1

	rows := make(map[uint32]xref.Entry, len(out.offsets))
	for oid, off := range out.offsets {
		if off < baseLen {
			continue // pre-existing bytes untouched by this update
		}
		rows[oid] = xref.Entry{Kind: xref.EntryInUse, Offset: off}
	}
	// A deletion must have gone through Store.Delete first (§4.3), which
	// already wrote a correctly-chained EntryFree row (and refreshed the
	// list head's own oid-0 row) into the store's current revision; pull
	// those rows instead of fabricating a next-free-oid here.
	current := store.Revisions[len(store.Revisions)-1].Entries
	for oid := range freeEntries {
		if fe, ok := current[oid]; ok && fe.Kind == xref.EntryFree {
			rows[oid] = fe
		} else {
			rows[oid] = xref.Entry{Kind: xref.EntryFree, Gen: 1}
		}
	}
	if len(freeEntries) > 0 {
		if head, ok := current[0]; ok && head.Kind == xref.EntryFree {
			rows[0] = head
		}
	}
	for i, p := range packable {
		rows[p.Oid] = xref.Entry{Kind: xref.EntryCompressed, Container: objStmRef.Oid, Index: i}
	}

	trailer := store.Trailer().Clone().(model.Dictionary)
	if extraTrailer != nil {
		for _, k := range extraTrailer.Keys() {
			trailer.Set(k, extraTrailer.Get(k))
		}
	}
	trailer.Set("Size", model.Integer(size))
	trailer.Set("Prev", model.Integer(prevXRefOffset))

	startXRef := out.pos()
	if opts.UseXRefStream {
		if err := writeXRefStream(out, xrefRef, rows, size, trailer, opts); err != nil {
			return nil, err
		}
	} else {
		writeSparseClassicXRef(out, rows)
		writeTrailer(out, trailer)
	}
	out.writeString(fmt.Sprintf("startxref\n%d\n%%%%EOF\n", startXRef))

	return out.buf.Bytes(), nil
}

// writeSparseClassicXRef emits one subsection per contiguous run of
// object numbers present in rows, instead of the single "0 size"
// subsection a full rewrite uses — an incremental update's xref section
// only ever lists the objects that changed (§4.4).
func writeSparseClassicXRef(out *output, rows map[uint32]xref.Entry) {
	if len(rows) == 0 {
		out.writeString("xref\n0 0\n")
		return
	}
	oids := make([]uint32, 0, len(rows))
	for oid := range rows {
		oids = append(oids, oid)
	}
	sortUint32(oids)

	out.writeString("xref\n")
	i := 0
	for i < len(oids) {
		start := oids[i]
		j := i
		for j+1 < len(oids) && oids[j+1] == oids[j]+1 {
			j++
		}
		out.writeString(fmt.Sprintf("%d %d\n", start, j-i+1))
		for k := i; k <= j; k++ {
			e := rows[oids[k]]
			switch e.Kind {
			case xref.EntryFree:
				out.writeString(fmt.Sprintf("%010d %05d f \n", e.NextFree, e.Gen))
			case xref.EntryInUse:
				out.writeString(fmt.Sprintf("%010d %05d n \n", e.Offset, e.Gen))
			case xref.EntryCompressed:
				out.writeString("0000000000 65535 f \n")
			}
		}
		i = j + 1
	}
}

func sortUint32(s []uint32) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
