package dump

import (
	"encoding/json"
	"io"

	"reclayout/internal/decl"
	"reclayout/internal/layout"
)

// RecordJSON is the stable JSON schema of a layout.
type RecordJSON struct {
	Name          string      `json:"name"`
	Kind          string      `json:"kind"`
	Target        string      `json:"target"`
	ABI           string      `json:"abi"`
	Size          int64       `json:"size"`
	Align         int64       `json:"align"`
	DataSize      int64       `json:"data_size"`
	NVSize        int64       `json:"nv_size"`
	NVAlign       int64       `json:"nv_align"`
	RequiredAlign int64       `json:"required_align"`
	Fields        []FieldJSON `json:"fields"`
	Bases         []BaseJSON  `json:"bases,omitempty"`
	VBases        []BaseJSON  `json:"vbases,omitempty"`
	PrimaryBase   string      `json:"primary_base,omitempty"`
	VFPtr         bool        `json:"vfptr,omitempty"`
	VBPtrOffset   *int64      `json:"vbptr_offset,omitempty"`
}

type FieldJSON struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	OffsetBits int64  `json:"offset_bits"`
	Bitfield   bool   `json:"bitfield,omitempty"`
	Width      uint32 `json:"width,omitempty"`
}

type BaseJSON struct {
	Name     string `json:"name"`
	Offset   int64  `json:"offset"`
	VtorDisp bool   `json:"vtordisp,omitempty"`
}

// Record builds the JSON form of a record layout.
func Record(e *layout.Engine, id decl.RecordID) (RecordJSON, error) {
	l, err := e.LayoutOf(id)
	if err != nil {
		return RecordJSON{}, err
	}
	decls := e.Decls
	rec := decls.MustRecord(id)
	out := RecordJSON{
		Name:          decls.RecordName(id),
		Kind:          rec.Tag.String(),
		Target:        e.Target.Triple,
		ABI:           l.ABI.String(),
		Size:          l.Size,
		Align:         l.Alignment,
		DataSize:      l.DataSize,
		NVSize:        l.NonVirtualSize,
		NVAlign:       l.NonVirtualAlignment,
		RequiredAlign: l.RequiredAlignment,
		Fields:        make([]FieldJSON, len(rec.Fields)),
	}
	for i := range rec.Fields {
		f := &rec.Fields[i]
		out.Fields[i] = FieldJSON{
			Name:       f.Name,
			Type:       decls.TypeString(f.Type),
			OffsetBits: l.FieldOffsets[i],
			Bitfield:   f.Bitfield,
			Width:      f.Width,
		}
	}
	for _, b := range sortedBases(rec, l) {
		out.Bases = append(out.Bases, BaseJSON{Name: decls.RecordName(b), Offset: l.Bases[b]})
	}
	for _, vb := range decls.VirtualBases(id) {
		info, ok := l.VBases[vb]
		if !ok {
			continue
		}
		out.VBases = append(out.VBases, BaseJSON{Name: decls.RecordName(vb), Offset: info.Offset, VtorDisp: info.HasVtorDisp})
	}
	if l.PrimaryBase != decl.NoRecordID {
		out.PrimaryBase = decls.RecordName(l.PrimaryBase)
	}
	out.VFPtr = l.HasOwnVFPtr
	if l.HasVBPtr() {
		off := l.VBPtrOffset
		out.VBPtrOffset = &off
	}
	return out, nil
}

// JSON writes the layouts of ids as an indented JSON array.
func JSON(w io.Writer, e *layout.Engine, ids []decl.RecordID) error {
	out := make([]RecordJSON, 0, len(ids))
	for _, id := range ids {
		r, err := Record(e, id)
		if err != nil {
			return err
		}
		out = append(out, r)
	}
	return WriteJSON(w, out)
}

// WriteJSON writes already built records as an indented JSON array.
func WriteJSON(w io.Writer, records []RecordJSON) error {
	if records == nil {
		records = []RecordJSON{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
