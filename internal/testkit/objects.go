package testkit

import (
	"fmt"

	"fortio.org/safecast"

	"reclayout/internal/decl"
	"reclayout/internal/layout"
)

// packs reports whether packing attributes or pragmas may lower member and
// base alignment below the natural one.
func packs(e *layout.Engine, rec *decl.Record) bool {
	return rec.Attrs.Packed || rec.Attrs.Mac68k || rec.Attrs.MaxFieldAlign != 0 || e.Target.DefaultMaxFieldAlign != 0
}

// checkBitfieldUnits verifies that no bitfield straddles a storage unit of
// its declared type. Unit-allocating layouts (Microsoft, ms_struct) must keep
// each field within as many bytes as its type has. Other Itanium layouts
// that honour type alignment must not cross an aligned unit boundary.
func checkBitfieldUnits(e *layout.Engine, rec *decl.Record, l *layout.RecordLayout, name string) error {
	unitLayout := l.ABI == layout.ABIMicrosoft || rec.Attrs.MsStruct
	if !unitLayout && (!e.Target.UseBitFieldTypeAlignment || packs(e, rec)) {
		return nil
	}
	for i := range rec.Fields {
		f := &rec.Fields[i]
		if !f.Bitfield || f.Width == 0 {
			continue
		}
		if !unitLayout && f.Packed {
			continue
		}
		info, err := e.TypeInfoOf(f.Type)
		if err != nil {
			return fmt.Errorf("%s: member %s: %w", name, fieldName(f, i), err)
		}
		width, err := safecast.Conv[int64](f.Width)
		if err != nil {
			return fmt.Errorf("%s: member %s: width overflow: %w", name, fieldName(f, i), err)
		}
		unitBits := info.Size * layout.CharWidth
		off := l.FieldOffsets[i]
		if unitLayout {
			width = min(width, unitBits)
			first, last := off/layout.CharWidth, (off+width-1)/layout.CharWidth
			if last-first+1 > info.Size {
				return fmt.Errorf("%s: bitfield %s at bit %d spans %d bytes of a %d byte storage unit",
					name, fieldName(f, i), off, last-first+1, info.Size)
			}
			continue
		}
		if width > unitBits || info.Align <= 0 {
			continue
		}
		if off%(info.Align*layout.CharWidth)+width > unitBits {
			return fmt.Errorf("%s: bitfield %s at bit %d crosses a %d bit storage unit",
				name, fieldName(f, i), off, unitBits)
		}
	}
	return nil
}

func checkBaseAlignment(e *layout.Engine, l *layout.RecordLayout, name string) error {
	aligned := func(base decl.RecordID, off int64, kind string) error {
		bl, err := e.LayoutOf(base)
		if err != nil {
			return err
		}
		if bl.NonVirtualAlignment > 0 && off%bl.NonVirtualAlignment != 0 {
			return fmt.Errorf("%s: %s %s at %d is not aligned to %d",
				name, kind, e.Decls.RecordName(base), off, bl.NonVirtualAlignment)
		}
		return nil
	}
	for base, off := range l.Bases {
		if err := aligned(base, off, "base"); err != nil {
			return err
		}
	}
	for vbase, info := range l.VBases {
		if err := aligned(vbase, info.Offset, "virtual base"); err != nil {
			return err
		}
	}
	return nil
}

type emptySlot struct {
	rec decl.RecordID
	off int64
}

// emptyWalker visits every subobject of a complete object and records the
// offsets of empty class subobjects.
type emptyWalker struct {
	e    *layout.Engine
	seen map[emptySlot]struct{}
}

// object visits a complete object of type id at off, virtual bases included.
func (w *emptyWalker) object(id decl.RecordID, l *layout.RecordLayout, off int64) error {
	if err := w.subobject(id, l, off); err != nil {
		return err
	}
	for vbase, info := range l.VBases {
		vl, err := w.e.LayoutOf(vbase)
		if err != nil {
			return err
		}
		if err := w.subobject(vbase, vl, off+info.Offset); err != nil {
			return err
		}
	}
	return nil
}

// subobject visits the non-virtual part of id at off.
func (w *emptyWalker) subobject(id decl.RecordID, l *layout.RecordLayout, off int64) error {
	if w.e.Decls.IsEmpty(id) {
		slot := emptySlot{rec: id, off: off}
		if _, dup := w.seen[slot]; dup {
			return fmt.Errorf("two empty subobjects of type %s share offset %d", w.e.Decls.RecordName(id), off)
		}
		w.seen[slot] = struct{}{}
	}
	for base, boff := range l.Bases {
		bl, err := w.e.LayoutOf(base)
		if err != nil {
			return err
		}
		if err := w.subobject(base, bl, off+boff); err != nil {
			return err
		}
	}
	rec := w.e.Decls.MustRecord(id)
	// Union members overlap by definition.
	if rec.IsUnion() {
		return nil
	}
	for i := range rec.Fields {
		f := &rec.Fields[i]
		if f.Bitfield || i >= len(l.FieldOffsets) {
			continue
		}
		elem, count := w.e.Decls.BaseElement(f.Type)
		member, ok := w.e.Decls.AsRecord(elem)
		if !ok {
			continue
		}
		ml, err := w.e.LayoutOf(member)
		if err != nil {
			return err
		}
		start := off + l.FieldOffsets[i]/layout.CharWidth
		for k := uint64(0); k < count; k++ {
			idx, err := safecast.Conv[int64](k)
			if err != nil {
				return err
			}
			if err := w.object(member, ml, start+idx*ml.Size); err != nil {
				return err
			}
		}
	}
	return nil
}
