package testkit

import (
	"fmt"

	"fortio.org/safecast"

	"reclayout/internal/decl"
	"reclayout/internal/layout"
)

// CheckLayoutInvariants verifies the structural properties every computed
// layout must satisfy:
// 1) alignment is a power of two and the size is a multiple of it
// 2) data size and non-virtual size do not exceed the size
// 3) union members sit at offset 0, other members are in declaration order
// 4) every member, base and virtual base lies within the record
// 5) a primary base sits at offset 0
// 6) bitfields stay inside one storage unit of their declared type
// 7) bases sit at a multiple of their non-virtual alignment
// 8) under Itanium, empty subobjects of one type never share an address
func CheckLayoutInvariants(e *layout.Engine, id decl.RecordID) error {
	if e == nil {
		return fmt.Errorf("nil engine")
	}
	rec, ok := e.Decls.Record(id)
	if !ok {
		return fmt.Errorf("record #%d not found", id)
	}
	l, err := e.LayoutOf(id)
	if err != nil {
		return err
	}
	name := e.Decls.RecordName(id)

	// 1) alignment and size
	if l.Alignment <= 0 || l.Alignment&(l.Alignment-1) != 0 {
		return fmt.Errorf("%s: alignment %d is not a power of two", name, l.Alignment)
	}
	// 32-bit Microsoft layouts without a required alignment are not
	// re-rounded after virtual bases.
	if (l.ABI == layout.ABIItanium || l.RequiredAlignment != 0) && l.Size%l.Alignment != 0 {
		return fmt.Errorf("%s: size %d is not a multiple of alignment %d", name, l.Size, l.Alignment)
	}

	// 2) partial sizes
	if l.DataSize > l.Size {
		return fmt.Errorf("%s: data size %d exceeds size %d", name, l.DataSize, l.Size)
	}
	if l.NonVirtualSize > l.Size {
		return fmt.Errorf("%s: non-virtual size %d exceeds size %d", name, l.NonVirtualSize, l.Size)
	}

	// 3) member order; 4) members within the record
	if len(l.FieldOffsets) != len(rec.Fields) {
		return fmt.Errorf("%s: %d field offsets for %d fields", name, len(l.FieldOffsets), len(rec.Fields))
	}
	sizeBits := l.Size * layout.CharWidth
	prev := int64(0)
	for i, off := range l.FieldOffsets {
		f := &rec.Fields[i]
		if rec.IsUnion() && off != 0 {
			return fmt.Errorf("%s: union member %s at bit %d", name, fieldName(f, i), off)
		}
		if !rec.IsUnion() && off < prev {
			return fmt.Errorf("%s: member %s at bit %d precedes previous member at bit %d", name, fieldName(f, i), off, prev)
		}
		prev = off
		width, err := fieldWidth(e, f)
		if err != nil {
			return fmt.Errorf("%s: member %s: %w", name, fieldName(f, i), err)
		}
		if off < 0 || off+width > sizeBits {
			return fmt.Errorf("%s: member %s [%d, %d) exceeds %d bits", name, fieldName(f, i), off, off+width, sizeBits)
		}
	}

	for base, off := range l.Bases {
		if off < 0 || off > l.Size {
			return fmt.Errorf("%s: base %s at %d outside size %d", name, e.Decls.RecordName(base), off, l.Size)
		}
	}
	for vbase, info := range l.VBases {
		if info.Offset < 0 || info.Offset > l.Size {
			return fmt.Errorf("%s: virtual base %s at %d outside size %d", name, e.Decls.RecordName(vbase), info.Offset, l.Size)
		}
	}
	if l.HasVBPtr() && l.VBPtrOffset+e.Target.PtrSize > l.Size {
		return fmt.Errorf("%s: vbptr at %d exceeds size %d", name, l.VBPtrOffset, l.Size)
	}

	// 6) bitfield storage units
	if err := checkBitfieldUnits(e, rec, l, name); err != nil {
		return err
	}
	// 5) primary base
	if l.PrimaryBase != decl.NoRecordID {
		var off int64
		var found bool
		if l.PrimaryBaseIsVirtual {
			off, found = l.VBaseClassOffset(l.PrimaryBase)
		} else {
			off, found = l.BaseClassOffset(l.PrimaryBase)
		}
		if !found {
			return fmt.Errorf("%s: primary base %s has no offset", name, e.Decls.RecordName(l.PrimaryBase))
		}
		if off != 0 {
			return fmt.Errorf("%s: primary base %s at %d", name, e.Decls.RecordName(l.PrimaryBase), off)
		}
	}

	// 7) base alignment
	if !packs(e, rec) {
		if err := checkBaseAlignment(e, l, name); err != nil {
			return err
		}
	}

	// 8) distinct addresses for empty subobjects
	if l.ABI == layout.ABIItanium {
		w := &emptyWalker{e: e, seen: make(map[emptySlot]struct{})}
		if err := w.object(id, l, 0); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// CheckAll runs CheckLayoutInvariants over every record in the arena and
// returns the first violation.
func CheckAll(e *layout.Engine) error {
	for _, id := range e.Decls.Records() {
		if err := CheckLayoutInvariants(e, id); err != nil {
			return err
		}
	}
	return nil
}

func fieldWidth(e *layout.Engine, f *decl.Field) (int64, error) {
	if f.Bitfield {
		w, err := safecast.Conv[int64](f.Width)
		if err != nil {
			return 0, fmt.Errorf("width overflow: %w", err)
		}
		info, err := e.TypeInfoOf(f.Type)
		if err != nil {
			return 0, err
		}
		// Wide bitfields only occupy their declared type; the rest is padding.
		return min(w, info.Size*layout.CharWidth), nil
	}
	if t, ok := e.Decls.Lookup(f.Type); ok && t.Kind == decl.KindIncompleteArray {
		return 0, nil
	}
	info, err := e.TypeInfoOf(f.Type)
	if err != nil {
		return 0, err
	}
	return info.Size * layout.CharWidth, nil
}

func fieldName(f *decl.Field, i int) string {
	if f.Name != "" {
		return f.Name
	}
	return fmt.Sprintf("#%d", i)
}
