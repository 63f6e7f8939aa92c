package layout

import (
	"fmt"

	"reclayout/internal/decl"
	"reclayout/internal/diag"
)

type elementInfo struct {
	size      int64
	alignment int64
}

// microsoftBuilder lays out one record the way MSVC does. All quantities
// are in bytes except fieldOffsets and remainingBitsInField.
type microsoftBuilder struct {
	env    *buildEnv
	target *Target
	decls  *decl.Arena

	size              int64
	nonVirtualSize    int64
	dataSize          int64
	alignment         int64
	maxFieldAlignment int64
	// requiredAlignment comes from __declspec(align) on the record, its
	// fields or bases. It starts at 0 on 32-bit targets so that finalize
	// skips the rounding step there.
	requiredAlignment   int64
	currentBitfieldSize int64
	vbptrOffset         int64
	minEmptyStructSize  int64
	pointerInfo         elementInfo

	primaryBase     decl.RecordID
	sharedVBPtrBase decl.RecordID
	fieldOffsets    []int64
	bases           map[decl.RecordID]int64
	vbases          map[decl.RecordID]VBaseInfo

	remainingBitsInField int64

	isUnion                         bool
	lastFieldIsNonZeroWidthBitfield bool
	hasOwnVFPtr                     bool
	hasVBPtr                        bool
	endsWithZeroSizedObject         bool
	leadsWithZeroSizedBase          bool
}

func newMicrosoftBuilder(env *buildEnv) *microsoftBuilder {
	return &microsoftBuilder{
		env:          env,
		target:       env.target(),
		decls:        env.decls(),
		fieldOffsets: make([]int64, 0, len(env.fields)),
		bases:        make(map[decl.RecordID]int64, len(env.rec.Bases)),
		vbases:       make(map[decl.RecordID]VBaseInfo),
	}
}

func (b *microsoftBuilder) cLayout() {
	// Zero-sized C records have size 4.
	b.minEmptyStructSize = 4
	b.initializeLayout()
	b.layoutFields()
	b.size = alignTo(b.size, b.alignment)
	b.dataSize = b.size
	b.requiredAlignment = max(b.requiredAlignment, b.env.rec.Attrs.Align)
	b.finalizeLayout()
}

func (b *microsoftBuilder) cxxLayout() {
	b.minEmptyStructSize = 1
	b.initializeLayout()
	b.initializeCXXLayout()
	b.layoutNonVirtualBases()
	b.layoutFields()
	b.injectVBPtr()
	b.injectVFPtr()
	if b.hasOwnVFPtr || (b.hasVBPtr && b.sharedVBPtrBase == decl.NoRecordID) {
		b.alignment = max(b.alignment, b.pointerInfo.alignment)
	}
	rounding := b.alignment
	if b.maxFieldAlignment != 0 {
		rounding = max(rounding, b.maxFieldAlignment)
	}
	b.size = alignTo(b.size, rounding)
	b.nonVirtualSize = b.size
	b.requiredAlignment = max(b.requiredAlignment, b.env.rec.Attrs.Align)
	b.layoutVirtualBases()
	b.finalizeLayout()
}

func (b *microsoftBuilder) initializeLayout() {
	rec := b.env.rec
	b.isUnion = rec.IsUnion()
	b.size = 0
	b.alignment = 1
	// In 64-bit mode the size is always rounded after the virtual bases.
	b.requiredAlignment = 0
	if b.target.Is64Bit() {
		b.requiredAlignment = 1
	}
	b.maxFieldAlignment = b.target.DefaultMaxFieldAlign
	// #pragma pack is ignored when it exceeds the pointer width.
	if pack := rec.Attrs.MaxFieldAlign; pack != 0 && pack <= b.target.PtrSize {
		b.maxFieldAlignment = pack
	}
	if rec.Attrs.Packed {
		b.maxFieldAlignment = 1
	}
}

func (b *microsoftBuilder) initializeCXXLayout() {
	b.pointerInfo = elementInfo{size: b.target.PtrSize, alignment: b.target.PtrAlign}
	if b.maxFieldAlignment != 0 {
		b.pointerInfo.alignment = min(b.pointerInfo.alignment, b.maxFieldAlignment)
	}
}

func (b *microsoftBuilder) baseElementInfo(l *RecordLayout) elementInfo {
	info := elementInfo{alignment: l.Alignment}
	if b.maxFieldAlignment != 0 {
		info.alignment = min(info.alignment, b.maxFieldAlignment)
	}
	b.endsWithZeroSizedObject = l.EndsWithZeroSizedObject
	// The required alignment survives #pragma pack but does not feed the
	// record alignment yet.
	b.alignment = max(b.alignment, info.alignment)
	b.requiredAlignment = max(b.requiredAlignment, l.RequiredAlignment)
	info.alignment = max(info.alignment, l.RequiredAlignment)
	info.size = l.NonVirtualSize
	return info
}

func (b *microsoftBuilder) fieldElementInfo(i int) elementInfo {
	fi := &b.env.fields[i]
	f := fi.decl
	info := elementInfo{size: fi.info.Size, alignment: fi.info.Align}

	fieldRequired := f.Align
	if fi.info.AlignRequired {
		fieldRequired = max(fieldRequired, fi.info.Align)
	}
	if f.Bitfield {
		// __declspec(align) on a bitfield raises its alignment, not the
		// required alignment.
		info.alignment = max(info.alignment, fieldRequired)
	} else {
		if fi.baseClass != decl.NoRecordID {
			l := b.env.layout(fi.baseClass)
			b.endsWithZeroSizedObject = l.EndsWithZeroSizedObject
			fieldRequired = max(fieldRequired, l.RequiredAlignment)
		}
		b.requiredAlignment = max(b.requiredAlignment, fieldRequired)
	}
	if b.maxFieldAlignment != 0 {
		info.alignment = min(info.alignment, b.maxFieldAlignment)
	}
	if f.Packed {
		info.alignment = 1
	}
	info.alignment = max(info.alignment, fieldRequired)
	return info
}

func (b *microsoftBuilder) usesEBO() bool {
	return b.env.cxx() && b.env.rec.Attrs.EmptyBases
}

func (b *microsoftBuilder) layoutNonVirtualBases() {
	rec := b.env.rec
	var previous *RecordLayout
	hasPolymorphicBase := false

	// Bases with an extendable vfptr go first; the first of them is primary.
	for _, base := range rec.Bases {
		l := b.env.layout(base.Record)
		hasPolymorphicBase = hasPolymorphicBase || b.decls.IsPolymorphic(base.Record)
		if base.Virtual {
			b.hasVBPtr = true
			continue
		}
		if b.sharedVBPtrBase == decl.NoRecordID && l.HasVBPtr() {
			b.sharedVBPtrBase = base.Record
			b.hasVBPtr = true
		}
		if !l.HasExtendableVFPtr {
			continue
		}
		if b.primaryBase == decl.NoRecordID {
			b.primaryBase = base.Record
			b.leadsWithZeroSizedBase = l.LeadsWithZeroSizedBase
		}
		b.layoutNonVirtualBase(base.Record, l, &previous)
	}

	if b.decls.IsPolymorphic(b.env.id) {
		switch {
		case !hasPolymorphicBase:
			b.hasOwnVFPtr = true
		case b.primaryBase == decl.NoRecordID:
			// A new vfptr is needed only for methods that add vftable slots.
			for i := range rec.Methods {
				if m := &rec.Methods[i]; m.IsVirtual() && len(m.Overrides) == 0 {
					b.hasOwnVFPtr = true
					break
				}
			}
		}
	}

	checkLeading := b.primaryBase == decl.NoRecordID
	for _, base := range rec.Bases {
		if base.Virtual {
			continue
		}
		l := b.env.layout(base.Record)
		if l.HasExtendableVFPtr {
			b.vbptrOffset = b.bases[base.Record] + l.NonVirtualSize
			continue
		}
		if checkLeading {
			checkLeading = false
			b.leadsWithZeroSizedBase = l.LeadsWithZeroSizedBase
		}
		b.layoutNonVirtualBase(base.Record, l, &previous)
		b.vbptrOffset = b.bases[base.Record] + l.NonVirtualSize
	}

	switch {
	case !b.hasVBPtr:
		b.vbptrOffset = -1
	case b.sharedVBPtrBase != decl.NoRecordID:
		b.vbptrOffset = b.bases[b.sharedVBPtrBase] + b.env.layout(b.sharedVBPtrBase).VBPtrOffset
	}
}

func (b *microsoftBuilder) layoutNonVirtualBase(base decl.RecordID, l *RecordLayout, previous **RecordLayout) {
	ebo := b.usesEBO()
	// A byte separates a base ending in a zero-sized object from one
	// leading with a zero-sized base, unless empty_bases is in effect.
	if *previous != nil && (*previous).EndsWithZeroSizedObject && l.LeadsWithZeroSizedBase && !ebo {
		b.size++
	}
	info := b.baseElementInfo(l)
	var off int64
	if ebo && b.decls.IsEmpty(base) && l.NonVirtualSize == 0 {
		off = 0
	} else {
		b.size = alignTo(b.size, info.alignment)
		off = b.size
	}
	b.bases[base] = off
	b.size += l.NonVirtualSize
	b.dataSize = b.size
	*previous = l
}

func (b *microsoftBuilder) layoutFields() {
	b.lastFieldIsNonZeroWidthBitfield = false
	for i := range b.env.fields {
		b.layoutField(i)
	}
}

func (b *microsoftBuilder) layoutField(i int) {
	if b.env.fields[i].decl.Bitfield {
		b.layoutBitField(i)
		return
	}
	b.lastFieldIsNonZeroWidthBitfield = false
	info := b.fieldElementInfo(i)
	b.alignment = max(b.alignment, info.alignment)
	var off int64
	if !b.isUnion {
		off = alignTo(b.size, info.alignment)
	}
	b.placeFieldAtOffset(off)
	b.dataSize = max(b.dataSize, off+info.size)
	b.size = max(b.size, off+info.size)
}

func (b *microsoftBuilder) placeFieldAtOffset(off int64) {
	b.fieldOffsets = append(b.fieldOffsets, bytesToBits(off))
}

func (b *microsoftBuilder) layoutBitField(i int) {
	f := b.env.fields[i].decl
	width := int64(f.Width)
	if width == 0 {
		b.layoutZeroWidthBitField(i)
		return
	}
	info := b.fieldElementInfo(i)
	// MSVC rejects oversized bitfields; clamp so layout can proceed.
	if limit := bytesToBits(info.size); width > limit {
		b.env.warn(diag.LayBitfieldClamped, b.env.fieldName(i),
			fmt.Sprintf("width of bit-field '%s' (%d bits) exceeds the width of its type (%d bits)", b.env.fieldName(i), width, limit))
		width = limit
	}
	// Bitfields share an allocation only when their types have equal size.
	if !b.isUnion && b.lastFieldIsNonZeroWidthBitfield && b.currentBitfieldSize == info.size && width <= b.remainingBitsInField {
		b.fieldOffsets = append(b.fieldOffsets, bytesToBits(b.size)-b.remainingBitsInField)
		b.remainingBitsInField -= width
		return
	}
	b.lastFieldIsNonZeroWidthBitfield = true
	b.currentBitfieldSize = info.size
	if b.isUnion {
		b.placeFieldAtOffset(0)
		b.size = max(b.size, info.size)
	} else {
		off := alignTo(b.size, info.alignment)
		b.placeFieldAtOffset(off)
		b.size = off + info.size
		b.alignment = max(b.alignment, info.alignment)
		b.remainingBitsInField = bytesToBits(info.size) - width
	}
	b.dataSize = b.size
}

func (b *microsoftBuilder) layoutZeroWidthBitField(i int) {
	// Zero-width bitfields only matter right after a non-zero-width one.
	if !b.lastFieldIsNonZeroWidthBitfield {
		if b.isUnion {
			b.placeFieldAtOffset(0)
		} else {
			b.placeFieldAtOffset(b.size)
		}
		return
	}
	b.lastFieldIsNonZeroWidthBitfield = false
	info := b.fieldElementInfo(i)
	if b.isUnion {
		b.placeFieldAtOffset(0)
		b.size = max(b.size, info.size)
	} else {
		off := alignTo(b.size, info.alignment)
		b.placeFieldAtOffset(off)
		b.size = off
		b.alignment = max(b.alignment, info.alignment)
	}
	b.dataSize = b.size
}

// injectVBPtr inserts the vbptr after the non-virtual bases and shifts the
// fields and later bases down.
func (b *microsoftBuilder) injectVBPtr() {
	if !b.hasVBPtr || b.sharedVBPtrBase != decl.NoRecordID {
		return
	}
	site := b.vbptrOffset
	b.vbptrOffset = alignTo(b.vbptrOffset, b.pointerInfo.alignment)
	fieldStart := b.vbptrOffset + b.pointerInfo.size
	shift := alignTo(fieldStart-site, max(b.requiredAlignment, b.alignment))
	b.size += shift
	for i := range b.fieldOffsets {
		b.fieldOffsets[i] += bytesToBits(shift)
	}
	for base, off := range b.bases {
		if off >= site {
			b.bases[base] = off + shift
		}
	}
}

// injectVFPtr inserts the vfptr at offset 0 and shifts everything down.
func (b *microsoftBuilder) injectVFPtr() {
	if !b.hasOwnVFPtr {
		return
	}
	shift := alignTo(b.pointerInfo.size, max(b.requiredAlignment, b.alignment))
	if b.hasVBPtr {
		b.vbptrOffset += shift
	}
	b.size += shift
	for i := range b.fieldOffsets {
		b.fieldOffsets[i] += bytesToBits(shift)
	}
	for base, off := range b.bases {
		b.bases[base] = off + shift
	}
}

// vtorDispSize is the size of a vtordisp slot on every target.
const vtorDispSize = 4

func (b *microsoftBuilder) layoutVirtualBases() {
	if !b.hasVBPtr {
		return
	}
	vtorDispAlignment := int64(vtorDispSize)
	if b.maxFieldAlignment != 0 {
		vtorDispAlignment = min(vtorDispAlignment, b.maxFieldAlignment)
	}
	vbases := b.decls.VirtualBases(b.env.id)
	for _, vb := range vbases {
		b.requiredAlignment = max(b.requiredAlignment, b.env.layout(vb).RequiredAlignment)
	}
	vtorDispAlignment = max(vtorDispAlignment, b.requiredAlignment)

	hasVtorDisp := b.computeVtorDispSet()
	ebo := b.usesEBO()
	var previous *RecordLayout
	for _, vb := range vbases {
		l := b.env.layout(vb)
		_, vtordisp := hasVtorDisp[vb]
		// Zero-sized neighbours and vtordisps are separated by 4 bytes
		// rounded up to the required alignment.
		if (previous != nil && previous.EndsWithZeroSizedObject && l.LeadsWithZeroSizedBase && !ebo) || vtordisp {
			b.size = alignTo(b.size, vtorDispAlignment) + vtorDispSize
			b.alignment = max(b.alignment, vtorDispAlignment)
		}
		info := b.baseElementInfo(l)
		off := alignTo(b.size, info.alignment)
		b.vbases[vb] = VBaseInfo{Offset: off, HasVtorDisp: vtordisp}
		b.size = off + l.NonVirtualSize
		previous = l
	}
}

func (b *microsoftBuilder) finalizeLayout() {
	b.dataSize = b.size
	if b.requiredAlignment != 0 {
		b.alignment = max(b.alignment, b.requiredAlignment)
		rounding := b.alignment
		if b.maxFieldAlignment != 0 {
			rounding = max(rounding, b.maxFieldAlignment)
		}
		rounding = max(rounding, b.requiredAlignment)
		b.size = alignTo(b.size, rounding)
	}
	if b.size == 0 {
		if !b.usesEBO() || !b.decls.IsEmpty(b.env.id) {
			b.endsWithZeroSizedObject = true
			b.leadsWithZeroSizedBase = true
		}
		// A zero-sized record takes its alignment as size once
		// __declspec(align) is involved.
		if b.requiredAlignment >= b.minEmptyStructSize {
			b.size = b.alignment
		} else {
			b.size = b.minEmptyStructSize
		}
	}
}

func (b *microsoftBuilder) result() *RecordLayout {
	l := &RecordLayout{
		ABI:                 ABIMicrosoft,
		Size:                b.size,
		Alignment:           b.alignment,
		RequiredAlignment:   b.requiredAlignment,
		FieldOffsets:        b.fieldOffsets,
		NonVirtualAlignment: b.alignment,
		VBPtrOffset:         -1,
	}
	if !b.env.cxx() {
		l.DataSize = b.size
		l.NonVirtualSize = b.size
		return l
	}
	l.DataSize = b.dataSize
	l.NonVirtualSize = b.nonVirtualSize
	l.PrimaryBase = b.primaryBase
	l.HasOwnVFPtr = b.hasOwnVFPtr
	l.HasExtendableVFPtr = b.hasOwnVFPtr || b.primaryBase != decl.NoRecordID
	l.VBPtrOffset = b.vbptrOffset
	if !b.hasVBPtr {
		l.VBPtrOffset = -1
	}
	l.SharedVBPtrBase = b.sharedVBPtrBase
	l.EndsWithZeroSizedObject = b.endsWithZeroSizedObject
	l.LeadsWithZeroSizedBase = b.leadsWithZeroSizedBase
	l.Bases = b.bases
	l.VBases = b.vbases
	return l
}
