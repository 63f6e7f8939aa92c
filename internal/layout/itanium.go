package layout

import (
	"fmt"

	"reclayout/internal/decl"
	"reclayout/internal/diag"
)

// itaniumBuilder lays out one record under the Itanium C++ ABI, or under the
// System V C rules when the engine runs in C mode. size and dataSize are
// kept in bits so bitfields can share bytes; everything else is in bytes.
type itaniumBuilder struct {
	env    *buildEnv
	target *Target
	decls  *decl.Arena

	// emptySubobjects and graph are nil for C records.
	emptySubobjects *emptySubobjectMap
	graph           *subobjectGraph

	size              int64
	dataSize          int64
	alignment         int64
	unpackedAlignment int64
	// paddedFieldSize is the largest end offset of any field, including
	// tail padding that the data size leaves out.
	paddedFieldSize int64

	fieldOffsets []int64

	packed   bool
	isUnion  bool
	isMac68k bool
	msStruct bool

	unfilledBitsInLastUnit      int64
	lastBitfieldStorageUnitSize int64
	maxFieldAlignment           int64

	nonVirtualSize      int64
	nonVirtualAlignment int64

	primaryBase          decl.RecordID
	primaryBaseIsVirtual bool
	hasOwnVFPtr          bool
	hasPackedField       bool

	bases  map[decl.RecordID]int64
	vbases map[decl.RecordID]VBaseInfo

	indirectPrimaryBases  map[decl.RecordID]struct{}
	firstNearlyEmptyVBase decl.RecordID
	visitedVirtualBases   map[decl.RecordID]struct{}
}

func newItaniumBuilder(env *buildEnv) *itaniumBuilder {
	return &itaniumBuilder{
		env:                  env,
		target:               env.target(),
		decls:                env.decls(),
		alignment:            1,
		unpackedAlignment:    1,
		fieldOffsets:         make([]int64, 0, len(env.fields)),
		bases:                make(map[decl.RecordID]int64, len(env.rec.Bases)),
		vbases:               make(map[decl.RecordID]VBaseInfo),
		indirectPrimaryBases: make(map[decl.RecordID]struct{}),
		visitedVirtualBases:  make(map[decl.RecordID]struct{}),
	}
}

func (b *itaniumBuilder) setSizeBytes(n int64)     { b.size = bytesToBits(n) }
func (b *itaniumBuilder) setDataSizeBytes(n int64) { b.dataSize = bytesToBits(n) }
func (b *itaniumBuilder) sizeBytes() int64         { return bitsToBytes(b.size) }
func (b *itaniumBuilder) dataSizeBytes() int64     { return bitsToBytes(b.dataSize) }

func (b *itaniumBuilder) updateAlignment(align, unpacked int64) {
	if b.isMac68k {
		return
	}
	b.alignment = max(b.alignment, align)
	b.unpackedAlignment = max(b.unpackedAlignment, unpacked)
}

func (b *itaniumBuilder) initializeLayout() {
	rec := b.env.rec
	b.isUnion = rec.IsUnion()
	b.msStruct = rec.Attrs.MsStruct
	b.packed = rec.Attrs.Packed
	b.maxFieldAlignment = b.target.DefaultMaxFieldAlign

	// mac68k supersedes both #pragma pack and aligned.
	if rec.Attrs.Mac68k {
		b.isMac68k = true
		b.maxFieldAlignment = 2
		b.alignment = 2
		return
	}
	if rec.Attrs.MaxFieldAlign != 0 {
		b.maxFieldAlignment = rec.Attrs.MaxFieldAlign
	}
	if rec.Attrs.Align != 0 {
		b.updateAlignment(rec.Attrs.Align, rec.Attrs.Align)
	}
}

func (b *itaniumBuilder) layoutC() {
	b.initializeLayout()
	b.layoutFields()
	b.finishLayout()
}

func (b *itaniumBuilder) layoutCXX() {
	b.initializeLayout()
	b.graph = newSubobjectGraph(b.env)
	b.emptySubobjects = newEmptySubobjectMap(b.env, b.graph)

	b.layoutNonVirtualBases()
	b.layoutFields()

	b.nonVirtualSize = bitsToBytes(alignTo(b.size, CharWidth))
	b.nonVirtualAlignment = b.alignment

	b.layoutVirtualBases(b.env.id)
	b.finishLayout()
}

func (b *itaniumBuilder) isNearlyEmpty(rid decl.RecordID) bool {
	if !b.decls.IsDynamic(rid) {
		return false
	}
	return b.env.layout(rid).NonVirtualSize == b.target.PtrSize
}

// collectIndirectPrimaryBases records the virtual primary bases of every
// base that has virtual bases.
func (b *itaniumBuilder) collectIndirectPrimaryBases(rid decl.RecordID, self bool) {
	if !self {
		if l := b.env.layout(rid); l.PrimaryBaseIsVirtual {
			b.indirectPrimaryBases[l.PrimaryBase] = struct{}{}
		}
	}
	for _, base := range b.decls.MustRecord(rid).Bases {
		if b.decls.NumVirtualBases(base.Record) > 0 {
			b.collectIndirectPrimaryBases(base.Record, false)
		}
	}
}

func (b *itaniumBuilder) selectPrimaryVBase(rid decl.RecordID) {
	for _, base := range b.decls.MustRecord(rid).Bases {
		if base.Virtual && b.isNearlyEmpty(base.Record) {
			if _, indirect := b.indirectPrimaryBases[base.Record]; !indirect {
				b.primaryBase = base.Record
				b.primaryBaseIsVirtual = true
				return
			}
			if b.firstNearlyEmptyVBase == decl.NoRecordID {
				b.firstNearlyEmptyVBase = base.Record
			}
		}
		b.selectPrimaryVBase(base.Record)
		if b.primaryBase != decl.NoRecordID {
			return
		}
	}
}

func (b *itaniumBuilder) determinePrimaryBase() {
	id := b.env.id
	if !b.decls.IsDynamic(id) {
		return
	}
	if b.decls.NumVirtualBases(id) > 0 {
		b.collectIndirectPrimaryBases(id, true)
	}

	// The first non-virtual dynamic base wins.
	for _, base := range b.env.rec.Bases {
		if !base.Virtual && b.decls.IsDynamic(base.Record) {
			b.primaryBase = base.Record
			b.primaryBaseIsVirtual = false
			return
		}
	}

	// Otherwise the first nearly empty virtual base that is not an
	// indirect primary base.
	if b.decls.NumVirtualBases(id) > 0 {
		b.selectPrimaryVBase(id)
		if b.primaryBase != decl.NoRecordID {
			return
		}
	}

	// Otherwise the first nearly empty virtual base at all.
	if b.firstNearlyEmptyVBase != decl.NoRecordID {
		b.primaryBase = b.firstNearlyEmptyVBase
		b.primaryBaseIsVirtual = true
	}
}

func (b *itaniumBuilder) ensureVTablePointerAlignment(unpackedAlign int64) {
	align := unpackedAlign
	if b.packed {
		align = 1
	}
	if b.maxFieldAlignment != 0 {
		align = min(align, b.maxFieldAlignment)
		unpackedAlign = min(unpackedAlign, b.maxFieldAlignment)
	}
	b.setSizeBytes(alignTo(b.sizeBytes(), align))
	b.updateAlignment(align, unpackedAlign)
}

func (b *itaniumBuilder) layoutNonVirtualBases() {
	b.determinePrimaryBase()

	switch {
	case b.primaryBase != decl.NoRecordID && b.primaryBaseIsVirtual:
		// A primary virtual base claimed by one of our bases is stolen.
		info := b.graph.virtualBases[b.primaryBase]
		b.graph.node(info).derived = noSubobject
		b.indirectPrimaryBases[b.primaryBase] = struct{}{}
		b.visitedVirtualBases[b.primaryBase] = struct{}{}
		b.layoutVirtualBase(info)
	case b.primaryBase != decl.NoRecordID:
		b.layoutNonVirtualBase(b.graph.nonVirtual[b.primaryBase])
	case b.decls.IsDynamic(b.env.id):
		b.ensureVTablePointerAlignment(b.target.PtrAlign)
		b.hasOwnVFPtr = true
		b.setSizeBytes(b.sizeBytes() + b.target.PtrSize)
		b.dataSize = b.size
	}

	for _, base := range b.env.rec.Bases {
		if base.Virtual {
			continue
		}
		// A non-virtual base may share its type with a virtual primary base.
		if base.Record == b.primaryBase && !b.primaryBaseIsVirtual {
			continue
		}
		b.layoutNonVirtualBase(b.graph.nonVirtual[base.Record])
	}
}

func (b *itaniumBuilder) layoutNonVirtualBase(id subobjectID) {
	off := b.layoutBase(id)
	b.bases[b.graph.node(id).class] = off
	b.addPrimaryVirtualBaseOffsets(id, off)
}

func (b *itaniumBuilder) addPrimaryVirtualBaseOffsets(id subobjectID, off int64) {
	info := b.graph.node(id)
	if b.decls.NumVirtualBases(info.class) == 0 {
		return
	}
	if pv := info.primaryVirtualBase; pv != noSubobject && b.graph.node(pv).derived == id {
		class := b.graph.node(pv).class
		if _, ok := b.vbases[class]; !ok {
			b.vbases[class] = VBaseInfo{Offset: off}
		}
		b.addPrimaryVirtualBaseOffsets(pv, off)
	}
	l := b.env.layout(info.class)
	for _, child := range info.bases {
		base := b.graph.node(child)
		if base.virtual {
			continue
		}
		b.addPrimaryVirtualBaseOffsets(child, off+l.Bases[base.class])
	}
}

func (b *itaniumBuilder) layoutVirtualBases(rid decl.RecordID) {
	primary, primaryIsVirtual := b.primaryBase, b.primaryBaseIsVirtual
	if rid != b.env.id {
		l := b.env.layout(rid)
		primary, primaryIsVirtual = l.PrimaryBase, l.PrimaryBaseIsVirtual
	}
	for _, base := range b.decls.MustRecord(rid).Bases {
		if base.Virtual && (primary != base.Record || !primaryIsVirtual) {
			if _, indirect := b.indirectPrimaryBases[base.Record]; !indirect {
				if _, seen := b.visitedVirtualBases[base.Record]; seen {
					continue
				}
				b.visitedVirtualBases[base.Record] = struct{}{}
				b.layoutVirtualBase(b.graph.virtualBases[base.Record])
			}
		}
		if b.decls.NumVirtualBases(base.Record) == 0 {
			continue
		}
		b.layoutVirtualBases(base.Record)
	}
}

func (b *itaniumBuilder) layoutVirtualBase(id subobjectID) {
	off := b.layoutBase(id)
	class := b.graph.node(id).class
	if _, ok := b.vbases[class]; !ok {
		b.vbases[class] = VBaseInfo{Offset: off}
	}
	b.addPrimaryVirtualBaseOffsets(id, off)
}

// layoutBase places a base subobject and returns its offset in bytes.
func (b *itaniumBuilder) layoutBase(id subobjectID) int64 {
	class := b.graph.node(id).class
	l := b.env.layout(class)
	empty := b.decls.IsEmpty(class)

	unpackedAlign := l.NonVirtualAlignment
	align := unpackedAlign
	if b.packed {
		align = 1
	}

	// An empty base goes at offset 0 whenever no other subobject of its
	// type is already there.
	if empty && b.emptySubobjects.canPlaceBaseAtOffset(id, 0) {
		b.size = max(b.size, bytesToBits(l.Size))
		b.updateAlignment(align, unpackedAlign)
		return 0
	}

	if b.maxFieldAlignment != 0 {
		align = min(align, b.maxFieldAlignment)
		unpackedAlign = min(unpackedAlign, b.maxFieldAlignment)
	}

	off := alignTo(b.dataSizeBytes(), align)
	for !b.emptySubobjects.canPlaceBaseAtOffset(id, off) {
		off += align
	}

	if !empty {
		b.setDataSizeBytes(off + l.NonVirtualSize)
		b.size = max(b.size, b.dataSize)
	} else {
		b.size = max(b.size, bytesToBits(off+l.Size))
	}
	b.updateAlignment(align, unpackedAlign)
	return off
}

func (b *itaniumBuilder) layoutFields() {
	for i := range b.env.fields {
		b.layoutField(i)
	}
}

func (b *itaniumBuilder) layoutField(i int) {
	fi := &b.env.fields[i]
	f := fi.decl
	if f.Bitfield {
		b.layoutBitField(i)
		return
	}

	unpaddedFieldOffset := b.dataSize - b.unfilledBitsInLastUnit
	b.unfilledBitsInLastUnit = 0
	b.lastBitfieldStorageUnitSize = 0

	fieldOffset := b.dataSizeBytes()
	if b.isUnion {
		fieldOffset = 0
	}
	fieldSize := fi.info.Size
	fieldAlign := fi.info.Align

	// ms_struct aligns builtins to their size.
	if b.msStruct && fi.builtin != decl.BuiltinInvalid {
		if s, ok := b.target.Scalar(fi.builtin); ok && s.Size > fieldAlign && isPowerOf2OrZero(s.Size) {
			fieldAlign = s.Size
		}
	}

	fieldPacked := f.Packed
	unpackedNonPOD := false
	if b.packed && !fieldPacked {
		class := fi.baseClass
		fieldPacked = class == decl.NoRecordID ||
			b.decls.IsPOD(class) ||
			b.decls.MustRecord(class).Attrs.Packed ||
			b.target.PacksNonPODMembers
		unpackedNonPOD = !fieldPacked
	}

	originalFieldAlign := fieldAlign
	unpackedFieldAlign := fieldAlign
	packedFieldAlign := int64(1)
	unpackedFieldOffset := fieldOffset

	packedFieldAlign = max(packedFieldAlign, f.Align)
	unpackedFieldAlign = max(unpackedFieldAlign, f.Align)

	// #pragma pack overrides aligned.
	if b.maxFieldAlignment != 0 {
		packedFieldAlign = min(packedFieldAlign, b.maxFieldAlignment)
		unpackedFieldAlign = min(unpackedFieldAlign, b.maxFieldAlignment)
	}
	fieldAlign = unpackedFieldAlign
	if fieldPacked {
		fieldAlign = packedFieldAlign
	}
	if unpackedNonPOD && packedFieldAlign < unpackedFieldAlign {
		b.env.warn(diag.LayPackedNonPOD, b.env.fieldName(i),
			fmt.Sprintf("'%s' will not be packed, its type '%s' is not POD", b.env.fieldName(i), b.decls.RecordName(fi.baseClass)))
	}

	fieldOffset = alignTo(fieldOffset, fieldAlign)
	unpackedFieldOffset = alignTo(unpackedFieldOffset, unpackedFieldAlign)

	if !b.isUnion && b.emptySubobjects != nil {
		for !b.emptySubobjects.canPlaceFieldAtOffset(f, fieldOffset) {
			// Try offset 0 for an empty field, then dsize onwards.
			if fieldOffset == 0 && b.dataSize != 0 {
				fieldOffset = alignTo(b.dataSizeBytes(), fieldAlign)
			} else {
				fieldOffset += fieldAlign
			}
		}
	}

	b.fieldOffsets = append(b.fieldOffsets, bytesToBits(fieldOffset))
	b.checkFieldPadding(i, bytesToBits(fieldOffset), unpaddedFieldOffset, bytesToBits(unpackedFieldOffset), fieldPacked)

	if b.isUnion {
		b.dataSize = max(b.dataSize, bytesToBits(fieldSize))
	} else {
		b.setDataSizeBytes(fieldOffset + fieldSize)
	}
	b.paddedFieldSize = max(b.paddedFieldSize, fieldOffset+fieldSize)
	b.size = max(b.size, b.dataSize)

	b.updateAlignment(fieldAlign, unpackedFieldAlign)

	if (b.packed || b.maxFieldAlignment != 0) && fieldAlign < originalFieldAlign && fi.class != decl.NoRecordID &&
		fieldOffset%originalFieldAlign != 0 {
		b.env.warn(diag.LayUnalignedAccess, b.env.fieldName(i),
			fmt.Sprintf("field '%s' within '%s' is less aligned than '%s' and is usually due to '%s' being packed, which can lead to unaligned accesses",
				b.env.fieldName(i), b.env.name(), b.decls.RecordName(fi.class), b.env.name()))
	}
}

func (b *itaniumBuilder) tagWord() string {
	if b.env.rec.Tag == decl.TagClass {
		return "class"
	}
	return "struct"
}

func padAmount(bits int64) (int64, string) {
	if bits%CharWidth == 0 {
		n := bits / CharWidth
		return n, plural(n, "byte")
	}
	return bits, plural(bits, "bit")
}

// checkFieldPadding reports padding inserted before field i and notes
// whether packing moved it.
func (b *itaniumBuilder) checkFieldPadding(i int, offset, unpaddedOffset, unpackedOffset int64, packed bool) {
	f := b.env.fields[i].decl
	if !b.isUnion && offset > unpaddedOffset {
		n, unit := padAmount(offset - unpaddedOffset)
		switch {
		case f.HasIdentifier():
			code := diag.LayPaddedField
			if f.Bitfield {
				code = diag.LayPaddedBitfield
			}
			b.env.warn(code, f.Name, fmt.Sprintf("padding %s '%s' with %d %s to align '%s'", b.tagWord(), b.env.name(), n, unit, f.Name))
		default:
			what := "anonymous field"
			if f.Bitfield {
				what = "anonymous bit-field"
			}
			b.env.warn(diag.LayPaddedAnonField, b.env.fieldName(i), fmt.Sprintf("padding %s '%s' with %d %s to align %s", b.tagWord(), b.env.name(), n, unit, what))
		}
	}
	if packed && offset != unpackedOffset {
		b.hasPackedField = true
	}
}

func (b *itaniumBuilder) finishLayout() {
	// C++ objects have a nonzero size, except for records whose only
	// members are zero-length arrays (GCC compatible).
	if b.env.cxx() && b.size == 0 && b.decls.IsEmpty(b.env.id) {
		b.setSizeBytes(1)
	}
	b.size = max(b.size, bytesToBits(b.paddedFieldSize))

	unpaddedSize := b.size - b.unfilledBitsInLastUnit
	unpackedSize := alignTo(b.size, bytesToBits(b.unpackedAlignment))
	b.size = alignTo(b.size, bytesToBits(b.alignment))

	if b.size > unpaddedSize {
		n, unit := padAmount(b.size - unpaddedSize)
		b.env.warn(diag.LayPaddedRecord, "", fmt.Sprintf("padding size of '%s' with %d %s to alignment boundary", b.env.name(), n, unit))
	}
	if b.packed && b.unpackedAlignment <= b.alignment && unpackedSize == b.size && !b.hasPackedField &&
		(!b.env.cxx() || b.decls.IsPOD(b.env.id)) {
		b.env.warn(diag.LayUnnecessaryPacked, "", fmt.Sprintf("packed attribute is unnecessary for '%s'", b.env.name()))
	}
}

func (b *itaniumBuilder) result() *RecordLayout {
	l := &RecordLayout{
		ABI:                 ABIItanium,
		Size:                b.sizeBytes(),
		Alignment:           b.alignment,
		RequiredAlignment:   b.alignment,
		FieldOffsets:        b.fieldOffsets,
		VBPtrOffset:         -1,
		NonVirtualAlignment: b.alignment,
	}
	if !b.env.cxx() {
		l.DataSize = l.Size
		l.NonVirtualSize = l.Size
		return l
	}

	// POD types keep their tail padding to themselves (C++03 rule).
	skipTailPadding := b.decls.IsPOD(b.env.id)
	l.DataSize = b.dataSizeBytes()
	l.NonVirtualSize = b.nonVirtualSize
	if skipTailPadding {
		l.DataSize = l.Size
		l.NonVirtualSize = l.Size
	}
	l.NonVirtualAlignment = b.nonVirtualAlignment
	l.SizeOfLargestEmptySubobject = b.emptySubobjects.sizeOfLargestEmptySubobject
	l.PrimaryBase = b.primaryBase
	l.PrimaryBaseIsVirtual = b.primaryBaseIsVirtual
	l.HasOwnVFPtr = b.hasOwnVFPtr
	l.HasExtendableVFPtr = b.decls.IsDynamic(b.env.id)
	l.Bases = b.bases
	l.VBases = b.vbases
	return l
}
