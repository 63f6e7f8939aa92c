package layout

import (
	"slices"

	"reclayout/internal/decl"
)

// emptySubobjectMap tracks the offsets of empty class subobjects placed so
// far inside the record being laid out, so that two subobjects of the same
// empty type never share an address.
type emptySubobjectMap struct {
	env   *buildEnv
	graph *subobjectGraph
	class decl.RecordID

	offsets             map[int64][]decl.RecordID
	maxEmptyClassOffset int64
	// sizeOfLargestEmptySubobject bounds the offsets worth recording: an
	// empty subobject that may conflict later always lives below it.
	sizeOfLargestEmptySubobject int64
}

func newEmptySubobjectMap(env *buildEnv, graph *subobjectGraph) *emptySubobjectMap {
	m := &emptySubobjectMap{
		env:     env,
		graph:   graph,
		class:   env.id,
		offsets: make(map[int64][]decl.RecordID, 4),
	}
	m.computeEmptySubobjectSizes()
	return m
}

func (m *emptySubobjectMap) emptySizeOf(rid decl.RecordID) int64 {
	l := m.env.layout(rid)
	if m.env.decls().IsEmpty(rid) {
		return l.Size
	}
	return l.SizeOfLargestEmptySubobject
}

func (m *emptySubobjectMap) computeEmptySubobjectSizes() {
	for _, b := range m.env.rec.Bases {
		m.sizeOfLargestEmptySubobject = max(m.sizeOfLargestEmptySubobject, m.emptySizeOf(b.Record))
	}
	for i := range m.env.fields {
		if rid := m.env.fields[i].baseClass; rid != decl.NoRecordID {
			m.sizeOfLargestEmptySubobject = max(m.sizeOfLargestEmptySubobject, m.emptySizeOf(rid))
		}
	}
}

func (m *emptySubobjectMap) anyEmptySubobjectsBeyondOffset(off int64) bool {
	return off <= m.maxEmptyClassOffset
}

func (m *emptySubobjectMap) canPlaceSubobjectAtOffset(rid decl.RecordID, off int64) bool {
	if !m.env.decls().IsEmpty(rid) {
		return true
	}
	return !slices.Contains(m.offsets[off], rid)
}

func (m *emptySubobjectMap) addSubobjectAtOffset(rid decl.RecordID, off int64) {
	if !m.env.decls().IsEmpty(rid) {
		return
	}
	if slices.Contains(m.offsets[off], rid) {
		return
	}
	m.offsets[off] = append(m.offsets[off], rid)
	m.maxEmptyClassOffset = max(m.maxEmptyClassOffset, off)
}

// fieldShape returns the by-value record of a field, or the record element
// type and total element count of a constant array field.
func (m *emptySubobjectMap) fieldShape(f *decl.Field) (class, elem decl.RecordID, count uint64) {
	a := m.env.decls()
	if rid, ok := a.AsRecord(f.Type); ok {
		return rid, decl.NoRecordID, 0
	}
	t, ok := a.Lookup(f.Type)
	if !ok || t.Kind != decl.KindArray {
		return decl.NoRecordID, decl.NoRecordID, 0
	}
	et, n := a.BaseElement(f.Type)
	if rid, ok := a.AsRecord(et); ok {
		return decl.NoRecordID, rid, n
	}
	return decl.NoRecordID, decl.NoRecordID, 0
}

func (m *emptySubobjectMap) canPlaceBaseSubobjectAtOffset(id subobjectID, off int64) bool {
	if !m.anyEmptySubobjectsBeyondOffset(off) {
		return true
	}
	info := m.graph.node(id)
	if !m.canPlaceSubobjectAtOffset(info.class, off) {
		return false
	}
	l := m.env.layout(info.class)
	for _, child := range info.bases {
		base := m.graph.node(child)
		if base.virtual {
			continue
		}
		if !m.canPlaceBaseSubobjectAtOffset(child, off+l.Bases[base.class]) {
			return false
		}
	}
	if pv := info.primaryVirtualBase; pv != noSubobject && m.graph.node(pv).derived == id {
		if !m.canPlaceBaseSubobjectAtOffset(pv, off) {
			return false
		}
	}
	rec := m.env.decls().MustRecord(info.class)
	for i := range rec.Fields {
		if rec.Fields[i].Bitfield {
			continue
		}
		if !m.canPlaceFieldSubobjectAtOffset(&rec.Fields[i], off+bitsToBytes(l.FieldOffsets[i])) {
			return false
		}
	}
	return true
}

func (m *emptySubobjectMap) updateEmptyBaseSubobjects(id subobjectID, off int64, placingEmptyBase bool) {
	if !placingEmptyBase && off >= m.sizeOfLargestEmptySubobject {
		return
	}
	info := m.graph.node(id)
	m.addSubobjectAtOffset(info.class, off)
	l := m.env.layout(info.class)
	for _, child := range info.bases {
		base := m.graph.node(child)
		if base.virtual {
			continue
		}
		m.updateEmptyBaseSubobjects(child, off+l.Bases[base.class], placingEmptyBase)
	}
	if pv := info.primaryVirtualBase; pv != noSubobject && m.graph.node(pv).derived == id {
		m.updateEmptyBaseSubobjects(pv, off, placingEmptyBase)
	}
	rec := m.env.decls().MustRecord(info.class)
	for i := range rec.Fields {
		if rec.Fields[i].Bitfield {
			continue
		}
		m.updateEmptyFieldSubobjects(&rec.Fields[i], off+bitsToBytes(l.FieldOffsets[i]))
	}
}

// canPlaceBaseAtOffset reports whether the base subobject fits at off and,
// if so, records its empty subobjects.
func (m *emptySubobjectMap) canPlaceBaseAtOffset(id subobjectID, off int64) bool {
	if m.sizeOfLargestEmptySubobject == 0 {
		return true
	}
	if !m.canPlaceBaseSubobjectAtOffset(id, off) {
		return false
	}
	m.updateEmptyBaseSubobjects(id, off, m.env.decls().IsEmpty(m.graph.node(id).class))
	return true
}

func (m *emptySubobjectMap) canPlaceFieldSubobjectInClass(rid, mostDerived decl.RecordID, off int64) bool {
	if !m.anyEmptySubobjectsBeyondOffset(off) {
		return true
	}
	if !m.canPlaceSubobjectAtOffset(rid, off) {
		return false
	}
	l := m.env.layout(rid)
	rec := m.env.decls().MustRecord(rid)
	for _, b := range rec.Bases {
		if b.Virtual {
			continue
		}
		if !m.canPlaceFieldSubobjectInClass(b.Record, mostDerived, off+l.Bases[b.Record]) {
			return false
		}
	}
	if rid == mostDerived {
		for _, vb := range m.env.decls().VirtualBases(rid) {
			if !m.canPlaceFieldSubobjectInClass(vb, mostDerived, off+l.VBases[vb].Offset) {
				return false
			}
		}
	}
	for i := range rec.Fields {
		if rec.Fields[i].Bitfield {
			continue
		}
		if !m.canPlaceFieldSubobjectAtOffset(&rec.Fields[i], off+bitsToBytes(l.FieldOffsets[i])) {
			return false
		}
	}
	return true
}

func (m *emptySubobjectMap) canPlaceFieldSubobjectAtOffset(f *decl.Field, off int64) bool {
	if !m.anyEmptySubobjectsBeyondOffset(off) {
		return true
	}
	class, elem, count := m.fieldShape(f)
	if class != decl.NoRecordID {
		return m.canPlaceFieldSubobjectInClass(class, class, off)
	}
	if elem == decl.NoRecordID {
		return true
	}
	size := m.env.layout(elem).Size
	for i, elemOff := uint64(0), off; i < count; i, elemOff = i+1, elemOff+size {
		if !m.anyEmptySubobjectsBeyondOffset(elemOff) {
			return true
		}
		if !m.canPlaceFieldSubobjectInClass(elem, elem, elemOff) {
			return false
		}
	}
	return true
}

// canPlaceFieldAtOffset reports whether the field fits at off and, if so,
// records its empty subobjects.
func (m *emptySubobjectMap) canPlaceFieldAtOffset(f *decl.Field, off int64) bool {
	if !m.canPlaceFieldSubobjectAtOffset(f, off) {
		return false
	}
	m.updateEmptyFieldSubobjects(f, off)
	return true
}

func (m *emptySubobjectMap) updateEmptyFieldSubobjectsInClass(rid, mostDerived decl.RecordID, off int64) {
	if off >= m.sizeOfLargestEmptySubobject {
		return
	}
	m.addSubobjectAtOffset(rid, off)
	l := m.env.layout(rid)
	rec := m.env.decls().MustRecord(rid)
	for _, b := range rec.Bases {
		if b.Virtual {
			continue
		}
		m.updateEmptyFieldSubobjectsInClass(b.Record, mostDerived, off+l.Bases[b.Record])
	}
	if rid == mostDerived {
		for _, vb := range m.env.decls().VirtualBases(rid) {
			m.updateEmptyFieldSubobjectsInClass(vb, mostDerived, off+l.VBases[vb].Offset)
		}
	}
	for i := range rec.Fields {
		if rec.Fields[i].Bitfield {
			continue
		}
		m.updateEmptyFieldSubobjects(&rec.Fields[i], off+bitsToBytes(l.FieldOffsets[i]))
	}
}

func (m *emptySubobjectMap) updateEmptyFieldSubobjects(f *decl.Field, off int64) {
	class, elem, count := m.fieldShape(f)
	if class != decl.NoRecordID {
		m.updateEmptyFieldSubobjectsInClass(class, class, off)
		return
	}
	if elem == decl.NoRecordID {
		return
	}
	size := m.env.layout(elem).Size
	for i, elemOff := uint64(0), off; i < count; i, elemOff = i+1, elemOff+size {
		if elemOff >= m.sizeOfLargestEmptySubobject {
			return
		}
		m.updateEmptyFieldSubobjectsInClass(elem, elem, elemOff)
	}
}
