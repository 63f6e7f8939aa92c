package decl

// classProps caches C++ class properties derived from the base graph.
type classProps struct {
	polymorphic bool
	dynamic     bool
	empty       bool
	pod         bool
	vbases      []RecordID
}

// IsPolymorphic reports whether the class declares or inherits a virtual function.
func (a *Arena) IsPolymorphic(id RecordID) bool { return a.propsOf(id).polymorphic }

// IsDynamic reports whether the class needs a vtable: it is polymorphic or
// has at least one virtual base.
func (a *Arena) IsDynamic(id RecordID) bool { return a.propsOf(id).dynamic }

// IsEmpty reports whether the class is empty in the C++ sense: no data
// members other than zero-width bitfields, no virtual functions, no virtual
// bases and only empty bases.
func (a *Arena) IsEmpty(id RecordID) bool { return a.propsOf(id).empty }

// IsPOD reports whether the class is POD for the purpose of layout
// (C++03 [class]p4). C records are always POD.
func (a *Arena) IsPOD(id RecordID) bool { return a.propsOf(id).pod }

// VirtualBases returns every direct and indirect virtual base of the class.
// For each direct base in order, its own virtual bases come first, then the
// base itself if it is virtual. The returned slice must not be modified.
func (a *Arena) VirtualBases(id RecordID) []RecordID { return a.propsOf(id).vbases }

// NumVirtualBases returns len(VirtualBases(id)).
func (a *Arena) NumVirtualBases(id RecordID) int { return len(a.propsOf(id).vbases) }

// HasVirtualMethods reports whether the class itself declares a virtual function.
func (a *Arena) HasVirtualMethods(id RecordID) bool {
	r, ok := a.Record(id)
	if !ok {
		return false
	}
	for i := range r.Methods {
		if r.Methods[i].IsVirtual() {
			return true
		}
	}
	return false
}

func (a *Arena) propsOf(id RecordID) *classProps {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.props == nil {
		a.props = make(map[RecordID]*classProps, len(a.records))
	}
	return a.computeProps(id, make(map[RecordID]struct{}, 8))
}

// computeProps must run with a.mu held. Inheritance cycles are invalid
// input; a record met again while in progress contributes zero properties.
func (a *Arena) computeProps(id RecordID, visiting map[RecordID]struct{}) *classProps {
	if p, ok := a.props[id]; ok {
		return p
	}
	r, ok := a.Record(id)
	if !ok {
		return &classProps{}
	}
	if _, busy := visiting[id]; busy {
		return &classProps{}
	}
	visiting[id] = struct{}{}
	defer delete(visiting, id)

	p := &classProps{empty: true, pod: true}
	if len(r.Bases) > 0 || r.HasUserDeclaredCtorOrDtor() {
		p.pod = false
	}
	for i := range r.Methods {
		if r.Methods[i].IsVirtual() {
			p.polymorphic = true
			p.empty = false
			p.pod = false
			break
		}
	}

	seen := make(map[RecordID]struct{}, 4)
	for _, b := range r.Bases {
		bp := a.computeProps(b.Record, visiting)
		if bp.polymorphic {
			p.polymorphic = true
		}
		if !bp.empty {
			p.empty = false
		}
		for _, vb := range bp.vbases {
			if _, dup := seen[vb]; !dup {
				seen[vb] = struct{}{}
				p.vbases = append(p.vbases, vb)
			}
		}
		if b.Virtual {
			p.empty = false
			if _, dup := seen[b.Record]; !dup {
				seen[b.Record] = struct{}{}
				p.vbases = append(p.vbases, b.Record)
			}
		}
	}
	p.dynamic = p.polymorphic || len(p.vbases) > 0

	for i := range r.Fields {
		f := &r.Fields[i]
		if !f.IsZeroWidthBitfield() {
			p.empty = false
		}
		if f.Access != AccessPublic {
			p.pod = false
		}
		if !p.pod {
			continue
		}
		t, ok := a.Lookup(f.Type)
		if ok && t.Kind == KindReference {
			p.pod = false
			continue
		}
		elem, _ := a.BaseElement(f.Type)
		if rid, ok := a.AsRecord(elem); ok && !a.computeProps(rid, visiting).pod {
			p.pod = false
		}
	}

	a.props[id] = p
	return p
}
