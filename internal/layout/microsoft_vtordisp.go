package layout

import "reclayout/internal/decl"

// computeVtorDispSet returns the virtual bases that get a vtordisp slot
// in front of them.
func (b *microsoftBuilder) computeVtorDispSet() map[decl.RecordID]struct{} {
	rec := b.env.rec
	set := make(map[decl.RecordID]struct{}, 2)
	vbases := b.decls.VirtualBases(b.env.id)

	// vtordisp(2): every virtual base with a vftable.
	if rec.Attrs.VtorDisp == decl.VtorDispForVFTable {
		for _, vb := range vbases {
			if b.env.layout(vb).HasExtendableVFPtr {
				set[vb] = struct{}{}
			}
		}
		return set
	}

	// Vtordisps required by a direct base are inherited.
	for _, base := range rec.Bases {
		for vb, info := range b.env.layout(base.Record).VBases {
			if info.HasVtorDisp {
				set[vb] = struct{}{}
			}
		}
	}

	// No new vtordisps without a user-declared ctor or dtor, or under vtordisp(0).
	if !rec.HasUserDeclaredCtorOrDtor() || rec.Attrs.VtorDisp == decl.VtorDispNever {
		return set
	}

	// vtordisp(1): a virtual base needs one when it is, or contains as a
	// non-virtual base, a class that introduced a method we override.
	overridden := b.basesWithOverriddenMethods()
	for _, vb := range vbases {
		if _, ok := set[vb]; ok {
			continue
		}
		if b.requiresVtorDisp(overridden, vb, make(map[decl.RecordID]struct{}, 4)) {
			set[vb] = struct{}{}
		}
	}
	return set
}

// basesWithOverriddenMethods walks the override chains of the record's own
// virtual methods, skipping destructors and pure virtuals, and collects the
// classes where each chain starts.
func (b *microsoftBuilder) basesWithOverriddenMethods() map[decl.RecordID]struct{} {
	out := make(map[decl.RecordID]struct{}, 2)
	rec := b.env.rec
	work := make([]decl.MethodRef, 0, len(rec.Methods))
	for i := range rec.Methods {
		m := &rec.Methods[i]
		if m.IsVirtual() && !m.Destructor && !m.Pure {
			work = append(work, decl.MethodRef{Record: b.env.id, Index: i})
		}
	}
	seen := make(map[decl.MethodRef]struct{}, len(work))
	for len(work) > 0 {
		ref := work[len(work)-1]
		work = work[:len(work)-1]
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		owner, ok := b.decls.Record(ref.Record)
		if !ok || ref.Index < 0 || ref.Index >= len(owner.Methods) {
			continue
		}
		m := &owner.Methods[ref.Index]
		if len(m.Overrides) == 0 {
			out[ref.Record] = struct{}{}
			continue
		}
		work = append(work, m.Overrides...)
	}
	return out
}

func (b *microsoftBuilder) requiresVtorDisp(overridden map[decl.RecordID]struct{}, rid decl.RecordID, visiting map[decl.RecordID]struct{}) bool {
	if _, ok := overridden[rid]; ok {
		return true
	}
	if _, ok := visiting[rid]; ok {
		return false
	}
	visiting[rid] = struct{}{}
	rec, ok := b.decls.Record(rid)
	if !ok {
		return false
	}
	for _, base := range rec.Bases {
		if !base.Virtual && b.requiresVtorDisp(overridden, base.Record, visiting) {
			return true
		}
	}
	return false
}
