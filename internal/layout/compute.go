package layout

import (
	"fmt"

	"reclayout/internal/decl"
	"reclayout/internal/diag"
)

// fieldInfo is a field together with the facts of its type the builders need.
type fieldInfo struct {
	decl *decl.Field
	info TypeInfo
	// class is the record of a by-value record field.
	class decl.RecordID
	// baseClass is the record base element type of any array or record field.
	baseClass decl.RecordID
	// elemClass and elemCount describe a constant array of records.
	elemClass decl.RecordID
	elemCount uint64
	// builtin is the base element type when it is a builtin scalar.
	builtin decl.Builtin
}

// buildEnv is handed to a strategy once every dependency is laid out.
type buildEnv struct {
	e      *Engine
	id     decl.RecordID
	rec    *decl.Record
	fields []fieldInfo
	state  *layoutState
}

func (b *buildEnv) target() *Target    { return &b.e.Target }
func (b *buildEnv) decls() *decl.Arena { return b.e.Decls }
func (b *buildEnv) cxx() bool          { return b.e.opts.lang != LanguageC }
func (b *buildEnv) name() string       { return b.e.Decls.RecordName(b.id) }
func (b *buildEnv) fieldName(i int) string {
	if n := b.rec.Fields[i].Name; n != "" {
		return n
	}
	return fmt.Sprintf("#%d", i)
}

// layout returns the already computed layout of a dependency.
func (b *buildEnv) layout(id decl.RecordID) *RecordLayout {
	if entry, ok := b.e.cache.get(id); ok && entry.Layout != nil {
		return entry.Layout
	}
	l, err := b.e.layoutOf(id, b.state)
	if err != nil || l == nil {
		return &RecordLayout{Alignment: 1, RequiredAlignment: 1, VBPtrOffset: -1}
	}
	return l
}

func (b *buildEnv) warn(code diag.Code, field string, msg string) {
	b.e.opts.reporter.Report(code, diag.SevWarning, diag.Subject{Record: b.name(), Field: field}, msg, nil)
}

func (e *Engine) compute(id decl.RecordID, state *layoutState) (*RecordLayout, []decl.RecordID, *LayoutError) {
	rec, ok := e.Decls.Record(id)
	if !ok {
		return nil, nil, e.invalid(id, "unknown record")
	}
	if !rec.Complete {
		return nil, nil, &LayoutError{Kind: LayoutErrIncomplete, Record: id, Name: e.Decls.RecordName(id)}
	}
	if err := e.validateRecord(id, rec); err != nil {
		return nil, nil, err
	}

	deps := make([]decl.RecordID, 0, len(rec.Bases)+len(rec.Fields))
	for _, b := range rec.Bases {
		deps = append(deps, b.Record)
		if _, err := e.layoutOf(b.Record, state); err != nil {
			return nil, deps, err
		}
	}
	fields := make([]fieldInfo, len(rec.Fields))
	for i := range rec.Fields {
		fi, err := e.resolveField(id, rec, i, state, &deps)
		if err != nil {
			return nil, deps, err
		}
		fields[i] = fi
	}

	env := &buildEnv{e: e, id: id, rec: rec, fields: fields, state: state}
	return e.strategy.layout(env), deps, nil
}

func (e *Engine) validateRecord(id decl.RecordID, rec *decl.Record) *LayoutError {
	if !isPowerOf2OrZero(rec.Attrs.Align) {
		return e.invalid(id, "requested alignment %d is not a power of 2", rec.Attrs.Align)
	}
	if !isPowerOf2OrZero(rec.Attrs.MaxFieldAlign) {
		return e.invalid(id, "#pragma pack value %d is not a power of 2", rec.Attrs.MaxFieldAlign)
	}
	if e.opts.lang == LanguageC {
		if len(rec.Bases) > 0 {
			return e.invalid(id, "base classes are not allowed in C")
		}
		if len(rec.Methods) > 0 {
			return e.invalid(id, "member functions are not allowed in C")
		}
	}
	if rec.IsUnion() {
		if len(rec.Bases) > 0 {
			return e.invalid(id, "unions cannot have base classes")
		}
		if e.Decls.HasVirtualMethods(id) {
			return e.invalid(id, "unions cannot have virtual functions")
		}
	}
	seen := make(map[decl.RecordID]struct{}, len(rec.Bases))
	for _, b := range rec.Bases {
		base, ok := e.Decls.Record(b.Record)
		if !ok {
			return e.invalid(id, "unknown base record#%d", b.Record)
		}
		if base.IsUnion() {
			return e.invalid(id, "union '%s' cannot be a base class", e.Decls.RecordName(b.Record))
		}
		if _, dup := seen[b.Record]; dup {
			return e.invalid(id, "base class '%s' specified more than once", e.Decls.RecordName(b.Record))
		}
		seen[b.Record] = struct{}{}
	}
	for i := range rec.Methods {
		for _, ov := range rec.Methods[i].Overrides {
			target, ok := e.Decls.Record(ov.Record)
			if !ok || ov.Index < 0 || ov.Index >= len(target.Methods) {
				return e.invalid(id, "method '%s' overrides an unknown method", rec.Methods[i].Name)
			}
		}
	}
	return nil
}

func (e *Engine) resolveField(id decl.RecordID, rec *decl.Record, i int, state *layoutState, deps *[]decl.RecordID) (fieldInfo, *LayoutError) {
	f := &rec.Fields[i]
	name := f.Name
	if name == "" {
		name = fmt.Sprintf("#%d", i)
	}
	if !isPowerOf2OrZero(f.Align) {
		return fieldInfo{}, e.invalid(id, "requested alignment of '%s' is not a power of 2", name)
	}
	t, ok := e.Decls.Lookup(f.Type)
	if !ok {
		return fieldInfo{}, e.invalid(id, "field '%s' has no type", name)
	}
	switch {
	case t.Kind == decl.KindIncompleteArray && i != len(rec.Fields)-1:
		return fieldInfo{}, e.invalid(id, "flexible array member '%s' is not the last field", name)
	case t.Kind == decl.KindReference && e.opts.lang == LanguageC:
		return fieldInfo{}, e.invalid(id, "reference member '%s' is not allowed in C", name)
	}
	if f.Bitfield {
		if (t.Kind != decl.KindBuiltin || !t.Builtin.IsIntegral()) && t.Kind != decl.KindEnum {
			return fieldInfo{}, e.invalid(id, "bit-field '%s' has non-integral type '%s'", name, e.Decls.TypeString(f.Type))
		}
		if f.Width == 0 && f.HasIdentifier() {
			return fieldInfo{}, e.invalid(id, "named bit-field '%s' has zero width", name)
		}
	}

	info, err := e.typeInfo(id, f.Type, state, deps)
	if err != nil {
		return fieldInfo{}, err
	}
	if f.Bitfield && int64(f.Width) > info.Size*CharWidth && e.opts.lang == LanguageC {
		return fieldInfo{}, e.invalid(id, "width of bit-field '%s' (%d bits) exceeds the width of its type (%d bits)",
			name, f.Width, info.Size*CharWidth)
	}

	fi := fieldInfo{decl: f, info: info}
	if t.Kind == decl.KindRecord {
		fi.class = t.Record
	}
	elem, count := e.Decls.BaseElement(f.Type)
	if et, ok := e.Decls.Lookup(elem); ok {
		switch et.Kind {
		case decl.KindBuiltin:
			fi.builtin = et.Builtin
		case decl.KindRecord:
			fi.baseClass = et.Record
			if t.Kind == decl.KindArray {
				fi.elemClass, fi.elemCount = et.Record, count
			}
		}
	}
	return fi, nil
}
