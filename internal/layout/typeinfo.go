package layout

import (
	"math"

	"fortio.org/safecast"

	"reclayout/internal/decl"
)

// TypeInfo is the size and alignment of a type in bytes.
type TypeInfo struct {
	Size  int64
	Align int64
	// AlignRequired is set when the alignment comes from an aligned
	// attribute on a record, which the Microsoft ABI keeps under #pragma pack.
	AlignRequired bool
}

// TypeInfoOf returns the size and alignment of any declared type.
func (e *Engine) TypeInfoOf(id decl.TypeID) (TypeInfo, error) {
	info, err := e.typeInfo(decl.NoRecordID, id, newLayoutState(), nil)
	if err != nil {
		return TypeInfo{}, err
	}
	return info, nil
}

func (e *Engine) typeInfo(owner decl.RecordID, id decl.TypeID, state *layoutState, deps *[]decl.RecordID) (TypeInfo, *LayoutError) {
	t, ok := e.Decls.Lookup(id)
	if !ok {
		return TypeInfo{}, e.invalid(owner, "unknown type#%d", id)
	}
	switch t.Kind {
	case decl.KindBuiltin, decl.KindEnum:
		s, ok := e.Target.Scalar(t.Builtin)
		if !ok {
			return TypeInfo{}, e.invalid(owner, "type '%s' is not available on %s", e.Decls.TypeString(id), e.Target.Triple)
		}
		return TypeInfo{Size: s.Size, Align: s.Align}, nil

	case decl.KindPointer, decl.KindReference:
		return TypeInfo{Size: e.Target.PtrSize, Align: e.Target.PtrAlign}, nil

	case decl.KindArray:
		elem, err := e.typeInfo(owner, t.Elem, state, deps)
		if err != nil {
			return TypeInfo{}, err
		}
		n, convErr := safecast.Conv[int64](t.Count)
		if convErr != nil || (elem.Size > 0 && n > math.MaxInt64/CharWidth/elem.Size) {
			return TypeInfo{}, e.invalid(owner, "array type '%s' is too large", e.Decls.TypeString(id))
		}
		elem.Size *= n
		return elem, nil

	case decl.KindIncompleteArray:
		elem, err := e.typeInfo(owner, t.Elem, state, deps)
		if err != nil {
			return TypeInfo{}, err
		}
		elem.Size = 0
		return elem, nil

	case decl.KindRecord:
		l, err := e.layoutOf(t.Record, state)
		if deps != nil {
			*deps = append(*deps, t.Record)
		}
		if err != nil {
			return TypeInfo{}, err
		}
		rec := e.Decls.MustRecord(t.Record)
		return TypeInfo{Size: l.Size, Align: l.Alignment, AlignRequired: rec.Attrs.Align != 0}, nil

	default:
		return TypeInfo{}, e.invalid(owner, "type '%s' has no layout", e.Decls.TypeString(id))
	}
}
