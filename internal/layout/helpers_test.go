package layout_test

import (
	"errors"
	"slices"
	"testing"

	"reclayout/internal/decl"
	"reclayout/internal/diag"
	"reclayout/internal/layout"
)

type fixture struct {
	t *testing.T
	a *decl.Arena
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{t: t, a: decl.NewArena()}
}

func (f *fixture) ty(b decl.Builtin) decl.TypeID { return f.a.Builtin(b) }

func (f *fixture) rec(id decl.RecordID) decl.TypeID { return f.a.RecordType(id) }

func (f *fixture) define(name string, rec decl.Record) decl.RecordID {
	f.t.Helper()
	id := f.a.NewRecord(name, rec.Tag)
	f.a.Define(id, rec)
	return id
}

func (f *fixture) structOf(name string, fields ...decl.Field) decl.RecordID {
	f.t.Helper()
	return f.define(name, decl.Record{Tag: decl.TagStruct, Fields: fields})
}

func field(name string, ty decl.TypeID) decl.Field {
	return decl.Field{Name: name, Type: ty}
}

func bitfield(name string, ty decl.TypeID, width uint32) decl.Field {
	return decl.Field{Name: name, Type: ty, Bitfield: true, Width: width}
}

func base(id decl.RecordID) decl.Base { return decl.Base{Record: id} }

func vbase(id decl.RecordID) decl.Base { return decl.Base{Record: id, Virtual: true} }

func virtualMethod(name string) decl.Method { return decl.Method{Name: name, Virtual: true} }

func (f *fixture) engine(target layout.Target, opts ...layout.Option) *layout.Engine {
	return layout.New(target, f.a, opts...)
}

func mustLayout(t *testing.T, e *layout.Engine, id decl.RecordID) *layout.RecordLayout {
	t.Helper()
	l, err := e.LayoutOf(id)
	if err != nil {
		t.Fatalf("LayoutOf(%s): unexpected error: %v", e.Decls.RecordName(id), err)
	}
	if l == nil {
		t.Fatalf("LayoutOf(%s): nil layout", e.Decls.RecordName(id))
	}
	return l
}

type want struct {
	size, align int64
	offsets     []int64 // bits
}

func checkLayout(t *testing.T, name string, l *layout.RecordLayout, w want) {
	t.Helper()
	if l.Size != w.size || l.Alignment != w.align {
		t.Fatalf("%s: expected size=%d align=%d, got size=%d align=%d", name, w.size, w.align, l.Size, l.Alignment)
	}
	if w.offsets != nil && !slices.Equal(l.FieldOffsets, w.offsets) {
		t.Fatalf("%s: expected field offsets %v, got %v", name, w.offsets, l.FieldOffsets)
	}
}

func layoutErrKind(t *testing.T, err error) layout.LayoutErrorKind {
	t.Helper()
	if err == nil {
		t.Fatal("expected layout error, got nil")
	}
	var lerr *layout.LayoutError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *layout.LayoutError, got %T (%v)", err, err)
	}
	return lerr.Kind
}

func bagHasCode(bag *diag.Bag, code diag.Code) bool {
	for _, d := range bag.Items() {
		if d.Code == code {
			return true
		}
	}
	return false
}
